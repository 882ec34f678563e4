// Package gcsstore wraps the GCS bucket that owns all of the pipeline's
// remote state: the SQLite database file (checked out before a run and
// checked back in after), the credentials/token secret objects, and staged
// raw-extraction snapshots.
package gcsstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// ErrObjectNotExist reports that the requested object is absent from the
// bucket. The first ever run hits this on checkout and starts fresh.
var ErrObjectNotExist = errors.New("gcsstore: object does not exist")

// Client provides file checkout/checkin and small-object read/write against
// a single bucket. It assumes Application Default Credentials unless options
// say otherwise (tests pass an emulator endpoint).
type Client struct {
	client *storage.Client
	bucket string
}

// New creates a Client for the given bucket.
func New(ctx context.Context, bucket string, opts ...option.ClientOption) (*Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gcsstore: create storage client: %w", err)
	}
	return &Client{client: client, bucket: bucket}, nil
}

// Close releases the underlying storage client.
func (c *Client) Close() error {
	return c.client.Close()
}

// DownloadFile copies the object to localPath. Returns ErrObjectNotExist
// when the object has never been uploaded.
func (c *Client) DownloadFile(ctx context.Context, objectName, localPath string) error {
	rc, err := c.client.Bucket(c.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return ErrObjectNotExist
		}
		return fmt.Errorf("gcsstore: reading object %s/%s: %w", c.bucket, objectName, err)
	}
	defer rc.Close()

	f, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("gcsstore: create file %q: %w", localPath, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, rc); err != nil {
		return fmt.Errorf("gcsstore: copy object to %q: %w", localPath, err)
	}
	return nil
}

// UploadFile uploads a local file to the bucket under the given object name.
func (c *Client) UploadFile(ctx context.Context, objectName, localPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("gcsstore: open file %q: %w", localPath, err)
	}
	defer f.Close()

	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := c.client.Bucket(c.bucket).Object(objectName).NewWriter(ctx)
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcsstore: copy file to writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcsstore: finalize upload: %w", err)
	}
	return nil
}

// ReadObject returns the full contents of a small object (secret blobs).
func (c *Client) ReadObject(ctx context.Context, objectName string) ([]byte, error) {
	rc, err := c.client.Bucket(c.bucket).Object(objectName).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, ErrObjectNotExist
		}
		return nil, fmt.Errorf("gcsstore: reading object %s/%s: %w", c.bucket, objectName, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("gcsstore: reading bytes: %w", err)
	}
	return data, nil
}

// WriteObject overwrites a small object with the given contents.
func (c *Client) WriteObject(ctx context.Context, objectName string, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	w := c.client.Bucket(c.bucket).Object(objectName).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcsstore: write object %s: %w", objectName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcsstore: finalize object %s: %w", objectName, err)
	}
	return nil
}

// PruneStaging deletes staged snapshot objects under prefix, keeping the
// most recent keep objects by creation time. Deletion failures are returned
// but a short listing is not an error.
func (c *Client) PruneStaging(ctx context.Context, prefix string, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}

	bkt := c.client.Bucket(c.bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: prefix})

	var objs []*storage.ObjectAttrs
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("gcsstore: listing %q: %w", prefix, err)
		}
		objs = append(objs, attrs)
	}

	if len(objs) <= keep {
		return 0, nil
	}

	// Newest first; everything past the keep window is deleted.
	sort.Slice(objs, func(i, j int) bool {
		return objs[i].Created.After(objs[j].Created)
	})

	deleted := 0
	for _, attrs := range objs[keep:] {
		if err := bkt.Object(attrs.Name).Delete(ctx); err != nil {
			return deleted, fmt.Errorf("gcsstore: delete %s: %w", attrs.Name, err)
		}
		deleted++
	}
	return deleted, nil
}
