package secrets

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dvloznov/monzo-etl/internal/gcsstore"
)

// GCSStore persists the credentials blob and token record as JSON objects in
// the pipeline's bucket. One logical record each; writes overwrite.
type GCSStore struct {
	blobs          *gcsstore.Client
	credentialsKey string
	tokenKey       string
}

// NewGCSStore creates a GCSStore over an existing bucket client.
func NewGCSStore(blobs *gcsstore.Client, credentialsKey, tokenKey string) *GCSStore {
	return &GCSStore{
		blobs:          blobs,
		credentialsKey: credentialsKey,
		tokenKey:       tokenKey,
	}
}

func (s *GCSStore) Credentials(ctx context.Context) (*Credentials, error) {
	data, err := s.blobs.ReadObject(ctx, s.credentialsKey)
	if err != nil {
		if errors.Is(err, gcsstore.ErrObjectNotExist) {
			return nil, ErrCredentialsNotFound
		}
		return nil, fmt.Errorf("secrets: read credentials: %w", err)
	}

	var creds Credentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("secrets: decode credentials: %w", err)
	}
	return &creds, nil
}

func (s *GCSStore) SaveCredentials(ctx context.Context, creds *Credentials) error {
	data, err := json.Marshal(creds)
	if err != nil {
		return fmt.Errorf("secrets: encode credentials: %w", err)
	}
	if err := s.blobs.WriteObject(ctx, s.credentialsKey, data); err != nil {
		return fmt.Errorf("secrets: write credentials: %w", err)
	}
	return nil
}

func (s *GCSStore) Token(ctx context.Context) (*TokenRecord, error) {
	data, err := s.blobs.ReadObject(ctx, s.tokenKey)
	if err != nil {
		if errors.Is(err, gcsstore.ErrObjectNotExist) {
			return nil, ErrTokenNotFound
		}
		return nil, fmt.Errorf("secrets: read token record: %w", err)
	}

	var rec TokenRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("secrets: decode token record: %w", err)
	}
	return &rec, nil
}

func (s *GCSStore) SaveToken(ctx context.Context, rec *TokenRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("secrets: encode token record: %w", err)
	}
	if err := s.blobs.WriteObject(ctx, s.tokenKey, data); err != nil {
		return fmt.Errorf("secrets: write token record: %w", err)
	}
	return nil
}
