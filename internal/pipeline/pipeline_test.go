package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dvloznov/monzo-etl/internal/config"
	"github.com/dvloznov/monzo-etl/internal/domain"
	"github.com/dvloznov/monzo-etl/internal/gcsstore"
	"github.com/dvloznov/monzo-etl/internal/infra/sqlite"
	"github.com/dvloznov/monzo-etl/internal/logger"
	"github.com/dvloznov/monzo-etl/internal/monzo"
)

type mockBlobStore struct {
	downloadFile func(ctx context.Context, objectName, localPath string) error
	uploadFile   func(ctx context.Context, objectName, localPath string) error
	writeObject  func(ctx context.Context, objectName string, data []byte) error
	pruneStaging func(ctx context.Context, prefix string, keep int) (int, error)

	uploaded []string
	staged   []string
	pruned   bool
}

func (m *mockBlobStore) DownloadFile(ctx context.Context, objectName, localPath string) error {
	if m.downloadFile != nil {
		return m.downloadFile(ctx, objectName, localPath)
	}
	return gcsstore.ErrObjectNotExist
}

func (m *mockBlobStore) UploadFile(ctx context.Context, objectName, localPath string) error {
	if m.uploadFile != nil {
		return m.uploadFile(ctx, objectName, localPath)
	}
	m.uploaded = append(m.uploaded, objectName)
	return nil
}

func (m *mockBlobStore) WriteObject(ctx context.Context, objectName string, data []byte) error {
	if m.writeObject != nil {
		return m.writeObject(ctx, objectName, data)
	}
	m.staged = append(m.staged, objectName)
	return nil
}

func (m *mockBlobStore) PruneStaging(ctx context.Context, prefix string, keep int) (int, error) {
	if m.pruneStaging != nil {
		return m.pruneStaging(ctx, prefix, keep)
	}
	m.pruned = true
	return 0, nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Bucket:         "test-bucket",
		DBObjectKey:    "monzo_dashboard.db",
		DBLocalPath:    filepath.Join(t.TempDir(), "monzo_dashboard.db"),
		StagingPrefix:  "staging/",
		StageRaw:       true,
		StagingKeepMax: 10,
		DaysBack:       30,
	}
}

type failStep struct{ err error }

func (s *failStep) Name() string { return "boom step" }

func (s *failStep) Execute(ctx context.Context, state *State) error { return s.err }

func TestPipeline_WrapsErrorWithStepName(t *testing.T) {
	boom := errors.New("boom")
	p := NewPipeline(&failStep{err: boom})

	err := p.Execute(context.Background(), &State{})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if !strings.Contains(err.Error(), "boom step") {
		t.Errorf("err = %q, want step name in message", err)
	}
}

func TestRunner_SuccessfulRun(t *testing.T) {
	cfg := testConfig(t)
	store := &mockBlobStore{}

	if err := NewRunner(cfg, store, healthyBank(), logger.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(store.uploaded) != 1 || store.uploaded[0] != cfg.DBObjectKey {
		t.Errorf("uploaded = %v, want the database object", store.uploaded)
	}
	if len(store.staged) != 1 || !strings.HasPrefix(store.staged[0], "staging/monzo_raw_") {
		t.Errorf("staged = %v, want one staging/monzo_raw_* object", store.staged)
	}
	if !store.pruned {
		t.Error("expected staging to be pruned after a successful run")
	}

	// The checked-in database must carry the loaded data and a SUCCESS run.
	db := reopen(t, cfg.DBLocalPath)
	assertCount(t, db, "bronze_transactions", 1)
	assertCount(t, db, "bronze_balance", 1)
	assertRunStatus(t, db, sqlite.RunStatusSuccess)
}

func TestRunner_StagedSnapshotIsValidJSON(t *testing.T) {
	cfg := testConfig(t)
	var payload []byte
	store := &mockBlobStore{
		writeObject: func(ctx context.Context, objectName string, data []byte) error {
			payload = data
			return nil
		},
	}

	if err := NewRunner(cfg, store, healthyBank(), logger.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	var snapshot domain.Extraction
	if err := json.Unmarshal(payload, &snapshot); err != nil {
		t.Fatalf("staged snapshot is not valid JSON: %v", err)
	}
	if len(snapshot.Transactions) != 1 || snapshot.Balance == nil {
		t.Errorf("snapshot = %+v, want the extracted data", snapshot)
	}
}

func TestRunner_StagingDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.StageRaw = false
	store := &mockBlobStore{}

	if err := NewRunner(cfg, store, healthyBank(), logger.Nop()).Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(store.staged) != 0 {
		t.Errorf("staged = %v, want none with staging disabled", store.staged)
	}
	if store.pruned {
		t.Error("pruning must be skipped with staging disabled")
	}
}

func TestRunner_ExtractionFailureMarksRunFailed(t *testing.T) {
	cfg := testConfig(t)
	store := &mockBlobStore{}

	bank := healthyBank()
	apiErr := errors.New("api down")
	bank.getTransactions = func(ctx context.Context, opts monzo.TransactionOpts) ([]domain.Transaction, error) {
		return nil, apiErr
	}

	err := NewRunner(cfg, store, bank, logger.Nop()).Run(context.Background())
	if !errors.Is(err, apiErr) {
		t.Fatalf("err = %v, want wrapped api error", err)
	}

	// The FAILED audit row is still checked in.
	if len(store.uploaded) != 1 {
		t.Fatalf("uploaded = %v, want the database checked in after failure", store.uploaded)
	}
	db := reopen(t, cfg.DBLocalPath)
	assertCount(t, db, "bronze_transactions", 0)
	assertRunStatus(t, db, sqlite.RunStatusFailed)
}

func TestRunner_CheckoutFailureAbortsBeforeRun(t *testing.T) {
	cfg := testConfig(t)
	bucketErr := errors.New("bucket unreachable")
	store := &mockBlobStore{
		downloadFile: func(ctx context.Context, objectName, localPath string) error {
			return bucketErr
		},
	}

	err := NewRunner(cfg, store, healthyBank(), logger.Nop()).Run(context.Background())
	if !errors.Is(err, bucketErr) {
		t.Fatalf("err = %v, want wrapped bucket error", err)
	}
	if len(store.uploaded) != 0 {
		t.Errorf("uploaded = %v, want nothing after a failed checkout", store.uploaded)
	}
}

func reopen(t *testing.T, path string) *sql.DB {
	t.Helper()
	db, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("reopen database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func assertCount(t *testing.T, db *sql.DB, table string, want int) {
	t.Helper()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("count %s: %v", table, err)
	}
	if n != want {
		t.Errorf("%s rows = %d, want %d", table, n, want)
	}
}

func assertRunStatus(t *testing.T, db *sql.DB, want string) {
	t.Helper()
	var status string
	err := db.QueryRow("SELECT status FROM etl_runs ORDER BY started_ts DESC LIMIT 1").Scan(&status)
	if err != nil {
		t.Fatalf("query etl_runs: %v", err)
	}
	if status != want {
		t.Errorf("run status = %q, want %q", status, want)
	}
}
