package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/monzo-etl/internal/domain"
	"github.com/dvloznov/monzo-etl/internal/gcsstore"
	"github.com/dvloznov/monzo-etl/internal/infra/sqlite"
)

// BlobStore is the slice of the bucket client the pipeline needs: database
// checkout/checkin, staging writes and staging cleanup.
type BlobStore interface {
	DownloadFile(ctx context.Context, objectName, localPath string) error
	UploadFile(ctx context.Context, objectName, localPath string) error
	WriteObject(ctx context.Context, objectName string, data []byte) error
	PruneStaging(ctx context.Context, prefix string, keep int) (int, error)
}

// Step is a single stage of the ETL run.
type Step interface {
	Name() string
	Execute(ctx context.Context, state *State) error
}

// State holds the shared state across all pipeline steps for one run.
type State struct {
	DB         *sql.DB
	Recorder   *sqlite.RunRecorder
	RunID      string
	Extraction *domain.Extraction
	Stats      *sqlite.LoadStats
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []Step
}

// NewPipeline creates a pipeline with the given steps.
func NewPipeline(steps ...Step) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps sequentially, stopping at the first failure.
func (p *Pipeline) Execute(ctx context.Context, state *State) error {
	for _, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("%s: %w", step.Name(), err)
		}
	}
	return nil
}

// CheckoutDatabaseStep downloads the SQLite file from the bucket. A missing
// object means a first-ever run; the schema is created from scratch locally.
type CheckoutDatabaseStep struct {
	Store     BlobStore
	ObjectKey string
	LocalPath string
	Log       zerolog.Logger
}

func (s *CheckoutDatabaseStep) Name() string { return "checkout database" }

func (s *CheckoutDatabaseStep) Execute(ctx context.Context, state *State) error {
	err := s.Store.DownloadFile(ctx, s.ObjectKey, s.LocalPath)
	if errors.Is(err, gcsstore.ErrObjectNotExist) {
		s.Log.Warn().Str("object", s.ObjectKey).Msg("no remote database, starting fresh")
		return nil
	}
	return err
}

// OpenDatabaseStep opens the local SQLite file and applies the bronze schema.
type OpenDatabaseStep struct {
	LocalPath string
}

func (s *OpenDatabaseStep) Name() string { return "open database" }

func (s *OpenDatabaseStep) Execute(ctx context.Context, state *State) error {
	db, err := sqlite.Open(s.LocalPath)
	if err != nil {
		return err
	}
	if err := sqlite.InitSchema(ctx, db); err != nil {
		db.Close()
		return err
	}
	state.DB = db
	return nil
}

// StartRunStep opens the etl_runs audit row for this run.
type StartRunStep struct {
	Log zerolog.Logger
}

func (s *StartRunStep) Name() string { return "start run" }

func (s *StartRunStep) Execute(ctx context.Context, state *State) error {
	state.Recorder = sqlite.NewRunRecorder(state.DB, s.Log)
	runID, err := state.Recorder.StartRun(ctx)
	if err != nil {
		return err
	}
	state.RunID = runID
	s.Log.Info().Str("run_id", runID).Msg("run started")
	return nil
}

// ExtractStep pulls the snapshot from the bank API.
type ExtractStep struct {
	Extractor *Extractor
	DaysBack  int
}

func (s *ExtractStep) Name() string { return "extract" }

func (s *ExtractStep) Execute(ctx context.Context, state *State) error {
	ex, err := s.Extractor.Extract(ctx, s.DaysBack)
	if err != nil {
		return err
	}
	state.Extraction = ex
	return nil
}

// StageRawStep writes the raw extraction snapshot to the staging prefix as
// JSON. Disabled staging is a no-op, not an error.
type StageRawStep struct {
	Store   BlobStore
	Prefix  string
	Enabled bool
	Log     zerolog.Logger
	Now     func() time.Time
}

func (s *StageRawStep) Name() string { return "stage raw snapshot" }

func (s *StageRawStep) Execute(ctx context.Context, state *State) error {
	if !s.Enabled {
		return nil
	}

	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	data, err := json.Marshal(state.Extraction)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	objectName := s.Prefix + "monzo_raw_" + now().UTC().Format("20060102T150405Z") + ".json"
	if err := s.Store.WriteObject(ctx, objectName, data); err != nil {
		return err
	}
	s.Log.Debug().Str("object", objectName).Int("bytes", len(data)).Msg("staged raw snapshot")
	return nil
}

// LoadStep inserts the extraction into the bronze layer.
type LoadStep struct {
	Log zerolog.Logger
}

func (s *LoadStep) Name() string { return "load bronze" }

func (s *LoadStep) Execute(ctx context.Context, state *State) error {
	stats, err := sqlite.NewLoader(s.Log).LoadData(ctx, state.DB, state.Extraction)
	if err != nil {
		return err
	}
	state.Stats = stats
	return nil
}

// TransformStep rebuilds the silver layer from bronze.
type TransformStep struct {
	Log zerolog.Logger
}

func (s *TransformStep) Name() string { return "transform silver" }

func (s *TransformStep) Execute(ctx context.Context, state *State) error {
	return sqlite.TransformBronzeToSilver(ctx, state.DB, s.Log)
}

// ViewsStep recreates the analytics views and verifies they all exist.
type ViewsStep struct {
	Log zerolog.Logger
}

func (s *ViewsStep) Name() string { return "rebuild views" }

func (s *ViewsStep) Execute(ctx context.Context, state *State) error {
	if err := sqlite.CreateAnalyticsViews(ctx, state.DB, s.Log); err != nil {
		return err
	}
	return sqlite.VerifyViews(ctx, state.DB)
}

// FinishRunStep closes the audit row as SUCCESS with the load stats.
type FinishRunStep struct{}

func (s *FinishRunStep) Name() string { return "finish run" }

func (s *FinishRunStep) Execute(ctx context.Context, state *State) error {
	return state.Recorder.FinishRun(ctx, state.RunID, state.Stats)
}

// CheckinDatabaseStep closes the local database and uploads it back to the
// bucket. Closing first forces a WAL checkpoint so the uploaded file is
// complete on its own.
type CheckinDatabaseStep struct {
	Store     BlobStore
	ObjectKey string
	LocalPath string
	Log       zerolog.Logger
}

func (s *CheckinDatabaseStep) Name() string { return "checkin database" }

func (s *CheckinDatabaseStep) Execute(ctx context.Context, state *State) error {
	if state.DB != nil {
		if err := state.DB.Close(); err != nil {
			return fmt.Errorf("close database: %w", err)
		}
		state.DB = nil
	}
	if err := s.Store.UploadFile(ctx, s.ObjectKey, s.LocalPath); err != nil {
		return err
	}
	s.Log.Info().Str("object", s.ObjectKey).Msg("database checked in")
	return nil
}

// PruneStagingStep trims old staged snapshots down to the keep window.
type PruneStagingStep struct {
	Store   BlobStore
	Prefix  string
	Keep    int
	Enabled bool
	Log     zerolog.Logger
}

func (s *PruneStagingStep) Name() string { return "prune staging" }

func (s *PruneStagingStep) Execute(ctx context.Context, state *State) error {
	if !s.Enabled {
		return nil
	}
	deleted, err := s.Store.PruneStaging(ctx, s.Prefix, s.Keep)
	if err != nil {
		return err
	}
	if deleted > 0 {
		s.Log.Info().Int("deleted", deleted).Msg("pruned staged snapshots")
	}
	return nil
}
