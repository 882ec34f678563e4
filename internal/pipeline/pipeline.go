// Package pipeline orchestrates one end-to-end ETL run: check the SQLite
// database out of the bucket, extract a snapshot from the Monzo API, load it
// into bronze, rebuild silver and the analytics views, record the run in the
// audit table and check the database back in.
package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dvloznov/monzo-etl/internal/config"
)

// Runner wires a full ETL run from configuration and its two external
// dependencies, the bucket and the bank API.
type Runner struct {
	cfg   *config.Config
	store BlobStore
	bank  BankClient
	log   zerolog.Logger
}

// NewRunner creates a Runner.
func NewRunner(cfg *config.Config, store BlobStore, bank BankClient, log zerolog.Logger) *Runner {
	return &Runner{cfg: cfg, store: store, bank: bank, log: log}
}

// Run executes one ETL run. When a step fails after the audit row was opened,
// the row is finalized as FAILED and the database is still checked in, so the
// failure survives in the remote copy.
func (r *Runner) Run(ctx context.Context) error {
	state := &State{}
	defer func() {
		if state.DB != nil {
			state.DB.Close()
		}
	}()

	checkin := &CheckinDatabaseStep{
		Store:     r.store,
		ObjectKey: r.cfg.DBObjectKey,
		LocalPath: r.cfg.DBLocalPath,
		Log:       r.log,
	}

	setup := NewPipeline(
		&CheckoutDatabaseStep{Store: r.store, ObjectKey: r.cfg.DBObjectKey, LocalPath: r.cfg.DBLocalPath, Log: r.log},
		&OpenDatabaseStep{LocalPath: r.cfg.DBLocalPath},
		&StartRunStep{Log: r.log},
	)
	if err := setup.Execute(ctx, state); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	work := NewPipeline(
		&ExtractStep{Extractor: NewExtractor(r.bank, r.log), DaysBack: r.cfg.DaysBack},
		&StageRawStep{Store: r.store, Prefix: r.cfg.StagingPrefix, Enabled: r.cfg.StageRaw, Log: r.log},
		&LoadStep{Log: r.log},
		&TransformStep{Log: r.log},
		&ViewsStep{Log: r.log},
		&FinishRunStep{},
	)
	if err := work.Execute(ctx, state); err != nil {
		state.Recorder.FailRun(ctx, state.RunID, err)
		if cerr := checkin.Execute(ctx, state); cerr != nil {
			r.log.Error().Err(cerr).Msg("failed to check in database after run failure")
		}
		return fmt.Errorf("pipeline: %w", err)
	}

	finish := NewPipeline(
		checkin,
		&PruneStagingStep{Store: r.store, Prefix: r.cfg.StagingPrefix, Keep: r.cfg.StagingKeepMax, Enabled: r.cfg.StageRaw, Log: r.log},
	)
	if err := finish.Execute(ctx, state); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}

	r.log.Info().
		Str("run_id", state.RunID).
		Int("transactions_inserted", state.Stats.TransactionsInserted).
		Int("transactions_skipped", state.Stats.TransactionsSkipped).
		Msg("run complete")
	return nil
}
