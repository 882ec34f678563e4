package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Run statuses in etl_runs.
const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

const maxErrorMessageLen = 2000

// RunRecorder writes the etl_runs audit trail. Audit rows live outside the
// load transaction: a FAILED row must survive the rollback that undid the
// run's data.
type RunRecorder struct {
	db  *sql.DB
	log zerolog.Logger
	now func() time.Time
}

// NewRunRecorder creates a RunRecorder over an open database.
func NewRunRecorder(db *sql.DB, log zerolog.Logger) *RunRecorder {
	return &RunRecorder{db: db, log: log, now: time.Now}
}

// StartRun inserts a RUNNING row and returns its run id.
func (r *RunRecorder) StartRun(ctx context.Context) (string, error) {
	runID := uuid.NewString()

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO etl_runs (run_id, started_ts, status)
		VALUES (?, ?, ?)`,
		runID, r.now().UTC(), RunStatusRunning,
	)
	if err != nil {
		return "", fmt.Errorf("sqlite: start run: %w", err)
	}
	return runID, nil
}

// FinishRun finalizes a run as SUCCESS with its load stats.
func (r *RunRecorder) FinishRun(ctx context.Context, runID string, stats *LoadStats) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE etl_runs
		SET status = ?,
		    finished_ts = ?,
		    transactions_inserted = ?,
		    transactions_skipped = ?,
		    pots_inserted = ?
		WHERE run_id = ?`,
		RunStatusSuccess, r.now().UTC(),
		stats.TransactionsInserted, stats.TransactionsSkipped, stats.PotsInserted,
		runID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: finish run %s: %w", runID, err)
	}
	return nil
}

// FailRun finalizes a run as FAILED. Best-effort: a failure to record the
// failure is logged, not returned, so it never masks the run error.
func (r *RunRecorder) FailRun(ctx context.Context, runID string, runErr error) {
	errMsg := ""
	if runErr != nil {
		errMsg = runErr.Error()
		if len(errMsg) > maxErrorMessageLen {
			errMsg = errMsg[:maxErrorMessageLen]
		}
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE etl_runs
		SET status = ?,
		    finished_ts = ?,
		    error_message = ?
		WHERE run_id = ?`,
		RunStatusFailed, r.now().UTC(), errMsg, runID,
	)
	if err != nil {
		r.log.Error().Err(err).Str("run_id", runID).Msg("failed to record run failure")
	}
}
