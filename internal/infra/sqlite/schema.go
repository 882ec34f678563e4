// Package sqlite owns the relational store: bronze schema, the run loader,
// the bronze-to-silver transform, gold analytics views and the etl_runs
// audit table. One process owns the database file for the duration of a run;
// there is no support for concurrent writers.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed sql/create_bronze_layer.sql
var createBronzeScript string

//go:embed sql/transform_bronze_to_silver.sql
var transformScript string

// Open opens the SQLite file with WAL enabled and foreign keys on.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// One connection: the loader's transaction and the script runner must
	// share it, and nothing else may write mid-run.
	db.SetMaxOpenConns(1)
	return db, nil
}

// InitSchema creates the bronze tables and the etl_runs audit table if they
// don't exist. Safe to run on every checkout.
func InitSchema(ctx context.Context, db *sql.DB) error {
	if err := execScript(ctx, db, createBronzeScript); err != nil {
		return fmt.Errorf("sqlite: init bronze schema: %w", err)
	}
	return nil
}

// execScript runs a multi-statement SQL script in its own transaction.
func execScript(ctx context.Context, db *sql.DB, script string) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
