package migration

import (
	"context"

	"github.com/jmoiron/sqlx"

	"selinf/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner creates the result tables of replicate runs
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Statements lists the schema statements in execution order. Every statement
// is idempotent.
func (r *MigrationRunner) Statements() []string {
	return []string{
		createRunsTable,
		createPValuesTable,
		createIndexes,
	}
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	names := []string{"selinf_runs table", "selinf_pvalues table", "indexes"}
	for i, stmt := range r.Statements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(err, "failed to create %s", names[i])
		}
	}
	return nil
}

const createRunsTable = `
	CREATE TABLE IF NOT EXISTS selinf_runs (
		run_id UUID PRIMARY KEY,
		fingerprint VARCHAR(64) NOT NULL,
		started_at TIMESTAMP WITH TIME ZONE NOT NULL,
		replicates INTEGER NOT NULL,
		skipped INTEGER NOT NULL DEFAULT 0,
		null_count INTEGER NOT NULL,
		alternative_count INTEGER NOT NULL,
		null_mean DOUBLE PRECISION NOT NULL,
		null_std_dev DOUBLE PRECISION NOT NULL,
		ks_statistic DOUBLE PRECISION,
		ks_p_value DOUBLE PRECISION,
		created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	)
`

const createPValuesTable = `
	CREATE TABLE IF NOT EXISTS selinf_pvalues (
		id BIGSERIAL PRIMARY KEY,
		run_id UUID NOT NULL REFERENCES selinf_runs(run_id) ON DELETE CASCADE,
		replicate_index INTEGER NOT NULL,
		seed NUMERIC(20, 0) NOT NULL,
		target VARCHAR(255) NOT NULL,
		is_null BOOLEAN NOT NULL,
		status VARCHAR(20) NOT NULL,
		reason VARCHAR(50) NOT NULL DEFAULT '',
		tail VARCHAR(20) NOT NULL,
		p_value DOUBLE PRECISION,
		observed DOUBLE PRECISION,
		retained INTEGER,
		sample_mean DOUBLE PRECISION,
		sample_std_dev DOUBLE PRECISION
	)
`

const createIndexes = `
	CREATE INDEX IF NOT EXISTS idx_selinf_pvalues_run ON selinf_pvalues(run_id, replicate_index);
	CREATE INDEX IF NOT EXISTS idx_selinf_runs_fingerprint ON selinf_runs(fingerprint);
`
