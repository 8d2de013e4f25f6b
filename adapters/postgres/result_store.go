package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"selinf/domain/core"
	"selinf/domain/selection"
	"selinf/internal"
	"selinf/internal/errors"
	"selinf/internal/migration"
)

// RunRecord is one row of selinf_runs
type RunRecord struct {
	RunID            string          `db:"run_id" json:"run_id"`
	Fingerprint      string          `db:"fingerprint" json:"fingerprint"`
	StartedAt        time.Time       `db:"started_at" json:"started_at"`
	Replicates       int             `db:"replicates" json:"replicates"`
	Skipped          int             `db:"skipped" json:"skipped"`
	NullCount        int             `db:"null_count" json:"null_count"`
	AlternativeCount int             `db:"alternative_count" json:"alternative_count"`
	NullMean         float64         `db:"null_mean" json:"null_mean"`
	NullStdDev       float64         `db:"null_std_dev" json:"null_std_dev"`
	KSStatistic      sql.NullFloat64 `db:"ks_statistic" json:"-"`
	KSPValue         sql.NullFloat64 `db:"ks_p_value" json:"-"`
}

// PValueRecord is one row of selinf_pvalues. Numeric columns are NULL for
// skipped targets.
type PValueRecord struct {
	RunID          string          `db:"run_id"`
	ReplicateIndex int             `db:"replicate_index"`
	Seed           string          `db:"seed"`
	Target         string          `db:"target"`
	IsNull         bool            `db:"is_null"`
	Status         string          `db:"status"`
	Reason         string          `db:"reason"`
	Tail           string          `db:"tail"`
	PValue         sql.NullFloat64 `db:"p_value"`
	Observed       sql.NullFloat64 `db:"observed"`
	Retained       sql.NullInt64   `db:"retained"`
	SampleMean     sql.NullFloat64 `db:"sample_mean"`
	SampleStdDev   sql.NullFloat64 `db:"sample_std_dev"`
}

// ResultStore persists replicate summaries in PostgreSQL
type ResultStore struct {
	db     *sqlx.DB
	logger *internal.Logger
}

// NewResultStore wraps an open connection
func NewResultStore(db *sqlx.DB, logger *internal.Logger) *ResultStore {
	if logger == nil {
		logger = internal.NewDefaultLogger()
	}
	return &ResultStore{db: db, logger: logger.With("postgres")}
}

// Open connects, pings and migrates the result tables
func Open(ctx context.Context, url string, logger *internal.Logger) (*ResultStore, error) {
	if url == "" {
		return nil, errors.ConfigInvalid("database url is required")
	}
	db, err := sqlx.ConnectContext(ctx, "postgres", url)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "database migration failed")
	}
	return NewResultStore(db, logger), nil
}

// Close releases the connection pool
func (s *ResultStore) Close() error { return s.db.Close() }

// WriteSummary stores the run row and one row per target result in a single
// transaction
func (s *ResultStore) WriteSummary(ctx context.Context, summary *selection.ReplicateSummary) error {
	if summary == nil {
		return errors.ExportError("postgres", fmt.Errorf("%w: nil summary", core.ErrInvalidInput))
	}
	run := runRecord(summary)
	rows := pvalueRecords(summary)

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.ExportError("postgres", err)
	}
	defer tx.Rollback()

	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO selinf_runs (
			run_id, fingerprint, started_at, replicates, skipped, null_count,
			alternative_count, null_mean, null_std_dev, ks_statistic, ks_p_value
		) VALUES (
			:run_id, :fingerprint, :started_at, :replicates, :skipped, :null_count,
			:alternative_count, :null_mean, :null_std_dev, :ks_statistic, :ks_p_value
		)`, run)
	if err != nil {
		return errors.ExportError("postgres", fmt.Errorf("insert run: %w", err))
	}
	if len(rows) > 0 {
		_, err = tx.NamedExecContext(ctx, `
			INSERT INTO selinf_pvalues (
				run_id, replicate_index, seed, target, is_null, status, reason, tail,
				p_value, observed, retained, sample_mean, sample_std_dev
			) VALUES (
				:run_id, :replicate_index, :seed, :target, :is_null, :status, :reason, :tail,
				:p_value, :observed, :retained, :sample_mean, :sample_std_dev
			)`, rows)
		if err != nil {
			return errors.ExportError("postgres", fmt.Errorf("insert p-values: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.ExportError("postgres", err)
	}
	s.logger.Info("stored run %s with %d target results", run.RunID, len(rows))
	return nil
}

// ListRuns returns the most recent runs first
func (s *ResultStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var runs []RunRecord
	err := s.db.SelectContext(ctx, &runs, `
		SELECT run_id, fingerprint, started_at, replicates, skipped, null_count,
			alternative_count, null_mean, null_std_dev, ks_statistic, ks_p_value
		FROM selinf_runs
		ORDER BY started_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// PValues returns the stored target results of one run in replicate order
func (s *ResultStore) PValues(ctx context.Context, runID core.RunID) ([]PValueRecord, error) {
	var rows []PValueRecord
	err := s.db.SelectContext(ctx, &rows, `
		SELECT run_id, replicate_index, seed::text AS seed, target, is_null, status, reason, tail,
			p_value, observed, retained, sample_mean, sample_std_dev
		FROM selinf_pvalues
		WHERE run_id = $1
		ORDER BY replicate_index, id`, runID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to load p-values for run %s: %w", runID, err)
	}
	return rows, nil
}

func runRecord(s *selection.ReplicateSummary) RunRecord {
	started := s.StartedAt.Time()
	if s.StartedAt.IsZero() {
		// summaries built outside a run carry no start time
		started = time.Now()
	}
	r := RunRecord{
		RunID:            s.RunID.String(),
		Fingerprint:      s.Fingerprint.String(),
		StartedAt:        started,
		Replicates:       s.Replicates,
		Skipped:          s.Skipped,
		NullCount:        len(s.Null),
		AlternativeCount: len(s.Alternative),
		NullMean:         s.NullMean,
		NullStdDev:       s.NullStdDev,
	}
	if s.Uniformity != nil {
		r.KSStatistic = sql.NullFloat64{Float64: s.Uniformity.Statistic, Valid: true}
		r.KSPValue = sql.NullFloat64{Float64: s.Uniformity.PValue, Valid: true}
	}
	return r
}

func pvalueRecords(s *selection.ReplicateSummary) []PValueRecord {
	var rows []PValueRecord
	for _, outcome := range s.Outcomes {
		for _, labeled := range outcome.Results {
			res := labeled.Result
			if res == nil {
				continue
			}
			row := PValueRecord{
				RunID:          s.RunID.String(),
				ReplicateIndex: outcome.Index,
				Seed:           strconv.FormatUint(outcome.Seed, 10),
				Target:         res.Target.String(),
				IsNull:         labeled.Null,
				Status:         string(res.Status),
				Reason:         string(res.Reason),
				Tail:           string(res.Tail),
			}
			if res.Usable() {
				row.PValue = sql.NullFloat64{Float64: res.PValue, Valid: true}
				row.Observed = sql.NullFloat64{Float64: res.Observed, Valid: true}
				row.Retained = sql.NullInt64{Int64: int64(res.Retained), Valid: true}
				row.SampleMean = sql.NullFloat64{Float64: res.Sample.Mean, Valid: true}
				row.SampleStdDev = sql.NullFloat64{Float64: res.Sample.StdDev, Valid: true}
			}
			rows = append(rows, row)
		}
	}
	return rows
}
