package jobstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ajitpratap0/wealthsync/pkg/errors"
	"github.com/ajitpratap0/wealthsync/pkg/logger"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS import_jobs (
	id               BIGSERIAL PRIMARY KEY,
	job_id           VARCHAR(100) NOT NULL UNIQUE,
	source_type      VARCHAR(50)  NOT NULL,
	source_id        VARCHAR(100) NOT NULL,
	account_id       VARCHAR(100),
	started_at       TIMESTAMPTZ  NOT NULL,
	completed_at     TIMESTAMPTZ,
	duration_seconds NUMERIC(10, 2),
	status           VARCHAR(20)  NOT NULL DEFAULT 'running',
	records_fetched  INTEGER      NOT NULL DEFAULT 0,
	records_imported INTEGER      NOT NULL DEFAULT 0,
	records_updated  INTEGER      NOT NULL DEFAULT 0,
	records_skipped  INTEGER      NOT NULL DEFAULT 0,
	error_message    TEXT,
	triggered_by     VARCHAR(50)  NOT NULL DEFAULT 'manual'
);
CREATE INDEX IF NOT EXISTS idx_import_jobs_source_status ON import_jobs (source_type, source_id, status);
CREATE INDEX IF NOT EXISTS idx_import_jobs_started_at ON import_jobs (started_at);
`

const upsertSQL = `
INSERT INTO import_jobs (
	job_id, source_type, source_id, started_at, completed_at, duration_seconds, status,
	records_fetched, records_imported, records_updated, records_skipped, error_message, triggered_by
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (job_id) DO UPDATE SET
	completed_at     = EXCLUDED.completed_at,
	duration_seconds = EXCLUDED.duration_seconds,
	status           = EXCLUDED.status,
	records_fetched  = EXCLUDED.records_fetched,
	records_imported = EXCLUDED.records_imported,
	records_updated  = EXCLUDED.records_updated,
	records_skipped  = EXCLUDED.records_skipped,
	error_message    = EXCLUDED.error_message
`

const recentSQL = `
SELECT job_id, source_type, source_id, started_at, completed_at, COALESCE(duration_seconds, 0)::float8, status,
	records_fetched, records_imported, records_updated, records_skipped, COALESCE(error_message, ''), triggered_by
FROM import_jobs
ORDER BY started_at DESC
LIMIT $1
`

// pool is the subset of *pgxpool.Pool the store uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore writes job records to the import_jobs table.
type PostgresStore struct {
	pool   pool
	logger *zap.Logger
}

// NewPostgresStore connects to dsn and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.NewConfiguration("postgres job store needs a dsn")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "failed to parse PostgreSQL connection string")
	}
	cfg.MaxConns = 4
	cfg.MaxConnLifetime = 30 * time.Minute

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create PostgreSQL connection pool")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "PostgreSQL ping failed")
	}

	store := newPostgresStore(p)
	store.logger.Info("job store connected",
		zap.String("host", cfg.ConnConfig.Host),
		zap.String("database", cfg.ConnConfig.Database),
		zap.String("user", cfg.ConnConfig.User),
		zap.String("password", logger.MaskSecret(cfg.ConnConfig.Password)))
	return store, nil
}

func newPostgresStore(p pool) *PostgresStore {
	return &PostgresStore{pool: p, logger: logger.Get().With(zap.String("component", "jobstore"))}
}

// EnsureSchema creates the import_jobs table and its indexes.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to create import_jobs schema")
	}
	return nil
}

// SaveJob upserts job by job id.
func (s *PostgresStore) SaveJob(ctx context.Context, job JobRecord) error {
	var errMsg *string
	if job.ErrorMessage != "" {
		errMsg = &job.ErrorMessage
	}
	_, err := s.pool.Exec(ctx, upsertSQL,
		job.JobID, job.SourceType, job.SourceID, job.StartedAt, job.CompletedAt, job.DurationSeconds, job.Status,
		job.RecordsFetched, job.RecordsImported, job.RecordsUpdated, job.RecordsSkipped, errMsg, job.TriggeredBy,
	)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "failed to save import job").
			WithDetail("job_id", job.JobID)
	}
	return nil
}

// RecentJobs returns up to limit records, newest first.
func (s *PostgresStore) RecentJobs(ctx context.Context, limit int) ([]JobRecord, error) {
	rows, err := s.pool.Query(ctx, recentSQL, limit)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to query import jobs")
	}
	defer rows.Close()

	var jobs []JobRecord
	for rows.Next() {
		var j JobRecord
		if err := rows.Scan(&j.JobID, &j.SourceType, &j.SourceID, &j.StartedAt, &j.CompletedAt, &j.DurationSeconds,
			&j.Status, &j.RecordsFetched, &j.RecordsImported, &j.RecordsUpdated, &j.RecordsSkipped,
			&j.ErrorMessage, &j.TriggeredBy); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to scan import job")
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to read import jobs")
	}
	return jobs, nil
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
