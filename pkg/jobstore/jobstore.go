// Package jobstore persists sync job records for audit.
//
// Two backends exist: FileStore appends one JSON document per line, with
// optional zstd framing, and PostgresStore upserts rows into the
// import_jobs table. Nop discards records.
package jobstore

import (
	"context"
	"time"

	"github.com/ajitpratap0/wealthsync/pkg/config"
	"github.com/ajitpratap0/wealthsync/pkg/errors"
)

// Fixed values written for orchestrator jobs.
const (
	SourceTypeMulti      = "multi"
	SourceIDOrchestrator = "orchestrator"
	TriggeredManual      = "manual"
)

// JobRecord is one sync cycle as stored for audit.
type JobRecord struct {
	JobID           string     `json:"job_id"`
	SourceType      string     `json:"source_type"`
	SourceID        string     `json:"source_id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	DurationSeconds float64    `json:"duration_seconds"`
	Status          string     `json:"status"`
	RecordsFetched  int        `json:"records_fetched"`
	RecordsImported int        `json:"records_imported"`
	RecordsUpdated  int        `json:"records_updated"`
	RecordsSkipped  int        `json:"records_skipped"`
	// ErrorMessage holds every error of the cycle joined by newlines.
	ErrorMessage string `json:"error_message,omitempty"`
	TriggeredBy  string `json:"triggered_by"`
}

// JobStore saves job records. Saving the same job id twice replaces the
// earlier record where the backend supports it.
type JobStore interface {
	SaveJob(ctx context.Context, job JobRecord) error
	Close() error
}

// Nop discards every record.
type Nop struct{}

// SaveJob implements JobStore.
func (Nop) SaveJob(context.Context, JobRecord) error { return nil }

// Close implements JobStore.
func (Nop) Close() error { return nil }

// Open builds the store selected by cfg.
func Open(ctx context.Context, cfg config.JobStoreConfig) (JobStore, error) {
	switch cfg.Type {
	case "", config.JobStoreNone:
		return Nop{}, nil
	case config.JobStoreFile:
		return NewFileStore(cfg.Path)
	case config.JobStorePostgres:
		store, err := NewPostgresStore(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, err
		}
		return store, nil
	default:
		return nil, errors.NewConfiguration("unknown job store type: " + cfg.Type)
	}
}
