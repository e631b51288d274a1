package orchestrator

import (
	"fmt"
	"strings"
	"time"

	"github.com/ajitpratap0/wealthsync/pkg/jobstore"
	"github.com/ajitpratap0/wealthsync/pkg/models"
)

// Job statuses.
const (
	StatusSuccess   = "success"
	StatusPartial   = "partial"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// maxSummaryErrors caps the errors listed by Summary.
const maxSummaryErrors = 5

// InitResult is the outcome of creating and authenticating one source.
type InitResult struct {
	OK      bool
	Message string
	Err     error
}

// ImportResult is the outcome of syncing one source.
type ImportResult struct {
	SourceType      string
	SourceID        string
	Success         bool
	Cancelled       bool
	RecordsFetched  int
	RecordsImported int
	RecordsUpdated  int
	RecordsSkipped  int
	ErrorMessage    string
	Duration        time.Duration

	Holdings     []models.Holding
	Transactions []models.Transaction
}

// SyncResult is the job record of one sync cycle.
type SyncResult struct {
	JobID       string
	StartedAt   time.Time
	CompletedAt time.Time
	// Initialization holds the init outcome of every source the cycle
	// initialized. It is nil when connectors were already initialized.
	Initialization map[string]InitResult
	Results        []ImportResult

	TotalImported int
	TotalUpdated  int
	TotalSkipped  int
	Errors        []string

	cancelled bool
}

// Success reports whether at least one source succeeded.
func (r *SyncResult) Success() bool {
	for _, res := range r.Results {
		if res.Success {
			return true
		}
	}
	return false
}

// Status classifies the cycle. A cycle whose context was cancelled is
// cancelled regardless of how many sources finished first.
func (r *SyncResult) Status() string {
	switch {
	case r.cancelled:
		return StatusCancelled
	case r.Success() && len(r.Errors) > 0:
		return StatusPartial
	case r.Success():
		return StatusSuccess
	default:
		return StatusFailed
	}
}

// Cancelled reports whether the cycle was cancelled.
func (r *SyncResult) Cancelled() bool { return r.cancelled }

// TotalFetched sums RecordsFetched over all sources.
func (r *SyncResult) TotalFetched() int {
	n := 0
	for _, res := range r.Results {
		n += res.RecordsFetched
	}
	return n
}

// Duration is zero until the cycle completes.
func (r *SyncResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Result returns the result for source id.
func (r *SyncResult) Result(id string) (ImportResult, bool) {
	for _, res := range r.Results {
		if res.SourceID == id {
			return res, true
		}
	}
	return ImportResult{}, false
}

// Summary renders the cycle for humans.
func (r *SyncResult) Summary() string {
	lines := []string{
		fmt.Sprintf("Sync Job: %s", r.JobID),
		fmt.Sprintf("Duration: %.1fs", r.Duration().Seconds()),
		fmt.Sprintf("Sources: %d", len(r.Results)),
		fmt.Sprintf("Imported: %d", r.TotalImported),
		fmt.Sprintf("Updated: %d", r.TotalUpdated),
		fmt.Sprintf("Skipped: %d", r.TotalSkipped),
	}
	if len(r.Errors) > 0 {
		lines = append(lines, fmt.Sprintf("Errors: %d", len(r.Errors)))
		for i, e := range r.Errors {
			if i == maxSummaryErrors {
				break
			}
			lines = append(lines, "  - "+e)
		}
	}
	return strings.Join(lines, "\n")
}

// JobRecord converts the result to its audit form.
func (r *SyncResult) JobRecord(triggeredBy string) jobstore.JobRecord {
	rec := jobstore.JobRecord{
		JobID:           r.JobID,
		SourceType:      jobstore.SourceTypeMulti,
		SourceID:        jobstore.SourceIDOrchestrator,
		StartedAt:       r.StartedAt,
		DurationSeconds: r.Duration().Seconds(),
		Status:          r.Status(),
		RecordsFetched:  r.TotalFetched(),
		RecordsImported: r.TotalImported,
		RecordsUpdated:  r.TotalUpdated,
		RecordsSkipped:  r.TotalSkipped,
		ErrorMessage:    strings.Join(r.Errors, "\n"),
		TriggeredBy:     triggeredBy,
	}
	if !r.CompletedAt.IsZero() {
		completed := r.CompletedAt
		rec.CompletedAt = &completed
	}
	if rec.TriggeredBy == "" {
		rec.TriggeredBy = jobstore.TriggeredManual
	}
	return rec
}
