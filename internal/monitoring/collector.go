package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/dealer-sync/internal/model"
)

// Snapshot holds a point-in-time view of import and verification health.
type Snapshot struct {
	// Upload jobs created within the lookback window.
	JobsTotal      int     `json:"jobs_total"`
	JobsDone       int     `json:"jobs_done"`
	JobsError      int     `json:"jobs_error"`
	JobsProcessing int     `json:"jobs_processing"`
	JobFailRate    float64 `json:"job_fail_rate"`

	// Records settled by those jobs.
	RecordsProcessed int     `json:"records_processed"`
	RecordErrors     int     `json:"record_errors"`
	RecordErrorRate  float64 `json:"record_error_rate"`

	// Current messaging status distribution.
	UnknownBacklog int `json:"unknown_backlog"`
	ValidPhones    int `json:"valid_phones"`
	InvalidPhones  int `json:"invalid_phones"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Source is the part of the store the collector reads.
type Source interface {
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.UploadJob, error)
	StatusCounts(ctx context.Context) (map[model.WhatsAppStatus]int, error)
}

// Collector gathers snapshots from the store.
type Collector struct {
	source Source
	now    func() time.Time
}

// NewCollector creates a collector over src.
func NewCollector(src Source) *Collector {
	return &Collector{source: src, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	jobs, err := c.source.ListJobs(ctx, model.JobFilter{
		CreatedAfter: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	snap.JobsTotal = len(jobs)
	for _, j := range jobs {
		switch j.Status {
		case model.JobStatusDone:
			snap.JobsDone++
		case model.JobStatusError:
			snap.JobsError++
		case model.JobStatusProcessing:
			snap.JobsProcessing++
		}
		snap.RecordsProcessed += j.ProcessedCount
		snap.RecordErrors += j.ErrorCount
	}
	if finished := snap.JobsDone + snap.JobsError; finished > 0 {
		snap.JobFailRate = float64(snap.JobsError) / float64(finished)
	}
	if settled := snap.RecordsProcessed + snap.RecordErrors; settled > 0 {
		snap.RecordErrorRate = float64(snap.RecordErrors) / float64(settled)
	}

	counts, err := c.source.StatusCounts(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: status counts")
	}
	snap.UnknownBacklog = counts[model.WhatsAppUnknown]
	snap.ValidPhones = counts[model.WhatsAppValid]
	snap.InvalidPhones = counts[model.WhatsAppInvalid]

	return snap, nil
}
