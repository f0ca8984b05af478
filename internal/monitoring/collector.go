package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-research/internal/metrics"
	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Jobs created within the lookback window.
	JobsTotal            int     `json:"jobs_total"`
	JobsComplete         int     `json:"jobs_complete"`
	JobsValidationFailed int     `json:"jobs_validation_failed"`
	JobsError            int     `json:"jobs_error"`
	JobsInFlight         int     `json:"jobs_in_flight"`
	FailureRate          float64 `json:"failure_rate"`
	CostUSD              float64 `json:"cost_usd"`
	AvgTokens            int     `json:"avg_tokens"`

	// Conflicts still waiting for a reviewer, across all jobs.
	UnreviewedConflicts int `json:"unreviewed_conflicts"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Finished is the number of jobs in a terminal state.
func (s *MetricsSnapshot) Finished() int {
	return s.JobsComplete + s.JobsValidationFailed + s.JobsError
}

// Failed is the number of jobs that ended in VALIDATION_FAILED or ERROR.
func (s *MetricsSnapshot) Failed() int {
	return s.JobsValidationFailed + s.JobsError
}

// JobSource is the part of the store the collector reads.
type JobSource interface {
	ListJobs(ctx context.Context, filter store.JobFilter) ([]model.ResearchJob, error)
	ListConflicts(ctx context.Context, filter store.ConflictFilter) ([]model.CrossReferenceResult, error)
}

const (
	maxJobsScanned      = 10000
	maxConflictsScanned = 10000
)

// Collector gathers metrics from the job store.
type Collector struct {
	jobs    JobSource
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewCollector creates a new metrics collector. m may be nil; when set,
// every snapshot also updates its gauges.
func NewCollector(jobs JobSource, m *metrics.Metrics) *Collector {
	return &Collector{jobs: jobs, metrics: m, now: time.Now}
}

// Collect gathers a snapshot of job metrics over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	jobs, err := c.jobs.ListJobs(ctx, store.JobFilter{
		CreatedAfter: cutoff,
		Limit:        maxJobsScanned,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list jobs")
	}

	snap.JobsTotal = len(jobs)
	var totalTokens int
	for _, j := range jobs {
		switch j.State {
		case model.JobStateComplete:
			snap.JobsComplete++
		case model.JobStateValidationFailed:
			snap.JobsValidationFailed++
		case model.JobStateError:
			snap.JobsError++
		default:
			snap.JobsInFlight++
		}
		snap.CostUSD += j.Usage.Cost
		totalTokens += j.Usage.Total()
	}
	if finished := snap.Finished(); finished > 0 {
		snap.FailureRate = float64(snap.Failed()) / float64(finished)
	}
	if snap.JobsTotal > 0 {
		snap.AvgTokens = totalTokens / snap.JobsTotal
	}

	conflicts, err := c.jobs.ListConflicts(ctx, store.ConflictFilter{
		Unreviewed: true,
		Limit:      maxConflictsScanned,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list conflicts")
	}
	snap.UnreviewedConflicts = len(conflicts)

	c.metrics.Snapshot(snap.FailureRate, snap.CostUSD, snap.UnreviewedConflicts)
	return snap, nil
}
