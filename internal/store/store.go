// Package store persists research jobs and every stage output they produce.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/venue-research/internal/bundle"
	"github.com/sells-group/venue-research/internal/model"
)

// MaxErrorLength caps the failure message stored on a job.
const MaxErrorLength = 500

var (
	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = eris.New("store: not found")
	// ErrStaleState is returned when a transition's from-state no longer
	// matches the stored state, or the job is already terminal.
	ErrStaleState = eris.New("store: job state changed or job is terminal")
	// ErrInvalidTransition is returned for transitions the job lifecycle forbids.
	ErrInvalidTransition = eris.New("store: invalid state transition")
)

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	PlaceID string         `json:"place_id,omitempty"`
	State   model.JobState `json:"state,omitempty"`

	// CreatedAfter keeps jobs created at or after this time when non-zero.
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// ConflictFilter specifies criteria for listing conflicting cross-references.
type ConflictFilter struct {
	JobID string `json:"job_id,omitempty"`
	// Unreviewed limits results to records without a review decision.
	Unreviewed bool `json:"unreviewed,omitempty"`
	Limit      int  `json:"limit,omitempty"`
}

// JobStats aggregates job history.
type JobStats struct {
	Total        int                    `json:"total"`
	ByState      map[model.JobState]int `json:"by_state"`
	InputTokens  int                    `json:"input_tokens"`
	OutputTokens int                    `json:"output_tokens"`
	TotalCost    float64                `json:"total_cost"`
	CostToday    float64                `json:"cost_today"`
}

// Store is the persistence interface for the research pipeline.
type Store interface {
	// Jobs
	CreateJob(ctx context.Context, placeID string, trigger model.TriggerKind, writeBack bool) (*model.ResearchJob, error)
	TransitionJob(ctx context.Context, jobID string, from, to model.JobState, errMsg string) error
	RecordUsage(ctx context.Context, jobID string, usage model.TokenUsage) error
	GetJob(ctx context.Context, jobID string) (*model.ResearchJob, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.ResearchJob, error)
	ListTransitions(ctx context.Context, jobID string) ([]model.JobTransition, error)

	// Gate inputs, read from committed job history
	SumCostSince(ctx context.Context, since time.Time) (float64, error)
	LastCompletedAt(ctx context.Context, placeID string) (*time.Time, error)
	RecentTerminalStates(ctx context.Context, n int) ([]model.JobState, error)

	// Stage outputs
	SaveBundle(ctx context.Context, jobID string, b *bundle.Bundle) error
	SaveCitySynthesis(ctx context.Context, jobID string, s model.CitySynthesis) error
	SaveVenueSignals(ctx context.Context, jobID string, signals []model.VenueSignal) error
	SaveValidationReport(ctx context.Context, jobID string, r model.ValidationReport) error
	SaveResolutions(ctx context.Context, jobID string, resolved []model.ResolvedVenueSignal, unresolved []model.UnresolvedSignal) error
	SaveCrossReferences(ctx context.Context, jobID string, results []model.CrossReferenceResult) error
	MarkApplied(ctx context.Context, jobID string, entityIDs []string) error

	// Reads for the admin surface
	GetCitySynthesis(ctx context.Context, jobID string) (*model.CitySynthesis, error)
	GetValidationReport(ctx context.Context, jobID string) (*model.ValidationReport, error)
	ListCrossReferences(ctx context.Context, jobID string) ([]model.CrossReferenceResult, error)
	ListConflicts(ctx context.Context, filter ConflictFilter) ([]model.CrossReferenceResult, error)
	Stats(ctx context.Context, now time.Time) (*JobStats, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// checkTransition validates a transition against the job lifecycle.
func checkTransition(from, to model.JobState) error {
	if !model.CanTransition(from, to) {
		return eris.Wrapf(ErrInvalidTransition, "store: %s -> %s", from, to)
	}
	return nil
}

// TruncateError shortens msg to MaxErrorLength runes.
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorLength {
		return msg
	}
	return string(r[:MaxErrorLength])
}

// StartOfDayUTC returns midnight UTC of t's day.
func StartOfDayUTC(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func limitOrDefault(n, def int) int {
	if n <= 0 {
		return def
	}
	return n
}
