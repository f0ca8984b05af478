// Package metrics exposes Prometheus counters for research jobs.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/sells-group/venue-research/internal/model"
)

const namespace = "venue_research"

// Metrics holds every collector the pipeline reports to. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	jobsStarted      *prometheus.CounterVec
	jobsFinished     *prometheus.CounterVec
	jobsBlocked      *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	llmCalls         *prometheus.CounterVec
	tokens           *prometheus.CounterVec
	costUSD          prometheus.Counter
	redactions       *prometheus.CounterVec
	validationIssues *prometheus.CounterVec
	resolutions      *prometheus.CounterVec
	crossReferences  *prometheus.CounterVec
	reviewFlagged    prometheus.Counter
	writtenBack      prometheus.Counter

	failureRate         prometheus.Gauge
	unreviewedConflicts prometheus.Gauge
	costWindowUSD       prometheus.Gauge
}

// New registers the collectors with reg. Pass prometheus.DefaultRegisterer
// in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		jobsStarted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "started_total",
			Help:      "Research jobs created, by trigger.",
		}, []string{"trigger"}),
		jobsFinished: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "finished_total",
			Help:      "Research jobs reaching a terminal state, by state.",
		}, []string{"state"}),
		jobsBlocked: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "blocked_total",
			Help:      "Runs refused by a pre-run gate, by reason.",
		}, []string{"reason"}),
		jobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Wall time from job creation to terminal state.",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"state"}),
		llmCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "calls_total",
			Help:      "Completed LLM calls, by pass.",
		}, []string{"pass"}),
		tokens: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens consumed, by pass and kind.",
		}, []string{"pass", "kind"}),
		costUSD: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "cost_usd_total",
			Help:      "Estimated LLM spend in USD.",
		}),
		redactions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "synthesis",
			Name:      "redactions_total",
			Help:      "Injection phrases redacted from source text, by class.",
		}, []string{"class"}),
		validationIssues: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "validation",
			Name:      "issues_total",
			Help:      "Validation errors and warnings, by severity and code.",
		}, []string{"severity", "code"}),
		resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolve",
			Name:      "signals_total",
			Help:      "Venue signals by match type.",
		}, []string{"match_type"}),
		crossReferences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "xref",
			Name:      "results_total",
			Help:      "Cross-reference records, by relationship.",
		}, []string{"relationship"}),
		reviewFlagged: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "xref",
			Name:      "review_flagged_total",
			Help:      "Entities held back from write-back for human review.",
		}),
		writtenBack: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "written_back_total",
			Help:      "Entities updated in the knowledge graph.",
		}),
		failureRate: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitoring",
			Name:      "failure_rate",
			Help:      "Share of finished jobs that failed in the lookback window.",
		}),
		unreviewedConflicts: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitoring",
			Name:      "unreviewed_conflicts",
			Help:      "Conflicting cross-references awaiting review.",
		}),
		costWindowUSD: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitoring",
			Name:      "cost_usd",
			Help:      "LLM spend in the lookback window.",
		}),
	}
}

// JobStarted counts a created job.
func (m *Metrics) JobStarted(trigger model.TriggerKind) {
	if m == nil {
		return
	}
	m.jobsStarted.WithLabelValues(string(trigger)).Inc()
}

// JobBlocked counts a gate refusal.
func (m *Metrics) JobBlocked(reason model.BlockReason) {
	if m == nil {
		return
	}
	m.jobsBlocked.WithLabelValues(string(reason)).Inc()
}

// JobFinished counts a terminal state and observes the job's duration.
func (m *Metrics) JobFinished(state model.JobState, d time.Duration) {
	if m == nil {
		return
	}
	m.jobsFinished.WithLabelValues(string(state)).Inc()
	m.jobDuration.WithLabelValues(string(state)).Observe(d.Seconds())
}

// LLMCall records one completed call.
func (m *Metrics) LLMCall(pass string, u model.TokenUsage) {
	if m == nil {
		return
	}
	m.llmCalls.WithLabelValues(pass).Inc()
	m.tokens.WithLabelValues(pass, "input").Add(float64(u.InputTokens))
	m.tokens.WithLabelValues(pass, "output").Add(float64(u.OutputTokens))
	m.tokens.WithLabelValues(pass, "cache_write").Add(float64(u.CacheCreationTokens))
	m.tokens.WithLabelValues(pass, "cache_read").Add(float64(u.CacheReadTokens))
	m.costUSD.Add(u.Cost)
}

// Redactions adds per-class redaction counts.
func (m *Metrics) Redactions(counts map[string]int) {
	if m == nil {
		return
	}
	for class, n := range counts {
		m.redactions.WithLabelValues(class).Add(float64(n))
	}
}

// Validation counts every issue in a report.
func (m *Metrics) Validation(r model.ValidationReport) {
	if m == nil {
		return
	}
	for _, is := range r.Errors {
		m.validationIssues.WithLabelValues("error", is.Code).Inc()
	}
	for _, is := range r.Warnings {
		m.validationIssues.WithLabelValues("warning", is.Code).Inc()
	}
}

// Resolved counts resolution outcomes.
func (m *Metrics) Resolved(exact, fuzzy, none int) {
	if m == nil {
		return
	}
	m.resolutions.WithLabelValues(string(model.MatchExact)).Add(float64(exact))
	m.resolutions.WithLabelValues(string(model.MatchFuzzy)).Add(float64(fuzzy))
	m.resolutions.WithLabelValues(string(model.MatchNone)).Add(float64(none))
}

// CrossReferences counts results by relationship and review flag.
func (m *Metrics) CrossReferences(results []model.CrossReferenceResult) {
	if m == nil {
		return
	}
	for _, r := range results {
		m.crossReferences.WithLabelValues(string(r.Relationship)).Inc()
		if r.NeedsReview {
			m.reviewFlagged.Inc()
		}
	}
}

// WrittenBack counts entities applied to the graph.
func (m *Metrics) WrittenBack(n int) {
	if m == nil {
		return
	}
	m.writtenBack.Add(float64(n))
}

// Snapshot sets the gauges refreshed by the monitoring checker.
func (m *Metrics) Snapshot(failureRate, costUSD float64, unreviewedConflicts int) {
	if m == nil {
		return
	}
	m.failureRate.Set(failureRate)
	m.costWindowUSD.Set(costUSD)
	m.unreviewedConflicts.Set(float64(unreviewedConflicts))
}
