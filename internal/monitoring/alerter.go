package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/config"
	"github.com/sells-group/venue-research/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailureRate  AlertType = "job_failure_rate"
	AlertCostOverrun     AlertType = "cost_overrun"
	AlertConflictBacklog AlertType = "conflict_backlog"
)

// Severity ranks alerts for the receiver.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
)

// minFinishedForFailure is the number of finished jobs needed before the
// failure rate can alert.
const minFinishedForFailure = 5

// Alert is one webhook payload.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  Severity       `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// rule returns an alert when snap breaches it.
type rule func(cfg config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool)

var rules = []rule{failureRateRule, costRule, backlogRule}

func failureRateRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool) {
	finished := snap.Finished()
	if finished < minFinishedForFailure || snap.FailureRate <= cfg.FailureRateThreshold {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertJobFailureRate,
		Severity: SeverityHigh,
		Message: fmt.Sprintf(
			"Research job failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
			snap.FailureRate*100, cfg.FailureRateThreshold*100,
			snap.Failed(), finished, snap.LookbackHours,
		),
		Details: map[string]any{
			"failure_rate":      snap.FailureRate,
			"threshold":         cfg.FailureRateThreshold,
			"validation_failed": snap.JobsValidationFailed,
			"error":             snap.JobsError,
			"finished":          finished,
		},
	}, true
}

func costRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool) {
	if cfg.CostThresholdUSD <= 0 || snap.CostUSD <= cfg.CostThresholdUSD {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertCostOverrun,
		Severity: SeverityHigh,
		Message: fmt.Sprintf("LLM cost $%.2f exceeds threshold $%.2f in last %dh",
			snap.CostUSD, cfg.CostThresholdUSD, snap.LookbackHours),
		Details: map[string]any{
			"cost_usd":      snap.CostUSD,
			"threshold_usd": cfg.CostThresholdUSD,
			"jobs_total":    snap.JobsTotal,
		},
	}, true
}

func backlogRule(cfg config.MonitoringConfig, snap *MetricsSnapshot) (Alert, bool) {
	if cfg.ConflictBacklogThreshold <= 0 || snap.UnreviewedConflicts <= cfg.ConflictBacklogThreshold {
		return Alert{}, false
	}
	return Alert{
		Type:     AlertConflictBacklog,
		Severity: SeverityMedium,
		Message: fmt.Sprintf("%d conflicts await review (threshold %d)",
			snap.UnreviewedConflicts, cfg.ConflictBacklogThreshold),
		Details: map[string]any{
			"unreviewed": snap.UnreviewedConflicts,
			"threshold":  cfg.ConflictBacklogThreshold,
		},
	}, true
}

// Alerter evaluates snapshots and posts alerts to a webhook. An alert type
// that was delivered within the repeat interval is not sent again.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
	retry  resilience.RetryConfig
	now    func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewAlerter creates an Alerter for cfg.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	retry := resilience.DefaultRetryConfig()
	retry.MaxAttempts = 3
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		retry:    retry,
		now:      time.Now,
		lastSent: make(map[AlertType]time.Time),
	}
}

// Evaluate returns every alert the snapshot triggers.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := a.now().UTC()
	for _, r := range rules {
		if alert, ok := r(a.cfg, snap); ok {
			alert.Timestamp = now
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

// SendAlerts delivers alerts to the webhook and returns how many were sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if a.suppressed(alert.Type) {
			zap.L().Debug("monitoring: alert suppressed", zap.String("type", string(alert.Type)))
			continue
		}
		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.post(ctx, alert)
		})
		if err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		a.markSent(alert.Type)
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", string(alert.Severity)),
		)
		sent++
	}
	return sent
}

func (a *Alerter) repeatInterval() time.Duration {
	return time.Duration(a.cfg.RepeatIntervalMins) * time.Minute
}

func (a *Alerter) suppressed(t AlertType) bool {
	if a.repeatInterval() <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[t]
	return ok && a.now().Sub(last) < a.repeatInterval()
}

func (a *Alerter) markSent(t AlertType) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastSent[t] = a.now()
}

// post sends one alert. Retryable statuses come back as transient errors.
func (a *Alerter) post(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return resilience.NewTransientError(eris.Wrap(err, "monitoring: webhook request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resilience.IsTransientHTTPStatus(resp.StatusCode):
		return resilience.NewTransientError(eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode), resp.StatusCode)
	case resp.StatusCode >= 400:
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
