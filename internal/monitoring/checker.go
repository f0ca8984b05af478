// Package monitoring watches research job outcomes, cost and the review
// backlog, and posts alerts to a webhook when thresholds are crossed.
package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/config"
)

const defaultCheckInterval = 5 * time.Minute

// CheckResult is the outcome of one check cycle.
type CheckResult struct {
	Snapshot *MetricsSnapshot
	Alerts   []Alert
	Sent     int
}

// Checker runs the collect, evaluate and send cycle on an interval.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
	log       *zap.Logger

	// consecutive collection failures, reset on success
	failures int
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
		log:       zap.L().With(zap.String("component", "monitoring.checker")),
	}
}

func (c *Checker) interval() time.Duration {
	if c.cfg.CheckIntervalSecs <= 0 {
		return defaultCheckInterval
	}
	return time.Duration(c.cfg.CheckIntervalSecs) * time.Second
}

// Run checks once immediately and then on every tick until ctx is done.
func (c *Checker) Run(ctx context.Context) {
	interval := c.interval()
	c.log.Info("monitoring: starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
		zap.Bool("webhook", c.cfg.WebhookURL != ""),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() != nil {
			c.log.Info("monitoring: alert checker stopped")
			return
		}
		_, _ = c.Check(ctx)

		select {
		case <-ctx.Done():
			c.log.Info("monitoring: alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check runs one cycle. A collection error is returned and logged; it
// escalates to error level after three consecutive failures.
func (c *Checker) Check(ctx context.Context) (*CheckResult, error) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		c.failures++
		level := zap.WarnLevel
		if c.failures >= 3 {
			level = zap.ErrorLevel
		}
		c.log.Log(level, "monitoring: failed to collect metrics",
			zap.Int("consecutive_failures", c.failures),
			zap.Error(err),
		)
		return nil, err
	}
	c.failures = 0

	res := &CheckResult{Snapshot: snap, Alerts: c.alerter.Evaluate(snap)}
	c.log.Debug("monitoring: snapshot",
		zap.Int("jobs_total", snap.JobsTotal),
		zap.Int("jobs_in_flight", snap.JobsInFlight),
		zap.Float64("failure_rate", snap.FailureRate),
		zap.Float64("cost_usd", snap.CostUSD),
		zap.Int("unreviewed_conflicts", snap.UnreviewedConflicts),
		zap.Int("alerts", len(res.Alerts)),
	)
	if len(res.Alerts) == 0 {
		return res, nil
	}

	res.Sent = c.alerter.SendAlerts(ctx, res.Alerts)
	c.log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(res.Alerts)),
		zap.Int("alerts_sent", res.Sent),
	)
	return res, nil
}
