package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/dealer-sync/internal/config"
)

// Checker runs periodic alert checks in the background and keeps the backlog
// gauge current.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	metrics   *Metrics
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker. metrics may be nil.
func NewChecker(collector *Collector, alerter *Alerter, metrics *Metrics, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// Run checks once immediately, then on every interval until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if ctx.Err() == nil {
			c.Check(ctx, log)
		}
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
		}
	}
}

// Check collects one snapshot, updates the backlog gauge and sends any
// alerts. It returns the number of alerts triggered.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) int {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return 0
	}
	c.metrics.SetUnknownBacklog(snap.UnknownBacklog)

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered")
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return len(alerts)
}
