package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/dealer-sync/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertJobFailure      AlertType = "job_failure"
	AlertRecordErrorRate AlertType = "record_error_rate"
	AlertUnknownBacklog  AlertType = "unknown_backlog"
)

// minRecordsForRate keeps a handful of bad rows from raising a rate alert.
const minRecordsForRate = 50

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Jobs that ended in error lost store connectivity mid-upload.
	if snap.JobsError > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertJobFailure,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d upload job(s) stopped with status error in last %dh",
				snap.JobsError, snap.LookbackHours,
			),
			Details: map[string]any{
				"failed_jobs": snap.JobsError,
				"total_jobs":  snap.JobsTotal,
			},
			Timestamp: now,
		})
	}

	settled := snap.RecordsProcessed + snap.RecordErrors
	if settled >= minRecordsForRate && snap.RecordErrorRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertRecordErrorRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Record error rate %.1f%% exceeds threshold %.1f%% (%d failed / %d settled in last %dh)",
				snap.RecordErrorRate*100, a.cfg.FailureRateThreshold*100,
				snap.RecordErrors, settled, snap.LookbackHours,
			),
			Details: map[string]any{
				"error_rate": snap.RecordErrorRate,
				"threshold":  a.cfg.FailureRateThreshold,
				"errors":     snap.RecordErrors,
				"settled":    settled,
			},
			Timestamp: now,
		})
	}

	if a.cfg.UnknownBacklogThreshold > 0 && snap.UnknownBacklog > a.cfg.UnknownBacklogThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertUnknownBacklog,
			Severity: "low",
			Message: fmt.Sprintf(
				"%d customers still have unknown WhatsApp status (threshold %d)",
				snap.UnknownBacklog, a.cfg.UnknownBacklogThreshold,
			),
			Details: map[string]any{
				"unknown":   snap.UnknownBacklog,
				"threshold": a.cfg.UnknownBacklogThreshold,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
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
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
