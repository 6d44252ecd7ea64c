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

	"github.com/sells-group/lead-intake/internal/config"
	"github.com/sells-group/lead-intake/internal/resilience"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertGHLFailureRate        AlertType = "ghl_failure_rate"
	AlertGHLMisconfigured      AlertType = "ghl_misconfigured"
	AlertSalesforceFailureRate AlertType = "salesforce_failure_rate"
)

const defaultMinSample = 5

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached. An alert type
// that was delivered within the cooldown is not sent again.
type Alerter struct {
	cfg      config.MonitoringConfig
	client   *http.Client
	retry    resilience.RetryConfig
	cooldown time.Duration
	nowFunc  func() time.Time

	mu       sync.Mutex
	lastSent map[AlertType]time.Time
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:      cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		retry:    resilience.DefaultRetryConfig(),
		cooldown: time.Duration(cfg.AlertCooldownMins) * time.Minute,
		nowFunc:  time.Now,
		lastSent: make(map[AlertType]time.Time),
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	minSample := a.cfg.MinSample
	if minSample <= 0 {
		minSample = defaultMinSample
	}

	// Any refused CRM call means every lead is failing the same way.
	if snap.GHLConfigError > 0 {
		alerts = append(alerts, Alert{
			Type:     AlertGHLMisconfigured,
			Severity: "critical",
			Message: fmt.Sprintf(
				"%d lead(s) skipped CRM delivery because GHL_LOCATION_ID is misconfigured in last %dh",
				snap.GHLConfigError, snap.LookbackHours,
			),
			Details: map[string]any{
				"config_errors": snap.GHLConfigError,
				"leads_total":   snap.LeadsTotal,
			},
			Timestamp: now,
		})
	}

	if snap.GHLAttempted >= minSample && snap.GHLFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertGHLFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"CRM delivery failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted in last %dh)",
				snap.GHLFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.GHLFailed, snap.GHLAttempted, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.GHLFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.GHLFailed,
				"attempted":    snap.GHLAttempted,
			},
			Timestamp: now,
		})
	}

	if snap.SFAttempted >= minSample && snap.SFFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertSalesforceFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Salesforce mirror failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d attempted in last %dh)",
				snap.SFFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.SFFailed, snap.SFAttempted, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.SFFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.SFFailed,
				"attempted":    snap.SFAttempted,
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
		if a.suppressed(alert.Type) {
			zap.L().Debug("monitoring: alert suppressed during cooldown",
				zap.String("type", string(alert.Type)),
			)
			continue
		}

		err := resilience.Do(ctx, a.retry, func(ctx context.Context) error {
			return a.sendWebhook(ctx, alert)
		})
		if err != nil {
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
		a.markSent(alert.Type)
		sent++
	}
	return sent
}

func (a *Alerter) suppressed(t AlertType) bool {
	if a.cooldown <= 0 {
		return false
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	last, ok := a.lastSent[t]
	return ok && a.nowFunc().Sub(last) < a.cooldown
}

func (a *Alerter) markSent(t AlertType) {
	a.mu.Lock()
	a.lastSent[t] = a.nowFunc()
	a.mu.Unlock()
}

// webhookStatusError lets resilience.IsTransient classify the receiver's
// status.
type webhookStatusError struct {
	status int
}

func (e *webhookStatusError) Error() string {
	return fmt.Sprintf("monitoring: webhook returned status %d", e.status)
}

func (e *webhookStatusError) StatusCode() int { return e.status }

// sendWebhook posts a single alert to the webhook URL.
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
		return &webhookStatusError{status: resp.StatusCode}
	}
	return nil
}
