package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
)

// WebhookForwarder posts the lead payload verbatim to an automation webhook.
type WebhookForwarder struct {
	url     string
	http    *http.Client
	status  statusWriter
	nowFunc func() time.Time
}

// NewWebhookForwarder creates a forwarder for url.
func NewWebhookForwarder(url string, st store.Store, retry resilience.RetryConfig) *WebhookForwarder {
	return &WebhookForwarder{
		url:     url,
		http:    &http.Client{Timeout: 10 * time.Second},
		status:  newStatusWriter(st, retry),
		nowFunc: time.Now,
	}
}

// Name implements Forwarder.
func (f *WebhookForwarder) Name() string { return TargetWebhook }

// Forward posts p. Only a 2xx answer marks the lead as sent.
func (f *WebhookForwarder) Forward(ctx context.Context, p model.LeadPayload) error {
	log := zap.L().With(zap.String("component", "delivery.webhook"), zap.String("lead_id", p.LeadID))

	body, err := json.Marshal(p)
	if err != nil {
		return &DeliveryError{Target: TargetWebhook, LeadID: p.LeadID, Err: eris.Wrap(err, "marshal payload")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return &DeliveryError{Target: TargetWebhook, LeadID: p.LeadID, Err: eris.Wrap(err, "create request")}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.http.Do(req)
	if err != nil {
		log.Warn("delivery: webhook request failed", zap.Error(err))
		return &DeliveryError{Target: TargetWebhook, LeadID: p.LeadID, Err: err}
	}
	defer resp.Body.Close() //nolint:errcheck
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseText))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Warn("delivery: webhook rejected lead",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncate(string(respBody), maxErrorText)),
		)
		return &DeliveryError{
			Target: TargetWebhook,
			LeadID: p.LeadID,
			Status: resp.StatusCode,
			Err:    eris.New(truncate(string(respBody), maxErrorText)),
		}
	}

	log.Info("delivery: webhook accepted lead", zap.Int("status", resp.StatusCode))
	f.status.record(ctx, TargetWebhook, p.LeadID, model.LeadUpdate{
		WebhookSent:   model.Ptr(true),
		WebhookSentAt: nowUTC(f.nowFunc),
	})
	return nil
}
