package delivery

import (
	"context"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
)

// Forwarder target names, also used as task and circuit breaker names.
const (
	TargetWebhook    = "webhook"
	TargetGHL        = "ghl"
	TargetSalesforce = "salesforce"
)

const (
	maxErrorText    = 500
	maxResponseText = 2000
)

// Forwarder hands one lead to one integration and records the outcome on
// the stored lead.
type Forwarder interface {
	Name() string
	Forward(ctx context.Context, p model.LeadPayload) error
}

// statusWriter applies best-effort status updates. Transient store errors
// are retried; a final failure is logged and swallowed.
type statusWriter struct {
	store store.Store
	retry resilience.RetryConfig
}

func newStatusWriter(st store.Store, retry resilience.RetryConfig) statusWriter {
	return statusWriter{store: st, retry: retry}
}

func (w statusWriter) record(ctx context.Context, target, leadID string, u model.LeadUpdate) {
	cfg := w.retry
	cfg.OnRetry = resilience.RetryLogger("update lead status",
		zap.String("target", target), zap.String("lead_id", leadID))

	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		return w.store.UpdateLead(ctx, leadID, u)
	})
	if err != nil {
		zap.L().Error("delivery: failed to record status",
			zap.String("target", target),
			zap.String("lead_id", leadID),
			zap.Error(err),
		)
	}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func nowUTC(f func() time.Time) *time.Time {
	t := f().UTC()
	return &t
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// Tasks builds one dispatcher task per forwarder for p.
func Tasks(p model.LeadPayload, fwds ...Forwarder) []Task {
	tasks := make([]Task, 0, len(fwds))
	for _, fw := range fwds {
		tasks = append(tasks, Task{
			Name:   fw.Name(),
			LeadID: p.LeadID,
			Run:    func(ctx context.Context) error { return fw.Forward(ctx, p) },
		})
	}
	return tasks
}
