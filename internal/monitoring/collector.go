// Package monitoring watches lead delivery outcomes and raises alerts when
// integrations start failing.
package monitoring

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/store"
)

const collectPageSize = 1000

// MetricsSnapshot holds delivery outcomes for leads created in the lookback
// window.
type MetricsSnapshot struct {
	LeadsTotal int `json:"leads_total"`

	WebhookSent int `json:"webhook_sent"`

	// An attempt is any lead with ghl_sent_at set; failures are attempts
	// that did not end with ghl_sent.
	GHLAttempted   int     `json:"ghl_attempted"`
	GHLSent        int     `json:"ghl_sent"`
	GHLFailed      int     `json:"ghl_failed"`
	GHLFailRate    float64 `json:"ghl_fail_rate"`
	GHLConfigError int     `json:"ghl_config_errors"`

	SFAttempted int     `json:"sf_attempted"`
	SFSent      int     `json:"sf_sent"`
	SFFailed    int     `json:"sf_failed"`
	SFFailRate  float64 `json:"sf_fail_rate"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers delivery metrics from the lead store.
type Collector struct {
	store   store.Store
	nowFunc func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st, nowFunc: time.Now}
}

// Collect summarizes leads created within the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.nowFunc().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	for offset := 0; ; offset += collectPageSize {
		leads, err := c.store.ListLeads(ctx, store.LeadFilter{
			CreatedAfter: cutoff,
			Limit:        collectPageSize,
			Offset:       offset,
		})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list leads")
		}
		for i := range leads {
			snap.add(&leads[i])
		}
		if len(leads) < collectPageSize {
			break
		}
	}

	snap.GHLFailRate = rate(snap.GHLFailed, snap.GHLAttempted)
	snap.SFFailRate = rate(snap.SFFailed, snap.SFAttempted)
	return snap, nil
}

func (s *MetricsSnapshot) add(l *model.Lead) {
	s.LeadsTotal++
	if l.WebhookSent {
		s.WebhookSent++
	}

	if l.GHLSentAt != nil {
		s.GHLAttempted++
		if l.GHLSent {
			s.GHLSent++
		} else {
			s.GHLFailed++
		}
		if strings.HasPrefix(l.GHLError, "VALIDATION ERROR") {
			s.GHLConfigError++
		}
	}

	if l.SFSentAt != nil {
		s.SFAttempted++
		if l.SFSent {
			s.SFSent++
		} else {
			s.SFFailed++
		}
	}
}

func rate(failed, attempted int) float64 {
	if attempted == 0 {
		return 0
	}
	return float64(failed) / float64(attempted)
}
