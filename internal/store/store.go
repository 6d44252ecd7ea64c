package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/model"
)

// ErrNotFound is returned (wrapped) when a lead id does not exist.
var ErrNotFound = eris.New("lead not found")

// LeadFilter specifies criteria for listing leads.
type LeadFilter struct {
	CreatedAfter time.Time `json:"created_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for submitted leads.
type Store interface {
	CreateLead(ctx context.Context, sub model.Submission) (*model.Lead, error)
	UpdateLead(ctx context.Context, id string, u model.LeadUpdate) error
	GetLead(ctx context.Context, id string) (*model.Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) ([]model.Lead, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

const defaultListLimit = 100

// leadColumns is the select list shared by both backends.
const leadColumns = `id, address, phone, sms_consent, is_listed, condition, timeline, asking_price,
	first_name, last_name, email,
	webhook_sent, webhook_sent_at,
	ghl_sent, ghl_sent_at, ghl_error, ghl_response,
	sf_sent, sf_sent_at, sf_lead_id, sf_error,
	created_at, updated_at`

type column struct {
	name  string
	value any
}

// updateColumns flattens the non-nil fields of u in a stable order.
func updateColumns(u model.LeadUpdate) []column {
	var cols []column
	add := func(name string, set bool, v any) {
		if set {
			cols = append(cols, column{name: name, value: v})
		}
	}
	add("webhook_sent", u.WebhookSent != nil, deref(u.WebhookSent))
	add("webhook_sent_at", u.WebhookSentAt != nil, deref(u.WebhookSentAt))
	add("ghl_sent", u.GHLSent != nil, deref(u.GHLSent))
	add("ghl_sent_at", u.GHLSentAt != nil, deref(u.GHLSentAt))
	add("ghl_error", u.GHLError != nil, deref(u.GHLError))
	add("ghl_response", u.GHLResponse != nil, deref(u.GHLResponse))
	add("sf_sent", u.SFSent != nil, deref(u.SFSent))
	add("sf_sent_at", u.SFSentAt != nil, deref(u.SFSentAt))
	add("sf_lead_id", u.SFLeadID != nil, deref(u.SFLeadID))
	add("sf_error", u.SFError != nil, deref(u.SFError))
	return cols
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

func listLimit(filter LeadFilter) int {
	if filter.Limit <= 0 {
		return defaultListLimit
	}
	return filter.Limit
}

type scannable interface {
	Scan(dest ...any) error
}

// scanLead reads one row selected with leadColumns. The caller maps the
// backend's no-rows error.
func scanLead(row scannable) (*model.Lead, error) {
	var l model.Lead
	err := row.Scan(
		&l.ID, &l.Address, &l.Phone, &l.SMSConsent, &l.IsListed, &l.Condition, &l.Timeline, &l.AskingPrice,
		&l.FirstName, &l.LastName, &l.Email,
		&l.WebhookSent, &l.WebhookSentAt,
		&l.GHLSent, &l.GHLSentAt, &l.GHLError, &l.GHLResponse,
		&l.SFSent, &l.SFSentAt, &l.SFLeadID, &l.SFError,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
