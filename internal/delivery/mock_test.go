package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
)

// memStore is an in-memory store.Store that applies updates the way the SQL
// backends do and remembers every update it received.
type memStore struct {
	mu        sync.Mutex
	leads     map[string]*model.Lead
	updates   []model.LeadUpdate
	updateErr []error
}

func newMemStore(leads ...*model.Lead) *memStore {
	m := &memStore{leads: make(map[string]*model.Lead)}
	for _, l := range leads {
		m.leads[l.ID] = l
	}
	return m
}

func (m *memStore) CreateLead(_ context.Context, sub model.Submission) (*model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := model.NewLead("lead-"+sub.Email, sub, time.Now())
	m.leads[l.ID] = l
	return l, nil
}

func (m *memStore) UpdateLead(_ context.Context, id string, u model.LeadUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.updateErr) > 0 {
		err := m.updateErr[0]
		m.updateErr = m.updateErr[1:]
		return err
	}
	l, ok := m.leads[id]
	if !ok {
		return eris.Wrapf(store.ErrNotFound, "lead %s", id)
	}
	m.updates = append(m.updates, u)
	if u.WebhookSent != nil {
		l.WebhookSent = *u.WebhookSent
	}
	if u.WebhookSentAt != nil {
		l.WebhookSentAt = u.WebhookSentAt
	}
	if u.GHLSent != nil {
		l.GHLSent = *u.GHLSent
	}
	if u.GHLSentAt != nil {
		l.GHLSentAt = u.GHLSentAt
	}
	if u.GHLError != nil {
		l.GHLError = *u.GHLError
	}
	if u.GHLResponse != nil {
		l.GHLResponse = *u.GHLResponse
	}
	if u.SFSent != nil {
		l.SFSent = *u.SFSent
	}
	if u.SFSentAt != nil {
		l.SFSentAt = u.SFSentAt
	}
	if u.SFLeadID != nil {
		l.SFLeadID = *u.SFLeadID
	}
	if u.SFError != nil {
		l.SFError = *u.SFError
	}
	return nil
}

func (m *memStore) GetLead(_ context.Context, id string) (*model.Lead, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leads[id]
	if !ok {
		return nil, eris.Wrapf(store.ErrNotFound, "lead %s", id)
	}
	cp := *l
	return &cp, nil
}

func (m *memStore) ListLeads(context.Context, store.LeadFilter) ([]model.Lead, error) {
	return nil, nil
}

func (m *memStore) Ping(context.Context) error    { return nil }
func (m *memStore) Migrate(context.Context) error { return nil }
func (m *memStore) Close() error                  { return nil }

func (m *memStore) lead(id string) model.Lead {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.leads[id]
}

func (m *memStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.updates)
}

var _ store.Store = (*memStore)(nil)

func testLead() *model.Lead {
	return model.NewLead("lead-1", model.Submission{
		Address:     "42 Elm St, Tulsa, OK",
		Phone:       "918-555-0100",
		SMSConsent:  true,
		IsListed:    "no",
		Condition:   "needs work",
		Timeline:    "asap",
		AskingPrice: "150000",
		FirstName:   "Dana",
		LastName:    "Reyes",
		Email:       "dana@example.com",
	}, time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
}

func testPayload() model.LeadPayload {
	return model.NewLeadPayload(*testLead(), time.Date(2026, 3, 1, 9, 0, 1, 0, time.UTC))
}

func fastRetry() resilience.RetryConfig {
	return resilience.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
}

func fixedNow() time.Time {
	return time.Date(2026, 3, 1, 9, 0, 2, 0, time.UTC)
}
