package delivery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
	"github.com/sells-group/lead-intake/pkg/salesforce"
)

// DefaultLeadSource is written to Lead.LeadSource when none is configured.
const DefaultLeadSource = "Website Form"

// SalesforceForwarder mirrors each lead into a Salesforce Lead record. A lead
// that already carries a Salesforce id is updated instead of duplicated.
type SalesforceForwarder struct {
	client     salesforce.Client
	store      store.Store
	leadSource string
	breaker    *resilience.CircuitBreaker
	status     statusWriter
	nowFunc    func() time.Time
}

// NewSalesforceForwarder creates the mirror forwarder. breaker may be nil.
func NewSalesforceForwarder(client salesforce.Client, st store.Store, leadSource string, breaker *resilience.CircuitBreaker, retry resilience.RetryConfig) *SalesforceForwarder {
	if leadSource == "" {
		leadSource = DefaultLeadSource
	}
	return &SalesforceForwarder{
		client:     client,
		store:      st,
		leadSource: leadSource,
		breaker:    breaker,
		status:     newStatusWriter(st, retry),
		nowFunc:    time.Now,
	}
}

// Name implements Forwarder.
func (f *SalesforceForwarder) Name() string { return TargetSalesforce }

// Forward creates or updates the Salesforce Lead for p.
func (f *SalesforceForwarder) Forward(ctx context.Context, p model.LeadPayload) error {
	log := zap.L().With(zap.String("component", "delivery.salesforce"), zap.String("lead_id", p.LeadID))

	var existingID string
	if l, err := f.store.GetLead(ctx, p.LeadID); err == nil {
		existingID = l.SFLeadID
	} else {
		log.Debug("delivery: could not load lead for salesforce id", zap.Error(err))
	}

	fields := leadFields(p, f.leadSource)
	sfID := existingID
	call := func(ctx context.Context) error {
		if existingID != "" {
			return salesforce.UpdateLead(ctx, f.client, existingID, fields)
		}
		id, err := salesforce.CreateLead(ctx, f.client, fields)
		sfID = id
		return err
	}

	var err error
	if f.breaker != nil {
		err = f.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	if err != nil {
		log.Warn("delivery: salesforce mirror failed", zap.Error(err))
		f.status.record(ctx, TargetSalesforce, p.LeadID, model.LeadUpdate{
			SFSent:   model.Ptr(false),
			SFSentAt: nowUTC(f.nowFunc),
			SFError:  model.Ptr("Exception: " + truncate(err.Error(), maxErrorText)),
		})
		return &DeliveryError{Target: TargetSalesforce, LeadID: p.LeadID, Err: err}
	}

	log.Info("delivery: salesforce lead saved",
		zap.String("sf_lead_id", sfID),
		zap.Bool("updated", existingID != ""),
	)
	f.status.record(ctx, TargetSalesforce, p.LeadID, model.LeadUpdate{
		SFSent:   model.Ptr(true),
		SFSentAt: nowUTC(f.nowFunc),
		SFLeadID: model.Ptr(sfID),
		SFError:  model.Ptr(""),
	})
	return nil
}

// leadFields maps a payload onto standard Lead fields. Company is required
// by Salesforce; sellers are individuals so their name stands in.
func leadFields(p model.LeadPayload, leadSource string) map[string]any {
	company := strings.TrimSpace(p.Contact.FullName)
	if company == "" {
		company = p.Contact.LastName
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Condition: %s\n", p.Property.Condition)
	fmt.Fprintf(&desc, "Timeline: %s\n", p.Property.Timeline)
	fmt.Fprintf(&desc, "Asking price: %s\n", p.Property.AskingPrice)
	fmt.Fprintf(&desc, "Listed: %s\n", yesNo(p.Property.IsListed))
	fmt.Fprintf(&desc, "SMS consent: %s\n", yesNo(p.Contact.SMSConsent))
	fmt.Fprintf(&desc, "Intake lead id: %s", p.LeadID)

	return map[string]any{
		"FirstName":   p.Contact.FirstName,
		"LastName":    p.Contact.LastName,
		"Email":       p.Contact.Email,
		"Phone":       p.Contact.Phone,
		"Street":      p.Property.Address,
		"Company":     company,
		"LeadSource":  leadSource,
		"Description": desc.String(),
	}
}
