package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/diagnose"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
	"github.com/sells-group/lead-intake/pkg/ghl"
)

// Prefixes written to ghl_response by the pre-flight diagnosis.
const (
	prefixCriticalConfig = "CRITICAL CONFIG ERROR: "
	prefixAccess         = "ACCESS ERROR: "
	prefixDiagnosis      = "Diagnosis: "
)

// defaultPreflightTimeout caps the pre-flight diagnosis. It never gets more
// than half of the time left on the task.
const defaultPreflightTimeout = 3 * time.Second

// DefaultGHLTags are attached to every contact unless configured otherwise.
var DefaultGHLTags = []string{"website-lead", "cash-buyer"}

// GHLForwarder creates a CRM contact for each lead.
type GHLForwarder struct {
	client     ghl.Client
	apiKey     string
	locationID string
	tags       []string
	diagnoser  diagnose.Diagnoser
	breaker    *resilience.CircuitBreaker
	status     statusWriter
	nowFunc    func() time.Time

	preflightTimeout time.Duration
}

// GHLOptions configures a GHLForwarder. A nil Diagnoser skips the pre-flight
// probe; a nil Breaker calls the CRM unguarded.
type GHLOptions struct {
	APIKey     string
	LocationID string
	Tags       []string
	Diagnoser  diagnose.Diagnoser
	Breaker    *resilience.CircuitBreaker
	Retry      resilience.RetryConfig
}

// NewGHLForwarder creates a CRM forwarder.
func NewGHLForwarder(client ghl.Client, st store.Store, opts GHLOptions) *GHLForwarder {
	tags := opts.Tags
	if len(tags) == 0 {
		tags = DefaultGHLTags
	}
	return &GHLForwarder{
		client:     client,
		apiKey:     opts.APIKey,
		locationID: opts.LocationID,
		tags:       tags,
		diagnoser:  opts.Diagnoser,
		breaker:    opts.Breaker,
		status:     newStatusWriter(st, opts.Retry),
		nowFunc:    time.Now,

		preflightTimeout: defaultPreflightTimeout,
	}
}

// Name implements Forwarder.
func (f *GHLForwarder) Name() string { return TargetGHL }

// Forward sends p to the CRM. Every path ends with the attempt recorded on the
// lead; the returned error is for the dispatcher log only.
func (f *GHLForwarder) Forward(ctx context.Context, p model.LeadPayload) error {
	log := zap.L().With(zap.String("component", "delivery.ghl"), zap.String("lead_id", p.LeadID))

	if reason := f.misconfiguration(); reason != "" {
		log.Error("delivery: refusing CRM call", zap.String("reason", reason))
		f.status.record(ctx, TargetGHL, p.LeadID, model.LeadUpdate{
			GHLSent:   model.Ptr(false),
			GHLError:  model.Ptr("VALIDATION ERROR: " + reason),
			GHLSentAt: nowUTC(f.nowFunc),
		})
		return &ConfigurationError{Target: TargetGHL, Reason: reason}
	}

	if f.diagnoser != nil {
		f.preflight(ctx, p.LeadID, log)
	}

	var resp *ghl.Response
	call := func(ctx context.Context) error {
		var err error
		resp, err = f.client.CreateContact(ctx, f.contactFor(p))
		return err
	}
	var err error
	if f.breaker != nil {
		err = f.breaker.Execute(ctx, call)
	} else {
		err = call(ctx)
	}

	var statusErr *ghl.StatusError
	switch {
	case err == nil:
		log.Info("delivery: CRM contact created",
			zap.String("host", resp.Host()),
			zap.String("contact_id", resp.ContactID()),
		)
		f.status.record(ctx, TargetGHL, p.LeadID, model.LeadUpdate{
			GHLSent:     model.Ptr(true),
			GHLSentAt:   nowUTC(f.nowFunc),
			GHLError:    model.Ptr(""),
			GHLResponse: model.Ptr(fmt.Sprintf("Success via %s: %s", resp.Host(), truncate(string(resp.Body), maxErrorText))),
		})
		return nil

	case errors.As(err, &statusErr):
		log.Warn("delivery: CRM rejected contact",
			zap.String("host", statusErr.Host),
			zap.Int("status", statusErr.Status),
			zap.String("body", truncate(statusErr.Body, maxErrorText)),
		)
		f.status.record(ctx, TargetGHL, p.LeadID, model.LeadUpdate{
			GHLSent:     model.Ptr(false),
			GHLSentAt:   nowUTC(f.nowFunc),
			GHLError:    model.Ptr(fmt.Sprintf("%s - Status: %d, Error: %s", statusErr.Host, statusErr.Status, truncate(statusErr.Body, maxErrorText))),
			GHLResponse: model.Ptr(truncate(statusErr.Body, maxResponseText)),
		})
		return &DeliveryError{Target: TargetGHL, LeadID: p.LeadID, Status: statusErr.Status, Err: err}

	default:
		log.Warn("delivery: CRM call failed", zap.Error(err))
		f.status.record(ctx, TargetGHL, p.LeadID, model.LeadUpdate{
			GHLSent:   model.Ptr(false),
			GHLSentAt: nowUTC(f.nowFunc),
			GHLError:  model.Ptr("Exception: " + truncate(err.Error(), maxErrorText)),
		})
		return &DeliveryError{Target: TargetGHL, LeadID: p.LeadID, Err: err}
	}
}

// misconfiguration returns a reason when the location id is clearly not a
// location id, or "" when the configuration looks usable.
func (f *GHLForwarder) misconfiguration() string {
	switch {
	case f.locationID == "":
		return ""
	case ghl.LooksLikeToken(f.locationID):
		return "GHL_LOCATION_ID appears to be a PIT token instead of a Location ID"
	case f.locationID == f.apiKey:
		return "GHL_LOCATION_ID is identical to GHL_API_KEY"
	}
	return ""
}

// preflight records the current diagnosis on the lead. It never blocks
// delivery.
func (f *GHLForwarder) preflight(ctx context.Context, leadID string, log *zap.Logger) {
	pctx, cancel := context.WithTimeout(ctx, f.preflightBudget(ctx))
	d, err := f.diagnoser.Diagnose(pctx)
	cancel()
	if err != nil {
		log.Warn("delivery: pre-flight diagnosis failed", zap.Error(err))
		return
	}

	prefix := prefixDiagnosis
	switch {
	case d.LocationIDLooksLikeToken:
		prefix = prefixCriticalConfig
	case d.Forbidden():
		prefix = prefixAccess
	}
	log.Info("delivery: pre-flight diagnosis",
		zap.String("code", string(d.Code)),
		zap.Bool("ok", d.OK),
	)
	if d.RecommendedEndpoint != "" && d.RecommendedEndpoint != f.client.BaseURL() {
		log.Warn("delivery: diagnosis recommends a different CRM host",
			zap.String("recommended", d.RecommendedEndpoint),
			zap.String("using", f.client.BaseURL()),
		)
	}

	f.status.record(ctx, TargetGHL, leadID, model.LeadUpdate{
		GHLResponse: model.Ptr(prefix + d.Diagnosis),
	})
}

// preflightBudget leaves at least half of the task deadline for the contact
// call.
func (f *GHLForwarder) preflightBudget(ctx context.Context) time.Duration {
	budget := f.preflightTimeout
	if dl, ok := ctx.Deadline(); ok {
		if half := time.Until(dl) / 2; half < budget {
			budget = half
		}
	}
	return budget
}

func (f *GHLForwarder) contactFor(p model.LeadPayload) ghl.Contact {
	return ghl.Contact{
		FirstName: p.Contact.FirstName,
		LastName:  p.Contact.LastName,
		Email:     p.Contact.Email,
		Phone:     p.Contact.Phone,
		Address1:  p.Property.Address,
		Tags:      f.tags,
		CustomFields: []ghl.CustomField{
			{Key: "property_condition", Value: p.Property.Condition},
			{Key: "timeline", Value: p.Property.Timeline},
			{Key: "asking_price", Value: p.Property.AskingPrice},
			{Key: "is_listed", Value: yesNo(p.Property.IsListed)},
			{Key: "sms_consent", Value: yesNo(p.Contact.SMSConsent)},
			{Key: "lead_source", Value: p.Source},
		},
	}
}
