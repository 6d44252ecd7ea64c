// Package intake accepts lead submissions from the website form, stores them,
// and hands them to the background forwarders.
package intake

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/delivery"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/store"
)

// Scheduler runs delivery tasks without blocking the caller.
type Scheduler interface {
	Submit(ctx context.Context, t delivery.Task)
}

// Service is the submission state machine: validate, persist, schedule
// forwarding, answer.
type Service struct {
	store      store.Store
	scheduler  Scheduler
	forwarders []delivery.Forwarder
	nowFunc    func() time.Time
}

// NewService creates a Service. Only configured forwarders should be passed.
func NewService(st store.Store, sched Scheduler, fwds ...delivery.Forwarder) *Service {
	return &Service{
		store:      st,
		scheduler:  sched,
		forwarders: fwds,
		nowFunc:    time.Now,
	}
}

// Submit validates and stores sub, schedules forwarding and returns the new
// lead id. Once the lead is stored Submit always succeeds.
func (s *Service) Submit(ctx context.Context, sub model.Submission) (string, error) {
	sub = sub.Normalize()
	log := zap.L().With(zap.String("component", "intake"))

	log.Info("intake: received submission",
		zap.String("first_name", sub.FirstName),
		zap.String("email", maskEmail(sub.Email)),
		zap.String("phone", maskPhone(sub.Phone)),
		zap.String("timeline", sub.Timeline),
	)

	if err := Validate(sub); err != nil {
		log.Info("intake: rejected submission", zap.Error(err))
		return "", err
	}

	lead, err := s.store.CreateLead(ctx, sub)
	if err != nil {
		log.Error("intake: failed to store lead", zap.Error(err))
		return "", &PersistenceError{Err: err}
	}
	log = log.With(zap.String("lead_id", lead.ID))
	log.Info("intake: lead stored")

	payload := model.NewLeadPayload(*lead, s.nowFunc())
	for _, t := range delivery.Tasks(payload, s.forwarders...) {
		s.scheduler.Submit(ctx, t)
		log.Debug("intake: forwarding scheduled", zap.String("target", t.Name))
	}
	if len(s.forwarders) == 0 {
		log.Info("intake: no forwarders configured")
	}

	return lead.ID, nil
}

// Targets returns the names of the configured forwarders.
func (s *Service) Targets() []string {
	names := make([]string, 0, len(s.forwarders))
	for _, fw := range s.forwarders {
		names = append(names, fw.Name())
	}
	return names
}

// Resend forwards a stored lead again, synchronously, through the named
// targets (all configured targets when none are given). Each target's
// outcome is recorded on the lead as usual and returned by name.
func (s *Service) Resend(ctx context.Context, id string, targets ...string) (map[string]error, error) {
	for _, t := range targets {
		if !slices.Contains(s.Targets(), t) {
			return nil, eris.Errorf("intake: forwarder %q is not configured (have %s)", t, strings.Join(s.Targets(), ", "))
		}
	}

	lead, err := s.store.GetLead(ctx, id)
	if err != nil {
		return nil, eris.Wrap(err, "intake: resend")
	}

	payload := model.NewLeadPayload(*lead, s.nowFunc())
	results := make(map[string]error)
	for _, fw := range s.forwarders {
		if len(targets) > 0 && !slices.Contains(targets, fw.Name()) {
			continue
		}
		results[fw.Name()] = fw.Forward(ctx, payload)
	}
	return results, nil
}

func maskEmail(email string) string {
	at := strings.IndexByte(email, '@')
	if at <= 0 {
		return "***"
	}
	return email[:1] + "***" + email[at:]
}

func maskPhone(phone string) string {
	if len(phone) <= 4 {
		return "***"
	}
	return "***" + phone[len(phone)-4:]
}
