// Package diagnose probes GoHighLevel credentials and classifies why lead
// delivery to the CRM would fail.
package diagnose

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/pkg/ghl"
)

// ErrMissingAPIKey is returned when no CRM API key is configured.
var ErrMissingAPIKey = eris.New("diagnose: missing GHL API key")

const (
	maxTextBody   = 300
	apiKeyPrefixN = 3
)

// Diagnoser runs a credential diagnosis.
type Diagnoser interface {
	Diagnose(ctx context.Context) (*model.Diagnosis, error)
}

// Prober issues read-only calls against the primary and fallback CRM bases.
type Prober struct {
	client     ghl.Client
	apiKey     string
	locationID string
	nowFunc    func() time.Time
}

// NewProber creates a Prober. client must be built with the same key and
// location id.
func NewProber(client ghl.Client, apiKey, locationID string) *Prober {
	return &Prober{
		client:     client,
		apiKey:     strings.TrimSpace(apiKey),
		locationID: strings.TrimSpace(locationID),
		nowFunc:    time.Now,
	}
}

type probe struct {
	name string
	url  string
	call func(ctx context.Context) (*ghl.Response, error)
}

// Diagnose runs every probe concurrently and classifies the result. A probe
// that fails at the transport level is recorded with status 0.
func (p *Prober) Diagnose(ctx context.Context) (*model.Diagnosis, error) {
	if p.apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	log := zap.L().With(zap.String("component", "diagnose"))

	primary := p.client.BaseURL()
	fallback := p.client.FallbackBaseURL()

	probes := p.probesFor(model.ProbePrimaryLocations, model.ProbePrimaryContacts, primary)
	if fallback != "" {
		probes = append(probes, p.probesFor(model.ProbeFallbackLocations, model.ProbeFallbackContacts, fallback)...)
	}

	results := make([]model.ProbeTest, len(probes))
	var g errgroup.Group
	for i, pr := range probes {
		g.Go(func() error {
			results[i] = runProbe(ctx, pr)
			log.Debug("diagnose: probe finished",
				zap.String("probe", pr.name),
				zap.Int("status", results[i].Status),
			)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "diagnose: probes interrupted")
	}

	d := &model.Diagnosis{
		APIKeyPresent:            true,
		APIKeyPrefix:             prefix(p.apiKey, apiKeyPrefixN),
		APIKeyLength:             len(p.apiKey),
		LocationIDPresent:        p.locationID != "",
		LocationIDLooksLikeToken: ghl.LooksLikeToken(p.locationID),
		Tests:                    make(map[string]model.ProbeTest, len(probes)),
		CheckedAt:                p.nowFunc().UTC(),
	}
	for i, pr := range probes {
		d.Tests[pr.name] = results[i]
		if results[i].OK {
			d.OK = true
		}
	}
	Classify(d, primary, fallback)

	log.Info("diagnose: completed",
		zap.String("code", string(d.Code)),
		zap.Bool("ok", d.OK),
		zap.String("api_key_prefix", d.APIKeyPrefix),
		zap.Int("api_key_length", d.APIKeyLength),
		zap.Bool("location_id_present", d.LocationIDPresent),
	)
	return d, nil
}

func (p *Prober) probesFor(locName, contactsName, base string) []probe {
	return []probe{
		{
			name: locName,
			url:  ghl.LocationsURL(base),
			call: func(ctx context.Context) (*ghl.Response, error) { return p.client.ListLocations(ctx, base) },
		},
		{
			name: contactsName,
			url:  ghl.ContactsProbeURL(base),
			call: func(ctx context.Context) (*ghl.Response, error) { return p.client.ListContacts(ctx, base) },
		},
	}
}

func runProbe(ctx context.Context, pr probe) model.ProbeTest {
	resp, err := pr.call(ctx)
	if err != nil {
		return model.ProbeTest{URL: pr.url, Error: err.Error()}
	}
	return model.ProbeTest{
		URL:    pr.url,
		Status: resp.Status,
		OK:     resp.OK(),
		Body:   decodeBody(resp.Body),
	}
}

// decodeBody returns the parsed JSON value, or the text truncated to
// maxTextBody characters.
func decodeBody(b []byte) any {
	if len(b) == 0 {
		return ""
	}
	var v any
	if err := json.Unmarshal(b, &v); err == nil {
		return v
	}
	return truncate(string(b), maxTextBody)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func prefix(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
