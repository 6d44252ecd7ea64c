package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/config"
	"github.com/sells-group/lead-intake/internal/diagnose"
	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/pkg/ghl"
)

type fakeDiagnoser struct {
	d     *model.Diagnosis
	err   error
	calls atomic.Int32
}

func (f *fakeDiagnoser) Diagnose(context.Context) (*model.Diagnosis, error) {
	f.calls.Add(1)
	return f.d, f.err
}

type crmServer struct {
	*httptest.Server
	calls   atomic.Int32
	contact atomic.Value
}

func newCRMServer(t *testing.T, status int, body string) *crmServer {
	t.Helper()
	s := &crmServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		var c ghl.Contact
		_ = json.NewDecoder(r.Body).Decode(&c)
		s.contact.Store(c)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestGHL(t *testing.T, srv *crmServer, st *memStore, opts GHLOptions) *GHLForwarder {
	t.Helper()
	if opts.APIKey == "" {
		opts.APIKey = "pit-11111111-2222"
	}
	opts.Retry = fastRetry()
	client := ghl.NewClient(opts.APIKey, opts.LocationID, ghl.WithBaseURL(srv.URL))
	f := NewGHLForwarder(client, st, opts)
	f.nowFunc = fixedNow
	return f
}

func TestGHLForwarder_Success(t *testing.T) {
	srv := newCRMServer(t, http.StatusCreated, `{"contact":{"id":"c-9"}}`)
	st := newMemStore(testLead())
	f := newTestGHL(t, srv, st, GHLOptions{LocationID: "ve9EPM428h8vShlRW1KT"})

	require.NoError(t, f.Forward(context.Background(), testPayload()))

	l := st.lead("lead-1")
	assert.True(t, l.GHLSent)
	require.NotNil(t, l.GHLSentAt)
	assert.Equal(t, fixedNow(), *l.GHLSentAt)
	assert.True(t, strings.HasPrefix(l.GHLResponse, "Success via 127.0.0.1:"))
	assert.Contains(t, l.GHLResponse, `{"contact":{"id":"c-9"}}`)
	assert.Empty(t, l.GHLError)

	c := srv.contact.Load().(ghl.Contact)
	assert.Equal(t, "Dana", c.FirstName)
	assert.Equal(t, "42 Elm St, Tulsa, OK", c.Address1)
	assert.Equal(t, DefaultGHLTags, c.Tags)
	assert.Equal(t, []ghl.CustomField{
		{Key: "property_condition", Value: "needs work"},
		{Key: "timeline", Value: "asap"},
		{Key: "asking_price", Value: "150000"},
		{Key: "is_listed", Value: "No"},
		{Key: "sms_consent", Value: "Yes"},
		{Key: "lead_source", Value: "website_form"},
	}, c.CustomFields)
}

func TestGHLForwarder_LocationEqualsKeySkipsCall(t *testing.T) {
	srv := newCRMServer(t, http.StatusCreated, `{}`)
	st := newMemStore(testLead())
	diag := &fakeDiagnoser{}
	f := newTestGHL(t, srv, st, GHLOptions{
		APIKey:     "abc123secret",
		LocationID: "abc123secret",
		Diagnoser:  diag,
	})

	err := f.Forward(context.Background(), testPayload())

	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Zero(t, srv.calls.Load())
	assert.Zero(t, diag.calls.Load())

	l := st.lead("lead-1")
	assert.False(t, l.GHLSent)
	assert.True(t, strings.HasPrefix(l.GHLError, "VALIDATION ERROR:"))
	assert.Contains(t, l.GHLError, "GHL_API_KEY")
	require.NotNil(t, l.GHLSentAt)
}

func TestGHLForwarder_TokenShapedLocationSkipsCall(t *testing.T) {
	srv := newCRMServer(t, http.StatusCreated, `{}`)
	st := newMemStore(testLead())
	f := newTestGHL(t, srv, st, GHLOptions{LocationID: "pit-99999999"})

	err := f.Forward(context.Background(), testPayload())

	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
	assert.Zero(t, srv.calls.Load())
	assert.Equal(t, "VALIDATION ERROR: GHL_LOCATION_ID appears to be a PIT token instead of a Location ID", st.lead("lead-1").GHLError)
}

func TestGHLForwarder_NonSuccessRecordsError(t *testing.T) {
	body := `{"message":"Forbidden"}` + strings.Repeat(" ", 600)
	srv := newCRMServer(t, http.StatusForbidden, body)
	st := newMemStore(testLead())
	f := newTestGHL(t, srv, st, GHLOptions{})

	err := f.Forward(context.Background(), testPayload())

	var de *DeliveryError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, http.StatusForbidden, de.Status)

	l := st.lead("lead-1")
	assert.False(t, l.GHLSent)
	assert.True(t, strings.HasPrefix(l.GHLError, "127.0.0.1:"))
	assert.Contains(t, l.GHLError, " - Status: 403, Error: {\"message\":\"Forbidden\"}")
	assert.LessOrEqual(t, len(l.GHLError), len(srv.Listener.Addr().String())+len(" - Status: 403, Error: ")+maxErrorText)
	assert.Equal(t, body, l.GHLResponse)
}

func TestGHLForwarder_TransportErrorRecordsException(t *testing.T) {
	srv := newCRMServer(t, http.StatusOK, `{}`)
	srv.Close()
	st := newMemStore(testLead())
	f := newTestGHL(t, srv, st, GHLOptions{})

	err := f.Forward(context.Background(), testPayload())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(st.lead("lead-1").GHLError, "Exception: "))
}

func TestGHLForwarder_PreflightDiagnosisRecorded(t *testing.T) {
	tests := []struct {
		name   string
		d      *model.Diagnosis
		prefix string
	}{
		{
			name:   "ok",
			d:      &model.Diagnosis{OK: true, Code: model.DiagnosisAllPassedPrimary, Diagnosis: "All tests passed"},
			prefix: "Diagnosis: ",
		},
		{
			name:   "forbidden",
			d:      &model.Diagnosis{Code: model.DiagnosisForbiddenWithoutLocation, Diagnosis: "Forbidden for contacts"},
			prefix: "ACCESS ERROR: ",
		},
		{
			name:   "token shaped location",
			d:      &model.Diagnosis{LocationIDLooksLikeToken: true, Code: model.DiagnosisAllFailed, Diagnosis: "Both failed"},
			prefix: "CRITICAL CONFIG ERROR: ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newCRMServer(t, http.StatusBadRequest, `bad`)
			st := newMemStore(testLead())
			f := newTestGHL(t, srv, st, GHLOptions{Diagnoser: &fakeDiagnoser{d: tt.d}})

			_ = f.Forward(context.Background(), testPayload())

			require.GreaterOrEqual(t, st.updateCount(), 2)
			first := st.updates[0]
			require.NotNil(t, first.GHLResponse)
			assert.Equal(t, tt.prefix+tt.d.Diagnosis, *first.GHLResponse)
			assert.Nil(t, first.GHLSent)
			assert.Equal(t, int32(1), srv.calls.Load(), "diagnosis never blocks delivery")
		})
	}
}

func TestGHLForwarder_PreflightFailureDoesNotBlock(t *testing.T) {
	srv := newCRMServer(t, http.StatusOK, `{"contact":{"id":"c-1"}}`)
	st := newMemStore(testLead())
	f := newTestGHL(t, srv, st, GHLOptions{Diagnoser: &fakeDiagnoser{err: errors.New("redis gone")}})

	require.NoError(t, f.Forward(context.Background(), testPayload()))
	assert.Equal(t, int32(1), srv.calls.Load())
	assert.True(t, st.lead("lead-1").GHLSent)
}

func TestGHLForwarder_OpenBreakerSkipsCall(t *testing.T) {
	srv := newCRMServer(t, http.StatusServiceUnavailable, `maintenance`)
	st := newMemStore(testLead())
	cb := resilience.NewCircuitBreaker(TargetGHL, resilience.CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Hour,
		ShouldTrip:       ShouldTrip,
	})
	f := newTestGHL(t, srv, st, GHLOptions{Breaker: cb})

	for range 2 {
		require.Error(t, f.Forward(context.Background(), testPayload()))
	}
	require.Equal(t, resilience.CircuitOpen, cb.State())

	err := f.Forward(context.Background(), testPayload())
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.Equal(t, int32(2), srv.calls.Load())
	assert.Contains(t, st.lead("lead-1").GHLError, "Exception: ")
}

func TestShouldTrip(t *testing.T) {
	assert.False(t, ShouldTrip(nil))
	assert.True(t, ShouldTrip(errors.New("connection refused")))
	assert.True(t, ShouldTrip(&ghl.StatusError{Status: 503}))
	assert.True(t, ShouldTrip(&ghl.StatusError{Status: 429}))
	assert.False(t, ShouldTrip(&ghl.StatusError{Status: 403}))
	assert.False(t, ShouldTrip(&ConfigurationError{Target: TargetGHL, Reason: "x"}))
}

func TestGHLForwarder_SlowFallbackLeavesTimeForContact(t *testing.T) {
	var creates atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			creates.Add(1)
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"contact":{"id":"c-1"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"locations":[]}`))
	}))
	t.Cleanup(primary.Close)

	release := make(chan struct{})
	fallback := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(fallback.Close)
	t.Cleanup(func() { close(release) })

	const key, loc = "pit-11111111-2222", "ve9EPM428h8vShlRW1KT"
	client := ghl.NewClient(key, loc, ghl.WithBaseURL(primary.URL), ghl.WithFallbackBaseURL(fallback.URL))
	st := newMemStore(testLead())
	f := NewGHLForwarder(client, st, GHLOptions{
		APIKey:     key,
		LocationID: loc,
		Diagnoser:  diagnose.NewProber(client, key, loc),
		Retry:      fastRetry(),
	})
	f.nowFunc = fixedNow

	d := NewDispatcher(config.DeliveryConfig{TimeoutSecs: 1})
	defer d.Close()
	for _, task := range Tasks(testPayload(), f) {
		d.Submit(context.Background(), task)
	}
	require.NoError(t, d.Drain(context.Background()))

	assert.Equal(t, int32(1), creates.Load())
	l := st.lead("lead-1")
	assert.True(t, l.GHLSent)
	assert.Empty(t, l.GHLError)
	assert.Equal(t, int64(1), d.Stats().Completed)
}

func TestGHLForwarder_PreflightBudget(t *testing.T) {
	f := NewGHLForwarder(ghl.NewClient("k", ""), newMemStore(), GHLOptions{})

	assert.Equal(t, defaultPreflightTimeout, f.preflightBudget(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	budget := f.preflightBudget(ctx)
	assert.LessOrEqual(t, budget, time.Second)
	assert.Greater(t, budget, 500*time.Millisecond)
}
