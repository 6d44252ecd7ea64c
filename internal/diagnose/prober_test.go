package diagnose

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/model"
	"github.com/sells-group/lead-intake/pkg/ghl"
)

type fakeCRM struct {
	locations int
	contacts  int
	body      string
	calls     atomic.Int32
	sawLocHdr atomic.Bool
}

func newFakeCRM(t *testing.T, locations, contacts int, body string) (*fakeCRM, *httptest.Server) {
	t.Helper()
	f := &fakeCRM{locations: locations, contacts: contacts, body: body}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		switch r.URL.Path {
		case "/v1/locations":
			w.WriteHeader(f.locations)
		case "/v1/contacts/":
			if r.Header.Get("Location-Id") != "" {
				f.sawLocHdr.Store(true)
			}
			w.WriteHeader(f.contacts)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
		_, _ = w.Write([]byte(f.body))
	}))
	t.Cleanup(srv.Close)
	return f, srv
}

func TestDiagnose_MissingAPIKey(t *testing.T) {
	p := NewProber(ghl.NewClient("", ""), "  ", "")
	d, err := p.Diagnose(context.Background())
	assert.ErrorIs(t, err, ErrMissingAPIKey)
	assert.Nil(t, d)
}

func TestDiagnose_AllPassedPrimary(t *testing.T) {
	primary, psrv := newFakeCRM(t, 200, 200, `{"contacts":[]}`)
	fallback, fsrv := newFakeCRM(t, 200, 200, `{}`)

	client := ghl.NewClient("pit-abcdef", "loc-1", ghl.WithBaseURL(psrv.URL), ghl.WithFallbackBaseURL(fsrv.URL))
	p := NewProber(client, "pit-abcdef", "loc-1")
	p.nowFunc = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	d, err := p.Diagnose(context.Background())
	require.NoError(t, err)

	assert.True(t, d.OK)
	assert.Equal(t, model.DiagnosisAllPassedPrimary, d.Code)
	assert.Contains(t, d.Diagnosis, "PRIMARY endpoint")
	assert.Equal(t, psrv.URL, d.RecommendedEndpoint)
	assert.True(t, d.APIKeyPresent)
	assert.Equal(t, "pit", d.APIKeyPrefix)
	assert.Equal(t, 10, d.APIKeyLength)
	assert.True(t, d.LocationIDPresent)
	assert.False(t, d.LocationIDLooksLikeToken)
	assert.Len(t, d.Tests, 4)
	assert.Equal(t, map[string]any{"contacts": []any{}}, d.Tests[model.ProbePrimaryContacts].Body)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), d.CheckedAt)
	assert.Equal(t, int32(2), primary.calls.Load())
	assert.Equal(t, int32(2), fallback.calls.Load())
	assert.True(t, primary.sawLocHdr.Load())
}

func TestDiagnose_FallbackWorks(t *testing.T) {
	_, psrv := newFakeCRM(t, 404, 404, "Not Found")
	_, fsrv := newFakeCRM(t, 200, 200, `{}`)

	client := ghl.NewClient("pit-abc", "loc-1", ghl.WithBaseURL(psrv.URL), ghl.WithFallbackBaseURL(fsrv.URL))
	d, err := NewProber(client, "pit-abc", "loc-1").Diagnose(context.Background())
	require.NoError(t, err)

	assert.True(t, d.OK)
	assert.Equal(t, model.DiagnosisFallbackWorks, d.Code)
	assert.Equal(t, fsrv.URL, d.RecommendedEndpoint)
	assert.Equal(t, "Not Found", d.Tests[model.ProbePrimaryLocations].Body)
}

func TestDiagnose_ForbiddenWithoutLocation(t *testing.T) {
	primary, psrv := newFakeCRM(t, 200, 403, `{"message":"Forbidden"}`)

	client := ghl.NewClient("pit-abc", "", ghl.WithBaseURL(psrv.URL), ghl.WithFallbackBaseURL(""))
	d, err := NewProber(client, "pit-abc", "").Diagnose(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.DiagnosisForbiddenWithoutLocation, d.Code)
	assert.True(t, d.OK, "locations probe succeeded")
	assert.False(t, d.LocationIDPresent)
	assert.Len(t, d.Tests, 2)
	assert.Equal(t, 403, d.Tests[model.ProbePrimaryContacts].Status)
	assert.False(t, primary.sawLocHdr.Load())
	assert.True(t, d.Forbidden())
}

func TestDiagnose_TransportFailureRecordedAsStatusZero(t *testing.T) {
	_, psrv := newFakeCRM(t, 401, 401, `{"msg":"Invalid JWT"}`)
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	client := ghl.NewClient("key", "", ghl.WithBaseURL(psrv.URL), ghl.WithFallbackBaseURL(dead.URL))
	d, err := NewProber(client, "key", "").Diagnose(context.Background())
	require.NoError(t, err)

	fb := d.Tests[model.ProbeFallbackLocations]
	assert.Equal(t, 0, fb.Status)
	assert.False(t, fb.OK)
	assert.NotEmpty(t, fb.Error)
	assert.Equal(t, model.DiagnosisUnauthorized, d.Code)
	assert.False(t, d.OK)
}

func TestDiagnose_CancelledContext(t *testing.T) {
	_, psrv := newFakeCRM(t, 200, 200, `{}`)
	client := ghl.NewClient("key", "", ghl.WithBaseURL(psrv.URL), ghl.WithFallbackBaseURL(""))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewProber(client, "key", "").Diagnose(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "probes interrupted")
}

func TestDecodeBody(t *testing.T) {
	assert.Equal(t, "", decodeBody(nil))
	assert.Equal(t, map[string]any{"a": float64(1)}, decodeBody([]byte(`{"a":1}`)))

	long := strings.Repeat("x", 450)
	got, ok := decodeBody([]byte(long)).(string)
	require.True(t, ok)
	assert.Len(t, got, maxTextBody)
}
