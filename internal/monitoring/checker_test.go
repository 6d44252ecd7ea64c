package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/config"
	"github.com/sells-group/lead-intake/internal/model"
)

func failingLeads(n int) []model.Lead {
	leads := make([]model.Lead, n)
	for i := range leads {
		sentAt := time.Now().UTC()
		leads[i] = model.Lead{
			ID:        "l",
			CreatedAt: time.Now().UTC().Add(-time.Minute),
			GHLSentAt: &sentAt,
			GHLError:  "Exception: timeout",
		}
	}
	return leads
}

func TestChecker_Check_SendsAlerts(t *testing.T) {
	var received atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	cfg := config.MonitoringConfig{
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.25,
		MinSample:            5,
		WebhookURL:           ts.URL,
	}
	st := &mockStore{leads: failingLeads(6)}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	sent := checker.Check(context.Background())
	assert.Equal(t, 1, sent)
	assert.Equal(t, int32(1), received.Load())
}

func TestChecker_Check_CollectError(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	st := &mockStore{listErr: errors.New("boom")}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	assert.Equal(t, 0, checker.Check(context.Background()))
}

func TestChecker_RunStopsOnCancel(t *testing.T) {
	cfg := config.MonitoringConfig{
		Schedule:             "@every 1s",
		LookbackWindowHours:  24,
		FailureRateThreshold: 0.10,
	}
	st := &mockStore{}
	checker := NewChecker(NewCollector(st), NewAlerter(cfg), cfg)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- checker.Run(ctx)
	}()

	time.Sleep(1500 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Checker.Run did not stop after context cancellation")
	}
	assert.GreaterOrEqual(t, st.calls, 1)
}

func TestChecker_DefaultSchedule(t *testing.T) {
	checker := NewChecker(NewCollector(&mockStore{}), NewAlerter(config.MonitoringConfig{}), config.MonitoringConfig{})
	assert.Equal(t, DefaultSchedule, checker.cfg.Schedule)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, checker.Run(ctx))
}

func TestChecker_InvalidSchedule(t *testing.T) {
	cfg := config.MonitoringConfig{Schedule: "not a schedule"}
	checker := NewChecker(NewCollector(&mockStore{}), NewAlerter(cfg), cfg)

	err := checker.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid schedule")
}
