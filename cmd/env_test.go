package main

import (
	"context"
	"net"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/lead-intake/internal/config"
	"github.com/sells-group/lead-intake/internal/delivery"
	"github.com/sells-group/lead-intake/internal/diagnose"
	"github.com/sells-group/lead-intake/internal/model"
)

func setTestConfig(t *testing.T, mutate func(*config.Config)) {
	t.Helper()
	c := &config.Config{
		Store:    config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "leads.db")},
		Server:   config.ServerConfig{Port: 8080, ShutdownTimeoutSecs: 5},
		Delivery: config.DeliveryConfig{TimeoutSecs: 10, MaxConcurrent: 4},
		GHL: config.GHLConfig{
			BaseURL:            "https://services.leadconnectorhq.com",
			DiagnoseBeforeSend: true,
		},
	}
	if mutate != nil {
		mutate(c)
	}
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func forwarderNames(fwds []delivery.Forwarder) []string {
	names := make([]string, 0, len(fwds))
	for _, fw := range fwds {
		names = append(names, fw.Name())
	}
	return names
}

func TestInitEnv_NoIntegrations(t *testing.T) {
	setTestConfig(t, nil)

	env, err := initEnv(context.Background())
	require.NoError(t, err)
	defer env.Close()

	assert.Empty(t, env.Forwarders)
	require.NotNil(t, env.Diagnoser)
	assert.IsType(t, &diagnose.Prober{}, env.Diagnoser)

	_, err = env.Diagnoser.Diagnose(context.Background())
	assert.ErrorIs(t, err, diagnose.ErrMissingAPIKey)

	lead, err := env.Store.CreateLead(context.Background(), model.Submission{Address: "1 Main", FirstName: "A"})
	require.NoError(t, err)
	assert.NotEmpty(t, lead.ID)
}

func TestInitEnv_WebhookAndCRM(t *testing.T) {
	setTestConfig(t, func(c *config.Config) {
		c.Webhook.URL = "https://hooks.zapier.com/hooks/catch/1/abc"
		c.GHL.APIKey = "pit-0123456789abcdef"
		c.GHL.LocationID = "loc123"
	})

	env, err := initEnv(context.Background())
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, []string{delivery.TargetWebhook, delivery.TargetGHL}, forwarderNames(env.Forwarders))
	assert.Contains(t, env.Breakers.States(), delivery.TargetGHL)
}

func TestInitEnv_SalesforceKeyMissing(t *testing.T) {
	setTestConfig(t, func(c *config.Config) {
		c.Salesforce.ClientID = "client"
		c.Salesforce.Username = "ops@example.com"
		c.Salesforce.KeyPath = filepath.Join(t.TempDir(), "missing.pem")
	})

	env, err := initEnv(context.Background())
	require.NoError(t, err)
	defer env.Close()

	assert.Empty(t, env.Forwarders)
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	setTestConfig(t, func(c *config.Config) { c.Store.Driver = "mysql" })

	_, err := initEnv(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not supported")
}

func TestInitDiagnoser_Cached(t *testing.T) {
	mr := miniredis.RunT(t)
	setTestConfig(t, func(c *config.Config) {
		c.GHL.APIKey = "pit-0123456789abcdef"
		c.Diagnosis.RedisURL = "redis://" + mr.Addr()
		c.Diagnosis.CacheTTLSecs = 60
	})

	d, rdb := initDiagnoser(context.Background(), newGHLClient())
	require.NotNil(t, rdb)
	defer rdb.Close() //nolint:errcheck
	assert.IsType(t, &diagnose.CachedProber{}, d)
}

func TestInitDiagnoser_RedisDown(t *testing.T) {
	setTestConfig(t, func(c *config.Config) {
		c.Diagnosis.RedisURL = "redis://127.0.0.1:1"
		c.Diagnosis.CacheTTLSecs = 60
	})

	d, rdb := initDiagnoser(context.Background(), newGHLClient())
	assert.Nil(t, rdb)
	assert.IsType(t, &diagnose.Prober{}, d)
}

func TestNewBreakers_IgnoresConfigErrors(t *testing.T) {
	setTestConfig(t, func(c *config.Config) { c.Circuit.FailureThreshold = 1 })

	cb := newBreakers().Get(delivery.TargetGHL)
	_ = cb.Execute(context.Background(), func(context.Context) error {
		return &delivery.ConfigurationError{Target: delivery.TargetGHL, Reason: "bad location"}
	})
	assert.Equal(t, "closed", cb.State().String())
}

type slowForwarder struct{ done chan struct{} }

func (s *slowForwarder) Name() string { return "slow" }

func (s *slowForwarder) Forward(context.Context, model.LeadPayload) error {
	time.Sleep(50 * time.Millisecond)
	close(s.done)
	return nil
}

func TestShutdown_DrainsDispatcher(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	srv := &http.Server{Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	go func() { _ = srv.Serve(ln) }()

	d := delivery.NewDispatcher(config.DeliveryConfig{TimeoutSecs: 5})
	fw := &slowForwarder{done: make(chan struct{})}
	for _, task := range delivery.Tasks(model.LeadPayload{LeadID: "lead-1"}, fw) {
		d.Submit(context.Background(), task)
	}

	require.NoError(t, shutdown(srv, d, 5*time.Second))

	select {
	case <-fw.done:
	default:
		t.Fatal("shutdown returned before in-flight forwarding finished")
	}
	assert.Equal(t, int64(1), d.Stats().Completed)
}
