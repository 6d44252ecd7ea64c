package main

import (
	"context"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/delivery"
	"github.com/sells-group/lead-intake/internal/diagnose"
	"github.com/sells-group/lead-intake/internal/resilience"
	"github.com/sells-group/lead-intake/internal/store"
	"github.com/sells-group/lead-intake/pkg/ghl"
	"github.com/sells-group/lead-intake/pkg/salesforce"
)

// appEnv holds the store, integrations and forwarders shared by the serve
// and leads commands.
type appEnv struct {
	Store      store.Store
	Breakers   *resilience.ServiceBreakers
	Diagnoser  diagnose.Diagnoser
	Forwarders []delivery.Forwarder

	redis *redis.Client // may be nil
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.redis != nil {
		_ = e.redis.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv validates config, opens and migrates the store, and builds every
// configured forwarder. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	env := &appEnv{
		Store:    st,
		Breakers: newBreakers(),
	}

	ghlClient := newGHLClient()
	env.Diagnoser, env.redis = initDiagnoser(ctx, ghlClient)

	retry := resilience.FromRetryConfig(cfg.Retry)

	if cfg.Webhook.URL != "" {
		env.Forwarders = append(env.Forwarders, delivery.NewWebhookForwarder(cfg.Webhook.URL, st, retry))
	} else {
		zap.L().Info("webhook url not set, webhook forwarding disabled")
	}

	if cfg.GHL.Enabled() {
		opts := delivery.GHLOptions{
			APIKey:     cfg.GHL.APIKey,
			LocationID: cfg.GHL.LocationID,
			Tags:       cfg.GHL.Tags,
			Breaker:    env.Breakers.Get(delivery.TargetGHL),
			Retry:      retry,
		}
		if cfg.GHL.DiagnoseBeforeSend {
			opts.Diagnoser = env.Diagnoser
		}
		env.Forwarders = append(env.Forwarders, delivery.NewGHLForwarder(ghlClient, st, opts))
	} else {
		zap.L().Warn("GHL_API_KEY not set, CRM forwarding disabled")
	}

	if cfg.Salesforce.Enabled() {
		sfClient, err := initSalesforce()
		if err != nil {
			zap.L().Warn("salesforce init failed, lead mirror disabled", zap.Error(err))
		} else {
			env.Forwarders = append(env.Forwarders, delivery.NewSalesforceForwarder(
				sfClient, st, cfg.Salesforce.LeadSource,
				env.Breakers.Get(delivery.TargetSalesforce), retry,
			))
			zap.L().Info("salesforce lead mirror enabled")
		}
	}

	return env, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "leads.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initSalesforce() (salesforce.Client, error) {
	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	return salesforce.Dial(salesforce.Creds{
		LoginURL:      cfg.Salesforce.LoginURL,
		Username:      cfg.Salesforce.Username,
		ClientID:      cfg.Salesforce.ClientID,
		PrivateKeyPEM: string(pemData),
	}, salesforce.WithRateLimit(cfg.Salesforce.RateLimit))
}

func newGHLClient() ghl.Client {
	return ghl.NewClient(cfg.GHL.APIKey, cfg.GHL.LocationID,
		ghl.WithBaseURL(cfg.GHL.BaseURL),
		ghl.WithFallbackBaseURL(cfg.GHL.FallbackBaseURL),
		ghl.WithVersion(cfg.GHL.Version),
		ghl.WithRateLimit(cfg.GHL.RateLimit),
	)
}

// initDiagnoser builds the CRM prober, cached in Redis when a redis url is
// configured and reachable.
func initDiagnoser(ctx context.Context, client ghl.Client) (diagnose.Diagnoser, *redis.Client) {
	prober := diagnose.NewProber(client, cfg.GHL.APIKey, cfg.GHL.LocationID)
	if cfg.Diagnosis.RedisURL == "" || cfg.Diagnosis.CacheTTLSecs <= 0 {
		return prober, nil
	}

	rdb, err := diagnose.DialRedis(ctx, cfg.Diagnosis.RedisURL)
	if err != nil {
		zap.L().Warn("redis unavailable, diagnosis cache disabled", zap.Error(err))
		return prober, nil
	}
	ttl := time.Duration(cfg.Diagnosis.CacheTTLSecs) * time.Second
	zap.L().Info("diagnosis cache enabled", zap.Duration("ttl", ttl))
	return diagnose.NewCachedProber(prober, rdb, cfg.GHL.APIKey, cfg.GHL.LocationID, ttl), rdb
}

// newBreakers builds the per-integration breakers. Only transient CRM
// failures count toward opening a breaker.
func newBreakers() *resilience.ServiceBreakers {
	cbCfg := resilience.FromCircuitConfig(cfg.Circuit)
	cbCfg.ShouldTrip = delivery.ShouldTrip
	return resilience.NewServiceBreakers(cbCfg)
}
