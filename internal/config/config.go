package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	CORS       CORSConfig       `yaml:"cors" mapstructure:"cors"`
	Webhook    WebhookConfig    `yaml:"webhook" mapstructure:"webhook"`
	GHL        GHLConfig        `yaml:"ghl" mapstructure:"ghl"`
	Delivery   DeliveryConfig   `yaml:"delivery" mapstructure:"delivery"`
	Circuit    CircuitConfig    `yaml:"circuit" mapstructure:"circuit"`
	Retry      RetryConfig      `yaml:"retry" mapstructure:"retry"`
	Diagnosis  DiagnosisConfig  `yaml:"diagnosis" mapstructure:"diagnosis"`
	Salesforce SalesforceConfig `yaml:"salesforce" mapstructure:"salesforce"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// ServerConfig configures the intake HTTP server.
type ServerConfig struct {
	Port                int `yaml:"port" mapstructure:"port"`
	ShutdownTimeoutSecs int `yaml:"shutdown_timeout_secs" mapstructure:"shutdown_timeout_secs"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// CORSConfig configures cross-origin access for the browser form.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// WebhookConfig holds the automation webhook (Zapier) settings.
// An empty URL disables webhook delivery.
type WebhookConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

// GHLConfig holds GoHighLevel (LeadConnector) API settings.
type GHLConfig struct {
	APIKey             string   `yaml:"api_key" mapstructure:"api_key"`
	LocationID         string   `yaml:"location_id" mapstructure:"location_id"`
	BaseURL            string   `yaml:"base_url" mapstructure:"base_url"`
	FallbackBaseURL    string   `yaml:"fallback_base_url" mapstructure:"fallback_base_url"`
	Version            string   `yaml:"version" mapstructure:"version"`
	Tags               []string `yaml:"tags" mapstructure:"tags"`
	DiagnoseBeforeSend bool     `yaml:"diagnose_before_send" mapstructure:"diagnose_before_send"`
	RateLimit          float64  `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// Enabled reports whether CRM delivery is configured.
func (c GHLConfig) Enabled() bool {
	return c.APIKey != ""
}

// DeliveryConfig bounds background forwarding work.
type DeliveryConfig struct {
	TimeoutSecs   int `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	MaxConcurrent int `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// CircuitConfig configures the per-integration circuit breakers.
type CircuitConfig struct {
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs int `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// RetryConfig configures retries of best-effort status writes.
type RetryConfig struct {
	MaxAttempts      int `yaml:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoffMs int `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms"`
}

// DiagnosisConfig configures caching of CRM diagnoses.
type DiagnosisConfig struct {
	CacheTTLSecs int    `yaml:"cache_ttl_secs" mapstructure:"cache_ttl_secs"`
	RedisURL     string `yaml:"redis_url" mapstructure:"redis_url"`
}

// SalesforceConfig holds Salesforce JWT auth settings for the lead mirror.
type SalesforceConfig struct {
	ClientID   string  `yaml:"client_id" mapstructure:"client_id"`
	Username   string  `yaml:"username" mapstructure:"username"`
	KeyPath    string  `yaml:"key_path" mapstructure:"key_path"`
	LoginURL   string  `yaml:"login_url" mapstructure:"login_url"`
	LeadSource string  `yaml:"lead_source" mapstructure:"lead_source"`
	RateLimit  float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
}

// Enabled reports whether the Salesforce mirror is configured.
func (c SalesforceConfig) Enabled() bool {
	return c.ClientID != ""
}

// MonitoringConfig configures delivery health alerts.
type MonitoringConfig struct {
	Enabled              bool    `yaml:"enabled" mapstructure:"enabled"`
	Schedule             string  `yaml:"schedule" mapstructure:"schedule"`
	LookbackWindowHours  int     `yaml:"lookback_window_hours" mapstructure:"lookback_window_hours"`
	FailureRateThreshold float64 `yaml:"failure_rate_threshold" mapstructure:"failure_rate_threshold"`
	MinSample            int     `yaml:"min_sample" mapstructure:"min_sample"`
	AlertCooldownMins    int     `yaml:"alert_cooldown_mins" mapstructure:"alert_cooldown_mins"`
	WebhookURL           string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// legacyEnv maps config keys to the environment names used by the
// original serverless deployment, so existing secrets keep working.
var legacyEnv = map[string]string{
	"ghl.api_key":        "GHL_API_KEY",
	"ghl.location_id":    "GHL_LOCATION_ID",
	"webhook.url":        "ZAPIER_WEBHOOK_URL",
	"store.database_url": "DATABASE_URL",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	// A .env file in the working directory fills in unset variables only.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrap(err, "config: load .env")
	}

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		envKey := "LEADS_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
		if err := v.BindEnv(key, envKey, legacy); err != nil {
			return nil, eris.Wrapf(err, "config: bind env %s", key)
		}
	}

	// Defaults
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 2)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.shutdown_timeout_secs", 15)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("cors.allowed_origins", []string{"*"})
	v.SetDefault("ghl.base_url", "https://services.leadconnectorhq.com")
	v.SetDefault("ghl.fallback_base_url", "https://rest.gohighlevel.com")
	v.SetDefault("ghl.version", "2021-07-28")
	v.SetDefault("ghl.tags", []string{"website-lead", "cash-buyer"})
	v.SetDefault("ghl.diagnose_before_send", true)
	v.SetDefault("ghl.rate_limit", 5.0)
	v.SetDefault("delivery.timeout_secs", 10)
	v.SetDefault("delivery.max_concurrent", 16)
	v.SetDefault("circuit.failure_threshold", 5)
	v.SetDefault("circuit.reset_timeout_secs", 60)
	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_backoff_ms", 200)
	v.SetDefault("diagnosis.cache_ttl_secs", 300)
	v.SetDefault("salesforce.login_url", "https://login.salesforce.com")
	v.SetDefault("salesforce.lead_source", "Website Form")
	v.SetDefault("salesforce.rate_limit", 2.0)
	v.SetDefault("monitoring.schedule", "@every 15m")
	v.SetDefault("monitoring.lookback_window_hours", 24)
	v.SetDefault("monitoring.failure_rate_threshold", 0.25)
	v.SetDefault("monitoring.min_sample", 5)
	v.SetDefault("monitoring.alert_cooldown_mins", 60)

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}
	cfg.trimSecrets()

	return &cfg, nil
}

// trimSecrets strips whitespace that operators routinely paste along with
// API keys and ids.
func (c *Config) trimSecrets() {
	c.GHL.APIKey = strings.TrimSpace(c.GHL.APIKey)
	c.GHL.LocationID = strings.TrimSpace(c.GHL.LocationID)
	c.Webhook.URL = strings.TrimSpace(c.Webhook.URL)
	c.Store.DatabaseURL = strings.TrimSpace(c.Store.DatabaseURL)
	c.Diagnosis.RedisURL = strings.TrimSpace(c.Diagnosis.RedisURL)
	c.Monitoring.WebhookURL = strings.TrimSpace(c.Monitoring.WebhookURL)
}

// Validate checks values that would otherwise fail late, at first use.
// All problems are reported together.
func (c *Config) Validate() error {
	var errs []string

	switch c.Store.Driver {
	case "postgres":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required for postgres (LEADS_STORE_DATABASE_URL)")
		}
	case "sqlite":
	default:
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Delivery.TimeoutSecs <= 0 {
		errs = append(errs, "delivery.timeout_secs must be > 0")
	}

	urls := []struct {
		key string
		raw string
	}{
		{"webhook.url", c.Webhook.URL},
		{"ghl.base_url", c.GHL.BaseURL},
		{"ghl.fallback_base_url", c.GHL.FallbackBaseURL},
		{"monitoring.webhook_url", c.Monitoring.WebhookURL},
	}
	for _, u := range urls {
		if u.raw == "" {
			continue
		}
		if err := validateHTTPURL(u.raw); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", u.key, err))
		}
	}

	if c.GHL.Enabled() && c.GHL.BaseURL == "" {
		errs = append(errs, "ghl.base_url is required when ghl.api_key is set")
	}
	if c.Salesforce.Enabled() && c.Salesforce.KeyPath == "" {
		errs = append(errs, "salesforce.key_path is required when salesforce.client_id is set")
	}
	if c.Monitoring.Enabled && (c.Monitoring.FailureRateThreshold <= 0 || c.Monitoring.FailureRateThreshold > 1) {
		errs = append(errs, "monitoring.failure_rate_threshold must be in (0, 1]")
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateHTTPURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return eris.Wrapf(err, "url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return eris.Errorf("url %q must use http or https", raw)
	}
	if u.Host == "" {
		return eris.Errorf("url %q has no host", raw)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
