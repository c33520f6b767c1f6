package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

const (
	PayPalEnvSandbox = "sandbox"
	PayPalEnvLive    = "live"

	payPalSandboxURL = "https://api-m.sandbox.paypal.com"
	payPalLiveURL    = "https://api-m.paypal.com"
)

// Config holds application configuration loaded from the environment.
// Provider credentials are optional at load time; handlers report missing
// credentials per request.
type Config struct {
	AppEnv             string
	Port               string
	LogFormat          string
	LogLevel           string
	RedisURL           string
	CORSAllowedOrigins []string
	BodyLimitBytes     int64
	SentryDSN          string

	Stripe StripeConfig
	PayPal PayPalConfig
	Flags  MethodFlags

	ProviderTimeout          time.Duration
	ProviderRetryMaxAttempts int
	ProviderRetryBaseBackoff time.Duration
	BreakerMinRequests       int
	BreakerFailureRatio      float64
	BreakerOpenFor           time.Duration

	CaptureRecordTTL time.Duration
	CaptureLockTTL   time.Duration
	IdempotencyTTL   time.Duration
	RateLimitMax     int
	RateLimitWindow  time.Duration
}

// StripeConfig carries the intent provider credentials.
type StripeConfig struct {
	SecretKey          string
	PublishableKey     string
	BaseURL            string
	PlaceholderEnabled bool
}

// PayPalConfig carries the order/capture provider credentials.
type PayPalConfig struct {
	ClientID     string
	ClientSecret string
	Env          string
	BaseURL      string
	CacheToken   bool
}

// MethodFlags toggles optional payment methods.
type MethodFlags struct {
	Link   bool
	Klarna bool
	ACH    bool
	ACSS   bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	appEnv := valueOrDefault(k.String("APP_ENV"), "development")
	cfg := &Config{
		AppEnv:             appEnv,
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		LogFormat:          valueOrDefault(k.String("LOG_FORMAT"), "json"),
		LogLevel:           valueOrDefault(k.String("LOG_LEVEL"), "info"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		BodyLimitBytes:     int64(parseInt(k.String("BODY_LIMIT_BYTES"), 64<<10)),
		SentryDSN:          strings.TrimSpace(k.String("SENTRY_DSN")),
		Stripe: StripeConfig{
			SecretKey:          strings.TrimSpace(k.String("STRIPE_SECRET_KEY")),
			PublishableKey:     strings.TrimSpace(k.String("STRIPE_PUBLISHABLE_KEY")),
			BaseURL:            strings.TrimSpace(k.String("STRIPE_BASE_URL")),
			PlaceholderEnabled: parseBoolDefault(k.String("STRIPE_PLACEHOLDER_ENABLED"), appEnv != "production"),
		},
		PayPal: PayPalConfig{
			ClientID:     strings.TrimSpace(k.String("PAYPAL_CLIENT_ID")),
			ClientSecret: strings.TrimSpace(k.String("PAYPAL_CLIENT_SECRET")),
			Env:          normalisePayPalEnv(k.String("PAYPAL_ENV")),
			BaseURL:      strings.TrimRight(strings.TrimSpace(k.String("PAYPAL_BASE_URL")), "/"),
			CacheToken:   parseBool(k.String("PAYPAL_TOKEN_CACHE")),
		},
		Flags: MethodFlags{
			// link stays on unless explicitly disabled with "0".
			Link:   strings.TrimSpace(k.String("ENABLE_LINK")) != "0",
			Klarna: strings.TrimSpace(k.String("ENABLE_KLARNA")) == "1",
			ACH:    strings.TrimSpace(k.String("ENABLE_ACH")) == "1",
			ACSS:   strings.TrimSpace(k.String("ENABLE_ACSS")) == "1",
		},
		ProviderTimeout:          parseDuration(k.String("PROVIDER_TIMEOUT"), "15s"),
		ProviderRetryMaxAttempts: parseInt(k.String("PROVIDER_RETRY_MAX_ATTEMPTS"), 3),
		ProviderRetryBaseBackoff: parseDuration(k.String("PROVIDER_RETRY_BASE_BACKOFF"), "200ms"),
		BreakerMinRequests:       parseInt(k.String("BREAKER_MIN_REQUESTS"), 10),
		BreakerFailureRatio:      parseFloat(k.String("BREAKER_FAILURE_RATIO"), 0.5),
		BreakerOpenFor:           parseDuration(k.String("BREAKER_OPEN_FOR"), "30s"),
		CaptureRecordTTL:         parseDuration(k.String("CAPTURE_RECORD_TTL"), "24h"),
		CaptureLockTTL:           parseDuration(k.String("CAPTURE_LOCK_TTL"), "30s"),
		IdempotencyTTL:           parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		RateLimitMax:             parseInt(k.String("RATE_LIMIT_MAX"), 30),
		RateLimitWindow:          parseDuration(k.String("RATE_LIMIT_WINDOW"), "1m"),
	}

	if cfg.ProviderRetryMaxAttempts < 1 {
		cfg.ProviderRetryMaxAttempts = 1
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

// PayPalBaseURL resolves the REST endpoint for the configured environment.
func (c *Config) PayPalBaseURL() string {
	if c.PayPal.BaseURL != "" {
		return c.PayPal.BaseURL
	}
	if c.PayPal.Env == PayPalEnvLive {
		return payPalLiveURL
	}
	return payPalSandboxURL
}

// IsProduction reports whether APP_ENV is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.AppEnv, "production")
}

func normalisePayPalEnv(value string) string {
	if strings.EqualFold(strings.TrimSpace(value), PayPalEnvLive) {
		return PayPalEnvLive
	}
	return PayPalEnvSandbox
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func parseBoolDefault(value string, fallback bool) bool {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return parseBool(value)
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
