package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/noah-isme/edufund-checkout/internal/common"
	"github.com/noah-isme/edufund-checkout/internal/config"
	"github.com/noah-isme/edufund-checkout/internal/events"
	"github.com/noah-isme/edufund-checkout/internal/health"
	"github.com/noah-isme/edufund-checkout/internal/lock"
	"github.com/noah-isme/edufund-checkout/internal/payment"
	"github.com/noah-isme/edufund-checkout/internal/ratelimit"
	"github.com/noah-isme/edufund-checkout/internal/resilience"
)

// Dependencies enumerates the services shared by the HTTP layer.
type Dependencies struct {
	Config      *config.Config
	Logger      zerolog.Logger
	Redis       redis.UniversalClient
	Credentials payment.Credentials
	Events      *events.Bus
	Payments    *payment.Service
	Limiter     ratelimit.Allower
	Idem        common.Idem
	Health      health.Handler
}

// Options tweak Build for callers that bring their own clients.
type Options struct {
	// Redis overrides REDIS_URL when set.
	Redis          redis.UniversalClient
	RedisTracing   bool
	RedisMetrics   bool
	ProviderClient func(target string) *http.Client
}

// Build wires the payment services from cfg. A configured Redis must answer
// a ping; without Redis the capture guard and rate limiter fall back to
// per-process state. The returned close function releases the Redis client.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts Options) (*Dependencies, func(), error) {
	closeFn := func() {}
	rdb := opts.Redis
	if rdb == nil && cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, closeFn, fmt.Errorf("parse redis url: %w", err)
		}
		client := redis.NewClient(redisOpts)
		if opts.RedisTracing {
			if err := redisotel.InstrumentTracing(client); err != nil {
				logger.Error().Err(err).Msg("instrument redis tracing")
			}
		}
		if opts.RedisMetrics {
			if err := redisotel.InstrumentMetrics(client); err != nil {
				logger.Error().Err(err).Msg("instrument redis metrics")
			}
		}
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			_ = client.Close()
			return nil, closeFn, fmt.Errorf("ping redis: %w", err)
		}
		rdb = client
		closeFn = func() {
			if err := client.Close(); err != nil {
				logger.Error().Err(err).Msg("close redis")
			}
		}
	}

	clientFor := opts.ProviderClient
	if clientFor == nil {
		clientFor = func(target string) *http.Client { return ProviderHTTPClient(cfg, target, logger) }
	}

	creds := payment.NewCredentials(cfg)
	bus := events.NewBus(events.LogNotifier{Logger: logger})

	var guard payment.CaptureGuard
	var limiter ratelimit.Allower
	if rdb != nil {
		guard = payment.RedisCaptureGuard{
			R:       rdb,
			Locker:  lock.Locker{R: rdb},
			TTL:     cfg.CaptureRecordTTL,
			LockTTL: cfg.CaptureLockTTL,
		}
		limiter = ratelimit.RedisWindow{
			Client: rdb,
			Prefix: "rl:checkout:",
			Window: cfg.RateLimitWindow,
			Max:    cfg.RateLimitMax,
		}
	} else {
		logger.Warn().Msg("redis not configured; capture guard and rate limits are per process")
		guard = payment.NewMemoryCaptureGuard(cfg.CaptureRecordTTL)
		limiter = ratelimit.NewMemory(cfg.RateLimitWindow, cfg.RateLimitMax)
	}

	svc := &payment.Service{
		Intents: payment.NewStripeIntents(payment.StripeOptions{
			Credentials: creds,
			Flags:       cfg.Flags,
			Placeholder: cfg.Stripe.PlaceholderEnabled,
			Timeout:     cfg.ProviderTimeout,
			HTTPClient:  clientFor(payment.ProviderStripe),
			Logger:      logger,
		}),
		Orders: payment.NewPayPalOrders(payment.PayPalOptions{
			Credentials: creds,
			HTTPClient:  clientFor(payment.ProviderPayPal),
			Timeout:     cfg.ProviderTimeout,
			CacheToken:  cfg.PayPal.CacheToken,
			Logger:      logger,
		}),
		Guard:       guard,
		Events:      bus,
		Flags:       cfg.Flags,
		Credentials: creds,
	}

	deps := &Dependencies{
		Config:      cfg,
		Logger:      logger,
		Redis:       rdb,
		Credentials: creds,
		Events:      bus,
		Payments:    svc,
		Limiter:     limiter,
		Idem:        common.Idem{R: rdb, TTL: cfg.IdempotencyTTL},
		Health:      health.Handler{Providers: creds, RedisTimeout: 300 * time.Millisecond},
	}
	if rdb != nil {
		deps.Health.Checker = health.RedisChecker{R: rdb}
	}
	return deps, closeFn, nil
}

// ProviderHTTPClient returns the outbound client for one payment provider:
// a breaker and retry transport wrapped in an otelhttp span per request.
func ProviderHTTPClient(cfg *config.Config, target string, logger zerolog.Logger) *http.Client {
	breaker := resilience.NewBreaker(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenFor).
		WithTarget(target).
		WithLogger(logger)
	transport := &resilience.Transport{
		Base:        http.DefaultTransport,
		Breaker:     breaker,
		Target:      target,
		MaxAttempts: cfg.ProviderRetryMaxAttempts,
		BaseBackoff: cfg.ProviderRetryBaseBackoff,
		Jitter:      0.2,
	}
	return &http.Client{
		Timeout:   cfg.ProviderTimeout,
		Transport: otelhttp.NewTransport(transport),
	}
}
