package health

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/edufund-checkout/internal/common"
)

var ready atomic.Bool

func init() { ready.Store(true) }

// SetReady toggles readiness; it is cleared when shutdown begins.
func SetReady(v bool) { ready.Store(v) }

// Checker probes Redis. A nil Checker means Redis is not configured.
type Checker interface {
	PingRedis(ctx context.Context, timeout time.Duration) error
}

// ProviderStatus reports which payment providers have credentials.
type ProviderStatus interface {
	Status() map[string]bool
}

// RedisChecker pings a go-redis client.
type RedisChecker struct {
	R redis.UniversalClient
}

// PingRedis implements Checker.
func (c RedisChecker) PingRedis(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.R.Ping(ctx).Err()
}

// Handler exposes HTTP handlers for health endpoints.
type Handler struct {
	Checker      Checker
	Providers    ProviderStatus
	RedisTimeout time.Duration
}

// Live reports liveness status.
func (h Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// Ready reports readiness. Only a configured but unreachable Redis makes the
// service unready; an unconfigured provider is reported but does not, so a
// deployment offering a single provider stays in rotation.
func (h Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !ready.Load() {
		common.JSON(w, http.StatusServiceUnavailable, map[string]any{"status": "shutting_down"})
		return
	}
	status := http.StatusOK
	redisStatus := "disabled"
	if h.Checker != nil {
		redisStatus = "ok"
		if err := h.Checker.PingRedis(r.Context(), h.redisTimeout()); err != nil {
			redisStatus = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	providers := map[string]string{}
	if h.Providers != nil {
		for name, ok := range h.Providers.Status() {
			providers[name] = "not_configured"
			if ok {
				providers[name] = "configured"
			}
		}
	}
	common.JSON(w, status, map[string]any{
		"redis":     redisStatus,
		"providers": providers,
	})
}

func (h Handler) redisTimeout() time.Duration {
	if h.RedisTimeout <= 0 {
		return 300 * time.Millisecond
	}
	return h.RedisTimeout
}
