package payment

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/edufund-checkout/internal/lock"
)

// ErrCaptureInProgress is returned when another capture for the same order
// is still running.
var ErrCaptureInProgress = errors.New("payment: capture already in progress")

// CaptureFunc performs the provider capture.
type CaptureFunc func(ctx context.Context) (CaptureResult, error)

// CaptureGuard lets an order be captured at most once. A repeated capture
// of an already captured order returns the stored result with replayed set.
// Failed captures are not recorded so the buyer may try again.
type CaptureGuard interface {
	Do(ctx context.Context, orderID string, capture CaptureFunc) (result CaptureResult, replayed bool, err error)
}

// RedisCaptureGuard records captures in Redis and serialises concurrent
// attempts with a lock.
type RedisCaptureGuard struct {
	R       redis.UniversalClient
	Locker  lock.Locker
	TTL     time.Duration
	LockTTL time.Duration
}

func captureKey(orderID string) string { return "capture:" + orderID }

// Do implements CaptureGuard.
func (g RedisCaptureGuard) Do(ctx context.Context, orderID string, capture CaptureFunc) (CaptureResult, bool, error) {
	key := captureKey(orderID)
	if res, ok, err := g.load(ctx, key); err != nil || ok {
		return res, ok, err
	}

	var (
		out      CaptureResult
		replayed bool
	)
	err := g.Locker.TryWithLock(ctx, "lock:"+key, g.LockTTL, func(ctx context.Context) error {
		res, ok, err := g.load(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			out, replayed = res, true
			return nil
		}
		res, err = capture(ctx)
		if err != nil {
			return err
		}
		out = res
		g.store(ctx, key, res)
		return nil
	})
	if errors.Is(err, lock.ErrNotAcquired) {
		return CaptureResult{}, false, ErrCaptureInProgress
	}
	return out, replayed, err
}

func (g RedisCaptureGuard) load(ctx context.Context, key string) (CaptureResult, bool, error) {
	data, err := g.R.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return CaptureResult{}, false, nil
	}
	if err != nil {
		return CaptureResult{}, false, err
	}
	var res CaptureResult
	if err := json.Unmarshal(data, &res); err != nil {
		return CaptureResult{}, false, err
	}
	return res, true, nil
}

func (g RedisCaptureGuard) store(ctx context.Context, key string, res CaptureResult) {
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	data, err := json.Marshal(res)
	if err == nil {
		// use a fresh context so a cancelled request still records the capture
		storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		err = g.R.Set(storeCtx, key, data, ttl).Err()
	}
	if err != nil {
		// the money has moved; losing the record only weakens dedup
		zerolog.Ctx(ctx).Error().Err(err).Str("order_id", res.OrderID).Msg("capture_record_store_failed")
	}
}

// MemoryCaptureGuard is the in-process CaptureGuard used when Redis is not
// configured. It only dedupes within one server process.
type MemoryCaptureGuard struct {
	TTL time.Duration

	mu        sync.Mutex
	inflight  map[string]struct{}
	done      map[string]memoryCapture
	now       func() time.Time
	lastSweep time.Time
}

type memoryCapture struct {
	result CaptureResult
	at     time.Time
}

// NewMemoryCaptureGuard constructs an empty guard.
func NewMemoryCaptureGuard(ttl time.Duration) *MemoryCaptureGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &MemoryCaptureGuard{
		TTL:      ttl,
		inflight: make(map[string]struct{}),
		done:     make(map[string]memoryCapture),
		now:      time.Now,
	}
}

// Do implements CaptureGuard.
func (g *MemoryCaptureGuard) Do(ctx context.Context, orderID string, capture CaptureFunc) (CaptureResult, bool, error) {
	g.mu.Lock()
	if rec, ok := g.done[orderID]; ok {
		if g.now().Sub(rec.at) < g.TTL {
			g.mu.Unlock()
			return rec.result, true, nil
		}
		delete(g.done, orderID)
	}
	if _, busy := g.inflight[orderID]; busy {
		g.mu.Unlock()
		return CaptureResult{}, false, ErrCaptureInProgress
	}
	g.inflight[orderID] = struct{}{}
	g.mu.Unlock()

	res, err := capture(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.inflight, orderID)
	if err != nil {
		return CaptureResult{}, false, err
	}
	now := g.now()
	g.sweep(now)
	g.done[orderID] = memoryCapture{result: res, at: now}
	return res, false, nil
}

// Len reports how many capture results are currently recorded.
func (g *MemoryCaptureGuard) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.done)
}

// sweep drops expired records. It runs at most once per minute (or per TTL
// when shorter) and must be called with g.mu held.
func (g *MemoryCaptureGuard) sweep(now time.Time) {
	every := min(g.TTL, time.Minute)
	if now.Sub(g.lastSweep) < every {
		return
	}
	g.lastSweep = now
	for id, rec := range g.done {
		if now.Sub(rec.at) >= g.TTL {
			delete(g.done, id)
		}
	}
}
