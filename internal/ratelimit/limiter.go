package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
)

// Decision is the outcome of a single limit check.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	Reset     time.Time
}

// Allower records one request for key and decides whether it may proceed.
type Allower interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// RedisWindow is a sliding window limiter backed by Redis sorted sets. It
// is shared by every API replica.
type RedisWindow struct {
	Client redis.UniversalClient
	Prefix string
	Window time.Duration
	Max    int
}

// Allow implements Allower. Rejected requests are not counted against the
// window.
func (l RedisWindow) Allow(ctx context.Context, key string) (Decision, error) {
	now := time.Now()
	if l.Client == nil || l.Max <= 0 || l.Window <= 0 {
		return Decision{Allowed: true, Limit: l.Max, Remaining: l.Max, Reset: now.Add(l.Window)}, nil
	}

	redisKey := l.Prefix + key
	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString())
	cutoff := fmt.Sprintf("%d", now.Add(-l.Window).UnixNano())

	pipe := l.Client.TxPipeline()
	pipe.ZRemRangeByScore(ctx, redisKey, "-inf", "("+cutoff)
	pipe.ZAdd(ctx, redisKey, redis.Z{Score: float64(now.UnixNano()), Member: member})
	count := pipe.ZCard(ctx, redisKey)
	oldest := pipe.ZRangeWithScores(ctx, redisKey, 0, 0)
	pipe.PExpire(ctx, redisKey, l.Window)
	if _, err := pipe.Exec(ctx); err != nil {
		return Decision{}, fmt.Errorf("ratelimit: %w", err)
	}

	current := int(count.Val())
	reset := now.Add(l.Window)
	if first := oldest.Val(); len(first) > 0 {
		reset = time.Unix(0, int64(first[0].Score)).Add(l.Window)
	}
	d := Decision{Allowed: current <= l.Max, Limit: l.Max, Remaining: l.Max - current, Reset: reset}
	if !d.Allowed {
		d.Remaining = 0
		_ = l.Client.ZRem(ctx, redisKey, member).Err()
	}
	return d, nil
}

// Memory is a per-process fixed window limiter used when Redis is not
// configured.
type Memory struct {
	l *limiter.Limiter
}

// NewMemory builds a Memory limiter allowing max requests per window.
func NewMemory(window time.Duration, max int) *Memory {
	rate := limiter.Rate{Period: window, Limit: int64(max)}
	return &Memory{l: limiter.New(memory.NewStore(), rate)}
}

// Allow implements Allower.
func (m *Memory) Allow(ctx context.Context, key string) (Decision, error) {
	c, err := m.l.Get(ctx, key)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: %w", err)
	}
	return Decision{
		Allowed:   !c.Reached,
		Limit:     int(c.Limit),
		Remaining: int(c.Remaining),
		Reset:     time.Unix(c.Reset, 0),
	}, nil
}
