// Package rate implementa rate limiting fixed-window por IP para los
// endpoints del bridge. Redis en producción (ventana compartida entre
// réplicas), memoria en desarrollo y tests.
package rate

import (
	"context"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	rdb "github.com/redis/go-redis/v9"
)

type Result struct {
	Allowed     bool
	Remaining   int64
	RetryAfter  time.Duration
	CurrentHits int64
}

// Limiter permite límites distintos por endpoint sobre el mismo backend.
type Limiter interface {
	AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

func windowKey(key string, window time.Duration, now time.Time) string {
	winStart := now.UTC().Truncate(window)
	return fmt.Sprintf("%s:%d", strings.ReplaceAll(key, " ", "_"), winStart.Unix())
}

// RedisLimiter: fixed window sencillo (INCR + EXPIRE).
type RedisLimiter struct {
	Client *rdb.Client
	Prefix string
}

func NewRedisLimiter(client *rdb.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "rl:"
	}
	return &RedisLimiter{Client: client, Prefix: prefix}
}

func (l *RedisLimiter) AllowWithLimits(ctx context.Context, key string, limit int, window time.Duration) (Result, error) {
	redisKey := l.Prefix + windowKey(key, window, time.Now())

	pipe := l.Client.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	ttl := pipe.TTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}
	if incr.Val() == 1 {
		_ = l.Client.Expire(ctx, redisKey, window).Err()
		ttl = l.Client.TTL(ctx, redisKey)
	}

	hits := incr.Val()
	res := Result{
		Allowed:     hits <= int64(limit),
		Remaining:   max64(int64(limit)-hits, 0),
		CurrentHits: hits,
	}
	if !res.Allowed {
		res.RetryAfter = ttl.Val()
		if res.RetryAfter <= 0 {
			res.RetryAfter = window
		}
	}
	return res, nil
}

// MemoryLimiter: mismo algoritmo sobre go-cache, para dev y tests.
type MemoryLimiter struct {
	c *gocache.Cache
}

func NewMemoryLimiter() *MemoryLimiter {
	return &MemoryLimiter{c: gocache.New(time.Minute, 5*time.Minute)}
}

func (l *MemoryLimiter) AllowWithLimits(_ context.Context, key string, limit int, window time.Duration) (Result, error) {
	now := time.Now()
	k := windowKey(key, window, now)

	if err := l.c.Add(k, int64(1), window); err != nil {
		// la ventana ya existe: incrementar
		if _, err := l.c.IncrementInt64(k, 1); err != nil {
			// expiró entre Add e Increment; arrancar ventana nueva
			l.c.Set(k, int64(1), window)
		}
	}
	var hits int64 = 1
	if v, ok := l.c.Get(k); ok {
		if n, ok := v.(int64); ok {
			hits = n
		}
	}

	res := Result{
		Allowed:     hits <= int64(limit),
		Remaining:   max64(int64(limit)-hits, 0),
		CurrentHits: hits,
	}
	if !res.Allowed {
		res.RetryAfter = time.Until(now.UTC().Truncate(window).Add(window))
		if res.RetryAfter <= 0 {
			res.RetryAfter = window
		}
	}
	return res, nil
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
