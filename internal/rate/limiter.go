package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Limiter counts attempts per key against a fixed budget. Every method
// returns ErrRateLimited once the key is over budget; the Redis-backed
// implementation additionally returns errors wrapping ErrRedisUnavailable
// on transport failures.
type Limiter interface {
	// Check reports whether key is over budget without spending an attempt.
	Check(ctx context.Context, key string) error
	// Hit spends one attempt for key and enforces the budget.
	Hit(ctx context.Context, key string) error
	// Reset returns key to a full budget.
	Reset(ctx context.Context, key string) error
}

// RedisLimiter is a fixed-window counter: INCR per hit, EXPIRE on the
// first hit of a window. The window is never extended by later hits, so
// a key over budget recovers when the window expires. The small overshoot
// race between concurrent INCRs is accepted.
type RedisLimiter struct {
	client redis.UniversalClient
	prefix string
	max    int
	window time.Duration
}

var _ Limiter = (*RedisLimiter)(nil)

// NewRedisLimiter creates a limiter allowing max attempts per window for
// each key. Keys are stored under prefix to keep limiters with different
// budgets apart in a shared database.
func NewRedisLimiter(client redis.UniversalClient, prefix string, max int, window time.Duration) *RedisLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		client: client,
		prefix: prefix,
		max:    max,
		window: window,
	}
}

func (l *RedisLimiter) key(k string) string {
	return l.prefix + ":" + k
}

func (l *RedisLimiter) Check(ctx context.Context, key string) error {
	count, err := l.client.Get(ctx, l.key(key)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count > int64(l.max) {
		return ErrRateLimited
	}
	return nil
}

func (l *RedisLimiter) Hit(ctx context.Context, key string) error {
	k := l.key(key)
	count, err := l.client.Incr(ctx, k).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: only the first hit starts the window.
	if count == 1 {
		if err := l.client.Expire(ctx, k, l.window).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	if count > int64(l.max) {
		return ErrRateLimited
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.key(key)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
