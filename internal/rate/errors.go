package rate

import "errors"

var (
	// ErrRateLimited reports that a key is over budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrRedisUnavailable wraps transport failures from the Redis-backed
	// limiter so callers can decide whether to fail open.
	ErrRedisUnavailable = errors.New("redis unavailable")
)
