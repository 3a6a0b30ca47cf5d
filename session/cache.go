package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss is the miss signal from Cache.Get.
	ErrCacheMiss = errors.New("session cache miss")
	// ErrCacheUnavailable wraps cache infrastructure failures so callers
	// can tell a miss from an outage.
	ErrCacheUnavailable = errors.New("session cache unavailable")
	// ErrNotFound is returned for sessions that do not exist or are no
	// longer usable.
	ErrNotFound = errors.New("session not found")
)

// Cache is the lookaside layer in front of the durable repository. A Get
// on an unknown ID returns ErrCacheMiss; infrastructure failures wrap
// ErrCacheUnavailable.
type Cache interface {
	Get(ctx context.Context, id string) (*Session, error)
	Set(ctx context.Context, sess *Session, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
	DeleteAllForUser(ctx context.Context, userID string) error
}

// NoopCache disables caching: every read misses and writes vanish. It is
// the Cache used when no Redis client is configured.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*Session, error) { return nil, ErrCacheMiss }

func (NoopCache) Set(context.Context, *Session, time.Duration) error { return nil }

func (NoopCache) Delete(context.Context, string) error { return nil }

func (NoopCache) DeleteAllForUser(context.Context, string) error { return nil }
