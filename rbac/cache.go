package rbac

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss is the miss signal from Cache.Get.
	ErrCacheMiss = errors.New("rbac cache miss")
	// ErrCacheUnavailable wraps cache infrastructure failures so callers
	// can tell a miss from an outage.
	ErrCacheUnavailable = errors.New("rbac cache unavailable")
)

// Cache holds resolved grants per user. A Get on an unknown user returns
// ErrCacheMiss; infrastructure failures wrap ErrCacheUnavailable.
type Cache interface {
	Get(ctx context.Context, userID string) (*Grants, error)
	Set(ctx context.Context, userID string, grants *Grants, ttl time.Duration) error
	Delete(ctx context.Context, userID string) error
}

// NoopCache disables grant caching: every read misses and writes vanish.
type NoopCache struct{}

func (NoopCache) Get(context.Context, string) (*Grants, error) { return nil, ErrCacheMiss }

func (NoopCache) Set(context.Context, string, *Grants, time.Duration) error { return nil }

func (NoopCache) Delete(context.Context, string) error { return nil }
