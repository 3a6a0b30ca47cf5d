package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache stores resolved grants as JSON blobs, one key per user.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache builds a cache namespaced under prefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(userID string) string {
	return c.prefix + ":" + userID
}

// Get returns the cached grants or ErrCacheMiss. A blob that fails to
// decode is dropped and reported as a miss so the resolver re-resolves.
func (c *RedisCache) Get(ctx context.Context, userID string) (*Grants, error) {
	data, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	var grants Grants
	if err := json.Unmarshal(data, &grants); err != nil {
		_ = c.client.Del(ctx, c.key(userID)).Err()
		return nil, ErrCacheMiss
	}
	return &grants, nil
}

// Set caches the grants for ttl. Non-positive TTLs are rejected; callers
// that want caching off use NoopCache instead.
func (c *RedisCache) Set(ctx context.Context, userID string, grants *Grants, ttl time.Duration) error {
	if userID == "" || grants == nil {
		return fmt.Errorf("%w: grants without user", ErrCacheUnavailable)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: non-positive ttl", ErrCacheUnavailable)
	}

	data, err := json.Marshal(grants)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	if err := c.client.Set(ctx, c.key(userID), data, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Delete drops one user's cached grants. Deleting an absent entry is a
// no-op.
func (c *RedisCache) Delete(ctx context.Context, userID string) error {
	if err := c.client.Del(ctx, c.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
