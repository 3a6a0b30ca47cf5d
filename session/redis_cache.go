package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// extendIndexScript raises the per-user index TTL to at least the TTL of
// the session just cached, without ever shortening it.
const extendIndexScript = `
local ttl = redis.call("PTTL", KEYS[1])
if ttl == -2 then
  return 0
end
local desired = tonumber(ARGV[1])
if ttl == -1 or ttl < desired then
  redis.call("PEXPIRE", KEYS[1], desired)
end
return 1
`

var extendIndexLua = redis.NewScript(extendIndexScript)

// RedisCache is the go-redis Cache implementation. Values are binary
// session blobs; a per-user set of session IDs backs DeleteAllForUser.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache builds a cache namespaced under prefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

func (c *RedisCache) key(id string) string {
	return c.prefix + ":" + id
}

func (c *RedisCache) userKey(userID string) string {
	return c.prefix + ":user:" + userID
}

// Get returns the cached session or ErrCacheMiss. A blob that fails to
// decode is dropped and reported as a miss so the caller falls back to the
// durable store.
func (c *RedisCache) Get(ctx context.Context, id string) (*Session, error) {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	sess, err := Decode(data)
	if err != nil {
		_ = c.client.Del(ctx, c.key(id)).Err()
		return nil, ErrCacheMiss
	}
	return sess, nil
}

// Set caches the session under its ID and records the ID in the per-user
// index. Non-positive TTLs are rejected; the index TTL only ever grows.
func (c *RedisCache) Set(ctx context.Context, sess *Session, ttl time.Duration) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("%w: session without ID", ErrCacheUnavailable)
	}
	if ttl <= 0 {
		return fmt.Errorf("%w: non-positive ttl", ErrCacheUnavailable)
	}

	data, err := Encode(sess)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	userKey := c.userKey(sess.UserID)
	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, c.key(sess.ID), data, ttl)
		pipe.SAdd(ctx, userKey, sess.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	if err := extendIndexLua.Run(ctx, c.client, []string{userKey}, ttl.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// Delete drops one cached session and its index entry. Deleting an absent
// session is a no-op.
func (c *RedisCache) Delete(ctx context.Context, id string) error {
	data, err := c.client.Get(ctx, c.key(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	userID := ""
	if sess, decErr := Decode(data); decErr == nil {
		userID = sess.UserID
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, c.key(id))
		if userID != "" {
			pipe.SRem(ctx, c.userKey(userID), id)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}

// DeleteAllForUser drops every cached session recorded in the user's
// index. The read and delete phases are separate commands, so a session
// cached concurrently can survive this call; it will age out with its TTL
// and the durable store remains authoritative either way.
func (c *RedisCache) DeleteAllForUser(ctx context.Context, userID string) error {
	userKey := c.userKey(userID)

	ids, err := c.client.SMembers(ctx, userKey).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, c.key(id))
	}
	keys = append(keys, userKey)

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCacheUnavailable, err)
	}
	return nil
}
