//go:build integration
// +build integration

package test

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/session"
)

// redisMode describes which Redis backend the compatibility suite is running against.
type redisMode struct {
	name  string
	setup func(t *testing.T) (redis.UniversalClient, func())
}

// redisModes returns the set of Redis backends to test.
// miniredis is always available.
// Real Redis standalone is used when REDIS_ADDR is set (e.g. "127.0.0.1:6379").
func redisModes(t *testing.T) []redisMode {
	t.Helper()
	modes := []redisMode{
		{
			name: "miniredis",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				mr, err := miniredis.Run()
				if err != nil {
					t.Fatalf("miniredis: %v", err)
				}
				rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
				return rdb, func() { _ = rdb.Close(); mr.Close() }
			},
		},
	}

	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		modes = append(modes, redisMode{
			name: "standalone:" + addr,
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClient(&redis.Options{Addr: addr})
				ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis at %s: %v", addr, err)
				}
				// Flush the test DB to avoid state leaking between runs.
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	// Cluster mode: when REDIS_CLUSTER_ADDRS is set (comma-separated).
	if addrs := os.Getenv("REDIS_CLUSTER_ADDRS"); addrs != "" {
		modes = append(modes, redisMode{
			name: "cluster",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewClusterClient(&redis.ClusterOptions{Addrs: splitAddrs(addrs)})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis cluster: %v", err)
				}
				return rdb, func() { _ = rdb.Close() }
			},
		})
	}

	// Sentinel mode: when REDIS_SENTINEL_ADDRS and REDIS_SENTINEL_MASTER are set.
	if addrs := os.Getenv("REDIS_SENTINEL_ADDRS"); addrs != "" {
		master := os.Getenv("REDIS_SENTINEL_MASTER")
		if master == "" {
			master = "mymaster"
		}
		modes = append(modes, redisMode{
			name: "sentinel",
			setup: func(t *testing.T) (redis.UniversalClient, func()) {
				t.Helper()
				rdb := redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:    master,
					SentinelAddrs: splitAddrs(addrs),
				})
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := rdb.Ping(ctx).Err(); err != nil {
					t.Skipf("cannot connect to Redis sentinel: %v", err)
				}
				rdb.FlushDB(context.Background())
				return rdb, func() { rdb.FlushDB(context.Background()); _ = rdb.Close() }
			},
		})
	}

	return modes
}

func splitAddrs(s string) []string {
	var addrs []string
	for _, a := range strings.Split(s, ",") {
		if a = strings.TrimSpace(a); a != "" {
			addrs = append(addrs, a)
		}
	}
	return addrs
}

func newCompatStore(t *testing.T, rdb redis.UniversalClient) (*session.Store, *intRepo) {
	t.Helper()
	repo := newIntRepo()
	store, err := session.NewStore(repo, session.NewRedisCache(rdb, "ac:compat"), nil, nil)
	if err != nil {
		t.Fatalf("store init: %v", err)
	}
	return store, repo
}

// TestRedisCompatSessionRoundTrip validates create+get across backends.
func TestRedisCompatSessionRoundTrip(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			store, _ := newCompatStore(t, rdb)
			ctx := context.Background()

			sess := makeIntSession("user-rt", "sid-rt", time.Now().Add(time.Hour))
			if err := store.Create(ctx, sess); err != nil {
				t.Fatalf("create: %v", err)
			}

			got, err := store.Get(ctx, "sid-rt")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			if got.UserID != "user-rt" {
				t.Errorf("got UserID=%q, want user-rt", got.UserID)
			}
			if got.RefreshTokenHash != sess.RefreshTokenHash {
				t.Errorf("refresh hash did not round trip")
			}
			if got.TokenVersion != 1 {
				t.Errorf("got TokenVersion=%d, want 1", got.TokenVersion)
			}
		})
	}
}

// TestRedisCompatRevokeIdempotent validates revoke idempotency across backends.
func TestRedisCompatRevokeIdempotent(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			store, _ := newCompatStore(t, rdb)
			ctx := context.Background()

			sess := makeIntSession("user-rev", "sid-rev", time.Now().Add(time.Hour))
			if err := store.Create(ctx, sess); err != nil {
				t.Fatalf("create: %v", err)
			}

			if err := store.Revoke(ctx, "sid-rev"); err != nil {
				t.Fatalf("first revoke: %v", err)
			}
			if err := store.Revoke(ctx, "sid-rev"); err != nil {
				t.Fatalf("second revoke should be idempotent: %v", err)
			}

			if _, err := store.Get(ctx, "sid-rev"); !errors.Is(err, session.ErrNotFound) {
				t.Errorf("expected ErrNotFound after revoke, got %v", err)
			}
		})
	}
}

// TestRedisCompatUserPurge validates bulk revocation and the per-user index
// across backends.
func TestRedisCompatUserPurge(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			store, _ := newCompatStore(t, rdb)
			ctx := context.Background()

			sids := []string{"sid-purge-a", "sid-purge-b", "sid-purge-c"}
			for _, sid := range sids {
				if err := store.Create(ctx, makeIntSession("user-purge", sid, time.Now().Add(time.Hour))); err != nil {
					t.Fatalf("create %s: %v", sid, err)
				}
			}

			n, err := store.RevokeAllForUser(ctx, "user-purge")
			if err != nil {
				t.Fatalf("revoke all: %v", err)
			}
			if n != 3 {
				t.Errorf("expected 3 revoked, got %d", n)
			}

			for _, sid := range sids {
				if _, err := store.Get(ctx, sid); !errors.Is(err, session.ErrNotFound) {
					t.Errorf("%s: expected ErrNotFound after purge, got %v", sid, err)
				}
			}
		})
	}
}

// TestRedisCompatCorruptCacheFallsThrough validates that an undecodable
// cache blob is treated as a miss and the durable copy is served.
func TestRedisCompatCorruptCacheFallsThrough(t *testing.T) {
	for _, mode := range redisModes(t) {
		t.Run(mode.name, func(t *testing.T) {
			rdb, cleanup := mode.setup(t)
			defer cleanup()

			store, _ := newCompatStore(t, rdb)
			ctx := context.Background()

			sess := makeIntSession("user-cor", "sid-cor", time.Now().Add(time.Hour))
			if err := store.Create(ctx, sess); err != nil {
				t.Fatalf("create: %v", err)
			}

			// Clobber the cached blob with garbage.
			if err := rdb.Set(ctx, "ac:compat:sid-cor", "not-a-session", time.Hour).Err(); err != nil {
				t.Fatalf("corrupt set: %v", err)
			}

			got, err := store.Get(ctx, "sid-cor")
			if err != nil {
				t.Fatalf("get after corruption: %v", err)
			}
			if got.UserID != "user-cor" {
				t.Errorf("expected durable copy, got UserID=%q", got.UserID)
			}
		})
	}
}
