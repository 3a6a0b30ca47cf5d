// Command authcore-loadtest measures session store throughput under
// concurrent load: a read phase (token validation path) and a rotate
// phase (refresh path). It runs against a real Redis when -redis-addr
// or REDIS_ADDR is set, and falls back to in-process miniredis.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
)

type sessionState struct {
	sid     string
	hash    string
	version int
	mu      sync.Mutex
}

func main() {
	var (
		sessions    = flag.Int("sessions", 100000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 256, "number of concurrent workers")
		ops         = flag.Int("ops", 200000, "operations per phase (get + rotate)")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		prefix      = flag.String("prefix", "authcore", "session cache key prefix")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	addr := *redisAddr
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}

	var (
		cleanup func()
		client  redis.UniversalClient
	)
	if addr == "" {
		mr, err := miniredis.Run()
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to start miniredis: %v\n", err)
			os.Exit(1)
		}
		addr = mr.Addr()
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() {
			_ = client.Close()
			mr.Close()
		}
		fmt.Printf("using miniredis at %s\n", addr)
	} else {
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{addr},
		})
		cleanup = func() { _ = client.Close() }
		fmt.Printf("using redis at %s\n", addr)
	}
	defer cleanup()

	// The repository is a map so the run measures the cache path plus
	// store overhead, not database latency.
	store, err := session.NewStore(
		newMapRepo(*sessions),
		session.NewRedisCache(client, *prefix),
		nil,
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store init: %v\n", err)
		os.Exit(1)
	}

	states := make([]sessionState, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := 0; i < *sessions; i++ {
		sid := fmt.Sprintf("sid-%d", i)
		hash := token.HashToken(fmt.Sprintf("refresh-%d", i))
		states[i] = sessionState{sid: sid, hash: hash, version: 1}
		if err := store.Create(ctx, buildSession(sid, hash)); err != nil {
			fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
			os.Exit(1)
		}
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	getStats := runGetPhase(ctx, store, states, *ops, *concurrency)
	rotateStats := runRotatePhase(ctx, store, states, *ops, *concurrency)

	fmt.Println("---- results ----")
	printStats("get", getStats)
	printStats("rotate", rotateStats)
}

func runGetPhase(ctx context.Context, store *session.Store, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*7919))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				t0 := time.Now()
				_, err := store.Get(ctx, states[idx].sid)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

func runRotatePhase(ctx context.Context, store *session.Store, states []sessionState, ops, concurrency int) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*6151))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				idx := r.Intn(len(states))
				state := &states[idx]

				// Per-session lock mirrors the engine: one rotation
				// wins, the replay path never runs here.
				state.mu.Lock()
				next := token.HashToken(fmt.Sprintf("refresh-%d-%d-%d", idx, i, worker))
				version := state.version + 1
				now := time.Now()
				expires := now.Add(24 * time.Hour)
				t0 := time.Now()
				_, err := store.Apply(ctx, state.sid, session.Update{
					RefreshTokenHash: &next,
					TokenVersion:     &version,
					LastAccessAt:     &now,
					ExpiresAt:        &expires,
				})
				d := time.Since(t0)
				if err == nil {
					state.hash = next
					state.version = version
				} else {
					atomic.AddInt64(&failures, 1)
				}
				state.mu.Unlock()

				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}

func buildSession(sid, refreshHash string) *session.Session {
	now := time.Now()
	return &session.Session{
		ID:               sid,
		UserID:           "user-1",
		RefreshTokenHash: refreshHash,
		TokenVersion:     1,
		IPAddress:        "203.0.113.10",
		UserAgent:        "authcore-loadtest",
		CreatedAt:        now,
		ExpiresAt:        now.Add(24 * time.Hour),
		LastAccessAt:     now,
		IsActive:         true,
	}
}

// mapRepo is a map-backed Repository. It exists so the benchmark can
// isolate cache behavior; it is not safe to reuse outside this command.
type mapRepo struct {
	mu   sync.RWMutex
	data map[string]session.Session
}

func newMapRepo(capacity int) *mapRepo {
	return &mapRepo{data: make(map[string]session.Session, capacity)}
}

func (r *mapRepo) Insert(_ context.Context, sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[sess.ID] = *sess
	return nil
}

func (r *mapRepo) FindByID(_ context.Context, id string) (*session.Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.data[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return &sess, nil
}

func (r *mapRepo) Apply(_ context.Context, id string, upd session.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.data[id]
	if !ok {
		return session.ErrNotFound
	}
	if upd.RefreshTokenHash != nil {
		sess.RefreshTokenHash = *upd.RefreshTokenHash
	}
	if upd.TokenVersion != nil {
		sess.TokenVersion = *upd.TokenVersion
	}
	if upd.ExpiresAt != nil {
		sess.ExpiresAt = *upd.ExpiresAt
	}
	if upd.LastAccessAt != nil {
		sess.LastAccessAt = *upd.LastAccessAt
	}
	if upd.IPAddress != nil {
		sess.IPAddress = *upd.IPAddress
	}
	if upd.UserAgent != nil {
		sess.UserAgent = *upd.UserAgent
	}
	r.data[id] = sess
	return nil
}

func (r *mapRepo) MarkRevoked(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.data[id]
	if !ok {
		return nil
	}
	sess.IsActive = false
	if sess.RevokedAt == nil {
		sess.RevokedAt = &at
	}
	r.data[id] = sess
	return nil
}

func (r *mapRepo) MarkRevokedAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, sess := range r.data {
		if sess.UserID != userID || !sess.IsActive {
			continue
		}
		sess.IsActive = false
		sess.RevokedAt = &at
		r.data[id] = sess
		n++
	}
	return n, nil
}

func (r *mapRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, sess := range r.data {
		if sess.ExpiresAt.Before(now) {
			delete(r.data, id)
			n++
		}
	}
	return n, nil
}
