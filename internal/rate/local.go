package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// LocalLimiter keeps a token bucket per key in process memory. Each
// bucket holds max tokens and refills completely over one window. A
// janitor goroutine sweeps buckets that have been idle for a full
// window; such a bucket has already refilled, so dropping it forgives
// nothing.
type LocalLimiter struct {
	mu      sync.Mutex
	buckets map[string]*localBucket
	limit   rate.Limit
	burst   int
	idle    time.Duration
	stop    chan struct{}
	once    sync.Once
}

type localBucket struct {
	lim  *rate.Limiter
	seen time.Time
}

var _ Limiter = (*LocalLimiter)(nil)

// NewLocalLimiter creates a limiter allowing max attempts per window for
// each key. Call Close when done to stop the janitor.
func NewLocalLimiter(max int, window time.Duration) *LocalLimiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	idle := window
	if idle < time.Minute {
		idle = time.Minute
	}

	l := &LocalLimiter{
		buckets: make(map[string]*localBucket),
		limit:   rate.Every(window / time.Duration(max)),
		burst:   max,
		idle:    idle,
		stop:    make(chan struct{}),
	}
	go l.janitor()
	return l
}

func (l *LocalLimiter) Check(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	b, ok := l.buckets[key]
	if !ok {
		return nil
	}
	if b.lim.Tokens() < 1 {
		return ErrRateLimited
	}
	return nil
}

func (l *LocalLimiter) Hit(_ context.Context, key string) error {
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		b = &localBucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = time.Now()
	l.mu.Unlock()

	if !b.lim.Allow() {
		return ErrRateLimited
	}
	return nil
}

func (l *LocalLimiter) Reset(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.buckets, key)
	return nil
}

// Close stops the janitor. Safe to call more than once.
func (l *LocalLimiter) Close() {
	l.once.Do(func() { close(l.stop) })
}

func (l *LocalLimiter) janitor() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.sweep(time.Now())
		case <-l.stop:
			return
		}
	}
}

func (l *LocalLimiter) sweep(now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, b := range l.buckets {
		if now.Sub(b.seen) > l.idle {
			delete(l.buckets, key)
		}
	}
}
