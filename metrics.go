package authcore

import (
	"sync/atomic"
	"time"
)

// MetricID names one engine counter. The set is closed; exporters iterate
// [0, MetricCount) and rely on the order being append-only across
// releases.
type MetricID uint16

const (
	MetricLoginSuccess MetricID = iota
	MetricLoginFailure
	MetricLoginRateLimited
	MetricLockout
	MetricMFARequired
	MetricMFASuccess
	MetricMFAFailure
	MetricBackupCodeUsed
	MetricBackupCodeFailed
	MetricRefreshSuccess
	MetricRefreshFailure
	MetricRefreshReuse
	MetricLogout
	MetricSessionCreated
	MetricSessionRevoked
	MetricSessionsSwept
	MetricResetRequested
	MetricResetCompleted
	MetricResetFailed
	MetricPasswordChanged
	MetricAuditDropped
	MetricLoginLatency
	MetricCount
)

const (
	histBucketCount = 8
	cacheLineSize   = 64
)

// HistogramBucketBounds are the upper bounds, in milliseconds, of the
// login latency buckets; the final bucket is unbounded.
var HistogramBucketBounds = [histBucketCount - 1]int64{5, 10, 25, 50, 100, 250, 500}

type paddedCounter struct {
	value uint64
	_     [cacheLineSize - 8]byte
}

type latencyHistogram struct {
	buckets [histBucketCount]uint64
}

// Metrics is the engine's hot-path counter set. Counters are padded to
// cache lines so concurrent logins do not false-share; reads take a
// consistent-enough snapshot without stopping writers.
type Metrics struct {
	enabled       bool
	enableLatency bool
	counters      [MetricCount]paddedCounter
	latency       latencyHistogram
}

// MetricsSnapshot is a point-in-time copy for exporters. Histograms holds
// the login latency buckets only when the histogram is enabled.
type MetricsSnapshot struct {
	Counters   map[MetricID]uint64
	Histograms map[MetricID][]uint64
}

// NewMetrics builds the counter set. A disabled config still returns a
// usable value whose methods are no-ops.
func NewMetrics(cfg MetricsConfig) *Metrics {
	return &Metrics{
		enabled:       cfg.Enabled,
		enableLatency: cfg.Enabled && cfg.EnableLatencyHistogram,
	}
}

// Enabled reports whether counters are being recorded. Nil-safe.
func (m *Metrics) Enabled() bool {
	return m != nil && m.enabled
}

// Inc adds one to the counter.
func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

// Add adds n to the counter. Used by bulk operations such as the session
// sweep.
func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || !m.enabled || id >= MetricCount {
		return
	}
	atomic.AddUint64(&m.counters[id].value, n)
}

// ObserveLoginLatency records one login duration in the histogram. A
// no-op unless the latency histogram is enabled.
func (m *Metrics) ObserveLoginLatency(d time.Duration) {
	if m == nil || !m.enableLatency {
		return
	}
	atomic.AddUint64(&m.latency.buckets[latencyBucket(d)], 1)
}

// Value reads one counter.
func (m *Metrics) Value(id MetricID) uint64 {
	if m == nil || id >= MetricCount {
		return 0
	}
	return atomic.LoadUint64(&m.counters[id].value)
}

// Snapshot copies every counter, and the latency buckets when enabled.
func (m *Metrics) Snapshot() MetricsSnapshot {
	if m == nil || !m.enabled {
		return MetricsSnapshot{
			Counters:   map[MetricID]uint64{},
			Histograms: map[MetricID][]uint64{},
		}
	}

	s := MetricsSnapshot{
		Counters:   make(map[MetricID]uint64, int(MetricCount)),
		Histograms: make(map[MetricID][]uint64, 1),
	}
	for id := MetricID(0); id < MetricCount; id++ {
		s.Counters[id] = atomic.LoadUint64(&m.counters[id].value)
	}
	if m.enableLatency {
		buckets := make([]uint64, histBucketCount)
		for i := range buckets {
			buckets[i] = atomic.LoadUint64(&m.latency.buckets[i])
		}
		s.Histograms[MetricLoginLatency] = buckets
	}
	return s
}

func latencyBucket(d time.Duration) int {
	ms := d.Milliseconds()
	for i, bound := range HistogramBucketBounds {
		if ms <= bound {
			return i
		}
	}
	return histBucketCount - 1
}
