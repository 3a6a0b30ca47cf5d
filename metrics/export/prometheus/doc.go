// Package prometheus adapts engine metric snapshots to a
// prometheus.Collector.
//
// [NewCollector] wraps anything with a MetricsSnapshot method, normally
// an authcore.Engine, and publishes every counter plus the login latency
// histogram. Counter names are prefixed authcore_*_total; the histogram
// is authcore_login_latency_seconds. Nothing is registered globally;
// callers either register the collector in their own registry or mount
// [Handler].
package prometheus
