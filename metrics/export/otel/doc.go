// Package otel binds engine metrics to OpenTelemetry observable
// instruments.
//
// [New] registers an Int64ObservableCounter per engine counter and an
// Int64ObservableGauge per cumulative histogram bucket on a
// caller-supplied Meter. A single callback reads the engine snapshot on
// each collection cycle; the package never owns the MeterProvider.
package otel
