// Package audit records authentication and authorization outcomes as
// immutable events.
//
// Events flow through a Dispatcher that decouples the request path from
// sink latency: a buffered channel feeds a single worker goroutine, and a
// full buffer either drops the event (counted, never blocking) or applies
// backpressure, per configuration. A sink failure or panic can never fail
// the operation that produced the event.
//
// CRITICAL-severity events additionally invoke an alert hook from the
// worker. Network origins are masked with MaskOrigin before events leave
// the process.
package audit
