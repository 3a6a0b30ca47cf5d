// Package session provides durable session persistence with a cache-aside
// Redis layer in front of it.
//
// # Layout
//
// [Repository] is the durable source of truth (Postgres in production,
// anything satisfying the interface in tests). [Cache] is a lookaside copy
// keyed by session ID; cache entries are stored in a compact versioned
// binary format and expire with the session. [Store] composes the two:
// writes go durable-first, reads repair the cache lazily, and a failing
// cache never fails a request.
//
// # Architecture boundaries
//
// This package owns session records and their lifecycle. It does NOT
// interpret JWT tokens, evaluate permissions, or enforce authentication
// policy. Those responsibilities belong to the engine.
package session
