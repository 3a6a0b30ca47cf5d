// Package stores provides the Redis-backed record store for password-reset
// challenges.
//
// A challenge is a versioned, binary-encoded record persisted with a TTL.
// Consume runs under a WATCH/MULTI optimistic transaction with retry on
// contention, so concurrent presentations of the same token resolve to a
// single winner. Records are single-use: destroyed on a match, on expiry,
// and when the attempt cap is reached. Secret comparisons are constant
// time.
//
// The package owns persistence and concurrency control only. Token
// generation, rate limiting, and the authentication decision itself stay
// with the engine.
package stores
