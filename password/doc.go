// Package password implements password hashing with bcrypt and strength
// validation against a configurable policy.
//
// # Hashing
//
// Hashes are standard bcrypt strings with a policy-bounded cost factor
// (10..15). Verification never returns an error: a malformed or
// mismatching hash reports false, keeping the caller's branch surface to
// a single boolean.
//
// # Policy and scoring
//
// [Validate] checks a candidate password against a [Policy] and scores it:
// length thresholds at 4/8/12/16 characters add 25 points each, each
// character class present adds 5 (special counts 10), and rejected
// patterns (denylisted passwords, sequential runs, repeated characters)
// subtract. The score buckets into [Strength] at 25/50/75/90.
//
// # Architecture boundaries
//
// This package owns hashing, verification, and policy evaluation. Reuse
// history and persistence are the Engine's concern.
package password
