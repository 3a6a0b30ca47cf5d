// Package authcore is an embeddable authentication and authorization
// engine: bcrypt credentials with lockout, TOTP and backup-code MFA,
// HS256 access/refresh token pairs with rotation and reuse detection,
// server-side sessions, role-based permissions, and password reset.
//
// The engine is storage-agnostic at the account boundary. Applications
// implement [UserStore] and [rbac.RoleStore] over their own data; the
// session layer ships with a Postgres repository and an optional Redis
// cache, and rate limiting runs on Redis when a client is provided or
// in process when not.
//
// An [Engine] is assembled once through [Builder] and is safe for
// concurrent use. Every flow emits structured audit events through the
// audit package and counts into a process-local metrics snapshot that
// the metrics/export packages expose to Prometheus or OpenTelemetry.
//
// Failures the caller can act on are sentinel errors (for example
// [ErrInvalidCredentials], [ErrAccountLocked], [ErrRefreshReuse]); test
// them with errors.Is. Anything else wraps the underlying cause.
package authcore
