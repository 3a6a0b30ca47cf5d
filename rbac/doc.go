// Package rbac resolves role assignments into flat role and permission
// sets and answers wildcard-aware permission checks.
//
// # Permission strings
//
// Permissions are "resource:action" strings. Either segment may be the
// wildcard "*"; a check is matched most-specific first: the exact string,
// then "resource:*", then "*:action", then "*:*".
//
// # Resolution
//
// The Resolver pulls a user's role assignments from a RoleStore, skips
// assignments whose expiry has passed, and flattens the surviving roles'
// permission sets with first-seen order preserved. Resolved grants may be
// cached (Redis or none); the cache TTL bounds how stale a grant can get
// after a role mutation, and InvalidateUser drops the entry early.
//
// # Fail-closed
//
// Store errors surface alongside a denied decision. A caller that ignores
// the error still sees Allowed=false; a grant can never ride an error.
package rbac
