package rbac

import (
	"context"
	"slices"
	"time"
)

// Permission is one "resource:action" check. Either segment may be "*"
// when stored on a role; checks are normally concrete.
type Permission struct {
	Resource string
	Action   string
}

func (p Permission) String() string { return p.Resource + ":" + p.Action }

// Role is a named bundle of permission strings.
type Role struct {
	ID          string
	Name        string
	Permissions []string
}

// Assignment binds a user to a role, optionally until ExpiresAt.
type Assignment struct {
	UserID     string
	RoleID     string
	RoleName   string
	AssignedBy string
	AssignedAt time.Time
	ExpiresAt  *time.Time
}

// Expired reports whether the assignment has lapsed at the given instant.
// Assignments without an expiry never lapse.
func (a Assignment) Expired(at time.Time) bool {
	return a.ExpiresAt != nil && !at.Before(*a.ExpiresAt)
}

// RoleStore is the collaborator that owns role data. Implementations are
// supplied by the embedding application.
type RoleStore interface {
	// GetUserRoleAssignments returns every assignment for the user,
	// expired ones included; the resolver filters.
	GetUserRoleAssignments(ctx context.Context, userID string) ([]Assignment, error)

	// GetRolePermissions returns the permission strings of one role.
	GetRolePermissions(ctx context.Context, roleID string) ([]string, error)
}

// Decision is the outcome of a single permission check. Matched names the
// granting entry when Allowed; Required always carries the checked
// "resource:action".
type Decision struct {
	Allowed  bool
	Matched  string
	Required string
}

// BatchDecision is the outcome of a multi-permission check. Unmet lists
// the failing checks in AND mode and every check when OR mode fails.
type BatchDecision struct {
	Allowed bool
	Unmet   []Permission
}

// Grants is a user's flattened role and permission view, the unit the
// resolver caches.
type Grants struct {
	Roles       []string `json:"roles"`
	Permissions []string `json:"perms"`
}

// Match reports whether perms satisfies check, trying candidates
// most-specific first and returning the entry that granted.
func Match(perms []string, check Permission) (string, bool) {
	for _, candidate := range []string{
		check.String(),
		check.Resource + ":*",
		"*:" + check.Action,
		"*:*",
	} {
		if slices.Contains(perms, candidate) {
			return candidate, true
		}
	}
	return "", false
}
