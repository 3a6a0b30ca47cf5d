package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"
)

// Resolver flattens role assignments into grants and answers permission
// checks against them. Resolution always reflects the RoleStore, bounded
// only by the cache TTL.
type Resolver struct {
	store  RoleStore
	cache  Cache
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// NewResolver wires a resolver. A nil cache or non-positive ttl disables
// caching; now may be nil for wall-clock time, logger may be nil for
// slog.Default.
func NewResolver(store RoleStore, cache Cache, ttl time.Duration, now func() time.Time, logger *slog.Logger) (*Resolver, error) {
	if store == nil {
		return nil, errors.New("rbac resolver: nil role store")
	}
	if cache == nil || ttl <= 0 {
		cache = NoopCache{}
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{store: store, cache: cache, ttl: ttl, now: now, logger: logger}, nil
}

// UserRoles returns the user's live role names, de-duplicated, in
// first-seen order.
func (r *Resolver) UserRoles(ctx context.Context, userID string) ([]string, error) {
	grants, err := r.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return grants.Roles, nil
}

// UserPermissions returns the flattened permission strings of the user's
// live roles, de-duplicated, in first-seen order.
func (r *Resolver) UserPermissions(ctx context.Context, userID string) ([]string, error) {
	grants, err := r.resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	return grants.Permissions, nil
}

// UserGrants returns roles and permissions from a single resolution, so
// the two slices describe the same moment. Callers that need both should
// prefer this over separate UserRoles and UserPermissions calls.
func (r *Resolver) UserGrants(ctx context.Context, userID string) (*Grants, error) {
	return r.resolve(ctx, userID)
}

// HasPermission checks one permission. On a store error the decision is
// denied AND the error is returned; treat either as denial.
func (r *Resolver) HasPermission(ctx context.Context, userID string, check Permission) (Decision, error) {
	required := check.String()
	grants, err := r.resolve(ctx, userID)
	if err != nil {
		return Decision{Required: required}, err
	}
	if matched, ok := Match(grants.Permissions, check); ok {
		return Decision{Allowed: true, Matched: matched, Required: required}, nil
	}
	return Decision{Required: required}, nil
}

// HasAnyRole reports whether the user holds at least one of the roles.
// With no roles given it reports false.
func (r *Resolver) HasAnyRole(ctx context.Context, userID string, roles ...string) (bool, error) {
	grants, err := r.resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if slices.Contains(grants.Roles, role) {
			return true, nil
		}
	}
	return false, nil
}

// HasAllRoles reports whether the user holds every given role. With no
// roles given it reports true.
func (r *Resolver) HasAllRoles(ctx context.Context, userID string, roles ...string) (bool, error) {
	grants, err := r.resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, role := range roles {
		if !slices.Contains(grants.Roles, role) {
			return false, nil
		}
	}
	return true, nil
}

// HasPermissions evaluates several checks at once. requireAll selects AND
// semantics; otherwise one granted check suffices. An empty check list is
// allowed in both modes.
func (r *Resolver) HasPermissions(ctx context.Context, userID string, checks []Permission, requireAll bool) (BatchDecision, error) {
	if len(checks) == 0 {
		return BatchDecision{Allowed: true}, nil
	}

	grants, err := r.resolve(ctx, userID)
	if err != nil {
		return BatchDecision{Unmet: slices.Clone(checks)}, err
	}

	var unmet []Permission
	for _, check := range checks {
		if _, ok := Match(grants.Permissions, check); !ok {
			unmet = append(unmet, check)
		}
	}

	if requireAll {
		if len(unmet) == 0 {
			return BatchDecision{Allowed: true}, nil
		}
		return BatchDecision{Unmet: unmet}, nil
	}
	if len(unmet) < len(checks) {
		return BatchDecision{Allowed: true}, nil
	}
	return BatchDecision{Unmet: slices.Clone(checks)}, nil
}

// InvalidateUser drops the user's cached grants so the next resolution
// hits the RoleStore. Cache failures are logged and swallowed; the TTL
// still bounds staleness.
func (r *Resolver) InvalidateUser(ctx context.Context, userID string) {
	if err := r.cache.Delete(ctx, userID); err != nil {
		r.logger.WarnContext(ctx, "rbac cache invalidate failed", "user_id", userID, "error", err)
	}
}

// resolve returns the user's grants, from cache when possible. Store
// errors propagate; cache outages fall through to the store.
func (r *Resolver) resolve(ctx context.Context, userID string) (*Grants, error) {
	cached, err := r.cache.Get(ctx, userID)
	switch {
	case err == nil:
		return cached, nil
	case errors.Is(err, ErrCacheMiss):
	default:
		r.logger.WarnContext(ctx, "rbac cache read failed", "user_id", userID, "error", err)
	}

	assignments, err := r.store.GetUserRoleAssignments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load role assignments: %w", err)
	}

	now := r.now()
	grants := &Grants{}
	seenRoleIDs := make(map[string]struct{}, len(assignments))
	seenNames := make(map[string]struct{}, len(assignments))
	seenPerms := make(map[string]struct{})

	for _, assignment := range assignments {
		if assignment.Expired(now) {
			continue
		}
		if _, ok := seenNames[assignment.RoleName]; !ok {
			seenNames[assignment.RoleName] = struct{}{}
			grants.Roles = append(grants.Roles, assignment.RoleName)
		}
		if _, ok := seenRoleIDs[assignment.RoleID]; ok {
			continue
		}
		seenRoleIDs[assignment.RoleID] = struct{}{}

		perms, err := r.store.GetRolePermissions(ctx, assignment.RoleID)
		if err != nil {
			return nil, fmt.Errorf("load role permissions: %w", err)
		}
		for _, perm := range perms {
			if _, ok := seenPerms[perm]; ok {
				continue
			}
			seenPerms[perm] = struct{}{}
			grants.Permissions = append(grants.Permissions, perm)
		}
	}

	if err := r.cache.Set(ctx, userID, grants, r.ttl); err != nil {
		r.logger.WarnContext(ctx, "rbac cache write failed", "user_id", userID, "error", err)
	}
	return grants, nil
}
