package authcore

import (
	"context"
	"slices"
	"time"

	"github.com/MrEthical07/authcore/rbac"
)

// UserStatus is the account lifecycle state. Deletion is soft: a deleted
// user keeps its row and refuses authentication.
type UserStatus string

const (
	StatusActive    UserStatus = "active"
	StatusSuspended UserStatus = "suspended"
	StatusDeleted   UserStatus = "deleted"
)

// User is the account record the engine consumes. The embedding
// application owns user storage; the engine reads these fields and writes
// back through the narrow UserStore mutations only.
type User struct {
	ID                  string
	Email               string
	PasswordHash        string
	Status              UserStatus
	FailedLoginAttempts int
	LockoutUntil        *time.Time
	MFAEnabled          bool
	MFASecret           string
	MFAPending          bool
	BackupCodeHashes    []string
	PasswordChangedAt   *time.Time
	LastLoginAt         *time.Time
	LastLoginIP         string
}

// Locked reports whether a lockout window is active at the given instant.
func (u *User) Locked(at time.Time) bool {
	return u.LockoutUntil != nil && at.Before(*u.LockoutUntil)
}

// UserStore is the integration surface callers implement over their user
// database. Implementations return ErrUserNotFound (possibly wrapped) for
// missing accounts; the engine converts it to ErrInvalidCredentials at
// the API boundary so responses stay uniform.
//
// ConsumeBackupCode must be an atomic check-and-remove: it reports true
// and deletes the hash only if the hash was present, so two concurrent
// presentations of one code cannot both succeed.
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id string) (*User, error)
	UpdateLoginAttempts(ctx context.Context, id string, attempts int, lockoutUntil *time.Time) error
	UpdateLastLogin(ctx context.Context, id, ip string, at time.Time) error
	UpdatePassword(ctx context.Context, id, hash string, at time.Time) error
	StageMFA(ctx context.Context, id, secret string, backupHashes []string) error
	ActivateMFA(ctx context.Context, id string) error
	DisableMFA(ctx context.Context, id string) error
	ReplaceBackupCodes(ctx context.Context, id string, hashes []string) error
	ConsumeBackupCode(ctx context.Context, id, hash string) (bool, error)
}

// LoginRequest carries one authentication attempt. MFACode is empty on
// the first leg of an MFA login; the engine answers with RequiresMFA and
// the client repeats the request with the code filled in.
type LoginRequest struct {
	Email    string
	Password string
	MFACode  string
}

// LoginResult is the success payload of Login. When RequiresMFA is true
// the password leg passed but no tokens were issued and no session
// exists; everything except MFAMethod is zero.
type LoginResult struct {
	RequiresMFA  bool
	MFAMethod    string
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	SessionID    string
	UserID       string
	Email        string
	Roles        []string
	Permissions  []string
}

// RefreshResult is the rotated pair returned by Refresh. TokenVersion is
// the session's new rotation generation.
type RefreshResult struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	SessionID    string
	TokenVersion int
}

// AuthContext is the identity attached to a validated access token. The
// role and permission slices are the snapshot resolved at issuance, not a
// live view.
type AuthContext struct {
	UserID        string
	Email         string
	SessionID     string
	CorrelationID string
	Roles         []string
	Permissions   []string
	ExpiresAt     time.Time
}

// HasPermission checks resource:action against the token's permission
// snapshot, honoring wildcards the same way the resolver does.
func (a *AuthContext) HasPermission(resource, action string) bool {
	_, ok := rbac.Match(a.Permissions, rbac.Permission{Resource: resource, Action: action})
	return ok
}

// HasRole reports whether the token carries the named role.
func (a *AuthContext) HasRole(name string) bool {
	return slices.Contains(a.Roles, name)
}

// ResetIssue is the outcome of RequestPasswordReset. Token is the raw
// challenge handed once to the embedding app for delivery; the engine
// keeps only a digest.
type ResetIssue struct {
	Token     string
	ExpiresAt time.Time
}
