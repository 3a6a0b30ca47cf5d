package authcore

import "errors"

// Sentinel errors returned by the engine and its packages. Callers branch
// with errors.Is; infrastructure failures are wrapped around the matching
// sentinel so classification survives the wrapping.
var (
	// ErrInvalidCredentials covers unknown identifier and wrong password
	// with one message, so callers cannot enumerate accounts.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUserNotFound is the contract with UserStore implementations:
	// return it (possibly wrapped) for missing accounts. The engine
	// converts it to ErrInvalidCredentials before it reaches a client.
	ErrUserNotFound = errors.New("user not found")

	// ErrAccountLocked is returned while a lockout window is active.
	// The password is not verified during the window.
	ErrAccountLocked = errors.New("account locked")

	// ErrAccountInactive marks suspended or soft-deleted accounts in audit
	// records; login surfaces ErrInvalidCredentials instead.
	ErrAccountInactive = errors.New("account inactive")

	ErrInvalidMFACode     = errors.New("invalid mfa code")
	ErrMFANotEnabled      = errors.New("mfa not enabled")
	ErrMFAAlreadyEnabled  = errors.New("mfa already enabled")
	ErrMFASetupRequired   = errors.New("mfa enrollment required")
	ErrMFASetupNotStarted = errors.New("mfa enrollment not started")

	ErrTokenExpired   = errors.New("token expired")
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenNotActive = errors.New("token not yet active")

	// ErrRefreshReuse is returned when a presented refresh token verifies
	// but no longer matches the session's stored hash. The session is
	// revoked before this error is returned.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrSessionNotFound covers both missing and inactive sessions.
	ErrSessionNotFound = errors.New("session not found or inactive")

	ErrPermissionDenied = errors.New("permission denied")

	ErrPasswordPolicy = errors.New("password policy violation")
	ErrPasswordReuse  = errors.New("new password must differ from current password")

	ErrResetTokenInvalid  = errors.New("password reset token invalid")
	ErrResetAttemptsSpent = errors.New("password reset attempts exceeded")

	ErrRateLimited  = errors.New("rate limited")
	ErrInvalidInput = errors.New("invalid input")

	ErrInvalidDurationFormat = errors.New("invalid duration format")

	ErrCacheUnavailable = errors.New("cache unavailable")
	ErrStoreUnavailable = errors.New("store unavailable")

	ErrEngineNotReady = errors.New("engine not initialized")
	ErrBuilderReused  = errors.New("builder already used")
)

// Stable machine-readable codes per error kind, used in audit events and
// exposed to embedding services for API error mapping.
const (
	CodeInvalidCredentials = "invalid_credentials"
	CodeAccountLocked      = "account_locked"
	CodeAccountInactive    = "account_inactive"
	CodeInvalidMFACode     = "invalid_mfa_code"
	CodeMFASetupRequired   = "mfa_enrollment_required"
	CodeTokenExpired       = "token_expired"
	CodeTokenInvalid       = "token_invalid"
	CodeTokenNotActive     = "token_not_active"
	CodeRefreshReuse       = "refresh_reuse"
	CodeSessionNotFound    = "session_not_found"
	CodePermissionDenied   = "permission_denied"
	CodePasswordPolicy     = "password_policy_violation"
	CodePasswordReuse      = "password_reuse"
	CodeResetTokenInvalid  = "reset_token_invalid"
	CodeResetAttempts      = "reset_attempts_exceeded"
	CodeRateLimited        = "rate_limited"
	CodeInvalidInput       = "invalid_input"
	CodeInternal           = "internal_error"
)

// ErrorCode maps an engine error to its stable code. Wrapped errors are
// classified through errors.Is; anything unknown reports internal_error.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return CodeInvalidCredentials
	case errors.Is(err, ErrAccountLocked):
		return CodeAccountLocked
	case errors.Is(err, ErrAccountInactive):
		return CodeAccountInactive
	case errors.Is(err, ErrInvalidMFACode):
		return CodeInvalidMFACode
	case errors.Is(err, ErrMFASetupRequired):
		return CodeMFASetupRequired
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, ErrTokenNotActive):
		return CodeTokenNotActive
	case errors.Is(err, ErrRefreshReuse):
		return CodeRefreshReuse
	case errors.Is(err, ErrTokenInvalid):
		return CodeTokenInvalid
	case errors.Is(err, ErrSessionNotFound):
		return CodeSessionNotFound
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrPasswordReuse):
		return CodePasswordReuse
	case errors.Is(err, ErrPasswordPolicy):
		return CodePasswordPolicy
	case errors.Is(err, ErrResetTokenInvalid):
		return CodeResetTokenInvalid
	case errors.Is(err, ErrResetAttemptsSpent):
		return CodeResetAttempts
	case errors.Is(err, ErrRateLimited):
		return CodeRateLimited
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrInvalidDurationFormat):
		return CodeInvalidInput
	default:
		return CodeInternal
	}
}
