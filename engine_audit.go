package authcore

import (
	"context"
	"errors"

	"github.com/MrEthical07/authcore/audit"
)

// Audit event types emitted by the engine. Names are stable identifiers;
// downstream alerting keys on them, so additions are fine but renames are
// breaking.
const (
	auditEventLoginSuccess        = "login_success"
	auditEventLoginFailure        = "login_failure"
	auditEventAccountLocked       = "account_locked"
	auditEventMFARequired         = "mfa_required"
	auditEventMFASuccess          = "mfa_success"
	auditEventMFAFailure          = "mfa_failure"
	auditEventBackupCodeUsed      = "backup_code_used"
	auditEventBackupCodeFailed    = "backup_code_failed"
	auditEventRefreshSuccess      = "refresh_success"
	auditEventRefreshFailure      = "refresh_failure"
	auditEventRefreshReuse        = "refresh_reuse_detected"
	auditEventLogout              = "logout"
	auditEventSessionsRevoked     = "sessions_revoked"
	auditEventRateLimitTriggered  = "rate_limit_triggered"
	auditEventPasswordChanged     = "password_change_success"
	auditEventPasswordChangeFail  = "password_change_failure"
	auditEventResetRequested      = "password_reset_request"
	auditEventResetCompleted      = "password_reset_success"
	auditEventResetFailed         = "password_reset_failure"
	auditEventResetAttemptsSpent  = "reset_attempts_exceeded"
	auditEventMFASetupStarted     = "mfa_setup_started"
	auditEventMFAEnabled          = "mfa_enabled"
	auditEventMFADisabled         = "mfa_disabled"
	auditEventBackupCodesReplaced = "backup_codes_regenerated"
)

// emit builds and dispatches one audit event. The metadata builder runs
// only when auditing is enabled, so callers can defer map construction.
// The client sees only the public error; err here may carry the real
// internal reason and is reduced to a stable code before dispatch.
func (e *Engine) emit(
	ctx context.Context,
	eventType string,
	severity audit.Severity,
	success bool,
	userID string,
	sessionID string,
	err error,
	metadataBuilder func() map[string]string,
) {
	if e == nil || e.audit == nil {
		return
	}

	var metadata map[string]string
	if metadataBuilder != nil {
		metadata = metadataBuilder()
	}

	event := audit.NewEvent(eventType, severity)
	event.UserID = userID
	event.SessionID = sessionID
	if ip := clientIPFromContext(ctx); ip != "" {
		event.IP = audit.MaskOrigin(ip)
	}
	event.UserAgent = userAgentFromContext(ctx)
	event.CorrelationID = correlationIDFromContext(ctx)
	if success {
		event.Outcome = "success"
	} else {
		event.Outcome = "failure"
	}
	event.ErrorCode = auditErrorCode(err)
	event.Metadata = metadata

	e.audit.Emit(ctx, event)
}

// emitRateLimit records a tripped limiter. The limited key itself stays
// out of the event; scope plus the identity fields is enough to trace it.
func (e *Engine) emitRateLimit(ctx context.Context, scope, userID string) {
	e.emit(ctx, auditEventRateLimitTriggered, audit.SeverityMedium, false, userID, "", ErrRateLimited, func() map[string]string {
		return map[string]string{"scope": scope}
	})
}

// auditErrorCode reduces an error to a stable snake_case code for the
// ErrorCode field. Unknown errors report as internal_error rather than
// leaking their text into the audit stream.
func auditErrorCode(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	case errors.Is(err, ErrAccountInactive):
		return "account_inactive"
	case errors.Is(err, ErrInvalidMFACode):
		return "mfa_invalid"
	case errors.Is(err, ErrMFANotEnabled):
		return "mfa_not_enabled"
	case errors.Is(err, ErrMFAAlreadyEnabled):
		return "mfa_already_enabled"
	case errors.Is(err, ErrMFASetupRequired):
		return "mfa_setup_required"
	case errors.Is(err, ErrMFASetupNotStarted):
		return "mfa_setup_not_started"
	case errors.Is(err, ErrTokenExpired):
		return "token_expired"
	case errors.Is(err, ErrTokenNotActive):
		return "token_not_active"
	case errors.Is(err, ErrTokenInvalid):
		return "invalid_token"
	case errors.Is(err, ErrRefreshReuse):
		return "refresh_reuse"
	case errors.Is(err, ErrSessionNotFound):
		return "session_not_found"
	case errors.Is(err, ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, ErrPasswordPolicy):
		return "password_policy"
	case errors.Is(err, ErrPasswordReuse):
		return "password_reuse"
	case errors.Is(err, ErrResetAttemptsSpent):
		return "reset_attempts_exceeded"
	case errors.Is(err, ErrResetTokenInvalid):
		return "reset_token_invalid"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrCacheUnavailable), errors.Is(err, ErrStoreUnavailable):
		return "backend_unavailable"
	default:
		return "internal_error"
	}
}
