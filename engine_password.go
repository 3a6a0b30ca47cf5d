package authcore

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/token"
)

// resetChallengeIDLength is the hex length of the public half of a reset
// token. The id only routes the lookup; all secrecy lives in the second
// half, whose length Config.PasswordReset.TokenLength controls.
const resetChallengeIDLength = 16

func (e *Engine) validateNewPassword(candidate string) error {
	v := password.Validate(candidate, e.policy)
	if v.Valid {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPasswordPolicy, strings.Join(v.Errors, "; "))
}

// ChangePassword rotates a password for an authenticated user. The old
// password is re-proved, the new one must clear policy and differ from
// the current one, and every session the user has is revoked so stolen
// refresh tokens die with the old credential.
func (e *Engine) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.loadActiveUser(ctx, userID)
	if err != nil {
		return err
	}

	if !e.hasher.Verify(oldPassword, user.PasswordHash) {
		e.emit(ctx, auditEventPasswordChangeFail, audit.SeverityMedium, false, user.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "old_password_mismatch"}
		})
		return ErrInvalidCredentials
	}
	oldPassword = ""

	if e.hasher.Verify(newPassword, user.PasswordHash) {
		e.emit(ctx, auditEventPasswordChangeFail, audit.SeverityMedium, false, user.ID, "", ErrPasswordReuse, nil)
		return ErrPasswordReuse
	}
	if err := e.validateNewPassword(newPassword); err != nil {
		e.emit(ctx, auditEventPasswordChangeFail, audit.SeverityMedium, false, user.ID, "", err, func() map[string]string {
			return map[string]string{"reason": "policy"}
		})
		return err
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	newPassword = ""

	now := e.clock.Now()
	if err := e.users.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		e.emit(ctx, auditEventPasswordChangeFail, audit.SeverityMedium, false, user.ID, "", err, func() map[string]string {
			return map[string]string{"reason": "persist"}
		})
		return fmt.Errorf("update password: %w", err)
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "revoke sessions after password change", "user_id", user.ID, "error", err)
	}
	e.metricAdd(MetricSessionRevoked, uint64(revoked))
	e.resetLimiterKey(ctx, e.loginLimiter, loginKey(normalizeEmail(user.Email), clientIPFromContext(ctx)))

	e.metricInc(MetricPasswordChanged)
	e.emit(ctx, auditEventPasswordChanged, audit.SeverityMedium, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.FormatInt(revoked, 10)}
	})
	return nil
}

// RequestPasswordReset issues a reset challenge for email. The caller
// delivers ResetIssue.Token to the address out of band; the engine never
// sends mail.
//
// An unknown or inactive address still returns a well-formed issue whose
// token verifies nothing, so the response does not reveal whether the
// account exists. Only the audit stream records the difference.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) (*ResetIssue, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if e.resets == nil {
		return nil, fmt.Errorf("%w: password reset not configured", ErrEngineNotReady)
	}

	email = normalizeEmail(email)
	if email == "" {
		return nil, fmt.Errorf("%w: empty email", ErrInvalidInput)
	}

	ip := clientIPFromContext(ctx)
	if err := e.allow(ctx, e.resetLimiter, loginKey(email, ip)); err != nil {
		e.emitRateLimit(ctx, "password_reset", "")
		return nil, err
	}

	// Both halves are generated before the lookup so the known and
	// unknown address paths do the same work.
	id, err := token.GenerateSecureToken(resetChallengeIDLength)
	if err != nil {
		return nil, fmt.Errorf("generate reset id: %w", err)
	}
	secret, err := token.GenerateSecureToken(e.config.PasswordReset.TokenLength)
	if err != nil {
		return nil, fmt.Errorf("generate reset secret: %w", err)
	}

	now := e.clock.Now()
	issue := &ResetIssue{
		Token:     id + "." + secret,
		ExpiresAt: now.Add(e.config.PasswordReset.TTL),
	}

	user, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metricInc(MetricResetRequested)
			e.emit(ctx, auditEventResetRequested, audit.SeverityMedium, false, "", "", ErrUserNotFound, func() map[string]string {
				return map[string]string{"issued": "false"}
			})
			return issue, nil
		}
		e.emit(ctx, auditEventResetRequested, audit.SeverityMedium, false, "", "", err, func() map[string]string {
			return map[string]string{"reason": "user_lookup"}
		})
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Status != StatusActive {
		e.metricInc(MetricResetRequested)
		e.emit(ctx, auditEventResetRequested, audit.SeverityMedium, false, user.ID, "", ErrAccountInactive, func() map[string]string {
			return map[string]string{"issued": "false"}
		})
		return issue, nil
	}

	challenge := &stores.ResetChallenge{
		UserID:     user.ID,
		SecretHash: sha256.Sum256([]byte(secret)),
		ExpiresAt:  issue.ExpiresAt.Unix(),
	}
	if err := e.resets.Save(ctx, id, challenge, e.config.PasswordReset.TTL); err != nil {
		e.emit(ctx, auditEventResetRequested, audit.SeverityMedium, false, user.ID, "", err, func() map[string]string {
			return map[string]string{"reason": "challenge_save"}
		})
		return nil, fmt.Errorf("save reset challenge: %w", err)
	}

	e.metricInc(MetricResetRequested)
	e.emit(ctx, auditEventResetRequested, audit.SeverityMedium, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"issued": "true"}
	})
	return issue, nil
}

// ResetPassword completes a reset flow. The token is single use: a
// correct presentation consumes the challenge, and wrong-secret
// presentations against a live challenge are counted and destroy it at
// the configured cap. The new password is policy-checked before the
// challenge is touched, so a weak choice does not burn the token.
func (e *Engine) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}
	if e.resets == nil {
		return fmt.Errorf("%w: password reset not configured", ErrEngineNotReady)
	}

	id, secret, ok := strings.Cut(strings.TrimSpace(rawToken), ".")
	if !ok || id == "" || secret == "" {
		e.metricInc(MetricResetFailed)
		e.emit(ctx, auditEventResetFailed, audit.SeverityMedium, false, "", "", ErrResetTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "malformed_token"}
		})
		return ErrResetTokenInvalid
	}

	if err := e.validateNewPassword(newPassword); err != nil {
		e.metricInc(MetricResetFailed)
		e.emit(ctx, auditEventResetFailed, audit.SeverityMedium, false, "", "", err, func() map[string]string {
			return map[string]string{"reason": "policy"}
		})
		return err
	}

	challenge, err := e.resets.Consume(ctx, id, sha256.Sum256([]byte(secret)), e.config.PasswordReset.MaxAttempts)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrResetAttemptsExceeded):
			e.metricInc(MetricResetFailed)
			e.emit(ctx, auditEventResetAttemptsSpent, audit.SeverityHigh, false, "", "", ErrResetAttemptsSpent, nil)
			return ErrResetAttemptsSpent
		case errors.Is(err, stores.ErrResetSecretMismatch):
			e.metricInc(MetricResetFailed)
			e.emit(ctx, auditEventResetFailed, audit.SeverityMedium, false, "", "", ErrResetTokenInvalid, func() map[string]string {
				return map[string]string{"reason": "secret_mismatch"}
			})
			return ErrResetTokenInvalid
		case errors.Is(err, stores.ErrResetNotFound):
			e.metricInc(MetricResetFailed)
			e.emit(ctx, auditEventResetFailed, audit.SeverityMedium, false, "", "", ErrResetTokenInvalid, func() map[string]string {
				return map[string]string{"reason": "unknown_or_expired"}
			})
			return ErrResetTokenInvalid
		default:
			e.emit(ctx, auditEventResetFailed, audit.SeverityMedium, false, "", "", err, func() map[string]string {
				return map[string]string{"reason": "challenge_store"}
			})
			return fmt.Errorf("consume reset challenge: %w", err)
		}
	}

	user, err := e.users.GetByID(ctx, challenge.UserID)
	if err != nil {
		e.metricInc(MetricResetFailed)
		e.emit(ctx, auditEventResetFailed, audit.SeverityMedium, false, challenge.UserID, "", err, func() map[string]string {
			return map[string]string{"reason": "user_load"}
		})
		if errors.Is(err, ErrUserNotFound) {
			return ErrResetTokenInvalid
		}
		return fmt.Errorf("load user: %w", err)
	}
	if user.Status != StatusActive {
		e.metricInc(MetricResetFailed)
		e.emit(ctx, auditEventResetFailed, audit.SeverityMedium, false, user.ID, "", ErrAccountInactive, nil)
		return ErrResetTokenInvalid
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	newPassword = ""

	now := e.clock.Now()
	if err := e.users.UpdatePassword(ctx, user.ID, hash, now); err != nil {
		e.emit(ctx, auditEventResetFailed, audit.SeverityMedium, false, user.ID, "", err, func() map[string]string {
			return map[string]string{"reason": "persist"}
		})
		return fmt.Errorf("update password: %w", err)
	}

	// Control of the mailbox has been re-proved, so a standing lockout
	// would only keep the legitimate owner out of their new password.
	if user.FailedLoginAttempts > 0 || user.LockoutUntil != nil {
		if err := e.users.UpdateLoginAttempts(ctx, user.ID, 0, nil); err != nil {
			e.logger.WarnContext(ctx, "clear lockout after password reset", "user_id", user.ID, "error", err)
		}
	}

	revoked, err := e.sessions.RevokeAllForUser(ctx, user.ID)
	if err != nil {
		e.logger.ErrorContext(ctx, "revoke sessions after password reset", "user_id", user.ID, "error", err)
	}
	e.metricAdd(MetricSessionRevoked, uint64(revoked))
	e.resetLimiterKey(ctx, e.loginLimiter, loginKey(normalizeEmail(user.Email), clientIPFromContext(ctx)))

	e.metricInc(MetricResetCompleted)
	e.emit(ctx, auditEventResetCompleted, audit.SeverityMedium, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"sessions_revoked": strconv.FormatInt(revoked, 10)}
	})
	return nil
}
