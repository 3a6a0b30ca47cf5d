package authcore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/mfa"
)

// loadActiveUser fetches a user for an authenticated self-service flow.
// These run behind a validated access token, so a lookup miss is surfaced
// as ErrUserNotFound rather than disguised.
func (e *Engine) loadActiveUser(ctx context.Context, userID string) (*User, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}
	user, err := e.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Status != StatusActive {
		return nil, ErrAccountInactive
	}
	return user, nil
}

// BeginMFASetup generates a TOTP secret and backup code batch and stages
// them on the account. Nothing is enforced until ConfirmMFASetup proves
// the authenticator works; calling Begin again before that simply stages
// a fresh secret over the old one.
//
// The returned Setup carries the only plaintext copy of the backup codes.
func (e *Engine) BeginMFASetup(ctx context.Context, userID string) (*mfa.Setup, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.loadActiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.MFAEnabled {
		return nil, ErrMFAAlreadyEnabled
	}

	setup, err := e.mfa.GenerateSetup(user.ID, user.Email, "")
	if err != nil {
		return nil, fmt.Errorf("generate mfa setup: %w", err)
	}
	if err := e.users.StageMFA(ctx, user.ID, setup.Secret, setup.BackupCodeHashes); err != nil {
		return nil, fmt.Errorf("stage mfa enrollment: %w", err)
	}

	e.emit(ctx, auditEventMFASetupStarted, audit.SeverityInfo, true, user.ID, "", nil, nil)
	return setup, nil
}

// ConfirmMFASetup verifies one TOTP code against the staged secret and
// activates MFA. The code must come from the authenticator; backup codes
// cannot confirm an enrollment.
func (e *Engine) ConfirmMFASetup(ctx context.Context, userID, code string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.loadActiveUser(ctx, userID)
	if err != nil {
		return err
	}
	if user.MFAEnabled {
		return ErrMFAAlreadyEnabled
	}
	if !user.MFAPending || user.MFASecret == "" {
		return ErrMFASetupNotStarted
	}

	if !e.mfa.VerifyTOTP(user.MFASecret, strings.TrimSpace(code), e.config.MFA.Window) {
		e.metricInc(MetricMFAFailure)
		e.emit(ctx, auditEventMFAFailure, audit.SeverityMedium, false, user.ID, "", ErrInvalidMFACode, func() map[string]string {
			return map[string]string{"reason": "setup_confirmation"}
		})
		return ErrInvalidMFACode
	}

	if err := e.users.ActivateMFA(ctx, user.ID); err != nil {
		return fmt.Errorf("activate mfa: %w", err)
	}

	e.emit(ctx, auditEventMFAEnabled, audit.SeverityMedium, true, user.ID, "", nil, nil)
	return nil
}

// DisableMFA turns MFA off after re-proving the password. The staged
// secret and remaining backup codes are destroyed with it.
func (e *Engine) DisableMFA(ctx context.Context, userID, password string) error {
	if e == nil || e.users == nil {
		return ErrEngineNotReady
	}

	user, err := e.loadActiveUser(ctx, userID)
	if err != nil {
		return err
	}
	if !user.MFAEnabled {
		return ErrMFANotEnabled
	}
	if !e.hasher.Verify(password, user.PasswordHash) {
		e.emit(ctx, auditEventMFAFailure, audit.SeverityMedium, false, user.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "disable_reauth"}
		})
		return ErrInvalidCredentials
	}

	if err := e.users.DisableMFA(ctx, user.ID); err != nil {
		return fmt.Errorf("disable mfa: %w", err)
	}

	e.emit(ctx, auditEventMFADisabled, audit.SeverityMedium, true, user.ID, "", nil, nil)
	return nil
}

// RegenerateBackupCodes replaces the account's backup code batch after
// re-proving the password, returning the new plaintext codes. All prior
// codes stop working, used or not.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID, password string) ([]string, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}

	user, err := e.loadActiveUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.MFAEnabled {
		return nil, ErrMFANotEnabled
	}
	if !e.hasher.Verify(password, user.PasswordHash) {
		e.emit(ctx, auditEventMFAFailure, audit.SeverityMedium, false, user.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "regenerate_reauth"}
		})
		return nil, ErrInvalidCredentials
	}

	codes, hashes, err := e.mfa.GenerateBackupCodes()
	if err != nil {
		return nil, fmt.Errorf("generate backup codes: %w", err)
	}
	if err := e.users.ReplaceBackupCodes(ctx, user.ID, hashes); err != nil {
		return nil, fmt.Errorf("replace backup codes: %w", err)
	}

	e.emit(ctx, auditEventBackupCodesReplaced, audit.SeverityMedium, true, user.ID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.Itoa(len(codes))}
	})
	return codes, nil
}
