package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/session"
)

// Logout revokes the session named by a valid access token. Revoking an
// already revoked session succeeds, so clients can retry logout safely.
// An expired or malformed token is rejected; the session it names will
// die at its own expiry.
func (e *Engine) Logout(ctx context.Context, accessToken string) error {
	if e == nil || e.sessions == nil {
		return ErrEngineNotReady
	}

	claims, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		return mapTokenError(err)
	}

	if err := e.sessions.Revoke(ctx, claims.SessionID); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}

	e.metricInc(MetricLogout)
	e.metricInc(MetricSessionRevoked)
	e.emit(ctx, auditEventLogout, audit.SeverityInfo, true, claims.Subject, claims.SessionID, nil, nil)
	return nil
}

// GetAuthContext validates an access token and confirms its session is
// still alive, returning the identity snapshot embedded at issuance.
// This is the per-request authorization check: a revoked session fails
// here even while the access token's own window is still open.
func (e *Engine) GetAuthContext(ctx context.Context, accessToken string) (*AuthContext, error) {
	if e == nil || e.sessions == nil {
		return nil, ErrEngineNotReady
	}

	claims, err := e.tokens.VerifyAccess(accessToken)
	if err != nil {
		return nil, mapTokenError(err)
	}

	if _, err := e.sessions.Get(ctx, claims.SessionID); err != nil {
		if errors.Is(err, session.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	return &AuthContext{
		UserID:        claims.Subject,
		Email:         claims.Email,
		SessionID:     claims.SessionID,
		CorrelationID: claims.CorrelationID,
		Roles:         claims.Roles,
		Permissions:   claims.Permissions,
		ExpiresAt:     claims.ExpiresAt.Time,
	}, nil
}

// RevokeUserSessions force-logs-out every active session the user has,
// returning how many were revoked. Admin action; the caller is expected
// to have authorized it.
func (e *Engine) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}
	if userID == "" {
		return 0, fmt.Errorf("%w: empty user id", ErrInvalidInput)
	}

	n, err := e.sessions.RevokeAllForUser(ctx, userID)
	if err != nil {
		return n, fmt.Errorf("revoke sessions: %w", err)
	}

	e.metricAdd(MetricSessionRevoked, uint64(n))
	e.emit(ctx, auditEventSessionsRevoked, audit.SeverityMedium, true, userID, "", nil, func() map[string]string {
		return map[string]string{"count": strconv.FormatInt(n, 10)}
	})
	return n, nil
}

// SweepExpiredSessions deletes sessions whose absolute lifetime has
// passed and returns the count. Meant to run on a periodic job owned by
// the embedding application.
func (e *Engine) SweepExpiredSessions(ctx context.Context) (int64, error) {
	if e == nil || e.sessions == nil {
		return 0, ErrEngineNotReady
	}

	n, err := e.sessions.SweepExpired(ctx)
	if err != nil {
		return n, fmt.Errorf("sweep sessions: %w", err)
	}
	e.metricAdd(MetricSessionsSwept, uint64(n))
	return n, nil
}
