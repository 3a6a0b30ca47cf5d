package authcore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
)

// mapTokenError converts token package verification errors into the
// engine's public sentinels.
func mapTokenError(err error) error {
	switch {
	case errors.Is(err, token.ErrExpired):
		return ErrTokenExpired
	case errors.Is(err, token.ErrNotActive):
		return ErrTokenNotActive
	default:
		return ErrTokenInvalid
	}
}

// Refresh rotates a session's token pair. The presented refresh token
// must hash to the value stored on the session; any other valid-looking
// token for that session is treated as replay of a rotated-out secret,
// the session is revoked, and ErrRefreshReuse is returned.
//
// Rotation re-reads the user (a suspension kills the session here) and
// re-resolves roles, so the new access token reflects current grants.
// The session's absolute expiry slides forward by the refresh TTL.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*RefreshResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	if strings.TrimSpace(refreshToken) == "" {
		e.metricInc(MetricRefreshFailure)
		e.emit(ctx, auditEventRefreshFailure, audit.SeverityMedium, false, "", "", ErrTokenInvalid, func() map[string]string {
			return map[string]string{"reason": "empty_token"}
		})
		return nil, ErrTokenInvalid
	}

	claims, err := e.tokens.VerifyRefresh(refreshToken)
	if err != nil {
		mapped := mapTokenError(err)
		e.metricInc(MetricRefreshFailure)
		e.emit(ctx, auditEventRefreshFailure, audit.SeverityMedium, false, "", "", mapped, func() map[string]string {
			return map[string]string{"reason": "verify"}
		})
		return nil, mapped
	}
	sid := claims.SessionID
	userID := claims.Subject

	if err := e.allow(ctx, e.refreshLimiter, sid); err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emitRateLimit(ctx, "refresh", userID)
		return nil, err
	}

	sess, err := e.sessions.Get(ctx, sid)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, session.ErrNotFound) {
			e.emit(ctx, auditEventRefreshFailure, audit.SeverityMedium, false, userID, sid, ErrSessionNotFound, nil)
			return nil, ErrSessionNotFound
		}
		e.emit(ctx, auditEventRefreshFailure, audit.SeverityMedium, false, userID, sid, err, func() map[string]string {
			return map[string]string{"reason": "session_load"}
		})
		return nil, fmt.Errorf("load session: %w", err)
	}

	if !token.VerifyHashedToken(refreshToken, sess.RefreshTokenHash) {
		if err := e.sessions.Revoke(ctx, sid); err != nil {
			e.logger.ErrorContext(ctx, "revoke session after refresh reuse", "session_id", sid, "error", err)
		} else {
			e.metricInc(MetricSessionRevoked)
		}
		e.metricInc(MetricRefreshReuse)
		e.emit(ctx, auditEventRefreshReuse, audit.SeverityHigh, false, sess.UserID, sid, ErrRefreshReuse, func() map[string]string {
			return map[string]string{
				"token_version":   strconv.Itoa(claims.TokenVersion),
				"session_version": strconv.Itoa(sess.TokenVersion),
			}
		})
		return nil, ErrRefreshReuse
	}

	user, err := e.users.GetByID(ctx, sess.UserID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		if errors.Is(err, ErrUserNotFound) {
			if revokeErr := e.sessions.Revoke(ctx, sid); revokeErr != nil {
				e.logger.ErrorContext(ctx, "revoke session for missing user", "session_id", sid, "error", revokeErr)
			}
			e.emit(ctx, auditEventRefreshFailure, audit.SeverityMedium, false, sess.UserID, sid, ErrUserNotFound, nil)
			return nil, ErrSessionNotFound
		}
		e.emit(ctx, auditEventRefreshFailure, audit.SeverityMedium, false, sess.UserID, sid, err, func() map[string]string {
			return map[string]string{"reason": "user_load"}
		})
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.Status != StatusActive {
		if err := e.sessions.Revoke(ctx, sid); err != nil {
			e.logger.ErrorContext(ctx, "revoke session for inactive user", "session_id", sid, "error", err)
		} else {
			e.metricInc(MetricSessionRevoked)
		}
		e.metricInc(MetricRefreshFailure)
		e.emit(ctx, auditEventRefreshFailure, audit.SeverityMedium, false, user.ID, sid, ErrAccountInactive, func() map[string]string {
			return map[string]string{"reason": "status_" + string(user.Status)}
		})
		return nil, ErrAccountInactive
	}

	grants, err := e.roles.UserGrants(ctx, user.ID)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emit(ctx, auditEventRefreshFailure, audit.SeverityMedium, false, user.ID, sid, err, func() map[string]string {
			return map[string]string{"reason": "rbac_resolve"}
		})
		return nil, fmt.Errorf("resolve grants: %w", err)
	}

	newVersion := sess.TokenVersion + 1
	correlationID := correlationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	pair, err := e.tokens.IssuePair(user.ID, user.Email, grants.Roles, grants.Permissions, sid, correlationID, newVersion)
	if err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emit(ctx, auditEventRefreshFailure, audit.SeverityMedium, false, user.ID, sid, err, func() map[string]string {
			return map[string]string{"reason": "token_issue"}
		})
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	now := e.clock.Now()
	newHash := token.HashToken(pair.RefreshToken)
	expiresAt := now.Add(e.tokens.RefreshTTL())
	upd := session.Update{
		RefreshTokenHash: &newHash,
		TokenVersion:     &newVersion,
		ExpiresAt:        &expiresAt,
		LastAccessAt:     &now,
	}
	if ip := clientIPFromContext(ctx); ip != "" {
		upd.IPAddress = &ip
	}
	if ua := userAgentFromContext(ctx); ua != "" {
		upd.UserAgent = &ua
	}
	if _, err := e.sessions.Apply(ctx, sid, upd); err != nil {
		e.metricInc(MetricRefreshFailure)
		e.emit(ctx, auditEventRefreshFailure, audit.SeverityMedium, false, user.ID, sid, err, func() map[string]string {
			return map[string]string{"reason": "session_update"}
		})
		return nil, fmt.Errorf("rotate session: %w", err)
	}

	e.metricInc(MetricRefreshSuccess)
	e.emit(ctx, auditEventRefreshSuccess, audit.SeverityInfo, true, user.ID, sid, nil, func() map[string]string {
		return map[string]string{"token_version": strconv.Itoa(newVersion)}
	})

	return &RefreshResult{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		SessionID:    sid,
		TokenVersion: newVersion,
	}, nil
}
