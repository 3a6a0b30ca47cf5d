package authcore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	mathrand "math/rand"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/internal/rate"
	"github.com/MrEthical07/authcore/internal/stores"
	"github.com/MrEthical07/authcore/mfa"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/rbac"
	"github.com/MrEthical07/authcore/session"
	"github.com/MrEthical07/authcore/token"
)

// Engine is the authentication core. It owns the credential, MFA, session,
// and token flows and emits audit events and metrics for each of them.
// Build one through Builder; the zero value and a nil pointer reject every
// call with ErrEngineNotReady. All methods are safe for concurrent use.
type Engine struct {
	config Config

	users    UserStore
	sessions *session.Store
	tokens   *token.Manager
	hasher   *password.Hasher
	policy   password.Policy
	mfa      *mfa.Engine
	roles    *rbac.Resolver
	resets   *stores.ResetStore

	loginLimiter   rate.Limiter
	refreshLimiter rate.Limiter
	resetLimiter   rate.Limiter

	audit   *audit.Dispatcher
	metrics *Metrics
	clock   Clock
	logger  *slog.Logger

	closers []func()
}

// Close flushes the audit dispatcher and stops any background workers the
// builder started. Safe on a nil engine and safe to call more than once.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	e.audit.Close()
	for _, fn := range e.closers {
		fn()
	}
}

// AuditDropped reports how many audit events have been discarded since
// the engine was built.
func (e *Engine) AuditDropped() uint64 {
	if e == nil {
		return 0
	}
	return e.audit.Dropped()
}

// MetricsSnapshot returns a point-in-time copy of the engine's counters.
// The audit drop counter lives in the dispatcher and is folded in here so
// exporters see one consistent view.
func (e *Engine) MetricsSnapshot() MetricsSnapshot {
	if e == nil {
		return MetricsSnapshot{}
	}
	snap := e.metrics.Snapshot()
	if e.metrics.Enabled() {
		snap.Counters[MetricAuditDropped] = e.audit.Dropped()
	}
	return snap
}

func (e *Engine) metricInc(id MetricID) {
	if e != nil {
		e.metrics.Inc(id)
	}
}

func (e *Engine) metricAdd(id MetricID, n uint64) {
	if e != nil {
		e.metrics.Add(id, n)
	}
}

func (e *Engine) observeLoginLatency(start time.Time) {
	if e != nil {
		e.metrics.ObserveLoginLatency(e.clock.Now().Sub(start))
	}
}

// allow consumes one unit of key's budget on lim. A limiter transport
// failure is logged and the request allowed through: the durable stores
// may be healthy even when the limiter backend is not, and account
// lockout still bounds per-account guessing.
func (e *Engine) allow(ctx context.Context, lim rate.Limiter, key string) error {
	if lim == nil {
		return nil
	}
	err := lim.Hit(ctx, key)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, rate.ErrRateLimited):
		return ErrRateLimited
	default:
		e.logger.WarnContext(ctx, "rate limiter unavailable, allowing request", "error", err)
		return nil
	}
}

func (e *Engine) resetLimiterKey(ctx context.Context, lim rate.Limiter, key string) {
	if lim == nil {
		return
	}
	if err := lim.Reset(ctx, key); err != nil {
		e.logger.DebugContext(ctx, "reset rate limiter key", "error", err)
	}
}

var (
	sidMu      sync.Mutex
	sidEntropy = ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0)
)

// newSessionID returns a ULID so session identifiers sort by creation
// time in the session store.
func newSessionID() string {
	sidMu.Lock()
	defer sidMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), sidEntropy).String()
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// loginKey is the budget key for login and reset-request limiting:
// identifier and origin together, so one address cannot drain an
// account's budget from arbitrary sources nor spray one source across
// arbitrary accounts for free.
func loginKey(email, ip string) string {
	return email + "|" + ip
}

// Login authenticates a credential pair, optionally completes an MFA
// challenge, and establishes a session with a fresh token pair.
//
// When the account has MFA enabled and req.MFACode is empty, Login
// returns a LoginResult with RequiresMFA set and no error; no tokens or
// session exist yet and the client retries with a code. Lookup misses,
// status problems, and wrong passwords all surface as
// ErrInvalidCredentials; the audit stream records the real reason.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	if e == nil || e.users == nil {
		return nil, ErrEngineNotReady
	}
	start := e.clock.Now()

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		e.metricInc(MetricLoginFailure)
		e.emit(ctx, auditEventLoginFailure, audit.SeverityMedium, false, "", "", ErrInvalidInput, func() map[string]string {
			return map[string]string{"reason": "empty_credentials"}
		})
		return nil, ErrInvalidCredentials
	}

	ip := clientIPFromContext(ctx)
	limiterKey := loginKey(email, ip)
	if err := e.allow(ctx, e.loginLimiter, limiterKey); err != nil {
		e.metricInc(MetricLoginRateLimited)
		e.emitRateLimit(ctx, "login", "")
		return nil, err
	}

	user, err := e.users.GetByEmail(ctx, email)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		if errors.Is(err, ErrUserNotFound) {
			e.emit(ctx, auditEventLoginFailure, audit.SeverityMedium, false, "", "", ErrUserNotFound, func() map[string]string {
				return map[string]string{"reason": "user_not_found"}
			})
			return nil, ErrInvalidCredentials
		}
		e.emit(ctx, auditEventLoginFailure, audit.SeverityMedium, false, "", "", err, func() map[string]string {
			return map[string]string{"reason": "user_lookup"}
		})
		return nil, fmt.Errorf("load user: %w", err)
	}

	if user.Status != StatusActive {
		e.metricInc(MetricLoginFailure)
		e.emit(ctx, auditEventLoginFailure, audit.SeverityMedium, false, user.ID, "", ErrAccountInactive, func() map[string]string {
			return map[string]string{"reason": "status_" + string(user.Status)}
		})
		return nil, ErrInvalidCredentials
	}

	// An active lockout rejects before the password is touched, so the
	// attempt neither advances the counter nor leaks hash timing.
	now := e.clock.Now()
	if user.Locked(now) {
		e.metricInc(MetricLoginFailure)
		e.emit(ctx, auditEventLoginFailure, audit.SeverityMedium, false, user.ID, "", ErrAccountLocked, func() map[string]string {
			return map[string]string{"locked_until": user.LockoutUntil.UTC().Format(time.RFC3339)}
		})
		return nil, ErrAccountLocked
	}

	if !e.hasher.Verify(req.Password, user.PasswordHash) {
		req.Password = ""
		attempts := user.FailedLoginAttempts + 1
		var lockUntil *time.Time
		if attempts >= e.config.Security.MaxLoginAttempts {
			t := now.Add(e.config.Security.LockoutDuration)
			lockUntil = &t
		}
		if err := e.users.UpdateLoginAttempts(ctx, user.ID, attempts, lockUntil); err != nil {
			e.logger.ErrorContext(ctx, "persist failed login attempts", "user_id", user.ID, "error", err)
		}
		if lockUntil != nil {
			e.metricInc(MetricLockout)
			e.emit(ctx, auditEventAccountLocked, audit.SeverityHigh, false, user.ID, "", ErrAccountLocked, func() map[string]string {
				return map[string]string{
					"attempts":     strconv.Itoa(attempts),
					"locked_until": lockUntil.UTC().Format(time.RFC3339),
				}
			})
		}
		e.metricInc(MetricLoginFailure)
		e.emit(ctx, auditEventLoginFailure, audit.SeverityMedium, false, user.ID, "", ErrInvalidCredentials, func() map[string]string {
			return map[string]string{"reason": "password_mismatch", "attempts": strconv.Itoa(attempts)}
		})
		return nil, ErrInvalidCredentials
	}
	req.Password = ""

	mfaMethod := ""
	if user.MFAEnabled {
		code := strings.TrimSpace(req.MFACode)
		if code == "" {
			e.metricInc(MetricMFARequired)
			e.emit(ctx, auditEventMFARequired, audit.SeverityInfo, false, user.ID, "", nil, nil)
			return &LoginResult{
				RequiresMFA: true,
				MFAMethod:   string(mfa.MethodTOTP),
				UserID:      user.ID,
				Email:       user.Email,
			}, nil
		}

		verification := e.mfa.VerifyCode(user.MFASecret, code, user.BackupCodeHashes)
		if !verification.Valid {
			if verification.Method == mfa.MethodBackupCode {
				e.metricInc(MetricBackupCodeFailed)
				e.emit(ctx, auditEventBackupCodeFailed, audit.SeverityMedium, false, user.ID, "", ErrInvalidMFACode, nil)
			} else {
				e.metricInc(MetricMFAFailure)
				e.emit(ctx, auditEventMFAFailure, audit.SeverityMedium, false, user.ID, "", ErrInvalidMFACode, nil)
			}
			return nil, ErrInvalidMFACode
		}

		if verification.Method == mfa.MethodBackupCode {
			consumed, err := e.users.ConsumeBackupCode(ctx, user.ID, verification.UsedBackupHash)
			if err != nil {
				e.metricInc(MetricMFAFailure)
				e.emit(ctx, auditEventMFAFailure, audit.SeverityMedium, false, user.ID, "", err, func() map[string]string {
					return map[string]string{"reason": "backup_code_consume"}
				})
				return nil, fmt.Errorf("consume backup code: %w", err)
			}
			// A concurrent login may have burned the same code between
			// verification and consumption; the loser fails.
			if !consumed {
				e.metricInc(MetricBackupCodeFailed)
				e.emit(ctx, auditEventBackupCodeFailed, audit.SeverityMedium, false, user.ID, "", ErrInvalidMFACode, func() map[string]string {
					return map[string]string{"reason": "already_consumed"}
				})
				return nil, ErrInvalidMFACode
			}
			e.metricInc(MetricBackupCodeUsed)
			e.emit(ctx, auditEventBackupCodeUsed, audit.SeverityMedium, true, user.ID, "", nil, func() map[string]string {
				return map[string]string{"remaining": strconv.Itoa(verification.RemainingBackupCodes)}
			})
		}

		mfaMethod = string(verification.Method)
		e.metricInc(MetricMFASuccess)
		e.emit(ctx, auditEventMFASuccess, audit.SeverityInfo, true, user.ID, "", nil, func() map[string]string {
			return map[string]string{"method": mfaMethod}
		})
	} else if e.config.MFA.Required {
		e.metricInc(MetricLoginFailure)
		e.emit(ctx, auditEventLoginFailure, audit.SeverityMedium, false, user.ID, "", ErrMFASetupRequired, func() map[string]string {
			return map[string]string{"reason": "mfa_not_enrolled"}
		})
		return nil, ErrMFASetupRequired
	}

	// Counter and lockout clear only after full authentication, MFA
	// included; a stale lockout timestamp clears the same way.
	if user.FailedLoginAttempts > 0 || user.LockoutUntil != nil {
		if err := e.users.UpdateLoginAttempts(ctx, user.ID, 0, nil); err != nil {
			e.logger.WarnContext(ctx, "reset login attempt counter", "user_id", user.ID, "error", err)
		}
	}
	if err := e.users.UpdateLastLogin(ctx, user.ID, ip, now); err != nil {
		e.logger.WarnContext(ctx, "record last login", "user_id", user.ID, "error", err)
	}

	grants, err := e.roles.UserGrants(ctx, user.ID)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emit(ctx, auditEventLoginFailure, audit.SeverityMedium, false, user.ID, "", err, func() map[string]string {
			return map[string]string{"reason": "rbac_resolve"}
		})
		return nil, fmt.Errorf("resolve grants: %w", err)
	}

	sessionID := newSessionID()
	correlationID := correlationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	pair, err := e.tokens.IssuePair(user.ID, user.Email, grants.Roles, grants.Permissions, sessionID, correlationID, 1)
	if err != nil {
		e.metricInc(MetricLoginFailure)
		e.emit(ctx, auditEventLoginFailure, audit.SeverityMedium, false, user.ID, "", err, func() map[string]string {
			return map[string]string{"reason": "token_issue"}
		})
		return nil, fmt.Errorf("issue tokens: %w", err)
	}

	sess := &session.Session{
		ID:               sessionID,
		UserID:           user.ID,
		RefreshTokenHash: token.HashToken(pair.RefreshToken),
		TokenVersion:     1,
		IPAddress:        ip,
		UserAgent:        userAgentFromContext(ctx),
		CreatedAt:        now,
		ExpiresAt:        now.Add(e.tokens.RefreshTTL()),
		LastAccessAt:     now,
		IsActive:         true,
	}
	if err := e.sessions.Create(ctx, sess); err != nil {
		e.metricInc(MetricLoginFailure)
		e.emit(ctx, auditEventLoginFailure, audit.SeverityMedium, false, user.ID, sessionID, err, func() map[string]string {
			return map[string]string{"reason": "session_save"}
		})
		return nil, fmt.Errorf("create session: %w", err)
	}
	e.metricInc(MetricSessionCreated)

	e.resetLimiterKey(ctx, e.loginLimiter, limiterKey)

	e.metricInc(MetricLoginSuccess)
	e.emit(ctx, auditEventLoginSuccess, audit.SeverityInfo, true, user.ID, sessionID, nil, func() map[string]string {
		if mfaMethod == "" {
			return nil
		}
		return map[string]string{"mfa_method": mfaMethod}
	})
	e.observeLoginLatency(start)

	return &LoginResult{
		MFAMethod:    mfaMethod,
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
		SessionID:    sessionID,
		UserID:       user.ID,
		Email:        user.Email,
		Roles:        grants.Roles,
		Permissions:  grants.Permissions,
	}, nil
}
