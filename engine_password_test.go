package authcore

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

const testNewPassword = "N3wStr0ngPass!B"

func TestChangePassword(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	ctx := context.Background()
	res := loginPair(t, h, ctx)

	if err := h.engine.ChangePassword(ctx, testUserID, testPassword, testNewPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	// Every standing session is cut; the change is only visible through
	// a fresh login with the new secret.
	if _, err := h.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("refresh after change = %v, want ErrSessionNotFound", err)
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password = %v, want ErrInvalidCredentials", err)
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testNewPassword}); err != nil {
		t.Fatalf("new password login failed: %v", err)
	}

	h.drain()
	events := h.sink.byType(auditEventPasswordChanged)
	if len(events) != 1 || events[0].Metadata["sessions_revoked"] != "1" {
		t.Fatalf("password_change_success events = %+v", events)
	}
	snap := h.engine.MetricsSnapshot()
	if snap.Counters[MetricPasswordChanged] != 1 {
		t.Fatalf("change counter = %d, want 1", snap.Counters[MetricPasswordChanged])
	}
}

func TestChangePasswordWrongOldPassword(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()

	err := h.engine.ChangePassword(context.Background(), testUserID, "wrong-guess-1", testNewPassword)
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("ChangePassword = %v, want ErrInvalidCredentials", err)
	}

	h.drain()
	events := h.sink.byType(auditEventPasswordChangeFail)
	if len(events) != 1 || events[0].Metadata["reason"] != "old_password_mismatch" {
		t.Fatalf("failure events = %+v", events)
	}
}

func TestChangePasswordRejectsReuse(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()

	err := h.engine.ChangePassword(context.Background(), testUserID, testPassword, testPassword)
	if !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("ChangePassword = %v, want ErrPasswordReuse", err)
	}
}

func TestChangePasswordEnforcesPolicy(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()

	err := h.engine.ChangePassword(context.Background(), testUserID, testPassword, "weak")
	if !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("ChangePassword = %v, want ErrPasswordPolicy", err)
	}
	// The stored credential is untouched after a rejected candidate.
	if _, err := h.engine.Login(context.Background(), LoginRequest{Email: testEmail, Password: testPassword}); err != nil {
		t.Fatalf("original password login failed: %v", err)
	}
}

func TestChangePasswordAccountGates(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser(func(u *User) { u.Status = StatusSuspended })

	if err := h.engine.ChangePassword(context.Background(), testUserID, testPassword, testNewPassword); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("suspended change = %v, want ErrAccountInactive", err)
	}
	if err := h.engine.ChangePassword(context.Background(), "ghost", testPassword, testNewPassword); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("ghost change = %v, want ErrUserNotFound", err)
	}
}

func TestChangePasswordClearsLoginBudget(t *testing.T) {
	cfg := engineTestConfig()
	cfg.RateLimit.LoginMax = 2
	h := newTestEngine(t, cfg)
	h.seedUser()
	h.seedGrants()

	ctx := originContext("203.0.113.7")
	for i := 0; i < 2; i++ {
		_, _ = h.engine.Login(ctx, LoginRequest{Email: testEmail, Password: "wrong-guess-1"})
	}

	// The user proves the old password through the change flow, which
	// releases the login budget for their origin.
	if err := h.engine.ChangePassword(ctx, testUserID, testPassword, testNewPassword); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testNewPassword}); err != nil {
		t.Fatalf("login after change = %v, want success", err)
	}
}

func splitResetToken(t *testing.T, issue *ResetIssue) (id, secret string) {
	t.Helper()
	id, secret, ok := strings.Cut(issue.Token, ".")
	if !ok {
		t.Fatalf("token %q is not id.secret", issue.Token)
	}
	return id, secret
}

func TestRequestPasswordReset(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()

	issue, err := h.engine.RequestPasswordReset(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	id, secret := splitResetToken(t, issue)
	if len(id) != resetChallengeIDLength || len(secret) != 32 {
		t.Fatalf("token halves = %d/%d, want %d/32", len(id), len(secret), resetChallengeIDLength)
	}
	if !issue.ExpiresAt.Equal(h.now.Add(15 * time.Minute)) {
		t.Fatalf("expiry = %v, want %v", issue.ExpiresAt, h.now.Add(15*time.Minute))
	}

	h.drain()
	events := h.sink.byType(auditEventResetRequested)
	if len(events) != 1 || events[0].Metadata["issued"] != "true" {
		t.Fatalf("request events = %+v", events)
	}
}

func TestRequestPasswordResetUnknownEmail(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()

	known, err := h.engine.RequestPasswordReset(context.Background(), testEmail)
	if err != nil {
		t.Fatalf("known request failed: %v", err)
	}
	unknown, err := h.engine.RequestPasswordReset(context.Background(), "nobody@example.com")
	if err != nil {
		t.Fatalf("unknown request failed: %v", err)
	}

	// The response is indistinguishable from the known-address case.
	kid, ksecret := splitResetToken(t, known)
	uid, usecret := splitResetToken(t, unknown)
	if len(kid) != len(uid) || len(ksecret) != len(usecret) {
		t.Fatal("token shape differs between known and unknown addresses")
	}
	if !known.ExpiresAt.Equal(unknown.ExpiresAt) {
		t.Fatal("expiry differs between known and unknown addresses")
	}

	// Only the audit trail tells them apart, and the synthetic token
	// opens nothing.
	if err := h.engine.ResetPassword(context.Background(), unknown.Token, testNewPassword); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("synthetic token = %v, want ErrResetTokenInvalid", err)
	}

	h.drain()
	byIssued := map[string]int{}
	for _, ev := range h.sink.byType(auditEventResetRequested) {
		byIssued[ev.Metadata["issued"]]++
	}
	if byIssued["true"] != 1 || byIssued["false"] != 1 {
		t.Fatalf("issued breakdown = %v", byIssued)
	}
}

func TestRequestPasswordResetRateLimited(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()

	ctx := originContext("203.0.113.7")
	for i := 0; i < 3; i++ {
		if _, err := h.engine.RequestPasswordReset(ctx, testEmail); err != nil {
			t.Fatalf("request %d failed: %v", i+1, err)
		}
	}
	if _, err := h.engine.RequestPasswordReset(ctx, testEmail); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("fourth request = %v, want ErrRateLimited", err)
	}
}

func TestResetPasswordRoundTrip(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedGrants()

	lockedUntil := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	h.seedUser(func(u *User) {
		u.FailedLoginAttempts = 3
		u.LockoutUntil = &lockedUntil
	})

	ctx := context.Background()
	issue, err := h.engine.RequestPasswordReset(ctx, testEmail)
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if err := h.engine.ResetPassword(ctx, issue.Token, testNewPassword); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}

	// Proving mailbox control lifts the lockout along with the change.
	u := h.users.stored(t, testUserID)
	if u.FailedLoginAttempts != 0 || u.LockoutUntil != nil {
		t.Fatalf("counter/lockout = %d/%v, want cleared", u.FailedLoginAttempts, u.LockoutUntil)
	}
	if _, err := h.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testNewPassword}); err != nil {
		t.Fatalf("login after reset failed: %v", err)
	}

	// One-shot: the consumed token opens nothing on replay.
	if err := h.engine.ResetPassword(ctx, issue.Token, "An0therPass!C"); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("replayed token = %v, want ErrResetTokenInvalid", err)
	}

	h.drain()
	if events := h.sink.byType(auditEventResetCompleted); len(events) != 1 {
		t.Fatalf("reset success events = %d, want 1", len(events))
	}
	snap := h.engine.MetricsSnapshot()
	if snap.Counters[MetricResetCompleted] != 1 {
		t.Fatalf("completed counter = %d, want 1", snap.Counters[MetricResetCompleted])
	}
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	ctx := context.Background()
	res := loginPair(t, h, ctx)

	issue, err := h.engine.RequestPasswordReset(ctx, testEmail)
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if err := h.engine.ResetPassword(ctx, issue.Token, testNewPassword); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("refresh after reset = %v, want ErrSessionNotFound", err)
	}
}

func TestResetPasswordWrongSecretAttemptCap(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()

	ctx := context.Background()
	issue, err := h.engine.RequestPasswordReset(ctx, testEmail)
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	id, secret := splitResetToken(t, issue)

	flipped := "0"
	if secret[0] == '0' {
		flipped = "f"
	}
	wrong := id + "." + flipped + secret[1:]

	// Two mismatches are tolerated, the third destroys the challenge.
	for i := 0; i < 2; i++ {
		if err := h.engine.ResetPassword(ctx, wrong, testNewPassword); !errors.Is(err, ErrResetTokenInvalid) {
			t.Fatalf("attempt %d = %v, want ErrResetTokenInvalid", i+1, err)
		}
	}
	if err := h.engine.ResetPassword(ctx, wrong, testNewPassword); !errors.Is(err, ErrResetAttemptsSpent) {
		t.Fatalf("capped attempt = %v, want ErrResetAttemptsSpent", err)
	}

	// Destruction is total: the genuine token is gone with it.
	if err := h.engine.ResetPassword(ctx, issue.Token, testNewPassword); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("genuine token after cap = %v, want ErrResetTokenInvalid", err)
	}

	h.drain()
	events := h.sink.byType(auditEventResetAttemptsSpent)
	if len(events) != 1 {
		t.Fatalf("exceeded events = %d, want 1", len(events))
	}
}

func TestResetPasswordExpiredChallenge(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()

	ctx := context.Background()
	issue, err := h.engine.RequestPasswordReset(ctx, testEmail)
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	*h.now = h.now.Add(16 * time.Minute)
	if err := h.engine.ResetPassword(ctx, issue.Token, testNewPassword); !errors.Is(err, ErrResetTokenInvalid) {
		t.Fatalf("expired token = %v, want ErrResetTokenInvalid", err)
	}
}

func TestResetPasswordMalformedToken(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())

	for _, tok := range []string{"", "no-dot-here", "."} {
		if err := h.engine.ResetPassword(context.Background(), tok, testNewPassword); !errors.Is(err, ErrResetTokenInvalid) {
			t.Fatalf("ResetPassword(%q) = %v, want ErrResetTokenInvalid", tok, err)
		}
	}
}

func TestResetPasswordPolicyFailureKeepsChallenge(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()

	ctx := context.Background()
	issue, err := h.engine.RequestPasswordReset(ctx, testEmail)
	if err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}

	// A rejected candidate must not burn the emailed token; the user
	// retries with a stronger one.
	if err := h.engine.ResetPassword(ctx, issue.Token, "weak"); !errors.Is(err, ErrPasswordPolicy) {
		t.Fatalf("weak candidate = %v, want ErrPasswordPolicy", err)
	}
	if err := h.engine.ResetPassword(ctx, issue.Token, testNewPassword); err != nil {
		t.Fatalf("retry with strong candidate failed: %v", err)
	}
}

func TestPasswordResetDisabled(t *testing.T) {
	cfg := engineTestConfig()
	cfg.PasswordReset.Enabled = false
	h := newTestEngine(t, cfg)
	h.seedUser()

	if _, err := h.engine.RequestPasswordReset(context.Background(), testEmail); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("request = %v, want ErrEngineNotReady", err)
	}
	if err := h.engine.ResetPassword(context.Background(), "a.b", testNewPassword); !errors.Is(err, ErrEngineNotReady) {
		t.Fatalf("reset = %v, want ErrEngineNotReady", err)
	}
}
