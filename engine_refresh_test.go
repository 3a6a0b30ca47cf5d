package authcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/authcore/audit"
	"github.com/MrEthical07/authcore/token"
)

// loginPair authenticates the seeded user and returns the issued result.
func loginPair(t *testing.T, h *engineHarness, ctx context.Context) *LoginResult {
	t.Helper()
	res, err := h.engine.Login(ctx, LoginRequest{Email: testEmail, Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	return res
}

func TestRefreshRotatesTokenPair(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	ctx := context.Background()
	first := loginPair(t, h, ctx)

	*h.now = h.now.Add(5 * time.Minute)
	res, err := h.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if res.SessionID != first.SessionID {
		t.Fatalf("session id changed %s -> %s", first.SessionID, res.SessionID)
	}
	if res.TokenVersion != 2 {
		t.Fatalf("token version = %d, want 2", res.TokenVersion)
	}
	if res.RefreshToken == first.RefreshToken || res.AccessToken == first.AccessToken {
		t.Fatal("rotation returned an unchanged token")
	}
	if res.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("expires in = %d, want access ttl seconds", res.ExpiresIn)
	}

	sess := h.repo.stored(t, first.SessionID)
	if sess.TokenVersion != 2 {
		t.Fatalf("stored version = %d, want 2", sess.TokenVersion)
	}
	if !token.VerifyHashedToken(res.RefreshToken, sess.RefreshTokenHash) {
		t.Fatal("stored hash does not match the rotated token")
	}
	if token.VerifyHashedToken(first.RefreshToken, sess.RefreshTokenHash) {
		t.Fatal("stored hash still matches the retired token")
	}
	if !sess.LastAccessAt.Equal(*h.now) {
		t.Fatalf("last access = %v, want %v", sess.LastAccessAt, *h.now)
	}
	if !sess.ExpiresAt.Equal(h.now.Add(7*24*time.Hour)) {
		t.Fatal("rotation did not extend the session window")
	}
}

func TestRefreshReuseRevokesSession(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	ctx := context.Background()
	first := loginPair(t, h, ctx)
	rotated, err := h.engine.Refresh(ctx, first.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	// Replaying the retired token is the reuse signal. The whole
	// session is burned, so the holder of the rotated token loses it
	// too.
	if _, err := h.engine.Refresh(ctx, first.RefreshToken); !errors.Is(err, ErrRefreshReuse) {
		t.Fatalf("replay = %v, want ErrRefreshReuse", err)
	}
	if _, err := h.engine.Refresh(ctx, rotated.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("rotated token after burn = %v, want ErrSessionNotFound", err)
	}

	sess := h.repo.stored(t, first.SessionID)
	if sess.RevokedAt == nil {
		t.Fatal("session not revoked after reuse")
	}

	h.drain()
	events := h.sink.byType(auditEventRefreshReuse)
	if len(events) != 1 {
		t.Fatalf("reuse events = %d, want 1", len(events))
	}
	if events[0].Severity != audit.SeverityHigh {
		t.Fatalf("reuse severity = %v, want high", events[0].Severity)
	}
	snap := h.engine.MetricsSnapshot()
	if snap.Counters[MetricRefreshReuse] != 1 {
		t.Fatalf("reuse counter = %d, want 1", snap.Counters[MetricRefreshReuse])
	}
}

func TestRefreshRejectsGarbage(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())

	for _, tok := range []string{"", "not-a-jwt", "aaa.bbb.ccc"} {
		if _, err := h.engine.Refresh(context.Background(), tok); !errors.Is(err, ErrTokenInvalid) {
			t.Fatalf("Refresh(%q) = %v, want ErrTokenInvalid", tok, err)
		}
	}
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	res := loginPair(t, h, context.Background())
	if _, err := h.engine.Refresh(context.Background(), res.AccessToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Refresh(access) = %v, want ErrTokenInvalid", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	res := loginPair(t, h, context.Background())

	*h.now = h.now.Add(8 * 24 * time.Hour)
	if _, err := h.engine.Refresh(context.Background(), res.RefreshToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("Refresh = %v, want ErrTokenExpired", err)
	}
}

func TestRefreshSuspendedUserRevokesSession(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	res := loginPair(t, h, context.Background())

	u := h.users.stored(t, testUserID)
	u.Status = StatusSuspended
	h.users.add(u)

	if _, err := h.engine.Refresh(context.Background(), res.RefreshToken); !errors.Is(err, ErrAccountInactive) {
		t.Fatalf("Refresh = %v, want ErrAccountInactive", err)
	}
	// Suspension severs the session, not just the one call.
	if _, err := h.engine.Refresh(context.Background(), res.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("second refresh = %v, want ErrSessionNotFound", err)
	}
}

func TestRefreshRateLimited(t *testing.T) {
	cfg := engineTestConfig()
	cfg.RateLimit.RefreshMax = 2
	h := newTestEngine(t, cfg)
	h.seedUser()
	h.seedGrants()

	ctx := context.Background()
	res := loginPair(t, h, ctx)

	current := res.RefreshToken
	for i := 0; i < 2; i++ {
		next, err := h.engine.Refresh(ctx, current)
		if err != nil {
			t.Fatalf("refresh %d failed: %v", i+1, err)
		}
		current = next.RefreshToken
	}
	if _, err := h.engine.Refresh(ctx, current); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("third refresh = %v, want ErrRateLimited", err)
	}
}

func TestRefreshRecordsNewOrigin(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	res := loginPair(t, h, originContext("203.0.113.7"))

	moved := WithUserAgent(WithClientIP(context.Background(), "198.51.100.9"), "engine-test/2.0")
	if _, err := h.engine.Refresh(moved, res.RefreshToken); err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}

	sess := h.repo.stored(t, res.SessionID)
	if sess.IPAddress != "198.51.100.9" || sess.UserAgent != "engine-test/2.0" {
		t.Fatalf("origin = %s / %s, want refreshed values", sess.IPAddress, sess.UserAgent)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	ctx := context.Background()
	res := loginPair(t, h, ctx)

	if err := h.engine.Logout(ctx, res.AccessToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := h.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("refresh after logout = %v, want ErrSessionNotFound", err)
	}
	if _, err := h.engine.GetAuthContext(ctx, res.AccessToken); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("auth context after logout = %v, want ErrSessionNotFound", err)
	}

	h.drain()
	if events := h.sink.byType(auditEventLogout); len(events) != 1 {
		t.Fatalf("logout events = %d, want 1", len(events))
	}
	snap := h.engine.MetricsSnapshot()
	if snap.Counters[MetricLogout] != 1 || snap.Counters[MetricSessionRevoked] != 1 {
		t.Fatalf("counters = %v", snap.Counters)
	}
}

func TestLogoutRejectsRefreshToken(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	res := loginPair(t, h, context.Background())
	if err := h.engine.Logout(context.Background(), res.RefreshToken); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Logout(refresh) = %v, want ErrTokenInvalid", err)
	}
}

func TestGetAuthContext(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	res := loginPair(t, h, context.Background())

	ac, err := h.engine.GetAuthContext(context.Background(), res.AccessToken)
	if err != nil {
		t.Fatalf("GetAuthContext failed: %v", err)
	}
	if ac.UserID != testUserID || ac.Email != testEmail || ac.SessionID != res.SessionID {
		t.Fatalf("identity = %+v", ac)
	}
	if len(ac.Roles) != 1 || ac.Roles[0] != "editor" {
		t.Fatalf("roles = %v", ac.Roles)
	}
	if len(ac.Permissions) != 2 {
		t.Fatalf("permissions = %v", ac.Permissions)
	}
	if !ac.ExpiresAt.Equal(h.now.Add(15 * time.Minute)) {
		t.Fatalf("expiry = %v, want %v", ac.ExpiresAt, h.now.Add(15*time.Minute))
	}
}

func TestGetAuthContextExpiredAccess(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	res := loginPair(t, h, context.Background())

	*h.now = h.now.Add(16 * time.Minute)
	if _, err := h.engine.GetAuthContext(context.Background(), res.AccessToken); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("GetAuthContext = %v, want ErrTokenExpired", err)
	}
}

func TestRevokeUserSessions(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	ctx := context.Background()
	a := loginPair(t, h, ctx)
	b := loginPair(t, h, ctx)

	n, err := h.engine.RevokeUserSessions(ctx, testUserID)
	if err != nil {
		t.Fatalf("RevokeUserSessions failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("revoked = %d, want 2", n)
	}
	for _, res := range []*LoginResult{a, b} {
		if _, err := h.engine.Refresh(ctx, res.RefreshToken); !errors.Is(err, ErrSessionNotFound) {
			t.Fatalf("refresh after bulk revoke = %v, want ErrSessionNotFound", err)
		}
	}

	h.drain()
	events := h.sink.byType(auditEventSessionsRevoked)
	if len(events) != 1 || events[0].Metadata["count"] != "2" {
		t.Fatalf("sessions_revoked events = %+v", events)
	}
}

func TestRevokeUserSessionsRequiresID(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	if _, err := h.engine.RevokeUserSessions(context.Background(), ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("RevokeUserSessions(\"\") = %v, want ErrInvalidInput", err)
	}
}

func TestSweepExpiredSessions(t *testing.T) {
	h := newTestEngine(t, engineTestConfig())
	h.seedUser()
	h.seedGrants()

	ctx := context.Background()
	loginPair(t, h, ctx)
	loginPair(t, h, ctx)

	*h.now = h.now.Add(8 * 24 * time.Hour)
	n, err := h.engine.SweepExpiredSessions(ctx)
	if err != nil {
		t.Fatalf("SweepExpiredSessions failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("swept = %d, want 2", n)
	}
	if h.repo.count() != 0 {
		t.Fatalf("repo still holds %d sessions", h.repo.count())
	}
}
