//go:build integration
// +build integration

package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/rbac"
	"github.com/MrEthical07/authcore/session"
)

const (
	intEmail    = "alice@example.com"
	intPassword = "Sup3rSecret!Pass"
	intUserID   = "user-1"
)

// newIntegrationEngine builds a full engine on miniredis with map-backed
// stores. mutate may adjust the config before Build; pass nil for the
// defaults.
func newIntegrationEngine(t *testing.T, mutate func(*authcore.Config)) (*authcore.Engine, *intUsers, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	cfg := authcore.DefaultConfig()
	cfg.Token.Secret = []byte("integration-secret-0123456789abcdef")
	cfg.Password.Cost = 10
	if mutate != nil {
		mutate(&cfg)
	}

	users := newIntUsers(t, cfg.Password.Cost)
	engine, err := authcore.New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithUserStore(users).
		WithRoleStore(intRoles{}).
		WithSessionRepository(newIntRepo()).
		Build()
	if err != nil {
		t.Fatalf("engine build failed: %v", err)
	}

	return engine, users, func() {
		engine.Close()
		_ = rdb.Close()
		mr.Close()
	}
}

// newIntegrationStore wires a session store over a Redis cache and a
// map repository, for store-level suites that bypass the engine.
func newIntegrationStore(t *testing.T) (*session.Store, *redis.Client, *intRepo, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	repo := newIntRepo()
	store, err := session.NewStore(repo, session.NewRedisCache(rdb, "ac:test"), nil, nil)
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}

	return store, rdb, repo, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func makeIntSession(userID, sessionID string, expiresAt time.Time) *session.Session {
	now := time.Now()
	return &session.Session{
		ID:               sessionID,
		UserID:           userID,
		RefreshTokenHash: "hash-" + sessionID,
		TokenVersion:     1,
		IPAddress:        "203.0.113.9",
		UserAgent:        "integration-test",
		CreatedAt:        now,
		ExpiresAt:        expiresAt,
		LastAccessAt:     now,
		IsActive:         true,
	}
}

// intUsers is a map-backed UserStore seeded with one active account.
type intUsers struct {
	mu   sync.Mutex
	byID map[string]authcore.User
}

func newIntUsers(t *testing.T, cost int) *intUsers {
	t.Helper()
	hasher, err := password.NewHasher(cost)
	if err != nil {
		t.Fatalf("hasher init failed: %v", err)
	}
	hash, err := hasher.Hash(intPassword)
	if err != nil {
		t.Fatalf("seed hash failed: %v", err)
	}
	return &intUsers{byID: map[string]authcore.User{
		intUserID: {
			ID:           intUserID,
			Email:        intEmail,
			PasswordHash: hash,
			Status:       authcore.StatusActive,
		},
	}}
}

func (s *intUsers) GetByEmail(_ context.Context, email string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.Email == email {
			out := u
			return &out, nil
		}
	}
	return nil, authcore.ErrUserNotFound
}

func (s *intUsers) GetByID(_ context.Context, id string) (*authcore.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return nil, authcore.ErrUserNotFound
	}
	return &u, nil
}

func (s *intUsers) UpdateLoginAttempts(_ context.Context, id string, attempts int, lockoutUntil *time.Time) error {
	return s.mutate(id, func(u *authcore.User) {
		u.FailedLoginAttempts = attempts
		u.LockoutUntil = lockoutUntil
	})
}

func (s *intUsers) UpdateLastLogin(_ context.Context, id, ip string, at time.Time) error {
	return s.mutate(id, func(u *authcore.User) {
		u.LastLoginAt = &at
		u.LastLoginIP = ip
	})
}

func (s *intUsers) UpdatePassword(_ context.Context, id, hash string, at time.Time) error {
	return s.mutate(id, func(u *authcore.User) {
		u.PasswordHash = hash
		u.PasswordChangedAt = &at
	})
}

func (s *intUsers) StageMFA(_ context.Context, id, secret string, backupHashes []string) error {
	return s.mutate(id, func(u *authcore.User) {
		u.MFASecret = secret
		u.MFAPending = true
		u.BackupCodeHashes = append([]string(nil), backupHashes...)
	})
}

func (s *intUsers) ActivateMFA(_ context.Context, id string) error {
	return s.mutate(id, func(u *authcore.User) {
		u.MFAEnabled = true
		u.MFAPending = false
	})
}

func (s *intUsers) DisableMFA(_ context.Context, id string) error {
	return s.mutate(id, func(u *authcore.User) {
		u.MFAEnabled = false
		u.MFAPending = false
		u.MFASecret = ""
		u.BackupCodeHashes = nil
	})
}

func (s *intUsers) ReplaceBackupCodes(_ context.Context, id string, hashes []string) error {
	return s.mutate(id, func(u *authcore.User) {
		u.BackupCodeHashes = append([]string(nil), hashes...)
	})
}

func (s *intUsers) ConsumeBackupCode(_ context.Context, id, hash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return false, authcore.ErrUserNotFound
	}
	for i, stored := range u.BackupCodeHashes {
		if stored == hash {
			u.BackupCodeHashes = append(u.BackupCodeHashes[:i:i], u.BackupCodeHashes[i+1:]...)
			s.byID[id] = u
			return true, nil
		}
	}
	return false, nil
}

func (s *intUsers) mutate(id string, fn func(*authcore.User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return authcore.ErrUserNotFound
	}
	fn(&u)
	s.byID[id] = u
	return nil
}

// intRoles grants every user the member role with a read permission.
type intRoles struct{}

func (intRoles) GetUserRoleAssignments(_ context.Context, userID string) ([]rbac.Assignment, error) {
	return []rbac.Assignment{
		{UserID: userID, RoleID: "r-member", RoleName: "member", AssignedAt: time.Now()},
	}, nil
}

func (intRoles) GetRolePermissions(context.Context, string) ([]string, error) {
	return []string{"articles:read"}, nil
}

// intRepo is a map-backed session repository.
type intRepo struct {
	mu   sync.Mutex
	data map[string]session.Session
}

func newIntRepo() *intRepo { return &intRepo{data: map[string]session.Session{}} }

func (r *intRepo) row(id string) (session.Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.data[id]
	return sess, ok
}

func (r *intRepo) Insert(_ context.Context, sess *session.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[sess.ID] = *sess
	return nil
}

func (r *intRepo) FindByID(_ context.Context, id string) (*session.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.data[id]
	if !ok {
		return nil, session.ErrNotFound
	}
	return &sess, nil
}

func (r *intRepo) Apply(_ context.Context, id string, upd session.Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.data[id]
	if !ok {
		return session.ErrNotFound
	}
	if upd.RefreshTokenHash != nil {
		sess.RefreshTokenHash = *upd.RefreshTokenHash
	}
	if upd.TokenVersion != nil {
		sess.TokenVersion = *upd.TokenVersion
	}
	if upd.ExpiresAt != nil {
		sess.ExpiresAt = *upd.ExpiresAt
	}
	if upd.LastAccessAt != nil {
		sess.LastAccessAt = *upd.LastAccessAt
	}
	if upd.IPAddress != nil {
		sess.IPAddress = *upd.IPAddress
	}
	if upd.UserAgent != nil {
		sess.UserAgent = *upd.UserAgent
	}
	r.data[id] = sess
	return nil
}

func (r *intRepo) MarkRevoked(_ context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.data[id]
	if !ok {
		return nil
	}
	sess.IsActive = false
	if sess.RevokedAt == nil {
		sess.RevokedAt = &at
	}
	r.data[id] = sess
	return nil
}

func (r *intRepo) MarkRevokedAllForUser(_ context.Context, userID string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, sess := range r.data {
		if sess.UserID != userID || !sess.IsActive {
			continue
		}
		sess.IsActive = false
		sess.RevokedAt = &at
		r.data[id] = sess
		n++
	}
	return n, nil
}

func (r *intRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, sess := range r.data {
		if sess.ExpiresAt.Before(now) {
			delete(r.data, id)
			n++
		}
	}
	return n, nil
}
