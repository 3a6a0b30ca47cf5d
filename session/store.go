package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Store layers a lookaside Cache over the durable Repository. The
// repository is authoritative: every write lands there first, and cache
// failures are logged and swallowed rather than surfaced.
type Store struct {
	repo   Repository
	cache  Cache
	now    func() time.Time
	logger *slog.Logger
}

// NewStore wires a session store. cache may be nil to run cacheless, now
// may be nil for wall-clock time, logger may be nil for slog.Default.
func NewStore(repo Repository, cache Cache, now func() time.Time, logger *slog.Logger) (*Store, error) {
	if repo == nil {
		return nil, errors.New("session store: nil repository")
	}
	if cache == nil {
		cache = NoopCache{}
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{repo: repo, cache: cache, now: now, logger: logger}, nil
}

// Create persists a new session and primes the cache for its remaining
// lifetime.
func (s *Store) Create(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.UserID == "" {
		return errors.New("create session: missing id or user id")
	}
	if err := s.repo.Insert(ctx, sess); err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	s.fillCache(ctx, sess)
	return nil
}

// Get returns a usable session or ErrNotFound. Cache hits are re-checked
// against the clock so a revoked or expired copy is never served; cache
// outages fall through to the repository.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}

	cached, err := s.cache.Get(ctx, id)
	switch {
	case err == nil:
		if cached.Usable(s.now()) {
			return cached, nil
		}
		s.retire(ctx, id)
		return nil, ErrNotFound
	case errors.Is(err, ErrCacheMiss):
	default:
		s.logger.WarnContext(ctx, "session cache read failed", "session_id", id, "error", err)
	}

	sess, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !sess.Usable(s.now()) {
		s.retire(ctx, id)
		return nil, ErrNotFound
	}
	s.fillCache(ctx, sess)
	return sess, nil
}

// Apply merges the non-nil fields of upd into the stored session and
// returns the merged result. The cache is rewritten when the session is
// still usable and cleared when it is not.
func (s *Store) Apply(ctx context.Context, id string, upd Update) (*Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	cur, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	merged := upd.apply(*cur)
	if !upd.Empty() {
		if err := s.repo.Apply(ctx, id, upd); err != nil {
			if errors.Is(err, ErrNotFound) {
				return nil, ErrNotFound
			}
			return nil, fmt.Errorf("update session: %w", err)
		}
	}

	if merged.Usable(s.now()) {
		s.fillCache(ctx, &merged)
	} else {
		s.dropCache(ctx, id)
	}
	return &merged, nil
}

// Revoke deactivates a session. Revoking an unknown or already revoked
// session is not an error, so logout can be retried freely.
func (s *Store) Revoke(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	// Cache goes first: the reverse order could swallow a cache failure
	// and keep serving a session the repository already revoked.
	s.dropCache(ctx, id)
	if err := s.repo.MarkRevoked(ctx, id, s.now()); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	return nil
}

// RevokeAllForUser deactivates every active session of a user and returns
// how many rows changed.
//
// ATOMICITY NOTE: the cache purge and the durable update are separate
// steps. A read racing between them can refill the cache with a session
// revoked a moment later; that entry ages out with its TTL.
func (s *Store) RevokeAllForUser(ctx context.Context, userID string) (int64, error) {
	if userID == "" {
		return 0, nil
	}
	if err := s.cache.DeleteAllForUser(ctx, userID); err != nil {
		s.logger.WarnContext(ctx, "session cache purge failed", "user_id", userID, "error", err)
	}
	n, err := s.repo.MarkRevokedAllForUser(ctx, userID, s.now())
	if err != nil {
		return 0, fmt.Errorf("revoke user sessions: %w", err)
	}
	return n, nil
}

// SweepExpired deletes rows whose absolute lifetime has passed. Cached
// copies are left to age out with their TTLs.
func (s *Store) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return n, nil
}

// fillCache stores sess for its remaining lifetime, dropping the write
// when the session already expired.
func (s *Store) fillCache(ctx context.Context, sess *Session) {
	ttl := sess.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return
	}
	if err := s.cache.Set(ctx, sess, ttl); err != nil {
		s.logger.WarnContext(ctx, "session cache write failed", "session_id", sess.ID, "error", err)
	}
}

func (s *Store) dropCache(ctx context.Context, id string) {
	if err := s.cache.Delete(ctx, id); err != nil {
		s.logger.WarnContext(ctx, "session cache delete failed", "session_id", id, "error", err)
	}
}

// retire clears a dead session from the cache and marks the durable row
// inactive so later reads agree. Both writes are best effort.
func (s *Store) retire(ctx context.Context, id string) {
	s.dropCache(ctx, id)
	if err := s.repo.MarkRevoked(ctx, id, s.now()); err != nil {
		s.logger.WarnContext(ctx, "session retire failed", "session_id", id, "error", err)
	}
}
