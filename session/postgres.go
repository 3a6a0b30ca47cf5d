package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Repository is the durable side of the session store. The cache may lose
// entries at any time; the repository never lies.
type Repository interface {
	// Insert persists a new session. The ID must be unique.
	Insert(ctx context.Context, sess *Session) error

	// FindByID loads one session, revoked or expired included. Missing
	// rows map to ErrNotFound.
	FindByID(ctx context.Context, id string) (*Session, error)

	// Apply patches the stored row with the non-nil fields of upd.
	// A missing row maps to ErrNotFound; an empty update is a no-op.
	Apply(ctx context.Context, id string, upd Update) error

	// MarkRevoked deactivates one session, keeping the first revocation
	// timestamp if it was already revoked. Missing rows are not an error.
	MarkRevoked(ctx context.Context, id string, at time.Time) error

	// MarkRevokedAllForUser deactivates every active session of a user
	// and returns how many rows changed.
	MarkRevokedAllForUser(ctx context.Context, userID string, at time.Time) (int64, error)

	// DeleteExpired removes rows whose absolute lifetime passed before
	// now and returns how many were deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}

// Schema creates the session table and its lookup indexes. Ship it through
// your migration tool; it is exposed here so small deployments and the
// example binaries can bootstrap without one.
const Schema = `
CREATE TABLE IF NOT EXISTS auth_sessions (
	id                 TEXT PRIMARY KEY,
	user_id            TEXT NOT NULL,
	refresh_token_hash TEXT NOT NULL,
	token_version      INTEGER NOT NULL DEFAULT 0,
	ip_address         TEXT NOT NULL DEFAULT '',
	user_agent         TEXT NOT NULL DEFAULT '',
	created_at         TIMESTAMPTZ NOT NULL,
	expires_at         TIMESTAMPTZ NOT NULL,
	last_access_at     TIMESTAMPTZ NOT NULL,
	is_active          BOOLEAN NOT NULL DEFAULT TRUE,
	revoked_at         TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS auth_sessions_user_id_idx ON auth_sessions (user_id);
CREATE INDEX IF NOT EXISTS auth_sessions_expires_at_idx ON auth_sessions (expires_at);
`

// PostgresRepository implements Repository on database/sql with the pgx
// stdlib driver.
type PostgresRepository struct {
	db *sql.DB
}

var _ Repository = (*PostgresRepository)(nil)

// OpenPostgres dials Postgres and returns a repository over a tuned pool.
func OpenPostgres(dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Pool defaults for a mid-size deployment; retune under load.
	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &PostgresRepository{db: db}, nil
}

// NewPostgresRepository wraps an existing handle. The caller keeps
// ownership of the pool.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Close releases the underlying pool. Only call it on repositories built
// with OpenPostgres.
func (r *PostgresRepository) Close() error { return r.db.Close() }

// DB exposes the handle for schema bootstrap and health checks.
func (r *PostgresRepository) DB() *sql.DB { return r.db }

func (r *PostgresRepository) Insert(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" || sess.UserID == "" {
		return errors.New("insert session: missing id or user id")
	}
	var revoked sql.NullTime
	if sess.RevokedAt != nil {
		revoked = sql.NullTime{Time: sess.RevokedAt.UTC(), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO auth_sessions
			(id, user_id, refresh_token_hash, token_version, ip_address, user_agent,
			 created_at, expires_at, last_access_at, is_active, revoked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, sess.ID, sess.UserID, sess.RefreshTokenHash, sess.TokenVersion,
		sess.IPAddress, sess.UserAgent,
		sess.CreatedAt.UTC(), sess.ExpiresAt.UTC(), sess.LastAccessAt.UTC(),
		sess.IsActive, revoked)
	return err
}

func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*Session, error) {
	var (
		sess    Session
		revoked sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, user_id, refresh_token_hash, token_version, ip_address, user_agent,
		       created_at, expires_at, last_access_at, is_active, revoked_at
		FROM auth_sessions
		WHERE id = $1
	`, id).Scan(&sess.ID, &sess.UserID, &sess.RefreshTokenHash, &sess.TokenVersion,
		&sess.IPAddress, &sess.UserAgent,
		&sess.CreatedAt, &sess.ExpiresAt, &sess.LastAccessAt,
		&sess.IsActive, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if revoked.Valid {
		at := revoked.Time.UTC()
		sess.RevokedAt = &at
	}
	return &sess, nil
}

func (r *PostgresRepository) Apply(ctx context.Context, id string, upd Update) error {
	if upd.Empty() {
		return nil
	}

	set := make([]string, 0, 6)
	args := []any{id}
	add := func(column string, value any) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if upd.RefreshTokenHash != nil {
		add("refresh_token_hash", *upd.RefreshTokenHash)
	}
	if upd.TokenVersion != nil {
		add("token_version", *upd.TokenVersion)
	}
	if upd.ExpiresAt != nil {
		add("expires_at", upd.ExpiresAt.UTC())
	}
	if upd.LastAccessAt != nil {
		add("last_access_at", upd.LastAccessAt.UTC())
	}
	if upd.IPAddress != nil {
		add("ip_address", *upd.IPAddress)
	}
	if upd.UserAgent != nil {
		add("user_agent", *upd.UserAgent)
	}

	res, err := r.db.ExecContext(ctx,
		"UPDATE auth_sessions SET "+strings.Join(set, ", ")+" WHERE id = $1", args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) MarkRevoked(ctx context.Context, id string, at time.Time) error {
	// COALESCE keeps the first revocation timestamp on repeat calls.
	_, err := r.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET is_active = FALSE, revoked_at = COALESCE(revoked_at, $2)
		WHERE id = $1
	`, id, at.UTC())
	return err
}

func (r *PostgresRepository) MarkRevokedAllForUser(ctx context.Context, userID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE auth_sessions
		SET is_active = FALSE, revoked_at = $2
		WHERE user_id = $1 AND is_active
	`, userID, at.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_sessions WHERE expires_at <= $1
	`, now.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
