package session

import "time"

// Session is one authenticated device/browser binding for a user. The
// RefreshTokenHash holds the hex SHA-256 of the currently valid refresh
// token; TokenVersion counts rotations.
type Session struct {
	ID               string
	UserID           string
	RefreshTokenHash string
	TokenVersion     int
	IPAddress        string
	UserAgent        string
	CreatedAt        time.Time
	ExpiresAt        time.Time
	LastAccessAt     time.Time
	IsActive         bool
	RevokedAt        *time.Time
}

// Expired reports whether the session's absolute lifetime has passed.
func (s *Session) Expired(at time.Time) bool {
	return !at.Before(s.ExpiresAt)
}

// Usable reports whether the session can still authenticate requests.
func (s *Session) Usable(at time.Time) bool {
	return s.IsActive && !s.Expired(at)
}

// Update is a partial session mutation; nil fields are left untouched.
type Update struct {
	RefreshTokenHash *string
	TokenVersion     *int
	ExpiresAt        *time.Time
	LastAccessAt     *time.Time
	IPAddress        *string
	UserAgent        *string
}

// Empty reports whether the update would change nothing.
func (u Update) Empty() bool {
	return u.RefreshTokenHash == nil &&
		u.TokenVersion == nil &&
		u.ExpiresAt == nil &&
		u.LastAccessAt == nil &&
		u.IPAddress == nil &&
		u.UserAgent == nil
}

// apply merges the update into a copy of s.
func (u Update) apply(s Session) Session {
	if u.RefreshTokenHash != nil {
		s.RefreshTokenHash = *u.RefreshTokenHash
	}
	if u.TokenVersion != nil {
		s.TokenVersion = *u.TokenVersion
	}
	if u.ExpiresAt != nil {
		s.ExpiresAt = *u.ExpiresAt
	}
	if u.LastAccessAt != nil {
		s.LastAccessAt = *u.LastAccessAt
	}
	if u.IPAddress != nil {
		s.IPAddress = *u.IPAddress
	}
	if u.UserAgent != nil {
		s.UserAgent = *u.UserAgent
	}
	return s
}
