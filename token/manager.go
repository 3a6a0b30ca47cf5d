package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Verification failures collapse into one of three sentinels so callers can
// map them onto transport responses without inspecting library internals.
var (
	ErrExpired   = errors.New("token expired")
	ErrNotActive = errors.New("token not yet active")
	ErrInvalid   = errors.New("token invalid")
)

// MinSecretBytes is the smallest HS256 secret the manager accepts.
const MinSecretBytes = 32

// Config carries the signing material and TTLs for a Manager. TTLs use the
// notation understood by ParseDuration.
type Config struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  string
	RefreshTTL string
}

// Manager issues and verifies HS256-signed access/refresh pairs. It is
// immutable after construction and safe for concurrent use.
type Manager struct {
	secret     []byte
	issuer     string
	audience   string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// AccessClaims is the payload of a short-lived access token. Subject holds
// the user ID; roles and permissions are the snapshot resolved at issuance.
type AccessClaims struct {
	Email         string   `json:"email,omitempty"`
	Roles         []string `json:"roles,omitempty"`
	Permissions   []string `json:"perms,omitempty"`
	SessionID     string   `json:"sid"`
	CorrelationID string   `json:"cid,omitempty"`
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a long-lived refresh token. TokenVersion
// is the rotation generation of the session named by SessionID.
type RefreshClaims struct {
	SessionID    string `json:"sid"`
	TokenVersion int    `json:"ver"`
	jwt.RegisteredClaims
}

// Pair is one issued access/refresh pair. Both tokens carry the same
// SessionID; ExpiresIn is the access token lifetime in seconds.
type Pair struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int64
	SessionID    string
}

// NewManager validates cfg and builds a Manager. A nil now falls back to
// time.Now.
func NewManager(cfg Config, now func() time.Time) (*Manager, error) {
	if len(cfg.Secret) < MinSecretBytes {
		return nil, fmt.Errorf("secret must be at least %d bytes", MinSecretBytes)
	}
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Audience == "" {
		return nil, errors.New("audience is required")
	}

	accessTTL, err := ParseDuration(cfg.AccessTTL)
	if err != nil {
		return nil, fmt.Errorf("access TTL: %w", err)
	}
	refreshTTL, err := ParseDuration(cfg.RefreshTTL)
	if err != nil {
		return nil, fmt.Errorf("refresh TTL: %w", err)
	}
	if refreshTTL <= accessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}

	if now == nil {
		now = time.Now
	}

	return &Manager{
		secret:     append([]byte(nil), cfg.Secret...),
		issuer:     cfg.Issuer,
		audience:   cfg.Audience,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        now,
	}, nil
}

// AccessTTL returns the configured access token lifetime.
func (m *Manager) AccessTTL() time.Duration { return m.accessTTL }

// RefreshTTL returns the configured refresh token lifetime. Sessions live
// exactly as long as their current refresh token.
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

// IssuePair signs a fresh access/refresh pair sharing sessionID. The roles
// and permissions slices are embedded as issued, so callers pass the
// freshly resolved snapshot.
func (m *Manager) IssuePair(userID, email string, roles, permissions []string, sessionID, correlationID string, tokenVersion int) (*Pair, error) {
	if userID == "" {
		return nil, errors.New("userID is required")
	}
	if sessionID == "" {
		return nil, errors.New("sessionID is required")
	}

	now := m.now().UTC()

	access := AccessClaims{
		Email:         email,
		Roles:         roles,
		Permissions:   permissions,
		SessionID:     sessionID,
		CorrelationID: correlationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.accessTTL)),
		},
	}
	accessToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, access).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refresh := RefreshClaims{
		SessionID:    sessionID,
		TokenVersion: tokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    m.issuer,
			Audience:  jwt.ClaimStrings{m.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.refreshTTL)),
		},
	}
	refreshToken, err := jwt.NewWithClaims(jwt.SigningMethodHS256, refresh).SignedString(m.secret)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}

	return &Pair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresIn:    int64(m.accessTTL / time.Second),
		SessionID:    sessionID,
	}, nil
}

// VerifyAccess validates signature, algorithm, issuer, audience and the
// time window, returning the claims or one of the classification sentinels.
func (m *Manager) VerifyAccess(tokenStr string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

// VerifyRefresh is VerifyAccess for refresh tokens.
func (m *Manager) VerifyRefresh(tokenStr string) (*RefreshClaims, error) {
	claims := &RefreshClaims{}
	if err := m.parse(tokenStr, claims); err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *Manager) parse(tokenStr string, claims jwt.Claims) error {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithAudience(m.audience),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return m.now() }),
	)

	token, err := parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
		}
		return m.secret, nil
	})
	if err != nil {
		return classify(err)
	}
	if !token.Valid {
		return ErrInvalid
	}
	return nil
}

// classify collapses golang-jwt validation errors into the package
// sentinels. Expiry takes precedence over other claim failures.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrTokenNotValidYet), errors.Is(err, jwt.ErrTokenUsedBeforeIssued):
		return fmt.Errorf("%w: %v", ErrNotActive, err)
	default:
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
}
