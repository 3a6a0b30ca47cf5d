package authcore

import (
	"errors"
	"time"

	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/token"
)

// Config carries every tunable of the engine. Instances are treated as
// immutable after Build; the builder clones secret material so later
// mutation of the caller's slice cannot reach the engine.
type Config struct {
	Token         TokenConfig
	Session       SessionConfig
	Password      PasswordConfig
	Policy        PolicyConfig
	MFA           MFAConfig
	Security      SecurityConfig
	RateLimit     RateLimitConfig
	PasswordReset PasswordResetConfig
	RBAC          RBACConfig
	Audit         AuditConfig
	Metrics       MetricsConfig
}

/*
====================================
TOKEN CONFIG
====================================
*/

// TokenConfig configures the signed token pair. TTLs are duration strings
// in the <integer><unit> form with unit s, m, h, or d; both are parsed at
// Validate time so a malformed string fails at build, not at first login.
type TokenConfig struct {
	Secret     []byte
	Issuer     string
	Audience   string
	AccessTTL  string
	RefreshTTL string
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig tunes the session cache side. The durable repository and
// the cache implementation themselves are injected through the builder.
type SessionConfig struct {
	CachePrefix string
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig sets the bcrypt cost factor. The allowed range is
// policy-enforced in Validate (10..15).
type PasswordConfig struct {
	Cost int
}

// PolicyConfig is the password strength policy applied to new passwords.
type PolicyConfig struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

/*
====================================
MFA CONFIG
====================================
*/

// MFAConfig tunes TOTP and backup codes. Required, when true, refuses
// login to accounts that have not completed MFA enrollment.
type MFAConfig struct {
	Issuer          string
	Digits          int
	Period          int
	Window          int
	SecretLength    int
	BackupCodeCount int
	Required        bool
}

/*
====================================
SECURITY CONFIG
====================================
*/

// SecurityConfig holds the lockout policy.
type SecurityConfig struct {
	MaxLoginAttempts int
	LockoutDuration  time.Duration
}

// RateLimitConfig keys: login and reset by identifier+IP, refresh by
// session id. Fixed windows; the small overshoot race under concurrency
// is accepted.
type RateLimitConfig struct {
	Enabled            bool
	LoginMax           int
	LoginWindow        time.Duration
	RefreshMax         int
	RefreshWindow      time.Duration
	ResetRequestMax    int
	ResetRequestWindow time.Duration
}

/*
====================================
PASSWORD RESET CONFIG
====================================
*/

// PasswordResetConfig tunes the reset-challenge store. TokenLength is the
// hex length of the opaque token handed back to the embedding app.
type PasswordResetConfig struct {
	Enabled     bool
	TokenLength int
	TTL         time.Duration
	MaxAttempts int
}

/*
====================================
RBAC CONFIG
====================================
*/

// RBACConfig tunes the resolver cache. CacheTTL bounds how stale a
// resolved role/permission set may get; zero disables caching entirely.
type RBACConfig struct {
	CachePrefix string
	CacheTTL    time.Duration
}

/*
====================================
AUDIT / METRICS CONFIG
====================================
*/

type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

type MetricsConfig struct {
	Enabled                bool
	EnableLatencyHistogram bool
}

/*
====================================
PRESETS
====================================
*/

// DefaultConfig returns a baseline that validates once a signing secret is
// set. Secrets are never generated here.
func DefaultConfig() Config {
	return Config{
		Token: TokenConfig{
			Issuer:     "authcore",
			Audience:   "authcore",
			AccessTTL:  "15m",
			RefreshTTL: "7d",
		},
		Session: SessionConfig{
			CachePrefix: "ac:sess",
		},
		Password: PasswordConfig{
			Cost: 12,
		},
		Policy: PolicyConfig{
			MinLength:      8,
			MaxLength:      64,
			RequireUpper:   true,
			RequireLower:   true,
			RequireDigit:   true,
			RequireSpecial: false,
		},
		MFA: MFAConfig{
			Issuer:          "authcore",
			Digits:          6,
			Period:          30,
			Window:          1,
			SecretLength:    20,
			BackupCodeCount: 10,
			Required:        false,
		},
		Security: SecurityConfig{
			MaxLoginAttempts: 5,
			LockoutDuration:  15 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:            true,
			LoginMax:           10,
			LoginWindow:        time.Minute,
			RefreshMax:         20,
			RefreshWindow:      time.Minute,
			ResetRequestMax:    5,
			ResetRequestWindow: 15 * time.Minute,
		},
		PasswordReset: PasswordResetConfig{
			Enabled:     false,
			TokenLength: 64,
			TTL:         15 * time.Minute,
			MaxAttempts: 5,
		},
		RBAC: RBACConfig{
			CachePrefix: "ac:rbac",
			CacheTTL:    time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                true,
			EnableLatencyHistogram: false,
		},
	}
}

// HighSecurityConfig tightens the baseline: short access tokens, stricter
// password policy, fewer attempts before lockout, mandatory special
// characters, latency histograms on.
func HighSecurityConfig() Config {
	cfg := DefaultConfig()
	cfg.Token.AccessTTL = "5m"
	cfg.Token.RefreshTTL = "24h"
	cfg.Password.Cost = 14
	cfg.Policy.MinLength = 12
	cfg.Policy.RequireSpecial = true
	cfg.Security.MaxLoginAttempts = 3
	cfg.Security.LockoutDuration = 30 * time.Minute
	cfg.RateLimit.LoginMax = 5
	cfg.Metrics.EnableLatencyHistogram = true
	return cfg
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Token.Secret = cloneBytes(cfg.Token.Secret)
	return out
}

func cloneBytes(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate checks every bound. It parses the token TTL strings eagerly so
// a bad duration surfaces here rather than on the first issued pair.
func (c *Config) Validate() error {
	// Token
	if len(c.Token.Secret) < 32 {
		return errors.New("Token Secret must be at least 32 bytes")
	}
	if c.Token.Issuer == "" {
		return errors.New("Token Issuer is required")
	}
	if c.Token.Audience == "" {
		return errors.New("Token Audience is required")
	}
	access, err := token.ParseDuration(c.Token.AccessTTL)
	if err != nil {
		return errors.New("Token AccessTTL is not a valid duration string")
	}
	refresh, err := token.ParseDuration(c.Token.RefreshTTL)
	if err != nil {
		return errors.New("Token RefreshTTL is not a valid duration string")
	}
	if refresh <= access {
		return errors.New("Token RefreshTTL must exceed AccessTTL")
	}

	// Session
	if c.Session.CachePrefix == "" {
		return errors.New("Session CachePrefix is required")
	}

	// Password
	if c.Password.Cost < password.MinCost || c.Password.Cost > password.MaxCost {
		return errors.New("Password Cost must be between 10 and 15")
	}
	if c.Policy.MinLength <= 0 {
		return errors.New("Policy MinLength must be > 0")
	}
	if c.Policy.MaxLength < c.Policy.MinLength {
		return errors.New("Policy MaxLength must be >= MinLength")
	}
	if c.Policy.MaxLength > 72 {
		return errors.New("Policy MaxLength must be <= 72 (bcrypt input cap)")
	}

	// MFA
	if c.MFA.Digits != 6 {
		return errors.New("MFA Digits must be 6")
	}
	if c.MFA.Period < 15 {
		return errors.New("MFA Period must be >= 15 seconds")
	}
	if c.MFA.Window < 0 {
		return errors.New("MFA Window must be >= 0")
	}
	if c.MFA.SecretLength < 16 {
		return errors.New("MFA SecretLength must be >= 16 bytes")
	}
	if c.MFA.BackupCodeCount <= 0 {
		return errors.New("MFA BackupCodeCount must be > 0")
	}
	if c.MFA.Required && c.MFA.Issuer == "" {
		return errors.New("MFA Issuer is required when MFA is required")
	}

	// Security
	if c.Security.MaxLoginAttempts <= 0 {
		return errors.New("Security MaxLoginAttempts must be > 0")
	}
	if c.Security.LockoutDuration <= 0 {
		return errors.New("Security LockoutDuration must be > 0")
	}

	// Rate limiting
	if c.RateLimit.Enabled {
		if c.RateLimit.LoginMax <= 0 || c.RateLimit.LoginWindow <= 0 {
			return errors.New("RateLimit login window is misconfigured")
		}
		if c.RateLimit.RefreshMax <= 0 || c.RateLimit.RefreshWindow <= 0 {
			return errors.New("RateLimit refresh window is misconfigured")
		}
		if c.RateLimit.ResetRequestMax <= 0 || c.RateLimit.ResetRequestWindow <= 0 {
			return errors.New("RateLimit reset window is misconfigured")
		}
	}

	// Password reset
	if c.PasswordReset.Enabled {
		if c.PasswordReset.TokenLength < 32 || c.PasswordReset.TokenLength > 128 {
			return errors.New("PasswordReset TokenLength must be between 32 and 128")
		}
		if c.PasswordReset.TTL <= 0 {
			return errors.New("PasswordReset TTL must be > 0")
		}
		if c.PasswordReset.MaxAttempts <= 0 {
			return errors.New("PasswordReset MaxAttempts must be > 0")
		}
	}

	// RBAC
	if c.RBAC.CacheTTL < 0 {
		return errors.New("RBAC CacheTTL must be >= 0")
	}
	if c.RBAC.CacheTTL > 0 && c.RBAC.CachePrefix == "" {
		return errors.New("RBAC CachePrefix is required when caching is enabled")
	}

	// Audit
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		return errors.New("Audit BufferSize must be > 0 when audit is enabled")
	}

	return nil
}
