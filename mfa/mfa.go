package mfa

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Defaults applied by NewEngine for zero-valued Config fields.
const (
	DefaultDigits          = 6
	DefaultPeriod          = 30
	DefaultSecretLength    = 20
	DefaultBackupCodeCount = 10
)

// Config tunes code generation and verification. Window is the number of
// accepted steps either side of the current one; zero means the current
// step only.
type Config struct {
	Issuer          string
	Digits          int
	Period          int
	Window          int
	SecretLength    int
	BackupCodeCount int
}

// Method reports which credential satisfied a combined verification.
type Method string

const (
	MethodTOTP       Method = "totp"
	MethodBackupCode Method = "backup_code"
)

// Setup is the material for one enrollment attempt. The caller stages
// Secret and BackupCodeHashes against the user and shows Secret, QRPayload
// and BackupCodes exactly once; the secret stays inactive until a TOTP
// verification confirms the authenticator.
type Setup struct {
	Secret           string
	QRPayload        string
	BackupCodes      []string
	BackupCodeHashes []string
}

// Verification is the outcome of VerifyCode. When Method is
// MethodBackupCode and Valid is true, the caller must persist the
// consumption: drop UsedBackupHash from the user's stored hashes.
type Verification struct {
	Valid                bool
	Method               Method
	UsedBackupHash       string
	RemainingBackupCodes int
}

// Engine verifies TOTP and backup codes against a caller-supplied clock
// and entropy source. It is immutable after construction and safe for
// concurrent use.
type Engine struct {
	config Config
	now    func() time.Time
	rand   io.Reader
}

// NewEngine validates cfg and builds an Engine. A nil now falls back to
// time.Now, a nil r to crypto/rand.
func NewEngine(cfg Config, now func() time.Time, r io.Reader) (*Engine, error) {
	if cfg.Issuer == "" {
		return nil, errors.New("issuer is required")
	}
	if cfg.Digits == 0 {
		cfg.Digits = DefaultDigits
	}
	if cfg.Digits != DefaultDigits {
		return nil, errors.New("digits must be 6")
	}
	if cfg.Period == 0 {
		cfg.Period = DefaultPeriod
	}
	if cfg.Period < 15 {
		return nil, errors.New("period must be at least 15 seconds")
	}
	if cfg.Window < 0 {
		return nil, errors.New("window must not be negative")
	}
	if cfg.SecretLength == 0 {
		cfg.SecretLength = DefaultSecretLength
	}
	if cfg.SecretLength < 16 {
		return nil, errors.New("secret length must be at least 16 bytes")
	}
	if cfg.BackupCodeCount == 0 {
		cfg.BackupCodeCount = DefaultBackupCodeCount
	}
	if cfg.BackupCodeCount < 0 {
		return nil, errors.New("backup code count must be positive")
	}

	if now == nil {
		now = time.Now
	}
	if r == nil {
		r = rand.Reader
	}

	return &Engine{config: cfg, now: now, rand: r}, nil
}

// GenerateSetup produces a fresh secret, provisioning URI and backup code
// batch for one enrollment attempt. The account label prefers email and
// falls back to userID; issuerLabel overrides the configured issuer.
func (e *Engine) GenerateSetup(userID, email, issuerLabel string) (*Setup, error) {
	account := email
	if account == "" {
		account = userID
	}
	if account == "" {
		return nil, errors.New("account label is required")
	}

	secret, err := e.GenerateSecret()
	if err != nil {
		return nil, err
	}
	codes, hashes, err := e.GenerateBackupCodes()
	if err != nil {
		return nil, err
	}

	return &Setup{
		Secret:           secret,
		QRPayload:        e.ProvisionURI(secret, account, issuerLabel),
		BackupCodes:      codes,
		BackupCodeHashes: hashes,
	}, nil
}

// GenerateBackupCodes draws a full batch of backup codes, returning the
// plaintext codes and their hashes index-aligned.
func (e *Engine) GenerateBackupCodes() ([]string, []string, error) {
	codes := make([]string, 0, e.config.BackupCodeCount)
	hashes := make([]string, 0, e.config.BackupCodeCount)

	buf := make([]byte, backupCodeBytes)
	for i := 0; i < e.config.BackupCodeCount; i++ {
		if _, err := io.ReadFull(e.rand, buf); err != nil {
			return nil, nil, fmt.Errorf("read random bytes: %w", err)
		}
		code := encodeBackupCode(buf)
		codes = append(codes, code)
		hashes = append(hashes, HashBackupCode(code))
	}
	return codes, hashes, nil
}

// VerifyCode checks code against the TOTP secret or the stored backup code
// hashes, dispatching on shape: six digits tries TOTP, eight hex chars
// tries backup codes. Anything else fails with an empty Method.
func (e *Engine) VerifyCode(secret, code string, backupHashes []string) Verification {
	trimmed := strings.TrimSpace(code)

	if IsTOTPCode(trimmed) {
		out := Verification{Method: MethodTOTP, RemainingBackupCodes: len(backupHashes)}
		out.Valid = e.VerifyTOTP(secret, trimmed, e.config.Window)
		return out
	}

	normalized := NormalizeBackupCode(trimmed)
	if IsBackupCode(normalized) {
		consumption := VerifyBackupCode(normalized, backupHashes)
		if consumption.Valid {
			return Verification{
				Valid:                true,
				Method:               MethodBackupCode,
				UsedBackupHash:       consumption.UsedHash,
				RemainingBackupCodes: consumption.RemainingCount,
			}
		}
		return Verification{Method: MethodBackupCode, RemainingBackupCodes: len(backupHashes)}
	}

	return Verification{RemainingBackupCodes: len(backupHashes)}
}
