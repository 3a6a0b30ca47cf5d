package mfa

import (
	"crypto/hmac"
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
)

// GenerateSecret draws a fresh TOTP secret and returns it base32-encoded
// without padding, the form authenticator apps expect.
func (e *Engine) GenerateSecret() (string, error) {
	raw := make([]byte, e.config.SecretLength)
	if _, err := io.ReadFull(e.rand, raw); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(raw), nil
}

// ProvisionURI renders the otpauth:// URI encoded into enrollment QR codes.
// An empty issuer falls back to the configured one.
func (e *Engine) ProvisionURI(secret, account, issuer string) string {
	if issuer == "" {
		issuer = e.config.Issuer
	}
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(e.config.Period))
	v.Set("digits", strconv.Itoa(e.config.Digits))
	v.Set("algorithm", "SHA1")

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// VerifyTOTP checks a six-digit code against the base32 secret, accepting
// codes from up to window steps either side of the current one. Codes are
// compared in constant time; malformed input or secrets report false.
func (e *Engine) VerifyTOTP(secret, code string, window int) bool {
	trimmed := strings.TrimSpace(code)
	if !IsTOTPCode(trimmed) {
		return false
	}
	if window < 0 {
		return false
	}

	key, err := decodeSecret(secret)
	if err != nil || len(key) == 0 {
		return false
	}

	base := e.now().Unix() / int64(e.config.Period)
	for step := -window; step <= window; step++ {
		counter := base + int64(step)
		if counter < 0 {
			continue
		}
		generated := hotpCode(key, counter, e.config.Digits)
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true
		}
	}
	return false
}

// IsTOTPCode reports whether s has the shape of a TOTP code: exactly six
// ASCII digits.
func IsTOTPCode(s string) bool {
	if len(s) != DefaultDigits {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// decodeSecret accepts both padded and unpadded base32, upper or lower
// case, since secrets round-trip through user-visible channels.
func decodeSecret(secret string) ([]byte, error) {
	cleaned := strings.TrimRight(strings.ToUpper(strings.TrimSpace(secret)), "=")
	return base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(cleaned)
}

// hotpCode computes the RFC 4226 HMAC-SHA1 dynamic truncation for one
// counter value, zero-padded to digits.
func hotpCode(key []byte, counter int64, digits int) string {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}
	return fmt.Sprintf("%0*d", digits, bin%mod)
}
