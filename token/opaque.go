package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
)

// Bounds for GenerateSecureToken output length.
const (
	MinSecureTokenLength = 8
	MaxSecureTokenLength = 128
)

// ErrTokenLength rejects secure-token lengths outside the allowed range.
var ErrTokenLength = errors.New("secure token length out of range")

// GenerateSecureToken returns a hex string of exactly length characters
// drawn from crypto/rand. Odd lengths are served by truncating the final
// encoded byte.
func GenerateSecureToken(length int) (string, error) {
	if length < MinSecureTokenLength || length > MaxSecureTokenLength {
		return "", fmt.Errorf("%w: %d", ErrTokenLength, length)
	}

	buf := make([]byte, (length+1)/2)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return hex.EncodeToString(buf)[:length], nil
}

// HashToken returns the SHA-256 hex digest of raw. Callers store the
// digest, never the raw token.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// VerifyHashedToken reports whether raw hashes to storedHash, comparing
// digests in constant time. A malformed stored hash is a mismatch.
func VerifyHashedToken(raw, storedHash string) bool {
	decoded, err := hex.DecodeString(storedHash)
	if err != nil || len(decoded) != sha256.Size {
		return false
	}
	sum := sha256.Sum256([]byte(raw))
	return subtle.ConstantTimeCompare(sum[:], decoded) == 1
}
