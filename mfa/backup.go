package mfa

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"strings"
)

// backupCodeBytes yields 8 hex characters per code.
const backupCodeBytes = 4

// Consumption is the outcome of matching a backup code against the stored
// hash set. Remaining is the set with the matched hash removed; the input
// slice is never mutated.
type Consumption struct {
	Valid          bool
	UsedHash       string
	Remaining      []string
	RemainingCount int
}

// NormalizeBackupCode canonicalizes user input before matching: trimmed
// and uppercased.
func NormalizeBackupCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsBackupCode reports whether s has the canonical backup code shape:
// exactly eight uppercase hex characters.
func IsBackupCode(s string) bool {
	if len(s) != 2*backupCodeBytes {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// HashBackupCode returns the SHA-256 hex digest of the normalized code, so
// equal codes hash equally regardless of input case.
func HashBackupCode(code string) string {
	sum := sha256.Sum256([]byte(NormalizeBackupCode(code)))
	return hex.EncodeToString(sum[:])
}

// VerifyBackupCode matches code against storedHashes. Every stored hash is
// compared in constant time with no early exit, so timing does not reveal
// the match position. On a match the used hash is removed from Remaining;
// persisting that removal is the caller's job.
func VerifyBackupCode(code string, storedHashes []string) Consumption {
	miss := Consumption{Remaining: storedHashes, RemainingCount: len(storedHashes)}

	normalized := NormalizeBackupCode(code)
	if !IsBackupCode(normalized) {
		return miss
	}

	candidate := []byte(HashBackupCode(normalized))
	matched := -1
	for i, stored := range storedHashes {
		if subtle.ConstantTimeCompare(candidate, []byte(stored)) == 1 && matched == -1 {
			matched = i
		}
	}
	if matched == -1 {
		return miss
	}

	remaining := make([]string, 0, len(storedHashes)-1)
	remaining = append(remaining, storedHashes[:matched]...)
	remaining = append(remaining, storedHashes[matched+1:]...)

	return Consumption{
		Valid:          true,
		UsedHash:       storedHashes[matched],
		Remaining:      remaining,
		RemainingCount: len(remaining),
	}
}

func encodeBackupCode(raw []byte) string {
	return strings.ToUpper(hex.EncodeToString(raw))
}
