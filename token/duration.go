package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// ErrInvalidDurationFormat rejects TTL strings that are not "<integer><unit>".
var ErrInvalidDurationFormat = errors.New("invalid duration format")

// ParseDuration parses the compact TTL notation used in configuration: a
// positive integer followed by one of s, m, h or d ("90s", "15m", "12h",
// "7d"). Fractions, negatives, bare numbers and signs are rejected.
func ParseDuration(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, s)
	}

	digits := s[:len(s)-1]
	for i := 0; i < len(digits); i++ {
		if digits[i] < '0' || digits[i] > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, s)
		}
	}

	n, err := strconv.Atoi(digits)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, s)
	}

	switch s[len(s)-1] {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDurationFormat, s)
	}
}
