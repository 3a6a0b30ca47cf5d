package password

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Cost bounds enforced at construction. bcrypt accepts a wider range, but
// anything below 10 is too cheap for interactive login and anything above
// 15 stalls the request path.
const (
	MinCost = 10
	MaxCost = 15
)

var (
	ErrEmptyPassword  = errors.New("password must not be empty")
	ErrCostOutOfRange = errors.New("bcrypt cost out of range")
)

// Hasher produces and verifies salted bcrypt hashes at a fixed cost.
type Hasher struct {
	cost int
}

func NewHasher(cost int) (*Hasher, error) {
	if cost < MinCost || cost > MaxCost {
		return nil, fmt.Errorf("%w: %d not in [%d, %d]", ErrCostOutOfRange, cost, MinCost, MaxCost)
	}
	return &Hasher{cost: cost}, nil
}

// Hash returns a salted bcrypt hash of password. Each call salts freshly,
// so hashing the same input twice yields distinct strings. bcrypt caps
// input at 72 bytes; the policy's MaxLength keeps candidates below that.
func (h *Hasher) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}

	digest, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}

	return string(digest), nil
}

// Verify reports whether password matches hash. Malformed hashes report
// false; this function never returns an error.
func (h *Hasher) Verify(password, hash string) bool {
	if password == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func (h *Hasher) Cost() int { return h.cost }
