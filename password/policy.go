package password

import (
	"fmt"
	"strings"
)

// Policy is the rule set applied to candidate passwords.
type Policy struct {
	MinLength      int
	MaxLength      int
	RequireUpper   bool
	RequireLower   bool
	RequireDigit   bool
	RequireSpecial bool
}

// DefaultPolicy keeps MaxLength under bcrypt's 72-byte input cap.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:      8,
		MaxLength:      64,
		RequireUpper:   true,
		RequireLower:   true,
		RequireDigit:   true,
		RequireSpecial: false,
	}
}

// Strength buckets the score at 25/50/75/90.
type Strength string

const (
	StrengthWeak       Strength = "WEAK"
	StrengthFair       Strength = "FAIR"
	StrengthGood       Strength = "GOOD"
	StrengthStrong     Strength = "STRONG"
	StrengthVeryStrong Strength = "VERY_STRONG"
)

// Validation is the outcome of a policy check. Valid is false whenever
// Errors is non-empty; Score and Strength are reported either way so UIs
// can render a meter while the user types.
type Validation struct {
	Valid    bool
	Errors   []string
	Score    int
	Strength Strength
}

const (
	lengthStepBonus = 25
	classBonus      = 5
	specialBonus    = 10

	commonPenalty     = 50
	sequentialPenalty = 15
	repeatPenalty     = 15

	sequenceRunLength = 4
	repeatRunLength   = 3
)

var lengthSteps = [...]int{4, 8, 12, 16}

var keyboardRows = [...]string{"qwertyuiop", "asdfghjkl", "zxcvbnm"}

// commonPasswords is a small embedded denylist of the passwords that
// dominate credential-stuffing lists. Matching is case-insensitive.
var commonPasswords = map[string]struct{}{
	"password":    {},
	"password1":   {},
	"passw0rd":    {},
	"123456":      {},
	"1234567":     {},
	"12345678":    {},
	"123456789":   {},
	"1234567890":  {},
	"qwerty":      {},
	"qwerty123":   {},
	"abc123":      {},
	"letmein":     {},
	"welcome":     {},
	"welcome1":    {},
	"monkey":      {},
	"dragon":      {},
	"iloveyou":    {},
	"sunshine":    {},
	"princess":    {},
	"football":    {},
	"baseball":    {},
	"superman":    {},
	"trustno1":    {},
	"admin":       {},
	"admin123":    {},
	"root":        {},
	"login":       {},
	"master":      {},
	"shadow":      {},
	"starwars":    {},
	"whatever":    {},
	"secret":      {},
	"freedom":     {},
	"hello123":    {},
	"charlie":     {},
	"aa123456":    {},
	"donald":      {},
	"qazwsx":      {},
	"michael":     {},
	"mustang":     {},
	"password123": {},
}

// Validate checks password against policy and scores its strength.
func Validate(password string, policy Policy) Validation {
	var errs []string

	length := len(password)
	if length < policy.MinLength {
		errs = append(errs, fmt.Sprintf("must be at least %d characters", policy.MinLength))
	}
	if policy.MaxLength > 0 && length > policy.MaxLength {
		errs = append(errs, fmt.Sprintf("must be at most %d characters", policy.MaxLength))
	}

	hasUpper, hasLower, hasDigit, hasSpecial := classify(password)

	if policy.RequireUpper && !hasUpper {
		errs = append(errs, "must contain an uppercase letter")
	}
	if policy.RequireLower && !hasLower {
		errs = append(errs, "must contain a lowercase letter")
	}
	if policy.RequireDigit && !hasDigit {
		errs = append(errs, "must contain a digit")
	}
	if policy.RequireSpecial && !hasSpecial {
		errs = append(errs, "must contain a special character")
	}

	isCommon := isCommonPassword(password)
	if isCommon {
		errs = append(errs, "is a commonly used password")
	}

	hasSequence := hasSequentialRun(password)
	if hasSequence {
		errs = append(errs, "contains a sequential character run")
	}

	hasRepeat := hasRepeatRun(password)
	if hasRepeat {
		errs = append(errs, "contains 3 or more repeated characters")
	}

	score := 0
	for _, step := range lengthSteps {
		if length >= step {
			score += lengthStepBonus
		}
	}
	if hasUpper {
		score += classBonus
	}
	if hasLower {
		score += classBonus
	}
	if hasDigit {
		score += classBonus
	}
	if hasSpecial {
		score += specialBonus
	}

	if isCommon {
		score -= commonPenalty
	}
	if hasSequence {
		score -= sequentialPenalty
	}
	if hasRepeat {
		score -= repeatPenalty
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}

	return Validation{
		Valid:    len(errs) == 0,
		Errors:   errs,
		Score:    score,
		Strength: bucket(score),
	}
}

func bucket(score int) Strength {
	switch {
	case score < 25:
		return StrengthWeak
	case score < 50:
		return StrengthFair
	case score < 75:
		return StrengthGood
	case score < 90:
		return StrengthStrong
	default:
		return StrengthVeryStrong
	}
}

func classify(s string) (hasUpper, hasLower, hasDigit, hasSpecial bool) {
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	return
}

func isCommonPassword(s string) bool {
	_, ok := commonPasswords[strings.ToLower(s)]
	return ok
}

// hasSequentialRun detects 4-character ascending or descending runs of
// letters or digits ("abcd", "4321") and 4-character slices of the
// standard keyboard rows in either direction ("qwer", "lkjh").
func hasSequentialRun(s string) bool {
	lower := strings.ToLower(s)

	if len(lower) >= sequenceRunLength {
		for i := 0; i+sequenceRunLength <= len(lower); i++ {
			if isLinearRun(lower[i : i+sequenceRunLength]) {
				return true
			}
		}
	}

	for _, row := range keyboardRows {
		if containsRowRun(lower, row) {
			return true
		}
	}

	return false
}

func isLinearRun(window string) bool {
	ascending, descending := true, true
	for i := 0; i < len(window); i++ {
		c := window[i]
		if !isAlnum(c) {
			return false
		}
		if i == 0 {
			continue
		}
		if c != window[i-1]+1 {
			ascending = false
		}
		if c != window[i-1]-1 {
			descending = false
		}
	}
	return ascending || descending
}

func containsRowRun(s, row string) bool {
	reversed := reverse(row)
	for i := 0; i+sequenceRunLength <= len(row); i++ {
		if strings.Contains(s, row[i:i+sequenceRunLength]) {
			return true
		}
		if strings.Contains(s, reversed[i:i+sequenceRunLength]) {
			return true
		}
	}
	return false
}

func hasRepeatRun(s string) bool {
	run := 1
	for i := 1; i < len(s); i++ {
		if s[i] == s[i-1] {
			run++
			if run >= repeatRunLength {
				return true
			}
		} else {
			run = 1
		}
	}
	return false
}

func isAlnum(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9')
}

func reverse(s string) string {
	b := []byte(s)
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
	return string(b)
}
