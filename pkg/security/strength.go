// Package security analyzes the health of stored secrets: strength, reuse
// and age.
package security

import "unicode/utf8"

// PasswordStrength represents the strength level of a password.
type PasswordStrength int

const (
	// PasswordWeak indicates fewer than 8 characters.
	PasswordWeak PasswordStrength = iota
	// PasswordFair indicates a minimally acceptable password.
	PasswordFair
	// PasswordGood indicates a good password.
	PasswordGood
	// PasswordStrong indicates a strong password.
	PasswordStrong
)

// String returns a human-readable representation of the password strength.
func (s PasswordStrength) String() string {
	switch s {
	case PasswordWeak:
		return "Weak"
	case PasswordFair:
		return "Fair"
	case PasswordGood:
		return "Good"
	case PasswordStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// Points returns the score points for this strength level:
// Weak=0, Fair=8, Good=17, Strong=25.
func (s PasswordStrength) Points() int {
	switch s {
	case PasswordFair:
		return 8
	case PasswordGood:
		return 17
	case PasswordStrong:
		return 25
	default:
		return 0
	}
}

// Strength rates a secret by length in characters. Composition rules are
// not applied (NIST SP 800-63B).
func Strength(secret []byte) PasswordStrength {
	n := utf8.RuneCount(secret)
	switch {
	case n >= 20:
		return PasswordStrong
	case n >= 14:
		return PasswordGood
	case n >= 8:
		return PasswordFair
	default:
		return PasswordWeak
	}
}

// Complexity counts the character classes present in s: lowercase,
// uppercase, digits and everything else.
func Complexity(s string) int {
	var lower, upper, digit, other bool
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			other = true
		}
	}
	n := 0
	for _, b := range []bool{lower, upper, digit, other} {
		if b {
			n++
		}
	}
	return n
}
