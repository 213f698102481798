package vault

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/forest6511/rvault/pkg/security"
)

// Master password length limits, in characters.
const (
	MinPasswordLength = 8
	MaxPasswordLength = 128
)

var (
	ErrPasswordTooShort = errors.New("vault: password must be at least 8 characters")
	ErrPasswordTooLong  = errors.New("vault: password must be at most 128 characters")
)

// PasswordValidationResult contains the result of password validation.
type PasswordValidationResult struct {
	Valid    bool                      // meets the length requirements
	Err      error                     // set when Valid is false
	Strength security.PasswordStrength // estimated strength
	Warnings []string                  // suggestions, not errors
}

// ValidateMasterPassword enforces the length limits and rates the password.
// Complexity only produces warnings.
func ValidateMasterPassword(password string) *PasswordValidationResult {
	result := &PasswordValidationResult{Valid: true}

	n := utf8.RuneCountInString(password)
	switch {
	case n < MinPasswordLength:
		result.Valid = false
		result.Err = ErrPasswordTooShort
		result.Strength = security.PasswordWeak
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Password must be at least %d characters", MinPasswordLength))
		return result
	case n > MaxPasswordLength:
		result.Valid = false
		result.Err = ErrPasswordTooLong
		result.Strength = security.PasswordWeak
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Password must be at most %d characters", MaxPasswordLength))
		return result
	}

	complexity := security.Complexity(password)
	if complexity < 2 {
		result.Warnings = append(result.Warnings,
			"Consider using a mix of uppercase, lowercase, numbers, and symbols")
	}
	if n < 12 {
		result.Warnings = append(result.Warnings,
			"Longer passwords (12+ characters) are more secure")
	}

	switch {
	case complexity >= 3 && n >= 16:
		result.Strength = security.PasswordStrong
	case complexity >= 2 && n >= 12:
		result.Strength = security.PasswordGood
	case complexity >= 2 || n >= 12:
		result.Strength = security.PasswordFair
	default:
		result.Strength = security.PasswordWeak
	}
	return result
}
