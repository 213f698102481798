package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
)

const (
	charsetLowercase = "abcdefghijklmnopqrstuvwxyz"
	charsetUppercase = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	charsetDigits    = "0123456789"
	charsetSymbols   = "!@#$%^&*()_+-=[]{}|;:,.<>?"

	// MinGeneratedLength and MaxGeneratedLength bound GeneratePassword.
	MinGeneratedLength = 8
	MaxGeneratedLength = 256
)

var (
	// ErrInvalidLength indicates a requested length outside 8..256.
	ErrInvalidLength = errors.New("crypto: password length out of range")

	// ErrEmptyCharset indicates every character class was disabled or excluded.
	ErrEmptyCharset = errors.New("crypto: character set is empty")
)

// GenerateOptions selects the character classes used by GeneratePassword.
type GenerateOptions struct {
	Length    int
	Lowercase bool
	Uppercase bool
	Digits    bool
	Symbols   bool
	Exclude   string // characters never emitted
}

// DefaultGenerateOptions enables every class with a 24 character length.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{Length: 24, Lowercase: true, Uppercase: true, Digits: true, Symbols: true}
}

// GeneratePassword returns a random password containing at least one
// character from each enabled class.
func GeneratePassword(opts GenerateOptions) (string, error) {
	if opts.Length < MinGeneratedLength || opts.Length > MaxGeneratedLength {
		return "", fmt.Errorf("%w: %d (must be %d-%d)", ErrInvalidLength, opts.Length, MinGeneratedLength, MaxGeneratedLength)
	}

	var classes []string
	for _, c := range []struct {
		on  bool
		set string
	}{
		{opts.Lowercase, charsetLowercase},
		{opts.Uppercase, charsetUppercase},
		{opts.Digits, charsetDigits},
		{opts.Symbols, charsetSymbols},
	} {
		if !c.on {
			continue
		}
		if set := removeChars(c.set, opts.Exclude); set != "" {
			classes = append(classes, set)
		}
	}
	if len(classes) == 0 {
		return "", ErrEmptyCharset
	}

	out := make([]byte, 0, opts.Length)
	for _, set := range classes {
		ch, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}

	all := strings.Join(classes, "")
	for len(out) < opts.Length {
		ch, err := randomChar(all)
		if err != nil {
			return "", err
		}
		out = append(out, ch)
	}

	if err := shuffle(out); err != nil {
		return "", err
	}
	return string(out), nil
}

// RandomAlphanumeric returns an n character string drawn uniformly from
// [A-Za-z0-9].
func RandomAlphanumeric(n int) (string, error) {
	const set = charsetUppercase + charsetLowercase + charsetDigits
	out := make([]byte, n)
	for i := range out {
		ch, err := randomChar(set)
		if err != nil {
			return "", err
		}
		out[i] = ch
	}
	return string(out), nil
}

func randomIndex(n int) (int, error) {
	idx, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, fmt.Errorf("crypto: failed to generate random number: %w", err)
	}
	return int(idx.Int64()), nil
}

func randomChar(set string) (byte, error) {
	i, err := randomIndex(len(set))
	if err != nil {
		return 0, err
	}
	return set[i], nil
}

// shuffle is a Fisher-Yates shuffle driven by crypto/rand.
func shuffle(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randomIndex(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

func removeChars(s, chars string) string {
	if chars == "" {
		return s
	}
	var b strings.Builder
	for _, c := range s {
		if !strings.ContainsRune(chars, c) {
			b.WriteRune(c)
		}
	}
	return b.String()
}
