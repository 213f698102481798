package crypto

import (
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// DefaultPasswordParams are the Argon2id costs used for the master
// password verifier stored in the configuration file.
var DefaultPasswordParams = KDFParams{Time: 3, MemoryKiB: 64 * 1024, Parallelism: 4}

const (
	passwordHashLength = 32
	minHashLength      = 16
	maxHashLength      = 64
)

// HashPassword hashes password with a fresh random salt using the default
// parameters. The result is a PHC-style string:
//
//	$argon2id$v=19$m=65536,t=3,p=4$<salt>$<hash>
func HashPassword(password []byte) (string, error) {
	return HashPasswordWithParams(password, DefaultPasswordParams)
}

// HashPasswordWithParams is HashPassword with explicit costs.
func HashPasswordWithParams(password []byte, p KDFParams) (string, error) {
	if err := p.Validate(); err != nil {
		return "", err
	}
	salt, err := RandomBytes(SaltLength)
	if err != nil {
		return "", err
	}
	hash := argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Parallelism, passwordHashLength)
	defer SecureWipe(hash)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.MemoryKiB, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword reports whether password matches the encoded hash.
// A malformed encoding verifies as false.
func VerifyPassword(password []byte, encoded string) bool {
	p, salt, want, err := parsePasswordHash(encoded)
	if err != nil {
		return false
	}
	got := argon2.IDKey(password, salt, p.Time, p.MemoryKiB, p.Parallelism, uint32(len(want)))
	defer SecureWipe(got)
	return subtle.ConstantTimeCompare(got, want) == 1
}

func parsePasswordHash(encoded string) (KDFParams, []byte, []byte, error) {
	var p KDFParams

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, fmt.Errorf("%w: unrecognized password hash", ErrInvalidParams)
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, fmt.Errorf("%w: unsupported argon2 version", ErrInvalidParams)
	}

	var threads uint32
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.MemoryKiB, &p.Time, &threads); err != nil {
		return p, nil, nil, fmt.Errorf("%w: bad parameter block", ErrInvalidParams)
	}
	if threads > MaxThreads {
		return p, nil, nil, fmt.Errorf("%w: parallelism %d", ErrInvalidParams, threads)
	}
	p.Parallelism = uint8(threads)
	if err := p.Validate(); err != nil {
		return p, nil, nil, err
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < MinSaltLength {
		return p, nil, nil, ErrInvalidSalt
	}
	hash, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) < minHashLength || len(hash) > maxHashLength {
		return p, nil, nil, fmt.Errorf("%w: bad hash length", ErrInvalidParams)
	}
	return p, salt, hash, nil
}
