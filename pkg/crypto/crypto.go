// Package crypto provides cryptographic primitives for rvault.
//
// This package implements ChaCha20-Poly1305 authenticated encryption and
// Argon2id key derivation with explicit, persisted cost parameters.
//
// # Security Features
//
//   - ChaCha20-Poly1305 AEAD with a fresh random 96-bit nonce per message
//   - Argon2id key derivation (KEK, per-entry keys, master password hash)
//   - Additional authenticated data for domain separation
//   - Secure memory wiping and best-effort page locking for key buffers
//
// # Example Usage
//
//	salt, _ := crypto.RandomBytes(crypto.SaltLength)
//	kek, err := crypto.DeriveKey([]byte("password"), salt, crypto.DefaultKEKParams)
//	defer crypto.SecureWipe(kek)
//
//	ciphertext, nonce, err := crypto.Encrypt(kek, mek, aad)
//	mek, err := crypto.Decrypt(kek, ciphertext, nonce, aad)
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeyLength is the length of encryption keys in bytes (256 bits).
	KeyLength = chacha20poly1305.KeySize

	// NonceLength is the length of AEAD nonces in bytes (96 bits).
	NonceLength = chacha20poly1305.NonceSize

	// TagLength is the length of the Poly1305 authentication tag.
	TagLength = chacha20poly1305.Overhead

	// SaltLength is the length of KDF salts generated by rvault (128 bits).
	SaltLength = 16

	// MinSaltLength is the shortest salt accepted by DeriveKey.
	MinSaltLength = 8
)

// Bounds applied to KDF parameters read from disk. Values outside these
// ranges indicate a corrupted or hostile record.
const (
	MaxTime      = 64
	MaxMemoryKiB = 1024 * 1024 // 1 GiB
	MaxThreads   = 64
)

// KDFParams are Argon2id cost parameters.
type KDFParams struct {
	Time        uint32 // iterations
	MemoryKiB   uint32 // memory cost in KiB
	Parallelism uint8  // lanes
}

var (
	// DefaultKEKParams are used to derive the key-encryption key from the
	// master password (64 MiB, 3 iterations, 4 lanes).
	DefaultKEKParams = KDFParams{Time: 3, MemoryKiB: 64 * 1024, Parallelism: 4}

	// DefaultEntryParams are used to derive per-entry keys from the MEK.
	DefaultEntryParams = KDFParams{Time: 2, MemoryKiB: 19 * 1024, Parallelism: 1}
)

// Sentinel errors returned by crypto functions.
var (
	// ErrInvalidKeyLength indicates the key is not 32 bytes.
	ErrInvalidKeyLength = errors.New("crypto: invalid key length, must be 32 bytes")

	// ErrInvalidNonceLength indicates the nonce is not 12 bytes.
	ErrInvalidNonceLength = errors.New("crypto: invalid nonce length, must be 12 bytes")

	// ErrInvalidSalt indicates the salt is too short.
	ErrInvalidSalt = errors.New("crypto: salt too short")

	// ErrInvalidParams indicates KDF parameters are out of range.
	ErrInvalidParams = errors.New("crypto: invalid kdf parameters")

	// ErrDecryptionFailed indicates authentication tag verification failed.
	ErrDecryptionFailed = errors.New("crypto: decryption failed, authentication tag verification failed")

	// ErrCiphertextTooShort indicates the ciphertext is shorter than the tag.
	ErrCiphertextTooShort = errors.New("crypto: ciphertext too short")
)

// Validate reports whether the parameters are within accepted bounds.
func (p KDFParams) Validate() error {
	switch {
	case p.Time < 1 || p.Time > MaxTime:
		return fmt.Errorf("%w: time cost %d", ErrInvalidParams, p.Time)
	case p.Parallelism < 1 || p.Parallelism > MaxThreads:
		return fmt.Errorf("%w: parallelism %d", ErrInvalidParams, p.Parallelism)
	case p.MemoryKiB < 8*uint32(p.Parallelism) || p.MemoryKiB > MaxMemoryKiB:
		return fmt.Errorf("%w: memory cost %d KiB", ErrInvalidParams, p.MemoryKiB)
	}
	return nil
}

// DeriveKey derives a 256-bit key from secret and salt using Argon2id.
//
// secret is either a master password (KEK derivation) or the MEK itself
// (per-entry key derivation). The caller owns the returned slice and should
// SecureWipe it when done.
func DeriveKey(secret, salt []byte, p KDFParams) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if len(salt) < MinSaltLength {
		return nil, ErrInvalidSalt
	}
	return argon2.IDKey(secret, salt, p.Time, p.MemoryKiB, p.Parallelism, KeyLength), nil
}

// Encrypt seals plaintext with ChaCha20-Poly1305 under key.
//
// A fresh random nonce is generated for every call. aad is authenticated but
// not encrypted and may be nil. The Poly1305 tag is appended to ciphertext.
func Encrypt(key, plaintext, aad []byte) (ciphertext []byte, nonce []byte, err error) {
	if len(key) != KeyLength {
		return nil, nil, ErrInvalidKeyLength
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	nonce = make([]byte, NonceLength)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("crypto: failed to generate nonce: %w", err)
	}

	ciphertext = aead.Seal(nil, nonce, plaintext, aad)
	return ciphertext, nonce, nil
}

// Decrypt opens ciphertext sealed by Encrypt.
//
// Any tag mismatch (wrong key, wrong aad, tampered data) yields
// ErrDecryptionFailed and no plaintext.
func Decrypt(key, ciphertext, nonce, aad []byte) (plaintext []byte, err error) {
	if len(key) != KeyLength {
		return nil, ErrInvalidKeyLength
	}
	if len(nonce) != NonceLength {
		return nil, ErrInvalidNonceLength
	}
	if len(ciphertext) < TagLength {
		return nil, ErrCiphertextTooShort
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: failed to create cipher: %w", err)
	}

	plaintext, err = aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// RandomBytes returns n bytes from crypto/rand.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: failed to read random bytes: %w", err)
	}
	return b, nil
}

// SecureWipe overwrites a byte slice with zeros in a way that prevents
// compiler optimization from removing the operation.
func SecureWipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
	// runtime.KeepAlive keeps b "in use" after the loop so the stores stay.
	runtime.KeepAlive(b)
}
