// Package keystore stores the master encryption key (MEK) wrapped under a
// key derived from the master password.
//
// The record is a small binary file: a magic tag, a format version, the
// Argon2id parameters, the salt and nonce, the ChaCha20-Poly1305 ciphertext
// of the MEK and a CRC-32 over all of it. A keystore is written once and
// never rewritten.
package keystore

import "errors"

// Keystore errors
var (
	// ErrAlreadyExists indicates a keystore is present and will not be overwritten.
	ErrAlreadyExists = errors.New("keystore: already exists, refusing to overwrite")

	// ErrNotFound indicates no keystore exists at the configured path.
	ErrNotFound = errors.New("keystore: not found")

	// ErrCorrupted indicates a malformed record: missing magic, truncation,
	// checksum mismatch or out-of-range parameters.
	ErrCorrupted = errors.New("keystore: record is corrupted")

	// ErrUnsupportedVersion indicates a record written by a newer format.
	ErrUnsupportedVersion = errors.New("keystore: unsupported format version")

	// ErrAuthentication indicates the master password did not unwrap the MEK.
	ErrAuthentication = errors.New("keystore: authentication failed, wrong master password")
)
