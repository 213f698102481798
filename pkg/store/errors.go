// Package store keeps vault entries in SQLite, one table per vault.
//
// Every entry is encrypted under its own key, derived with Argon2id from the
// MEK and a random per-entry salt. Listing returns ciphertext only; plaintext
// is produced by Get or Open for a single entry at a time.
package store

import "errors"

// Store errors
var (
	// ErrNotFound indicates no entry matches platform and user.
	ErrNotFound = errors.New("store: entry not found")

	// ErrVaultNotFound indicates the named table does not exist.
	ErrVaultNotFound = errors.New("store: vault not found")

	// ErrDecryptionFailed indicates the entry could not be decrypted with the
	// given MEK. It is never reported as ErrNotFound.
	ErrDecryptionFailed = errors.New("store: decryption failed, wrong key or corrupted entry")

	// ErrConflict indicates the target (platform, user) already exists.
	ErrConflict = errors.New("store: entry already exists")

	// ErrPinLimitExceeded indicates MaxPinned entries are already pinned.
	ErrPinLimitExceeded = errors.New("store: pin limit exceeded")

	// ErrInvalidTableName indicates a vault name outside [A-Za-z0-9_].
	ErrInvalidTableName = errors.New("store: invalid vault name")

	// ErrInvalidEntry indicates an empty platform or user.
	ErrInvalidEntry = errors.New("store: platform and user must not be empty")
)
