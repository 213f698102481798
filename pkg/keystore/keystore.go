package keystore

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/forest6511/rvault/pkg/crypto"
)

const (
	fileMode = 0o600
	dirMode  = 0o700
)

// Keystore manages the wrapped MEK file at a fixed path.
type Keystore struct {
	path   string
	params crypto.KDFParams
	banner string
	logger *slog.Logger
}

// Option configures a Keystore.
type Option func(*Keystore)

// WithKDFParams sets the Argon2id costs used by Create. Load always uses the
// parameters stored in the record.
func WithKDFParams(p crypto.KDFParams) Option {
	return func(k *Keystore) { k.params = p }
}

// WithBanner prepends a line of text to newly created keystore files.
func WithBanner(banner string) Option {
	return func(k *Keystore) { k.banner = banner }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(k *Keystore) { k.logger = l }
}

// New returns a Keystore for path.
func New(path string, opts ...Option) *Keystore {
	k := &Keystore{
		path:   path,
		params: crypto.DefaultKEKParams,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// Path returns the keystore file path.
func (k *Keystore) Path() string {
	return k.path
}

// Exists reports whether a keystore file is present.
func (k *Keystore) Exists() bool {
	_, err := os.Lstat(k.path)
	return err == nil
}

// Create generates a random MEK, wraps it under a key derived from password
// and writes the record. An existing keystore is never replaced.
//
// The MEK is returned to the caller, who must SecureWipe it.
func (k *Keystore) Create(password []byte) ([]byte, error) {
	if k.Exists() {
		return nil, ErrAlreadyExists
	}

	mek, err := crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		return nil, err
	}
	salt, err := crypto.RandomBytes(crypto.SaltLength)
	if err != nil {
		crypto.SecureWipe(mek)
		return nil, err
	}

	kek, err := crypto.DeriveKey(password, salt, k.params)
	if err != nil {
		crypto.SecureWipe(mek)
		return nil, fmt.Errorf("keystore: failed to derive key: %w", err)
	}
	defer crypto.SecureWipe(kek)

	ciphertext, nonce, err := crypto.Encrypt(kek, mek, AAD)
	if err != nil {
		crypto.SecureWipe(mek)
		return nil, fmt.Errorf("keystore: failed to wrap key: %w", err)
	}

	rec := &Record{Version: FormatVersion, Params: k.params, Ciphertext: ciphertext}
	copy(rec.Salt[:], salt)
	copy(rec.Nonce[:], nonce)

	payload, err := rec.MarshalBinary()
	if err != nil {
		crypto.SecureWipe(mek)
		return nil, err
	}

	var data []byte
	if k.banner != "" {
		data = append(data, k.banner...)
		if !strings.HasSuffix(k.banner, "\n") {
			data = append(data, '\n')
		}
	}
	data = append(data, payload...)

	if err := k.writeNew(data); err != nil {
		crypto.SecureWipe(mek)
		return nil, err
	}

	k.logger.Info("keystore created", "path", k.path,
		"kdf_time", k.params.Time, "kdf_memory_kib", k.params.MemoryKiB, "kdf_threads", k.params.Parallelism)
	return mek, nil
}

// Load reads the record and unwraps the MEK with password.
//
// A wrong password yields ErrAuthentication; a damaged file yields
// ErrCorrupted or ErrUnsupportedVersion. The caller must SecureWipe the MEK.
func (k *Keystore) Load(password []byte) ([]byte, error) {
	rec, err := k.Inspect()
	if err != nil {
		return nil, err
	}

	kek, err := crypto.DeriveKey(password, rec.Salt[:], rec.Params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	defer crypto.SecureWipe(kek)

	mek, err := crypto.Decrypt(kek, rec.Ciphertext, rec.Nonce[:], AAD)
	if errors.Is(err, crypto.ErrDecryptionFailed) {
		k.logger.Warn("keystore unwrap failed", "path", k.path)
		return nil, ErrAuthentication
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupted, err)
	}
	if len(mek) != crypto.KeyLength {
		crypto.SecureWipe(mek)
		return nil, fmt.Errorf("%w: unexpected key length", ErrCorrupted)
	}
	return mek, nil
}

// Inspect parses the record without unwrapping it.
func (k *Keystore) Inspect() (*Record, error) {
	data, err := os.ReadFile(k.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: failed to read %s: %w", k.path, err)
	}
	return ParseRecord(data)
}

// writeNew writes data to a private temp file and links it into place, so a
// keystore that appears concurrently is still not replaced.
func (k *Keystore) writeNew(data []byte) error {
	dir := filepath.Dir(k.path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("keystore: failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".keystore.tmp-*")
	if err != nil {
		return fmt.Errorf("keystore: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := tmp.Chmod(fileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("keystore: failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("keystore: failed to write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("keystore: failed to sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("keystore: failed to close: %w", err)
	}

	err = os.Link(tmpName, k.path)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrExist):
		return ErrAlreadyExists
	}

	// Filesystems without hard links fall back to check-then-rename.
	k.logger.Debug("hard link unavailable, falling back to rename", "error", err)
	if k.Exists() {
		return ErrAlreadyExists
	}
	if err := os.Rename(tmpName, k.path); err != nil {
		return fmt.Errorf("keystore: failed to move into place: %w", err)
	}
	return nil
}
