package store

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/forest6511/rvault/pkg/crypto"

	_ "modernc.org/sqlite"
)

const (
	// MaxPinned is the number of entries that may be pinned in one vault.
	MaxPinned = 10

	// MaxTableNameLength bounds vault names.
	MaxTableNameLength = 64

	fileMode = 0o600
	dirMode  = 0o700
)

// entryAADPrefix binds ciphertext to the row it was written for.
const entryAADPrefix = "rvault-entry-v1"

// Entry is a stored row. Ciphertext, Nonce and Salt are always written
// together.
type Entry struct {
	ID         int64     `json:"-" yaml:"-"`
	Platform   string    `json:"platform" yaml:"platform"`
	UserID     string    `json:"user_id" yaml:"user_id"`
	Ciphertext []byte    `json:"-" yaml:"-"`
	Nonce      []byte    `json:"-" yaml:"-"`
	Salt       []byte    `json:"-" yaml:"-"`
	Pinned     bool      `json:"pinned" yaml:"pinned"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	UpdatedAt  time.Time `json:"updated_at" yaml:"updated_at"`
}

// Store is a SQLite secret store. It holds no open connection; each
// operation opens and closes its own.
type Store struct {
	path        string
	entryParams crypto.KDFParams
	now         func() time.Time
	logger      *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithEntryKDF sets the Argon2id costs for per-entry keys. Entries record
// only their salt, so every entry in a database must use the same costs.
func WithEntryKDF(p crypto.KDFParams) Option {
	return func(s *Store) { s.entryParams = p }
}

// WithClock replaces time.Now for timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New returns a Store for the database file at path.
func New(path string, opts ...Option) *Store {
	s := &Store{
		path:        path,
		entryParams: crypto.DefaultEntryParams,
		now:         time.Now,
		logger:      slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// ValidateTableName accepts non-empty names of letters, digits and
// underscores. Names reserved by SQLite or the store are rejected. Names
// that differ only in case refer to the same vault.
func ValidateTableName(name string) error {
	if name == "" || len(name) > MaxTableNameLength {
		return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
	}
	for _, c := range name {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_') {
			return fmt.Errorf("%w: %q", ErrInvalidTableName, name)
		}
	}
	if isReservedTable(name) {
		return fmt.Errorf("%w: %q is reserved", ErrInvalidTableName, name)
	}
	return nil
}

// quote returns a validated identifier ready for interpolation.
func quote(name string) (string, error) {
	if err := ValidateTableName(name); err != nil {
		return "", err
	}
	return `"` + name + `"`, nil
}

func createTableSQL(ident string) string {
	return `CREATE TABLE IF NOT EXISTS ` + ident + ` (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		platform TEXT NOT NULL,
		user_id TEXT NOT NULL,
		ciphertext BLOB NOT NULL,
		nonce BLOB,
		salt BLOB,
		pinned INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL DEFAULT 0,
		UNIQUE(platform, user_id)
	)`
}

// open opens the database, creating the file and directory if needed, and
// brings the schema up to date.
func (s *Store) open() (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(s.path), dirMode); err != nil {
		return nil, fmt.Errorf("store: failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", s.path+"?_pragma=busy_timeout(5000)&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}
	if runtime.GOOS != "windows" {
		if err := os.Chmod(s.path, fileMode); err != nil {
			db.Close()
			return nil, fmt.Errorf("store: failed to set permissions: %w", err)
		}
	}
	if err := migrateSchema(db, s.logger); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// CreateTable creates the vault table if it does not exist.
func (s *Store) CreateTable(name string) error {
	ident, err := quote(name)
	if err != nil {
		return err
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(createTableSQL(ident)); err != nil {
		return fmt.Errorf("store: failed to create vault %s: %w", name, err)
	}
	s.logger.Debug("vault table ready", "vault", name)
	return nil
}

// Tables lists vault tables in name order.
func (s *Store) Tables() ([]string, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()
	return userTables(db)
}

// ResolveTable returns the stored spelling of a vault name. Vault names
// are case-insensitive.
func (s *Store) ResolveTable(name string) (string, error) {
	if _, err := quote(name); err != nil {
		return "", err
	}
	db, err := s.open()
	if err != nil {
		return "", err
	}
	defer db.Close()
	return resolveTable(db, name)
}

// Put encrypts plaintext under a fresh entry key and inserts the entry, or
// replaces its ciphertext if (platform, user) exists. created_at is kept on
// replace. The vault table is created if missing.
func (s *Store) Put(table string, mek []byte, platform, user string, plaintext []byte) error {
	ident, err := quote(table)
	if err != nil {
		return err
	}
	if platform == "" || user == "" {
		return ErrInvalidEntry
	}

	sealed, err := s.seal(mek, platform, user, plaintext)
	if err != nil {
		return err
	}

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(createTableSQL(ident)); err != nil {
		return fmt.Errorf("store: failed to create vault %s: %w", table, err)
	}

	now := s.now().UnixNano()
	_, err = db.Exec(`
		INSERT INTO `+ident+` (platform, user_id, ciphertext, nonce, salt, pinned, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT(platform, user_id) DO UPDATE SET
			ciphertext = excluded.ciphertext,
			nonce = excluded.nonce,
			salt = excluded.salt,
			updated_at = excluded.updated_at
	`, platform, user, sealed.ciphertext, sealed.nonce, sealed.salt, now, now)
	if err != nil {
		return fmt.Errorf("store: failed to save entry: %w", err)
	}

	s.logger.Debug("entry saved", "vault", table)
	return nil
}

// Get returns the decrypted secret for (platform, user). The caller should
// SecureWipe the result.
func (s *Store) Get(table string, mek []byte, platform, user string) ([]byte, error) {
	e, err := s.Entry(table, platform, user)
	if err != nil {
		return nil, err
	}
	return s.Open(e, mek)
}

// Entry returns the stored row for (platform, user) without decrypting it.
func (s *Store) Entry(table, platform, user string) (*Entry, error) {
	ident, err := quote(table)
	if err != nil {
		return nil, err
	}
	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := requireTable(db, table); err != nil {
		return nil, err
	}

	row := db.QueryRow(`SELECT `+entryColumns+` FROM `+ident+` WHERE platform = ? AND user_id = ?`, platform, user)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: failed to read entry: %w", err)
	}
	return e, nil
}

// Open decrypts an entry returned by Entry or List.
func (s *Store) Open(e *Entry, mek []byte) ([]byte, error) {
	if len(mek) != crypto.KeyLength {
		return nil, crypto.ErrInvalidKeyLength
	}
	key, err := crypto.DeriveKey(mek, e.Salt, s.entryParams)
	if err != nil {
		// Rows written by older versions may lack a usable salt.
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	defer crypto.SecureWipe(key)

	plaintext, err := crypto.Decrypt(key, e.Ciphertext, e.Nonce, entryAAD(e.Platform, e.UserID))
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Remove deletes the entry. A missing entry or vault is not an error.
func (s *Store) Remove(table, platform, user string) error {
	ident, err := quote(table)
	if err != nil {
		return err
	}
	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := requireTable(db, table); errors.Is(err, ErrVaultNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	if _, err := db.Exec(`DELETE FROM `+ident+` WHERE platform = ? AND user_id = ?`, platform, user); err != nil {
		return fmt.Errorf("store: failed to delete entry: %w", err)
	}
	s.logger.Debug("entry removed", "vault", table)
	return nil
}

// TogglePin flips the pinned flag and returns the new state. Pinning fails
// with ErrPinLimitExceeded once MaxPinned entries are pinned; unpinning
// always succeeds.
func (s *Store) TogglePin(table, platform, user string) (bool, error) {
	ident, err := quote(table)
	if err != nil {
		return false, err
	}
	db, err := s.open()
	if err != nil {
		return false, err
	}
	defer db.Close()

	if err := requireTable(db, table); err != nil {
		return false, err
	}

	tx, err := db.Begin()
	if err != nil {
		return false, fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var pinned bool
	err = tx.QueryRow(`SELECT pinned FROM `+ident+` WHERE platform = ? AND user_id = ?`, platform, user).Scan(&pinned)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("store: failed to read entry: %w", err)
	}

	if !pinned {
		var count int
		if err := tx.QueryRow(`SELECT COUNT(*) FROM ` + ident + ` WHERE pinned = 1`).Scan(&count); err != nil {
			return false, fmt.Errorf("store: failed to count pinned entries: %w", err)
		}
		if count >= MaxPinned {
			return false, fmt.Errorf("%w: %d of %d pinned", ErrPinLimitExceeded, count, MaxPinned)
		}
	}

	if _, err := tx.Exec(`UPDATE `+ident+` SET pinned = ? WHERE platform = ? AND user_id = ?`, !pinned, platform, user); err != nil {
		return false, fmt.Errorf("store: failed to update entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	return !pinned, nil
}

// Update replaces the secret of (platform, oldUser) and renames it to
// newUser. A rename onto an existing (platform, newUser) fails with
// ErrConflict and changes nothing.
func (s *Store) Update(table string, mek []byte, platform, oldUser, newUser string, plaintext []byte) error {
	ident, err := quote(table)
	if err != nil {
		return err
	}
	if platform == "" || newUser == "" {
		return ErrInvalidEntry
	}

	sealed, err := s.seal(mek, platform, newUser, plaintext)
	if err != nil {
		return err
	}

	db, err := s.open()
	if err != nil {
		return err
	}
	defer db.Close()

	if err := requireTable(db, table); err != nil {
		return err
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("store: failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if newUser != oldUser {
		var exists int
		err := tx.QueryRow(`SELECT 1 FROM `+ident+` WHERE platform = ? AND user_id = ?`, platform, newUser).Scan(&exists)
		if err == nil {
			return ErrConflict
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("store: failed to check for conflict: %w", err)
		}
	}

	res, err := tx.Exec(`
		UPDATE `+ident+`
		SET user_id = ?, ciphertext = ?, nonce = ?, salt = ?, updated_at = ?
		WHERE platform = ? AND user_id = ?
	`, newUser, sealed.ciphertext, sealed.nonce, sealed.salt, s.now().UnixNano(), platform, oldUser)
	if err != nil {
		return fmt.Errorf("store: failed to update entry: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return fmt.Errorf("store: failed to update entry: %w", err)
	} else if n == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: failed to commit transaction: %w", err)
	}
	s.logger.Debug("entry updated", "vault", table, "renamed", newUser != oldUser)
	return nil
}

// List returns every entry of a vault, pinned entries first, the rest in
// mode order. Ciphertext is returned as stored.
func (s *Store) List(table string, mode SortMode) ([]*Entry, error) {
	ident, err := quote(table)
	if err != nil {
		return nil, err
	}
	order, ok := orderBy[mode]
	if !ok {
		return nil, fmt.Errorf("store: unknown sort mode %d", int(mode))
	}

	db, err := s.open()
	if err != nil {
		return nil, err
	}
	defer db.Close()

	if err := requireTable(db, table); err != nil {
		return nil, err
	}

	rows, err := db.Query(`SELECT ` + entryColumns + ` FROM ` + ident + ` ORDER BY pinned DESC, ` + order)
	if err != nil {
		return nil, fmt.Errorf("store: failed to list entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("store: failed to read entry: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: failed to list entries: %w", err)
	}
	return entries, nil
}

// IntegrityCheck runs SQLite's integrity check and returns its verdict,
// "ok" when the database is sound.
func (s *Store) IntegrityCheck() (string, error) {
	if _, err := os.Stat(s.path); err != nil {
		return "", fmt.Errorf("store: %w", err)
	}
	db, err := s.open()
	if err != nil {
		return "", err
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return "", fmt.Errorf("store: integrity check failed: %w", err)
	}
	return result, nil
}

type sealedEntry struct {
	ciphertext, nonce, salt []byte
}

// seal derives a fresh entry key and encrypts plaintext for one row.
func (s *Store) seal(mek []byte, platform, user string, plaintext []byte) (*sealedEntry, error) {
	if len(mek) != crypto.KeyLength {
		return nil, crypto.ErrInvalidKeyLength
	}
	salt, err := crypto.RandomBytes(crypto.SaltLength)
	if err != nil {
		return nil, err
	}
	key, err := crypto.DeriveKey(mek, salt, s.entryParams)
	if err != nil {
		return nil, fmt.Errorf("store: failed to derive entry key: %w", err)
	}
	defer crypto.SecureWipe(key)

	ciphertext, nonce, err := crypto.Encrypt(key, plaintext, entryAAD(platform, user))
	if err != nil {
		return nil, fmt.Errorf("store: failed to encrypt entry: %w", err)
	}
	return &sealedEntry{ciphertext: ciphertext, nonce: nonce, salt: salt}, nil
}

func entryAAD(platform, user string) []byte {
	aad := make([]byte, 0, len(entryAADPrefix)+len(platform)+len(user)+2)
	aad = append(aad, entryAADPrefix...)
	aad = append(aad, 0)
	aad = append(aad, platform...)
	aad = append(aad, 0)
	aad = append(aad, user...)
	return aad
}

const entryColumns = `id, platform, user_id, ciphertext, nonce, salt, pinned, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                Entry
		created, updated int64
	)
	if err := row.Scan(&e.ID, &e.Platform, &e.UserID, &e.Ciphertext, &e.Nonce, &e.Salt, &e.Pinned, &created, &updated); err != nil {
		return nil, err
	}
	e.CreatedAt = fromUnixNano(created)
	e.UpdatedAt = fromUnixNano(updated)
	return &e, nil
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
