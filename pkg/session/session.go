// Package session caches the unwrapped MEK between commands.
//
// A session is a file named by a random 48 character token holding the raw
// MEK, plus a "current" pointer file naming the active token. Both live in a
// directory readable only by the owner. A session expires once the age of its
// file reaches the configured timeout; the timeout is read on every call so a
// configuration change applies to the running session.
package session

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/forest6511/rvault/internal/fsutil"
	"github.com/forest6511/rvault/pkg/crypto"
)

// TokenLength is the number of alphanumeric characters in a session token.
const TokenLength = 48

const currentFile = "current"

var (
	// ErrNoActiveSession indicates no session has been started.
	ErrNoActiveSession = errors.New("session: no active session")

	// ErrExpired indicates the session timed out and was removed.
	ErrExpired = errors.New("session: expired")

	// ErrCorrupted indicates a malformed pointer or key file.
	ErrCorrupted = errors.New("session: session file is corrupted")
)

// Info describes the active session without exposing the key.
type Info struct {
	StartedAt time.Time
	ExpiresAt time.Time
}

// Remaining returns the time left at now.
func (i Info) Remaining(now time.Time) time.Duration {
	if d := i.ExpiresAt.Sub(now); d > 0 {
		return d
	}
	return 0
}

// Manager starts, resolves and ends sessions in a directory.
type Manager struct {
	dir     string
	timeout func() time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// NewManager returns a Manager for dir. timeout is called on every
// ActiveKey and Status so the current configuration value is used.
func NewManager(dir string, timeout func() time.Duration, opts ...Option) *Manager {
	m := &Manager{
		dir:     dir,
		timeout: timeout,
		now:     time.Now,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start ends any existing session and caches mek under a new token.
func (m *Manager) Start(mek []byte) (string, error) {
	if len(mek) != crypto.KeyLength {
		return "", crypto.ErrInvalidKeyLength
	}
	if err := m.End(); err != nil {
		return "", err
	}
	if err := os.MkdirAll(m.dir, fsutil.DirMode); err != nil {
		return "", fmt.Errorf("session: failed to create %s: %w", m.dir, err)
	}

	token, err := crypto.RandomAlphanumeric(TokenLength)
	if err != nil {
		return "", err
	}

	keyPath := filepath.Join(m.dir, token)
	f, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, fsutil.FileMode)
	if err != nil {
		return "", fmt.Errorf("session: failed to create session file: %w", cause(err))
	}
	if _, err := f.Write(mek); err != nil {
		f.Close()
		os.Remove(keyPath)
		return "", fmt.Errorf("session: failed to write session file: %w", cause(err))
	}
	if err := f.Close(); err != nil {
		os.Remove(keyPath)
		return "", fmt.Errorf("session: failed to close session file: %w", cause(err))
	}

	// The file's mtime is the session start.
	started := m.now()
	if err := os.Chtimes(keyPath, started, started); err != nil {
		os.Remove(keyPath)
		return "", fmt.Errorf("session: failed to stamp session file: %w", cause(err))
	}

	if err := m.writeCurrent(token); err != nil {
		os.Remove(keyPath)
		return "", err
	}

	m.logger.Info("session started", "expires_at", started.Add(m.currentTimeout()))
	return token, nil
}

// ActiveKey returns the cached MEK if the session has not expired. An
// expired session is deleted and ErrExpired returned. The caller must
// SecureWipe the key.
func (m *Manager) ActiveKey() ([]byte, error) {
	keyPath, info, err := m.resolve()
	if err != nil {
		return nil, err
	}

	mek, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("session: failed to read session file: %w", cause(err))
	}
	if len(mek) != crypto.KeyLength {
		crypto.SecureWipe(mek)
		return nil, fmt.Errorf("%w: unexpected key length", ErrCorrupted)
	}

	m.logger.Debug("session key resolved", "remaining", info.Remaining(m.now()))
	return mek, nil
}

// Status reports the active session's start and expiry times.
func (m *Manager) Status() (Info, error) {
	_, info, err := m.resolve()
	return info, err
}

// End removes the active session. Ending when no session exists is a no-op.
func (m *Manager) End() error {
	token, err := m.readCurrent()
	if errors.Is(err, ErrNoActiveSession) {
		return nil
	}
	if err == nil {
		if err := removeIfExists(filepath.Join(m.dir, token), "session file"); err != nil {
			return err
		}
	}
	if err := removeIfExists(filepath.Join(m.dir, currentFile), "pointer"); err != nil {
		return err
	}
	m.logger.Info("session ended")
	return nil
}

// resolve locates the active session file and checks its age.
func (m *Manager) resolve() (string, Info, error) {
	token, err := m.readCurrent()
	if err != nil {
		return "", Info{}, err
	}

	keyPath := filepath.Join(m.dir, token)
	st, err := os.Stat(keyPath)
	if errors.Is(err, fs.ErrNotExist) {
		// Pointer without a key file: treat as no session and clean up.
		_ = removeIfExists(filepath.Join(m.dir, currentFile), "pointer")
		return "", Info{}, ErrNoActiveSession
	}
	if err != nil {
		return "", Info{}, fmt.Errorf("session: failed to stat session file: %w", cause(err))
	}

	info := Info{StartedAt: st.ModTime()}
	info.ExpiresAt = info.StartedAt.Add(m.currentTimeout())

	if !m.now().Before(info.ExpiresAt) {
		m.logger.Info("session expired", "started_at", info.StartedAt)
		if err := m.End(); err != nil {
			return "", Info{}, err
		}
		return "", Info{}, ErrExpired
	}
	return keyPath, info, nil
}

func (m *Manager) currentTimeout() time.Duration {
	if m.timeout == nil {
		return time.Hour
	}
	return m.timeout()
}

func (m *Manager) readCurrent() (string, error) {
	data, err := os.ReadFile(filepath.Join(m.dir, currentFile))
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoActiveSession
	}
	if err != nil {
		return "", fmt.Errorf("session: failed to read pointer: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if !validToken(token) {
		return "", fmt.Errorf("%w: invalid token", ErrCorrupted)
	}
	return token, nil
}

func (m *Manager) writeCurrent(token string) error {
	tmp := filepath.Join(m.dir, currentFile+".tmp")
	_ = os.Remove(tmp)
	if err := os.WriteFile(tmp, []byte(token), fsutil.FileMode); err != nil {
		return fmt.Errorf("session: failed to write pointer: %w", err)
	}
	if err := os.Rename(tmp, filepath.Join(m.dir, currentFile)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: failed to write pointer: %w", err)
	}
	return nil
}

// validToken also keeps the token from escaping the session directory.
func validToken(token string) bool {
	if len(token) != TokenLength {
		return false
	}
	for _, c := range token {
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// removeIfExists names the file by what, never by path, so tokens stay out
// of error messages.
func removeIfExists(path, what string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: failed to remove %s: %w", what, cause(err))
	}
	return nil
}

// cause drops the path from filesystem errors.
func cause(err error) error {
	var pe *fs.PathError
	if errors.As(err, &pe) {
		return pe.Err
	}
	return err
}
