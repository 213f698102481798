// Package vault composes the keystore, session manager, secret store and
// audit log into the operations a front-end calls.
//
// Setup creates the configuration and keystore. Unlock verifies the master
// password, unwraps the MEK and caches it in a session. Every protected
// operation reads the MEK from the active session, so separate command
// invocations share one unlock until the session expires or Lock is called.
package vault

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/forest6511/rvault/pkg/audit"
	"github.com/forest6511/rvault/pkg/config"
	"github.com/forest6511/rvault/pkg/crypto"
	"github.com/forest6511/rvault/pkg/keystore"
	"github.com/forest6511/rvault/pkg/session"
	"github.com/forest6511/rvault/pkg/store"
)

// Errors
var (
	ErrAlreadySetUp    = errors.New("vault: already set up")
	ErrNotSetUp        = errors.New("vault: not set up, run setup first")
	ErrInvalidPassword = errors.New("vault: invalid master password")
	ErrCooldownActive  = errors.New("vault: cooldown period active")
	ErrTooManyAttempts = errors.New("vault: too many failed unlock attempts")
)

// keystoreBanner heads the keystore file so it is recognizable in a listing.
const keystoreBanner = "rvault keystore: binary data, do not edit"

// Vault is the facade over one installation.
type Vault struct {
	paths    config.Paths
	keystore *keystore.Keystore
	sessions *session.Manager
	store    *store.Store
	audit    *audit.Logger

	passwordParams crypto.KDFParams
	now            func() time.Time
	logger         *slog.Logger
}

type options struct {
	kekParams      crypto.KDFParams
	entryParams    crypto.KDFParams
	passwordParams crypto.KDFParams
	now            func() time.Time
	logger         *slog.Logger
}

// Option configures a Vault.
type Option func(*options)

// WithKDFParams sets the Argon2id costs for the KEK and the master password
// hash.
func WithKDFParams(p crypto.KDFParams) Option {
	return func(o *options) {
		o.kekParams = p
		o.passwordParams = p
	}
}

// WithEntryKDF sets the Argon2id costs for per-entry keys.
func WithEntryKDF(p crypto.KDFParams) Option {
	return func(o *options) { o.entryParams = p }
}

// WithClock replaces time.Now in every component.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLogger sets the logger passed to every component.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// New returns a Vault rooted at paths. Nothing is read or written until an
// operation is called.
func New(paths config.Paths, opts ...Option) *Vault {
	o := options{
		kekParams:      crypto.DefaultKEKParams,
		entryParams:    crypto.DefaultEntryParams,
		passwordParams: crypto.DefaultPasswordParams,
		now:            time.Now,
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(&o)
	}

	v := &Vault{
		paths:          paths,
		passwordParams: o.passwordParams,
		now:            o.now,
		logger:         o.logger,
	}
	v.keystore = keystore.New(paths.KeystoreFile(),
		keystore.WithBanner(keystoreBanner),
		keystore.WithKDFParams(o.kekParams),
		keystore.WithLogger(o.logger))
	v.sessions = session.NewManager(paths.SessionDir, v.sessionTimeout,
		session.WithClock(o.now),
		session.WithLogger(o.logger))
	v.store = store.New(paths.DatabaseFile(),
		store.WithEntryKDF(o.entryParams),
		store.WithClock(o.now),
		store.WithLogger(o.logger))
	v.audit = audit.NewLogger(paths.AuditDir(),
		audit.WithClock(o.now),
		audit.WithLogger(o.logger))
	return v
}

// Paths returns the installation paths.
func (v *Vault) Paths() config.Paths {
	return v.paths
}

// IsSetUp reports whether a keystore exists.
func (v *Vault) IsSetUp() bool {
	return v.keystore.Exists()
}

// Setup hashes the master password into the configuration, creates the
// keystore and the default vault table. It fails with ErrAlreadySetUp if a
// keystore or password hash already exists.
func (v *Vault) Setup(password []byte) error {
	if res := ValidateMasterPassword(string(password)); !res.Valid {
		return res.Err
	}
	if err := v.paths.Ensure(); err != nil {
		return err
	}

	cfg, err := config.Load(v.paths.ConfigFile())
	if err != nil {
		return err
	}
	if cfg.IsSetUp() || v.keystore.Exists() {
		return ErrAlreadySetUp
	}

	pw := normalizePassword(password)
	defer crypto.SecureWipe(pw)

	hash, err := crypto.HashPasswordWithParams(pw, v.passwordParams)
	if err != nil {
		return fmt.Errorf("vault: failed to hash master password: %w", err)
	}

	mek, err := v.keystore.Create(pw)
	if err != nil {
		if errors.Is(err, keystore.ErrAlreadyExists) {
			return ErrAlreadySetUp
		}
		return err
	}
	defer crypto.SecureWipe(mek)

	cfg.MasterPasswordHash = hash
	if err := cfg.Save(v.paths.ConfigFile()); err != nil {
		return err
	}
	if err := v.store.CreateTable(cfg.LastUsedVault); err != nil {
		return err
	}

	v.logger.Info("vault set up", "keystore", v.keystore.Path())
	v.record(mek, audit.Record{Op: audit.OpVaultSetup})
	return nil
}

// Unlock verifies password and starts a session holding the MEK. A wrong
// password counts toward the cooldown and never touches the session
// directory.
func (v *Vault) Unlock(password []byte) error {
	if !v.keystore.Exists() {
		return ErrNotSetUp
	}

	state := v.loadLockState()
	if remaining := state.remaining(v.now()); remaining > 0 {
		return fmt.Errorf("%w: please wait %v", ErrCooldownActive, remaining.Round(time.Second))
	}

	cfg, err := config.Load(v.paths.ConfigFile())
	if err != nil {
		return err
	}

	pw := normalizePassword(password)
	defer crypto.SecureWipe(pw)

	if cfg.MasterPasswordHash != "" && !crypto.VerifyPassword(pw, cfg.MasterPasswordHash) {
		return v.failUnlock(state)
	}

	mek, err := v.keystore.Load(pw)
	if err != nil {
		if errors.Is(err, keystore.ErrAuthentication) {
			return v.failUnlock(state)
		}
		return err
	}
	if err := crypto.LockMemory(mek); err != nil {
		v.logger.Debug("memory lock unavailable", "error", err)
	}
	defer func() {
		crypto.SecureWipe(mek)
		_ = crypto.UnlockMemory(mek)
	}()

	if _, err := v.sessions.Start(mek); err != nil {
		return err
	}

	if err := v.clearLockState(); err != nil {
		v.logger.Warn("failed to clear unlock state", "error", err)
	}
	if state.FailedAttempts > 0 {
		v.record(mek, audit.Record{
			Op:      audit.OpVaultUnlockFailed,
			Result:  audit.ResultDenied,
			Context: map[string]string{"attempts": fmt.Sprint(state.FailedAttempts)},
		})
	}
	v.record(mek, audit.Record{Op: audit.OpVaultUnlock})
	return nil
}

func (v *Vault) failUnlock(state *LockState) error {
	cooldown, err := v.recordFailedAttempt(state)
	if err != nil {
		v.logger.Warn("failed to record unlock attempt", "error", err)
	}
	v.logger.Info("unlock failed", "attempts", state.FailedAttempts)
	if cooldown > 0 {
		return fmt.Errorf("%w (%w: cooldown activated for %v)", ErrInvalidPassword, ErrTooManyAttempts, cooldown)
	}
	return ErrInvalidPassword
}

// Lock ends the active session. Locking with no active session is a no-op.
func (v *Vault) Lock() error {
	if mek, err := v.sessions.ActiveKey(); err == nil {
		v.record(mek, audit.Record{Op: audit.OpVaultLock})
		crypto.SecureWipe(mek)
	}
	return v.sessions.End()
}

// IsUnlocked reports whether a live session exists.
func (v *Vault) IsUnlocked() bool {
	_, err := v.sessions.Status()
	return err == nil
}

// ActiveKey returns a copy of the MEK from the active session. The caller
// must SecureWipe it.
func (v *Vault) ActiveKey() ([]byte, error) {
	if !v.keystore.Exists() {
		return nil, ErrNotSetUp
	}
	return v.sessions.ActiveKey()
}

// Status summarizes the installation for display.
type Status struct {
	SetUp          bool          `json:"set_up"`
	Unlocked       bool          `json:"unlocked"`
	ExpiresAt      time.Time     `json:"expires_at,omitzero"`
	Remaining      time.Duration `json:"remaining"`
	Cooldown       time.Duration `json:"cooldown"`
	FailedAttempts int           `json:"failed_attempts"`
}

// Status reports setup, session and cooldown state.
func (v *Vault) Status() Status {
	now := v.now()
	st := Status{SetUp: v.keystore.Exists()}
	if info, err := v.sessions.Status(); err == nil {
		st.Unlocked = true
		st.ExpiresAt = info.ExpiresAt
		st.Remaining = info.Remaining(now)
	}
	state := v.loadLockState()
	st.Cooldown = state.remaining(now)
	st.FailedAttempts = state.FailedAttempts
	return st
}

// Config loads the current configuration.
func (v *Vault) Config() (*config.Config, error) {
	return config.Load(v.paths.ConfigFile())
}

// SetTheme persists the UI theme.
func (v *Vault) SetTheme(theme string) error {
	return v.updateConfig("theme", func(c *config.Config) error { return c.SetTheme(theme) })
}

// SetSessionTimeout persists the session timeout in minutes. The active
// session picks up the new value on its next use.
func (v *Vault) SetSessionTimeout(minutes int) error {
	return v.updateConfig("session_timeout", func(c *config.Config) error { return c.SetTimeout(minutes) })
}

func (v *Vault) updateConfig(field string, mutate func(*config.Config) error) error {
	cfg, err := config.Load(v.paths.ConfigFile())
	if err != nil {
		return err
	}
	if err := mutate(cfg); err != nil {
		return err
	}
	if err := cfg.Save(v.paths.ConfigFile()); err != nil {
		return err
	}
	if mek, err := v.sessions.ActiveKey(); err == nil {
		v.record(mek, audit.Record{Op: audit.OpConfigChange, Context: map[string]string{"field": field}})
		crypto.SecureWipe(mek)
	}
	return nil
}

// sessionTimeout reads the timeout from the configuration file on every
// call. An unreadable file falls back to the default.
func (v *Vault) sessionTimeout() time.Duration {
	cfg, err := config.Load(v.paths.ConfigFile())
	if err != nil {
		v.logger.Warn("failed to read session timeout, using default", "error", err)
		return config.Default().Timeout()
	}
	return cfg.Timeout()
}

// record appends an audit event keyed by mek. Audit failures are logged and
// never fail the operation.
func (v *Vault) record(mek []byte, r audit.Record) {
	if err := v.audit.SetKey(mek); err != nil {
		v.logger.Warn("audit key unavailable", "error", err)
		return
	}
	if err := v.audit.Log(r); err != nil {
		v.logger.Warn("failed to write audit record", "op", r.Op, "error", err)
	}
}

// normalizePassword returns a copy of password in Unicode NFC so that
// composed and decomposed input unlock the same vault.
func normalizePassword(password []byte) []byte {
	return norm.NFC.Append(nil, password...)
}

// normalizeName applies NFC to platform and user identifiers.
func normalizeName(s string) string {
	return norm.NFC.String(s)
}
