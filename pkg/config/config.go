// Package config loads and saves the rvault configuration file and resolves
// the directories of an installation.
package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/forest6511/rvault/internal/fsutil"
)

// Defaults written on first run.
const (
	Version               = "0.1.0"
	DefaultSessionTimeout = 60 // minutes
	DefaultTheme          = "dark"
	DefaultVault          = "main"
)

// Themes lists the accepted values for Config.Theme.
var Themes = []string{"dark", "light", "high-contrast"}

var (
	// ErrPathResolution indicates a per-user directory could not be determined.
	ErrPathResolution = errors.New("config: cannot resolve path")

	// ErrSerialization indicates the config file is not valid JSON.
	ErrSerialization = errors.New("config: malformed config file")

	// ErrInvalidTheme indicates an unknown theme name.
	ErrInvalidTheme = errors.New("config: unknown theme")

	// ErrInvalidTimeout indicates a non-positive session timeout.
	ErrInvalidTimeout = errors.New("config: session timeout must be positive")
)

// Config is the non-secret installation state. MasterPasswordHash is a
// verifier, not key material.
type Config struct {
	Version            string  `json:"version"`
	MasterPasswordHash string  `json:"master_password_hash,omitempty"`
	SessionTimeout     Minutes `json:"session_timeout"`
	Theme              string  `json:"theme"`
	LastUsedVault      string  `json:"last_used_vault"`
}

// Minutes is a session timeout. Older files store it as a string, so both
// "60" and 60 decode.
type Minutes int

// UnmarshalJSON implements json.Unmarshaler.
func (m *Minutes) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*m = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("session_timeout %q is not a number", s)
		}
		*m = Minutes(n)
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*m = Minutes(n)
	return nil
}

// Default returns a configuration with no master password set.
func Default() *Config {
	return &Config{
		Version:        Version,
		SessionTimeout: DefaultSessionTimeout,
		Theme:          DefaultTheme,
		LastUsedVault:  DefaultVault,
	}
}

// IsSetUp reports whether a master password has been configured.
func (c *Config) IsSetUp() bool {
	return c.MasterPasswordHash != ""
}

// Timeout returns the session timeout. Non-positive values fall back to the
// default.
func (c *Config) Timeout() time.Duration {
	if c.SessionTimeout <= 0 {
		return DefaultSessionTimeout * time.Minute
	}
	return time.Duration(c.SessionTimeout) * time.Minute
}

// SetTheme validates and sets the theme.
func (c *Config) SetTheme(theme string) error {
	for _, t := range Themes {
		if t == theme {
			c.Theme = theme
			return nil
		}
	}
	return fmt.Errorf("%w: %q", ErrInvalidTheme, theme)
}

// SetTimeout validates and sets the session timeout in minutes.
func (c *Config) SetTimeout(minutes int) error {
	if minutes <= 0 {
		return ErrInvalidTimeout
	}
	c.SessionTimeout = Minutes(minutes)
	return nil
}

// Load reads the config file at path. A missing file is created with
// defaults. Empty fields are filled with defaults but not written back.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		if err := cfg.Save(path); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := Default()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	if cfg.Theme == "" {
		cfg.Theme = DefaultTheme
	}
	if cfg.LastUsedVault == "" {
		cfg.LastUsedVault = DefaultVault
	}
	return cfg, nil
}

// Save writes the config atomically with owner-only permissions.
func (c *Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerialization, err)
	}
	return fsutil.WriteFileAtomic(path, data)
}
