package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/forest6511/rvault/internal/fsutil"
)

// EnvHome overrides every rvault directory with subdirectories of its value.
const EnvHome = "RVAULT_HOME"

const appName = "rvault"

// Paths holds the base directories of one installation. It is resolved once
// and passed explicitly to every component.
type Paths struct {
	ConfigDir  string // config.json
	DataDir    string // keystore, database, audit log, unlock state
	SessionDir string // session token files and the current pointer
}

// PathsAt lays out an installation under a single root directory.
func PathsAt(root string) Paths {
	return Paths{
		ConfigDir:  filepath.Join(root, "config"),
		DataDir:    filepath.Join(root, "data"),
		SessionDir: filepath.Join(root, "sessions"),
	}
}

// DefaultPaths resolves the per-user directories. RVAULT_HOME takes
// precedence; otherwise the platform config and cache directories are used,
// with sessions under $XDG_RUNTIME_DIR when it is set.
func DefaultPaths() (Paths, error) {
	if home := os.Getenv(EnvHome); home != "" {
		return PathsAt(home), nil
	}

	configRoot, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("%w: config directory: %v", ErrPathResolution, err)
	}
	cacheRoot, err := os.UserCacheDir()
	if err != nil {
		return Paths{}, fmt.Errorf("%w: cache directory: %v", ErrPathResolution, err)
	}

	sessionRoot := filepath.Join(cacheRoot, appName)
	if runtime := os.Getenv("XDG_RUNTIME_DIR"); runtime != "" {
		sessionRoot = filepath.Join(runtime, appName)
	}

	return Paths{
		ConfigDir:  filepath.Join(configRoot, appName),
		DataDir:    filepath.Join(configRoot, appName, "data"),
		SessionDir: filepath.Join(sessionRoot, "sessions"),
	}, nil
}

// ConfigFile is the JSON configuration path.
func (p Paths) ConfigFile() string { return filepath.Join(p.ConfigDir, "config.json") }

// KeystoreFile is the wrapped MEK record path.
func (p Paths) KeystoreFile() string { return filepath.Join(p.DataDir, "keystore.bin") }

// DatabaseFile is the SQLite secret store path.
func (p Paths) DatabaseFile() string { return filepath.Join(p.DataDir, "vault.db") }

// AuditDir holds the monthly audit log files.
func (p Paths) AuditDir() string { return filepath.Join(p.DataDir, "audit") }

// StateFile records failed unlock attempts.
func (p Paths) StateFile() string { return filepath.Join(p.DataDir, "unlock.state") }

// Ensure creates every directory with owner-only permissions.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.ConfigDir, p.DataDir, p.SessionDir} {
		if dir == "" {
			return fmt.Errorf("%w: empty directory", ErrPathResolution)
		}
		if err := os.MkdirAll(dir, fsutil.DirMode); err != nil {
			return fmt.Errorf("config: failed to create %s: %w", dir, err)
		}
	}
	return nil
}
