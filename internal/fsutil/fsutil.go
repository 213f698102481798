// Package fsutil holds the file handling shared by rvault's on-disk state:
// atomic private writes, permission checks and free space probes.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
)

// Owner-only permissions used for everything rvault writes.
const (
	FileMode fs.FileMode = 0o600
	DirMode  fs.FileMode = 0o700
)

// ErrUnsupported indicates the probe is not available on this platform.
var ErrUnsupported = errors.New("fsutil: not supported on this platform")

// WriteFileAtomic writes data to a temporary file in the same directory and
// renames it over path. Missing parent directories are created.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, DirMode); err != nil {
		return fmt.Errorf("fsutil: failed to create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("fsutil: failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if err := tmp.Chmod(FileMode); err != nil {
		tmp.Close()
		return fmt.Errorf("fsutil: failed to set permissions: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("fsutil: failed to write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsutil: failed to sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fsutil: failed to close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("fsutil: failed to replace %s: %w", path, err)
	}
	return nil
}

// IsPrivate reports whether path grants no access to group or others.
// It always reports true on Windows, where mode bits do not apply.
func IsPrivate(path string) (bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return false, err
	}
	if runtime.GOOS == "windows" {
		return true, nil
	}
	return info.Mode().Perm()&0o077 == 0, nil
}

// DiskSpace describes the filesystem holding a path.
type DiskSpace struct {
	Total     uint64
	Free      uint64
	Available uint64 // free to unprivileged users
	UsedPct   int
}

// existingDir walks up from path to the nearest directory that exists.
func existingDir(path string) string {
	for {
		if info, err := os.Stat(path); err == nil {
			if info.IsDir() {
				return path
			}
			return filepath.Dir(path)
		}
		parent := filepath.Dir(path)
		if parent == path {
			return path
		}
		path = parent
	}
}

func newDiskSpace(total, free, available uint64) *DiskSpace {
	usedPct := 0
	if total > 0 {
		usedPct = int(100 * (total - free) / total)
	}
	return &DiskSpace{Total: total, Free: free, Available: available, UsedPct: usedPct}
}

// RequireSpace fails when fewer than min bytes are available at path. An
// unsupported platform is not an error.
func RequireSpace(path string, min uint64) error {
	ds, err := FreeSpace(path)
	if errors.Is(err, ErrUnsupported) {
		return nil
	}
	if err != nil {
		return err
	}
	if ds.Available < min {
		return fmt.Errorf("fsutil: insufficient disk space: %d bytes available, need %d", ds.Available, min)
	}
	return nil
}
