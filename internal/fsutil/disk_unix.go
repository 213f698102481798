//go:build linux || darwin || freebsd

package fsutil

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// FreeSpace reports disk usage for the filesystem holding path, or its
// nearest existing parent.
func FreeSpace(path string) (*DiskSpace, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(existingDir(path), &stat); err != nil {
		return nil, fmt.Errorf("fsutil: failed to get disk stats: %w", err)
	}
	bsize := uint64(stat.Bsize)
	return newDiskSpace(
		uint64(stat.Blocks)*bsize,
		uint64(stat.Bfree)*bsize,
		uint64(stat.Bavail)*bsize,
	), nil
}
