//go:build windows

package fsutil

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// FreeSpace reports disk usage for the volume holding path, or its nearest
// existing parent.
func FreeSpace(path string) (*DiskSpace, error) {
	ptr, err := windows.UTF16PtrFromString(existingDir(path))
	if err != nil {
		return nil, fmt.Errorf("fsutil: failed to convert path: %w", err)
	}

	var available, total, free uint64
	if err := windows.GetDiskFreeSpaceEx(ptr, &available, &total, &free); err != nil {
		return nil, fmt.Errorf("fsutil: failed to get disk stats: %w", err)
	}
	return newDiskSpace(total, free, available), nil
}
