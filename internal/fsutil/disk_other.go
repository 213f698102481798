//go:build !(linux || darwin || freebsd || windows)

package fsutil

// FreeSpace is not implemented on this platform.
func FreeSpace(path string) (*DiskSpace, error) {
	return nil, ErrUnsupported
}
