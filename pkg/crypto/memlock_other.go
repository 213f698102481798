//go:build !(linux || darwin || freebsd || netbsd || openbsd || windows)

package crypto

// LockMemory is a no-op on platforms without page locking.
func LockMemory(b []byte) error { return nil }

// UnlockMemory is a no-op on platforms without page locking.
func UnlockMemory(b []byte) error { return nil }
