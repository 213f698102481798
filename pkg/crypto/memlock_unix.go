//go:build linux || darwin || freebsd || netbsd || openbsd

package crypto

import "golang.org/x/sys/unix"

// LockMemory pins b in RAM so key material is not written to swap.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

// UnlockMemory releases a lock taken by LockMemory.
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munlock(b)
}
