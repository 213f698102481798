//go:build windows

package crypto

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// LockMemory pins b in RAM so key material is not written to the page file.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.VirtualLock(uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)))
}

// UnlockMemory releases a lock taken by LockMemory.
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.VirtualUnlock(uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)))
}
