//go:build windows

package state

import (
	"os"

	"golang.org/x/sys/windows"
)

// lockExclusive blocks until it holds a LockFileEx lock on the first byte of f.
func lockExclusive(f *os.File) (func() error, error) {
	h := windows.Handle(f.Fd())
	if err := windows.LockFileEx(h, windows.LOCKFILE_EXCLUSIVE_LOCK, 0, 1, 0, new(windows.Overlapped)); err != nil {
		return nil, err
	}
	return func() error {
		return windows.UnlockFileEx(h, 0, 1, 0, new(windows.Overlapped))
	}, nil
}
