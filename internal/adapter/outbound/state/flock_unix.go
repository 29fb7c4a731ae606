//go:build !windows

package state

import (
	"os"

	"golang.org/x/sys/unix"
)

// lockExclusive blocks until it holds an flock on f.
func lockExclusive(f *os.File) (func() error, error) {
	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX); err != nil {
		return nil, err
	}
	return func() error { return unix.Flock(fd, unix.LOCK_UN) }, nil
}
