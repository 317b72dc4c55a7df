//go:build unix

package sys

import (
	"errors"
	"os"
	"strconv"

	"golang.org/x/sys/unix"
)

// acquireOSFileLock opens (or creates) lockPath and takes a POSIX flock on it.
// The pid of the owner is written into the file for diagnostics.
func acquireOSFileLock(lockPath string) (func() error, error) {
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
		if err != nil {
			return nil, err
		}
		fd := int(f.Fd())
		if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
			_ = f.Close()
			if errors.Is(err, unix.EWOULDBLOCK) {
				return nil, ErrDirLocked
			}
			return nil, err
		}
		// The previous owner may have unlinked the file between our open and
		// flock. A lock on an unlinked inode guards nothing, so start over.
		if !isLockedPath(f, lockPath) {
			_ = unix.Flock(fd, unix.LOCK_UN)
			_ = f.Close()
			continue
		}
		_ = f.Truncate(0)
		_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")

		release := func() error {
			// Unlink while still holding the lock so no other process can lock
			// the path we are about to remove.
			rerr := os.Remove(lockPath)
			_ = unix.Flock(fd, unix.LOCK_UN)
			cerr := f.Close()
			if rerr != nil && !os.IsNotExist(rerr) {
				return rerr
			}
			return cerr
		}
		return release, nil
	}
}

// isLockedPath reports whether f is still the file lockPath names.
func isLockedPath(f *os.File, lockPath string) bool {
	held, err := f.Stat()
	if err != nil {
		return false
	}
	onDisk, err := os.Stat(lockPath)
	if err != nil {
		return false
	}
	return os.SameFile(held, onDisk)
}
