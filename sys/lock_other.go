//go:build !unix

package sys

import (
	"os"
	"strconv"
)

// acquireOSFileLock falls back to an exclusive create. A lock file left by a
// crashed process must be removed by hand.
func acquireOSFileLock(lockPath string) (func() error, error) {
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrDirLocked
		}
		return nil, err
	}
	_, _ = f.WriteString(strconv.Itoa(os.Getpid()) + "\n")
	_ = f.Close()
	return func() error {
		if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}, nil
}
