package sys

import (
	"errors"
	"fmt"
	"path/filepath"
)

// ErrDirLocked is returned when another process already owns a WAL directory.
var ErrDirLocked = errors.New("directory is locked by another process")

// LockDir takes an exclusive, non-blocking lock on dir/lockName. The returned
// release function unlocks and removes the lock file.
func LockDir(dir, lockName string) (func() error, error) {
	lockPath := filepath.Join(dir, lockName)
	release, err := acquireOSFileLock(lockPath)
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", lockPath, err)
	}
	return release, nil
}
