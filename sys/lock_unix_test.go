//go:build unix

package sys

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestLockDir_StaleHandleDoesNotGuardPath(t *testing.T) {
	dir := t.TempDir()
	lockPath := filepath.Join(dir, "LOCK")

	release, err := LockDir(dir, "LOCK")
	require.NoError(t, err)

	// A contender that opened the file before the owner released it.
	stale, err := os.Open(lockPath)
	require.NoError(t, err)
	defer stale.Close()
	assert.True(t, isLockedPath(stale, lockPath))

	require.NoError(t, release())
	_, err = os.Stat(lockPath)
	assert.True(t, os.IsNotExist(err), "lock file must be gone after release")

	// The stale handle can flock the unlinked inode, but it no longer names
	// the lock path, so acquiring through it would be rejected.
	require.NoError(t, unix.Flock(int(stale.Fd()), unix.LOCK_EX|unix.LOCK_NB))
	assert.False(t, isLockedPath(stale, lockPath))

	// The stale lock does not block a fresh owner of the path.
	release2, err := LockDir(dir, "LOCK")
	require.NoError(t, err)
	held, err := os.Stat(lockPath)
	require.NoError(t, err)
	staleInfo, err := stale.Stat()
	require.NoError(t, err)
	assert.False(t, os.SameFile(held, staleInfo))

	_, err = LockDir(dir, "LOCK")
	assert.ErrorIs(t, err, ErrDirLocked)
	require.NoError(t, release2())
}

func TestLockDir_RepeatedCycles(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		release, err := LockDir(dir, "LOCK")
		require.NoError(t, err, "cycle %d", i)
		_, err = LockDir(dir, "LOCK")
		assert.ErrorIs(t, err, ErrDirLocked, "cycle %d", i)
		require.NoError(t, release(), "cycle %d", i)
		_, err = os.Stat(filepath.Join(dir, "LOCK"))
		assert.True(t, os.IsNotExist(err), "cycle %d", i)
	}
}
