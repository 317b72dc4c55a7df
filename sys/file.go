// Package sys wraps the file system calls the WAL needs so that tests can
// substitute failing files and so platform specific tuning (preallocation,
// directory locking) stays out of the WAL package.
package sys

import (
	"io"
	"os"
)

// FileHandle is the subset of *os.File the WAL writes segments through.
type FileHandle interface {
	io.ReadWriteCloser

	Stat() (os.FileInfo, error)
	Sync() error
	Truncate(size int64) error
	Name() string
}

type OpenFileHandler func(name string, flag int, perm os.FileMode) (FileHandle, error)

// OpenFile opens a file through the real file system. It is a variable so
// tests can install a handler that returns faulty files.
var OpenFile OpenFileHandler = func(name string, flag int, perm os.FileMode) (FileHandle, error) {
	f, err := os.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &RealFile{f: f}, nil
}

// SyncDir fsyncs a directory so that newly created entries survive a crash.
func SyncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !isSyncDirUnsupported(err) {
		return err
	}
	return nil
}
