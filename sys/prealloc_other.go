//go:build !linux

package sys

// Preallocate is only implemented on Linux.
func Preallocate(f FileHandle, size int64) error {
	return recordPrealloc(ErrPreallocNotSupported)
}
