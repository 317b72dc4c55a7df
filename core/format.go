package core

import (
	"fmt"
	"strconv"
	"strings"
)

// This file centralizes constants related to the WAL segment format.

const (
	// WALMagicNumber identifies a Write-Ahead Log segment file.
	WALMagicNumber uint32 = 0xBAADF00D
	// FormatVersion is the current version of the segment format.
	FormatVersion uint8 = 3
	// WALFileSuffix is the suffix for WAL segment files.
	WALFileSuffix = ".wal"
	// LockFileName is held exclusively by the process writing a WAL node directory.
	LockFileName = "LOCK"
)

const (
	// EntryHeaderSize is type (1) + search index (8) + payload length (4).
	EntryHeaderSize = 1 + 8 + 4
	// ChecksumSize is the trailing CRC32 of every framed entry.
	ChecksumSize = 4
	// EntryOverhead is the number of framing bytes around an entry payload.
	EntryOverhead = EntryHeaderSize + ChecksumSize
)

// FormatSegmentFileName creates a segment file name from its version and the
// search index watermark it was opened at, e.g. 00000003-1200.wal.
func FormatSegmentFileName(version uint64, startSearchIndex int64) string {
	return fmt.Sprintf("%08d-%d%s", version, startSearchIndex, WALFileSuffix)
}

// ParseSegmentFileName extracts the version and start search index from a segment file name.
func ParseSegmentFileName(name string) (version uint64, startSearchIndex int64, err error) {
	if !strings.HasSuffix(name, WALFileSuffix) {
		return 0, 0, fmt.Errorf("file %s is not a WAL segment file", name)
	}
	base := strings.TrimSuffix(name, WALFileSuffix)
	sep := strings.IndexByte(base, '-')
	if sep <= 0 {
		return 0, 0, fmt.Errorf("file %s has no version separator", name)
	}
	version, err = strconv.ParseUint(base[:sep], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid version in segment file %s: %w", name, err)
	}
	startSearchIndex, err = strconv.ParseInt(base[sep+1:], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid search index in segment file %s: %w", name, err)
	}
	return version, startSearchIndex, nil
}
