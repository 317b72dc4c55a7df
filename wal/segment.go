package wal

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/INLOpen/nexuswal/core"
	"github.com/INLOpen/nexuswal/sys"
)

// segmentWriter is the append-only file of the active segment. It is owned by
// the syncer goroutine.
type segmentWriter struct {
	file             sys.FileHandle
	path             string
	version          uint64
	startSearchIndex int64
	size             int64
}

type segmentOptions struct {
	dir              string
	version          uint64
	startSearchIndex int64
	compression      core.CompressionType
	preallocate      int64
	openFile         sys.OpenFileHandler
	logger           *slog.Logger
}

// createSegment creates a new segment file, writes its header and fsyncs the
// parent directory.
func createSegment(o segmentOptions) (*segmentWriter, error) {
	path := filepath.Join(o.dir, core.FormatSegmentFileName(o.version, o.startSearchIndex))
	file, err := o.openFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to create segment file %s: %w", path, err)
	}

	if o.preallocate > 0 {
		if perr := sys.Preallocate(file, o.preallocate); perr != nil && !errors.Is(perr, sys.ErrPreallocNotSupported) {
			o.logger.Warn("Segment preallocation failed", "path", path, "size", o.preallocate, "error", perr)
		}
	}

	header := core.NewFileHeader(core.WALMagicNumber, o.compression, o.startSearchIndex)
	var hdr bytes.Buffer
	if err := binary.Write(&hdr, binary.LittleEndian, &header); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to encode segment header for %s: %w", path, err)
	}
	if _, err := file.Write(hdr.Bytes()); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to write segment header to %s: %w", path, err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to sync segment header of %s: %w", path, err)
	}
	if err := sys.SyncDir(o.dir); err != nil {
		file.Close()
		return nil, fmt.Errorf("failed to sync wal directory %s: %w", o.dir, err)
	}

	return &segmentWriter{
		file:             file,
		path:             path,
		version:          o.version,
		startSearchIndex: o.startSearchIndex,
		size:             int64(hdr.Len()),
	}, nil
}

// Write appends p to the segment.
func (s *segmentWriter) Write(p []byte) error {
	n, err := s.file.Write(p)
	s.size += int64(n)
	if err != nil {
		return fmt.Errorf("failed to write %d bytes to segment %s: %w", len(p), s.path, err)
	}
	if n != len(p) {
		return fmt.Errorf("short write to segment %s: %d of %d bytes: %w", s.path, n, len(p), io.ErrShortWrite)
	}
	return nil
}

// Force flushes the segment to stable storage.
func (s *segmentWriter) Force() error {
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment %s: %w", s.path, err)
	}
	return nil
}

// Size returns the number of bytes written to the segment, header included.
func (s *segmentWriter) Size() int64 { return s.size }

func (s *segmentWriter) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.Force()
	if cerr := s.file.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close segment %s: %w", s.path, cerr)
	}
	s.file = nil
	return err
}

// SegmentInfo describes a segment file found on disk.
type SegmentInfo struct {
	Path             string
	Version          uint64
	StartSearchIndex int64
	Size             int64
}

// ListSegments returns the segment files in dir ordered by version. Files that
// do not follow the segment naming scheme are ignored.
func ListSegments(dir string) ([]SegmentInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read WAL directory %s: %w", dir, err)
	}
	segments := make([]SegmentInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		version, startIdx, err := core.ParseSegmentFileName(e.Name())
		if err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		segments = append(segments, SegmentInfo{
			Path:             filepath.Join(dir, e.Name()),
			Version:          version,
			StartSearchIndex: startIdx,
			Size:             info.Size(),
		})
	}
	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Version < segments[j].Version
	})
	return segments, nil
}

// ReadSegmentHeader reads and validates the header of a segment file.
func ReadSegmentHeader(path string) (core.FileHeader, error) {
	var header core.FileHeader
	f, err := sys.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return header, err
	}
	defer f.Close()
	if err := binary.Read(f, binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("failed to read segment header from %s: %w", path, err)
	}
	if header.Magic != core.WALMagicNumber {
		return header, fmt.Errorf("invalid magic number in segment %s: got %x, want %x", path, header.Magic, core.WALMagicNumber)
	}
	return header, nil
}
