package core

import (
	"encoding/binary"
	"time"
)

// FileHeader is written at the start of every WAL segment file.
type FileHeader struct {
	Magic          uint32
	Version        uint8
	CreatedAt      int64 // UnixNano timestamp
	CompressorType CompressionType
	// StartSearchIndex is the search index watermark at which the segment was opened.
	StartSearchIndex int64
}

func (h *FileHeader) Size() int {
	return binary.Size(h)
}

// NewFileHeader creates a new header with the current time and specified magic number.
func NewFileHeader(magic uint32, compressorType CompressionType, startSearchIndex int64) FileHeader {
	return FileHeader{
		Magic:            magic,
		Version:          FormatVersion,
		CreatedAt:        time.Now().UnixNano(),
		CompressorType:   compressorType,
		StartSearchIndex: startSearchIndex,
	}
}
