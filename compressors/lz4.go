package compressors

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/INLOpen/nexuswal/core"
	lz4 "github.com/pierrec/lz4/v4"
)

// maxLZ4DecodedSize bounds the size prefix accepted by Decompress.
const maxLZ4DecodedSize = 256 * 1024 * 1024

// LZ4Compressor implements the Compressor interface using LZ4 blocks. The LZ4
// block format does not record the original length, so every block is
// prefixed with it as a uvarint.
type LZ4Compressor struct{}

var _ core.Compressor = (*LZ4Compressor)(nil)

func NewLz4Compressor() *LZ4Compressor {
	return &LZ4Compressor{}
}

func (c *LZ4Compressor) Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := c.CompressTo(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *LZ4Compressor) Decompress(data []byte) (io.ReadCloser, error) {
	size, n := binary.Uvarint(data)
	if n <= 0 {
		return nil, fmt.Errorf("lz4 decompress error: invalid size prefix")
	}
	if size > maxLZ4DecodedSize {
		return nil, fmt.Errorf("lz4 decompress error: decoded size %d exceeds limit", size)
	}
	dst := make([]byte, size)
	if size == 0 {
		return io.NopCloser(bytes.NewReader(dst)), nil
	}
	written, err := lz4.UncompressBlock(data[n:], dst)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress error: %w", err)
	}
	if uint64(written) != size {
		return nil, fmt.Errorf("lz4 decompress error: got %d bytes, want %d", written, size)
	}
	return io.NopCloser(bytes.NewReader(dst)), nil
}

func (c *LZ4Compressor) Type() core.CompressionType {
	return core.CompressionLZ4
}

// CompressTo writes the size prefix and the compressed block into dst.
func (c *LZ4Compressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	var prefix [binary.MaxVarintLen64]byte
	dst.Write(prefix[:binary.PutUvarint(prefix[:], uint64(len(src)))])
	if len(src) == 0 {
		return nil
	}

	bound := lz4.CompressBlockBound(len(src))
	dst.Grow(bound)
	block := dst.AvailableBuffer()[:bound]
	n, err := lz4.CompressBlock(src, block, nil)
	if err != nil {
		return fmt.Errorf("lz4 compress error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("lz4 compress error: zero bytes for %d byte input", len(src))
	}
	dst.Write(block[:n])
	return nil
}
