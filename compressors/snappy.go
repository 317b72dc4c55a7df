package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/INLOpen/nexuswal/core"
	"github.com/golang/snappy"
)

// SnappyCompressor implements the Compressor interface using the snappy block format.
type SnappyCompressor struct{}

var _ core.Compressor = (*SnappyCompressor)(nil)

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (c *SnappyCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	decompressed, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	return io.NopCloser(bytes.NewReader(decompressed)), nil
}

func (c *SnappyCompressor) Type() core.CompressionType {
	return core.CompressionSnappy
}

// CompressTo encodes src into dst, reusing dst's backing array when it is large enough.
func (c *SnappyCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	dst.Reset()
	bound := snappy.MaxEncodedLen(len(src))
	if bound < 0 {
		return fmt.Errorf("snappy: payload of %d bytes is too large", len(src))
	}
	dst.Grow(bound)
	encoded := snappy.Encode(dst.AvailableBuffer()[:bound], src)
	dst.Write(encoded)
	return nil
}
