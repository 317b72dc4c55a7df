package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/INLOpen/nexuswal/core"
	"github.com/klauspost/compress/zstd"
)

// ZstdCompressor implements the Compressor interface using zstd. Encoders and
// decoders are pooled because creating them is expensive relative to the
// small payloads a WAL entry carries.
type ZstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

var _ core.Compressor = (*ZstdCompressor)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{
		encoderPool: sync.Pool{
			New: func() interface{} {
				enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest), zstd.WithEncoderConcurrency(1))
				if err != nil {
					return err
				}
				return enc
			},
		},
		decoderPool: sync.Pool{
			New: func() interface{} {
				dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1), zstd.WithDecoderMaxMemory(256*1024*1024))
				if err != nil {
					return err
				}
				return dec
			},
		},
	}
}

func (c *ZstdCompressor) encoder() (*zstd.Encoder, error) {
	switch v := c.encoderPool.Get().(type) {
	case *zstd.Encoder:
		return v, nil
	case error:
		return nil, fmt.Errorf("zstd encoder init error: %w", v)
	default:
		return nil, fmt.Errorf("zstd encoder pool returned %T", v)
	}
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, err := c.encoder()
	if err != nil {
		return nil, err
	}
	defer c.encoderPool.Put(enc)
	return enc.EncodeAll(data, make([]byte, 0, len(data)/2+16)), nil
}

func (c *ZstdCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	var dec *zstd.Decoder
	switch v := c.decoderPool.Get().(type) {
	case *zstd.Decoder:
		dec = v
	case error:
		return nil, fmt.Errorf("zstd decoder init error: %w", v)
	}
	defer c.decoderPool.Put(dec)

	out, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("zstd decompress error: %w", err)
	}
	return io.NopCloser(bytes.NewReader(out)), nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}

// CompressTo compresses src into dst using the stateless EncodeAll path.
func (c *ZstdCompressor) CompressTo(dst *bytes.Buffer, src []byte) error {
	enc, err := c.encoder()
	if err != nil {
		return err
	}
	defer c.encoderPool.Put(enc)

	dst.Reset()
	out := enc.EncodeAll(src, dst.AvailableBuffer())
	dst.Write(out)
	return nil
}
