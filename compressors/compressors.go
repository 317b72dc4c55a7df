// Package compressors provides the payload compressors a WAL node can apply to
// serialized entries before they are framed into the working buffer.
package compressors

import (
	"fmt"

	"github.com/INLOpen/nexuswal/core"
)

// ForType returns a compressor for the given type.
func ForType(ct core.CompressionType) (core.Compressor, error) {
	switch ct {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("no compressor registered for type %d", ct)
	}
}

// ForName resolves a configuration value such as "snappy" into a compressor.
func ForName(name string) (core.Compressor, error) {
	ct, err := core.ParseCompressionType(name)
	if err != nil {
		return nil, err
	}
	return ForType(ct)
}
