package compressors

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/INLOpen/nexuswal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressors_CompressToAndDecompress(t *testing.T) {
	payload := []byte(strings.Repeat("root.sg1.d1.s1,1700000000000,42.5;", 64))

	for _, ct := range []core.CompressionType{core.CompressionNone, core.CompressionSnappy, core.CompressionLZ4, core.CompressionZSTD} {
		t.Run(ct.String(), func(t *testing.T) {
			c, err := ForType(ct)
			require.NoError(t, err)
			assert.Equal(t, ct, c.Type())

			var dst bytes.Buffer
			dst.WriteString("stale data that must be discarded")
			require.NoError(t, c.CompressTo(&dst, payload))
			if ct != core.CompressionNone {
				assert.Less(t, dst.Len(), len(payload), "repetitive payload should shrink")
			}

			rc, err := c.Decompress(dst.Bytes())
			require.NoError(t, err)
			defer rc.Close()
			out, err := io.ReadAll(rc)
			require.NoError(t, err)
			assert.Equal(t, payload, out)
		})
	}
}

func TestLZ4_EmptyPayload(t *testing.T) {
	c := NewLz4Compressor()
	compressed, err := c.Compress(nil)
	require.NoError(t, err)
	rc, err := c.Decompress(compressed)
	require.NoError(t, err)
	out, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestForName(t *testing.T) {
	c, err := ForName("snappy")
	require.NoError(t, err)
	assert.Equal(t, core.CompressionSnappy, c.Type())

	_, err = ForName("gzip")
	assert.Error(t, err)
}
