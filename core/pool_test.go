package core

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBufferPool(t *testing.T) {
	t.Run("Get and Put", func(t *testing.T) {
		pool := NewBufferPool(128, 8)
		buf := pool.Get()
		require.NotNil(t, buf)
		assert.GreaterOrEqual(t, buf.Cap(), 128)

		buf.WriteString("hello world")
		pool.Put(buf)

		buf2 := pool.Get()
		assert.Equal(t, 0, buf2.Len(), "Reused buffer should be reset (length 0)")
	})

	t.Run("Oversized buffers are dropped", func(t *testing.T) {
		pool := NewBufferPool(16, 8)
		_, _, _, idleBefore := pool.GetMetrics()
		buf := pool.Get()
		buf.Grow(16 * 64)
		pool.Put(buf)
		_, _, dropped, idle := pool.GetMetrics()
		assert.Equal(t, uint64(1), dropped)
		assert.Equal(t, idleBefore-1, idle)
	})

	t.Run("Concurrent access", func(t *testing.T) {
		pool := NewBufferPool(64, 16)
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 100; j++ {
					b := pool.Get()
					b.WriteString("x")
					pool.Put(b)
				}
			}()
		}
		wg.Wait()
		hits, misses, _, idle := pool.GetMetrics()
		assert.Equal(t, uint64(3200), hits+misses)
		assert.LessOrEqual(t, idle, 16)
	})
}
