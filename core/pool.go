package core

import (
	"bytes"
	"sync"
	"sync/atomic"
)

// bufferPool is a mutex-protected pool of scratch buffers. Unlike sync.Pool its
// contents survive garbage collection, which keeps the serializer from
// reallocating scratch space for every entry under sustained load.
type bufferPool struct {
	mu       sync.Mutex
	items    []*bytes.Buffer
	capacity int
	maxKept  int

	hits    atomic.Uint64
	misses  atomic.Uint64
	dropped atomic.Uint64
}

// DefaultScratchSize is the initial capacity of a pooled serialization buffer.
const DefaultScratchSize = 4 * 1024

var BufferPool = NewBufferPool(DefaultScratchSize, 64)

// NewBufferPool creates a pool whose new buffers start with the given capacity
// and which keeps at most maxKept idle buffers.
func NewBufferPool(capacity, maxKept int) *bufferPool {
	if maxKept <= 0 {
		maxKept = 64
	}
	bp := &bufferPool{
		items:    make([]*bytes.Buffer, 0, maxKept),
		capacity: capacity,
		maxKept:  maxKept,
	}
	// Pre-warm a quarter of the pool.
	for i := 0; i < maxKept/4; i++ {
		bp.items = append(bp.items, bytes.NewBuffer(make([]byte, 0, capacity)))
	}
	return bp
}

// Get retrieves a buffer from the pool. If the pool is empty, it creates a new one.
func (bp *bufferPool) Get() *bytes.Buffer {
	bp.mu.Lock()
	if n := len(bp.items); n > 0 {
		buf := bp.items[n-1]
		bp.items = bp.items[:n-1]
		bp.mu.Unlock()
		bp.hits.Add(1)
		return buf
	}
	bp.mu.Unlock()
	bp.misses.Add(1)
	return bytes.NewBuffer(make([]byte, 0, bp.capacity))
}

// Put resets the buffer and returns it to the pool. Buffers that grew past
// 16x the configured capacity are dropped so one huge entry does not pin memory.
func (bp *bufferPool) Put(buf *bytes.Buffer) {
	if buf == nil {
		return
	}
	if bp.capacity > 0 && buf.Cap() > bp.capacity*16 {
		bp.dropped.Add(1)
		return
	}
	buf.Reset()
	bp.mu.Lock()
	if len(bp.items) < bp.maxKept {
		bp.items = append(bp.items, buf)
	} else {
		bp.dropped.Add(1)
	}
	bp.mu.Unlock()
}

// GetMetrics returns the current metrics for the pool.
func (bp *bufferPool) GetMetrics() (hits, misses, dropped uint64, idle int) {
	bp.mu.Lock()
	idle = len(bp.items)
	bp.mu.Unlock()
	return bp.hits.Load(), bp.misses.Load(), bp.dropped.Load(), idle
}
