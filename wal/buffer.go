package wal

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/INLOpen/nexuswal/core"
	"github.com/shirou/gopsutil/v3/mem"
)

// bufferState is the role a physical buffer slot currently plays.
type bufferState uint8

const (
	stateIdle bufferState = iota
	stateWorking
	stateSyncing
	stateReleased
)

func (s bufferState) String() string {
	switch s {
	case stateIdle:
		return "idle"
	case stateWorking:
		return "working"
	case stateSyncing:
		return "syncing"
	case stateReleased:
		return "released"
	default:
		return "unknown"
	}
}

// slot is one physical buffer. buf and n of the working slot are touched only
// by the serializer, those of the syncing slot only by the syncer; state is
// guarded by bufferTriad.mu.
type slot struct {
	buf   []byte
	n     int
	state bufferState
}

func (s *slot) remaining() int { return len(s.buf) - s.n }
func (s *slot) bytes() []byte  { return s.buf[:s.n] }

var errBuffersInterrupted = errors.New("wal buffers interrupted")

// bufferTriad rotates two slots through the working, syncing and idle roles.
// Exactly one slot is working; the other is either idle or syncing.
type bufferTriad struct {
	mu          sync.Mutex
	cond        *sync.Cond
	slots       [2]*slot
	workingIdx  int
	interrupted bool
	// flushed is closed and replaced every time a slot returns to idle.
	flushed chan struct{}

	switches *expvar.Int
}

// newBufferTriad splits totalSize into two slots. When checkMemory is set the
// available system memory is consulted first.
func newBufferTriad(totalSize int, checkMemory bool, switches *expvar.Int) (*bufferTriad, error) {
	half := totalSize / 2
	if half < core.EntryOverhead {
		return nil, fmt.Errorf("buffer size %d is too small for two buffers", totalSize)
	}
	if checkMemory {
		vm, err := mem.VirtualMemory()
		if err == nil && vm.Available < uint64(totalSize) {
			return nil, fmt.Errorf("%w: need %d bytes, %d available", core.ErrInsufficientMemory, totalSize, vm.Available)
		}
	}

	b := &bufferTriad{
		flushed:  make(chan struct{}),
		switches: switches,
	}
	b.cond = sync.NewCond(&b.mu)
	for i := range b.slots {
		buf, err := allocate(half)
		if err != nil {
			return nil, err
		}
		b.slots[i] = &slot{buf: buf, state: stateIdle}
	}
	b.slots[0].state = stateWorking
	return b, nil
}

func allocate(size int) (buf []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			if re, ok := r.(runtime.Error); ok {
				err = fmt.Errorf("%w: %v", core.ErrInsufficientMemory, re)
				return
			}
			panic(r)
		}
	}()
	return make([]byte, size), nil
}

// working returns the working slot. Only the serializer may call it.
func (b *bufferTriad) working() *slot {
	return b.slots[b.workingIdx]
}

// switchWorkingToSyncing hands the working slot to the syncer and promotes the
// idle slot, waiting until one is idle. Only the serializer calls it.
func (b *bufferTriad) switchWorkingToSyncing() (*slot, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idleIdx := 1 - b.workingIdx
	for b.slots[idleIdx].state != stateIdle && !b.interrupted {
		b.cond.Wait()
	}
	if b.interrupted {
		return nil, errBuffersInterrupted
	}

	syncing := b.slots[b.workingIdx]
	syncing.state = stateSyncing
	next := b.slots[idleIdx]
	next.state = stateWorking
	next.n = 0
	b.workingIdx = idleIdx
	if b.switches != nil {
		b.switches.Add(1)
	}
	return syncing, nil
}

// switchSyncingToIdle returns a synced slot to the idle role and wakes the
// serializer and every WaitForFlush caller. Only the syncer calls it.
func (b *bufferTriad) switchSyncingToIdle(s *slot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.state != stateSyncing {
		return
	}
	s.state = stateIdle
	s.n = 0
	b.cond.Broadcast()
	close(b.flushed)
	b.flushed = make(chan struct{})
}

// flushSignal returns the channel closed by the next switchSyncingToIdle.
func (b *bufferTriad) flushSignal() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushed
}

func (b *bufferTriad) waitForFlush(ctx context.Context) error {
	select {
	case <-b.flushSignal():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitForFlushTimeout reports whether a slot became idle within d.
func (b *bufferTriad) waitForFlushTimeout(d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-b.flushSignal():
		return true
	case <-t.C:
		return false
	}
}

// hasSyncing reports whether a slot is currently being synced.
func (b *bufferTriad) hasSyncing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.slots {
		if s.state == stateSyncing {
			return true
		}
	}
	return false
}

// interrupt wakes a serializer blocked in switchWorkingToSyncing and makes
// every later switch fail.
func (b *bufferTriad) interrupt() {
	b.mu.Lock()
	b.interrupted = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// release drops both physical buffers.
func (b *bufferTriad) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.slots {
		s.state = stateReleased
		s.buf = nil
		s.n = 0
	}
	b.interrupted = true
	b.cond.Broadcast()
}

// checkInvariant verifies that exactly one slot is working and the other one
// is idle or syncing.
func (b *bufferTriad) checkInvariant() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var working, idle, syncing, released int
	for _, s := range b.slots {
		switch s.state {
		case stateWorking:
			working++
		case stateIdle:
			idle++
		case stateSyncing:
			syncing++
		case stateReleased:
			released++
		}
	}
	if released == len(b.slots) {
		return nil
	}
	if working != 1 {
		return fmt.Errorf("expected exactly one working buffer, found %d", working)
	}
	if idle > 1 || syncing > 1 {
		return fmt.Errorf("idle=%d syncing=%d, at most one of each allowed", idle, syncing)
	}
	if idle+syncing != 1 {
		return fmt.Errorf("idle and syncing buffers both absent")
	}
	if b.slots[b.workingIdx].state != stateWorking {
		return fmt.Errorf("working index %d points at a %s buffer", b.workingIdx, b.slots[b.workingIdx].state)
	}
	return nil
}
