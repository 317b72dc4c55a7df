package wal

import (
	"bytes"
	"encoding/binary"
	"math"
)

// BufferView is the cursor-style writer records serialize themselves into.
// All multi-byte values are little-endian.
type BufferView interface {
	PutByte(b byte)
	Put(p []byte)
	PutBool(b bool)
	PutUint16(v uint16)
	PutInt32(v int32)
	PutUint32(v uint32)
	PutInt64(v int64)
	PutUint64(v uint64)
	PutFloat32(v float32)
	PutFloat64(v float64)
	// PutString writes a uvarint length followed by the bytes of s.
	PutString(s string)
}

// sink is what a concrete view must provide; encoder builds the typed
// primitives on top of it.
type sink interface {
	putFixed(b []byte)
	Put(p []byte)
	putString(s string)
}

type encoder struct {
	out     sink
	scratch [binary.MaxVarintLen64]byte
}

func (e *encoder) PutByte(b byte) {
	e.scratch[0] = b
	e.out.putFixed(e.scratch[:1])
}

func (e *encoder) PutBool(b bool) {
	if b {
		e.PutByte(1)
		return
	}
	e.PutByte(0)
}

func (e *encoder) PutUint16(v uint16) {
	binary.LittleEndian.PutUint16(e.scratch[:2], v)
	e.out.putFixed(e.scratch[:2])
}

func (e *encoder) PutInt32(v int32) { e.PutUint32(uint32(v)) }

func (e *encoder) PutUint32(v uint32) {
	binary.LittleEndian.PutUint32(e.scratch[:4], v)
	e.out.putFixed(e.scratch[:4])
}

func (e *encoder) PutInt64(v int64) { e.PutUint64(uint64(v)) }

func (e *encoder) PutUint64(v uint64) {
	binary.LittleEndian.PutUint64(e.scratch[:8], v)
	e.out.putFixed(e.scratch[:8])
}

func (e *encoder) PutFloat32(v float32) { e.PutUint32(math.Float32bits(v)) }
func (e *encoder) PutFloat64(v float64) { e.PutUint64(math.Float64bits(v)) }

func (e *encoder) PutString(s string) {
	n := binary.PutUvarint(e.scratch[:], uint64(len(s)))
	e.out.Put(e.scratch[:n])
	e.out.putString(s)
}

// SliceView is a growable view over a bytes.Buffer. Records are serialized
// into a SliceView first so a record that fails half way leaves no bytes in
// the working buffer.
type SliceView struct {
	encoder
	buf *bytes.Buffer
}

var _ BufferView = (*SliceView)(nil)

// NewSliceView creates a view appending to buf. A nil buf allocates a new one.
func NewSliceView(buf *bytes.Buffer) *SliceView {
	if buf == nil {
		buf = new(bytes.Buffer)
	}
	v := &SliceView{buf: buf}
	v.encoder.out = v
	return v
}

func (v *SliceView) putFixed(b []byte)  { v.buf.Write(b) }
func (v *SliceView) Put(p []byte)       { v.buf.Write(p) }
func (v *SliceView) putString(s string) { v.buf.WriteString(s) }

// Bytes returns the serialized bytes. The slice aliases the underlying buffer.
func (v *SliceView) Bytes() []byte { return v.buf.Bytes() }

func (v *SliceView) Len() int { return v.buf.Len() }

// workingView writes into the working slot of a bufferTriad. When the slot
// cannot hold the next primitive it hands the slot to the syncer without a
// forced flush and continues in the next one. Byte slices spill across slots.
// The first rotation error is sticky and turns later writes into no-ops.
type workingView struct {
	encoder
	buffers *bufferTriad
	rotate  func() error
	err     error
}

var _ BufferView = (*workingView)(nil)

func newWorkingView(buffers *bufferTriad, rotate func() error) *workingView {
	v := &workingView{buffers: buffers, rotate: rotate}
	v.encoder.out = v
	return v
}

// ensureSpace rotates the working slot when fewer than n bytes remain.
func (v *workingView) ensureSpace(n int) bool {
	if v.err != nil {
		return false
	}
	if v.buffers.working().remaining() >= n {
		return true
	}
	if err := v.rotate(); err != nil {
		v.err = err
		return false
	}
	return true
}

func (v *workingView) putFixed(b []byte) {
	if !v.ensureSpace(len(b)) {
		return
	}
	s := v.buffers.working()
	s.n += copy(s.buf[s.n:], b)
}

func (v *workingView) Put(p []byte) {
	for len(p) > 0 && v.ensureSpace(1) {
		s := v.buffers.working()
		k := copy(s.buf[s.n:], p)
		s.n += k
		p = p[k:]
	}
}

func (v *workingView) putString(str string) {
	for len(str) > 0 && v.ensureSpace(1) {
		s := v.buffers.working()
		k := copy(s.buf[s.n:], str)
		s.n += k
		str = str[k:]
	}
}

// Err returns the sticky rotation error, if any.
func (v *workingView) Err() error { return v.err }
