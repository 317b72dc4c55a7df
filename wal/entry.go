package wal

import "github.com/INLOpen/nexuswal/core"

// Record is a mutation that can be appended to the WAL. Serialize must write
// the complete payload; the WAL frames it with the entry type, the search index
// and a checksum.
type Record interface {
	EntryType() core.EntryType
	// SearchIndex returns the consensus index of the record or core.NoSearchIndex.
	SearchIndex() int64
	Serialize(view BufferView) error
}

// Entry is the unit of work accepted by WAL.Write: either an *InfoEntry
// carrying a record or a *SignalEntry carrying a control directive.
type Entry interface {
	Listener() *FlushListener
	isEntry()
}

// InfoEntry wraps a record and the listener resolved once it is durable.
type InfoEntry struct {
	Record   Record
	listener *FlushListener
}

// NewInfoEntry creates an entry for rec with a fresh listener.
func NewInfoEntry(rec Record) *InfoEntry {
	return &InfoEntry{Record: rec, listener: NewFlushListener()}
}

func (e *InfoEntry) Listener() *FlushListener { return e.listener }
func (e *InfoEntry) isEntry()                 {}

// SignalType is a control directive travelling through the entry queue.
type SignalType uint8

const (
	// SignalRollLogFile flushes everything batched so far and rolls the segment.
	SignalRollLogFile SignalType = iota + 1
	// SignalClose is enqueued by Close and ends the serializer loop.
	SignalClose
)

func (s SignalType) String() string {
	switch s {
	case SignalRollLogFile:
		return "roll_log_file"
	case SignalClose:
		return "close"
	default:
		return "unknown"
	}
}

// SignalEntry is a control directive with its own listener.
type SignalEntry struct {
	Signal   SignalType
	listener *FlushListener
}

func NewSignalEntry(sig SignalType) *SignalEntry {
	return &SignalEntry{Signal: sig, listener: NewFlushListener()}
}

func (e *SignalEntry) Listener() *FlushListener { return e.listener }
func (e *SignalEntry) isEntry()                 {}
