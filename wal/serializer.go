package wal

import (
	"fmt"
	"hash/crc32"
	"math"
	"time"

	"github.com/INLOpen/nexuswal/core"
)

// batch collects what the serializer accepted since the last forced handoff.
type batch struct {
	listeners []*FlushListener
	roll      *FlushListener
	entries   int
	bytes     int
}

// serializeLoop is the only consumer of the queue and the only writer of the
// working buffer. It exits after flushing the batch that carries the close
// signal, or when stopSerializer is closed.
func (w *WAL) serializeLoop() {
	defer close(w.serializerDone)
	defer close(w.syncTasks)

	for {
		var first Entry
		select {
		case first = <-w.queue:
		case <-w.stopSerializer:
			return
		}

		if sig, ok := first.(*SignalEntry); ok && sig.Signal == SignalClose {
			w.resolve(sig.Listener(), nil)
			return
		}

		if w.opts.FsyncDelay > 0 {
			t := time.NewTimer(w.opts.FsyncDelay)
			select {
			case <-t.C:
			case <-w.stopSerializer:
				t.Stop()
				w.resolve(first.Listener(), fmt.Errorf("entry dropped by interrupted WAL node %s: %w", w.id, core.ErrWALClosed))
				return
			}
		}

		b := &batch{}
		stop := w.serialize(first, b)
	drain:
		for i := 1; i < w.opts.QueueCapacity && !stop && b.roll == nil; i++ {
			select {
			case e := <-w.queue:
				stop = w.serialize(e, b)
			default:
				break drain
			}
		}
		w.handoff(b)
		if stop {
			return
		}
	}
}

// serialize adds one entry to the batch. It reports whether the loop must stop.
func (w *WAL) serialize(e Entry, b *batch) bool {
	switch e := e.(type) {
	case *InfoEntry:
		w.serializeInfo(e, b)
		return w.view.Err() != nil
	case *SignalEntry:
		switch e.Signal {
		case SignalRollLogFile:
			b.roll = e.Listener()
		case SignalClose:
			b.listeners = append(b.listeners, e.Listener())
			return true
		default:
			w.resolve(e.Listener(), fmt.Errorf("unknown WAL signal %d", e.Signal))
		}
	}
	return false
}

func (w *WAL) serializeInfo(e *InfoEntry, b *batch) {
	rec := e.Record
	if rec == nil {
		w.metrics.SerializationErrors.Add(1)
		w.resolve(e.Listener(), &core.ValidationError{Field: "record", Value: "nil", Message: "entry has no record"})
		return
	}

	scratch := core.BufferPool.Get()
	defer core.BufferPool.Put(scratch)
	if err := rec.Serialize(NewSliceView(scratch)); err != nil {
		w.failSerialization(e, fmt.Errorf("failed to serialize %s entry: %w", rec.EntryType(), err))
		return
	}
	payload := scratch.Bytes()

	if w.compressor != nil {
		compressed := core.BufferPool.Get()
		defer core.BufferPool.Put(compressed)
		if err := w.compressor.CompressTo(compressed, payload); err != nil {
			w.failSerialization(e, fmt.Errorf("failed to compress %s entry: %w", rec.EntryType(), err))
			return
		}
		payload = compressed.Bytes()
	}
	if uint64(len(payload)) > math.MaxUint32 {
		w.failSerialization(e, fmt.Errorf("%s entry payload of %d bytes is too large", rec.EntryType(), len(payload)))
		return
	}

	idx := rec.SearchIndex()
	w.writeFrame(rec.EntryType(), idx, payload)
	if err := w.view.Err(); err != nil {
		w.resolve(e.Listener(), fmt.Errorf("entry dropped by interrupted WAL node %s: %w", w.id, core.ErrWALClosed))
		return
	}

	w.metrics.EntriesSerialized.Add(1)
	w.advanceSearchIndex(rec.EntryType(), idx)
	b.listeners = append(b.listeners, e.Listener())
	b.entries++
	b.bytes += len(payload) + core.EntryOverhead
}

func (w *WAL) failSerialization(e *InfoEntry, err error) {
	w.metrics.SerializationErrors.Add(1)
	w.logger.Warn("Dropping entry that could not be serialized", "type", e.Record.EntryType(), "error", err)
	w.resolve(e.Listener(), err)
}

// writeFrame appends type | searchIndex | payloadLen | payload | crc32(payload).
func (w *WAL) writeFrame(t core.EntryType, searchIndex int64, payload []byte) {
	w.view.PutByte(byte(t))
	w.view.PutInt64(searchIndex)
	w.view.PutUint32(uint32(len(payload)))
	w.view.Put(payload)
	w.view.PutUint32(crc32.ChecksumIEEE(payload))
}

// advanceSearchIndex keeps the running maximum of insert search indexes.
func (w *WAL) advanceSearchIndex(t core.EntryType, idx int64) {
	if !t.IsInsert() || idx == core.NoSearchIndex {
		return
	}
	cur := w.searchIndex.Load()
	switch {
	case idx > cur:
		w.searchIndex.Store(idx)
		w.metrics.CurrentSearchIndex.Set(idx)
	case idx < cur:
		w.metrics.SearchIndexRegressions.Add(1)
		w.logger.Warn("Search index went backwards, keeping watermark", "search_index", idx, "watermark", cur)
	}
}

// handoff forces the working buffer to the syncer when the batch serialized
// anything or asked for a roll.
func (w *WAL) handoff(b *batch) {
	if b.entries == 0 && b.roll == nil {
		// Only the close listener can be left here; there is nothing to persist.
		for _, l := range b.listeners {
			w.resolve(l, nil)
		}
		return
	}

	s, err := w.buffers.switchWorkingToSyncing()
	if err != nil {
		cause := fmt.Errorf("batch dropped by interrupted WAL node %s: %w", w.id, core.ErrWALClosed)
		for _, l := range b.listeners {
			w.resolve(l, cause)
		}
		if b.roll != nil {
			w.resolve(b.roll, cause)
		}
		return
	}
	w.syncTasks <- &syncTask{
		slot:        s,
		force:       true,
		listeners:   b.listeners,
		roll:        b.roll,
		searchIndex: w.searchIndex.Load(),
		entries:     b.entries,
		batchBytes:  b.bytes,
	}
}

// rotateWorking hands a full working buffer to the syncer without forcing it.
// It is called by the working view in the middle of a batch.
func (w *WAL) rotateWorking() error {
	s, err := w.buffers.switchWorkingToSyncing()
	if err != nil {
		return err
	}
	w.syncTasks <- &syncTask{slot: s, searchIndex: w.searchIndex.Load()}
	return nil
}
