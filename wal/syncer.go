package wal

import (
	"context"
	"errors"
	"fmt"

	"github.com/INLOpen/nexuswal/hooks"
)

// syncTask is one buffer handed from the serializer to the syncer. Forced
// tasks end a batch: after the write they are fsynced and their listeners
// resolved.
type syncTask struct {
	slot        *slot
	force       bool
	listeners   []*FlushListener
	roll        *FlushListener
	searchIndex int64
	entries     int
	batchBytes  int
}

// syncLoop owns the active segment. It runs until the serializer closes
// syncTasks, then closes the segment.
func (w *WAL) syncLoop() {
	defer close(w.syncerDone)
	for task := range w.syncTasks {
		w.sync(task)
	}
	if w.segment != nil {
		if err := w.segment.Close(); err != nil {
			w.logger.Error("Failed to close active segment", "path", w.segment.path, "error", err)
			w.closeErr = err
		}
		w.segment = nil
	}
}

func (w *WAL) sync(t *syncTask) {
	data := t.slot.bytes()
	writeErr := w.writeToSegment(data)
	w.buffers.switchSyncingToIdle(t.slot)
	switch {
	case writeErr == nil:
		w.metrics.BytesWritten.Add(int64(len(data)))
	case w.segmentErr == nil:
		w.segmentErr = writeErr
		w.persistenceFailure(writeErr)
	}

	if !t.force {
		return
	}

	err := w.segmentErr
	if err == nil {
		w.metrics.ForcedSyncs.Add(1)
		if ferr := w.segment.Force(); ferr != nil {
			w.segmentErr = ferr
			w.persistenceFailure(ferr)
			err = ferr
		}
	}

	var cause error
	if err != nil {
		cause = fmt.Errorf("WAL node %s failed to persist batch: %w", w.id, err)
	}
	for _, l := range t.listeners {
		w.resolve(l, cause)
	}
	_ = w.hookManager.Trigger(context.Background(), hooks.NewPostWALFlushEvent(hooks.PostWALFlushPayload{
		Node:        w.id,
		Entries:     t.entries,
		Bytes:       t.batchBytes,
		SearchIndex: t.searchIndex,
		Forced:      true,
		Error:       cause,
	}))

	if t.roll != nil || (err == nil && w.segment != nil && w.segment.Size() >= w.opts.FileSizeThreshold) {
		rollErr := w.rollSegment(t.searchIndex)
		if t.roll != nil {
			w.resolve(t.roll, rollErr)
		}
	}
}

// writeToSegment appends data unless the segment is missing or poisoned by an
// earlier failure. A poisoned segment stays unusable until the next roll.
func (w *WAL) writeToSegment(data []byte) error {
	if w.segmentErr != nil {
		return w.segmentErr
	}
	if w.segment == nil {
		return fmt.Errorf("WAL node %s has no active segment", w.id)
	}
	if len(data) == 0 {
		return nil
	}
	return w.segment.Write(data)
}

// rollSegment closes the active segment and opens the next version, named
// after watermark.
func (w *WAL) rollSegment(watermark int64) error {
	var oldVersion uint64
	var closeErr error
	if w.segment != nil {
		oldVersion = w.segment.version
		if closeErr = w.segment.Close(); closeErr != nil {
			w.logger.Error("Failed to close segment during roll", "path", w.segment.path, "error", closeErr)
			w.persistenceFailure(closeErr)
		}
		w.segment = nil
	}

	seg, err := w.newSegment(watermark)
	if err != nil {
		w.logger.Error("Failed to create new segment during roll", "error", err)
		w.segmentErr = err
		w.persistenceFailure(err)
		return errors.Join(closeErr, err)
	}
	w.segment = seg
	w.segmentErr = nil
	w.metrics.Rolls.Add(1)

	w.logger.Info("WAL segment rolled", "old_version", oldVersion, "new_version", seg.version, "path", seg.path, "watermark", watermark)
	_ = w.hookManager.Trigger(context.Background(), hooks.NewPostWALRotateEvent(hooks.PostWALRotatePayload{
		Node:               w.id,
		OldSegmentVersion:  oldVersion,
		NewSegmentVersion:  seg.version,
		NewSegmentPath:     seg.path,
		WatermarkSearchIdx: watermark,
	}))
	return closeErr
}

// newSegment creates the segment with the next version. The version is
// consumed even when creation fails so a leftover file cannot block rolls.
func (w *WAL) newSegment(startSearchIndex int64) (*segmentWriter, error) {
	version := w.nextVersion
	w.nextVersion++

	var prealloc int64
	if w.opts.Preallocate {
		prealloc = w.opts.FileSizeThreshold
	}
	return createSegment(segmentOptions{
		dir:              w.dir,
		version:          version,
		startSearchIndex: startSearchIndex,
		compression:      w.compressionType(),
		preallocate:      prealloc,
		openFile:         w.opts.openFile,
		logger:           w.logger,
	})
}

// persistenceFailure records a write, fsync or roll failure and switches the
// process into read-only mode.
func (w *WAL) persistenceFailure(err error) {
	w.metrics.SyncErrors.Add(1)
	w.logger.Error("WAL persistence failure", "error", err)
	if w.state.SetReadOnly(err) {
		_ = w.hookManager.Trigger(context.Background(), hooks.NewOnReadOnlyEvent(hooks.ReadOnlyPayload{Node: w.id, Cause: err}))
	}
}
