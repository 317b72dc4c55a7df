// Package wal implements the write-ahead log of a region: producers enqueue
// entries, a serializer goroutine batches them into one of two fixed-size
// buffers, and a syncer goroutine appends full buffers to segment files,
// fsyncs them and resolves the per-entry flush listeners.
package wal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/INLOpen/nexuswal/config"
	"github.com/INLOpen/nexuswal/core"
	"github.com/INLOpen/nexuswal/hooks"
	"github.com/INLOpen/nexuswal/sys"
)

// Options holds configuration for a WAL node.
type Options struct {
	// Identifier names the node in logs, hooks and metrics. Defaults to the
	// base name of Dir.
	Identifier string
	Dir        string
	// BufferSize is the total buffer memory, split into two equal buffers.
	BufferSize    int
	QueueCapacity int
	// FsyncDelay is the batch accumulation window after the first entry of a batch.
	FsyncDelay        time.Duration
	FileSizeThreshold int64
	// Compressor is applied to every serialized payload. Nil stores payloads as is.
	Compressor      core.Compressor
	Preallocate     bool
	ShutdownTimeout time.Duration
	CheckMemory     bool
	// StartVersion is the lowest version the first segment may use. A node
	// opened on a directory with segments continues after the highest one.
	StartVersion     uint64
	StartSearchIndex int64

	State       *core.SystemState
	HookManager hooks.HookManager
	Logger      *slog.Logger
	Metrics     *Metrics

	openFile sys.OpenFileHandler
}

func (o *Options) applyDefaults() error {
	if o.Dir == "" {
		return errors.New("wal: Dir must be set")
	}
	if o.Identifier == "" {
		o.Identifier = filepath.Base(o.Dir)
	}
	if o.BufferSize <= 0 {
		o.BufferSize = config.DefaultWALBufferSize
	}
	if o.BufferSize/2 < core.EntryOverhead {
		return fmt.Errorf("wal: buffer size %d is too small", o.BufferSize)
	}
	if o.QueueCapacity <= 0 {
		o.QueueCapacity = config.DefaultWALQueueCapacity
	}
	if o.FsyncDelay < 0 {
		o.FsyncDelay = 0
	}
	if o.FileSizeThreshold <= 0 {
		o.FileSizeThreshold = config.DefaultWALFileSizeThreshold
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = config.DefaultWALShutdownTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.State == nil {
		o.State = core.NewSystemState(o.Logger)
	}
	if o.HookManager == nil {
		o.HookManager = hooks.NewHookManager(o.Logger)
	}
	if o.Metrics == nil {
		o.Metrics = NewMetrics(false, "")
	}
	if o.openFile == nil {
		o.openFile = sys.OpenFile
	}
	return nil
}

// WAL is one write-ahead log stream. It is safe for concurrent use by any
// number of producers.
type WAL struct {
	opts        Options
	id          string
	dir         string
	logger      *slog.Logger
	state       *core.SystemState
	hookManager hooks.HookManager
	metrics     *Metrics
	compressor  core.Compressor

	queue chan Entry
	// closeMu orders Write against Close: writers hold it shared while
	// enqueueing, Close holds it exclusively while flipping closed.
	closeMu sync.RWMutex
	closed  bool

	buffers   *bufferTriad
	view      *workingView
	syncTasks chan *syncTask

	stopSerializer chan struct{}
	serializerDone chan struct{}
	syncerDone     chan struct{}

	searchIndex atomic.Int64
	inFlight    atomic.Int64

	// Owned by the syncer goroutine once Open returns.
	segment     *segmentWriter
	segmentErr  error
	nextVersion uint64
	closeErr    error

	releaseLock func() error
}

// Open creates the node directory if needed, locks it, allocates the buffers,
// creates a new segment and starts the serializer and syncer goroutines.
// Existing segments are left untouched; no entry is read back.
func Open(opts Options) (*WAL, error) {
	if err := opts.applyDefaults(); err != nil {
		return nil, err
	}
	logger := opts.Logger.With("component", "WAL", "node", opts.Identifier)

	if err := os.MkdirAll(opts.Dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create WAL directory %s: %w", opts.Dir, err)
	}
	releaseLock, err := sys.LockDir(opts.Dir, core.LockFileName)
	if err != nil {
		return nil, fmt.Errorf("failed to lock WAL directory %s: %w", opts.Dir, err)
	}

	existing, err := ListSegments(opts.Dir)
	if err != nil {
		_ = releaseLock()
		return nil, err
	}
	nextVersion := opts.StartVersion
	if n := len(existing); n > 0 && existing[n-1].Version >= nextVersion {
		nextVersion = existing[n-1].Version + 1
	}

	w := &WAL{
		opts:           opts,
		id:             opts.Identifier,
		dir:            opts.Dir,
		logger:         logger,
		state:          opts.State,
		hookManager:    opts.HookManager,
		metrics:        opts.Metrics,
		compressor:     opts.Compressor,
		queue:          make(chan Entry, opts.QueueCapacity),
		syncTasks:      make(chan *syncTask, 2),
		stopSerializer: make(chan struct{}),
		serializerDone: make(chan struct{}),
		syncerDone:     make(chan struct{}),
		nextVersion:    nextVersion,
		releaseLock:    releaseLock,
	}
	w.searchIndex.Store(opts.StartSearchIndex)
	w.metrics.CurrentSearchIndex.Set(opts.StartSearchIndex)

	buffers, err := newBufferTriad(opts.BufferSize, opts.CheckMemory, w.metrics.BufferSwitches)
	if err != nil {
		_ = releaseLock()
		return nil, fmt.Errorf("failed to allocate buffers for WAL node %s: %w", w.id, err)
	}
	w.buffers = buffers
	w.view = newWorkingView(buffers, w.rotateWorking)

	seg, err := w.newSegment(opts.StartSearchIndex)
	if err != nil {
		buffers.release()
		_ = releaseLock()
		return nil, err
	}
	w.segment = seg
	w.metrics.publishQueueLength(func() interface{} { return len(w.queue) })

	go w.serializeLoop()
	go w.syncLoop()

	logger.Info("WAL node opened",
		"dir", w.dir,
		"segment", seg.path,
		"buffer_size", opts.BufferSize,
		"queue_capacity", opts.QueueCapacity,
		"fsync_delay", opts.FsyncDelay,
		"existing_segments", len(existing),
	)
	_ = w.hookManager.Trigger(context.Background(), hooks.NewPostWALOpenEvent(hooks.WALLifecyclePayload{Node: w.id, Dir: w.dir}))
	return w, nil
}

// Write enqueues e, blocking while the queue is full. It never returns an
// error: a write to a closed node fails e's listener with core.ErrWALClosed.
func (w *WAL) Write(e Entry) {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed {
		w.metrics.RejectedEntries.Add(1)
		e.Listener().Fail(fmt.Errorf("write to WAL node %s: %w", w.id, core.ErrWALClosed))
		return
	}
	w.inFlight.Add(1)
	w.queue <- e
}

// Append wraps rec in an InfoEntry, writes it and returns its listener.
func (w *WAL) Append(rec Record) *FlushListener {
	e := NewInfoEntry(rec)
	w.Write(e)
	return e.Listener()
}

// Roll requests a segment rollover after everything written so far is durable.
func (w *WAL) Roll() *FlushListener {
	e := NewSignalEntry(SignalRollLogFile)
	w.Write(e)
	return e.Listener()
}

// WaitForFlush blocks until the syncer returns the next buffer to idle.
func (w *WAL) WaitForFlush(ctx context.Context) error {
	if w.isClosed() {
		return core.ErrWALClosed
	}
	return w.buffers.waitForFlush(ctx)
}

// WaitForFlushTimeout is WaitForFlush with a timeout; it reports false when
// no buffer became idle within d.
func (w *WAL) WaitForFlushTimeout(d time.Duration) bool {
	if w.isClosed() {
		return false
	}
	return w.buffers.waitForFlushTimeout(d)
}

// Close stops the node. Entries already queued are serialized and flushed
// before Close returns; each listener is resolved. Calling Close twice is a no-op.
func (w *WAL) Close() error {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return nil
	}
	w.closed = true
	closeSignal := NewSignalEntry(SignalClose)
	w.inFlight.Add(1)
	enqueueTimer := time.NewTimer(w.opts.ShutdownTimeout)
	select {
	case w.queue <- closeSignal:
	case <-enqueueTimer.C:
		w.logger.Error("Failed to enqueue close signal, queue stayed full", "timeout", w.opts.ShutdownTimeout)
		w.resolve(closeSignal.Listener(), core.ErrWALClosed)
	}
	enqueueTimer.Stop()
	w.closeMu.Unlock()

	payload := hooks.WALLifecyclePayload{Node: w.id, Dir: w.dir}
	if err := w.hookManager.Trigger(context.Background(), hooks.NewPreCloseWALEvent(payload)); err != nil {
		w.logger.Warn("PreCloseWAL hook failed, closing anyway", "error", err)
	}

	var errs []error
	if !waitDone(w.serializerDone, w.opts.ShutdownTimeout) {
		w.logger.Warn("Serializer did not drain in time, interrupting", "timeout", w.opts.ShutdownTimeout)
		close(w.stopSerializer)
		w.buffers.interrupt()
		<-w.serializerDone
	}
	if n := w.failQueued(); n > 0 {
		w.logger.Warn("Failed entries left in the queue after interrupt", "count", n)
	}

	if waitDone(w.syncerDone, w.opts.ShutdownTimeout) {
		if w.closeErr != nil {
			errs = append(errs, w.closeErr)
		}
		w.buffers.release()
	} else {
		errs = append(errs, fmt.Errorf("syncer of WAL node %s did not stop within %s", w.id, w.opts.ShutdownTimeout))
	}

	if err := w.releaseLock(); err != nil {
		errs = append(errs, fmt.Errorf("failed to release WAL directory lock: %w", err))
	}
	_ = w.hookManager.Trigger(context.Background(), hooks.NewPostCloseWALEvent(payload))

	err := errors.Join(errs...)
	if err != nil {
		w.logger.Error("WAL node closed with errors", "error", err)
	} else {
		w.logger.Info("WAL node closed")
	}
	return err
}

func waitDone(done <-chan struct{}, timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}

// failQueued resolves every entry still in the queue after the serializer exited.
func (w *WAL) failQueued() int {
	n := 0
	for {
		select {
		case e := <-w.queue:
			w.resolve(e.Listener(), fmt.Errorf("entry dropped by closing WAL node %s: %w", w.id, core.ErrWALClosed))
			n++
		default:
			return n
		}
	}
}

// resolve settles a listener of an accepted entry and keeps the in-flight count.
func (w *WAL) resolve(l *FlushListener, err error) {
	var resolved bool
	if err != nil {
		resolved = l.Fail(err)
	} else {
		resolved = l.Succeed()
	}
	if resolved {
		w.inFlight.Add(-1)
	}
}

func (w *WAL) isClosed() bool {
	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	return w.closed
}

// Identifier returns the node identifier.
func (w *WAL) Identifier() string { return w.id }

// Dir returns the node directory.
func (w *WAL) Dir() string { return w.dir }

// CurrentSearchIndex returns the highest search index serialized so far.
func (w *WAL) CurrentSearchIndex() int64 { return w.searchIndex.Load() }

// IsAllEntriesConsumed reports whether every accepted entry has been resolved.
func (w *WAL) IsAllEntriesConsumed() bool { return w.inFlight.Load() == 0 }

// QueueLength returns the number of entries waiting for the serializer.
func (w *WAL) QueueLength() int { return len(w.queue) }

func (w *WAL) Metrics() *Metrics { return w.metrics }

func (w *WAL) State() *core.SystemState { return w.state }

func (w *WAL) compressionType() core.CompressionType {
	if w.compressor == nil {
		return core.CompressionNone
	}
	return w.compressor.Type()
}
