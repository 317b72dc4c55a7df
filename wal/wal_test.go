package wal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/INLOpen/nexuswal/compressors"
	"github.com/INLOpen/nexuswal/core"
	"github.com/INLOpen/nexuswal/hooks"
	"github.com/INLOpen/nexuswal/hooks/listeners"
	"github.com/INLOpen/nexuswal/sys"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestOpen_CreatesSegmentAndLocksDir(t *testing.T) {
	opts := testOptions(t)
	opts.StartSearchIndex = 41
	w := openTestWAL(t, opts)

	segments, err := ListSegments(opts.Dir)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	assert.Equal(t, uint64(0), segments[0].Version)
	assert.Equal(t, int64(41), segments[0].StartSearchIndex)

	_, err = Open(opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, sys.ErrDirLocked)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close(), "second close is a no-op")

	header, err := ReadSegmentHeader(segments[0].Path)
	require.NoError(t, err)
	assert.Equal(t, core.WALMagicNumber, header.Magic)
	assert.Equal(t, core.CompressionNone, header.CompressorType)
	assert.Equal(t, int64(41), header.StartSearchIndex)
}

func TestOpen_ResumesAfterHighestVersion(t *testing.T) {
	opts := testOptions(t)
	w := openTestWAL(t, opts)
	require.NoError(t, w.Close())

	opts.StartVersion = 0
	w = openTestWAL(t, opts)
	require.NoError(t, w.Close())

	opts.StartVersion = 10
	w = openTestWAL(t, opts)
	require.NoError(t, w.Close())

	segments, err := ListSegments(opts.Dir)
	require.NoError(t, err)
	var versions []uint64
	for _, s := range segments {
		versions = append(versions, s.Version)
	}
	assert.Equal(t, []uint64{0, 1, 10}, versions)
}

func TestOpen_RejectsTinyBuffer(t *testing.T) {
	opts := testOptions(t)
	opts.BufferSize = 2 * (core.EntryOverhead - 1)
	_, err := Open(opts)
	require.Error(t, err)
}

func TestAppend_EntriesAreDurableAndFramed(t *testing.T) {
	opts := testOptions(t)
	w := openTestWAL(t, opts)

	l1 := w.Append(insert(1, "alpha"))
	l2 := w.Append(&testRecord{typ: core.EntryTypeDelete, index: core.NoSearchIndex, payload: []byte("beta")})
	l3 := w.Append(insert(2, "gamma"))
	for _, l := range []*FlushListener{l1, l2, l3} {
		require.NoError(t, waitListener(t, l))
		assert.Equal(t, FlushSucceeded, l.Status())
	}
	assert.Equal(t, int64(2), w.CurrentSearchIndex())
	assert.True(t, w.IsAllEntriesConsumed())
	require.NoError(t, w.Close())

	segments, err := ListSegments(opts.Dir)
	require.NoError(t, err)
	require.Len(t, segments, 1)
	_, frames := readFrames(t, segments[0].Path)
	require.Len(t, frames, 3)
	assert.Equal(t, core.EntryTypeInsertRow, frames[0].typ)
	assert.Equal(t, int64(1), frames[0].searchIndex)
	assert.Equal(t, "alpha", string(frames[0].payload))
	assert.Equal(t, core.EntryTypeDelete, frames[1].typ)
	assert.Equal(t, core.NoSearchIndex, frames[1].searchIndex)
	assert.Equal(t, "gamma", string(frames[2].payload))

	m := w.Metrics()
	assert.Equal(t, int64(3), m.EntriesSerialized.Value())
	assert.Positive(t, m.ForcedSyncs.Value())
	assert.Positive(t, m.BytesWritten.Value())
}

func TestAppend_ConcurrentProducers(t *testing.T) {
	opts := testOptions(t)
	opts.QueueCapacity = 8
	w := openTestWAL(t, opts)

	const producers, perProducer = 8, 50
	var wg sync.WaitGroup
	errCh := make(chan error, producers*perProducer)
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				l := w.Append(insert(int64(p*perProducer+i), fmt.Sprintf("p%d-%d", p, i)))
				errCh <- l.Wait(context.Background())
			}
		}(p)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		require.NoError(t, err)
	}
	assert.NoError(t, w.buffers.checkInvariant())
	require.NoError(t, w.Close())

	segments, err := ListSegments(opts.Dir)
	require.NoError(t, err)
	total := 0
	for _, s := range segments {
		_, frames := readFrames(t, s.Path)
		total += len(frames)
	}
	assert.Equal(t, producers*perProducer, total)
	assert.Equal(t, int64(producers*perProducer-1), w.CurrentSearchIndex())
}

func TestBufferRotation_SpillsWithoutForcing(t *testing.T) {
	opts := testOptions(t)
	// Two 1024-byte buffers; each frame below is exactly 512 bytes.
	opts.BufferSize = 2048
	opts.FsyncDelay = 200 * time.Millisecond
	w := openTestWAL(t, opts)

	payload := strings.Repeat("x", 512-core.EntryOverhead)
	var ls []*FlushListener
	for i := 1; i <= 3; i++ {
		ls = append(ls, w.Append(insert(int64(i), payload)))
	}
	for _, l := range ls {
		require.NoError(t, waitListener(t, l))
	}

	// One switch when the third frame does not fit, one for the forced handoff.
	assert.Equal(t, int64(2), w.Metrics().BufferSwitches.Value())
	assert.Equal(t, int64(1), w.Metrics().ForcedSyncs.Value())
	require.NoError(t, w.Close())

	segments, err := ListSegments(opts.Dir)
	require.NoError(t, err)
	_, frames := readFrames(t, segments[0].Path)
	require.Len(t, frames, 3)
	for i, f := range frames {
		assert.Equal(t, int64(i+1), f.searchIndex)
		assert.Equal(t, payload, string(f.payload))
	}
}

func TestWriteFailure_SpilledBufferFailsBatch(t *testing.T) {
	errDisk := errors.New("spill write failed")
	file := &mockFile{}
	file.On("Write", mock.Anything).Return(nil).Once() // segment header
	file.On("Write", mock.Anything).Return(errDisk).Once()
	file.On("Write", mock.Anything).Return(nil)
	file.On("Sync").Return(nil)
	file.On("Close").Return(nil)

	opts := testOptions(t)
	opts.openFile = openMock(file)
	opts.BufferSize = 2048
	opts.FsyncDelay = 200 * time.Millisecond
	w := openTestWAL(t, opts)

	// The third frame spills the first buffer and that write fails. The
	// segment is poisoned, so the forced tail is never written or synced.
	payload := strings.Repeat("x", 512-core.EntryOverhead)
	var ls []*FlushListener
	for i := 1; i <= 3; i++ {
		ls = append(ls, w.Append(insert(int64(i), payload)))
	}
	for i, l := range ls {
		err := waitListener(t, l)
		require.Error(t, err, "entry %d", i+1)
		assert.ErrorIs(t, err, errDisk, "entry %d", i+1)
	}
	assert.True(t, w.State().IsReadOnly())
	assert.Equal(t, int64(1), w.Metrics().SyncErrors.Value())
	assert.Equal(t, int64(2), w.Metrics().BufferSwitches.Value())
	assert.Equal(t, int64(0), w.Metrics().ForcedSyncs.Value())
	_ = w.Close()
}

func TestAppend_ListenersResolveInSubmissionOrder(t *testing.T) {
	opts := testOptions(t)
	opts.QueueCapacity = 4
	opts.BufferSize = 4096
	opts.FsyncDelay = time.Millisecond
	w := openTestWAL(t, opts)

	const n = 200
	ls := make([]*FlushListener, n)
	for i := range ls {
		ls[i] = w.Append(insert(int64(i+1), fmt.Sprintf("entry-%03d-%s", i, strings.Repeat("y", 100))))
	}

	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		outOfOrder []string
	)
	for i := range ls {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-ls[i].Done()
			for j := 0; j < i; j++ {
				if ls[j].Status() == FlushPending {
					mu.Lock()
					outOfOrder = append(outOfOrder, fmt.Sprintf("%d resolved before %d", i, j))
					mu.Unlock()
					return
				}
			}
		}(i)
	}
	for _, l := range ls {
		require.NoError(t, waitListener(t, l))
	}
	wg.Wait()

	assert.Empty(t, outOfOrder)
	assert.Greater(t, w.Metrics().ForcedSyncs.Value(), int64(1), "entries must span several batches")
	require.NoError(t, w.Close())
}

func TestBufferRotation_PayloadLargerThanBuffer(t *testing.T) {
	opts := testOptions(t)
	opts.BufferSize = 256
	w := openTestWAL(t, opts)

	payload := strings.Repeat("abcdefgh", 100)
	require.NoError(t, waitListener(t, w.Append(insert(1, payload))))
	require.NoError(t, w.Close())
	assert.GreaterOrEqual(t, w.Metrics().BufferSwitches.Value(), int64(6))

	segments, err := ListSegments(opts.Dir)
	require.NoError(t, err)
	_, frames := readFrames(t, segments[0].Path)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, string(frames[0].payload))
}

func TestSearchIndex_KeepsRunningMaximum(t *testing.T) {
	opts := testOptions(t)
	opts.StartSearchIndex = 5
	w := openTestWAL(t, opts)
	defer w.Close()

	for _, rec := range []*testRecord{
		insert(10, "a"),
		insert(10, "b"),
		insert(7, "late"),
		{typ: core.EntryTypeDelete, index: 99, payload: []byte("d")},
		{typ: core.EntryTypeInsertTablet, index: 12, payload: []byte("t")},
	} {
		require.NoError(t, waitListener(t, w.Append(rec)))
	}

	assert.Equal(t, int64(12), w.CurrentSearchIndex())
	assert.Equal(t, int64(12), w.Metrics().CurrentSearchIndex.Value())
	assert.Equal(t, int64(1), w.Metrics().SearchIndexRegressions.Value())
}

func TestSerializationError_FailsOnlyThatEntry(t *testing.T) {
	opts := testOptions(t)
	opts.FsyncDelay = 50 * time.Millisecond
	w := openTestWAL(t, opts)

	errBoom := errors.New("boom")
	good1 := w.Append(insert(1, "one"))
	bad := w.Append(&testRecord{typ: core.EntryTypeInsertRow, index: 50, payload: []byte("never"), err: errBoom})
	good2 := w.Append(insert(2, "two"))

	require.NoError(t, waitListener(t, good1))
	require.NoError(t, waitListener(t, good2))
	err := waitListener(t, bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, FlushFailed, bad.Status())
	assert.Equal(t, int64(2), w.CurrentSearchIndex(), "failed entry does not advance the watermark")
	assert.Equal(t, int64(1), w.Metrics().SerializationErrors.Value())
	require.NoError(t, w.Close())

	segments, err := ListSegments(opts.Dir)
	require.NoError(t, err)
	_, frames := readFrames(t, segments[0].Path)
	require.Len(t, frames, 2)
	assert.Equal(t, "one", string(frames[0].payload))
	assert.Equal(t, "two", string(frames[1].payload))
}

func TestCompression_PayloadsAreCompressed(t *testing.T) {
	opts := testOptions(t)
	opts.Compressor = compressors.NewSnappyCompressor()
	w := openTestWAL(t, opts)

	payload := strings.Repeat("compressible ", 64)
	require.NoError(t, waitListener(t, w.Append(insert(1, payload))))
	require.NoError(t, w.Close())

	segments, err := ListSegments(opts.Dir)
	require.NoError(t, err)
	header, frames := readFrames(t, segments[0].Path)
	assert.Equal(t, core.CompressionSnappy, header.CompressorType)
	require.Len(t, frames, 1)
	assert.Less(t, len(frames[0].payload), len(payload))

	rc, err := opts.Compressor.Decompress(frames[0].payload)
	require.NoError(t, err)
	defer rc.Close()
	var sb strings.Builder
	_, err = io.Copy(&sb, rc)
	require.NoError(t, err)
	assert.Equal(t, payload, sb.String())
}

func TestWrite_AfterCloseFailsListener(t *testing.T) {
	w := openTestWAL(t, testOptions(t))
	require.NoError(t, w.Close())

	l := w.Append(insert(1, "late"))
	err := waitListener(t, l)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrWALClosed)
	assert.Equal(t, int64(1), w.Metrics().RejectedEntries.Value())
	assert.True(t, w.IsAllEntriesConsumed())

	assert.ErrorIs(t, w.WaitForFlush(context.Background()), core.ErrWALClosed)
	assert.False(t, w.WaitForFlushTimeout(10*time.Millisecond))
}

func TestClose_FlushesQueuedEntries(t *testing.T) {
	opts := testOptions(t)
	opts.QueueCapacity = 16
	opts.FsyncDelay = 5 * time.Millisecond
	w := openTestWAL(t, opts)

	var ls []*FlushListener
	for i := 0; i < 200; i++ {
		ls = append(ls, w.Append(insert(int64(i), fmt.Sprintf("entry-%d", i))))
	}
	require.NoError(t, w.Close())

	for _, l := range ls {
		select {
		case <-l.Done():
		default:
			t.Fatal("listener still pending after Close returned")
		}
		assert.NoError(t, l.Err())
	}
	assert.True(t, w.IsAllEntriesConsumed())
	assert.Equal(t, 0, w.QueueLength())
}

func TestClose_FiresLifecycleHooks(t *testing.T) {
	opts := testOptions(t)
	hm := hooks.NewHookManager(discardLogger())
	recorder := &eventRecorder{}
	for _, ev := range []hooks.EventType{hooks.EventPostWALOpen, hooks.EventPreCloseWAL, hooks.EventPostCloseWAL, hooks.EventPostWALFlush} {
		hm.Register(ev, recorder)
	}
	opts.HookManager = hm
	w := openTestWAL(t, opts)

	require.NoError(t, waitListener(t, w.Append(insert(1, "x"))))
	require.NoError(t, w.Close())

	types := recorder.types()
	require.Len(t, types, 4)
	assert.Equal(t, hooks.EventPostWALOpen, types[0])
	assert.Equal(t, hooks.EventPostCloseWAL, types[3])
	assert.ElementsMatch(t, []hooks.EventType{hooks.EventPostWALFlush, hooks.EventPreCloseWAL}, types[1:3])

	flushAt := 1
	if types[2] == hooks.EventPostWALFlush {
		flushAt = 2
	}
	flush, ok := recorder.payload(flushAt).(hooks.PostWALFlushPayload)
	require.True(t, ok)
	assert.Equal(t, "test-node", flush.Node)
	assert.Equal(t, 1, flush.Entries)
	assert.Equal(t, int64(1), flush.SearchIndex)
	assert.NoError(t, flush.Error)
}

func TestRollover_AtSizeThreshold(t *testing.T) {
	opts := testOptions(t)
	opts.FileSizeThreshold = 64
	hm := hooks.NewHookManager(discardLogger())
	monitor := listeners.NewWALMonitorListener(discardLogger())
	monitor.Register(hm)
	opts.HookManager = hm
	w := openTestWAL(t, opts)

	require.NoError(t, waitListener(t, w.Append(insert(7, strings.Repeat("r", 100)))))
	require.NoError(t, w.Close())

	segments, err := ListSegments(opts.Dir)
	require.NoError(t, err)
	require.Len(t, segments, 2)
	assert.Equal(t, int64(0), segments[0].StartSearchIndex)
	assert.Equal(t, uint64(1), segments[1].Version)
	assert.Equal(t, int64(7), segments[1].StartSearchIndex)
	assert.Equal(t, core.FormatSegmentFileName(1, 7), filepath.Base(segments[1].Path))

	_, frames := readFrames(t, segments[1].Path)
	assert.Empty(t, frames, "the rolled segment holds only its header")
	assert.Equal(t, int64(1), w.Metrics().Rolls.Value())
	assert.Equal(t, uint64(1), monitor.Rotations())
}

func TestRoll_ExplicitRequest(t *testing.T) {
	opts := testOptions(t)
	w := openTestWAL(t, opts)

	require.NoError(t, waitListener(t, w.Append(insert(5, "before"))))
	require.NoError(t, waitListener(t, w.Roll()))
	require.NoError(t, waitListener(t, w.Roll()), "rolling an empty segment still rolls")
	require.NoError(t, waitListener(t, w.Append(insert(6, "after"))))
	require.NoError(t, w.Close())

	segments, err := ListSegments(opts.Dir)
	require.NoError(t, err)
	require.Len(t, segments, 3)
	assert.Equal(t, int64(5), segments[1].StartSearchIndex)
	assert.Equal(t, int64(5), segments[2].StartSearchIndex)

	_, first := readFrames(t, segments[0].Path)
	_, last := readFrames(t, segments[2].Path)
	require.Len(t, first, 1)
	require.Len(t, last, 1)
	assert.Equal(t, "before", string(first[0].payload))
	assert.Equal(t, "after", string(last[0].payload))
	assert.Equal(t, int64(2), w.Metrics().Rolls.Value())
}

func TestWaitForFlush(t *testing.T) {
	opts := testOptions(t)
	opts.FsyncDelay = 100 * time.Millisecond
	w := openTestWAL(t, opts)
	defer w.Close()

	assert.False(t, w.WaitForFlushTimeout(20*time.Millisecond), "nothing is syncing")

	l := w.Append(insert(1, "x"))
	assert.True(t, w.WaitForFlushTimeout(5*time.Second))
	require.NoError(t, waitListener(t, l))

	l = w.Append(insert(2, "y"))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, w.WaitForFlush(ctx))
	require.NoError(t, waitListener(t, l))

	ctx, cancel2 := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel2()
	assert.ErrorIs(t, w.WaitForFlush(ctx), context.DeadlineExceeded)
}

func TestSyncFailure_SwitchesToReadOnly(t *testing.T) {
	errDisk := errors.New("disk gone")
	file := &mockFile{}
	file.On("Write", mock.Anything).Return(nil)
	file.On("Sync").Return(nil).Once() // segment header
	file.On("Sync").Return(errDisk)
	file.On("Close").Return(nil)

	opts := testOptions(t)
	opts.openFile = openMock(file)
	hm := hooks.NewHookManager(discardLogger())
	monitor := listeners.NewWALMonitorListener(discardLogger())
	monitor.Register(hm)
	opts.HookManager = hm
	state := core.NewSystemState(discardLogger())
	opts.State = state
	w := openTestWAL(t, opts)

	err := waitListener(t, w.Append(insert(1, "lost")))
	require.Error(t, err)
	assert.ErrorIs(t, err, errDisk)
	assert.True(t, state.IsReadOnly())
	assert.ErrorIs(t, state.Cause(), errDisk)
	assert.True(t, monitor.SawReadOnly())

	err = waitListener(t, w.Append(insert(2, "also lost")))
	assert.ErrorIs(t, err, errDisk, "segment stays poisoned until the next roll")
	assert.Equal(t, int64(1), w.Metrics().SyncErrors.Value())

	closeErr := w.Close()
	assert.ErrorIs(t, closeErr, errDisk)
	file.AssertCalled(t, "Close")
	assert.Equal(t, uint64(2), monitor.FailedFlushes())
}

func TestWriteFailure_RecoversAfterRoll(t *testing.T) {
	errDisk := errors.New("short on space")
	file := &mockFile{}
	file.On("Write", mock.Anything).Return(nil).Once() // segment header
	file.On("Write", mock.Anything).Return(errDisk).Once()
	file.On("Write", mock.Anything).Return(nil)
	file.On("Sync").Return(nil)
	file.On("Close").Return(nil)

	opts := testOptions(t)
	opts.openFile = openMock(file)
	w := openTestWAL(t, opts)

	err := waitListener(t, w.Append(insert(1, "lost")))
	require.Error(t, err)
	assert.ErrorIs(t, err, errDisk)
	assert.True(t, w.State().IsReadOnly())

	err = waitListener(t, w.Append(insert(2, "rejected")))
	assert.ErrorIs(t, err, errDisk)

	require.NoError(t, waitListener(t, w.Roll()))
	require.NoError(t, waitListener(t, w.Append(insert(3, "kept"))))
	assert.True(t, w.State().IsReadOnly(), "read-only mode is never cleared")
	require.NoError(t, w.Close())
	assert.Equal(t, int64(1), w.Metrics().Rolls.Value())
}

func TestSegmentCreateFailure_FailsOpen(t *testing.T) {
	opts := testOptions(t)
	opts.openFile = func(string, int, os.FileMode) (sys.FileHandle, error) {
		return nil, errors.New("permission denied")
	}
	_, err := Open(opts)
	require.Error(t, err)

	// The lock is released on failure.
	opts.openFile = nil
	w := openTestWAL(t, opts)
	require.NoError(t, w.Close())
}

type eventRecorder struct {
	mu     sync.Mutex
	events []hooks.HookEvent
}

func (r *eventRecorder) OnEvent(_ context.Context, event hooks.HookEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) Priority() int { return 0 }
func (r *eventRecorder) IsAsync() bool { return false }

func (r *eventRecorder) types() []hooks.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []hooks.EventType
	for _, e := range r.events {
		out = append(out, e.Type())
	}
	return out
}

func (r *eventRecorder) payload(i int) interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.events[i].Payload()
}
