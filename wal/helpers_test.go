package wal

import (
	"encoding/binary"
	"hash/crc32"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/INLOpen/nexuswal/core"
	"github.com/INLOpen/nexuswal/sys"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// testRecord serializes its payload verbatim, or fails with err.
type testRecord struct {
	typ     core.EntryType
	index   int64
	payload []byte
	err     error
}

func (r *testRecord) EntryType() core.EntryType { return r.typ }
func (r *testRecord) SearchIndex() int64        { return r.index }
func (r *testRecord) Serialize(view BufferView) error {
	if r.err != nil {
		return r.err
	}
	view.Put(r.payload)
	return nil
}

func insert(index int64, payload string) *testRecord {
	return &testRecord{typ: core.EntryTypeInsertRow, index: index, payload: []byte(payload)}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions(t *testing.T) Options {
	t.Helper()
	return Options{
		Identifier:      "test-node",
		Dir:             t.TempDir(),
		BufferSize:      64 * 1024,
		QueueCapacity:   64,
		ShutdownTimeout: 5 * time.Second,
		Logger:          discardLogger(),
	}
}

func openTestWAL(t *testing.T, opts Options) *WAL {
	t.Helper()
	w, err := Open(opts)
	require.NoError(t, err)
	return w
}

func waitListener(t *testing.T, l *FlushListener) error {
	t.Helper()
	select {
	case <-l.Done():
		return l.Err()
	case <-time.After(5 * time.Second):
		t.Fatal("listener was not resolved in time")
		return nil
	}
}

type frame struct {
	typ         core.EntryType
	searchIndex int64
	payload     []byte
}

// readFrames parses every framed entry of a segment file and checks its checksum.
func readFrames(t *testing.T, path string) (core.FileHeader, []frame) {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var header core.FileHeader
	hdrSize := binary.Size(&header)
	require.GreaterOrEqual(t, len(data), hdrSize)
	_, err = binary.Decode(data[:hdrSize], binary.LittleEndian, &header)
	require.NoError(t, err)
	data = data[hdrSize:]

	var frames []frame
	for len(data) > 0 {
		require.GreaterOrEqual(t, len(data), core.EntryHeaderSize, "truncated frame header")
		f := frame{
			typ:         core.EntryType(data[0]),
			searchIndex: int64(binary.LittleEndian.Uint64(data[1:9])),
		}
		n := int(binary.LittleEndian.Uint32(data[9:13]))
		data = data[core.EntryHeaderSize:]
		require.GreaterOrEqual(t, len(data), n+core.ChecksumSize, "truncated frame payload")
		f.payload = append([]byte(nil), data[:n]...)
		require.Equal(t, crc32.ChecksumIEEE(f.payload), binary.LittleEndian.Uint32(data[n:n+core.ChecksumSize]), "checksum mismatch")
		data = data[n+core.ChecksumSize:]
		frames = append(frames, f)
	}
	return header, frames
}

// mockFile is a sys.FileHandle whose failures are scripted per test.
type mockFile struct {
	mock.Mock
}

func (m *mockFile) Write(p []byte) (int, error) {
	args := m.Called(p)
	if err := args.Error(0); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (m *mockFile) Read(p []byte) (int, error) {
	args := m.Called(p)
	return args.Int(0), args.Error(1)
}

func (m *mockFile) Stat() (os.FileInfo, error) {
	args := m.Called()
	return nil, args.Error(0)
}

func (m *mockFile) Sync() error {
	return m.Called().Error(0)
}

func (m *mockFile) Truncate(size int64) error {
	return m.Called(size).Error(0)
}

func (m *mockFile) Name() string {
	return "mock.wal"
}

func (m *mockFile) Close() error {
	return m.Called().Error(0)
}

var _ sys.FileHandle = (*mockFile)(nil)

func openMock(m *mockFile) sys.OpenFileHandler {
	return func(string, int, os.FileMode) (sys.FileHandle, error) {
		return m, nil
	}
}
