package server

import (
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/INLOpen/nexuswal/core"
	"github.com/INLOpen/nexuswal/wal"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// fakeSource serves real WAL nodes opened in a temporary directory.
type fakeSource struct {
	nodes map[string]*wal.WAL
	state *core.SystemState
}

func newFakeSource(t *testing.T, regions ...string) *fakeSource {
	t.Helper()
	src := &fakeSource{
		nodes: make(map[string]*wal.WAL),
		state: core.NewSystemState(testLogger()),
	}
	for _, region := range regions {
		node, err := wal.Open(wal.Options{
			Identifier:      region,
			Dir:             t.TempDir(),
			BufferSize:      16 * 1024,
			QueueCapacity:   8,
			ShutdownTimeout: 5 * time.Second,
			State:           src.state,
			Logger:          testLogger(),
		})
		require.NoError(t, err)
		t.Cleanup(func() { _ = node.Close() })
		src.nodes[region] = node
	}
	return src
}

func (s *fakeSource) Regions() []string {
	out := make([]string, 0, len(s.nodes))
	for r := range s.nodes {
		out = append(out, r)
	}
	sort.Strings(out)
	return out
}

func (s *fakeSource) Node(region string) (*wal.WAL, bool) {
	n, ok := s.nodes[region]
	return n, ok
}

func (s *fakeSource) IsReadOnly() bool { return s.state.IsReadOnly() }
