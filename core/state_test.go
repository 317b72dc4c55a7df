package core

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemState_SetReadOnly(t *testing.T) {
	state := NewSystemState(slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.False(t, state.IsReadOnly())
	assert.NoError(t, state.Cause())

	first := errors.New("fsync failed")
	assert.True(t, state.SetReadOnly(first))
	assert.False(t, state.SetReadOnly(errors.New("second failure")), "only the first call transitions")
	assert.True(t, state.IsReadOnly())
	assert.Equal(t, first, state.Cause())
}

func TestSystemState_ConcurrentTransitions(t *testing.T) {
	state := NewSystemState(nil)
	var transitions atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if state.SetReadOnly(errors.New("boom")) {
				transitions.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), transitions.Load())
}
