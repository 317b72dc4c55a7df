package wal

import (
	"context"
	"sync/atomic"
)

// FlushStatus is the state of a FlushListener.
type FlushStatus int32

const (
	FlushPending FlushStatus = iota
	flushResolving
	FlushSucceeded
	FlushFailed
)

func (s FlushStatus) String() string {
	switch s {
	case FlushPending, flushResolving:
		return "pending"
	case FlushSucceeded:
		return "succeeded"
	case FlushFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FlushListener is a one-shot completion handle attached to exactly one entry.
// It is resolved at most once; later Succeed or Fail calls report false.
type FlushListener struct {
	status atomic.Int32
	err    error
	done   chan struct{}
}

func NewFlushListener() *FlushListener {
	return &FlushListener{done: make(chan struct{})}
}

// Succeed resolves the listener successfully.
func (l *FlushListener) Succeed() bool {
	return l.resolve(FlushSucceeded, nil)
}

// Fail resolves the listener with cause.
func (l *FlushListener) Fail(cause error) bool {
	return l.resolve(FlushFailed, cause)
}

func (l *FlushListener) resolve(final FlushStatus, cause error) bool {
	if !l.status.CompareAndSwap(int32(FlushPending), int32(flushResolving)) {
		return false
	}
	l.err = cause
	l.status.Store(int32(final))
	close(l.done)
	return true
}

// Done is closed once the listener is resolved.
func (l *FlushListener) Done() <-chan struct{} {
	return l.done
}

// Err returns the failure cause, or nil while pending or after success.
func (l *FlushListener) Err() error {
	select {
	case <-l.done:
		return l.err
	default:
		return nil
	}
}

func (l *FlushListener) Status() FlushStatus {
	s := FlushStatus(l.status.Load())
	if s == flushResolving {
		return FlushPending
	}
	return s
}

// Wait blocks until the listener is resolved or ctx is done.
func (l *FlushListener) Wait(ctx context.Context) error {
	select {
	case <-l.done:
		return l.err
	case <-ctx.Done():
		return ctx.Err()
	}
}
