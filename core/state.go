package core

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// SystemState holds process-wide status shared by every WAL node and the
// engine. The read-only flag is a one-way switch: once set it is never cleared.
type SystemState struct {
	readOnly atomic.Bool

	mu     sync.Mutex
	cause  error
	logger *slog.Logger
}

// NewSystemState creates a writable SystemState.
func NewSystemState(logger *slog.Logger) *SystemState {
	if logger == nil {
		logger = slog.Default()
	}
	return &SystemState{logger: logger.With("component", "SystemState")}
}

// IsReadOnly reports whether mutations must be rejected.
func (s *SystemState) IsReadOnly() bool {
	return s.readOnly.Load()
}

// SetReadOnly switches the system into read-only mode. It returns true only for
// the call that performed the transition; the first cause is kept.
func (s *SystemState) SetReadOnly(cause error) bool {
	if !s.readOnly.CompareAndSwap(false, true) {
		return false
	}
	s.mu.Lock()
	s.cause = cause
	s.mu.Unlock()
	s.logger.Error("System switched to read-only mode", "cause", cause)
	return true
}

// Cause returns the error that triggered read-only mode, or nil.
func (s *SystemState) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}
