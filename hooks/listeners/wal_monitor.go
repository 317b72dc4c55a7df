package listeners

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/INLOpen/nexuswal/hooks"
)

// WALMonitorListener logs segment rotations and failed flushes, and raises an
// alert when the process degrades to read-only mode.
type WALMonitorListener struct {
	logger *slog.Logger

	rotations     atomic.Uint64
	failedFlushes atomic.Uint64
	readOnly      atomic.Bool
}

// NewWALMonitorListener creates a new listener for monitoring WAL nodes.
func NewWALMonitorListener(logger *slog.Logger) *WALMonitorListener {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &WALMonitorListener{
		logger: logger.With("component", "WALMonitorListener"),
	}
}

// Register subscribes the listener to every event it handles.
func (l *WALMonitorListener) Register(hm hooks.HookManager) {
	hm.Register(hooks.EventPostWALRotate, l)
	hm.Register(hooks.EventPostWALFlush, l)
	hm.Register(hooks.EventOnReadOnly, l)
}

func (l *WALMonitorListener) OnEvent(ctx context.Context, event hooks.HookEvent) error {
	switch event.Type() {
	case hooks.EventPostWALRotate:
		payload, ok := event.Payload().(hooks.PostWALRotatePayload)
		if !ok {
			return l.badPayload(event)
		}
		l.rotations.Add(1)
		l.logger.Info("WAL segment rotated",
			"node", payload.Node,
			"old_version", payload.OldSegmentVersion,
			"new_version", payload.NewSegmentVersion,
			"path", payload.NewSegmentPath,
			"watermark", payload.WatermarkSearchIdx,
		)
	case hooks.EventPostWALFlush:
		payload, ok := event.Payload().(hooks.PostWALFlushPayload)
		if !ok {
			return l.badPayload(event)
		}
		if payload.Error != nil {
			l.failedFlushes.Add(1)
			l.logger.Error("WAL flush failed",
				"node", payload.Node,
				"entries", payload.Entries,
				"bytes", payload.Bytes,
				"error", payload.Error,
			)
		}
	case hooks.EventOnReadOnly:
		payload, ok := event.Payload().(hooks.ReadOnlyPayload)
		if !ok {
			return l.badPayload(event)
		}
		l.readOnly.Store(true)
		l.logger.Error("ALERT: storage switched to read-only mode, writes are rejected until restart",
			"node", payload.Node,
			"cause", payload.Cause,
		)
	}
	return nil
}

func (l *WALMonitorListener) badPayload(event hooks.HookEvent) error {
	l.logger.Error("Received event with incorrect payload type", "event", event.Type(), "payload_type", fmt.Sprintf("%T", event.Payload()))
	return nil
}

// Rotations returns the number of rotations observed.
func (l *WALMonitorListener) Rotations() uint64 { return l.rotations.Load() }

// FailedFlushes returns the number of failed flushes observed.
func (l *WALMonitorListener) FailedFlushes() uint64 { return l.failedFlushes.Load() }

// SawReadOnly reports whether a read-only transition was observed.
func (l *WALMonitorListener) SawReadOnly() bool { return l.readOnly.Load() }

// Priority defines the execution order.
func (l *WALMonitorListener) Priority() int { return 100 }

// IsAsync is false so that counters are current once Trigger returns.
func (l *WALMonitorListener) IsAsync() bool { return false }
