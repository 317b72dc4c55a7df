package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/nexuswal/core"
)

// EventType defines the type of a hook event.
type EventType string

// --- Event Type Constants ---
const (
	// Write path events, fired by the engine around every record.
	EventPreWrite  EventType = "PreWrite"
	EventPostWrite EventType = "PostWrite"

	// WAL node events
	EventPostWALOpen   EventType = "PostWALOpen"
	EventPostWALFlush  EventType = "PostWALFlush"
	EventPostWALRotate EventType = "PostWALRotate"
	EventPreCloseWAL   EventType = "PreCloseWAL"
	EventPostCloseWAL  EventType = "PostCloseWAL"

	// EventOnReadOnly fires once, when a persistence failure switches the
	// process into read-only mode.
	EventOnReadOnly EventType = "OnReadOnly"

	// Engine Lifecycle
	EventPreStartEngine  EventType = "PreStartEngine"
	EventPostStartEngine EventType = "PostStartEngine"
	EventPreCloseEngine  EventType = "PreCloseEngine"
	EventPostCloseEngine EventType = "PostCloseEngine"
)

// --- HookManager Interface and Implementation ---

// HookManager defines the interface for managing and triggering hooks.
type HookManager interface {
	// Register adds a listener for a specific event type.
	Register(eventType EventType, listener HookListener)
	// Trigger fires all registered listeners for a given event.
	// It handles synchronous vs. asynchronous execution based on the event type and listener preference.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for all asynchronous listeners to complete. Useful for graceful shutdown.
	Stop()
}

// HookEvent is the interface that all event objects must implement.
type HookEvent interface {
	// Type returns the type of the event.
	Type() EventType
	// Payload returns the data associated with the event.
	Payload() interface{}
}

// BaseEvent provides a base implementation for HookEvent.
type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// --- HookListener Interface ---

// HookListener defines the interface for components that want to listen to events.
type HookListener interface {
	// OnEvent is called by the HookManager when a registered event is triggered.
	// Returning an error from a "Pre" hook (e.g., PreWrite) cancels the operation.
	// Errors from "Post" hooks are logged without affecting the main operation.
	OnEvent(ctx context.Context, event HookEvent) error

	// Priority returns the listener's priority. Lower numbers are executed first.
	Priority() int

	// IsAsync indicates if the listener should be called asynchronously for Post-events.
	IsAsync() bool
}

// PreWritePayload contains the data for a PreWrite event.
// Region is a pointer so listeners can reroute the write to another WAL node.
type PreWritePayload struct {
	Region      *string
	EntryType   core.EntryType
	SearchIndex int64
}

// NewPreWriteEvent creates a new event for before a record is handed to a WAL node.
func NewPreWriteEvent(payload PreWritePayload) HookEvent {
	return &BaseEvent{eventType: EventPreWrite, payload: payload}
}

// PostWritePayload contains the outcome of a write once its flush listener resolved.
type PostWritePayload struct {
	Region      string
	EntryType   core.EntryType
	SearchIndex int64
	Duration    time.Duration
	Error       error
}

// NewPostWriteEvent creates a new event for after a record became durable (or failed).
func NewPostWriteEvent(payload PostWritePayload) HookEvent {
	return &BaseEvent{eventType: EventPostWrite, payload: payload}
}

// WALLifecyclePayload identifies the WAL node an open or close event refers to.
type WALLifecyclePayload struct {
	Node string
	Dir  string
}

// NewPostWALOpenEvent creates an event for after a WAL node started its workers.
func NewPostWALOpenEvent(payload WALLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPostWALOpen, payload: payload}
}

// NewPreCloseWALEvent creates an event for before a WAL node begins shutting down.
func NewPreCloseWALEvent(payload WALLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPreCloseWAL, payload: payload}
}

// NewPostCloseWALEvent creates an event for after a WAL node released its buffers.
func NewPostCloseWALEvent(payload WALLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPostCloseWAL, payload: payload}
}

// PostWALFlushPayload describes one batch handed from the serializer to the syncer.
type PostWALFlushPayload struct {
	Node        string
	Entries     int
	Bytes       int
	SearchIndex int64
	Forced      bool
	Error       error
}

// NewPostWALFlushEvent creates an event for after a forced batch was written and synced.
func NewPostWALFlushEvent(payload PostWALFlushPayload) HookEvent {
	return &BaseEvent{eventType: EventPostWALFlush, payload: payload}
}

// PostWALRotatePayload contains information about a WAL rotation.
type PostWALRotatePayload struct {
	Node               string
	OldSegmentVersion  uint64
	NewSegmentVersion  uint64
	NewSegmentPath     string
	WatermarkSearchIdx int64
}

// NewPostWALRotateEvent creates an event for after the WAL has been rotated to a new segment.
func NewPostWALRotateEvent(payload PostWALRotatePayload) HookEvent {
	return &BaseEvent{eventType: EventPostWALRotate, payload: payload}
}

// ReadOnlyPayload carries the persistence failure that degraded the process.
type ReadOnlyPayload struct {
	Node  string
	Cause error
}

// NewOnReadOnlyEvent creates an event for the read-only transition.
func NewOnReadOnlyEvent(payload ReadOnlyPayload) HookEvent {
	return &BaseEvent{eventType: EventOnReadOnly, payload: payload}
}

// EngineLifecyclePayload is used for engine start/close events.
type EngineLifecyclePayload struct {
	DataDir string
}

// NewPreStartEngineEvent creates an event for before the engine starts.
func NewPreStartEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPreStartEngine, payload: payload}
}

// NewPostStartEngineEvent creates an event for after the engine has started.
func NewPostStartEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPostStartEngine, payload: payload}
}

// NewPreCloseEngineEvent creates an event for before the engine closes.
func NewPreCloseEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPreCloseEngine, payload: payload}
}

// NewPostCloseEngineEvent creates an event for after the engine has closed.
func NewPostCloseEngineEvent(payload EngineLifecyclePayload) HookEvent {
	return &BaseEvent{eventType: EventPostCloseEngine, payload: payload}
}

// listenerWithPriority wraps a listener with its priority for heap management.
type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// The map stores slices of listeners, kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup // For tracking async listeners
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		// Default to a discard logger to prevent nil panics if no logger is provided.
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	// Get the existing slice of listeners for this event type.
	l := m.listeners[eventType]

	// Find the correct insertion index to maintain sorted order.
	// sort.Search finds the first index i where l[i].priority >= item.priority.
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority >= item.priority
	})

	// Optimized insertion to reduce re-allocations.
	// Append a zero value to the slice, which might grow the slice once.
	l = append(l, nil)
	// Shift elements to make space for the new item.
	copy(l[idx+1:], l[idx:])
	// Insert the new item at the correct position.
	l[idx] = item // Insert the new item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners, ok := m.listeners[event.Type()]
	m.mu.RUnlock()

	if !ok || len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		// Pre-hooks MUST be synchronous to allow for cancellation.
		// Post-hooks can be sync or async based on the listener's preference.
		if isPreHook || !isListenerAsync {
			// --- Synchronous Execution ---
			if isPreHook && isListenerAsync {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}

			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					// For Pre-hooks, the error is critical and cancels the operation.
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				// For synchronous Post-hooks, we just log the error and continue.
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
		} else {
			// --- Asynchronous Execution --- (Only for Post-hooks that return IsAsync() == true)
			m.wg.Add(1)
			// Pass item as an argument to the closure to capture its current value.
			go func(currentItem *listenerWithPriority) {
				defer m.wg.Done()
				if err := currentItem.listener.OnEvent(ctx, event); err != nil {
					m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
				}
			}(item)
		}
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
