package orchestrator

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Notifier receives every broadcastable change: StageEvent, StatusUpdate,
// MemoryAdded and InteractionAdded values. Notify must not block.
type Notifier interface {
	Notify(msg any)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(msg any)

// Notify calls f(msg).
func (f NotifierFunc) Notify(msg any) { f(msg) }

type nopNotifier struct{}

func (nopNotifier) Notify(any) {}

// EventEmitter is a Notifier backed by a buffered channel.
// When the buffer is full the message is dropped; Emit never waits.
type EventEmitter struct {
	events       chan any
	droppedCount atomic.Uint64
	logger       *zap.Logger
	onDrop       func()

	mu     sync.RWMutex
	closed bool
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
// onDrop, when non-nil, is called for every dropped message.
func NewEventEmitter(bufferSize int, logger *zap.Logger, onDrop func()) *EventEmitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventEmitter{
		events: make(chan any, bufferSize),
		logger: logger,
		onDrop: onDrop,
	}
}

// Notify implements Notifier.
func (e *EventEmitter) Notify(msg any) {
	e.Emit(msg)
}

// Emit sends msg to the events channel. Messages emitted after Close are discarded.
func (e *EventEmitter) Emit(msg any) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.events <- msg:
	default:
		count := e.droppedCount.Add(1)
		if e.onDrop != nil {
			e.onDrop()
		}
		// Log every 10th drop.
		if count%10 == 1 {
			e.logger.Warn("broadcast channel full, dropped message",
				zap.Uint64("total_dropped", count),
				zap.String("type", messageType(msg)))
		}
	}
}

// DroppedCount returns the total number of messages that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of messages.
func (e *EventEmitter) Events() <-chan any {
	return e.events
}

// Close closes the events channel. It is safe to call more than once.
func (e *EventEmitter) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}

func messageType(msg any) string {
	switch m := msg.(type) {
	case StageEvent:
		return m.WireType()
	case StatusUpdate:
		return WireAgentStatusUpdate
	case MemoryAdded:
		return WireMemoryAdded
	case InteractionAdded:
		return WireInteractionAdded
	default:
		return "unknown"
	}
}
