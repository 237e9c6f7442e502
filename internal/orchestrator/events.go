package orchestrator

import (
	"log"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/flowline/pkg/models"
)

// EventType identifies the kind of engine event.
type EventType string

const (
	// EventRunStarted is emitted when a run begins executing.
	EventRunStarted EventType = "run_started"
	// EventRunFinished is emitted when a run reaches a terminal state.
	EventRunFinished EventType = "run_finished"
	// EventTaskQueued is emitted when a task enters a batch.
	EventTaskQueued EventType = "task_queued"
	// EventTaskStarted is emitted when a task attempt begins.
	EventTaskStarted EventType = "task_started"
	// EventTaskRetrying is emitted before a retry attempt.
	EventTaskRetrying EventType = "task_retrying"
	// EventTaskFinished is emitted when a task reaches a terminal outcome.
	EventTaskFinished EventType = "task_finished"
	// EventTaskSkipped is emitted when a task is skipped due to a failed
	// dependency.
	EventTaskSkipped EventType = "task_skipped"
)

// Event is a progress notification from the engine.
type Event struct {
	Type      EventType
	RunID     string
	TaskID    string
	Outcome   models.Outcome
	Attempt   int
	Message   string
	Timestamp time.Time
}

// EventEmitter handles event emission for the engine.
// It provides a simple, thread-safe way to emit events to subscribers.
type EventEmitter struct {
	events       chan Event
	droppedCount atomic.Uint64
}

// NewEventEmitter creates a new EventEmitter with the given buffer size.
func NewEventEmitter(bufferSize int) *EventEmitter {
	return &EventEmitter{
		events: make(chan Event, bufferSize),
	}
}

// Emit sends an event to the events channel.
// If the channel is full, it tries with a timeout before dropping the event.
func (e *EventEmitter) Emit(event Event) {
	select {
	case e.events <- event:
		return
	default:
		// Channel full, try with timeout.
	}

	select {
	case e.events <- event:
		return
	case <-time.After(100 * time.Millisecond):
		count := e.droppedCount.Add(1)
		if count%10 == 1 { // Log every 10th drop to avoid spam
			log.Printf("[engine] WARNING: event channel full, dropped event (total dropped: %d): type=%s", count, event.Type)
		}
	}
}

// DroppedCount returns the total number of events that have been dropped.
func (e *EventEmitter) DroppedCount() uint64 {
	return e.droppedCount.Load()
}

// Events returns a read-only channel of events for subscribers.
func (e *EventEmitter) Events() <-chan Event {
	return e.events
}

// Close closes the events channel.
// This should be called when the engine is stopped.
func (e *EventEmitter) Close() {
	close(e.events)
}
