package engine

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ShayCichocki/taskweave/pkg/models"
)

// EventType represents the type of engine event.
type EventType string

const (
	// EventPhaseStarted indicates a phase began dispatching.
	EventPhaseStarted EventType = "phase_started"
	// EventPhaseCompleted indicates every task in a phase is terminal.
	EventPhaseCompleted EventType = "phase_completed"
	// EventTaskStarted indicates a task moved to running.
	EventTaskStarted EventType = "task_started"
	// EventTaskRetry indicates an attempt failed and will be retried.
	EventTaskRetry EventType = "task_retry"
	// EventTaskCompleted indicates a task completed successfully.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventTaskCancelled indicates a task was cancelled.
	EventTaskCancelled EventType = "task_cancelled"
	// EventResult carries a finalized Execution Result.
	EventResult EventType = "result"
	// EventRunDone indicates Execute is returning.
	EventRunDone EventType = "run_done"
)

// Event is emitted as the engine makes progress.
type Event struct {
	Type    EventType
	TaskID  string
	Phase   int
	Attempt int
	// Result is a copy of the finalized result for EventResult.
	Result  *models.Result
	Message string
	// Timestamp is when the event occurred.
	Timestamp time.Time
}

// emitter delivers events without letting a slow reader stall workers.
type emitter struct {
	mu           sync.RWMutex
	events       chan Event
	closed       bool
	droppedCount atomic.Uint64
	logger       *slog.Logger
}

func newEmitter(bufferSize int, logger *slog.Logger) *emitter {
	return &emitter{
		events: make(chan Event, bufferSize),
		logger: logger,
	}
}

// emit sends an event. If the channel is full it waits briefly before
// dropping the event.
func (e *emitter) emit(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed || cap(e.events) == 0 {
		return
	}

	select {
	case e.events <- event:
		return
	default:
	}

	timer := time.NewTimer(100 * time.Millisecond)
	defer timer.Stop()
	select {
	case e.events <- event:
	case <-timer.C:
		count := e.droppedCount.Add(1)
		if count%10 == 1 {
			e.logger.Warn("event channel full, dropped event", "dropped", count, "type", string(event.Type))
		}
	}
}

func (e *emitter) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.closed {
		e.closed = true
		close(e.events)
	}
}

// DroppedEvents returns how many events were dropped because nobody was
// reading.
func (e *Engine) DroppedEvents() uint64 {
	return e.events.droppedCount.Load()
}
