// Package engine executes planned phases of tasks against a collaborator
// under a concurrency limit, with retry, per-call timeouts and cooperative
// cancellation.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/ShayCichocki/taskweave/internal/collab"
	"github.com/ShayCichocki/taskweave/internal/contextmgr"
	"github.com/ShayCichocki/taskweave/pkg/models"
)

var (
	// ErrPhaseFailed is returned by Execute when PolicyAbortOnPhaseFailure
	// stopped the run.
	ErrPhaseFailed = errors.New("phase failed")
	// ErrAlreadyExecuted is returned when Execute is called a second time.
	ErrAlreadyExecuted = errors.New("engine already executed")
	// ErrInvalidPlan is returned when phases do not match the task set.
	ErrInvalidPlan = errors.New("invalid plan")
)

// RunSummary reports the outcome of Execute.
type RunSummary struct {
	Total           int           `json:"total" yaml:"total"`
	Completed       int           `json:"completed" yaml:"completed"`
	Failed          int           `json:"failed" yaml:"failed"`
	Cancelled       int           `json:"cancelled" yaml:"cancelled"`
	Phases          int           `json:"phases" yaml:"phases"`
	PeakConcurrency int           `json:"peak_concurrency" yaml:"peak_concurrency"`
	Duration        time.Duration `json:"duration" yaml:"duration"`
}

// Engine runs one execution. Create a new Engine per run.
type Engine struct {
	collab  collab.Collaborator
	opts    options
	logger  *slog.Logger
	shared  *contextmgr.Manager
	results *ResultStore
	events  *emitter

	// mu guards tasks, running, peak and cancelRun.
	mu        sync.Mutex
	tasks     map[string]*models.Task
	order     []string
	running   int
	peak      int
	cancelRun context.CancelFunc
	started   bool

	cancelOnce sync.Once
	cancelCh   chan struct{}
}

// New creates an Engine that calls c for every task.
func New(c collab.Collaborator, opts ...Option) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With("component", "engine")

	shared := o.contextManager
	if shared == nil {
		shared = contextmgr.New()
	}

	return &Engine{
		collab:   c,
		opts:     o,
		logger:   logger,
		shared:   shared,
		results:  NewResultStore(o.resultLimit),
		events:   newEmitter(o.eventBuffer, logger),
		tasks:    make(map[string]*models.Task),
		cancelCh: make(chan struct{}),
	}
}

// Results returns the Result Store.
func (e *Engine) Results() *ResultStore {
	return e.results
}

// Events returns the event stream. It is closed when Execute returns.
func (e *Engine) Events() <-chan Event {
	return e.events.events
}

// SharedContext returns the run's shared context.
func (e *Engine) SharedContext() *contextmgr.Manager {
	return e.shared
}

// Status returns a snapshot of every task's status.
func (e *Engine) Status() map[string]models.TaskStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[string]models.TaskStatus, len(e.tasks))
	for id, t := range e.tasks {
		out[id] = t.Status
	}
	return out
}

// CancelAll raises the global cancellation signal. No pending task is
// dispatched afterwards and in-flight calls are abandoned. Safe to call
// more than once and from any goroutine.
func (e *Engine) CancelAll() {
	e.cancelOnce.Do(func() {
		e.logger.Info("cancellation requested")
		close(e.cancelCh)
	})
	e.mu.Lock()
	cancel := e.cancelRun
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (e *Engine) cancelled() bool {
	select {
	case <-e.cancelCh:
		return true
	default:
		return false
	}
}

// Execute runs phases in ascending order and blocks until every task is
// terminal. Tasks must be pending. Cancellation is reported through task
// status, not as an error.
func (e *Engine) Execute(ctx context.Context, tasks []*models.Task, phases []models.Phase) (*RunSummary, error) {
	start := time.Now()

	defer e.events.close()
	if err := e.load(tasks, phases); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	e.mu.Lock()
	e.cancelRun = cancel
	e.mu.Unlock()
	if e.cancelled() {
		cancel()
	}
	stop := context.AfterFunc(ctx, e.CancelAll)
	defer stop()

	e.logger.Info("execution started", "tasks", len(tasks), "phases", len(phases),
		"max_concurrency", e.opts.maxConcurrency, "policy", e.opts.policy.String())

	var runErr error
	for _, phase := range phases {
		if runErr != nil || e.cancelled() || runCtx.Err() != nil {
			e.cancelPending(phase)
			continue
		}

		failed := e.runPhase(runCtx, phase)

		if failed > 0 && e.opts.policy == PolicyAbortOnPhaseFailure {
			runErr = fmt.Errorf("phase %d: %d task(s) failed: %w", phase.Index, failed, ErrPhaseFailed)
			e.logger.Warn("aborting run after phase failure", "phase", phase.Index, "failed", failed)
		}

		if e.opts.compressThreshold > 0 {
			if n := e.shared.Compress(e.opts.compressThreshold); n > 0 {
				e.logger.Debug("compressed shared context", "evicted", n, "size", e.shared.Size())
			}
		}
	}

	summary := e.summarize(len(phases), time.Since(start))
	e.events.emit(Event{Type: EventRunDone, Message: fmt.Sprintf("%d completed, %d failed, %d cancelled",
		summary.Completed, summary.Failed, summary.Cancelled)})
	e.logger.Info("execution finished", "completed", summary.Completed, "failed", summary.Failed,
		"cancelled", summary.Cancelled, "duration", summary.Duration)

	return summary, runErr
}

// load indexes tasks and checks that phases cover them exactly once.
func (e *Engine) load(tasks []*models.Task, phases []models.Phase) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.started {
		return ErrAlreadyExecuted
	}

	index := make(map[string]*models.Task, len(tasks))
	for _, t := range tasks {
		if _, dup := index[t.ID]; dup {
			return fmt.Errorf("%w: duplicate task %s", ErrInvalidPlan, t.ID)
		}
		if t.Status == "" {
			t.Status = models.TaskStatusPending
		}
		if t.Status != models.TaskStatusPending {
			return fmt.Errorf("%w: task %s is %s, not pending", ErrInvalidPlan, t.ID, t.Status)
		}
		index[t.ID] = t
	}

	seen := make(map[string]bool, len(tasks))
	var order []string
	for _, phase := range phases {
		for _, id := range phase.TaskIDs {
			if index[id] == nil {
				return fmt.Errorf("%w: phase %d references unknown task %s", ErrInvalidPlan, phase.Index, id)
			}
			if seen[id] {
				return fmt.Errorf("%w: task %s appears in more than one phase", ErrInvalidPlan, id)
			}
			seen[id] = true
			order = append(order, id)
		}
	}
	if len(seen) != len(index) {
		return fmt.Errorf("%w: phases cover %d of %d tasks", ErrInvalidPlan, len(seen), len(index))
	}

	e.started = true
	e.tasks = index
	e.order = order
	return nil
}

// runPhase dispatches a phase to a bounded pool of workers and waits for
// every task to be terminal. It returns the number of failed tasks.
func (e *Engine) runPhase(ctx context.Context, phase models.Phase) int {
	e.events.emit(Event{Type: EventPhaseStarted, Phase: phase.Index,
		Message: fmt.Sprintf("%d task(s)", len(phase.TaskIDs))})

	// Tasks in this phase see the shared context as of the phase start.
	shared := e.shared.Snapshot()

	jobs := make(chan string, len(phase.TaskIDs))
	for _, id := range phase.TaskIDs {
		jobs <- id
	}
	close(jobs)

	workers := min(e.opts.maxConcurrency, len(phase.TaskIDs))
	var wg conc.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Go(func() {
			for id := range jobs {
				e.runTask(ctx, id, phase.Index, shared)
			}
		})
	}
	wg.Wait()

	failed := 0
	e.mu.Lock()
	for _, id := range phase.TaskIDs {
		if e.tasks[id].Status == models.TaskStatusFailed {
			failed++
		}
	}
	e.mu.Unlock()

	e.events.emit(Event{Type: EventPhaseCompleted, Phase: phase.Index,
		Message: fmt.Sprintf("%d failed", failed)})
	return failed
}

// cancelPending finalizes every task of a phase that never ran.
func (e *Engine) cancelPending(phase models.Phase) {
	for _, id := range phase.TaskIDs {
		e.mu.Lock()
		task := e.tasks[id]
		if task.Status != models.TaskStatusPending {
			e.mu.Unlock()
			continue
		}
		result := &models.Result{TaskID: id, Status: models.TaskStatusPending}
		task.Result = result
		e.mu.Unlock()

		e.finalize(task, phase.Index, nil, models.TaskStatusCancelled, "", "cancelled before dispatch", 0)
	}
}

func (e *Engine) summarize(phases int, d time.Duration) *RunSummary {
	e.mu.Lock()
	defer e.mu.Unlock()

	s := &RunSummary{Total: len(e.tasks), Phases: phases, PeakConcurrency: e.peak, Duration: d}
	for _, t := range e.tasks {
		switch t.Status {
		case models.TaskStatusCompleted:
			s.Completed++
		case models.TaskStatusFailed:
			s.Failed++
		case models.TaskStatusCancelled:
			s.Cancelled++
		}
	}
	return s
}
