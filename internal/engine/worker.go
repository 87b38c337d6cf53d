package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/panics"

	"github.com/ShayCichocki/taskweave/internal/collab"
	"github.com/ShayCichocki/taskweave/internal/contextmgr"
	"github.com/ShayCichocki/taskweave/pkg/models"
)

// outcome is the result of a task's attempt loop.
type outcome struct {
	status   models.TaskStatus
	output   string
	err      string
	attempts int
}

// runTask dispatches one task: pending -> running, attempt loop, finalize.
func (e *Engine) runTask(ctx context.Context, id string, phase int, shared map[string]any) {
	e.mu.Lock()
	task := e.tasks[id]

	if e.cancelled() || ctx.Err() != nil {
		task.Result = &models.Result{TaskID: id, Status: models.TaskStatusPending}
		e.mu.Unlock()
		e.finalize(task, phase, nil, models.TaskStatusCancelled, "", "cancelled before dispatch", 0)
		return
	}

	if e.opts.policy == PolicySkipDependents {
		for _, dep := range task.Dependencies {
			d, ok := e.tasks[dep]
			if ok && d.Status != models.TaskStatusCompleted {
				task.Result = &models.Result{TaskID: id, Status: models.TaskStatusPending}
				e.mu.Unlock()
				e.finalize(task, phase, nil, models.TaskStatusFailed, "",
					fmt.Sprintf("dependency %s did not complete", dep), 0)
				return
			}
		}
	}

	if err := task.Transition(models.TaskStatusRunning); err != nil {
		e.mu.Unlock()
		e.logger.Error("dispatch rejected", "task_id", id, "error", err)
		return
	}
	e.running++
	if e.running > e.peak {
		e.peak = e.running
	}
	task.Result = &models.Result{TaskID: id, Status: models.TaskStatusRunning, StartedAt: time.Now()}
	started := copyResult(task.Result)

	depOutputs := make(map[string]string, len(task.Dependencies))
	for _, dep := range task.Dependencies {
		if d, ok := e.tasks[dep]; ok && d.Result != nil && d.Status == models.TaskStatusCompleted {
			depOutputs[dep] = d.Result.Output
		}
	}
	e.mu.Unlock()
	e.results.Put(started)

	e.events.emit(Event{Type: EventTaskStarted, TaskID: id, Phase: phase, Attempt: 1, Message: task.Title})
	e.logger.Debug("task started", "task_id", id, "phase", phase)

	tc := e.shared.NewTaskContext(task, depOutputs)

	var out outcome
	var pc panics.Catcher
	pc.Try(func() {
		out = e.attempt(ctx, task, phase, tc, shared, &out.attempts)
	})
	if r := pc.Recovered(); r != nil {
		e.logger.Error("task panicked", "task_id", id, "panic", r.Value)
		out.status = models.TaskStatusFailed
		out.err = fmt.Sprintf("panic: %v", r.Value)
		out.output = ""
	}

	e.finalize(task, phase, tc, out.status, out.output, out.err, out.attempts)
}

// attempt calls the collaborator until success, a non-retryable failure,
// exhaustion of the retry policy, or cancellation. attempts is updated as
// calls are made so a panic still reports them.
func (e *Engine) attempt(ctx context.Context, task *models.Task, phase int, tc *contextmgr.TaskContext, shared map[string]any, attempts *int) outcome {
	policy := e.opts.retry
	var prior string

	for n := 1; ; n++ {
		if e.cancelled() || ctx.Err() != nil {
			return outcome{status: models.TaskStatusCancelled, err: "cancelled", attempts: *attempts}
		}

		*attempts = n
		resp, err := e.call(ctx, collab.Request{
			TaskID:       task.ID,
			Title:        task.Title,
			Description:  task.Description,
			Context:      tc.Values(),
			Shared:       contextmgr.Clone(shared),
			PriorFailure: prior,
			Attempt:      n,
		})

		if err == nil {
			for k, v := range resp.Context {
				tc.Set(k, v)
			}
			tc.Set(contextmgr.OutputKey(task.ID), resp.Output)
			return outcome{status: models.TaskStatusCompleted, output: resp.Output, attempts: n}
		}

		if e.cancelled() || ctx.Err() != nil {
			return outcome{status: models.TaskStatusCancelled, err: "cancelled during call", attempts: n}
		}

		prior = err.Error()
		if !collab.IsRetryable(err) || n >= policy.MaxAttempts {
			e.logger.Warn("task attempt failed", "task_id", task.ID, "attempt", n, "final", true, "error", prior)
			return outcome{status: models.TaskStatusFailed, err: prior, attempts: n}
		}

		delay := policy.Backoff(n)
		e.logger.Info("retrying task", "task_id", task.ID, "attempt", n, "delay", delay, "error", prior)
		e.events.emit(Event{Type: EventTaskRetry, TaskID: task.ID, Phase: phase, Attempt: n, Message: prior})

		if !e.sleep(ctx, delay) {
			return outcome{status: models.TaskStatusCancelled, err: "cancelled during backoff", attempts: n}
		}
	}
}

// call makes one collaborator call bounded by the per-call timeout. A call
// that outlives its timeout is reported as a retryable failure.
func (e *Engine) call(ctx context.Context, req collab.Request) (collab.Response, error) {
	callCtx := ctx
	cancel := func() {}
	if e.opts.callTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, e.opts.callTimeout)
	}
	defer cancel()

	resp, err := e.collab.Call(callCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return resp, &collab.Error{
			Message:   fmt.Sprintf("call timed out after %s", e.opts.callTimeout),
			Retryable: true,
			Err:       context.DeadlineExceeded,
		}
	}
	return resp, err
}

// sleep waits for d, returning false if the run is cancelled first.
func (e *Engine) sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return !e.cancelled()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-e.cancelCh:
		return false
	case <-ctx.Done():
		return false
	}
}

// finalize moves a task to its terminal state, merges its context delta
// and records its final result. The shared context is only merged here.
func (e *Engine) finalize(task *models.Task, phase int, tc *contextmgr.TaskContext, status models.TaskStatus, output, errText string, attempts int) {
	e.mu.Lock()
	wasRunning := task.Status == models.TaskStatusRunning
	if err := task.Transition(status); err != nil {
		e.logger.Error("finalize rejected", "task_id", task.ID, "error", err)
	}
	if wasRunning {
		e.running--
	}

	result := task.Result
	if result == nil {
		result = &models.Result{TaskID: task.ID}
		task.Result = result
	}
	result.Output = output
	result.Error = errText
	result.Attempts = attempts
	if attempts > 1 {
		result.Retries = attempts - 1
	}
	result.Finalize(task.Status, time.Now())
	snapshot := copyResult(result)
	e.mu.Unlock()

	if tc != nil {
		e.shared.Merge(tc.Delta())
	}
	e.results.Put(snapshot)

	var typ EventType
	switch snapshot.Status {
	case models.TaskStatusCompleted:
		typ = EventTaskCompleted
	case models.TaskStatusFailed:
		typ = EventTaskFailed
	default:
		typ = EventTaskCancelled
	}
	e.events.emit(Event{Type: typ, TaskID: task.ID, Phase: phase, Attempt: attempts, Message: errText})
	e.events.emit(Event{Type: EventResult, TaskID: task.ID, Phase: phase, Attempt: attempts, Result: snapshot})

	e.logger.Info("task finished", "task_id", task.ID, "status", string(snapshot.Status),
		"attempts", attempts, "duration", snapshot.Duration)
}
