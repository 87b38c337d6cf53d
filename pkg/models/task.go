package models

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a status change is not allowed by
// the task state machine.
var ErrInvalidTransition = errors.New("invalid status transition")

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task has been dispatched to a collaborator.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusCompleted indicates the task completed successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed after exhausting retries.
	TaskStatusFailed TaskStatus = "failed"
	// TaskStatusCancelled indicates the task was abandoned by a cancellation request.
	TaskStatusCancelled TaskStatus = "cancelled"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal returns true if no further transitions are possible from s.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the state machine allows moving from s to next.
//
//	pending -> running | cancelled | failed
//	running -> completed | failed | cancelled
//
// pending -> failed exists for tasks the engine refuses to dispatch because a
// dependency did not complete.
func (s TaskStatus) CanTransition(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning || next == TaskStatusCancelled || next == TaskStatusFailed
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed || next == TaskStatusCancelled
	default:
		return false
	}
}

// Task represents an atomic unit of work.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id" yaml:"id"`
	// Title is the short description of the task.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Priority breaks ties within a phase. Higher values run earlier.
	Priority int `json:"priority" yaml:"priority"`
	// Dependencies lists task IDs that must complete before this task.
	Dependencies []string `json:"dependencies,omitempty" yaml:"dependencies,omitempty"`
	// Phase is assigned by the planner.
	Phase int `json:"phase" yaml:"phase"`
	// Tags are free-form labels used by prioritization heuristics.
	Tags []string `json:"tags,omitempty" yaml:"tags,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status" yaml:"status"`
	// EstimatedEffort is an opaque 1-5 size hint.
	EstimatedEffort int `json:"estimated_effort,omitempty" yaml:"estimated_effort,omitempty"`
	// Result is populated once the task reaches a terminal state.
	Result *Result `json:"result,omitempty" yaml:"result,omitempty"`

	planned bool
}

// Transition moves the task to next if the state machine allows it.
func (t *Task) Transition(next TaskStatus) error {
	if !t.Status.CanTransition(next) {
		return fmt.Errorf("task %s: %s -> %s: %w", t.ID, t.Status, next, ErrInvalidTransition)
	}
	t.Status = next
	return nil
}

// AssignPhase records the planner's phase. It is a no-op once planning
// has fixed the phase.
func (t *Task) AssignPhase(phase int) {
	if t.planned {
		return
	}
	t.Phase = phase
}

// Freeze marks the phase as final.
func (t *Task) Freeze() {
	t.planned = true
}

// Planned reports whether the planner has fixed this task's phase.
func (t *Task) Planned() bool {
	return t.planned
}

// HasTag reports whether the task carries tag.
func (t *Task) HasTag(tag string) bool {
	for _, tg := range t.Tags {
		if tg == tag {
			return true
		}
	}
	return false
}

// Clone returns a copy of the task with its own slices. The result pointer
// is shared.
func (t *Task) Clone() *Task {
	c := *t
	c.Dependencies = append([]string(nil), t.Dependencies...)
	c.Tags = append([]string(nil), t.Tags...)
	return &c
}

// Result is the outcome of executing one task.
type Result struct {
	// TaskID is the task this result belongs to.
	TaskID string `json:"task_id" yaml:"task_id"`
	// Status is the task status when the result was recorded.
	Status TaskStatus `json:"status" yaml:"status"`
	// Output is the collaborator payload on success.
	Output string `json:"output,omitempty" yaml:"output,omitempty"`
	// Error contains the last failure detail.
	Error string `json:"error,omitempty" yaml:"error,omitempty"`
	// Attempts is the number of collaborator calls made.
	Attempts int `json:"attempts" yaml:"attempts"`
	// Retries is the number of calls made after the first one.
	Retries int `json:"retries" yaml:"retries"`
	// StartedAt is when the task transitioned to running.
	StartedAt time.Time `json:"started_at" yaml:"started_at"`
	// FinishedAt is when the task reached a terminal state.
	FinishedAt *time.Time `json:"finished_at,omitempty" yaml:"finished_at,omitempty"`
	// Duration is the wall-clock time between start and finish.
	Duration time.Duration `json:"duration" yaml:"duration"`
}

// Finalize stamps the terminal status and timing on r.
func (r *Result) Finalize(status TaskStatus, at time.Time) {
	r.Status = status
	r.FinishedAt = &at
	if !r.StartedAt.IsZero() {
		r.Duration = at.Sub(r.StartedAt)
	}
}

// Done returns true once the result has a terminal status.
func (r *Result) Done() bool {
	return r.Status.Terminal()
}

// Phase is an ordered batch of task IDs that may run concurrently.
type Phase struct {
	// Index is the zero-based position of the phase in the plan.
	Index int `json:"index" yaml:"index"`
	// TaskIDs are ordered by scheduling preference.
	TaskIDs []string `json:"task_ids" yaml:"task_ids"`
}
