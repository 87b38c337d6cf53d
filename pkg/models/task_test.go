package models

import (
	"errors"
	"testing"
	"time"
)

func TestTaskStatus_Valid(t *testing.T) {
	tests := []struct {
		name   string
		status TaskStatus
		want   bool
	}{
		{"pending is valid", TaskStatusPending, true},
		{"running is valid", TaskStatusRunning, true},
		{"completed is valid", TaskStatusCompleted, true},
		{"failed is valid", TaskStatusFailed, true},
		{"cancelled is valid", TaskStatusCancelled, true},
		{"empty string is invalid", TaskStatus(""), false},
		{"unknown status is invalid", TaskStatus("unknown"), false},
		{"british spelling only", TaskStatus("canceled"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.status.Valid(); got != tt.want {
				t.Errorf("TaskStatus(%q).Valid() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_Terminal(t *testing.T) {
	tests := []struct {
		status TaskStatus
		want   bool
	}{
		{TaskStatusPending, false},
		{TaskStatusRunning, false},
		{TaskStatusCompleted, true},
		{TaskStatusFailed, true},
		{TaskStatusCancelled, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			if got := tt.status.Terminal(); got != tt.want {
				t.Errorf("TaskStatus(%q).Terminal() = %v, want %v", tt.status, got, tt.want)
			}
		})
	}
}

func TestTaskStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskStatusPending, TaskStatusRunning, true},
		{TaskStatusPending, TaskStatusCancelled, true},
		{TaskStatusPending, TaskStatusFailed, true},
		{TaskStatusPending, TaskStatusCompleted, false},
		{TaskStatusRunning, TaskStatusCompleted, true},
		{TaskStatusRunning, TaskStatusFailed, true},
		{TaskStatusRunning, TaskStatusCancelled, true},
		{TaskStatusRunning, TaskStatusPending, false},
		{TaskStatusCompleted, TaskStatusRunning, false},
		{TaskStatusFailed, TaskStatusRunning, false},
		{TaskStatusCancelled, TaskStatusPending, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.want {
				t.Errorf("%s.CanTransition(%s) = %v, want %v", tt.from, tt.to, got, tt.want)
			}
		})
	}
}

func TestTask_Transition(t *testing.T) {
	task := &Task{ID: "task-1", Status: TaskStatusPending}

	if err := task.Transition(TaskStatusRunning); err != nil {
		t.Fatalf("pending -> running: %v", err)
	}
	if err := task.Transition(TaskStatusCompleted); err != nil {
		t.Fatalf("running -> completed: %v", err)
	}

	err := task.Transition(TaskStatusRunning)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("completed -> running: expected ErrInvalidTransition, got %v", err)
	}
	if task.Status != TaskStatusCompleted {
		t.Errorf("status changed on rejected transition: %s", task.Status)
	}
}

func TestTask_AssignPhaseFrozen(t *testing.T) {
	task := &Task{ID: "task-1"}

	task.AssignPhase(2)
	if task.Phase != 2 {
		t.Fatalf("Phase = %d, want 2", task.Phase)
	}

	task.Freeze()
	task.AssignPhase(5)
	if task.Phase != 2 {
		t.Errorf("Phase changed after Freeze: %d", task.Phase)
	}
	if !task.Planned() {
		t.Error("Planned() = false after Freeze")
	}
}

func TestTask_Clone(t *testing.T) {
	task := &Task{ID: "task-1", Dependencies: []string{"a"}, Tags: []string{"ui"}}
	c := task.Clone()
	c.Dependencies[0] = "b"
	c.Tags = append(c.Tags, "feature")

	if task.Dependencies[0] != "a" {
		t.Error("Clone shares Dependencies backing array")
	}
	if len(task.Tags) != 1 {
		t.Error("Clone shares Tags")
	}
	if !c.HasTag("feature") || task.HasTag("feature") {
		t.Error("HasTag mismatch after clone")
	}
}

func TestResult_Finalize(t *testing.T) {
	start := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	r := &Result{TaskID: "task-1", Status: TaskStatusRunning, StartedAt: start}

	if r.Done() {
		t.Fatal("running result reported Done")
	}

	r.Finalize(TaskStatusCompleted, start.Add(3*time.Second))

	if !r.Done() {
		t.Error("finalized result not Done")
	}
	if r.Duration != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", r.Duration)
	}
	if r.FinishedAt == nil || !r.FinishedAt.Equal(start.Add(3*time.Second)) {
		t.Errorf("FinishedAt = %v", r.FinishedAt)
	}
}
