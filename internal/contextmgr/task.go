package contextmgr

import (
	"github.com/ShayCichocki/taskweave/pkg/models"
)

// Keys seeded into every task context.
const (
	KeyTaskID          = "task.id"
	KeyTaskTitle       = "task.title"
	KeyTaskDescription = "task.description"
	KeyTaskTags        = "task.tags"
	KeyTaskPhase       = "task.phase"
)

// DependencyOutputKey is the task-context key holding a dependency's output.
func DependencyOutputKey(id string) string {
	return "deps." + id + ".output"
}

// OutputKey is the shared-context key under which a completed task's
// output is merged.
func OutputKey(id string) string {
	return "outputs." + id
}

// TaskContext is the private context of one task execution. It is not safe
// for concurrent use; one worker owns it until the task is terminal.
type TaskContext struct {
	values map[string]any
	delta  map[string]any
}

// NewTaskContext seeds a task context from a snapshot of the shared context,
// the task's own fields, and the outputs of its dependencies.
func (m *Manager) NewTaskContext(task *models.Task, deps map[string]string) *TaskContext {
	values := m.Snapshot()
	values[KeyTaskID] = task.ID
	values[KeyTaskTitle] = task.Title
	values[KeyTaskDescription] = task.Description
	values[KeyTaskTags] = append([]string(nil), task.Tags...)
	values[KeyTaskPhase] = task.Phase
	for id, out := range deps {
		values[DependencyOutputKey(id)] = out
	}
	return &TaskContext{values: values, delta: make(map[string]any)}
}

// Set stores a value and records it in the delta.
func (c *TaskContext) Set(key string, value any) {
	c.values[key] = value
	c.delta[key] = value
}

// Get returns the value under key.
func (c *TaskContext) Get(key string) (any, bool) {
	v, ok := c.values[key]
	return v, ok
}

// Values returns a deep copy of every key visible to the task.
func (c *TaskContext) Values() map[string]any {
	return copyMap(c.values)
}

// Delta returns a copy of the keys set since seeding.
func (c *TaskContext) Delta() map[string]any {
	return copyMap(c.delta)
}
