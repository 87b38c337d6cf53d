// Package graph provides a dependency graph for task scheduling.
package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/zeebo/blake3"

	"github.com/ShayCichocki/taskweave/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// CycleError names the tasks on a detected dependency cycle.
type CycleError struct {
	// TaskIDs lists the cycle in dependency order, first element repeated last.
	TaskIDs []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.TaskIDs, " -> "))
}

// Unwrap lets errors.Is match ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// Contains reports whether id is on the cycle.
func (e *CycleError) Contains(id string) bool {
	for _, t := range e.TaskIDs {
		if t == id {
			return true
		}
	}
	return false
}

// WarningKind classifies a dropped reference.
type WarningKind string

const (
	WarnUnknownDependency WarningKind = "unknown_dependency"
	WarnSelfDependency    WarningKind = "self_dependency"
	WarnDuplicateTask     WarningKind = "duplicate_task"
)

// Warning records a reference that was dropped while building the graph.
type Warning struct {
	Kind   WarningKind
	TaskID string
	Ref    string
}

func (w Warning) String() string {
	switch w.Kind {
	case WarnSelfDependency:
		return fmt.Sprintf("task %s depends on itself; dropped", w.TaskID)
	case WarnDuplicateTask:
		return fmt.Sprintf("duplicate task id %s; keeping first", w.TaskID)
	default:
		return fmt.Sprintf("task %s depends on unknown task %s; dropped", w.TaskID, w.Ref)
	}
}

// DependencyGraph represents a directed acyclic graph of task dependencies.
// Tasks are nodes, and edges represent "must complete before" relationships.
// The graph indexes tasks by ID; it never copies them.
type DependencyGraph struct {
	// order preserves task insertion order.
	order []string
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on.
	edges map[string][]string
	// dependents maps task ID to IDs of tasks that depend on it.
	dependents map[string][]string
	warnings   []Warning
	logger     *slog.Logger
}

// Option configures Build.
type Option func(*DependencyGraph)

// WithLogger sets the logger used to report dropped references.
func WithLogger(l *slog.Logger) Option {
	return func(g *DependencyGraph) {
		if l != nil {
			g.logger = l
		}
	}
}

// Build constructs the dependency graph from a slice of tasks.
// Unknown and self dependencies are dropped with a warning. Returns a
// *CycleError if the remaining edges contain a cycle.
func Build(tasks []*models.Task, opts ...Option) (*DependencyGraph, error) {
	g := &DependencyGraph{
		nodes:      make(map[string]*models.Task, len(tasks)),
		edges:      make(map[string][]string, len(tasks)),
		dependents: make(map[string][]string, len(tasks)),
		logger:     slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(g)
	}

	// First pass: register all tasks as nodes.
	for _, task := range tasks {
		if _, exists := g.nodes[task.ID]; exists {
			g.warn(Warning{Kind: WarnDuplicateTask, TaskID: task.ID})
			continue
		}
		g.nodes[task.ID] = task
		g.order = append(g.order, task.ID)
	}

	// Second pass: build edges from Dependencies.
	for _, id := range g.order {
		task := g.nodes[id]
		seen := make(map[string]bool)
		for _, depID := range task.Dependencies {
			switch {
			case depID == id:
				g.warn(Warning{Kind: WarnSelfDependency, TaskID: id, Ref: depID})
				continue
			case g.nodes[depID] == nil:
				g.warn(Warning{Kind: WarnUnknownDependency, TaskID: id, Ref: depID})
				continue
			case seen[depID]:
				continue
			}
			seen[depID] = true
			g.edges[id] = append(g.edges[id], depID)
			g.dependents[depID] = append(g.dependents[depID], id)
		}
	}

	if cycle := g.findCycle(); cycle != nil {
		return nil, &CycleError{TaskIDs: cycle}
	}

	g.logger.Debug("graph built", "nodes", len(g.nodes), "warnings", len(g.warnings))
	return g, nil
}

func (g *DependencyGraph) warn(w Warning) {
	g.warnings = append(g.warnings, w)
	g.logger.Warn(w.String(), "kind", string(w.Kind), "task_id", w.TaskID)
}

// findCycle runs an iterative depth-first search with coloring and returns
// the first cycle found, or nil.
func (g *DependencyGraph) findCycle() []string {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // finished
	)

	type frame struct {
		id   string
		next int
	}

	colors := make(map[string]int, len(g.nodes))
	for _, root := range g.order {
		if colors[root] != white {
			continue
		}

		stack := []frame{{id: root}}
		colors[root] = gray

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			deps := g.edges[top.id]

			if top.next >= len(deps) {
				colors[top.id] = black
				stack = stack[:len(stack)-1]
				continue
			}

			depID := deps[top.next]
			top.next++

			switch colors[depID] {
			case gray:
				// Back edge: the cycle is the path from depID to top.
				var cycle []string
				for i := range stack {
					if stack[i].id == depID {
						for _, f := range stack[i:] {
							cycle = append(cycle, f.id)
						}
						break
					}
				}
				return append(cycle, depID)
			case white:
				colors[depID] = gray
				stack = append(stack, frame{id: depID})
			}
		}
	}

	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	return g.findCycle() != nil
}

// Task returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) Task(taskID string) *models.Task {
	return g.nodes[taskID]
}

// Tasks returns all tasks in insertion order.
func (g *DependencyGraph) Tasks() []*models.Task {
	tasks := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		tasks = append(tasks, g.nodes[id])
	}
	return tasks
}

// IDs returns all task IDs in insertion order.
func (g *DependencyGraph) IDs() []string {
	return append([]string(nil), g.order...)
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	return len(g.nodes)
}

// Dependencies returns the IDs of tasks that the given task depends on.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	return g.edges[taskID]
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *DependencyGraph) Dependents(taskID string) []string {
	return g.dependents[taskID]
}

// Warnings returns the references dropped during Build.
func (g *DependencyGraph) Warnings() []Warning {
	return append([]Warning(nil), g.warnings...)
}

// Fingerprint returns a stable hex digest of the node and edge sets.
// Two graphs over materially identical task sets share a fingerprint.
func (g *DependencyGraph) Fingerprint() string {
	ids := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	h := blake3.New()
	for _, id := range ids {
		task := g.nodes[id]
		deps := append([]string(nil), g.edges[id]...)
		sort.Strings(deps)
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%d\x00%s\n",
			id, task.Title, task.Description, task.Priority, strings.Join(deps, ","))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
