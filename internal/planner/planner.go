// Package planner groups a dependency graph into ordered phases of tasks
// that may safely run concurrently.
package planner

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/ShayCichocki/taskweave/internal/graph"
	"github.com/ShayCichocki/taskweave/pkg/models"
)

// Plan layers the graph with Kahn's algorithm. Phase 0 holds every task
// with no dependencies; phase k holds the tasks whose dependencies all sit
// in phases 0..k-1. Each task's Phase is assigned and frozen.
func Plan(g *graph.DependencyGraph) ([]models.Phase, error) {
	if g == nil || g.Size() == 0 {
		return nil, nil
	}

	indegree := make(map[string]int, g.Size())
	for _, id := range g.IDs() {
		indegree[id] = len(g.Dependencies(id))
	}

	var ready []string
	for _, id := range g.IDs() {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	var phases []models.Phase
	placed := 0
	for len(ready) > 0 {
		order(g, ready)

		phase := models.Phase{Index: len(phases), TaskIDs: ready}
		phases = append(phases, phase)
		placed += len(ready)

		var next []string
		for _, id := range ready {
			for _, dependent := range g.Dependents(id) {
				indegree[dependent]--
				if indegree[dependent] == 0 {
					next = append(next, dependent)
				}
			}
		}
		ready = next
	}

	if placed != g.Size() {
		// Only reachable for graphs whose cycle check was bypassed.
		var stuck []string
		for _, id := range g.IDs() {
			if indegree[id] > 0 {
				stuck = append(stuck, id)
			}
		}
		return nil, &graph.CycleError{TaskIDs: stuck}
	}

	for _, phase := range phases {
		for _, id := range phase.TaskIDs {
			task := g.Task(id)
			task.AssignPhase(phase.Index)
			task.Freeze()
		}
	}

	return phases, nil
}

// order sorts ids in place: priority descending, then number of direct
// dependents descending, then natural id order.
func order(g *graph.DependencyGraph, ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := g.Task(ids[i]), g.Task(ids[j])
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		da, db := len(g.Dependents(a.ID)), len(g.Dependents(b.ID))
		if da != db {
			return da > db
		}
		return NaturalLess(a.ID, b.ID)
	})
}

var trailingNumber = regexp.MustCompile(`^(.*?)(\d+)$`)

// NaturalLess compares ids so that "task-2" sorts before "task-10".
func NaturalLess(a, b string) bool {
	ma, mb := trailingNumber.FindStringSubmatch(a), trailingNumber.FindStringSubmatch(b)
	if ma != nil && mb != nil && ma[1] == mb[1] {
		na, errA := strconv.Atoi(ma[2])
		nb, errB := strconv.Atoi(mb[2])
		if errA == nil && errB == nil && na != nb {
			return na < nb
		}
	}
	return a < b
}

// Validate checks that phases partition the graph's tasks and that every
// dependency of a task lies in a strictly lower phase.
func Validate(phases []models.Phase, g *graph.DependencyGraph) error {
	phaseOf := make(map[string]int, g.Size())
	for i, phase := range phases {
		if phase.Index != i {
			return fmt.Errorf("phase at position %d has index %d", i, phase.Index)
		}
		for _, id := range phase.TaskIDs {
			if g.Task(id) == nil {
				return fmt.Errorf("phase %d: unknown task %s", i, id)
			}
			if prev, dup := phaseOf[id]; dup {
				return fmt.Errorf("task %s appears in phases %d and %d", id, prev, i)
			}
			phaseOf[id] = i
		}
	}

	if len(phaseOf) != g.Size() {
		return fmt.Errorf("phases cover %d of %d tasks", len(phaseOf), g.Size())
	}

	for id, p := range phaseOf {
		for _, dep := range g.Dependencies(id) {
			if phaseOf[dep] >= p {
				return fmt.Errorf("task %s in phase %d depends on %s in phase %d", id, p, dep, phaseOf[dep])
			}
		}
	}
	return nil
}
