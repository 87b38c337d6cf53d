package graph

import (
	"errors"
	"sort"
	"testing"

	"github.com/ShayCichocki/taskweave/pkg/models"
)

func TestBuildSimple(t *testing.T) {
	tasks := []*models.Task{
		{ID: "task-1", Title: "Task 1", Status: models.TaskStatusPending},
		{ID: "task-2", Title: "Task 2", Status: models.TaskStatusPending},
		{ID: "task-3", Title: "Task 3", Status: models.TaskStatusPending},
	}

	g, err := Build(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 3 {
		t.Errorf("expected size 3, got %d", g.Size())
	}
	if ids := g.IDs(); ids[0] != "task-1" || ids[2] != "task-3" {
		t.Errorf("insertion order not preserved: %v", ids)
	}
}

func TestBuildWithDependencies(t *testing.T) {
	tasks := []*models.Task{
		{ID: "task-1", Title: "Task 1"},
		{ID: "task-2", Title: "Task 2", Dependencies: []string{"task-1"}},
		{ID: "task-3", Title: "Task 3", Dependencies: []string{"task-1", "task-2"}},
	}

	g, err := Build(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	deps := g.Dependencies("task-3")
	if len(deps) != 2 {
		t.Errorf("expected 2 dependencies for task-3, got %d", len(deps))
	}

	dependents := g.Dependents("task-1")
	sort.Strings(dependents)
	if len(dependents) != 2 || dependents[0] != "task-2" || dependents[1] != "task-3" {
		t.Errorf("expected dependents [task-2 task-3] of task-1, got %v", dependents)
	}
}

func TestBuildUnknownDependencyIsDropped(t *testing.T) {
	tasks := []*models.Task{
		{ID: "task-1", Title: "Task 1", Dependencies: []string{"unknown-task"}},
	}

	g, err := Build(tasks)
	if err != nil {
		t.Fatalf("unknown dependency should not be fatal: %v", err)
	}

	if len(g.Dependencies("task-1")) != 0 {
		t.Errorf("unknown dependency kept: %v", g.Dependencies("task-1"))
	}

	warnings := g.Warnings()
	if len(warnings) != 1 || warnings[0].Kind != WarnUnknownDependency || warnings[0].Ref != "unknown-task" {
		t.Errorf("expected one unknown_dependency warning, got %+v", warnings)
	}
}

func TestBuildSelfDependencyIsDropped(t *testing.T) {
	tasks := []*models.Task{
		{ID: "A", Dependencies: []string{"A"}},
	}

	g, err := Build(tasks)
	if err != nil {
		t.Fatalf("self dependency should be dropped, got %v", err)
	}
	if len(g.Warnings()) != 1 || g.Warnings()[0].Kind != WarnSelfDependency {
		t.Errorf("expected self_dependency warning, got %+v", g.Warnings())
	}
}

func TestBuildDuplicateIDKeepsFirst(t *testing.T) {
	first := &models.Task{ID: "A", Title: "first"}
	tasks := []*models.Task{first, {ID: "A", Title: "second"}}

	g, err := Build(tasks)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.Task("A") != first {
		t.Error("expected first task to win")
	}
	if g.Size() != 1 {
		t.Errorf("Size() = %d, want 1", g.Size())
	}
}

func TestCycleDetectionSimple(t *testing.T) {
	// A -> B -> A (direct cycle)
	tasks := []*models.Task{
		{ID: "A", Title: "Task A", Dependencies: []string{"B"}},
		{ID: "B", Title: "Task B", Dependencies: []string{"A"}},
	}

	g, err := Build(tasks)
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
	if g != nil {
		t.Error("expected nil graph on cycle")
	}

	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %T", err)
	}
	if !cycleErr.Contains("A") || !cycleErr.Contains("B") {
		t.Errorf("cycle should mention A and B, got %v", cycleErr.TaskIDs)
	}
}

func TestCycleDetectionLong(t *testing.T) {
	// A -> B -> C -> D -> B, plus an unrelated E
	tasks := []*models.Task{
		{ID: "A", Dependencies: []string{"B"}},
		{ID: "B", Dependencies: []string{"C"}},
		{ID: "C", Dependencies: []string{"D"}},
		{ID: "D", Dependencies: []string{"B"}},
		{ID: "E"},
	}

	_, err := Build(tasks)
	var cycleErr *CycleError
	if !errors.As(err, &cycleErr) {
		t.Fatalf("expected *CycleError, got %v", err)
	}

	for _, id := range []string{"B", "C", "D"} {
		if !cycleErr.Contains(id) {
			t.Errorf("cycle %v should contain %s", cycleErr.TaskIDs, id)
		}
	}
	if cycleErr.Contains("E") {
		t.Errorf("cycle %v should not contain E", cycleErr.TaskIDs)
	}
	if first, last := cycleErr.TaskIDs[0], cycleErr.TaskIDs[len(cycleErr.TaskIDs)-1]; first != last {
		t.Errorf("cycle path should be closed, got %v", cycleErr.TaskIDs)
	}
}

func TestNoCycleDiamond(t *testing.T) {
	//   A
	//  / \
	// B   C
	//  \ /
	//   D
	tasks := []*models.Task{
		{ID: "A"},
		{ID: "B", Dependencies: []string{"A"}},
		{ID: "C", Dependencies: []string{"A"}},
		{ID: "D", Dependencies: []string{"B", "C"}},
	}

	g, err := Build(tasks)
	if err != nil {
		t.Fatalf("diamond is acyclic: %v", err)
	}
	if g.HasCycle() {
		t.Error("HasCycle() = true for diamond")
	}
}

func TestFingerprint(t *testing.T) {
	build := func(title string) string {
		g, err := Build([]*models.Task{
			{ID: "A", Title: title},
			{ID: "B", Title: "b", Dependencies: []string{"A"}},
		})
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		return g.Fingerprint()
	}

	if build("a") != build("a") {
		t.Error("fingerprint not stable")
	}
	if build("a") == build("changed") {
		t.Error("fingerprint ignores title change")
	}
}
