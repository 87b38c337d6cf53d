package store

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/ShayCichocki/taskweave/pkg/models"
)

func tempDBPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "test.db")
}

func setupTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(tempDBPath(t), "")
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	if err := db.Migrate(); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestOpen_CreatesParentDirectories(t *testing.T) {
	nested := filepath.Join(t.TempDir(), "a", "b")
	path := filepath.Join(nested, "test.db")

	db, err := Open(path, DriverModernc)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer db.Close()

	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
	if db.Driver() != DriverModernc {
		t.Errorf("Driver() = %q, want %q", db.Driver(), DriverModernc)
	}
	if _, err := os.Stat(nested); os.IsNotExist(err) {
		t.Errorf("parent directories not created: %s", nested)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := Open(tempDBPath(t), "postgres")
	if !errors.Is(err, ErrUnknownDriver) {
		t.Errorf("Open with unknown driver: got %v, want ErrUnknownDriver", err)
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	db := setupTestDB(t)
	if err := db.Migrate(); err != nil {
		t.Fatalf("second Migrate failed: %v", err)
	}

	for _, table := range []string{"schema_version", "runs", "tasks", "results"} {
		var count int
		row := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&count); err != nil {
			t.Errorf("failed to check table %s: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %s does not exist", table)
		}
	}

	var version int
	if err := db.QueryRow("SELECT MAX(version) FROM schema_version").Scan(&version); err != nil {
		t.Fatal(err)
	}
	if version != 3 {
		t.Errorf("schema version = %d, want 3", version)
	}
}

func sampleRun(t *testing.T) ([]*models.Task, []*models.Result) {
	t.Helper()
	started := time.Date(2024, 5, 1, 10, 0, 0, 123456789, time.UTC)
	finished := started.Add(1500 * time.Millisecond)

	tasks := []*models.Task{
		{ID: "task-1", Title: "Set up database", Priority: 5, Tags: []string{"foundation"},
			Phase: 0, Status: models.TaskStatusCompleted, EstimatedEffort: 2},
		{ID: "task-2", Title: "Build API", Description: "REST endpoints", Priority: 3,
			Dependencies: []string{"task-1"}, Phase: 1, Status: models.TaskStatusFailed},
		{ID: "task-3", Title: "Write docs", Priority: 1,
			Dependencies: []string{"task-2"}, Phase: 2, Status: models.TaskStatusCancelled},
	}
	for _, task := range tasks {
		task.Freeze()
	}

	results := []*models.Result{
		{TaskID: "task-1", Status: models.TaskStatusCompleted, Output: "schema.sql\nCREATE TABLE x;", Attempts: 1,
			StartedAt: started, FinishedAt: &finished, Duration: 1500 * time.Millisecond},
		{TaskID: "task-2", Status: models.TaskStatusFailed, Error: "call timed out after 5m0s", Attempts: 3, Retries: 2,
			StartedAt: started, FinishedAt: &finished, Duration: 1500 * time.Millisecond},
		{TaskID: "task-3", Status: models.TaskStatusCancelled, Error: "cancelled before dispatch", FinishedAt: &finished},
	}
	return tasks, results
}

func TestSaveRun_LoadRunRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	tasks, results := sampleRun(t)

	started := time.Date(2024, 5, 1, 9, 59, 0, 0, time.UTC)
	finished := started.Add(time.Minute)
	run := &Run{
		ID:          "run-1",
		Fingerprint: "abc123",
		Source:      "requirements.md",
		Status:      RunFailed,
		Counts:      Counts{Total: 3, Completed: 1, Failed: 1, Cancelled: 1},
		StartedAt:   started,
		FinishedAt:  &finished,
	}
	if err := db.SaveRun(run, tasks, results); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	rec, err := db.LoadRun("run-1")
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}

	if !reflect.DeepEqual(rec.Run, *run) {
		t.Errorf("run = %+v, want %+v", rec.Run, *run)
	}
	if !reflect.DeepEqual(rec.Results, results) {
		t.Errorf("results mismatch:\n got %+v\nwant %+v", rec.Results, results)
	}
	if len(rec.Tasks) != len(tasks) {
		t.Fatalf("got %d tasks, want %d", len(rec.Tasks), len(tasks))
	}
	for i, got := range rec.Tasks {
		want := tasks[i]
		if got.ID != want.ID || got.Title != want.Title || got.Description != want.Description ||
			got.Priority != want.Priority || got.Phase != want.Phase || got.Status != want.Status ||
			got.EstimatedEffort != want.EstimatedEffort {
			t.Errorf("task %d = %+v, want %+v", i, got, want)
		}
		if !reflect.DeepEqual(got.Dependencies, want.Dependencies) {
			t.Errorf("task %s dependencies = %v, want %v", got.ID, got.Dependencies, want.Dependencies)
		}
		if !reflect.DeepEqual(got.Tags, want.Tags) {
			t.Errorf("task %s tags = %v, want %v", got.ID, got.Tags, want.Tags)
		}
		if !got.Planned() {
			t.Errorf("task %s should be planned after load", got.ID)
		}
		if got.Result == nil || got.Result.TaskID != got.ID {
			t.Errorf("task %s result not attached", got.ID)
		}
	}
}

func TestCreateAndFinishRun(t *testing.T) {
	db := setupTestDB(t)

	run, err := db.CreateRun("fp", "input.md")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	if run.ID == "" || run.Status != RunRunning {
		t.Fatalf("unexpected run: %+v", run)
	}

	task := &models.Task{ID: "step-1", Title: "Deploy", Status: models.TaskStatusCompleted}
	if err := db.SaveTask(run.ID, task); err != nil {
		t.Fatalf("SaveTask failed: %v", err)
	}
	if err := db.SaveResult(run.ID, &models.Result{TaskID: "step-1", Status: models.TaskStatusCompleted, Output: "ok", Attempts: 1}); err != nil {
		t.Fatalf("SaveResult failed: %v", err)
	}
	if err := db.FinishRun(run.ID, Counts{Total: 1, Completed: 1}); err != nil {
		t.Fatalf("FinishRun failed: %v", err)
	}

	rec, err := db.LatestRun()
	if err != nil {
		t.Fatalf("LatestRun failed: %v", err)
	}
	if rec.Run.ID != run.ID {
		t.Errorf("latest run = %s, want %s", rec.Run.ID, run.ID)
	}
	if rec.Run.Status != RunCompleted {
		t.Errorf("status = %s, want completed", rec.Run.Status)
	}
	if rec.Run.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
	if len(rec.Results) != 1 || rec.Results[0].Output != "ok" {
		t.Errorf("results = %+v", rec.Results)
	}
}

func TestRecordResult(t *testing.T) {
	db := setupTestDB(t)

	run, err := db.CreateRun("fp", "")
	if err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}
	task := &models.Task{ID: "task-1", Title: "Build", Status: models.TaskStatusPending}
	if err := db.SaveRun(run, []*models.Task{task}, nil); err != nil {
		t.Fatalf("SaveRun failed: %v", err)
	}

	if err := db.RecordResult(run.ID, &models.Result{TaskID: "task-1", Status: models.TaskStatusFailed, Error: "boom", Attempts: 2, Retries: 1}); err != nil {
		t.Fatalf("RecordResult failed: %v", err)
	}

	rec, err := db.LoadRun(run.ID)
	if err != nil {
		t.Fatalf("LoadRun failed: %v", err)
	}
	if len(rec.Tasks) != 1 || rec.Tasks[0].Status != models.TaskStatusFailed {
		t.Fatalf("tasks = %+v, want one failed task", rec.Tasks)
	}
	if rec.Tasks[0].Result == nil || rec.Tasks[0].Result.Error != "boom" {
		t.Errorf("result not attached: %+v", rec.Tasks[0].Result)
	}
}

func TestFinishRun_NotFound(t *testing.T) {
	db := setupTestDB(t)
	err := db.FinishRun("missing", Counts{})
	if !errors.Is(err, ErrRunNotFound) {
		t.Errorf("FinishRun(missing) = %v, want ErrRunNotFound", err)
	}
}

func TestLoadRun_NotFound(t *testing.T) {
	db := setupTestDB(t)
	if _, err := db.LoadRun("nope"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LoadRun = %v, want ErrRunNotFound", err)
	}
	if _, err := db.LatestRun(); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("LatestRun on empty db = %v, want ErrRunNotFound", err)
	}
}

func TestLoadRun_RejectsCorruptStatus(t *testing.T) {
	tests := []struct {
		name  string
		setup func(db *DB, runID string) error
	}{
		{
			name: "unknown task status",
			setup: func(db *DB, runID string) error {
				_, err := db.Exec(`INSERT INTO tasks (run_id, id, title, status) VALUES (?, 'a', 'A', 'exploded')`, runID)
				return err
			},
		},
		{
			name: "unknown result status",
			setup: func(db *DB, runID string) error {
				_, err := db.Exec(`INSERT INTO results (run_id, task_id, status) VALUES (?, 'a', 'done')`, runID)
				return err
			},
		},
		{
			name: "result disagrees with task",
			setup: func(db *DB, runID string) error {
				if err := db.SaveTask(runID, &models.Task{ID: "a", Title: "A", Status: models.TaskStatusCompleted}); err != nil {
					return err
				}
				return db.SaveResult(runID, &models.Result{TaskID: "a", Status: models.TaskStatusFailed})
			},
		},
		{
			name: "running task in finished run",
			setup: func(db *DB, runID string) error {
				if err := db.SaveTask(runID, &models.Task{ID: "a", Title: "A", Status: models.TaskStatusRunning}); err != nil {
					return err
				}
				return db.FinishRun(runID, Counts{Total: 1})
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := setupTestDB(t)
			run, err := db.CreateRun("fp", "")
			if err != nil {
				t.Fatal(err)
			}
			if err := tt.setup(db, run.ID); err != nil {
				t.Fatalf("setup: %v", err)
			}
			if _, err := db.LoadRun(run.ID); !errors.Is(err, ErrCorruptState) {
				t.Errorf("LoadRun = %v, want ErrCorruptState", err)
			}
		})
	}
}

func TestListRuns(t *testing.T) {
	db := setupTestDB(t)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, id := range []string{"r1", "r2", "r3"} {
		run := &Run{ID: id, Fingerprint: "fp", Status: RunCompleted, StartedAt: base.Add(time.Duration(i) * time.Hour)}
		if err := db.SaveRun(run, nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatalf("ListRuns failed: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "r3" || runs[1].ID != "r2" {
		t.Errorf("ListRuns(2) = %+v", runs)
	}

	all, err := db.ListRuns(0)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("ListRuns(0) returned %d runs, want 3", len(all))
	}
}

func TestPurgeOldRuns(t *testing.T) {
	db := setupTestDB(t)
	tasks, results := sampleRun(t)

	old := &Run{ID: "old", Fingerprint: "fp", Status: RunCompleted, StartedAt: time.Now().Add(-48 * time.Hour)}
	if err := db.SaveRun(old, tasks, results); err != nil {
		t.Fatal(err)
	}
	fresh, err := db.CreateRun("fp", "")
	if err != nil {
		t.Fatal(err)
	}

	n, err := db.PurgeOldRuns(24 * time.Hour)
	if err != nil {
		t.Fatalf("PurgeOldRuns failed: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d runs, want 1", n)
	}

	if _, err := db.LoadRun("old"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("old run still present: %v", err)
	}
	var orphans int
	if err := db.QueryRow(`SELECT COUNT(*) FROM results WHERE run_id = 'old'`).Scan(&orphans); err != nil {
		t.Fatal(err)
	}
	if orphans != 0 {
		t.Errorf("%d orphaned results remain", orphans)
	}
	if _, err := db.LoadRun(fresh.ID); err != nil {
		t.Errorf("fresh run lost: %v", err)
	}
}

func TestCounts_Status(t *testing.T) {
	tests := []struct {
		counts Counts
		want   RunStatus
	}{
		{Counts{Total: 2, Completed: 2}, RunCompleted},
		{Counts{Total: 2, Completed: 1, Cancelled: 1}, RunCancelled},
		{Counts{Total: 3, Completed: 1, Failed: 1, Cancelled: 1}, RunFailed},
		{Counts{}, RunCompleted},
	}
	for _, tt := range tests {
		if got := tt.counts.Status(); got != tt.want {
			t.Errorf("%+v.Status() = %s, want %s", tt.counts, got, tt.want)
		}
	}
}
