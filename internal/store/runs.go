package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/taskweave/pkg/models"
)

var (
	// ErrRunNotFound is returned when a run id does not exist.
	ErrRunNotFound = errors.New("run not found")
	// ErrCorruptState is returned when stored rows violate the task state
	// machine.
	ErrCorruptState = errors.New("corrupt stored state")
)

// RunStatus represents the status of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Counts tallies task outcomes of a run.
type Counts struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Status derives the run status from the tallies. Failures outrank
// cancellations.
func (c Counts) Status() RunStatus {
	switch {
	case c.Failed > 0:
		return RunFailed
	case c.Cancelled > 0:
		return RunCancelled
	default:
		return RunCompleted
	}
}

// Run is one execution of a plan.
type Run struct {
	ID string `json:"id"`
	// Fingerprint identifies the task graph the run executed.
	Fingerprint string     `json:"fingerprint"`
	Source      string     `json:"source,omitempty"`
	Status      RunStatus  `json:"status"`
	Counts      Counts     `json:"counts"`
	StartedAt   time.Time  `json:"started_at"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
}

// RunRecord is a run with its tasks and results.
type RunRecord struct {
	Run     Run              `json:"run"`
	Tasks   []*models.Task   `json:"tasks"`
	Results []*models.Result `json:"results"`
}

// execer is satisfied by *sql.DB and *sql.Tx.
type execer interface {
	Exec(query string, args ...any) (sql.Result, error)
}

// CreateRun records the start of a run and returns it.
func (db *DB) CreateRun(fingerprint, source string) (*Run, error) {
	run := &Run{
		ID:          uuid.NewString(),
		Fingerprint: fingerprint,
		Source:      source,
		Status:      RunRunning,
		StartedAt:   time.Now().UTC(),
	}

	db.mu.Lock()
	err := insertRun(db.conn, run)
	db.mu.Unlock()
	if err != nil {
		return nil, err
	}
	db.logger.Debug("created run", "run_id", run.ID, "fingerprint", fingerprint)
	return run, nil
}

// FinishRun stamps the run's final tallies and status.
func (db *DB) FinishRun(id string, counts Counts) error {
	res, err := db.Exec(`
		UPDATE runs SET status = ?, total = ?, completed = ?, failed = ?, cancelled = ?, finished_at = ?
		WHERE id = ?
	`, string(counts.Status()), counts.Total, counts.Completed, counts.Failed, counts.Cancelled,
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run %s: %w", id, ErrRunNotFound)
	}
	return nil
}

// SaveTask records a task's current state.
func (db *DB) SaveTask(runID string, t *models.Task) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return insertTask(db.conn, runID, t)
}

// SaveResult records a task's execution result.
func (db *DB) SaveResult(runID string, r *models.Result) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return insertResult(db.conn, runID, r)
}

// SaveRun writes a run with all of its tasks and results in one
// transaction.
func (db *DB) SaveRun(run *Run, tasks []*models.Task, results []*models.Result) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if err := insertRun(tx, run); err != nil {
			return err
		}
		for _, t := range tasks {
			if err := insertTask(tx, run.ID, t); err != nil {
				return err
			}
		}
		for _, r := range results {
			if err := insertResult(tx, run.ID, r); err != nil {
				return err
			}
		}
		return nil
	})
}

// RecordResult stores a finished task's result and moves its stored status
// to match, in one transaction.
func (db *DB) RecordResult(runID string, r *models.Result) error {
	return db.Transaction(func(tx *sql.Tx) error {
		if _, err := tx.Exec(`UPDATE tasks SET status = ? WHERE run_id = ? AND id = ?`,
			string(r.Status), runID, r.TaskID); err != nil {
			return fmt.Errorf("update task %s: %w", r.TaskID, err)
		}
		return insertResult(tx, runID, r)
	})
}

func insertRun(x execer, run *Run) error {
	_, err := x.Exec(`
		INSERT INTO runs (id, fingerprint, source, status, total, completed, failed, cancelled, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			source = excluded.source,
			status = excluded.status,
			total = excluded.total,
			completed = excluded.completed,
			failed = excluded.failed,
			cancelled = excluded.cancelled,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, run.ID, run.Fingerprint, run.Source, string(run.Status),
		run.Counts.Total, run.Counts.Completed, run.Counts.Failed, run.Counts.Cancelled,
		formatTime(run.StartedAt), nullableTime(run.FinishedAt))
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func insertTask(x execer, runID string, t *models.Task) error {
	deps, err := json.Marshal(t.Dependencies)
	if err != nil {
		return fmt.Errorf("marshal dependencies: %w", err)
	}
	tags, err := json.Marshal(t.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}

	_, err = x.Exec(`
		INSERT OR REPLACE INTO tasks (run_id, id, title, description, priority, depends_on, tags, phase, status, estimated_effort)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, t.ID, t.Title, t.Description, t.Priority, string(deps), string(tags), t.Phase,
		string(t.Status), t.EstimatedEffort)
	if err != nil {
		return fmt.Errorf("save task %s: %w", t.ID, err)
	}
	return nil
}

func insertResult(x execer, runID string, r *models.Result) error {
	var started sql.NullString
	if !r.StartedAt.IsZero() {
		started = sql.NullString{String: formatTime(r.StartedAt), Valid: true}
	}

	_, err := x.Exec(`
		INSERT OR REPLACE INTO results (run_id, task_id, status, output, error, attempts, retries, started_at, finished_at, duration_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, runID, r.TaskID, string(r.Status), r.Output, r.Error, r.Attempts, r.Retries,
		started, nullableTime(r.FinishedAt), int64(r.Duration))
	if err != nil {
		return fmt.Errorf("save result %s: %w", r.TaskID, err)
	}
	return nil
}

const runColumns = `id, fingerprint, source, status, total, completed, failed, cancelled, started_at, finished_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*Run, error) {
	var run Run
	var source, finished sql.NullString
	var started string
	err := s.Scan(&run.ID, &run.Fingerprint, &source, &run.Status,
		&run.Counts.Total, &run.Counts.Completed, &run.Counts.Failed, &run.Counts.Cancelled,
		&started, &finished)
	if err != nil {
		return nil, err
	}
	run.Source = source.String
	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, fmt.Errorf("run %s: parse started_at: %w", run.ID, err)
	}
	if run.FinishedAt, err = parseNullableTime(finished); err != nil {
		return nil, fmt.Errorf("run %s: parse finished_at: %w", run.ID, err)
	}
	return &run, nil
}

// GetRun returns the run row without its tasks.
func (db *DB) GetRun(id string) (*Run, error) {
	run, err := scanRun(db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("load run %s: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", id, err)
	}
	return run, nil
}

// LoadRun returns a run with its tasks and results. Every stored status is
// checked against the task state machine.
func (db *DB) LoadRun(id string) (*RunRecord, error) {
	run, err := db.GetRun(id)
	if err != nil {
		return nil, err
	}

	tasks, err := db.loadTasks(id)
	if err != nil {
		return nil, err
	}
	results, err := db.loadResults(id)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]*models.Result, len(results))
	for _, r := range results {
		byID[r.TaskID] = r
	}
	for _, t := range tasks {
		if run.FinishedAt != nil && !t.Status.Terminal() {
			return nil, fmt.Errorf("run %s: task %s is %s after the run finished: %w", id, t.ID, t.Status, ErrCorruptState)
		}
		if r, ok := byID[t.ID]; ok {
			if r.Status != t.Status {
				return nil, fmt.Errorf("run %s: task %s is %s but its result is %s: %w",
					id, t.ID, t.Status, r.Status, ErrCorruptState)
			}
			t.Result = r
		}
	}

	return &RunRecord{Run: *run, Tasks: tasks, Results: results}, nil
}

func (db *DB) loadTasks(runID string) ([]*models.Task, error) {
	rows, err := db.Query(`
		SELECT id, title, description, priority, depends_on, tags, phase, status, estimated_effort
		FROM tasks WHERE run_id = ? ORDER BY phase, rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.Task
	for rows.Next() {
		var t models.Task
		var desc, deps, tags sql.NullString
		if err := rows.Scan(&t.ID, &t.Title, &desc, &t.Priority, &deps, &tags, &t.Phase,
			&t.Status, &t.EstimatedEffort); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		if !t.Status.Valid() {
			return nil, fmt.Errorf("task %s: unknown status %q: %w", t.ID, t.Status, ErrCorruptState)
		}
		t.Description = desc.String
		if deps.Valid && deps.String != "" {
			if err := json.Unmarshal([]byte(deps.String), &t.Dependencies); err != nil {
				return nil, fmt.Errorf("task %s: decode dependencies: %w", t.ID, err)
			}
		}
		if tags.Valid && tags.String != "" {
			if err := json.Unmarshal([]byte(tags.String), &t.Tags); err != nil {
				return nil, fmt.Errorf("task %s: decode tags: %w", t.ID, err)
			}
		}
		t.Freeze()
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (db *DB) loadResults(runID string) ([]*models.Result, error) {
	rows, err := db.Query(`
		SELECT task_id, status, output, error, attempts, retries, started_at, finished_at, duration_ns
		FROM results WHERE run_id = ? ORDER BY rowid
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("load results: %w", err)
	}
	defer rows.Close()

	var results []*models.Result
	for rows.Next() {
		var r models.Result
		var output, errText, started, finished sql.NullString
		var duration int64
		if err := rows.Scan(&r.TaskID, &r.Status, &output, &errText, &r.Attempts, &r.Retries,
			&started, &finished, &duration); err != nil {
			return nil, fmt.Errorf("scan result: %w", err)
		}
		if !r.Status.Valid() {
			return nil, fmt.Errorf("result %s: unknown status %q: %w", r.TaskID, r.Status, ErrCorruptState)
		}
		r.Output = output.String
		r.Error = errText.String
		r.Duration = time.Duration(duration)
		startedAt, err := parseNullableTime(started)
		if err != nil {
			return nil, fmt.Errorf("result %s: parse started_at: %w", r.TaskID, err)
		}
		if startedAt != nil {
			r.StartedAt = *startedAt
		}
		if r.FinishedAt, err = parseNullableTime(finished); err != nil {
			return nil, fmt.Errorf("result %s: parse finished_at: %w", r.TaskID, err)
		}
		results = append(results, &r)
	}
	return results, rows.Err()
}

// LatestRun returns the most recently started run.
func (db *DB) LatestRun() (*RunRecord, error) {
	var id string
	err := db.QueryRow(`SELECT id FROM runs ORDER BY started_at DESC, rowid DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest run: %w", err)
	}
	return db.LoadRun(id)
}

// ListRuns returns up to limit runs, newest first. A limit of zero or less
// returns every run.
func (db *DB) ListRuns(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("list runs: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// PurgeOldRuns deletes runs started more than olderThan ago, with their
// tasks and results. Returns the number of runs deleted.
func (db *DB) PurgeOldRuns(olderThan time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-olderThan))

	var count int64
	err := db.Transaction(func(tx *sql.Tx) error {
		for _, table := range []string{"results", "tasks"} {
			if _, err := tx.Exec(`DELETE FROM `+table+` WHERE run_id IN (SELECT id FROM runs WHERE started_at < ?)`, cutoff); err != nil {
				return fmt.Errorf("purge %s: %w", table, err)
			}
		}
		res, err := tx.Exec(`DELETE FROM runs WHERE started_at < ?`, cutoff)
		if err != nil {
			return fmt.Errorf("purge old runs: %w", err)
		}
		count, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return count, err
}
