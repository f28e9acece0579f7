package store

import (
	"database/sql"
	"fmt"

	"github.com/xonecas/seele/internal/errs"
)

// Task statuses.
const (
	TaskActive    = "active"
	TaskPaused    = "paused"
	TaskCompleted = "completed"
)

// Trigger types.
const (
	TriggerOnce     = "once"
	TriggerInterval = "interval"
)

// Task is a persisted scheduled task. TriggerConfig is the JSON-encoded
// trigger parameters: {"run_at": N} for once, {"seconds": N} for interval.
type Task struct {
	ID            string
	Name          string
	TriggerType   string
	TriggerConfig string
	Message       string
	CreatedAt     int64
	NextRunAt     int64
	LastRunAt     int64 // zero when the task has never fired
	Status        string
}

// InsertTask persists a new task.
func (s *Store) InsertTask(t Task) error {
	if t.TriggerType != TriggerOnce && t.TriggerType != TriggerInterval {
		return errs.Newf(errs.BadArgument, "invalid trigger type %q", t.TriggerType)
	}
	if t.Status == "" {
		t.Status = TaskActive
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO scheduled_tasks
		(task_id, name, trigger_type, trigger_config, message, created_at, next_run_at, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.TriggerType, t.TriggerConfig, t.Message, t.CreatedAt, t.NextRunAt, t.Status,
	)
	if err != nil {
		return errs.New(errs.StoreUnavailable, fmt.Errorf("insert task: %w", err))
	}
	return nil
}

// DueTasks returns active tasks whose next run time has passed, soonest
// first.
func (s *Store) DueTasks(now int64) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT task_id, name, trigger_type, trigger_config, message, created_at, next_run_at, last_run_at, status
		FROM scheduled_tasks
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at ASC`, now,
	)
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("load due tasks: %w", err))
	}
	defer rows.Close()
	return scanTasks(rows)
}

// Tasks returns all tasks ordered by next run time, optionally filtered
// by status.
func (s *Store) Tasks(status string) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rows *sql.Rows
	var err error
	if status != "" {
		rows, err = s.db.Query(`
			SELECT task_id, name, trigger_type, trigger_config, message, created_at, next_run_at, last_run_at, status
			FROM scheduled_tasks WHERE status = ? ORDER BY next_run_at ASC`, status,
		)
	} else {
		rows, err = s.db.Query(`
			SELECT task_id, name, trigger_type, trigger_config, message, created_at, next_run_at, last_run_at, status
			FROM scheduled_tasks ORDER BY next_run_at ASC`,
		)
	}
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("load tasks: %w", err))
	}
	defer rows.Close()
	return scanTasks(rows)
}

// TaskByID returns a single task.
func (s *Store) TaskByID(taskID string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT task_id, name, trigger_type, trigger_config, message, created_at, next_run_at, last_run_at, status
		FROM scheduled_tasks WHERE task_id = ?`, taskID,
	)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, errs.Newf(errs.NotFound, "task %s not found", taskID)
	}
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("load task: %w", err))
	}
	return t, nil
}

// FindTaskBySpec returns a task with the same name, trigger type and
// trigger config, or nil. Seeding uses this to stay idempotent across
// restarts.
func (s *Store) FindTaskBySpec(name, triggerType, triggerConfig string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(`
		SELECT task_id, name, trigger_type, trigger_config, message, created_at, next_run_at, last_run_at, status
		FROM scheduled_tasks
		WHERE name = ? AND trigger_type = ? AND trigger_config = ?
		LIMIT 1`, name, triggerType, triggerConfig,
	)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errs.New(errs.StoreUnavailable, fmt.Errorf("find task: %w", err))
	}
	return t, nil
}

// SetTaskStatus updates a task's status.
func (s *Store) SetTaskStatus(taskID, status string) error {
	if status != TaskActive && status != TaskPaused && status != TaskCompleted {
		return errs.Newf(errs.BadArgument, "invalid task status %q", status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec("UPDATE scheduled_tasks SET status = ? WHERE task_id = ?", status, taskID)
	if err != nil {
		return errs.New(errs.StoreUnavailable, fmt.Errorf("update task status: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Newf(errs.NotFound, "task %s not found", taskID)
	}
	return nil
}

// FinishRun records a completed firing in one statement: last run time,
// the next run time, and the resulting status. Single-statement update
// keeps a crash between steps from re-firing or losing the task.
func (s *Store) FinishRun(taskID string, lastRunAt, nextRunAt int64, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`
		UPDATE scheduled_tasks
		SET last_run_at = ?, next_run_at = ?, status = ?
		WHERE task_id = ?`,
		lastRunAt, nextRunAt, status, taskID,
	)
	if err != nil {
		return errs.New(errs.StoreUnavailable, fmt.Errorf("finish task run: %w", err))
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.Newf(errs.NotFound, "task %s not found", taskID)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var lastRun sql.NullInt64
	err := row.Scan(&t.ID, &t.Name, &t.TriggerType, &t.TriggerConfig, &t.Message,
		&t.CreatedAt, &t.NextRunAt, &lastRun, &t.Status)
	if err != nil {
		return nil, err
	}
	t.LastRunAt = lastRun.Int64
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, errs.New(errs.StoreUnavailable, err)
		}
		tasks = append(tasks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.New(errs.StoreUnavailable, err)
	}
	return tasks, nil
}
