package store

import (
	"encoding/json"
	"fmt"
	"time"
)

// TaskEntry is one task state transition as persisted by the monitor. The
// row is upserted on task_id so the latest status wins.
type TaskEntry struct {
	ID          int64           `json:"id"`
	TaskID      string          `json:"task_id"`
	Agent       string          `json:"agent,omitempty"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Success     *bool           `json:"success,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

func (s *Store) SaveTask(t *TaskEntry) error {
	var result *string
	if len(t.Result) > 0 {
		r := string(t.Result)
		result = &r
	}
	_, err := s.db.Exec(`
		INSERT INTO tasks (task_id, agent, type, status, success, result, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(task_id) DO UPDATE SET
			agent = excluded.agent,
			status = excluded.status,
			success = excluded.success,
			result = excluded.result,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at`,
		t.TaskID, t.Agent, t.Type, t.Status, t.Success, result, t.StartedAt, t.CompletedAt)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func scanTaskEntry(scanner interface {
	Scan(dest ...any) error
}) (*TaskEntry, error) {
	t := &TaskEntry{}
	var agent, result *string
	err := scanner.Scan(&t.ID, &t.TaskID, &agent, &t.Type, &t.Status,
		&t.Success, &result, &t.StartedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	if agent != nil {
		t.Agent = *agent
	}
	if result != nil {
		t.Result = json.RawMessage(*result)
	}
	return t, nil
}

const taskColumns = `id, task_id, agent, type, status, success, result, started_at, completed_at`

func (s *Store) GetTasks(from, to time.Time, limit int) ([]TaskEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE started_at >= ? AND started_at <= ?
		ORDER BY started_at DESC
		LIMIT ?`, from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("get tasks: %w", err)
	}
	defer rows.Close()

	var tasks []TaskEntry
	for rows.Next() {
		t, err := scanTaskEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

func (s *Store) GetTasksForAgent(agent string, limit int) ([]TaskEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`
		SELECT `+taskColumns+`
		FROM tasks
		WHERE agent = ?
		ORDER BY started_at DESC
		LIMIT ?`, agent, limit)
	if err != nil {
		return nil, fmt.Errorf("get tasks for agent: %w", err)
	}
	defer rows.Close()

	var tasks []TaskEntry
	for rows.Next() {
		t, err := scanTaskEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}
