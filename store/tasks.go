package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	xerrors "github.com/flowclip/flowclip-api/errors"
)

const taskColumns = `id, video_id, type, name, worker_task_id, status, progress, stage,
	stage_description, message, error_message, input_data, output_data,
	started_at, completed_at, created_at, updated_at`

func scanTask(scanner interface {
	Scan(dest ...interface{}) error
}) (Task, error) {
	var t Task
	err := scanner.Scan(&t.ID, &t.VideoID, &t.Type, &t.Name, &t.WorkerTaskID, &t.Status, &t.Progress,
		&t.Stage, &t.StageDescription, &t.Message, &t.ErrorMessage, &t.InputData, &t.OutputData,
		&t.StartedAt, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return Task{}, xerrors.NewPipelineError(xerrors.KindNotFound, fmt.Errorf("task not found"))
	}
	return t, err
}

// CreateTask is upsert-keyed on worker_task_id: re-submitting the same unit
// returns the existing row unchanged, making request retries idempotent.
func (s *Store) CreateTask(ctx context.Context, q Querier, t *Task) error {
	row := q.QueryRowContext(ctx,
		`INSERT INTO tasks (video_id, type, name, worker_task_id, status, stage, input_data)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (worker_task_id) DO UPDATE SET updated_at = tasks.updated_at
		 RETURNING `+taskColumns,
		t.VideoID, t.Type, t.Name, t.WorkerTaskID, t.Status, t.Stage, t.InputData)
	existing, err := scanTask(row)
	if err != nil {
		return err
	}
	*t = existing
	return nil
}

func (s *Store) GetTask(ctx context.Context, q Querier, id int64) (Task, error) {
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
}

func (s *Store) GetTaskByWorkerID(ctx context.Context, q Querier, workerTaskID string) (Task, error) {
	return scanTask(q.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE worker_task_id = $1`, workerTaskID))
}

func (s *Store) ListTasksForVideo(ctx context.Context, q Querier, videoID int64) ([]Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE video_id = $1 ORDER BY created_at`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// FindNewestRunningTUSTask is the last-resort fallback the callback server
// uses to associate an orphaned ASR task id: the newest running
// generate_srt task that used the TUS strategy within the window.
func (s *Store) FindNewestRunningTUSTask(ctx context.Context, q Querier, window time.Duration) (Task, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE type = $1 AND status = $2
		   AND output_data->>'strategy' = 'tus'
		   AND updated_at > now() - $3::interval
		 ORDER BY updated_at DESC LIMIT 1`,
		TaskGenerateSRT, TaskRunning, fmt.Sprintf("%d seconds", int(window.Seconds())))
	return scanTask(row)
}

// FindTaskByInputSubstring matches an opaque upstream id embedded in
// input_data, the second association fallback for orphaned callbacks.
func (s *Store) FindTaskByInputSubstring(ctx context.Context, q Querier, needle string) (Task, error) {
	row := q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE input_data::text LIKE '%' || $1 || '%'
		 ORDER BY updated_at DESC LIMIT 1`, needle)
	return scanTask(row)
}

func (s *Store) AppendTaskLog(ctx context.Context, q Querier, l *TaskLog) error {
	row := q.QueryRowContext(ctx,
		`INSERT INTO task_logs (task_id, old_status, new_status, message, details)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		l.TaskID, l.OldStatus, l.NewStatus, l.Message, l.Details)
	return row.Scan(&l.ID, &l.CreatedAt)
}

func (s *Store) ListTaskLogs(ctx context.Context, q Querier, taskID int64) ([]TaskLog, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT id, task_id, old_status, new_status, message, details, created_at
		 FROM task_logs WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []TaskLog
	for rows.Next() {
		var l TaskLog
		if err := rows.Scan(&l.ID, &l.TaskID, &l.OldStatus, &l.NewStatus, &l.Message, &l.Details, &l.CreatedAt); err != nil {
			return nil, err
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}
