package store

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

func taskRows(t Task) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "video_id", "type", "name", "worker_task_id", "status", "progress", "stage",
		"stage_description", "message", "error_message", "input_data", "output_data",
		"started_at", "completed_at", "created_at", "updated_at",
	}).AddRow(t.ID, t.VideoID, string(t.Type), t.Name, t.WorkerTaskID, string(t.Status), t.Progress, string(t.Stage),
		"", "", "", []byte(`{}`), []byte(`{}`), nil, nil, now, now)
}

func TestCreateTaskIsUpsertOnWorkerTaskID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := &Store{DB: db}

	existing := Task{ID: 3, VideoID: 1, Type: TaskDownload, WorkerTaskID: "download-1", Status: TaskRunning, Stage: StageDownload}
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO tasks")).
		WithArgs(int64(1), TaskDownload, "download video", "download-1", TaskPending, StageDownload, sqlmock.AnyArg()).
		WillReturnRows(taskRows(existing))

	task := Task{
		VideoID:      1,
		Type:         TaskDownload,
		Name:         "download video",
		WorkerTaskID: "download-1",
		Status:       TaskPending,
		Stage:        StageDownload,
		InputData:    JSONMap{},
	}
	require.NoError(t, s.CreateTask(context.Background(), db, &task))

	// re-entry hands back the existing row unchanged
	require.Equal(t, int64(3), task.ID)
	require.Equal(t, TaskRunning, task.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTaskByWorkerIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	s := &Store{DB: db}

	mock.ExpectQuery("SELECT .* FROM tasks WHERE worker_task_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err = s.GetTaskByWorkerID(context.Background(), db, "missing")
	require.Error(t, err)
}
