package state

import (
	"context"
	"database/sql"
	"time"

	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/store"
)

// Notifier receives per-video progress deltas. The manager never blocks on
// delivery; implementations must enqueue and return.
type Notifier interface {
	NotifyProgress(userID, videoID int64, snapshot store.ProcessingStatus, statusChanged bool)
}

// NopNotifier is used when no progress bus is attached: NewManager falls back
// to it when given a nil notifier.
type NopNotifier struct{}

func (NopNotifier) NotifyProgress(int64, int64, store.ProcessingStatus, bool) {}

// Manager is the only writer of task status, progress, stage and output, and
// the only writer of the per-video ProcessingStatus roll-up. Every write is a
// single transaction covering {task, task_log, processing_status}.
type Manager struct {
	Store    *store.Store
	Notifier Notifier
	Weights  map[string]float64
}

func NewManager(s *store.Store, n Notifier, weights map[string]float64) *Manager {
	if n == nil {
		n = NopNotifier{}
	}
	if len(weights) == 0 {
		weights = map[string]float64{
			string(store.StageDownload):     1.0 / 3,
			string(store.StageExtractAudio): 1.0 / 3,
			string(store.StageGenerateSRT):  1.0 / 3,
		}
	}
	return &Manager{Store: s, Notifier: n, Weights: weights}
}

// Update carries a worker-side task state change into the store.
type Update struct {
	WorkerTaskID string
	Status       store.TaskStatus
	Progress     float64
	Message      string
	ErrorMessage string
	Output       store.JSONMap
}

// UpdateFromWorker applies one worker update. No-op when the target state
// equals the current state. Slice- and sub-slice-scoped tasks never touch the
// parent video's roll-up: only the root video's own tasks do.
func (m *Manager) UpdateFromWorker(ctx context.Context, u Update) error {
	var userID, videoID int64
	var snapshot store.ProcessingStatus
	var statusChanged, touchedRollup bool

	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		task, err := m.Store.GetTaskByWorkerID(ctx, tx, u.WorkerTaskID)
		if err != nil {
			return err
		}

		if task.Status == u.Status && task.Progress == u.Progress && u.Output == nil {
			return nil
		}
		statusChanged = task.Status != u.Status

		now := time.Now()
		var startedAt, completedAt *time.Time
		if u.Status == store.TaskRunning && task.StartedAt == nil {
			startedAt = &now
		}
		if u.Status.IsTerminal() {
			completedAt = &now
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE tasks SET status = $2, progress = $3, message = $4, error_message = $5,
			   output_data = CASE WHEN $6::jsonb IS NULL THEN output_data ELSE output_data || $6::jsonb END,
			   started_at = COALESCE(started_at, $7), completed_at = COALESCE($8, completed_at),
			   updated_at = now()
			 WHERE id = $1`,
			task.ID, u.Status, u.Progress, u.Message, u.ErrorMessage, nullableJSON(u.Output), startedAt, completedAt); err != nil {
			return err
		}

		if statusChanged {
			if err := m.Store.AppendTaskLog(ctx, tx, &store.TaskLog{
				TaskID:    task.ID,
				OldStatus: task.Status,
				NewStatus: u.Status,
				Message:   u.Message,
				Details:   store.JSONMap{"progress": u.Progress, "error": u.ErrorMessage},
			}); err != nil {
				return err
			}
		}

		// Slice-tree tasks carry routing ids and roll up on their own rows,
		// not on the source video.
		if _, isSlice := task.SliceID(); isSlice {
			return nil
		}
		if _, isSubSlice := task.SubSliceID(); isSubSlice {
			return nil
		}

		touchedRollup = true
		videoID = task.VideoID
		snapshot, err = m.recomputeRollup(ctx, tx, task.VideoID)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT user_id FROM videos WHERE id = $1`, task.VideoID).Scan(&userID)
	})
	if err != nil {
		return err
	}

	if touchedRollup {
		m.Notifier.NotifyProgress(userID, videoID, snapshot, statusChanged)
	}
	return nil
}

func nullableJSON(m store.JSONMap) interface{} {
	if m == nil {
		return nil
	}
	return m
}

// recomputeRollup rebuilds ProcessingStatus from the video's root tasks and
// writes it. The roll-up's current_stage never rewinds below the highest
// succeeded stage, even while a failed stage is retrying.
func (m *Manager) recomputeRollup(ctx context.Context, tx *sql.Tx, videoID int64) (store.ProcessingStatus, error) {
	tasks, err := m.Store.ListTasksForVideo(ctx, tx, videoID)
	if err != nil {
		return store.ProcessingStatus{}, err
	}

	// keep only root (video-scoped) tasks; slice-tree fan-out is invisible here
	var rootTasks []store.Task
	for _, t := range tasks {
		if _, ok := t.SliceID(); ok {
			continue
		}
		if _, ok := t.SubSliceID(); ok {
			continue
		}
		rootTasks = append(rootTasks, t)
	}

	ps := Rollup(videoID, rootTasks, m.Weights)
	if err := m.Store.UpsertProcessingStatus(ctx, tx, ps); err != nil {
		return store.ProcessingStatus{}, err
	}
	return ps, nil
}

// Rollup computes the aggregate. Split out for tests.
func Rollup(videoID int64, tasks []store.Task, weights map[string]float64) store.ProcessingStatus {
	ps := store.ProcessingStatus{
		VideoID:       videoID,
		OverallStatus: store.TaskPending,
		Download:      store.StageState{Status: store.TaskPending},
		ExtractAudio:  store.StageState{Status: store.TaskPending},
		GenerateSRT:   store.StageState{Status: store.TaskPending},
	}

	// latest task per stage wins; retries reuse the worker task id so there
	// is normally one per stage
	latest := map[store.Stage]store.Task{}
	for _, t := range tasks {
		stage := t.Stage
		if stage == "" {
			stage = store.StageForTaskType(t.Type)
		}
		prev, ok := latest[stage]
		if !ok || t.UpdatedAt.After(prev.UpdatedAt) {
			latest[stage] = t
		}
	}

	setStage := func(state *store.StageState, stage store.Stage) {
		if t, ok := latest[stage]; ok {
			state.Status = t.Status
			state.Progress = t.Progress
			if t.Status == store.TaskSuccess {
				state.Progress = 100
			}
		}
	}
	setStage(&ps.Download, store.StageDownload)
	setStage(&ps.ExtractAudio, store.StageExtractAudio)
	setStage(&ps.GenerateSRT, store.StageGenerateSRT)

	var anyRunning, anyFailed, anyPendingLater bool
	highestSucceeded := 0
	highestActive := 0
	for stage, t := range latest {
		switch t.Status {
		case store.TaskRunning, store.TaskRetry:
			anyRunning = true
		case store.TaskFailure:
			anyFailed = true
			ps.ErrorCount++
			if t.ErrorMessage != "" {
				ps.LastError = t.ErrorMessage
			}
		case store.TaskSuccess:
			if stage.Rank() > highestSucceeded {
				highestSucceeded = stage.Rank()
			}
		case store.TaskPending:
			if stage.Rank() > store.StageGenerateSRT.Rank() {
				anyPendingLater = true
			}
		}
		if t.Status == store.TaskRunning || t.Status == store.TaskRetry || t.Status == store.TaskPending {
			if stage.Rank() > highestActive {
				highestActive = stage.Rank()
			}
		}
	}

	// a failed stage with an in-flight retry is not an overall failure
	rootsSucceeded := ps.Download.Status == store.TaskSuccess &&
		ps.ExtractAudio.Status == store.TaskSuccess &&
		ps.GenerateSRT.Status == store.TaskSuccess
	switch {
	case anyFailed && !anyRunning:
		ps.OverallStatus = store.TaskFailure
	case rootsSucceeded && !anyPendingLater && !anyRunning:
		ps.OverallStatus = store.TaskSuccess
	case anyRunning:
		ps.OverallStatus = store.TaskRunning
	default:
		ps.OverallStatus = store.TaskPending
	}

	// current_stage is monotonic: the highest succeeded stage, or whatever is
	// actively running above it
	rank := highestSucceeded
	if highestActive > rank {
		rank = highestActive
	}
	ps.CurrentStage = stageForRank(rank)

	ps.OverallProgress = weights[string(store.StageDownload)]*ps.Download.Progress +
		weights[string(store.StageExtractAudio)]*ps.ExtractAudio.Progress +
		weights[string(store.StageGenerateSRT)]*ps.GenerateSRT.Progress
	// clamp to 100 only on completion
	if ps.OverallStatus != store.TaskSuccess && ps.OverallProgress >= 100 {
		ps.OverallProgress = 99
	}
	if ps.OverallStatus == store.TaskSuccess {
		ps.OverallProgress = 100
	}

	return ps
}

func stageForRank(rank int) store.Stage {
	switch rank {
	case 1:
		return store.StageDownload
	case 2:
		return store.StageExtractAudio
	case 3:
		return store.StageGenerateSRT
	case 4:
		return store.StageSliceVideo
	case 5:
		return store.StageCapcutExport
	}
	return ""
}

// RegisterTask creates (or idempotently returns) the durable record for an
// asynchronous unit and seeds the roll-up.
func (m *Manager) RegisterTask(ctx context.Context, t *store.Task) error {
	var userID int64
	var snapshot store.ProcessingStatus
	var touchedRollup bool

	err := m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if t.Stage == "" {
			t.Stage = store.StageForTaskType(t.Type)
		}
		if t.Status == "" {
			t.Status = store.TaskPending
		}
		if err := m.Store.CreateTask(ctx, tx, t); err != nil {
			return err
		}
		if _, ok := t.SliceID(); ok {
			return nil
		}
		if _, ok := t.SubSliceID(); ok {
			return nil
		}
		touchedRollup = true
		var err error
		snapshot, err = m.recomputeRollup(ctx, tx, t.VideoID)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT user_id FROM videos WHERE id = $1`, t.VideoID).Scan(&userID)
	})
	if err != nil {
		return err
	}

	if touchedRollup {
		m.Notifier.NotifyProgress(userID, t.VideoID, snapshot, true)
	}
	log.Log(t.WorkerTaskID, "registered task", "type", t.Type, "video_id", t.VideoID)
	return nil
}

// RevokeVideoTasks marks every in-flight root task of a video revoked. TUS
// registrations in the key-value store are left to their TTL; the callback
// server tolerates the missing side.
func (m *Manager) RevokeVideoTasks(ctx context.Context, videoID int64) error {
	return m.Store.WithTx(ctx, func(tx *sql.Tx) error {
		tasks, err := m.Store.ListTasksForVideo(ctx, tx, videoID)
		if err != nil {
			return err
		}
		for _, t := range tasks {
			if t.Status.IsTerminal() {
				continue
			}
			if _, ok := t.SliceID(); ok {
				continue
			}
			if _, ok := t.SubSliceID(); ok {
				continue
			}
			if _, err := tx.ExecContext(ctx,
				`UPDATE tasks SET status = $2, updated_at = now(), completed_at = now() WHERE id = $1`,
				t.ID, store.TaskRevoked); err != nil {
				return err
			}
			if err := m.Store.AppendTaskLog(ctx, tx, &store.TaskLog{
				TaskID:    t.ID,
				OldStatus: t.Status,
				NewStatus: store.TaskRevoked,
				Message:   "revoked by video cancel",
			}); err != nil {
				return err
			}
		}
		_, err = m.recomputeRollup(ctx, tx, videoID)
		return err
	})
}
