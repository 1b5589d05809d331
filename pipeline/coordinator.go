package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/flowclip/flowclip-api/asr"
	"github.com/flowclip/flowclip-api/cache"
	"github.com/flowclip/flowclip-api/config"
	"github.com/flowclip/flowclip-api/editor"
	xerrors "github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/media"
	"github.com/flowclip/flowclip-api/metrics"
	"github.com/flowclip/flowclip-api/state"
	"github.com/flowclip/flowclip-api/storage"
	"github.com/flowclip/flowclip-api/store"
	"github.com/google/uuid"
)

// Coordinator schedules the pipeline's asynchronous units. It is called
// directly from the API handlers and never blocks on execution: work runs on
// background goroutines bounded by a worker-slot semaphore, and every unit
// inherits a per-task deadline.
type Coordinator struct {
	Store    *store.Store
	State    *state.Manager
	Gateway  *storage.Gateway
	Toolbox  *media.Toolbox
	ASR      *asr.Router
	Capcut   *editor.Exporter
	Jianying *editor.Exporter

	WorkDir      string
	CookiesFile  string
	TaskDeadline time.Duration

	// Jobs mirrors the in-flight tasks for introspection; the store holds
	// the durable record.
	Jobs *cache.Cache[store.Task]

	slots chan struct{}
}

func NewCoordinator(st *store.Store, sm *state.Manager, gw *storage.Gateway, tb *media.Toolbox, router *asr.Router, capcut, jianying *editor.Exporter, workDir, cookiesFile string, deadline time.Duration) *Coordinator {
	if deadline == 0 {
		deadline = 2 * time.Hour
	}
	return &Coordinator{
		Store:        st,
		State:        sm,
		Gateway:      gw,
		Toolbox:      tb,
		ASR:          router,
		Capcut:       capcut,
		Jianying:     jianying,
		WorkDir:      workDir,
		CookiesFile:  cookiesFile,
		TaskDeadline: deadline,
		Jobs:         cache.New[store.Task](),
		slots:        make(chan struct{}, config.MaxInFlightJobs),
	}
}

// DownloadWorkerTaskID derives the deterministic worker task id for a
// video's download, making request re-submission idempotent.
func DownloadWorkerTaskID(videoID int64) string {
	return fmt.Sprintf("download-%d", videoID)
}

func NewWorkerTaskID(t store.TaskType) string {
	return fmt.Sprintf("%s-%s", t, uuid.NewString())
}

// runAsync executes one task handler on a worker slot. The handler owns its
// own success update; errors and panics become a task failure with the
// normalized error kind. Returns immediately.
func (c *Coordinator) runAsync(task store.Task, handler func(ctx context.Context) error) {
	go func() {
		c.slots <- struct{}{}
		defer func() { <-c.slots }()

		c.Jobs.Store(task.WorkerTaskID, task)
		defer c.Jobs.Remove(task.WorkerTaskID)

		metrics.Metrics.TasksInFlight.Inc()
		defer metrics.Metrics.TasksInFlight.Dec()

		ctx, cancel := context.WithTimeout(context.Background(), c.TaskDeadline)
		defer cancel()

		start := time.Now()
		err := recovered(func() error { return handler(ctx) })
		status := store.TaskSuccess
		if err != nil {
			status = store.TaskFailure
			log.LogError(task.WorkerTaskID, "task failed", err, "type", task.Type)
			updateErr := c.State.UpdateFromWorker(ctx, state.Update{
				WorkerTaskID: task.WorkerTaskID,
				Status:       store.TaskFailure,
				ErrorMessage: err.Error(),
				Output:       store.JSONMap{"error_type": string(xerrors.KindOf(err))},
			})
			if updateErr != nil {
				log.LogError(task.WorkerTaskID, "failed to record task failure", updateErr)
			}
		}
		metrics.Metrics.Pipeline.Count.WithLabelValues(string(task.Type), string(status)).Inc()
		metrics.Metrics.Pipeline.Duration.WithLabelValues(string(task.Type), string(status)).Observe(time.Since(start).Seconds())
	}()
}

func recovered(f func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.LogNoTaskID("panic in pipeline worker, recovering", "err", rec, "trace", debug.Stack())
			err = fmt.Errorf("panic in pipeline worker: %v", rec)
		}
	}()
	return f()
}

// register creates the durable task record and returns it; an already
// existing worker_task_id comes back unchanged.
func (c *Coordinator) register(ctx context.Context, t store.Task) (store.Task, error) {
	if err := c.State.RegisterTask(ctx, &t); err != nil {
		return store.Task{}, err
	}
	return t, nil
}

func (c *Coordinator) markRunning(ctx context.Context, workerTaskID, message string) error {
	return c.State.UpdateFromWorker(ctx, state.Update{
		WorkerTaskID: workerTaskID,
		Status:       store.TaskRunning,
		Message:      message,
	})
}

// Cancel marks a video's in-flight root tasks revoked. The key-value store
// keeps any TUS registrations until their TTL; the callback server tolerates
// the missing waiter.
func (c *Coordinator) Cancel(ctx context.Context, videoID int64) error {
	return c.State.RevokeVideoTasks(ctx, videoID)
}
