package pipeline

import (
	"context"
	"fmt"

	"github.com/flowclip/flowclip-api/editor"
	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/state"
	"github.com/flowclip/flowclip-api/store"
)

// ExportPayload exports one slice to an editor backend.
type ExportPayload struct {
	SliceID int64
	Backend string // capcut or jianying
}

// StartExport registers and kicks a draft export. Export failures record on
// the slice row; they never fail the underlying slice.
func (c *Coordinator) StartExport(ctx context.Context, p ExportPayload) (store.Task, error) {
	exporter, taskType, err := c.exporterFor(p.Backend)
	if err != nil {
		return store.Task{}, err
	}

	slice, err := c.Store.GetSlice(ctx, c.Store.DB, p.SliceID)
	if err != nil {
		return store.Task{}, err
	}

	task, err := c.register(ctx, store.Task{
		VideoID:      slice.VideoID,
		Type:         taskType,
		Name:         fmt.Sprintf("export slice to %s", p.Backend),
		WorkerTaskID: NewWorkerTaskID(taskType),
		InputData:    store.JSONMap{"slice_id": p.SliceID, "backend": p.Backend},
	})
	if err != nil {
		return store.Task{}, err
	}

	c.runAsync(task, func(ctx context.Context) error {
		return c.runExport(ctx, task, exporter, p)
	})
	return task, nil
}

func (c *Coordinator) exporterFor(backend string) (*editor.Exporter, store.TaskType, error) {
	switch backend {
	case "capcut":
		if c.Capcut == nil {
			return nil, "", fmt.Errorf("capcut backend is not configured")
		}
		return c.Capcut, store.TaskCapcutExport, nil
	case "jianying":
		if c.Jianying == nil {
			return nil, "", fmt.Errorf("jianying backend is not configured")
		}
		return c.Jianying, store.TaskJianyingExport, nil
	default:
		return nil, "", fmt.Errorf("unknown editor backend %q", backend)
	}
}

func (c *Coordinator) runExport(ctx context.Context, task store.Task, exporter *editor.Exporter, p ExportPayload) error {
	if err := c.markRunning(ctx, task.WorkerTaskID, "assembling draft"); err != nil {
		return err
	}
	if err := c.Store.UpdateSliceExport(ctx, c.Store.DB, p.SliceID, p.Backend, store.ProcessRunning, "", ""); err != nil {
		return err
	}

	draftURL, err := exporter.ExportSlice(ctx, task.WorkerTaskID, p.SliceID)
	if err != nil {
		if dbErr := c.Store.UpdateSliceExport(ctx, c.Store.DB, p.SliceID, p.Backend, store.ProcessFailed, "", err.Error()); dbErr != nil {
			log.LogError(task.WorkerTaskID, "failed to record export failure", dbErr)
		}
		return err
	}

	if err := c.Store.UpdateSliceExport(ctx, c.Store.DB, p.SliceID, p.Backend, store.ProcessCompleted, draftURL, ""); err != nil {
		return err
	}
	return c.State.UpdateFromWorker(ctx, state.Update{
		WorkerTaskID: task.WorkerTaskID,
		Status:       store.TaskSuccess,
		Progress:     100,
		Message:      "draft exported",
		Output:       store.JSONMap{"draft_url": draftURL, "backend": p.Backend},
	})
}
