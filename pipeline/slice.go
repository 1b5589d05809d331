package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/plan"
	"github.com/flowclip/flowclip-api/state"
	"github.com/flowclip/flowclip-api/storage"
	"github.com/flowclip/flowclip-api/store"
	"github.com/google/uuid"
)

// SlicePayload materializes a validated plan: cut the tree, persist the
// rows, fan audio+SRT out per node.
type SlicePayload struct {
	AnalysisID int64
	VideoID    int64
	ProjectID  int64
	UserID     int64
	Slices     []plan.Slice
}

// StartProcessSlices registers and kicks the materializer.
func (c *Coordinator) StartProcessSlices(ctx context.Context, p SlicePayload) (store.Task, error) {
	task, err := c.register(ctx, store.Task{
		VideoID:      p.VideoID,
		Type:         store.TaskSliceVideo,
		Name:         "materialize slices",
		WorkerTaskID: NewWorkerTaskID(store.TaskSliceVideo),
		InputData:    store.JSONMap{"analysis_id": p.AnalysisID, "slice_count": len(p.Slices)},
	})
	if err != nil {
		return store.Task{}, err
	}

	c.runAsync(task, func(ctx context.Context) error {
		return c.runProcessSlices(ctx, task, p)
	})
	return task, nil
}

func (c *Coordinator) runProcessSlices(ctx context.Context, task store.Task, p SlicePayload) error {
	if err := c.markRunning(ctx, task.WorkerTaskID, "cutting slices"); err != nil {
		return err
	}

	video, err := c.Store.GetVideo(ctx, c.Store.DB, p.VideoID)
	if err != nil {
		return err
	}
	if video.StoragePath == "" {
		return fmt.Errorf("video %d has no stored media to slice", p.VideoID)
	}

	workDir := filepath.Join(c.WorkDir, fmt.Sprintf("slice_%s", task.WorkerTaskID))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	// the source is pulled once and every cut reads the local copy
	sourcePath := filepath.Join(workDir, "source"+filepath.Ext(video.StoragePath))
	if err := c.Gateway.Download(ctx, video.StoragePath, sourcePath); err != nil {
		return fmt.Errorf("error downloading source video: %w", err)
	}

	paths := storage.Paths{UserID: p.UserID, ProjectID: p.ProjectID}
	total := len(p.Slices)
	var failures []string

	for i, item := range p.Slices {
		progress := float64(i) / float64(total) * 100
		_ = c.State.UpdateFromWorker(ctx, state.Update{
			WorkerTaskID: task.WorkerTaskID,
			Status:       store.TaskRunning,
			Progress:     progress,
			Message:      fmt.Sprintf("slice %d/%d", i+1, total),
		})

		if err := c.materializeOne(ctx, task, p, video, paths, workDir, sourcePath, i, item); err != nil {
			// individual slice failures do not abort sibling slices
			log.LogError(task.WorkerTaskID, "slice failed, continuing with siblings", err, "index", i)
			failures = append(failures, fmt.Sprintf("slice %d: %v", i, err))
		}
	}

	if len(failures) == total {
		return fmt.Errorf("all %d slices failed: %s", total, strings.Join(failures, "; "))
	}

	if err := c.Store.MarkAnalysisApplied(ctx, c.Store.DB, p.AnalysisID); err != nil {
		return err
	}

	output := store.JSONMap{"slices_total": total, "slices_failed": len(failures)}
	if len(failures) > 0 {
		output["failures"] = failures
	}
	return c.State.UpdateFromWorker(ctx, state.Update{
		WorkerTaskID: task.WorkerTaskID,
		Status:       store.TaskSuccess,
		Progress:     100,
		Message:      "slices materialized",
		Output:       output,
	})
}

// materializeOne cuts one slice and its chapters, persists the rows and fans
// out the audio/SRT work per the slice's classification.
func (c *Coordinator) materializeOne(ctx context.Context, task store.Task, p SlicePayload, video store.Video, paths storage.Paths, workDir, sourcePath string, index int, item plan.Slice) error {
	sliceUUID := uuid.NewString()
	localCut := filepath.Join(workDir, fmt.Sprintf("slice_%d.mp4", index))
	if err := c.Toolbox.Cut(task.WorkerTaskID, sourcePath, localCut, item.Start, item.End); err != nil {
		return fmt.Errorf("error cutting slice: %w", err)
	}

	mediaKey := paths.SliceMedia(sliceUUID, "media.mp4")
	if _, err := c.Gateway.Put(ctx, localCut, mediaKey, "video/mp4"); err != nil {
		return fmt.Errorf("error uploading slice media: %w", err)
	}

	sliceType := plan.Classify(item)
	sliceRow := store.Slice{
		VideoID:        p.VideoID,
		AnalysisID:     p.AnalysisID,
		CoverTitle:     item.CoverTitle,
		Title:          item.Title,
		Description:    item.Desc,
		Tags:           strings.Join(item.Tags, ","),
		StartTime:      item.Start,
		EndTime:        item.End,
		Type:           sliceType,
		SlicedFilePath: mediaKey,
	}
	if err := c.Store.CreateSlice(ctx, c.Store.DB, &sliceRow); err != nil {
		return err
	}

	var subRows []store.SubSlice
	for j, ch := range item.Chapters {
		localSub := filepath.Join(workDir, fmt.Sprintf("slice_%d_sub_%d.mp4", index, j))
		if err := c.Toolbox.Cut(task.WorkerTaskID, sourcePath, localSub, ch.Start, ch.End); err != nil {
			return fmt.Errorf("error cutting chapter %d: %w", j, err)
		}

		subRow := store.SubSlice{
			CoverTitle:  ch.CoverTitle,
			Title:       ch.Title,
			Description: ch.Desc,
			StartTime:   ch.Start,
			EndTime:     ch.End,
		}
		subKey := paths.SliceMedia(sliceUUID, fmt.Sprintf("sub_%d.mp4", j))
		if _, err := c.Gateway.Put(ctx, localSub, subKey, "video/mp4"); err != nil {
			return fmt.Errorf("error uploading chapter media: %w", err)
		}
		subRow.SlicedFilePath = subKey
		if err := c.Store.CreateSubSlice(ctx, c.Store.DB, sliceRow, &subRow); err != nil {
			return err
		}
		subRows = append(subRows, subRow)
	}

	log.Log(task.WorkerTaskID, "materialized slice", "slice_id", sliceRow.ID, "type", sliceType, "sub_slices", len(subRows))

	// fan out: full slices transcribe their own media; fragment slices
	// transcribe each highlight and leave the parent to the video-level SRT
	if sliceType == store.SliceFull {
		_, err := c.StartExtractAudio(ctx, AudioPayload{
			VideoID:   p.VideoID,
			ProjectID: p.ProjectID,
			UserID:    p.UserID,
			SourceKey: mediaKey,
			SliceID:   sliceRow.ID,
			SliceUUID: sliceUUID,
			ChainSRT:  true,
		})
		return err
	}

	for _, sub := range subRows {
		if _, err := c.StartExtractAudio(ctx, AudioPayload{
			VideoID:    p.VideoID,
			ProjectID:  p.ProjectID,
			UserID:     p.UserID,
			SourceKey:  sub.SlicedFilePath,
			SliceID:    sliceRow.ID,
			SubSliceID: sub.ID,
			SliceUUID:  sliceUUID,
			ChainSRT:   true,
		}); err != nil {
			log.LogError(task.WorkerTaskID, "failed to fan out sub-slice audio", err, "sub_slice_id", sub.ID)
		}
	}
	return nil
}
