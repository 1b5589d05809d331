package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flowclip/flowclip-api/asr"
	xerrors "github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/state"
	"github.com/flowclip/flowclip-api/store"
)

// SRTPayload generates subtitles for a video or one node of the slice tree.
type SRTPayload struct {
	VideoID   int64
	ProjectID int64
	UserID    int64
	// AudioKey is the normalized WAV in the object store.
	AudioKey string

	SliceID    int64
	SubSliceID int64
	SliceUUID  string

	// optional sub-interval; timestamps are shifted back by Start
	Start float64
	End   float64
}

// StartGenerateSRT registers and kicks the SRT task.
func (c *Coordinator) StartGenerateSRT(ctx context.Context, p SRTPayload) (store.Task, error) {
	input := store.JSONMap{"audio_key": p.AudioKey}
	if p.SliceID != 0 {
		input["slice_id"] = p.SliceID
	}
	if p.SubSliceID != 0 {
		input["sub_slice_id"] = p.SubSliceID
	}
	task, err := c.register(ctx, store.Task{
		VideoID:      p.VideoID,
		Type:         store.TaskGenerateSRT,
		Name:         "generate srt",
		WorkerTaskID: NewWorkerTaskID(store.TaskGenerateSRT),
		InputData:    input,
	})
	if err != nil {
		return store.Task{}, err
	}

	c.runAsync(task, func(ctx context.Context) error {
		return c.runGenerateSRT(ctx, task, p)
	})
	return task, nil
}

func (c *Coordinator) runGenerateSRT(ctx context.Context, task store.Task, p SRTPayload) error {
	if err := c.markRunning(ctx, task.WorkerTaskID, "generating subtitles"); err != nil {
		return err
	}
	if err := c.setNodeSrtStatus(ctx, p, store.ProcessRunning, "", task.WorkerTaskID, ""); err != nil {
		return err
	}

	workDir := filepath.Join(c.WorkDir, fmt.Sprintf("srt_%s", task.WorkerTaskID))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	localAudio := filepath.Join(workDir, "audio.wav")
	if err := c.Gateway.Download(ctx, p.AudioKey, localAudio); err != nil {
		c.recordSrtFailure(ctx, p, task, err)
		return err
	}

	request := asr.Request{
		WorkerTaskID: task.WorkerTaskID,
		LocalAudio:   localAudio,
		VideoID:      p.VideoID,
		ProjectID:    p.ProjectID,
		UserID:       p.UserID,
		SliceID:      p.SliceID,
		SubSliceID:   p.SubSliceID,
		SliceUUID:    p.SliceUUID,
		Start:        p.Start,
		End:          p.End,
	}

	// transient ASR failures get 3 more tries at a jittered minute apart,
	// reusing the same worker task id
	var result asr.Result
	attempt := func() error {
		var err error
		result, err = c.ASR.GenerateSRT(ctx, request)
		if err != nil && xerrors.IsUnretriable(err) {
			return backoff.Permanent(err)
		}
		if err != nil {
			_ = c.State.UpdateFromWorker(ctx, state.Update{
				WorkerTaskID: task.WorkerTaskID,
				Status:       store.TaskRetry,
				Progress:     task.Progress,
				Message:      "retrying subtitle generation",
				ErrorMessage: err.Error(),
			})
		}
		return err
	}
	retrier := backoff.NewExponentialBackOff()
	retrier.InitialInterval = 60 * time.Second
	retrier.Multiplier = 1
	retrier.RandomizationFactor = 0.25
	retrier.MaxElapsedTime = 0
	if err := backoff.Retry(attempt, backoff.WithMaxRetries(retrier, 3)); err != nil {
		c.recordSrtFailure(ctx, p, task, err)
		return err
	}

	if result.Async {
		// upload-then-return: the task stays running and the callback server
		// is the source of truth for completion
		return c.State.UpdateFromWorker(ctx, state.Update{
			WorkerTaskID: task.WorkerTaskID,
			Status:       store.TaskRunning,
			Progress:     50,
			Message:      "awaiting tus callback",
			Output: store.JSONMap{
				"strategy":         string(result.Strategy),
				"async_processing": true,
				"asr_task_id":      result.ASRTaskID,
			},
		})
	}

	if err := c.setNodeSrtStatus(ctx, p, store.ProcessCompleted, result.SRTKey, task.WorkerTaskID, ""); err != nil {
		return err
	}
	if p.SliceID == 0 && p.SubSliceID == 0 {
		if err := c.Store.UpsertTranscript(ctx, c.Store.DB, p.VideoID, result.SRTKey); err != nil {
			return err
		}
		if err := c.Store.UpdateVideoStatus(ctx, c.Store.DB, p.VideoID, store.VideoCompleted); err != nil {
			return err
		}
	}

	output := store.JSONMap{
		"strategy":       string(result.Strategy),
		"srt_url":        result.SRTURL,
		"srt_key":        result.SRTKey,
		"total_segments": result.TotalSegments,
	}
	if result.FallbackReason != "" {
		output["fallback_reason"] = result.FallbackReason
	}
	return c.State.UpdateFromWorker(ctx, state.Update{
		WorkerTaskID: task.WorkerTaskID,
		Status:       store.TaskSuccess,
		Progress:     100,
		Message:      "subtitles generated",
		Output:       output,
	})
}

// setNodeSrtStatus writes results back to the owning slice or sub-slice row
// and never to the parent video for slice-tree work: a slice's subtitle run
// must not mutate the source video's status.
func (c *Coordinator) setNodeSrtStatus(ctx context.Context, p SRTPayload, status store.ProcessStatus, srtKey, taskID, errMsg string) error {
	switch {
	case p.SubSliceID != 0:
		return c.Store.UpdateSubSliceSrt(ctx, c.Store.DB, p.SubSliceID, status, srtKey, taskID, errMsg)
	case p.SliceID != 0:
		return c.Store.UpdateSliceSrt(ctx, c.Store.DB, p.SliceID, status, srtKey, taskID, errMsg)
	default:
		return nil
	}
}

func (c *Coordinator) recordSrtFailure(ctx context.Context, p SRTPayload, task store.Task, cause error) {
	if err := c.setNodeSrtStatus(ctx, p, store.ProcessFailed, "", task.WorkerTaskID, cause.Error()); err != nil {
		log.LogError(task.WorkerTaskID, "failed to record srt failure", err)
	}
}
