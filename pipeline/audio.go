package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/state"
	"github.com/flowclip/flowclip-api/storage"
	"github.com/flowclip/flowclip-api/store"
)

// AudioPayload produces normalized ASR audio for a video or one node of the
// slice tree.
type AudioPayload struct {
	VideoID   int64
	ProjectID int64
	UserID    int64
	// SourceKey is the object key of the media the audio comes from: the
	// video itself, or a slice/sub-slice cut.
	SourceKey string

	// slice-tree routing; zero values mean the source video
	SliceID    int64
	SubSliceID int64
	SliceUUID  string

	// ChainSRT enqueues the matching SRT task when the audio succeeds. Set by
	// the materializer's fan-out.
	ChainSRT bool
}

// StartExtractAudio registers and kicks the audio worker.
func (c *Coordinator) StartExtractAudio(ctx context.Context, p AudioPayload) (store.Task, error) {
	input := store.JSONMap{"source_key": p.SourceKey}
	if p.SliceID != 0 {
		input["slice_id"] = p.SliceID
	}
	if p.SubSliceID != 0 {
		input["sub_slice_id"] = p.SubSliceID
	}
	task, err := c.register(ctx, store.Task{
		VideoID:      p.VideoID,
		Type:         store.TaskExtractAudio,
		Name:         "extract audio",
		WorkerTaskID: NewWorkerTaskID(store.TaskExtractAudio),
		InputData:    input,
	})
	if err != nil {
		return store.Task{}, err
	}

	c.runAsync(task, func(ctx context.Context) error {
		return c.runExtractAudio(ctx, task, p)
	})
	return task, nil
}

func (c *Coordinator) runExtractAudio(ctx context.Context, task store.Task, p AudioPayload) error {
	if err := c.markRunning(ctx, task.WorkerTaskID, "extracting audio"); err != nil {
		return err
	}
	if err := c.setNodeAudioStatus(ctx, p, store.ProcessRunning, "", task.WorkerTaskID, ""); err != nil {
		return err
	}
	if p.SliceID == 0 && p.SubSliceID == 0 {
		if err := c.Store.UpdateVideoStatus(ctx, c.Store.DB, p.VideoID, store.VideoProcessing); err != nil {
			return err
		}
	}

	workDir := filepath.Join(c.WorkDir, fmt.Sprintf("audio_%s", task.WorkerTaskID))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	localMedia := filepath.Join(workDir, "source"+filepath.Ext(p.SourceKey))
	if err := c.Gateway.Download(ctx, p.SourceKey, localMedia); err != nil {
		c.recordAudioFailure(ctx, p, task, err)
		return err
	}

	wavPath := filepath.Join(workDir, "audio.wav")
	if err := c.Toolbox.ExtractAudio(task.WorkerTaskID, localMedia, wavPath); err != nil {
		c.recordAudioFailure(ctx, p, task, err)
		return err
	}

	// always re-encoded to the contract; a pre-existing mismatched-rate file
	// at the target key is simply overwritten
	audioKey := c.audioKeyFor(p)
	audioURL, err := c.Gateway.Put(ctx, wavPath, audioKey, "audio/wav")
	if err != nil {
		c.recordAudioFailure(ctx, p, task, err)
		return err
	}

	info, err := c.Toolbox.Probe.ProbeFile(task.WorkerTaskID, wavPath)
	if err != nil {
		c.recordAudioFailure(ctx, p, task, err)
		return err
	}

	if err := c.setNodeAudioStatus(ctx, p, store.ProcessCompleted, audioKey, task.WorkerTaskID, ""); err != nil {
		return err
	}
	if p.SliceID == 0 && p.SubSliceID == 0 {
		if err := c.Store.MergeVideoMetadata(ctx, c.Store.DB, p.VideoID, store.JSONMap{
			"audio_path": audioKey,
			"audio_info": map[string]interface{}{
				"duration":    info.Duration,
				"size":        info.SizeBytes,
				"format":      info.Container,
				"sample_rate": info.SampleRate,
				"channels":    info.Channels,
			},
		}); err != nil {
			return err
		}
	}

	if err := c.State.UpdateFromWorker(ctx, state.Update{
		WorkerTaskID: task.WorkerTaskID,
		Status:       store.TaskSuccess,
		Progress:     100,
		Message:      "audio extracted",
		Output:       store.JSONMap{"audio_key": audioKey, "audio_url": audioURL, "duration": info.Duration},
	}); err != nil {
		return err
	}

	// auto-chain: a successful slice-tree audio task enqueues its SRT task
	// and records the child id
	if p.ChainSRT {
		srtTask, err := c.StartGenerateSRT(ctx, SRTPayload{
			VideoID:    p.VideoID,
			ProjectID:  p.ProjectID,
			UserID:     p.UserID,
			AudioKey:   audioKey,
			SliceID:    p.SliceID,
			SubSliceID: p.SubSliceID,
			SliceUUID:  p.SliceUUID,
		})
		if err != nil {
			log.LogError(task.WorkerTaskID, "failed to chain srt task", err)
			return nil
		}
		_ = c.State.UpdateFromWorker(ctx, state.Update{
			WorkerTaskID: task.WorkerTaskID,
			Status:       store.TaskSuccess,
			Progress:     100,
			Output:       store.JSONMap{"chained_srt_task": srtTask.WorkerTaskID},
		})
	}
	return nil
}

func (c *Coordinator) audioKeyFor(p AudioPayload) string {
	paths := storage.Paths{UserID: p.UserID, ProjectID: p.ProjectID}
	switch {
	case p.SubSliceID != 0 && p.SliceUUID != "":
		return paths.SliceMedia(p.SliceUUID, fmt.Sprintf("sub_slice_%d.wav", p.SubSliceID))
	case p.SliceID != 0 && p.SliceUUID != "":
		return paths.SliceMedia(p.SliceUUID, "audio.wav")
	default:
		return paths.Audio(p.VideoID)
	}
}

func (c *Coordinator) setNodeAudioStatus(ctx context.Context, p AudioPayload, status store.ProcessStatus, audioURL, taskID, errMsg string) error {
	switch {
	case p.SubSliceID != 0:
		return c.Store.UpdateSubSliceAudio(ctx, c.Store.DB, p.SubSliceID, status, audioURL, taskID, errMsg)
	case p.SliceID != 0:
		return c.Store.UpdateSliceAudio(ctx, c.Store.DB, p.SliceID, status, audioURL, taskID, errMsg)
	default:
		return nil
	}
}

func (c *Coordinator) recordAudioFailure(ctx context.Context, p AudioPayload, task store.Task, cause error) {
	if err := c.setNodeAudioStatus(ctx, p, store.ProcessFailed, "", task.WorkerTaskID, cause.Error()); err != nil {
		log.LogError(task.WorkerTaskID, "failed to record audio failure", err)
	}
}
