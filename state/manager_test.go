package state

import (
	"testing"
	"time"

	"github.com/flowclip/flowclip-api/store"
	"github.com/stretchr/testify/require"
)

func task(typ store.TaskType, status store.TaskStatus, progress float64, updated time.Time) store.Task {
	return store.Task{
		Type:      typ,
		Stage:     store.StageForTaskType(typ),
		Status:    status,
		Progress:  progress,
		UpdatedAt: updated,
	}
}

func equalWeights() map[string]float64 {
	return map[string]float64{
		string(store.StageDownload):     1.0 / 3,
		string(store.StageExtractAudio): 1.0 / 3,
		string(store.StageGenerateSRT):  1.0 / 3,
	}
}

func TestRollupAllRootsSucceeded(t *testing.T) {
	now := time.Now()
	ps := Rollup(1, []store.Task{
		task(store.TaskDownload, store.TaskSuccess, 100, now),
		task(store.TaskExtractAudio, store.TaskSuccess, 100, now),
		task(store.TaskGenerateSRT, store.TaskSuccess, 100, now),
	}, equalWeights())

	require.Equal(t, store.TaskSuccess, ps.OverallStatus)
	require.Equal(t, 100.0, ps.OverallProgress)
	require.Equal(t, store.StageGenerateSRT, ps.CurrentStage)
}

func TestRollupRunning(t *testing.T) {
	now := time.Now()
	ps := Rollup(1, []store.Task{
		task(store.TaskDownload, store.TaskSuccess, 100, now),
		task(store.TaskExtractAudio, store.TaskRunning, 40, now),
	}, equalWeights())

	require.Equal(t, store.TaskRunning, ps.OverallStatus)
	require.Equal(t, store.StageExtractAudio, ps.CurrentStage)
	require.InDelta(t, (100+40)/3.0, ps.OverallProgress, 0.001)
}

func TestRollupFailedWithoutRetry(t *testing.T) {
	now := time.Now()
	ps := Rollup(1, []store.Task{
		task(store.TaskDownload, store.TaskSuccess, 100, now),
		task(store.TaskExtractAudio, store.TaskFailure, 10, now),
	}, equalWeights())

	require.Equal(t, store.TaskFailure, ps.OverallStatus)
	require.Equal(t, 1, ps.ErrorCount)
}

func TestRollupRetryKeepsRunning(t *testing.T) {
	now := time.Now()
	ps := Rollup(1, []store.Task{
		task(store.TaskDownload, store.TaskSuccess, 100, now),
		task(store.TaskExtractAudio, store.TaskFailure, 10, now),
		task(store.TaskGenerateSRT, store.TaskRunning, 0, now),
	}, equalWeights())

	// a failed stage with in-flight work elsewhere is not an overall failure
	require.Equal(t, store.TaskRunning, ps.OverallStatus)
}

func TestRollupCurrentStageNeverRewinds(t *testing.T) {
	now := time.Now()
	// SRT succeeded earlier; its retry reset extract_audio to running again
	ps := Rollup(1, []store.Task{
		task(store.TaskDownload, store.TaskSuccess, 100, now),
		task(store.TaskExtractAudio, store.TaskRunning, 50, now),
		task(store.TaskGenerateSRT, store.TaskSuccess, 100, now),
	}, equalWeights())

	require.Equal(t, store.StageGenerateSRT, ps.CurrentStage,
		"roll-up must not rewind below the highest succeeded stage")
}

func TestRollupCompletionBlockedByPendingLaterStage(t *testing.T) {
	now := time.Now()
	ps := Rollup(1, []store.Task{
		task(store.TaskDownload, store.TaskSuccess, 100, now),
		task(store.TaskExtractAudio, store.TaskSuccess, 100, now),
		task(store.TaskGenerateSRT, store.TaskSuccess, 100, now),
		task(store.TaskCapcutExport, store.TaskPending, 0, now),
	}, equalWeights())

	require.NotEqual(t, store.TaskSuccess, ps.OverallStatus)
	require.Less(t, ps.OverallProgress, 100.0, "progress clamps to 100 only on completion")
}

func TestRollupEmpty(t *testing.T) {
	ps := Rollup(1, nil, equalWeights())
	require.Equal(t, store.TaskPending, ps.OverallStatus)
	require.Zero(t, ps.OverallProgress)
}

func TestStageRankOrdering(t *testing.T) {
	require.Less(t, store.StageDownload.Rank(), store.StageExtractAudio.Rank())
	require.Less(t, store.StageExtractAudio.Rank(), store.StageGenerateSRT.Rank())
	require.Less(t, store.StageGenerateSRT.Rank(), store.StageSliceVideo.Rank())
	require.Equal(t, store.StageCapcutExport.Rank(), store.StageJianyingExport.Rank())
}
