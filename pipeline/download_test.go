package pipeline

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowclip/flowclip-api/media"
	"github.com/stretchr/testify/require"
)

func TestDownloadWorkerTaskIDIsDeterministic(t *testing.T) {
	require.Equal(t, DownloadWorkerTaskID(42), DownloadWorkerTaskID(42))
	require.NotEqual(t, DownloadWorkerTaskID(42), DownloadWorkerTaskID(43))
}

func TestProgressDebouncer(t *testing.T) {
	d := newProgressDebouncer()

	// first observation always pushes
	push, msg := d.observe(&media.ProgressEvent{Percent: 10.2, Stage: media.StageDownloading, Speed: "2.67MiB"})
	require.True(t, push)
	require.Contains(t, msg, "downloading 10.2%")
	require.Contains(t, msg, "2.67MiB/s")

	// same integer percent, same stage, within a second: suppressed
	push, _ = d.observe(&media.ProgressEvent{Percent: 10.7, Stage: media.StageDownloading})
	require.False(t, push)

	// integer percent change pushes
	push, _ = d.observe(&media.ProgressEvent{Percent: 11.1, Stage: media.StageDownloading})
	require.True(t, push)

	// stage transition pushes even with the same percent
	push, _ = d.observe(&media.ProgressEvent{Percent: 11.1, Stage: media.StageMerging})
	require.True(t, push)

	// completion always pushes
	push, _ = d.observe(&media.ProgressEvent{Percent: 100, Stage: media.StageCompleted})
	require.True(t, push)
}

func TestProgressDebouncerElapsedTime(t *testing.T) {
	d := newProgressDebouncer()
	d.observe(&media.ProgressEvent{Percent: 10, Stage: media.StageDownloading})
	d.lastPush = time.Now().Add(-2 * time.Second)

	push, _ := d.observe(&media.ProgressEvent{Percent: 10.1, Stage: media.StageDownloading})
	require.True(t, push, "a second elapsed since the last push")
}

func TestFindDownloadedVideoPicksLargest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "small.mp4"), make([]byte, 10), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "big.mkv"), make([]byte, 100), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.info.json"), make([]byte, 500), 0o644))

	c := &Coordinator{}
	path, err := c.findDownloadedVideo(dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "big.mkv"), path)
}

func TestFindDownloadedVideoEmpty(t *testing.T) {
	c := &Coordinator{}
	_, err := c.findDownloadedVideo(t.TempDir())
	require.Error(t, err)
}
