package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/flowclip/flowclip-api/config"
	xerrors "github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/media"
	"github.com/flowclip/flowclip-api/state"
	"github.com/flowclip/flowclip-api/storage"
	"github.com/flowclip/flowclip-api/store"
)

// DownloadPayload starts the pipeline for one source URL.
type DownloadPayload struct {
	VideoID     int64
	ProjectID   int64
	UserID      int64
	URL         string
	Quality     string
	CookiesFile string
}

// StartDownload registers the download task and kicks the worker. Safe to
// call twice with the same video: the task row is idempotent on its derived
// worker task id.
func (c *Coordinator) StartDownload(ctx context.Context, p DownloadPayload) (store.Task, error) {
	task, err := c.register(ctx, store.Task{
		VideoID:      p.VideoID,
		Type:         store.TaskDownload,
		Name:         "download video",
		WorkerTaskID: DownloadWorkerTaskID(p.VideoID),
		InputData:    store.JSONMap{"url": p.URL, "quality": p.Quality},
	})
	if err != nil {
		return store.Task{}, err
	}
	if task.Status.IsTerminal() || task.Status == store.TaskRunning {
		log.Log(task.WorkerTaskID, "download already in flight or finished, not restarting", "status", task.Status)
		return task, nil
	}

	c.runAsync(task, func(ctx context.Context) error {
		return c.runDownload(ctx, task, p)
	})
	return task, nil
}

func (c *Coordinator) runDownload(ctx context.Context, task store.Task, p DownloadPayload) error {
	if err := c.markRunning(ctx, task.WorkerTaskID, "downloading source video"); err != nil {
		return err
	}
	if err := c.Store.UpdateVideoStatus(ctx, c.Store.DB, p.VideoID, store.VideoDownloading); err != nil {
		return err
	}

	workDir := filepath.Join(c.WorkDir, fmt.Sprintf("download_%d", p.VideoID))
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return err
	}
	defer os.RemoveAll(workDir)

	// transient network failures get 3 attempts with exponential backoff;
	// anything unretriable aborts immediately
	var outputPath string
	attempt := func() error {
		var err error
		outputPath, err = c.execYtdlp(ctx, task, p, workDir)
		if err != nil && xerrors.IsUnretriable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 5 * time.Second
	backOff.MaxInterval = 60 * time.Second
	backOff.MaxElapsedTime = 0
	if err := backoff.Retry(attempt, backoff.WithMaxRetries(backOff, config.DownloadRetries)); err != nil {
		c.failVideo(ctx, p.VideoID, err)
		return err
	}

	info, err := c.Toolbox.Probe.ProbeFile(task.WorkerTaskID, outputPath)
	if err != nil {
		c.failVideo(ctx, p.VideoID, err)
		return fmt.Errorf("downloaded file failed probing: %w", err)
	}

	storagePath, thumbnailKey, err := c.uploadDownloadArtifacts(ctx, task, p, workDir, outputPath)
	if err != nil {
		c.failVideo(ctx, p.VideoID, err)
		return err
	}

	stat, err := os.Stat(outputPath)
	if err != nil {
		return err
	}
	title := strings.TrimSuffix(filepath.Base(outputPath), filepath.Ext(outputPath))
	if err := c.Store.UpdateVideoArtifact(ctx, c.Store.DB, p.VideoID, storagePath,
		filepath.Base(outputPath), title, thumbnailKey, stat.Size(), info.Duration); err != nil {
		return err
	}

	return c.State.UpdateFromWorker(ctx, state.Update{
		WorkerTaskID: task.WorkerTaskID,
		Status:       store.TaskSuccess,
		Progress:     100,
		Message:      "download complete",
		Output: store.JSONMap{
			"storage_path": storagePath,
			"filesize":     stat.Size(),
			"duration":     info.Duration,
		},
	})
}

// execYtdlp runs one yt-dlp attempt, streaming stdout into debounced
// progress updates.
func (c *Coordinator) execYtdlp(ctx context.Context, task store.Task, p DownloadPayload, workDir string) (string, error) {
	outputTemplate := filepath.Join(workDir, "%(id)s.%(ext)s")
	quality := p.Quality
	if quality == "" {
		quality = "best"
	}

	args := []string{
		p.URL,
		"-f", quality,
		"-o", outputTemplate,
		"--newline",
		"--write-info-json",
		"--write-thumbnail",
		"--ignore-errors",
		"--fragment-retries", "10",
		"--hls-use-mpegts",
		"--skip-unavailable-fragments",
		"--no-check-certificate",
	}
	cookies := p.CookiesFile
	if cookies == "" {
		cookies = c.CookiesFile
	}
	if cookies != "" {
		args = append(args, "--cookies", cookies)
	}

	cmd := exec.CommandContext(ctx, "yt-dlp", args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", err
	}
	cmd.Stderr = cmd.Stdout
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("cannot start yt-dlp: %w", err)
	}

	var captured strings.Builder
	debouncer := newProgressDebouncer()
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		captured.WriteString(line)
		captured.WriteString("\n")

		ev := media.ParseProgressLine(line)
		if ev == nil {
			continue
		}
		if push, message := debouncer.observe(ev); push {
			_ = c.State.UpdateFromWorker(ctx, state.Update{
				WorkerTaskID: task.WorkerTaskID,
				Status:       store.TaskRunning,
				Progress:     ev.Percent,
				Message:      message,
			})
			_ = c.Store.UpdateVideoDownloadProgress(ctx, c.Store.DB, p.VideoID, ev.Percent)
		}
	}

	runErr := cmd.Wait()
	if runErr == nil {
		return c.findDownloadedVideo(workDir)
	}

	output := captured.String()
	// Tolerant completion: a known-recoverable failure class with a
	// validating artifact is accepted with a warning.
	if media.IsRecoverableDownloadError(output) {
		path, verr := c.validateRecoveredDownload(task.WorkerTaskID, workDir)
		if verr == nil {
			log.Log(task.WorkerTaskID, "yt-dlp exited non-zero but the artifact validates, accepting with warning",
				"exit_err", runErr.Error())
			return path, nil
		}
		log.Log(task.WorkerTaskID, "recoverable error class but artifact did not validate", "err", verr.Error())
	}

	return "", fmt.Errorf("yt-dlp failed: %w: %s%s", runErr, tail(output, 2000), c.captureDiagnostics(workDir))
}

// validateRecoveredDownload accepts a download iff the file is at least 1 MiB
// and ffprobe reports a video stream, an audio stream and a duration.
func (c *Coordinator) validateRecoveredDownload(taskID, workDir string) (string, error) {
	path, err := c.findDownloadedVideo(workDir)
	if err != nil {
		return "", err
	}
	stat, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if stat.Size() < config.MinRecoveredDownloadBytes {
		return "", fmt.Errorf("artifact too small to accept: %d bytes", stat.Size())
	}
	info, err := c.Toolbox.Probe.ProbeFile(taskID, path)
	if err != nil {
		return "", fmt.Errorf("artifact failed probing: %w", err)
	}
	if !info.HasVideo || !info.HasAudio || info.Duration <= 0 {
		return "", fmt.Errorf("artifact incomplete: video=%v audio=%v duration=%f", info.HasVideo, info.HasAudio, info.Duration)
	}
	return path, nil
}

var videoExtensions = map[string]bool{".mp4": true, ".mkv": true, ".webm": true, ".ts": true, ".mov": true, ".flv": true}

func (c *Coordinator) findDownloadedVideo(workDir string) (string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", err
	}
	var best string
	var bestSize int64
	for _, entry := range entries {
		if entry.IsDir() || !videoExtensions[filepath.Ext(entry.Name())] {
			continue
		}
		fi, err := entry.Info()
		if err != nil {
			continue
		}
		if fi.Size() > bestSize {
			best = filepath.Join(workDir, entry.Name())
			bestSize = fi.Size()
		}
	}
	if best == "" {
		return "", xerrors.Unretriable(fmt.Errorf("no video file produced in %s", workDir))
	}
	return best, nil
}

// uploadDownloadArtifacts ships the video, its info JSON and the thumbnail,
// then verifies the video key exists before anything is marked done.
func (c *Coordinator) uploadDownloadArtifacts(ctx context.Context, task store.Task, p DownloadPayload, workDir, videoPath string) (string, string, error) {
	paths := storage.Paths{UserID: p.UserID, ProjectID: p.ProjectID}
	videoKey := paths.Video(filepath.Base(videoPath))

	if _, err := c.Gateway.Put(ctx, videoPath, videoKey, "video/mp4"); err != nil {
		return "", "", err
	}

	base := strings.TrimSuffix(videoPath, filepath.Ext(videoPath))
	if infoPath := base + ".info.json"; fileExists(infoPath) {
		infoKey := paths.Video(filepath.Base(infoPath))
		if _, err := c.Gateway.Put(ctx, infoPath, infoKey, "application/json"); err != nil {
			log.Log(task.WorkerTaskID, "info json upload failed, continuing", "err", err.Error())
		}
	}

	var thumbnailKey string
	for _, ext := range []string{".webp", ".jpg", ".png"} {
		thumbPath := base + ext
		if !fileExists(thumbPath) {
			continue
		}
		extID := strings.TrimSuffix(filepath.Base(videoPath), filepath.Ext(videoPath))
		thumbnailKey = paths.Thumbnail(extID, strings.TrimPrefix(ext, "."))
		if _, err := c.Gateway.Put(ctx, thumbPath, thumbnailKey, "image/"+strings.TrimPrefix(ext, ".")); err != nil {
			log.Log(task.WorkerTaskID, "thumbnail upload failed, continuing", "err", err.Error())
			thumbnailKey = ""
		}
		break
	}

	exists, err := c.Gateway.Exists(ctx, videoKey)
	if err != nil {
		return "", "", err
	}
	if !exists {
		return "", "", fmt.Errorf("uploaded video key %s does not exist in the object store", videoKey)
	}
	return videoKey, thumbnailKey, nil
}

func (c *Coordinator) failVideo(ctx context.Context, videoID int64, cause error) {
	if err := c.Store.UpdateVideoStatus(ctx, c.Store.DB, videoID, store.VideoFailed); err != nil {
		log.LogNoTaskID("failed to mark video failed", "video_id", videoID, "err", err, "cause", cause)
	}
}

// captureDiagnostics grabs disk usage and a network probe for the failure
// message, in the spirit of figuring out the unrecoverable ones postmortem.
func (c *Coordinator) captureDiagnostics(workDir string) string {
	var sb strings.Builder
	var fs syscall.Statfs_t
	if err := syscall.Statfs(workDir, &fs); err == nil {
		free := fs.Bavail * uint64(fs.Bsize)
		sb.WriteString(fmt.Sprintf(" [disk_free=%dMiB]", free/(1024*1024)))
	}
	conn, err := net.DialTimeout("tcp", "1.1.1.1:443", 3*time.Second)
	if err != nil {
		sb.WriteString(" [network=unreachable]")
	} else {
		_ = conn.Close()
		sb.WriteString(" [network=ok]")
	}
	return sb.String()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}

// progressDebouncer pushes an update only when the integer percent changes,
// a second has elapsed, the stage transitions, or the download completes.
type progressDebouncer struct {
	lastPush    time.Time
	lastPercent int
	lastStage   media.DownloadStage
}

func newProgressDebouncer() *progressDebouncer {
	return &progressDebouncer{lastPercent: -1}
}

func (d *progressDebouncer) observe(ev *media.ProgressEvent) (bool, string) {
	intPercent := int(math.Floor(ev.Percent))
	now := time.Now()

	push := ev.Stage == media.StageCompleted ||
		ev.Stage != d.lastStage ||
		intPercent != d.lastPercent ||
		now.Sub(d.lastPush) >= time.Second
	if !push {
		return false, ""
	}

	d.lastPush = now
	d.lastPercent = intPercent
	d.lastStage = ev.Stage

	message := fmt.Sprintf("%s %.1f%%", ev.Stage, ev.Percent)
	if ev.Speed != "" {
		message += fmt.Sprintf(" at %s/s", ev.Speed)
	}
	if ev.ETA != "" {
		message += " ETA " + ev.ETA
	}
	if ev.TotalFrags > 0 {
		message += fmt.Sprintf(" (frag %d/%d)", ev.Frag, ev.TotalFrags)
	}
	return true, message
}
