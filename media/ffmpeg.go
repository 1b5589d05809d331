package media

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/flowclip/flowclip-api/config"
	"github.com/flowclip/flowclip-api/log"
	ffmpeg "github.com/u2takey/ffmpeg-go"
)

// Toolbox shells out to ffmpeg for cutting and audio normalization. All
// operations write local files; upload is the caller's concern.
type Toolbox struct {
	Probe Prober
}

func NewToolbox() *Toolbox {
	return &Toolbox{Probe: Probe{}}
}

// Cut extracts [start,end] out of src with accurate seek. The re-encode keeps
// trim boundaries sample-aligned, which copy-mode seeking cannot guarantee.
// Outputs smaller than the empty-cut floor are rejected before anything
// downstream can consume them.
func (t *Toolbox) Cut(taskID, src, dst string, start, end float64) error {
	if end <= start {
		return fmt.Errorf("invalid cut range [%f, %f]", start, end)
	}

	args := []string{
		"-ss", formatSeekTime(start),
		"-to", formatSeekTime(end),
		"-i", src,
		"-c:v", "libx264",
		"-c:a", "aac",
		"-avoid_negative_ts", "make_zero",
		dst, "-y",
	}

	timeout, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()
	cmd := exec.CommandContext(timeout, "ffmpeg", args...)

	log.Log(taskID, "cutting", "compiled-command", fmt.Sprintf("ffmpeg %s", args))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("failed to cut %s [%s] [%s]: %w", src, stdout.String(), stderr.String(), err)
	}

	stat, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("cut output missing: %w", err)
	}
	if stat.Size() < config.MinCutOutputBytes {
		return fmt.Errorf("cut produced an empty output (%d bytes) for [%f, %f]", stat.Size(), start, end)
	}
	return nil
}

// formatSeekTime renders seconds in ffmpeg's expected time syntax.
func formatSeekTime(seconds float64) string {
	timeMillis := int64(seconds * 1000)
	duration := time.Duration(timeMillis) * time.Millisecond
	formatted := time.Date(0, 1, 1, 0, 0, 0, 0, time.UTC).Add(duration)
	return formatted.Format("15:04:05.000")
}

// ExtractAudio produces the normalized ASR contract: 16-bit signed
// little-endian PCM WAV, 16 kHz, mono.
func (t *Toolbox) ExtractAudio(taskID, src, dst string) error {
	ffmpegErr := bytes.Buffer{}
	err := ffmpeg.Input(src).
		Output(dst, ffmpeg.KwArgs{
			"vn":     "",
			"acodec": "pcm_s16le",
			"ar":     config.AudioSampleRate,
			"ac":     config.AudioChannels,
			"f":      "wav",
		}).OverWriteOutput().WithErrorOutput(&ffmpegErr).Run()
	if err != nil {
		return fmt.Errorf("failed to extract audio from %s [%s]: %w", src, ffmpegErr.String(), err)
	}
	log.Log(taskID, "extracted audio", "src", src, "dst", dst)
	return nil
}

// Resample normalizes an existing audio file to 16 kHz mono. Returns the path
// of the usable file: the original when it already matches the contract, or a
// freshly encoded sibling otherwise.
func (t *Toolbox) Resample(taskID, src string) (string, bool, error) {
	info, err := t.Probe.ProbeFile(taskID, src)
	if err != nil {
		return "", false, fmt.Errorf("failed to probe audio before resample: %w", err)
	}
	if info.SampleRate == config.AudioSampleRate && info.Channels == config.AudioChannels {
		return src, false, nil
	}

	dst := src + ".16k.wav"
	ffmpegErr := bytes.Buffer{}
	err = ffmpeg.Input(src).
		Output(dst, ffmpeg.KwArgs{
			"acodec": "pcm_s16le",
			"ar":     config.AudioSampleRate,
			"ac":     config.AudioChannels,
			"f":      "wav",
		}).OverWriteOutput().WithErrorOutput(&ffmpegErr).Run()
	if err != nil {
		return "", false, fmt.Errorf("failed to resample %s [%s]: %w", src, ffmpegErr.String(), err)
	}
	log.Log(taskID, "resampled audio", "src", src, "from_rate", info.SampleRate, "from_channels", info.Channels)
	return dst, true, nil
}
