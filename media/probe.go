package media

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// MediaInfo is the subset of probe output the pipeline cares about.
type MediaInfo struct {
	Duration   float64
	SizeBytes  int64
	Container  string
	HasVideo   bool
	HasAudio   bool
	SampleRate int
	Channels   int
	AudioCodec string
	VideoCodec string
	Width      int
	Height     int
}

type Prober interface {
	ProbeFile(taskID, path string) (MediaInfo, error)
}

type Probe struct{}

func (p Probe) ProbeFile(taskID, path string) (MediaInfo, error) {
	var data *ffprobe.ProbeData
	operation := func() error {
		probeCtx, probeCancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer probeCancel()
		var err error
		data, err = ffprobe.ProbeURL(probeCtx, path, "-loglevel", "error")
		return err
	}

	backOff := backoff.NewExponentialBackOff()
	backOff.InitialInterval = 500 * time.Millisecond
	backOff.MaxInterval = 2 * time.Second
	backOff.MaxElapsedTime = 0 // don't impose a timeout as part of the retries
	if err := backoff.Retry(operation, backoff.WithMaxRetries(backOff, 3)); err != nil {
		return MediaInfo{}, fmt.Errorf("error probing %q: %w", path, err)
	}
	return parseProbeOutput(data)
}

func parseProbeOutput(probeData *ffprobe.ProbeData) (MediaInfo, error) {
	if probeData.Format == nil {
		return MediaInfo{}, errors.New("error parsing probed media: format information missing")
	}

	info := MediaInfo{
		Container: probeData.Format.FormatName,
		Duration:  probeData.Format.DurationSeconds,
	}
	if probeData.Format.Size != "" {
		size, err := strconv.ParseInt(probeData.Format.Size, 10, 64)
		if err != nil {
			return MediaInfo{}, fmt.Errorf("error parsing filesize from probed data: %w", err)
		}
		info.SizeBytes = size
	}

	if videoStream := probeData.FirstVideoStream(); videoStream != nil {
		info.HasVideo = true
		info.VideoCodec = videoStream.CodecName
		info.Width = videoStream.Width
		info.Height = videoStream.Height
		if info.Duration == 0 {
			if d, err := strconv.ParseFloat(videoStream.Duration, 64); err == nil {
				info.Duration = d
			}
		}
	}

	if audioStream := probeData.FirstAudioStream(); audioStream != nil {
		info.HasAudio = true
		info.AudioCodec = audioStream.CodecName
		info.Channels = audioStream.Channels
		if audioStream.SampleRate != "" {
			rate, err := strconv.Atoi(audioStream.SampleRate)
			if err != nil {
				return MediaInfo{}, fmt.Errorf("error parsing sample rate from probed data: %w", err)
			}
			info.SampleRate = rate
		}
	}

	return info, nil
}
