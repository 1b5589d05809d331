package config

import (
	"math/rand"
	"time"
)

var Version string

// Used so that we can generate fixed timestamps in tests
var Clock TimestampGenerator = RealTimestampGenerator{}

// Default ASR routing threshold. Files at or below this size go through the
// synchronous HTTP path; anything larger goes through TUS.
const DefaultASRSizeThreshold = 50 * 1024 * 1024

// Default port for the singleton TUS callback server
const DefaultCallbackPort = 9090

// Anything smaller than this out of a cut is treated as an empty output
const MinCutOutputBytes = 100

// Minimum size for a tolerated-error download to be probed at all
const MinRecoveredDownloadBytes = 1 * 1024 * 1024

// Normalized audio contract for ASR
const (
	AudioSampleRate = 16000
	AudioChannels   = 1
)

// TTLs for the shared key-value store entries owned by the callback server
const (
	TusCallbackTTL = 1 * time.Hour
	TusResultTTL   = 5 * time.Minute
)

// Somewhat arbitrary and conservative cap on concurrently running pipeline
// tasks per process.
var MaxInFlightJobs = 8

// Retries after the first yt-dlp attempt: 3 attempts in all.
var DownloadRetries uint64 = 2

const DefaultPresignTTL = 1 * time.Hour

// Equal thirds unless overridden by -stage-weights.
func DefaultStageWeights() StageWeightMap {
	return StageWeightMap{
		"download":      1.0 / 3,
		"extract_audio": 1.0 / 3,
		"generate_srt":  1.0 / 3,
	}
}

func RandomTrailer(length int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	res := make([]byte, length)
	for i := 0; i < length; i++ {
		res[i] = charset[r.Intn(len(charset))]
	}
	return string(res)
}
