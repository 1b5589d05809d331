package asr

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/flowclip/flowclip-api/config"
	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/media"
	"github.com/flowclip/flowclip-api/storage"
	"github.com/flowclip/flowclip-api/subtitle"
)

// ModelKind selects the synchronous ASR endpoint family.
type ModelKind string

const (
	ModelWhisper ModelKind = "whisper"
	ModelSense   ModelKind = "sense"
)

// Strategy names which path handled a request; persisted in task output.
type Strategy string

const (
	StrategySync Strategy = "sync"
	StrategyTUS  Strategy = "tus"
)

// Registrar records the (asr task id -> worker task id) association in the
// shared key-value store so the callback server can resolve completions from
// any process.
type Registrar interface {
	RegisterTUSTask(ctx context.Context, asrTaskID, workerTaskID string) error
	Available() bool
}

// Request is one SRT generation unit. When Start/End describe a sub-interval
// the router cuts a scoped WAV first and shifts all emitted timestamps by
// Start.
type Request struct {
	WorkerTaskID string
	LocalAudio   string
	VideoID      int64
	ProjectID    int64
	UserID       int64

	// slice-tree routing; zero values mean the request targets the source video
	SliceID    int64
	SubSliceID int64
	SliceUUID  string

	// optional sub-interval of the audio, seconds
	Start float64
	End   float64
}

// Result is what the router hands back to the SRT task.
type Result struct {
	Strategy      Strategy
	SRT           string
	SRTKey        string
	SRTURL        string
	TotalSegments int
	// Async means the TUS path accepted the upload and returned without
	// waiting: the task stays running and the callback server finishes it.
	Async          bool
	ASRTaskID      string
	FallbackReason string
}

// Router picks the synchronous or TUS strategy by audio size and executes it.
type Router struct {
	Sync      *SyncClient
	TUS       *TUSClient
	Registrar Registrar
	Gateway   *storage.Gateway
	Toolbox   *media.Toolbox

	Threshold  int64
	TusEnabled bool
}

func NewRouter(sync *SyncClient, tus *TUSClient, registrar Registrar, gw *storage.Gateway, tb *media.Toolbox, threshold int64, tusEnabled bool) *Router {
	if threshold <= 0 {
		threshold = config.DefaultASRSizeThreshold
	}
	return &Router{Sync: sync, TUS: tus, Registrar: registrar, Gateway: gw, Toolbox: tb, Threshold: threshold, TusEnabled: tusEnabled}
}

// GenerateSRT runs one request end to end. On the synchronous path the SRT is
// sanitized, stored and returned; on the TUS path the upload is performed,
// the task registered, and the call returns with Async=true.
func (r *Router) GenerateSRT(ctx context.Context, req Request) (Result, error) {
	audioPath := req.LocalAudio

	// scope to the sub-interval before anything is sized or sent
	if req.End > req.Start && req.Start >= 0 && (req.Start != 0 || req.End != 0) {
		if req.End-req.Start < 5 {
			return Result{}, fmt.Errorf("refusing ASR cut of %.2fs: shorter than the 5s floor", req.End-req.Start)
		}
		cutPath := filepath.Join(os.TempDir(), fmt.Sprintf("asr_cut_%s.wav", req.WorkerTaskID))
		if err := r.Toolbox.Cut(req.WorkerTaskID, audioPath, cutPath, req.Start, req.End); err != nil {
			return Result{}, fmt.Errorf("error cutting ASR sub-interval: %w", err)
		}
		defer os.Remove(cutPath)
		audioPath = cutPath
	}

	stat, err := os.Stat(audioPath)
	if err != nil {
		return Result{}, fmt.Errorf("cannot stat audio file: %w", err)
	}

	strategy, fallbackReason := r.pickStrategy(stat.Size())
	if fallbackReason != "" {
		log.Log(req.WorkerTaskID, "falling back to synchronous ASR", "reason", fallbackReason, "size", stat.Size())
	}

	if strategy == StrategyTUS {
		asrTaskID, err := r.TUS.Submit(ctx, req.WorkerTaskID, audioPath)
		if err != nil {
			return Result{}, err
		}
		if err := r.Registrar.RegisterTUSTask(ctx, asrTaskID, req.WorkerTaskID); err != nil {
			return Result{}, fmt.Errorf("error registering TUS task: %w", err)
		}
		log.Log(req.WorkerTaskID, "TUS upload accepted, returning without waiting", "asr_task_id", asrTaskID)
		return Result{Strategy: StrategyTUS, Async: true, ASRTaskID: asrTaskID}, nil
	}

	raw, err := r.Sync.Transcribe(ctx, req.WorkerTaskID, audioPath)
	if err != nil {
		return Result{}, err
	}

	cues, err := subtitle.Parse(raw)
	if err != nil {
		return Result{}, fmt.Errorf("ASR returned unparseable SRT: %w", err)
	}
	if req.Start > 0 {
		cues = subtitle.Shift(cues, req.Start)
	}
	cues = subtitle.Sanitize(cues)
	srt := subtitle.Format(cues)

	key := r.OutputKey(req)
	url, err := r.Gateway.PutBytes(ctx, []byte(srt), key, "text/srt")
	if err != nil {
		return Result{}, fmt.Errorf("error storing SRT artifact: %w", err)
	}

	res := Result{
		Strategy:       StrategySync,
		SRT:            srt,
		SRTKey:         key,
		SRTURL:         url,
		TotalSegments:  len(cues),
		FallbackReason: fallbackReason,
	}
	return res, nil
}

// pickStrategy selects by file size: at or below the threshold is
// synchronous, above it is TUS. When TUS is configured unavailable the
// router falls back and records why.
func (r *Router) pickStrategy(size int64) (Strategy, string) {
	if size <= r.Threshold {
		return StrategySync, ""
	}
	if !r.TusEnabled || r.Registrar == nil || !r.Registrar.Available() || r.TUS == nil {
		return StrategySync, "tus unavailable: no shared key-value store or callback host"
	}
	return StrategyTUS, ""
}

// OutputKey resolves where this request's SRT belongs. Slice-tree requests
// use the slice layout so the draft exporter can discover artifacts
// deterministically; the default is the per-video subtitles path.
func (r *Router) OutputKey(req Request) string {
	paths := storage.Paths{UserID: req.UserID, ProjectID: req.ProjectID}
	switch {
	case req.SubSliceID != 0 && req.SliceUUID != "":
		return paths.SubSliceSubtitle(req.SliceUUID, req.SubSliceID)
	case req.SliceID != 0 && req.SliceUUID != "":
		return paths.SliceSubtitle(req.SliceUUID)
	default:
		return paths.Subtitle(req.VideoID)
	}
}
