package callback

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	xerrors "github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/log"
	"github.com/flowclip/flowclip-api/metrics"
	"github.com/flowclip/flowclip-api/state"
	"github.com/flowclip/flowclip-api/storage"
	"github.com/flowclip/flowclip-api/store"
	"github.com/flowclip/flowclip-api/subtitle"
	"github.com/julienschmidt/httprouter"
)

// orphanWindow bounds the last-resort association of a callback with no
// resolvable registration: newest running TUS task within this window.
const orphanWindow = 2 * time.Hour

// Server is the singleton HTTP endpoint that receives TUS completion
// callbacks and finishes the tasks that registered for them. Exactly one
// instance runs per host; startup is gated by a keyed lock in the shared
// key-value store plus a health probe of any process already on the port.
type Server struct {
	Addr     string
	Registry *Registry
	Store    *store.Store
	State    *state.Manager
	Gateway  *storage.Gateway

	httpClient *http.Client
	startedAt  time.Time

	callbacksReceived atomic.Int64
	tasksCompleted    atomic.Int64
	tasksFailed       atomic.Int64
	orphanedCallbacks atomic.Int64
}

func NewServer(addr string, registry *Registry, st *store.Store, sm *state.Manager, gw *storage.Gateway) *Server {
	return &Server{
		Addr:       addr,
		Registry:   registry,
		Store:      st,
		State:      sm,
		Gateway:    gw,
		httpClient: &http.Client{Timeout: 2 * time.Minute},
	}
}

// Start binds the server. If the port is already taken by a healthy callback
// server the start is a no-op (the existing instance is reused); an occupied
// port with no responding /health is a hard failure.
func (s *Server) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.Addr)
	if err != nil {
		if s.probeExistingHealth() {
			log.LogNoTaskID("callback server already running and healthy, reusing", "addr", s.Addr)
			<-ctx.Done()
			return nil
		}
		return fmt.Errorf("callback port %s is taken by an unresponsive process: %w", s.Addr, err)
	}

	holder, _ := os.Hostname()
	locked, lockErr := s.Registry.AcquireStartupLock(ctx, fmt.Sprintf("%s:%d", holder, os.Getpid()), time.Minute)
	if lockErr == nil && !locked {
		// Lost the race; if the winner is already serving, defer to it.
		if s.probeExistingHealth() {
			_ = listener.Close()
			log.LogNoTaskID("another process won callback server startup, reusing it")
			<-ctx.Done()
			return nil
		}
	}
	defer func() {
		_ = s.Registry.ReleaseStartupLock(context.Background())
	}()

	s.startedAt = time.Now()
	router := httprouter.New()
	router.POST("/callback", s.handleCallback)
	router.GET("/health", s.handleHealth)
	router.GET("/stats", s.handleStats)

	server := http.Server{Handler: router}
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Serve(listener)
	}()
	log.LogNoTaskID("callback server listening", "addr", s.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) probeExistingHealth() bool {
	client := http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get("http://" + s.Addr + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// CallbackPayload is what the ASR backend POSTs on completion.
type CallbackPayload struct {
	TaskID       string `json:"task_id"`
	Status       string `json:"status"`
	SrtURL       string `json:"srt_url,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	s.callbacksReceived.Add(1)
	metrics.Metrics.Callback.Received.Inc()

	var payload CallbackPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		xerrors.WriteHTTPBadRequest(w, "unparseable callback payload", err)
		return
	}
	if payload.TaskID == "" {
		xerrors.WriteHTTPBadRequest(w, "callback payload missing task_id", nil)
		return
	}

	ctx := r.Context()
	err := s.processCallback(ctx, payload)

	// Always clear the registration and cache the outcome: late pollers can
	// still recover the result for the next few minutes.
	if delErr := s.Registry.DeleteRegistration(ctx, payload.TaskID); delErr != nil {
		log.LogNoTaskID("failed to delete TUS registration", "asr_task_id", payload.TaskID, "err", delErr)
	}
	result := CallbackResult{TaskID: payload.TaskID, Status: payload.Status, SrtURL: payload.SrtURL, ErrorMessage: payload.ErrorMessage}
	if err != nil {
		result.Status = "failed"
		result.ErrorMessage = err.Error()
	}
	if cacheErr := s.Registry.StoreResult(ctx, result); cacheErr != nil {
		log.LogNoTaskID("failed to cache TUS result", "asr_task_id", payload.TaskID, "err", cacheErr)
	}

	if err != nil {
		log.LogNoTaskID("callback processing failed", "asr_task_id", payload.TaskID, "err", err)
		xerrors.WriteHTTPInternalServerError(w, "callback processing failed", err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) processCallback(ctx context.Context, payload CallbackPayload) error {
	task, err := s.resolveTask(ctx, payload.TaskID)
	if err != nil {
		s.orphanedCallbacks.Add(1)
		metrics.Metrics.Callback.Orphaned.Inc()
		return err
	}
	log.Log(task.WorkerTaskID, "received TUS callback", "asr_task_id", payload.TaskID, "status", payload.Status)

	switch payload.Status {
	case "completed":
		return s.completeTask(ctx, task, payload)
	case "failed":
		return s.failTask(ctx, task, payload.ErrorMessage)
	default:
		return fmt.Errorf("unknown callback status %q", payload.Status)
	}
}

// resolveTask maps the upstream ASR task id back onto the durable Task, in
// order: explicit key-value registration, worker id substring in input_data,
// newest running TUS task within the last 2h.
func (s *Server) resolveTask(ctx context.Context, asrTaskID string) (store.Task, error) {
	if reg, found, err := s.Registry.LookupRegistration(ctx, asrTaskID); err == nil && found {
		task, err := s.Store.GetTaskByWorkerID(ctx, s.Store.DB, reg.WorkerTaskID)
		if err == nil {
			return task, nil
		}
		log.LogNoTaskID("registered worker task vanished, continuing fallback resolution", "worker_task_id", reg.WorkerTaskID)
	}

	if task, err := s.Store.FindTaskByInputSubstring(ctx, s.Store.DB, asrTaskID); err == nil {
		return task, nil
	}

	task, err := s.Store.FindNewestRunningTUSTask(ctx, s.Store.DB, orphanWindow)
	if err != nil {
		return store.Task{}, fmt.Errorf("no task resolvable for ASR task %s: %w", asrTaskID, err)
	}
	log.Log(task.WorkerTaskID, "adopted orphaned TUS callback", "asr_task_id", asrTaskID)
	return task, nil
}

func (s *Server) completeTask(ctx context.Context, task store.Task, payload CallbackPayload) error {
	srt, err := s.downloadSRT(ctx, payload.SrtURL)
	if err != nil {
		return err
	}

	cues, err := subtitle.Parse(srt)
	if err != nil {
		return fmt.Errorf("callback delivered unparseable SRT: %w", err)
	}
	cues = subtitle.Sanitize(cues)
	normalized := subtitle.Format(cues)

	key, err := s.outputKey(ctx, task)
	if err != nil {
		return err
	}
	srtURL, err := s.Gateway.PutBytes(ctx, []byte(normalized), key, "text/srt")
	if err != nil {
		return fmt.Errorf("error storing callback SRT: %w", err)
	}

	if err := s.State.UpdateFromWorker(ctx, state.Update{
		WorkerTaskID: task.WorkerTaskID,
		Status:       store.TaskSuccess,
		Progress:     100,
		Message:      "srt generated via tus callback",
		Output: store.JSONMap{
			"srt_url":        srtURL,
			"srt_key":        key,
			"total_segments": len(cues),
			"strategy":       "tus",
			"processing_info": map[string]interface{}{
				"source": "callback_server",
			},
		},
	}); err != nil {
		return err
	}

	if err := s.cascade(ctx, task, store.ProcessCompleted, srtURL, ""); err != nil {
		return err
	}

	s.tasksCompleted.Add(1)
	metrics.Metrics.Callback.Completed.Inc()
	return nil
}

func (s *Server) failTask(ctx context.Context, task store.Task, errMsg string) error {
	if errMsg == "" {
		errMsg = "asr backend reported failure"
	}
	if err := s.State.UpdateFromWorker(ctx, state.Update{
		WorkerTaskID: task.WorkerTaskID,
		Status:       store.TaskFailure,
		Progress:     task.Progress,
		ErrorMessage: errMsg,
		Output:       store.JSONMap{"strategy": "tus"},
	}); err != nil {
		return err
	}
	if err := s.cascade(ctx, task, store.ProcessFailed, "", errMsg); err != nil {
		return err
	}
	s.tasksFailed.Add(1)
	metrics.Metrics.Callback.Failed.Inc()
	return nil
}

// cascade pushes the outcome onto the owning slice, sub-slice or video row.
func (s *Server) cascade(ctx context.Context, task store.Task, status store.ProcessStatus, srtURL, errMsg string) error {
	if subSliceID, ok := task.SubSliceID(); ok {
		return s.Store.UpdateSubSliceSrt(ctx, s.Store.DB, subSliceID, status, srtURL, task.WorkerTaskID, errMsg)
	}
	if sliceID, ok := task.SliceID(); ok {
		return s.Store.UpdateSliceSrt(ctx, s.Store.DB, sliceID, status, srtURL, task.WorkerTaskID, errMsg)
	}
	if status == store.ProcessCompleted {
		return s.Store.UpsertTranscript(ctx, s.Store.DB, task.VideoID, srtURL)
	}
	return nil
}

// outputKey places the SRT into the slice tree when the originating slice or
// sub-slice already has cut media (its uuid is parsed back out of the stored
// key). Otherwise a slice-tree task falls back to an id-named key
// (subtitles/slice_{id}.srt or subtitles/sub_slice_{id}.srt); tasks of the
// source video itself use the per-video subtitles path.
func (s *Server) outputKey(ctx context.Context, task store.Task) (string, error) {
	video, err := s.Store.GetVideo(ctx, s.Store.DB, task.VideoID)
	if err != nil {
		return "", err
	}
	paths := storage.Paths{UserID: video.UserID, ProjectID: video.ProjectID}

	if subSliceID, ok := task.SubSliceID(); ok {
		sub, err := s.Store.GetSubSlice(ctx, s.Store.DB, subSliceID)
		if err == nil {
			if uuid, ok := storage.SliceUUIDFromKey(sub.SlicedFilePath); ok {
				return paths.SubSliceSubtitle(uuid, subSliceID), nil
			}
		}
		return fmt.Sprintf("subtitles/sub_slice_%d.srt", subSliceID), nil
	}
	if sliceID, ok := task.SliceID(); ok {
		slice, err := s.Store.GetSlice(ctx, s.Store.DB, sliceID)
		if err == nil {
			if uuid, ok := storage.SliceUUIDFromKey(slice.SlicedFilePath); ok {
				return paths.SliceSubtitle(uuid), nil
			}
		}
		return fmt.Sprintf("subtitles/slice_%d.srt", sliceID), nil
	}
	return paths.Subtitle(task.VideoID), nil
}

// downloadSRT fetches the advertised SRT. Accepts either a {code:0,data:...}
// JSON envelope or a text/plain body; byte decoding tries UTF-8 (with or
// without BOM), GBK, then Latin-1.
func (s *Server) downloadSRT(ctx context.Context, srtURL string) (string, error) {
	if srtURL == "" {
		return "", fmt.Errorf("completed callback carried no srt_url")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srtURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", xerrors.NewPipelineError(xerrors.KindUpstreamUnavailable, fmt.Errorf("error downloading SRT: %w", err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", xerrors.NewPipelineError(xerrors.KindUpstreamProtocol,
			fmt.Errorf("SRT download returned %d", resp.StatusCode))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return ExtractSRT(raw)
}

// ExtractSRT unwraps the optional JSON envelope and decodes the bytes.
func ExtractSRT(raw []byte) (string, error) {
	var envelope struct {
		Code *int   `json:"code"`
		Data string `json:"data"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Code != nil {
		if *envelope.Code != 0 {
			return "", fmt.Errorf("SRT download envelope carried error code %d", *envelope.Code)
		}
		raw = []byte(envelope.Data)
	}
	return subtitle.DecodeBytes(raw)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "healthy",
		"uptime": time.Since(s.startedAt).Seconds(),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"callbacks_received": s.callbacksReceived.Load(),
		"tasks_completed":    s.tasksCompleted.Load(),
		"tasks_failed":       s.tasksFailed.Load(),
		"orphaned_callbacks": s.orphanedCallbacks.Load(),
		"uptime":             time.Since(s.startedAt).Seconds(),
	})
}
