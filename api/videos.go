package api

import (
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/metrics"
	"github.com/flowclip/flowclip-api/pipeline"
	"github.com/flowclip/flowclip-api/storage"
	"github.com/flowclip/flowclip-api/store"
	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"
)

func (d *HandlersCollection) Ok() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		_, _ = io.WriteString(w, "OK")
	}
}

func HasContentType(r *http.Request, mimetype string) bool {
	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return mimetype == "application/octet-stream"
	}

	for _, v := range strings.Split(contentType, ",") {
		t, _, err := mime.ParseMediaType(v)
		if err != nil {
			break
		}
		if t == mimetype {
			return true
		}
	}

	return false
}

// callerID identifies the acting user. Authentication itself is handled by
// the external collaborator; the header is trusted behind the API token.
func callerID(req *http.Request) (int64, error) {
	raw := req.Header.Get("X-User-ID")
	if raw == "" {
		return 0, fmt.Errorf("missing X-User-ID header")
	}
	return strconv.ParseInt(raw, 10, 64)
}

func pathID(ps httprouter.Params, name string) (int64, error) {
	return strconv.ParseInt(ps.ByName(name), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// VideoPostDispatch routes POST /videos/download to the download handler;
// any other :id value has no POST endpoint at this depth.
func (d *HandlersCollection) VideoPostDispatch() httprouter.Handle {
	download := d.DownloadVideo()
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		if ps.ByName("id") == "download" {
			download(w, req, ps)
			return
		}
		errors.WriteHTTPNotFound(w, "Unknown endpoint", nil)
	}
}

type DownloadVideoRequest struct {
	URL         string `json:"url"`
	ProjectID   int64  `json:"project_id"`
	Quality     string `json:"quality,omitempty"`
	CookiesFile string `json:"cookies_file,omitempty"`
}

// DownloadVideo starts the pipeline for a new source URL.
func (d *HandlersCollection) DownloadVideo() httprouter.Handle {
	schema := inputSchemasCompiled["DownloadVideo"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var downloadRequest DownloadVideoRequest

		if !HasContentType(req, "application/json") {
			errors.WriteHTTPBadRequest(w, "Requires application/json content type", nil)
			return
		} else if payload, err := io.ReadAll(req.Body); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		} else if result, err := schema.Validate(gojsonschema.NewBytesLoader(payload)); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot validate payload", err)
			return
		} else if !result.Valid() {
			errors.WriteHTTPBadBodySchema("DownloadVideo", w, result.Errors())
			return
		} else if err := json.Unmarshal(payload, &downloadRequest); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}

		userID, err := callerID(req)
		if err != nil {
			errors.WriteHTTPUnauthorized(w, "Cannot identify caller", err)
			return
		}
		metrics.Metrics.DownloadRequestCount.Inc()

		// an identical re-submission lands on the same video row, and with it
		// the same idempotent download task
		video, err := d.Store.FindVideoByProjectURL(req.Context(), d.Store.DB, downloadRequest.ProjectID, downloadRequest.URL)
		if err != nil {
			if errors.KindOf(err) != errors.KindNotFound {
				errors.WriteHTTPInternalServerError(w, "Cannot look up video", err)
				return
			}
			video = store.Video{
				ProjectID: downloadRequest.ProjectID,
				UserID:    userID,
				URL:       downloadRequest.URL,
				Status:    store.VideoPending,
				Metadata:  store.JSONMap{},
			}
			if err := d.Store.CreateVideo(req.Context(), d.Store.DB, &video); err != nil {
				errors.WriteHTTPInternalServerError(w, "Cannot create video", err)
				return
			}
		}

		task, err := d.Engine.StartDownload(req.Context(), pipeline.DownloadPayload{
			VideoID:     video.ID,
			ProjectID:   downloadRequest.ProjectID,
			UserID:      userID,
			URL:         downloadRequest.URL,
			Quality:     downloadRequest.Quality,
			CookiesFile: downloadRequest.CookiesFile,
		})
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot start download", err)
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"video_id":       video.ID,
			"worker_task_id": task.WorkerTaskID,
		})
	}
}

// ExtractAudio kicks the audio worker on the source video.
func (d *HandlersCollection) ExtractAudio() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		videoID, err := pathID(ps, "id")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}
		video, err := d.Store.GetVideo(req.Context(), d.Store.DB, videoID)
		if err != nil {
			errors.WriteHTTPNotFound(w, "Video not found", err)
			return
		}
		if video.StoragePath == "" {
			errors.WriteHTTPBadRequest(w, "Video has no stored media yet", nil)
			return
		}

		task, err := d.Engine.StartExtractAudio(req.Context(), pipeline.AudioPayload{
			VideoID:   video.ID,
			ProjectID: video.ProjectID,
			UserID:    video.UserID,
			SourceKey: video.StoragePath,
		})
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot start audio extraction", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"worker_task_id": task.WorkerTaskID})
	}
}

// GenerateSRT kicks subtitle generation on the source video's audio.
func (d *HandlersCollection) GenerateSRT() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		videoID, err := pathID(ps, "id")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}
		video, err := d.Store.GetVideo(req.Context(), d.Store.DB, videoID)
		if err != nil {
			errors.WriteHTTPNotFound(w, "Video not found", err)
			return
		}
		audioKey, _ := video.Metadata["audio_path"].(string)
		if audioKey == "" {
			errors.WriteHTTPBadRequest(w, "Video has no extracted audio yet", nil)
			return
		}

		task, err := d.Engine.StartGenerateSRT(req.Context(), pipeline.SRTPayload{
			VideoID:   video.ID,
			ProjectID: video.ProjectID,
			UserID:    video.UserID,
			AudioKey:  audioKey,
		})
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot start subtitle generation", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"worker_task_id": task.WorkerTaskID})
	}
}

// CancelVideo revokes a video's in-flight root tasks.
func (d *HandlersCollection) CancelVideo() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		videoID, err := pathID(ps, "id")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}
		if err := d.Engine.Cancel(req.Context(), videoID); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot cancel video", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
	}
}

// VideoProgress returns the roll-up plus the task list, cacheable for 5s.
func (d *HandlersCollection) VideoProgress() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		videoID, err := pathID(ps, "id")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}

		status, err := d.Store.GetProcessingStatus(req.Context(), d.Store.DB, videoID)
		if err != nil && errors.KindOf(err) != errors.KindNotFound {
			errors.WriteHTTPInternalServerError(w, "Cannot load processing status", err)
			return
		}
		tasks, err := d.Store.ListTasksForVideo(req.Context(), d.Store.DB, videoID)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot load tasks", err)
			return
		}

		taskViews := make([]map[string]interface{}, 0, len(tasks))
		for _, t := range tasks {
			taskViews = append(taskViews, map[string]interface{}{
				"worker_task_id": t.WorkerTaskID,
				"type":           t.Type,
				"status":         t.Status,
				"progress":       t.Progress,
				"stage":          t.Stage,
				"message":        t.Message,
				"error_message":  t.ErrorMessage,
			})
		}

		w.Header().Set("Cache-Control", "max-age=5")
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"processing_status": status,
			"tasks":             taskViews,
		})
	}
}

// ProcessingStatus reports per-stage status plus artifact summaries.
func (d *HandlersCollection) ProcessingStatus() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		videoID, err := pathID(ps, "id")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}
		video, err := d.Store.GetVideo(req.Context(), d.Store.DB, videoID)
		if err != nil {
			errors.WriteHTTPNotFound(w, "Video not found", err)
			return
		}
		status, err := d.Store.GetProcessingStatus(req.Context(), d.Store.DB, videoID)
		if err != nil && errors.KindOf(err) != errors.KindNotFound {
			errors.WriteHTTPInternalServerError(w, "Cannot load processing status", err)
			return
		}

		artifacts := map[string]interface{}{
			"video_path":     video.StoragePath,
			"thumbnail_path": video.ThumbnailPath,
			"audio_path":     video.Metadata["audio_path"],
		}
		if transcript, err := d.Store.GetTranscript(req.Context(), d.Store.DB, videoID); err == nil {
			artifacts["srt_path"] = transcript.SrtURL
		}

		writeJSON(w, http.StatusOK, map[string]interface{}{
			"video_status":      video.Status,
			"download_progress": video.DownloadProgress,
			"processing_status": status,
			"artifacts":         artifacts,
		})
	}
}

// artifactKey resolves the object key of one downloadable artifact kind.
func (d *HandlersCollection) artifactKey(req *http.Request, videoID int64, kind string) (string, string, error) {
	video, err := d.Store.GetVideo(req.Context(), d.Store.DB, videoID)
	if err != nil {
		return "", "", err
	}
	paths := storage.Paths{UserID: video.UserID, ProjectID: video.ProjectID}

	switch kind {
	case "video":
		if video.StoragePath == "" {
			return "", "", errors.NewObjectNotFoundError("video artifact not produced yet", nil)
		}
		return video.StoragePath, "video/mp4", nil
	case "audio":
		if key, ok := video.Metadata["audio_path"].(string); ok && key != "" {
			return key, "audio/wav", nil
		}
		return paths.Audio(videoID), "audio/wav", nil
	case "srt":
		if transcript, err := d.Store.GetTranscript(req.Context(), d.Store.DB, videoID); err == nil {
			if _, perr := storage.ParseKey(transcript.SrtURL); perr == nil {
				return transcript.SrtURL, "text/srt", nil
			}
		}
		return paths.Subtitle(videoID), "text/srt", nil
	case "thumbnail":
		if video.ThumbnailPath == "" {
			return "", "", errors.NewObjectNotFoundError("thumbnail not produced", nil)
		}
		return video.ThumbnailPath, "image/webp", nil
	}
	return "", "", fmt.Errorf("unknown artifact kind %q", kind)
}

// ArtifactURL mints a presigned URL for one artifact.
func (d *HandlersCollection) ArtifactURL(kind string) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		videoID, err := pathID(ps, "id")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}
		key, _, err := d.artifactKey(req, videoID, kind)
		if err != nil {
			errors.WriteHTTPNotFound(w, "Artifact not found", err)
			return
		}
		url, err := d.Gateway.Presign(req.Context(), key, 0)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot presign artifact", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"url": url})
	}
}

// StreamVideo proxies the video with byte-range support.
func (d *HandlersCollection) StreamVideo() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		videoID, err := pathID(ps, "id")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}
		key, contentType, err := d.artifactKey(req, videoID, "video")
		if err != nil {
			errors.WriteHTTPNotFound(w, "Artifact not found", err)
			return
		}

		stat, err := d.Gateway.StatObject(req.Context(), key)
		if err != nil {
			errors.WriteHTTPNotFound(w, "Artifact not found", err)
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", contentType)

		rangeHeader := req.Header.Get("Range")
		if rangeHeader == "" {
			reader, _, err := d.Gateway.GetStream(req.Context(), key)
			if err != nil {
				errors.WriteHTTPInternalServerError(w, "Cannot read artifact", err)
				return
			}
			defer reader.Close()
			w.Header().Set("Content-Length", strconv.FormatInt(stat.Size, 10))
			_, _ = io.Copy(w, reader)
			return
		}

		start, length, err := parseRange(rangeHeader, stat.Size)
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid range", err)
			return
		}
		reader, err := d.Gateway.GetRange(req.Context(), key, start, length)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read artifact range", err)
			return
		}
		defer reader.Close()

		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, start+length-1, stat.Size))
		w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
		w.WriteHeader(http.StatusPartialContent)
		_, _ = io.CopyN(w, reader, length)
	}
}

// ProxyArtifact streams a whole artifact through the server. SRT responses
// are forced to UTF-8 with BOM.
func (d *HandlersCollection) ProxyArtifact(kind string) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		videoID, err := pathID(ps, "id")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}
		key, contentType, err := d.artifactKey(req, videoID, kind)
		if err != nil {
			errors.WriteHTTPNotFound(w, "Artifact not found", err)
			return
		}

		reader, stat, err := d.Gateway.GetStream(req.Context(), key)
		if err != nil {
			errors.WriteHTTPNotFound(w, "Artifact not found", err)
			return
		}
		defer reader.Close()

		if kind == "srt" {
			raw, err := io.ReadAll(reader)
			if err != nil {
				errors.WriteHTTPInternalServerError(w, "Cannot read subtitle", err)
				return
			}
			serveSRT(w, raw)
			return
		}

		w.Header().Set("Content-Type", contentType)
		w.Header().Set("Content-Length", strconv.FormatInt(stat.Size, 10))
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", kind+"_"+ps.ByName("id")))
		_, _ = io.Copy(w, reader)
	}
}

func parseRange(header string, size int64) (start, length int64, err error) {
	header = strings.TrimPrefix(header, "bytes=")
	parts := strings.SplitN(header, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("malformed range %q", header)
	}
	start, err = strconv.ParseInt(parts[0], 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, fmt.Errorf("bad range start %q", parts[0])
	}
	end := size - 1
	if parts[1] != "" {
		end, err = strconv.ParseInt(parts[1], 10, 64)
		if err != nil || end < start {
			return 0, 0, fmt.Errorf("bad range end %q", parts[1])
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end - start + 1, nil
}
