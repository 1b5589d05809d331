package api

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/metrics"
	"github.com/flowclip/flowclip-api/pipeline"
	"github.com/julienschmidt/httprouter"
)

// ExportSlice kicks a draft export on the named editor backend.
func (d *HandlersCollection) ExportSlice(backend string) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		sliceID, err := pathID(ps, "slice_id")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid slice id", err)
			return
		}
		metrics.Metrics.ExportRequestCount.Inc()

		task, err := d.Engine.StartExport(req.Context(), pipeline.ExportPayload{
			SliceID: sliceID,
			Backend: backend,
		})
		if err != nil {
			if errors.KindOf(err) == errors.KindNotFound {
				errors.WriteHTTPNotFound(w, "Slice not found", err)
				return
			}
			errors.WriteHTTPInternalServerError(w, "Cannot start export", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"worker_task_id": task.WorkerTaskID})
	}
}

// ProxyResource streams an object-store resource to the editor backend.
// Editors cannot reach the internal endpoint, so this server-side proxy
// fronts it.
func (d *HandlersCollection) ProxyResource() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		key := strings.TrimPrefix(ps.ByName("path"), "/")
		if key == "" {
			errors.WriteHTTPBadRequest(w, "Missing resource path", nil)
			return
		}

		reader, stat, err := d.Gateway.GetStream(req.Context(), key)
		if err != nil {
			errors.WriteHTTPNotFound(w, "Resource not found", err)
			return
		}
		defer reader.Close()

		if stat.ContentType != "" {
			w.Header().Set("Content-Type", stat.ContentType)
		}
		w.Header().Set("Content-Length", strconv.FormatInt(stat.Size, 10))
		_, _ = io.Copy(w, reader)
	}
}
