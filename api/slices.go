package api

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/flowclip/flowclip-api/errors"
	"github.com/flowclip/flowclip-api/metrics"
	"github.com/flowclip/flowclip-api/pipeline"
	"github.com/flowclip/flowclip-api/plan"
	"github.com/flowclip/flowclip-api/store"
	"github.com/flowclip/flowclip-api/subtitle"
	"github.com/julienschmidt/httprouter"
	"github.com/xeipuuv/gojsonschema"
)

// serveSRT writes subtitle bytes as UTF-8 with a BOM regardless of how they
// were stored, avoiding any double-encoding surprises on the client.
func serveSRT(w http.ResponseWriter, raw []byte) {
	text, err := subtitle.DecodeBytes(raw)
	if err != nil {
		errors.WriteHTTPInternalServerError(w, "Undecodable subtitle content", err)
		return
	}
	const bom = "\uFEFF"
	if !strings.HasPrefix(text, bom) {
		text = bom + text
	}
	w.Header().Set("Content-Type", "text/srt; charset=utf-8")
	_, _ = io.WriteString(w, text)
}

type ValidateSliceDataRequest struct {
	VideoID      int64             `json:"video_id"`
	CoverTitle   string            `json:"cover_title"`
	AnalysisData []plan.SliceInput `json:"analysis_data"`
}

// ValidateSliceData validates a plan and persists the Analysis row.
func (d *HandlersCollection) ValidateSliceData() httprouter.Handle {
	schema := inputSchemasCompiled["ValidateSliceData"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var validateRequest ValidateSliceDataRequest

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
			errors.WriteHTTPBadBodySchema("ValidateSliceData", w, result.Errors())
			return
		} else if err := json.Unmarshal(payload, &validateRequest); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}

		if _, err := d.Store.GetVideo(req.Context(), d.Store.DB, validateRequest.VideoID); err != nil {
			errors.WriteHTTPNotFound(w, "Video not found", err)
			return
		}

		validated, err := plan.Validate(validateRequest.AnalysisData)
		if err != nil {
			if verr, ok := err.(*plan.ValidationError); ok {
				writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
					"code":       http.StatusUnprocessableEntity,
					"detail":     "analysis data invalid",
					"violations": verr.Violations,
				})
				return
			}
			errors.WriteHTTPUnprocessableEntity(w, "Invalid analysis data", err)
			return
		}

		rawPlan, err := json.Marshal(validateRequest.AnalysisData)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot persist analysis", err)
			return
		}
		analysis := store.Analysis{
			VideoID:      validateRequest.VideoID,
			CoverTitle:   validateRequest.CoverTitle,
			AnalysisData: store.JSONMap{"slices": json.RawMessage(rawPlan)},
			Status:       store.AnalysisValidated,
			IsValidated:  true,
		}
		if err := d.Store.CreateAnalysis(req.Context(), d.Store.DB, &analysis); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot persist analysis", err)
			return
		}

		types := make([]store.SliceType, 0, len(validated))
		for _, s := range validated {
			types = append(types, plan.Classify(s))
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"analysis_id": analysis.ID,
			"status":      analysis.Status,
			"slice_types": types,
		})
	}
}

type ProcessSlicesRequest struct {
	AnalysisID int64 `json:"analysis_id"`
	VideoID    int64 `json:"video_id"`
}

// ProcessSlices materializes a validated analysis.
func (d *HandlersCollection) ProcessSlices() httprouter.Handle {
	schema := inputSchemasCompiled["ProcessSlices"]

	return func(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
		var processRequest ProcessSlicesRequest

		if payload, err := io.ReadAll(req.Body); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot read payload", err)
			return
		} else if result, err := schema.Validate(gojsonschema.NewBytesLoader(payload)); err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot validate payload", err)
			return
		} else if !result.Valid() {
			errors.WriteHTTPBadBodySchema("ProcessSlices", w, result.Errors())
			return
		} else if err := json.Unmarshal(payload, &processRequest); err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid request payload", err)
			return
		}

		analysis, err := d.Store.GetAnalysis(req.Context(), d.Store.DB, processRequest.AnalysisID)
		if err != nil {
			errors.WriteHTTPNotFound(w, "Analysis not found", err)
			return
		}
		if !analysis.IsValidated {
			errors.WriteHTTPBadRequest(w, "Analysis has not been validated", nil)
			return
		}
		video, err := d.Store.GetVideo(req.Context(), d.Store.DB, processRequest.VideoID)
		if err != nil {
			errors.WriteHTTPNotFound(w, "Video not found", err)
			return
		}

		metrics.Metrics.SliceRequestCount.Inc()

		items, err := sliceInputsFromAnalysis(analysis)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Corrupt analysis data", err)
			return
		}
		validated, err := plan.Validate(items)
		if err != nil {
			errors.WriteHTTPUnprocessableEntity(w, "Stored analysis no longer validates", err)
			return
		}

		task, err := d.Engine.StartProcessSlices(req.Context(), pipeline.SlicePayload{
			AnalysisID: analysis.ID,
			VideoID:    video.ID,
			ProjectID:  video.ProjectID,
			UserID:     video.UserID,
			Slices:     validated,
		})
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot start slice processing", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"worker_task_id": task.WorkerTaskID})
	}
}

func sliceInputsFromAnalysis(analysis store.Analysis) ([]plan.SliceInput, error) {
	raw, err := json.Marshal(analysis.AnalysisData["slices"])
	if err != nil {
		return nil, err
	}
	var items []plan.SliceInput
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, err
	}
	return items, nil
}

// ListSlices returns a video's slice tree.
func (d *HandlersCollection) ListSlices() httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		videoID, err := pathID(ps, "video_id")
		if err != nil {
			errors.WriteHTTPBadRequest(w, "Invalid video id", err)
			return
		}
		slices, err := d.Store.ListSlicesForVideo(req.Context(), d.Store.DB, videoID)
		if err != nil {
			errors.WriteHTTPInternalServerError(w, "Cannot list slices", err)
			return
		}

		views := make([]map[string]interface{}, 0, len(slices))
		for _, sl := range slices {
			subs, err := d.Store.ListSubSlices(req.Context(), d.Store.DB, sl.ID)
			if err != nil {
				errors.WriteHTTPInternalServerError(w, "Cannot list sub-slices", err)
				return
			}
			subViews := make([]map[string]interface{}, 0, len(subs))
			for _, sub := range subs {
				subViews = append(subViews, map[string]interface{}{
					"id":                      sub.ID,
					"title":                   sub.Title,
					"start_time":              subtitle.FormatTimecode(sub.StartTime),
					"end_time":                subtitle.FormatTimecode(sub.EndTime),
					"duration":                sub.Duration,
					"sliced_file_path":        sub.SlicedFilePath,
					"audio_processing_status": sub.AudioProcessingStatus,
					"srt_processing_status":   sub.SrtProcessingStatus,
					"srt_url":                 sub.SrtURL,
				})
			}
			views = append(views, map[string]interface{}{
				"id":                      sl.ID,
				"cover_title":             sl.CoverTitle,
				"title":                   sl.Title,
				"type":                    sl.Type,
				"start_time":              subtitle.FormatTimecode(sl.StartTime),
				"end_time":                subtitle.FormatTimecode(sl.EndTime),
				"duration":                sl.Duration,
				"sliced_file_path":        sl.SlicedFilePath,
				"audio_processing_status": sl.AudioProcessingStatus,
				"srt_processing_status":   sl.SrtProcessingStatus,
				"capcut_status":           sl.CapcutStatus,
				"jianying_status":         sl.JianyingStatus,
				"capcut_draft_url":        sl.CapcutDraftURL,
				"jianying_draft_url":      sl.JianyingDraftURL,
				"sub_slices":              subViews,
			})
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"slices": views})
	}
}
