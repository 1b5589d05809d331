package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/flowclip/flowclip-api/store"
	"github.com/julienschmidt/httprouter"
	"github.com/stretchr/testify/require"
)

func videoRows() *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "project_id", "user_id", "url", "title", "filename", "storage_path", "filesize",
		"duration", "thumbnail_path", "status", "download_progress", "processing_metadata",
		"created_at", "updated_at",
	}).AddRow(1, 2, 3, "https://example/v", "t", "v.mp4", "users/3/projects/2/videos/v.mp4",
		100, 120.0, "", "downloaded", 100.0, []byte(`{}`), now, now)
}

func postJSON(handler httprouter.Handle, path string, body interface{}) *httptest.ResponseRecorder {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	handler(rr, req, nil)
	return rr
}

func TestValidateSliceDataAcceptsAndPersists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	d := &HandlersCollection{Store: &store.Store{DB: db}}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnRows(videoRows())
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO analyses")).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(11, time.Now()))

	rr := postJSON(d.ValidateSliceData(), "/video-slice/validate-slice-data", map[string]interface{}{
		"video_id":    1,
		"cover_title": "c",
		"analysis_data": []map[string]interface{}{{
			"cover_title": "c",
			"title":       "t",
			"start":       "00:00:00,000",
			"end":         "00:02:00,000",
			"chapters": []map[string]interface{}{
				{"cover_title": "c1", "start": "00:00:00,000", "end": "00:00:30,000"},
				{"cover_title": "c2", "start": "00:00:30,000", "end": "00:01:30,000"},
				{"cover_title": "c3", "start": "00:01:30,000", "end": "00:02:00,000"},
			},
		}},
	})

	require.Equal(t, http.StatusOK, rr.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, float64(11), resp["analysis_id"])
	require.Equal(t, []interface{}{"full"}, resp["slice_types"])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestValidateSliceDataRejectsBadPlan(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	d := &HandlersCollection{Store: &store.Store{DB: db}}

	mock.ExpectQuery(regexp.QuoteMeta("SELECT")).WillReturnRows(videoRows())

	rr := postJSON(d.ValidateSliceData(), "/video-slice/validate-slice-data", map[string]interface{}{
		"video_id":    1,
		"cover_title": "c",
		"analysis_data": []map[string]interface{}{{
			"cover_title": "c",
			"title":       "t",
			"start":       "00:00:10,000",
			"end":         "00:00:12,000",
		}},
	})

	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.NotEmpty(t, resp["violations"])
}

func TestValidateSliceDataRejectsBadSchema(t *testing.T) {
	d := &HandlersCollection{}
	rr := postJSON(d.ValidateSliceData(), "/video-slice/validate-slice-data", map[string]interface{}{
		"video_id": 1,
	})
	require.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestErrorResponseShape(t *testing.T) {
	d := &HandlersCollection{}
	req := httptest.NewRequest(http.MethodPost, "/video-slice/validate-slice-data", bytes.NewReader([]byte("{}")))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	d.ValidateSliceData()(rr, req, nil)

	require.Equal(t, http.StatusBadRequest, rr.Code)
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	require.Equal(t, float64(http.StatusBadRequest), resp["code"])
	require.NotEmpty(t, resp["detail"])
}
