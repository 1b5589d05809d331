package store

import (
	"context"
	"database/sql"
	"fmt"

	xerrors "github.com/flowclip/flowclip-api/errors"
)

const sliceColumns = `id, video_id, analysis_id, cover_title, title, description, tags,
	start_time, end_time, duration, type, sliced_file_path, audio_url, srt_url,
	audio_processing_status, srt_processing_status, capcut_status, jianying_status,
	audio_task_id, srt_task_id, audio_error_message, srt_error_message,
	capcut_draft_url, jianying_draft_url, capcut_error_message, jianying_error_message, created_at`

func scanSlice(scanner interface {
	Scan(dest ...interface{}) error
}) (Slice, error) {
	var sl Slice
	err := scanner.Scan(&sl.ID, &sl.VideoID, &sl.AnalysisID, &sl.CoverTitle, &sl.Title, &sl.Description,
		&sl.Tags, &sl.StartTime, &sl.EndTime, &sl.Duration, &sl.Type, &sl.SlicedFilePath, &sl.AudioURL,
		&sl.SrtURL, &sl.AudioProcessingStatus, &sl.SrtProcessingStatus, &sl.CapcutStatus,
		&sl.JianyingStatus, &sl.AudioTaskID, &sl.SrtTaskID, &sl.AudioErrorMessage, &sl.SrtErrorMessage,
		&sl.CapcutDraftURL, &sl.JianyingDraftURL, &sl.CapcutErrorMessage, &sl.JianyingErrorMessage,
		&sl.CreatedAt)
	if err == sql.ErrNoRows {
		return Slice{}, xerrors.NewPipelineError(xerrors.KindNotFound, fmt.Errorf("slice not found"))
	}
	return sl, err
}

func (s *Store) CreateSlice(ctx context.Context, q Querier, sl *Slice) error {
	if sl.EndTime <= sl.StartTime || sl.StartTime < 0 {
		return xerrors.NewPipelineError(xerrors.KindValidation,
			fmt.Errorf("slice interval [%f, %f] is invalid", sl.StartTime, sl.EndTime))
	}
	sl.Duration = sl.EndTime - sl.StartTime
	row := q.QueryRowContext(ctx,
		`INSERT INTO slices (video_id, analysis_id, cover_title, title, description, tags,
		   start_time, end_time, duration, type, sliced_file_path)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11) RETURNING id, created_at`,
		sl.VideoID, sl.AnalysisID, sl.CoverTitle, sl.Title, sl.Description, sl.Tags,
		sl.StartTime, sl.EndTime, sl.Duration, sl.Type, sl.SlicedFilePath)
	return row.Scan(&sl.ID, &sl.CreatedAt)
}

func (s *Store) GetSlice(ctx context.Context, q Querier, id int64) (Slice, error) {
	return scanSlice(q.QueryRowContext(ctx, `SELECT `+sliceColumns+` FROM slices WHERE id = $1`, id))
}

func (s *Store) ListSlicesForVideo(ctx context.Context, q Querier, videoID int64) ([]Slice, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+sliceColumns+` FROM slices WHERE video_id = $1 ORDER BY start_time`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slices []Slice
	for rows.Next() {
		sl, err := scanSlice(rows)
		if err != nil {
			return nil, err
		}
		slices = append(slices, sl)
	}
	return slices, rows.Err()
}

func (s *Store) UpdateSliceType(ctx context.Context, q Querier, id int64, t SliceType) error {
	_, err := q.ExecContext(ctx, `UPDATE slices SET type = $2 WHERE id = $1`, id, t)
	return err
}

func (s *Store) UpdateSliceAudio(ctx context.Context, q Querier, id int64, status ProcessStatus, audioURL, taskID, errMsg string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE slices SET audio_processing_status = $2, audio_url = COALESCE(NULLIF($3, ''), audio_url),
		 audio_task_id = COALESCE(NULLIF($4, ''), audio_task_id), audio_error_message = $5 WHERE id = $1`,
		id, status, audioURL, taskID, errMsg)
	return err
}

func (s *Store) UpdateSliceSrt(ctx context.Context, q Querier, id int64, status ProcessStatus, srtURL, taskID, errMsg string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE slices SET srt_processing_status = $2, srt_url = COALESCE(NULLIF($3, ''), srt_url),
		 srt_task_id = COALESCE(NULLIF($4, ''), srt_task_id), srt_error_message = $5 WHERE id = $1`,
		id, status, srtURL, taskID, errMsg)
	return err
}

// UpdateSliceExport records an editor export outcome. backend is the
// lowercased backend name: capcut or jianying.
func (s *Store) UpdateSliceExport(ctx context.Context, q Querier, id int64, backend string, status ProcessStatus, draftURL, errMsg string) error {
	var query string
	switch backend {
	case "capcut":
		query = `UPDATE slices SET capcut_status = $2, capcut_draft_url = COALESCE(NULLIF($3, ''), capcut_draft_url), capcut_error_message = $4 WHERE id = $1`
	case "jianying":
		query = `UPDATE slices SET jianying_status = $2, jianying_draft_url = COALESCE(NULLIF($3, ''), jianying_draft_url), jianying_error_message = $4 WHERE id = $1`
	default:
		return xerrors.NewPipelineError(xerrors.KindValidation, fmt.Errorf("unknown editor backend %q", backend))
	}
	_, err := q.ExecContext(ctx, query, id, status, draftURL, errMsg)
	return err
}

const subSliceColumns = `id, slice_id, cover_title, title, description, start_time, end_time, duration,
	sliced_file_path, audio_url, srt_url, audio_processing_status, srt_processing_status,
	audio_task_id, srt_task_id, audio_error_message, srt_error_message, created_at`

func scanSubSlice(scanner interface {
	Scan(dest ...interface{}) error
}) (SubSlice, error) {
	var ss SubSlice
	err := scanner.Scan(&ss.ID, &ss.SliceID, &ss.CoverTitle, &ss.Title, &ss.Description, &ss.StartTime,
		&ss.EndTime, &ss.Duration, &ss.SlicedFilePath, &ss.AudioURL, &ss.SrtURL,
		&ss.AudioProcessingStatus, &ss.SrtProcessingStatus, &ss.AudioTaskID, &ss.SrtTaskID,
		&ss.AudioErrorMessage, &ss.SrtErrorMessage, &ss.CreatedAt)
	if err == sql.ErrNoRows {
		return SubSlice{}, xerrors.NewPipelineError(xerrors.KindNotFound, fmt.Errorf("sub-slice not found"))
	}
	return ss, err
}

func (s *Store) CreateSubSlice(ctx context.Context, q Querier, parent Slice, ss *SubSlice) error {
	if ss.StartTime < parent.StartTime || ss.EndTime > parent.EndTime || ss.EndTime <= ss.StartTime {
		return xerrors.NewPipelineError(xerrors.KindValidation,
			fmt.Errorf("sub-slice [%f, %f] escapes parent [%f, %f]", ss.StartTime, ss.EndTime, parent.StartTime, parent.EndTime))
	}
	ss.SliceID = parent.ID
	ss.Duration = ss.EndTime - ss.StartTime
	row := q.QueryRowContext(ctx,
		`INSERT INTO sub_slices (slice_id, cover_title, title, description, start_time, end_time, duration, sliced_file_path)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id, created_at`,
		ss.SliceID, ss.CoverTitle, ss.Title, ss.Description, ss.StartTime, ss.EndTime, ss.Duration, ss.SlicedFilePath)
	return row.Scan(&ss.ID, &ss.CreatedAt)
}

func (s *Store) GetSubSlice(ctx context.Context, q Querier, id int64) (SubSlice, error) {
	return scanSubSlice(q.QueryRowContext(ctx, `SELECT `+subSliceColumns+` FROM sub_slices WHERE id = $1`, id))
}

func (s *Store) ListSubSlices(ctx context.Context, q Querier, sliceID int64) ([]SubSlice, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+subSliceColumns+` FROM sub_slices WHERE slice_id = $1 ORDER BY start_time`, sliceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []SubSlice
	for rows.Next() {
		ss, err := scanSubSlice(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, ss)
	}
	return subs, rows.Err()
}

func (s *Store) UpdateSubSliceAudio(ctx context.Context, q Querier, id int64, status ProcessStatus, audioURL, taskID, errMsg string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE sub_slices SET audio_processing_status = $2, audio_url = COALESCE(NULLIF($3, ''), audio_url),
		 audio_task_id = COALESCE(NULLIF($4, ''), audio_task_id), audio_error_message = $5 WHERE id = $1`,
		id, status, audioURL, taskID, errMsg)
	return err
}

func (s *Store) UpdateSubSliceSrt(ctx context.Context, q Querier, id int64, status ProcessStatus, srtURL, taskID, errMsg string) error {
	_, err := q.ExecContext(ctx,
		`UPDATE sub_slices SET srt_processing_status = $2, srt_url = COALESCE(NULLIF($3, ''), srt_url),
		 srt_task_id = COALESCE(NULLIF($4, ''), srt_task_id), srt_error_message = $5 WHERE id = $1`,
		id, status, srtURL, taskID, errMsg)
	return err
}
