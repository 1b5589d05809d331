package store

import (
	"context"
	"database/sql"
	"fmt"

	xerrors "github.com/flowclip/flowclip-api/errors"
)

func (s *Store) GetProcessingStatus(ctx context.Context, q Querier, videoID int64) (ProcessingStatus, error) {
	var ps ProcessingStatus
	err := q.QueryRowContext(ctx,
		`SELECT video_id, overall_status, overall_progress, current_stage,
		   download_status, download_progress,
		   extract_audio_status, extract_audio_progress,
		   generate_srt_status, generate_srt_progress,
		   error_count, last_error, updated_at
		 FROM processing_statuses WHERE video_id = $1`, videoID).
		Scan(&ps.VideoID, &ps.OverallStatus, &ps.OverallProgress, &ps.CurrentStage,
			&ps.Download.Status, &ps.Download.Progress,
			&ps.ExtractAudio.Status, &ps.ExtractAudio.Progress,
			&ps.GenerateSRT.Status, &ps.GenerateSRT.Progress,
			&ps.ErrorCount, &ps.LastError, &ps.UpdatedAt)
	if err == sql.ErrNoRows {
		return ProcessingStatus{}, xerrors.NewPipelineError(xerrors.KindNotFound, fmt.Errorf("processing status not found"))
	}
	return ps, err
}

func (s *Store) UpsertProcessingStatus(ctx context.Context, q Querier, ps ProcessingStatus) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO processing_statuses (video_id, overall_status, overall_progress, current_stage,
		   download_status, download_progress, extract_audio_status, extract_audio_progress,
		   generate_srt_status, generate_srt_progress, error_count, last_error, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now())
		 ON CONFLICT (video_id) DO UPDATE SET
		   overall_status = EXCLUDED.overall_status,
		   overall_progress = EXCLUDED.overall_progress,
		   current_stage = EXCLUDED.current_stage,
		   download_status = EXCLUDED.download_status,
		   download_progress = EXCLUDED.download_progress,
		   extract_audio_status = EXCLUDED.extract_audio_status,
		   extract_audio_progress = EXCLUDED.extract_audio_progress,
		   generate_srt_status = EXCLUDED.generate_srt_status,
		   generate_srt_progress = EXCLUDED.generate_srt_progress,
		   error_count = EXCLUDED.error_count,
		   last_error = EXCLUDED.last_error,
		   updated_at = now()`,
		ps.VideoID, ps.OverallStatus, ps.OverallProgress, ps.CurrentStage,
		ps.Download.Status, ps.Download.Progress,
		ps.ExtractAudio.Status, ps.ExtractAudio.Progress,
		ps.GenerateSRT.Status, ps.GenerateSRT.Progress,
		ps.ErrorCount, ps.LastError)
	return err
}
