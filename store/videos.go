package store

import (
	"context"
	"database/sql"
	"fmt"

	xerrors "github.com/flowclip/flowclip-api/errors"
)

const videoColumns = `id, project_id, user_id, url, title, filename, storage_path, filesize,
	duration, thumbnail_path, status, download_progress, processing_metadata, created_at, updated_at`

func scanVideo(row *sql.Row) (Video, error) {
	var v Video
	err := row.Scan(&v.ID, &v.ProjectID, &v.UserID, &v.URL, &v.Title, &v.Filename, &v.StoragePath,
		&v.Filesize, &v.Duration, &v.ThumbnailPath, &v.Status, &v.DownloadProgress, &v.Metadata,
		&v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return Video{}, xerrors.NewPipelineError(xerrors.KindNotFound, fmt.Errorf("video not found"))
	}
	return v, err
}

func (s *Store) CreateVideo(ctx context.Context, q Querier, v *Video) error {
	row := q.QueryRowContext(ctx,
		`INSERT INTO videos (project_id, user_id, url, title, filename, status, processing_metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7) RETURNING id, created_at, updated_at`,
		v.ProjectID, v.UserID, v.URL, v.Title, v.Filename, v.Status, v.Metadata)
	return row.Scan(&v.ID, &v.CreatedAt, &v.UpdatedAt)
}

func (s *Store) GetVideo(ctx context.Context, q Querier, id int64) (Video, error) {
	return scanVideo(q.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = $1`, id))
}

// FindVideoByProjectURL returns the newest non-failed video for a source URL
// so an identical download request reuses the existing row and task.
func (s *Store) FindVideoByProjectURL(ctx context.Context, q Querier, projectID int64, url string) (Video, error) {
	return scanVideo(q.QueryRowContext(ctx,
		`SELECT `+videoColumns+` FROM videos
		 WHERE project_id = $1 AND url = $2 AND status != $3
		 ORDER BY created_at DESC LIMIT 1`, projectID, url, VideoFailed))
}

func (s *Store) UpdateVideoStatus(ctx context.Context, q Querier, id int64, status VideoStatus) error {
	_, err := q.ExecContext(ctx,
		`UPDATE videos SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	return err
}

func (s *Store) UpdateVideoDownloadProgress(ctx context.Context, q Querier, id int64, progress float64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE videos SET download_progress = $2, updated_at = now() WHERE id = $1`, id, progress)
	return err
}

// UpdateVideoArtifact records the produced artifact. storage_path must be
// non-empty exactly when the video has reached downloaded or later.
func (s *Store) UpdateVideoArtifact(ctx context.Context, q Querier, id int64, storagePath, filename, title, thumbnailPath string, filesize int64, duration float64) error {
	if storagePath == "" {
		return xerrors.NewPipelineError(xerrors.KindValidation, fmt.Errorf("storage_path must not be empty for a downloaded video"))
	}
	_, err := q.ExecContext(ctx,
		`UPDATE videos SET storage_path = $2, filename = $3, title = $4, thumbnail_path = $5,
		 filesize = $6, duration = $7, status = $8, download_progress = 100, updated_at = now()
		 WHERE id = $1`,
		id, storagePath, filename, title, thumbnailPath, filesize, duration, VideoDownloaded)
	return err
}

// MergeVideoMetadata merges keys into processing_metadata without clobbering
// unrelated entries.
func (s *Store) MergeVideoMetadata(ctx context.Context, q Querier, id int64, meta JSONMap) error {
	_, err := q.ExecContext(ctx,
		`UPDATE videos SET processing_metadata = processing_metadata || $2::jsonb, updated_at = now() WHERE id = $1`,
		id, meta)
	return err
}

func (s *Store) UpsertTranscript(ctx context.Context, q Querier, videoID int64, srtURL string) error {
	_, err := q.ExecContext(ctx,
		`INSERT INTO transcripts (video_id, srt_url) VALUES ($1, $2)
		 ON CONFLICT (video_id) DO UPDATE SET srt_url = EXCLUDED.srt_url`, videoID, srtURL)
	return err
}

func (s *Store) GetTranscript(ctx context.Context, q Querier, videoID int64) (Transcript, error) {
	var t Transcript
	err := q.QueryRowContext(ctx,
		`SELECT id, video_id, srt_url, created_at FROM transcripts WHERE video_id = $1 ORDER BY created_at DESC LIMIT 1`,
		videoID).Scan(&t.ID, &t.VideoID, &t.SrtURL, &t.CreatedAt)
	if err == sql.ErrNoRows {
		return Transcript{}, xerrors.NewPipelineError(xerrors.KindNotFound, fmt.Errorf("transcript not found"))
	}
	return t, err
}
