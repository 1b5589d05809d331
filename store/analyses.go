package store

import (
	"context"
	"database/sql"
	"fmt"

	xerrors "github.com/flowclip/flowclip-api/errors"
)

func (s *Store) CreateAnalysis(ctx context.Context, q Querier, a *Analysis) error {
	row := q.QueryRowContext(ctx,
		`INSERT INTO analyses (video_id, cover_title, analysis_data, status, is_validated)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id, created_at`,
		a.VideoID, a.CoverTitle, a.AnalysisData, a.Status, a.IsValidated)
	return row.Scan(&a.ID, &a.CreatedAt)
}

func (s *Store) GetAnalysis(ctx context.Context, q Querier, id int64) (Analysis, error) {
	var a Analysis
	err := q.QueryRowContext(ctx,
		`SELECT id, video_id, cover_title, analysis_data, status, is_validated, is_applied, created_at
		 FROM analyses WHERE id = $1`, id).
		Scan(&a.ID, &a.VideoID, &a.CoverTitle, &a.AnalysisData, &a.Status, &a.IsValidated, &a.IsApplied, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return Analysis{}, xerrors.NewPipelineError(xerrors.KindNotFound, fmt.Errorf("analysis not found"))
	}
	return a, err
}

func (s *Store) MarkAnalysisApplied(ctx context.Context, q Querier, id int64) error {
	_, err := q.ExecContext(ctx,
		`UPDATE analyses SET status = $2, is_applied = true WHERE id = $1`, id, AnalysisApplied)
	return err
}

// FindResourceByTag resolves the newest active library resource carrying the
// tag, used by the exporter for decorative overlays.
func (s *Store) FindResourceByTag(ctx context.Context, q Querier, tagName, tagType string) (Resource, error) {
	var r Resource
	err := q.QueryRowContext(ctx,
		`SELECT r.id, r.name, r.file_type, r.url, r.is_active, r.created_at
		 FROM resources r
		 JOIN resource_tag_links l ON l.resource_id = r.id
		 JOIN resource_tags t ON t.id = l.tag_id
		 WHERE t.name = $1 AND t.tag_type = $2 AND r.file_type = $2 AND r.is_active
		 ORDER BY r.created_at DESC LIMIT 1`, tagName, tagType).
		Scan(&r.ID, &r.Name, &r.FileType, &r.URL, &r.IsActive, &r.CreatedAt)
	if err == sql.ErrNoRows {
		return Resource{}, xerrors.NewPipelineError(xerrors.KindNotFound, fmt.Errorf("no resource tagged %q/%q", tagName, tagType))
	}
	return r, err
}
