package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store is the durable source of truth for every domain entity. All task
// status writes flow through the state manager in one transaction; plain
// entity reads and writes happen directly here.
type Store struct {
	DB *sql.DB
}

func Open(connectionString string) (*Store, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("error creating postgres connection: %w", err)
	}

	// Without this, we've run into issues with exceeding our open connection limit
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	return &Store{DB: db}, nil
}

// Querier is satisfied by both *sql.DB and *sql.Tx so entity helpers can run
// inside or outside the state manager's transactions.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// WithTx runs fn inside a transaction, rolling back on error.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error opening transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v (original error: %w)", rbErr, err)
		}
		return err
	}
	return tx.Commit()
}

// EnsureSchema creates the tables the pipeline owns. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.DB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("error applying schema: %w", err)
		}
	}
	return nil
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS videos (
		id BIGSERIAL PRIMARY KEY,
		project_id BIGINT NOT NULL,
		user_id BIGINT NOT NULL,
		url TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		filename TEXT NOT NULL DEFAULT '',
		storage_path TEXT NOT NULL DEFAULT '',
		filesize BIGINT NOT NULL DEFAULT 0,
		duration DOUBLE PRECISION NOT NULL DEFAULT 0,
		thumbnail_path TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'pending',
		download_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		processing_metadata JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS analyses (
		id BIGSERIAL PRIMARY KEY,
		video_id BIGINT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		cover_title TEXT NOT NULL DEFAULT '',
		analysis_data JSONB NOT NULL DEFAULT '{}',
		status TEXT NOT NULL DEFAULT 'draft',
		is_validated BOOLEAN NOT NULL DEFAULT false,
		is_applied BOOLEAN NOT NULL DEFAULT false,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS slices (
		id BIGSERIAL PRIMARY KEY,
		video_id BIGINT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		analysis_id BIGINT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
		cover_title TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '',
		start_time DOUBLE PRECISION NOT NULL,
		end_time DOUBLE PRECISION NOT NULL,
		duration DOUBLE PRECISION NOT NULL,
		type TEXT NOT NULL DEFAULT 'fragment',
		sliced_file_path TEXT NOT NULL DEFAULT '',
		audio_url TEXT NOT NULL DEFAULT '',
		srt_url TEXT NOT NULL DEFAULT '',
		audio_processing_status TEXT NOT NULL DEFAULT 'pending',
		srt_processing_status TEXT NOT NULL DEFAULT 'pending',
		capcut_status TEXT NOT NULL DEFAULT 'pending',
		jianying_status TEXT NOT NULL DEFAULT 'pending',
		audio_task_id TEXT NOT NULL DEFAULT '',
		srt_task_id TEXT NOT NULL DEFAULT '',
		audio_error_message TEXT NOT NULL DEFAULT '',
		srt_error_message TEXT NOT NULL DEFAULT '',
		capcut_draft_url TEXT NOT NULL DEFAULT '',
		jianying_draft_url TEXT NOT NULL DEFAULT '',
		capcut_error_message TEXT NOT NULL DEFAULT '',
		jianying_error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS sub_slices (
		id BIGSERIAL PRIMARY KEY,
		slice_id BIGINT NOT NULL REFERENCES slices(id) ON DELETE CASCADE,
		cover_title TEXT NOT NULL DEFAULT '',
		title TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		start_time DOUBLE PRECISION NOT NULL,
		end_time DOUBLE PRECISION NOT NULL,
		duration DOUBLE PRECISION NOT NULL,
		sliced_file_path TEXT NOT NULL DEFAULT '',
		audio_url TEXT NOT NULL DEFAULT '',
		srt_url TEXT NOT NULL DEFAULT '',
		audio_processing_status TEXT NOT NULL DEFAULT 'pending',
		srt_processing_status TEXT NOT NULL DEFAULT 'pending',
		audio_task_id TEXT NOT NULL DEFAULT '',
		srt_task_id TEXT NOT NULL DEFAULT '',
		audio_error_message TEXT NOT NULL DEFAULT '',
		srt_error_message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS tasks (
		id BIGSERIAL PRIMARY KEY,
		video_id BIGINT NOT NULL REFERENCES videos(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		worker_task_id TEXT NOT NULL UNIQUE,
		status TEXT NOT NULL DEFAULT 'pending',
		progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		stage TEXT NOT NULL DEFAULT '',
		stage_description TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		input_data JSONB NOT NULL DEFAULT '{}',
		output_data JSONB NOT NULL DEFAULT '{}',
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS task_logs (
		id BIGSERIAL PRIMARY KEY,
		task_id BIGINT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		old_status TEXT NOT NULL DEFAULT '',
		new_status TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL DEFAULT '',
		details JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS processing_statuses (
		video_id BIGINT PRIMARY KEY REFERENCES videos(id) ON DELETE CASCADE,
		overall_status TEXT NOT NULL DEFAULT 'pending',
		overall_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		current_stage TEXT NOT NULL DEFAULT '',
		download_status TEXT NOT NULL DEFAULT 'pending',
		download_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		extract_audio_status TEXT NOT NULL DEFAULT 'pending',
		extract_audio_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		generate_srt_status TEXT NOT NULL DEFAULT 'pending',
		generate_srt_progress DOUBLE PRECISION NOT NULL DEFAULT 0,
		error_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS transcripts (
		id BIGSERIAL PRIMARY KEY,
		video_id BIGINT NOT NULL UNIQUE REFERENCES videos(id) ON DELETE CASCADE,
		srt_url TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS resources (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		file_type TEXT NOT NULL,
		url TEXT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS resource_tags (
		id BIGSERIAL PRIMARY KEY,
		name TEXT NOT NULL,
		tag_type TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS resource_tag_links (
		resource_id BIGINT NOT NULL REFERENCES resources(id) ON DELETE CASCADE,
		tag_id BIGINT NOT NULL REFERENCES resource_tags(id) ON DELETE CASCADE,
		PRIMARY KEY (resource_id, tag_id)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_video_id ON tasks(video_id)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status)`,
	`CREATE INDEX IF NOT EXISTS idx_slices_video_id ON slices(video_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sub_slices_slice_id ON sub_slices(slice_id)`,
}
