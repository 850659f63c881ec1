package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/maauso/contentcraft-pipeline/internal/job"
)

// Compile-time check that SQLite implements job.Store.
var _ job.Store = (*SQLite)(nil)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  prompt TEXT NOT NULL,
  duration_seconds INTEGER NOT NULL,
  resolution TEXT NOT NULL,
  tier TEXT NOT NULL,
  wants_audio INTEGER NOT NULL DEFAULT 0,
  audio_tier TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  video_status TEXT NOT NULL DEFAULT '',
  audio_status TEXT NOT NULL DEFAULT '',
  combination_status TEXT NOT NULL DEFAULT '',
  video_url TEXT NOT NULL DEFAULT '',
  audio_url TEXT NOT NULL DEFAULT '',
  combined_url TEXT NOT NULL DEFAULT '',
  has_separate_tracks INTEGER NOT NULL DEFAULT 0,
  error_message TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL,
  updated_at INTEGER NOT NULL,
  completed_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
CREATE INDEX IF NOT EXISTS jobs_owner_idx ON jobs (owner_id);
`

// SQLite is a job.Store backed by a single SQLite file.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies
// the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One writer avoids SQLITE_BUSY between concurrent handlers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Get retrieves a job by ID.
func (s *SQLite) Get(ctx context.Context, id string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+selectColumns+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// Put creates or replaces a job.
func (s *SQLite) Put(ctx context.Context, j *job.Job) error {
	if _, err := s.db.ExecContext(ctx, upsertStatement(questionMark), jobArgs(j)...); err != nil {
		return fmt.Errorf("put job %s: %w", j.ID, err)
	}
	return nil
}

// Update applies the patch in one conditional UPDATE statement.
func (s *SQLite) Update(ctx context.Context, id string, patch job.Patch) error {
	query, args := updateStatement(id, patch, time.Now().UTC(), questionMark)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if n > 0 {
		return nil
	}
	return s.missOrPrecondition(ctx, id)
}

func (s *SQLite) missOrPrecondition(ctx context.Context, id string) error {
	var one int
	err := s.db.QueryRowContext(ctx, "SELECT 1 FROM jobs WHERE id = ?", id).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return job.ErrJobNotFound
	case err != nil:
		return fmt.Errorf("check job %s: %w", id, err)
	default:
		return job.ErrPreconditionFailed
	}
}

// Scan returns one page of matching jobs ordered by ID.
func (s *SQLite) Scan(ctx context.Context, filter job.ScanFilter, limit int, cursor string) (job.Page, error) {
	query, args := scanStatement(filter, limit, cursor, questionMark)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return job.Page{}, fmt.Errorf("scan jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return job.Page{}, fmt.Errorf("scan jobs: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return job.Page{}, fmt.Errorf("scan jobs: %w", err)
	}
	return pageOf(jobs, limit), nil
}
