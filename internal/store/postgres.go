package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/maauso/contentcraft-pipeline/internal/job"
)

// Compile-time check that Postgres implements job.Store.
var _ job.Store = (*Postgres)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  owner_id TEXT NOT NULL,
  prompt TEXT NOT NULL,
  duration_seconds INTEGER NOT NULL,
  resolution TEXT NOT NULL,
  tier TEXT NOT NULL,
  wants_audio BOOLEAN NOT NULL DEFAULT FALSE,
  audio_tier TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  video_status TEXT NOT NULL DEFAULT '',
  audio_status TEXT NOT NULL DEFAULT '',
  combination_status TEXT NOT NULL DEFAULT '',
  video_url TEXT NOT NULL DEFAULT '',
  audio_url TEXT NOT NULL DEFAULT '',
  combined_url TEXT NOT NULL DEFAULT '',
  has_separate_tracks BOOLEAN NOT NULL DEFAULT FALSE,
  error_message TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL,
  updated_at BIGINT NOT NULL,
  completed_at BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);
CREATE INDEX IF NOT EXISTS jobs_owner_idx ON jobs (owner_id);
`

// Postgres is a job.Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// NewPostgresPool connects to dsn with the pool limits used in production.
func NewPostgresPool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 1
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

// NewPostgres creates a store on pool.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{pool: pool}
}

// Migrate creates the jobs table if it does not exist.
func (s *Postgres) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("apply postgres schema: %w", err)
	}
	return nil
}

// Close closes the pool.
func (s *Postgres) Close() { s.pool.Close() }

// Get retrieves a job by ID.
func (s *Postgres) Get(ctx context.Context, id string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, "SELECT "+selectColumns+" FROM jobs WHERE id = $1", id)
	j, err := scanJob(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, job.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return j, nil
}

// Put creates or replaces a job.
func (s *Postgres) Put(ctx context.Context, j *job.Job) error {
	if _, err := s.pool.Exec(ctx, upsertStatement(dollar), jobArgs(j)...); err != nil {
		return fmt.Errorf("put job %s: %w", j.ID, err)
	}
	return nil
}

// Update applies the patch in one conditional UPDATE statement.
func (s *Postgres) Update(ctx context.Context, id string, patch job.Patch) error {
	query, args := updateStatement(id, patch, time.Now().UTC(), dollar)
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update job %s: %w", id, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, "SELECT EXISTS (SELECT 1 FROM jobs WHERE id = $1)", id).Scan(&exists); err != nil {
		return fmt.Errorf("check job %s: %w", id, err)
	}
	if !exists {
		return job.ErrJobNotFound
	}
	return job.ErrPreconditionFailed
}

// Scan returns one page of matching jobs ordered by ID.
func (s *Postgres) Scan(ctx context.Context, filter job.ScanFilter, limit int, cursor string) (job.Page, error) {
	query, args := scanStatement(filter, limit, cursor, dollar)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return job.Page{}, fmt.Errorf("scan jobs: %w", err)
	}
	defer rows.Close()

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
