package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fmonfasani/mcp-scraper-agent-sub000/internal/models"
)

// ErrNoJob is returned when the archive has no row for an id.
var ErrNoJob = errors.New("job not archived")

// Store wraps pgxpool for the job archive. The in-memory registry stays
// authoritative while a job runs; terminal jobs land here write-behind so
// results survive restarts and eviction.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// ArchiveJob upserts a terminal job and its task results in one
// transaction. Re-archiving the same id replaces the result rows, so the
// call is idempotent.
func (s *Store) ArchiveJob(ctx context.Context, job models.Job) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) // safe no-op on commit

	_, err = tx.Exec(ctx, `
		INSERT INTO jobs (id, kind, site, status, progress, total, error, created_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, progress = EXCLUDED.progress,
		    error = EXCLUDED.error, ended_at = EXCLUDED.ended_at
	`, job.ID, job.Kind, job.Site, job.Status, job.Progress, job.Total, job.Error, job.CreatedAt, job.StartedAt, job.EndedAt)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM task_results WHERE job_id = $1`, job.ID); err != nil {
		return fmt.Errorf("clear task results: %w", err)
	}
	for i, r := range job.Results {
		_, err := tx.Exec(ctx, `
			INSERT INTO task_results (job_id, seq, task_id, url, success, fields, error, attempts, duration_ms)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, job.ID, i, r.TaskID, r.URL, r.Success, r.Fields, nullable(r.Error), r.Attempts, r.DurationMs)
		if err != nil {
			return fmt.Errorf("insert task result: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// GetJob fetches an archived job with its ordered results.
func (s *Store) GetJob(ctx context.Context, id string) (models.Job, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, kind, site, status, progress, total, error, created_at, started_at, ended_at
		FROM jobs WHERE id = $1
	`, id)

	var job models.Job
	var errText pgtype.Text
	if err := row.Scan(&job.ID, &job.Kind, &job.Site, &job.Status, &job.Progress, &job.Total, &errText, &job.CreatedAt, &job.StartedAt, &job.EndedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Job{}, ErrNoJob
		}
		return models.Job{}, fmt.Errorf("scan job: %w", err)
	}
	if errText.Valid {
		job.Error = &errText.String
	}

	rows, err := s.pool.Query(ctx, `
		SELECT task_id, url, success, fields, error, attempts, duration_ms
		FROM task_results WHERE job_id = $1 ORDER BY seq
	`, id)
	if err != nil {
		return models.Job{}, fmt.Errorf("query task results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.TaskResult
		var resErr pgtype.Text
		if err := rows.Scan(&r.TaskID, &r.URL, &r.Success, &r.Fields, &resErr, &r.Attempts, &r.DurationMs); err != nil {
			return models.Job{}, fmt.Errorf("scan task result: %w", err)
		}
		if resErr.Valid {
			r.Error = resErr.String
		}
		job.Results = append(job.Results, r)
	}
	if err := rows.Err(); err != nil {
		return models.Job{}, fmt.Errorf("iterate task results: %w", err)
	}
	return job, nil
}

// FailedResults returns the failed task results of an archived job.
func (s *Store) FailedResults(ctx context.Context, id string) ([]models.TaskResult, error) {
	job, err := s.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]models.TaskResult, 0)
	for _, r := range job.Results {
		if !r.Success {
			out = append(out, r)
		}
	}
	return out, nil
}

func nullable(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
