package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/songblend/api/internal/model"
)

const jobColumns = `id, status, progress, songs, created_at, updated_at, completed_at, output_file_id, error`

// JobRepository persists blend jobs.
type JobRepository struct {
	db *sqlx.DB
}

func NewJobRepository(db *sqlx.DB) *JobRepository {
	return &JobRepository{db: db}
}

// Create inserts a new job and returns the stored row with database timestamps.
func (r *JobRepository) Create(ctx context.Context, job *model.Job) (*model.Job, error) {
	query := `
		INSERT INTO jobs (id, status, progress, songs)
		VALUES ($1, $2, $3, $4)
		RETURNING ` + jobColumns

	var out model.Job
	if err := r.db.GetContext(ctx, &out, query, job.ID, job.Status, job.Progress, job.Songs); err != nil {
		return nil, fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	return &out, nil
}

// Get returns the job or model.ErrJobNotFound.
func (r *JobRepository) Get(ctx context.Context, id string) (*model.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`

	var out model.Job
	if err := r.db.GetContext(ctx, &out, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &out, nil
}

// Update applies u unconditionally and returns the row as written.
// completed_at is stamped when, and only when, the job enters completed.
func (r *JobRepository) Update(ctx context.Context, u model.JobUpdate) (*model.Job, error) {
	query := `
		UPDATE jobs SET
			status = $2,
			progress = $3,
			error = $4,
			output_file_id = $5,
			completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE NULL END,
			updated_at = NOW()
		WHERE id = $1
		RETURNING ` + jobColumns

	var out model.Job
	if err := r.db.GetContext(ctx, &out, query, u.JobID, string(u.Status), u.Progress, u.Error, u.OutputFileID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrJobNotFound
		}
		return nil, fmt.Errorf("update job %s: %w", u.JobID, err)
	}
	return &out, nil
}

// Cancel marks a pending or processing job failed with message, keeping its
// progress. A job already completed or failed is left untouched and reported
// as model.ErrJobTerminal.
func (r *JobRepository) Cancel(ctx context.Context, id, message string) (*model.Job, error) {
	query := `
		UPDATE jobs SET
			status = 'failed',
			error = $2,
			output_file_id = NULL,
			completed_at = NULL,
			updated_at = NOW()
		WHERE id = $1 AND status IN ('pending', 'processing')
		RETURNING ` + jobColumns

	var out model.Job
	err := r.db.GetContext(ctx, &out, query, id, message)
	if err == nil {
		return &out, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("cancel job %s: %w", id, err)
	}

	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: status is %s", model.ErrJobTerminal, current.Status)
}

// List returns a page of jobs, newest first, and the total count.
func (r *JobRepository) List(ctx context.Context, limit, offset int) ([]model.Job, int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM jobs`); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs ORDER BY created_at DESC, id LIMIT $1 OFFSET $2`
	jobs := []model.Job{}
	if err := r.db.SelectContext(ctx, &jobs, query, limit, offset); err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	return jobs, total, nil
}

// Ping checks the database connection.
func (r *JobRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
