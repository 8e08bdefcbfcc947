package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"modelpixie/internal/domain"
)

// JobRepositoryPG implements domain.JobRepository.
type JobRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(pool *pgxpool.Pool) *JobRepositoryPG {
	return &JobRepositoryPG{pool: pool}
}

const jobColumns = `id, user_id, prompt, status, image_url, variations, model_url, iterations, error_message, provider_task_id, created_at, updated_at, completed_at`

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	variations, err := marshalVariations(job.Variations)
	if err != nil {
		return err
	}
	query := `
INSERT INTO jobs (id, user_id, prompt, status, image_url, variations, model_url, iterations, error_message, provider_task_id)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10);
`
	_, err = r.pool.Exec(ctx, query,
		job.ID,
		job.UserID,
		job.Prompt,
		job.Status,
		job.ImageURL,
		variations,
		job.ModelURL,
		job.Iterations,
		job.ErrorMessage,
		job.ProviderTaskID,
	)
	return err
}

// GetByID fetches a job by its identifier.
func (r *JobRepositoryPG) GetByID(ctx context.Context, jobID string) (*domain.Job, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1;`, jobID)
	return scanJob(row)
}

// ListByUser returns the user's most recent jobs.
func (r *JobRepositoryPG) ListByUser(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2;`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

// UpdateStatus moves the job along the lifecycle graph. The stored status is
// re-read inside the statement so an illegal transition affects zero rows.
func (r *JobRepositoryPG) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, errMsg *string) error {
	current, err := r.GetByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !domain.CanTransition(current.Status, status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, current.Status, status)
	}
	query := `
UPDATE jobs
SET status = $2,
    updated_at = NOW(),
    error_message = COALESCE($3, error_message),
    completed_at = CASE WHEN $2 = 'completed' THEN NOW() ELSE completed_at END
WHERE id = $1 AND status = $4;
`
	tag, err := r.pool.Exec(ctx, query, jobID, status, errMsg, current.Status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s changed concurrently", domain.ErrInvalidTransition, jobID)
	}
	return nil
}

// SaveVariations overwrites the variation array and primary image URL.
func (r *JobRepositoryPG) SaveVariations(ctx context.Context, jobID string, variations []domain.ImageVariation, imageURL string) error {
	encoded, err := marshalVariations(variations)
	if err != nil {
		return err
	}
	query := `
UPDATE jobs SET variations = $2, image_url = $3, updated_at = NOW() WHERE id = $1;
`
	tag, err := r.pool.Exec(ctx, query, jobID, encoded, imageURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetProviderTask records the mesh provider's task identifier.
func (r *JobRepositoryPG) SetProviderTask(ctx context.Context, jobID, taskID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE jobs SET provider_task_id = $2, updated_at = NOW() WHERE id = $1;`, jobID, taskID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Complete marks the job finished with its model URL.
func (r *JobRepositoryPG) Complete(ctx context.Context, jobID, modelURL string) error {
	query := `
UPDATE jobs
SET status = 'completed', model_url = $2, completed_at = NOW(), updated_at = NOW()
WHERE id = $1 AND status = 'processing';
`
	tag, err := r.pool.Exec(ctx, query, jobID, modelURL)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInvalidTransition
	}
	return nil
}

// IncrementIterations bumps the refinement counter, refusing to pass the cap.
func (r *JobRepositoryPG) IncrementIterations(ctx context.Context, jobID string) (int, error) {
	query := `
UPDATE jobs
SET iterations = iterations + 1, updated_at = NOW()
WHERE id = $1 AND iterations < $2
RETURNING iterations;
`
	var iterations int
	err := r.pool.QueryRow(ctx, query, jobID, domain.MaxIterations).Scan(&iterations)
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, jobID); getErr != nil {
			return 0, getErr
		}
		return 0, domain.ErrIterationLimit
	}
	return iterations, err
}

// ResetIterations zeroes the refinement counter.
func (r *JobRepositoryPG) ResetIterations(ctx context.Context, jobID string) error {
	tag, err := r.pool.Exec(ctx, `UPDATE jobs SET iterations = 0, updated_at = NOW() WHERE id = $1;`, jobID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// MarkStale errors out jobs stuck in processing longer than maxAge.
func (r *JobRepositoryPG) MarkStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	query := `
UPDATE jobs
SET status = 'error', error_message = 'model generation timed out', updated_at = NOW()
WHERE status = 'processing' AND updated_at < NOW() - make_interval(secs => $1);
`
	tag, err := r.pool.Exec(ctx, query, maxAge.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListProcessing returns jobs awaiting mesh provider completion, oldest first.
func (r *JobRepositoryPG) ListProcessing(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobs WHERE status = 'processing' ORDER BY updated_at ASC LIMIT $1;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *job)
	}
	return jobs, rows.Err()
}

func scanJob(row pgx.Row) (*domain.Job, error) {
	var job domain.Job
	var variations []byte
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Prompt,
		&job.Status,
		&job.ImageURL,
		&variations,
		&job.ModelURL,
		&job.Iterations,
		&job.ErrorMessage,
		&job.ProviderTaskID,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(variations) > 0 {
		if err := json.Unmarshal(variations, &job.Variations); err != nil {
			return nil, fmt.Errorf("decode variations: %w", err)
		}
	}
	return &job, nil
}

func marshalVariations(variations []domain.ImageVariation) ([]byte, error) {
	if variations == nil {
		variations = []domain.ImageVariation{}
	}
	encoded, err := json.Marshal(variations)
	if err != nil {
		return nil, fmt.Errorf("encode variations: %w", err)
	}
	return encoded, nil
}
