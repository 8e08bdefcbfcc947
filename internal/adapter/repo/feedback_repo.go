package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"modelpixie/internal/domain"
)

// FeedbackRepositoryPG implements domain.FeedbackRepository.
type FeedbackRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewFeedbackRepository creates a new feedback repository backed by PostgreSQL.
func NewFeedbackRepository(pool *pgxpool.Pool) *FeedbackRepositoryPG {
	return &FeedbackRepositoryPG{pool: pool}
}

// Upsert stores one feedback row per job, updating rating and comment when a
// row already exists.
func (r *FeedbackRepositoryPG) Upsert(ctx context.Context, feedback *domain.Feedback) error {
	query := `
INSERT INTO feedback (id, job_id, rating, comment, created_at, updated_at)
VALUES ($1, $2, $3, $4, NOW(), NOW())
ON CONFLICT (job_id) DO UPDATE SET rating = $3, comment = $4, updated_at = NOW();
`
	_, err := r.pool.Exec(ctx, query, feedback.ID, feedback.JobID, feedback.Rating, feedback.Comment)
	return err
}

// GetByJobID fetches the feedback row for a job.
func (r *FeedbackRepositoryPG) GetByJobID(ctx context.Context, jobID string) (*domain.Feedback, error) {
	query := `
SELECT id, job_id, rating, comment, created_at, updated_at
FROM feedback
WHERE job_id = $1;
`
	row := r.pool.QueryRow(ctx, query, jobID)
	var feedback domain.Feedback
	if err := row.Scan(
		&feedback.ID,
		&feedback.JobID,
		&feedback.Rating,
		&feedback.Comment,
		&feedback.CreatedAt,
		&feedback.UpdatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &feedback, nil
}
