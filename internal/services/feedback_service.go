package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"modelpixie/internal/domain"
)

// FeedbackService stores one rating per job with upsert semantics.
type FeedbackService struct {
	feedback domain.FeedbackRepository
	jobs     domain.JobRepository
}

// NewFeedbackService wires feedback persistence.
func NewFeedbackService(feedback domain.FeedbackRepository, jobs domain.JobRepository) *FeedbackService {
	return &FeedbackService{feedback: feedback, jobs: jobs}
}

// Submit validates and upserts feedback for an existing job.
func (s *FeedbackService) Submit(ctx context.Context, jobID string, rating int, comment string) (*domain.Feedback, error) {
	if !domain.ValidRating(rating) {
		return nil, fmt.Errorf("%w: rating must be between 1 and 5", domain.ErrInvalidInput)
	}
	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	feedback := &domain.Feedback{
		ID:      uuid.NewString(),
		JobID:   jobID,
		Rating:  rating,
		Comment: comment,
	}
	if err := s.feedback.Upsert(ctx, feedback); err != nil {
		return nil, err
	}
	return feedback, nil
}
