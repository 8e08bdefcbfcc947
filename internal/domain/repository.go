package domain

import (
	"context"
	"time"
)

// JobRepository defines persistence for job entities.
type JobRepository interface {
	Create(ctx context.Context, job *Job) error
	GetByID(ctx context.Context, jobID string) (*Job, error)
	ListByUser(ctx context.Context, userID string, limit int) ([]Job, error)
	// UpdateStatus enforces the lifecycle graph: it only writes when the
	// stored status may legally move to the new one, and returns
	// ErrInvalidTransition otherwise.
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, errMsg *string) error
	SaveVariations(ctx context.Context, jobID string, variations []ImageVariation, imageURL string) error
	SetProviderTask(ctx context.Context, jobID, taskID string) error
	Complete(ctx context.Context, jobID, modelURL string) error
	IncrementIterations(ctx context.Context, jobID string) (int, error)
	ResetIterations(ctx context.Context, jobID string) error
	// MarkStale moves jobs stuck in processing longer than maxAge to error.
	MarkStale(ctx context.Context, maxAge time.Duration) (int64, error)
	// ListProcessing returns jobs awaiting mesh provider completion.
	ListProcessing(ctx context.Context, limit int) ([]Job, error)
}

// CreditRepository defines persistence for credit balances.
type CreditRepository interface {
	Balance(ctx context.Context, userID string) (int, error)
	// DeductIfSufficient atomically decrements the balance when it covers
	// amount, returning the new balance. ErrInsufficientCredits otherwise.
	DeductIfSufficient(ctx context.Context, userID string, amount int) (int, error)
	Add(ctx context.Context, userID string, amount int) (int, error)
	// SpendAndResetIterations debits one credit and resets the job's
	// iteration counter as a single transaction.
	SpendAndResetIterations(ctx context.Context, userID, jobID string) (int, error)
}

// PaymentRepository records checkout attempts.
type PaymentRepository interface {
	Create(ctx context.Context, payment *Payment) error
	GetBySessionID(ctx context.Context, sessionID string) (*Payment, error)
	// CompleteAndCredit flips a pending payment to completed and grants its
	// credits as a single transaction, returning the new balance. Repeated
	// deliveries find no pending row and get ErrNotFound.
	CompleteAndCredit(ctx context.Context, sessionID string) (int, error)
}

// FeedbackRepository upserts one feedback row per job.
type FeedbackRepository interface {
	Upsert(ctx context.Context, feedback *Feedback) error
	GetByJobID(ctx context.Context, jobID string) (*Feedback, error)
}
