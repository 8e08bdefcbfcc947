package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"modelpixie/internal/domain"
)

// CreditRepositoryPG implements domain.CreditRepository.
type CreditRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewCreditRepository creates a new credit repository backed by PostgreSQL.
func NewCreditRepository(pool *pgxpool.Pool) *CreditRepositoryPG {
	return &CreditRepositoryPG{pool: pool}
}

// Balance returns the user's current balance; a missing row reads as zero.
func (r *CreditRepositoryPG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	err := r.pool.QueryRow(ctx, `SELECT balance FROM credits WHERE user_id = $1;`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return balance, err
}

// DeductIfSufficient decrements the balance only when it covers amount. The
// condition lives in the statement itself, so a concurrent deduction cannot
// drive the balance negative: whichever write lands second sees the reduced
// balance and affects zero rows.
func (r *CreditRepositoryPG) DeductIfSufficient(ctx context.Context, userID string, amount int) (int, error) {
	query := `
UPDATE credits
SET balance = balance - $2, updated_at = NOW()
WHERE user_id = $1 AND balance >= $2
RETURNING balance;
`
	var balance int
	err := r.pool.QueryRow(ctx, query, userID, amount).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrInsufficientCredits
	}
	return balance, err
}

// Add increments the balance, creating the row on first top-up.
func (r *CreditRepositoryPG) Add(ctx context.Context, userID string, amount int) (int, error) {
	query := `
INSERT INTO credits (user_id, balance, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET balance = credits.balance + $2, updated_at = NOW()
RETURNING balance;
`
	var balance int
	err := r.pool.QueryRow(ctx, query, userID, amount).Scan(&balance)
	return balance, err
}

// SpendAndResetIterations debits one credit and resets the job's iteration
// counter as one transaction. Either both writes commit or neither does.
func (r *CreditRepositoryPG) SpendAndResetIterations(ctx context.Context, userID, jobID string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var balance int
	err = tx.QueryRow(ctx, `
UPDATE credits
SET balance = balance - 1, updated_at = NOW()
WHERE user_id = $1 AND balance >= 1
RETURNING balance;
`, userID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrInsufficientCredits
	}
	if err != nil {
		return 0, err
	}

	tag, err := tx.Exec(ctx, `UPDATE jobs SET iterations = 0, updated_at = NOW() WHERE id = $1 AND user_id = $2;`, jobID, userID)
	if err != nil {
		return 0, err
	}
	if tag.RowsAffected() == 0 {
		return 0, domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return balance, nil
}
