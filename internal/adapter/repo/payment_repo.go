package repo

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"modelpixie/internal/domain"
)

// PaymentRepositoryPG implements domain.PaymentRepository.
type PaymentRepositoryPG struct {
	pool *pgxpool.Pool
}

// NewPaymentRepository creates a new payment repository backed by PostgreSQL.
func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepositoryPG {
	return &PaymentRepositoryPG{pool: pool}
}

// Create appends a checkout attempt record.
func (r *PaymentRepositoryPG) Create(ctx context.Context, payment *domain.Payment) error {
	query := `
INSERT INTO payments (id, user_id, session_id, amount_cents, credits, status)
VALUES ($1, $2, $3, $4, $5, $6);
`
	_, err := r.pool.Exec(ctx, query,
		payment.ID,
		payment.UserID,
		payment.SessionID,
		payment.AmountCents,
		payment.Credits,
		payment.Status,
	)
	return err
}

// GetBySessionID looks up a payment by the provider's session id.
func (r *PaymentRepositoryPG) GetBySessionID(ctx context.Context, sessionID string) (*domain.Payment, error) {
	query := `
SELECT id, user_id, session_id, amount_cents, credits, status, created_at
FROM payments
WHERE session_id = $1;
`
	row := r.pool.QueryRow(ctx, query, sessionID)
	var payment domain.Payment
	if err := row.Scan(
		&payment.ID,
		&payment.UserID,
		&payment.SessionID,
		&payment.AmountCents,
		&payment.Credits,
		&payment.Status,
		&payment.CreatedAt,
	); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &payment, nil
}

// CompleteAndCredit flips a pending payment to completed and grants its
// credits as one transaction. Either both writes commit or neither does, so a
// failed grant leaves the row pending and the processor's retry delivery
// grants the credits then. Repeated deliveries find no pending row and are
// reported as ErrNotFound.
func (r *PaymentRepositoryPG) CompleteAndCredit(ctx context.Context, sessionID string) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	var userID string
	var credits int
	err = tx.QueryRow(ctx, `
UPDATE payments
SET status = 'completed'
WHERE session_id = $1 AND status = 'pending'
RETURNING user_id, credits;
`, sessionID).Scan(&userID, &credits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, err
	}

	var balance int
	err = tx.QueryRow(ctx, `
INSERT INTO credits (user_id, balance, updated_at)
VALUES ($1, $2, NOW())
ON CONFLICT (user_id) DO UPDATE SET balance = credits.balance + $2, updated_at = NOW()
RETURNING balance;
`, userID, credits).Scan(&balance)
	if err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return balance, nil
}
