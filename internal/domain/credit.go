package domain

import "time"

// CreditBalance is the per-user counter gating job creation and refinement
// resets. It never goes negative.
type CreditBalance struct {
	UserID    string
	Balance   int
	UpdatedAt time.Time
}

// PaymentStatus enumerates checkout attempt states.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
)

// Payment is an append-only record of one checkout attempt.
type Payment struct {
	ID          string
	UserID      string
	SessionID   string
	AmountCents int64
	Credits     int
	Status      PaymentStatus
	CreatedAt   time.Time
}
