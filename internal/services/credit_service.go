package services

import (
	"context"

	"github.com/rs/zerolog"

	"modelpixie/internal/domain"
)

// CreditService gates credit-priced operations.
type CreditService struct {
	credits domain.CreditRepository
	logger  zerolog.Logger
}

// NewCreditService wires the credit ledger.
func NewCreditService(credits domain.CreditRepository, logger zerolog.Logger) *CreditService {
	return &CreditService{credits: credits, logger: logger}
}

// CheckBalance reports whether the user can afford the required amount. A
// failed lookup reads as insufficient rather than an error: the conservative
// answer costs the user a retry, not a credit.
func (s *CreditService) CheckBalance(ctx context.Context, userID string, required int) bool {
	balance, err := s.credits.Balance(ctx, userID)
	if err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("credits: balance lookup failed")
		return false
	}
	return balance >= required
}

// Balance returns the user's current balance.
func (s *CreditService) Balance(ctx context.Context, userID string) (int, error) {
	return s.credits.Balance(ctx, userID)
}

// Deduct removes amount from the balance, failing closed when it does not
// cover the request.
func (s *CreditService) Deduct(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidInput
	}
	return s.credits.DeductIfSufficient(ctx, userID, amount)
}

// Add credits the balance, creating it on first top-up.
func (s *CreditService) Add(ctx context.Context, userID string, amount int) (int, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidInput
	}
	return s.credits.Add(ctx, userID, amount)
}
