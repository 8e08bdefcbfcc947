package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"modelpixie/internal/domain"
	"modelpixie/internal/infra"
	"modelpixie/internal/middleware"
	"modelpixie/internal/providers/payment"
	"modelpixie/internal/services"
	"modelpixie/internal/storage"

	"github.com/rs/zerolog"
)

// App is the handler container: configuration plus every service a request
// may need.
type App struct {
	Config   *infra.Config
	Logger   zerolog.Logger
	Jobs     *services.JobService
	Credits  *services.CreditService
	Feedback *services.FeedbackService
	Payments domain.PaymentRepository
	Checkout payment.Checkout
	Store    *storage.FileStore
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, errCode, details string) {
	a.json(w, code, map[string]any{"error": errCode, "details": details})
}

// fail maps domain sentinels onto HTTP codes and hides internal detail for
// everything else.
func (a *App) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusBadRequest, "insufficient_credits", "not enough credits")
	case errors.Is(err, domain.ErrIterationLimit):
		a.error(w, http.StatusBadRequest, "iteration_limit", "refinement limit reached; use a credit to reset")
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, http.StatusConflict, "invalid_state", err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing or invalid session")
	case errors.Is(err, domain.ErrConfigMissing):
		// Configuration errors are fatal and surfaced verbatim so support
		// can act on them; the client treats them as non-retryable.
		a.error(w, http.StatusInternalServerError, "configuration", err.Error())
	default:
		a.Logger.Error().Err(err).Msg("handler: internal error")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func (a *App) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return false
	}
	return true
}
