package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"modelpixie/internal/domain"
	"modelpixie/internal/providers/payment"

	"github.com/google/uuid"
)

type createCheckoutRequest struct {
	UserID string `json:"userId"`
	Pack   string `json:"pack"`
}

// CreateCheckout opens a payment session for a credit pack and records the
// pending payment.
func (a *App) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	var req createCheckoutRequest
	if !a.decode(w, r, &req) {
		return
	}
	userID := a.currentUserID(r)
	if userID == "" {
		userID = req.UserID
	}
	if userID == "" {
		a.error(w, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	pack, ok := payment.Packs[req.Pack]
	if !ok {
		a.error(w, http.StatusBadRequest, "bad_request", "unknown credit pack")
		return
	}
	session, err := a.Checkout.CreateSession(r.Context(), userID, req.Pack, pack, a.Config.CheckoutSuccessURL, a.Config.CheckoutCancelURL)
	if err != nil {
		a.fail(w, err)
		return
	}
	record := &domain.Payment{
		ID:          uuid.NewString(),
		UserID:      userID,
		SessionID:   session.ID,
		AmountCents: pack.AmountCents,
		Credits:     pack.Credits,
		Status:      domain.PaymentStatusPending,
	}
	if err := a.Payments.Create(r.Context(), record); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"sessionId": session.ID, "url": session.URL})
}

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID string `json:"id"`
		} `json:"object"`
	} `json:"data"`
}

// PaymentWebhook processes the processor's asynchronous completion events.
// The signature is verified when a secret is configured; otherwise the
// payload is trusted after a logged warning.
func (a *App) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "unreadable payload")
		return
	}
	if a.Config.PaymentWebhookSecret != "" {
		if err := payment.VerifySignature(body, r.Header.Get("X-Payment-Signature"), a.Config.PaymentWebhookSecret); err != nil {
			a.error(w, http.StatusUnauthorized, "unauthorized", "invalid webhook signature")
			return
		}
	} else {
		a.Logger.Warn().Msg("payments: webhook secret not configured, trusting payload unsigned")
	}

	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	if event.Type != "checkout.session.completed" {
		a.json(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	record, err := a.Payments.GetBySessionID(r.Context(), event.Data.Object.ID)
	if err != nil {
		a.fail(w, err)
		return
	}
	balance, err := a.Payments.CompleteAndCredit(r.Context(), record.SessionID)
	if err != nil {
		// A repeated delivery already flipped the row; credits were granted
		// then, so acknowledge without granting again.
		if errors.Is(err, domain.ErrNotFound) {
			a.json(w, http.StatusOK, map[string]any{"received": true})
			return
		}
		a.Logger.Error().Err(err).Str("session_id", record.SessionID).Msg("payments: completing payment failed")
		a.fail(w, err)
		return
	}
	a.Logger.Info().Str("session_id", record.SessionID).Str("user_id", record.UserID).Int("balance", balance).Msg("payments: credits granted")
	a.json(w, http.StatusOK, map[string]any{"received": true})
}
