package handlers

import (
	"net/http"
)

type useRefinementCreditRequest struct {
	UserID string `json:"userId"`
	JobID  string `json:"jobId"`
}

// UseRefinementCredit debits one credit and resets the job's iteration
// counter as one transactional unit.
func (a *App) UseRefinementCredit(w http.ResponseWriter, r *http.Request) {
	var req useRefinementCreditRequest
	if !a.decode(w, r, &req) {
		return
	}
	userID := a.currentUserID(r)
	if userID == "" {
		userID = req.UserID
	}
	if userID == "" || req.JobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "userId and jobId required")
		return
	}
	remaining, err := a.Jobs.UseRefinementCredit(r.Context(), userID, req.JobID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":          true,
		"creditsRemaining": remaining,
		"iterationsReset":  true,
	})
}

type addTestCreditsRequest struct {
	UserID  string `json:"userId"`
	Credits int    `json:"credits"`
}

// AddTestCredits tops up a balance without payment. Development aid only.
func (a *App) AddTestCredits(w http.ResponseWriter, r *http.Request) {
	if a.Config.AppEnv == "production" {
		a.error(w, http.StatusNotFound, "not_found", "not available")
		return
	}
	var req addTestCreditsRequest
	if !a.decode(w, r, &req) {
		return
	}
	userID := a.currentUserID(r)
	if userID == "" {
		userID = req.UserID
	}
	if userID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "userId required")
		return
	}
	credits := req.Credits
	if credits <= 0 {
		credits = 10
	}
	balance, err := a.Credits.Add(r.Context(), userID, credits)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true, "balance": balance})
}

type balanceRequest struct {
	UserID string `json:"userId"`
}

// CreditBalance returns the user's current balance.
func (a *App) CreditBalance(w http.ResponseWriter, r *http.Request) {
	var req balanceRequest
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
	balance, err := a.Credits.Balance(r.Context(), userID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"balance": balance})
}
