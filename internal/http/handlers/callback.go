package handlers

import (
	"crypto/subtle"
	"net/http"
)

type callbackRequest struct {
	Operation string `json:"operation"`
	JobID     string `json:"jobId"`
	ModelURL  string `json:"modelUrl"`
	ImageURL  string `json:"imageUrl"`
	Error     string `json:"error"`
}

// WorkflowCallback receives asynchronous updates from the workflow
// automation system and dispatches on the operation field. The shared secret
// header is enforced when configured.
func (a *App) WorkflowCallback(w http.ResponseWriter, r *http.Request) {
	if secret := a.Config.CallbackSecret; secret != "" {
		provided := r.Header.Get("X-Callback-Secret")
		if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
			a.error(w, http.StatusUnauthorized, "unauthorized", "invalid callback secret")
			return
		}
	}
	var req callbackRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.JobID == "" || req.Operation == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "operation and jobId required")
		return
	}
	if err := a.Jobs.ApplyCallback(r.Context(), req.JobID, req.Operation, req.ModelURL, req.ImageURL, req.Error); err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"success": true})
}
