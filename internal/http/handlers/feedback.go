package handlers

import "net/http"

type feedbackRequest struct {
	JobID   string `json:"jobId"`
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

// SubmitFeedback upserts one rating per job.
func (a *App) SubmitFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "jobId required")
		return
	}
	feedback, err := a.Feedback.Submit(r.Context(), req.JobID, req.Rating, req.Comment)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success": true,
		"feedback": map[string]any{
			"id":     feedback.ID,
			"job_id": feedback.JobID,
			"rating": feedback.Rating,
		},
	})
}
