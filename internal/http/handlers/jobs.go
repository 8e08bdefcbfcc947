package handlers

import (
	"net/http"

	"modelpixie/internal/domain"
	"modelpixie/internal/services"

	"github.com/google/uuid"
)

type createJobRequest struct {
	Prompt string `json:"prompt"`
	UserID string `json:"userId"`
}

type jobView struct {
	ID           string                  `json:"id"`
	UserID       string                  `json:"user_id"`
	Prompt       string                  `json:"prompt"`
	Status       domain.JobStatus        `json:"status"`
	ImageURL     string                  `json:"image_url,omitempty"`
	Variations   []domain.ImageVariation `json:"image_variations,omitempty"`
	ModelURL     string                  `json:"model_url,omitempty"`
	Iterations   int                     `json:"iterations"`
	ErrorMessage string                  `json:"error_message,omitempty"`
	CreatedAt    string                  `json:"created_at"`
}

func viewOf(job *domain.Job) jobView {
	return jobView{
		ID:           job.ID,
		UserID:       job.UserID,
		Prompt:       job.Prompt,
		Status:       job.Status,
		ImageURL:     job.ImageURL,
		Variations:   job.Variations,
		ModelURL:     job.ModelURL,
		Iterations:   job.Iterations,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// CreateJob deducts a credit and records a new pending job.
func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
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
	job, err := a.Jobs.CreateJob(r.Context(), userID, req.Prompt)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusCreated, map[string]any{"job": viewOf(job)})
}

type generateImagesRequest struct {
	JobID      string `json:"jobId"`
	Prompt     string `json:"prompt"`
	Quality    string `json:"quality"`
	Background string `json:"background"`
	Sketch     string `json:"sketch"`
	Seed       *int   `json:"seed"`
}

// GenerateImages produces the candidate variations for a job.
func (a *App) GenerateImages(w http.ResponseWriter, r *http.Request) {
	var req generateImagesRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "jobId required")
		return
	}
	job, enhanced, err := a.Jobs.GenerateImages(r.Context(), req.JobID, services.GenerateOptions{
		Prompt:     req.Prompt,
		Quality:    req.Quality,
		Background: req.Background,
		Sketch:     req.Sketch,
		Seed:       req.Seed,
	})
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"success":        true,
		"images":         job.Variations,
		"enhancedPrompt": enhanced,
		"job":            map[string]any{"id": job.ID, "status": job.Status},
	})
}

type selectVariationRequest struct {
	JobID       string `json:"jobId"`
	VariationID int    `json:"variationId"`
}

// SelectVariation marks one candidate image as the job's primary image.
func (a *App) SelectVariation(w http.ResponseWriter, r *http.Request) {
	var req selectVariationRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "jobId required")
		return
	}
	job, err := a.Jobs.SelectVariation(r.Context(), req.JobID, req.VariationID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"job": viewOf(job)})
}

type generateModelRequest struct {
	JobID    string `json:"jobId"`
	ImageURL string `json:"imageUrl"`
}

// GenerateModel submits the chosen image to the mesh provider.
func (a *App) GenerateModel(w http.ResponseWriter, r *http.Request) {
	var req generateModelRequest
	if !a.decode(w, r, &req) {
		return
	}
	if _, err := uuid.Parse(req.JobID); err != nil {
		a.error(w, http.StatusBadRequest, "bad_request", "jobId must be a valid UUID")
		return
	}
	job, err := a.Jobs.GenerateModel(r.Context(), req.JobID, req.ImageURL)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"job": map[string]any{"id": job.ID, "status": job.Status, "image_url": job.ImageURL},
	})
}

type checkStatusRequest struct {
	JobID string `json:"jobId"`
}

// CheckModelStatus polls the mesh provider and advances the job when its
// task reached a terminal provider state.
func (a *App) CheckModelStatus(w http.ResponseWriter, r *http.Request) {
	var req checkStatusRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "jobId required")
		return
	}
	status, err := a.Jobs.CheckModelStatus(r.Context(), req.JobID)
	if err != nil {
		a.fail(w, err)
		return
	}
	resp := map[string]any{
		"success":  true,
		"status":   status.Status,
		"progress": status.Progress,
	}
	if status.ModelURL != "" {
		resp["modelUrl"] = status.ModelURL
	}
	if status.EstimatedRemaining > 0 {
		resp["estimatedTimeRemaining"] = status.EstimatedRemaining
	}
	if status.Error != "" {
		resp["error"] = status.Error
	}
	a.json(w, http.StatusOK, resp)
}

type refineImageRequest struct {
	JobID            string `json:"jobId"`
	EditInstructions string `json:"editInstructions"`
}

// RefineImage applies edit instructions to the selected image, consuming one
// iteration.
func (a *App) RefineImage(w http.ResponseWriter, r *http.Request) {
	var req refineImageRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "jobId required")
		return
	}
	job, err := a.Jobs.RefineImage(r.Context(), req.JobID, req.EditInstructions)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{
		"job": map[string]any{"id": job.ID, "iterations": job.Iterations, "status": job.Status},
	})
}

type cancelJobRequest struct {
	JobID string `json:"jobId"`
}

// CancelJob moves a job to cancelled. Advisory only: dispatched provider
// calls keep running.
func (a *App) CancelJob(w http.ResponseWriter, r *http.Request) {
	var req cancelJobRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.JobID == "" {
		a.error(w, http.StatusBadRequest, "bad_request", "jobId required")
		return
	}
	job, err := a.Jobs.CancelJob(r.Context(), req.JobID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"job": viewOf(job)})
}

type getJobRequest struct {
	JobID string `json:"jobId"`
}

// GetJob returns one job.
func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	var req getJobRequest
	if !a.decode(w, r, &req) {
		return
	}
	job, err := a.Jobs.GetJob(r.Context(), req.JobID)
	if err != nil {
		a.fail(w, err)
		return
	}
	a.json(w, http.StatusOK, map[string]any{"job": viewOf(job)})
}

type listJobsRequest struct {
	UserID string `json:"userId"`
	Limit  int    `json:"limit"`
}

// ListJobs returns the user's recent jobs.
func (a *App) ListJobs(w http.ResponseWriter, r *http.Request) {
	var req listJobsRequest
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
	jobs, err := a.Jobs.ListJobs(r.Context(), userID, req.Limit)
	if err != nil {
		a.fail(w, err)
		return
	}
	views := make([]jobView, len(jobs))
	for i := range jobs {
		views[i] = viewOf(&jobs[i])
	}
	a.json(w, http.StatusOK, map[string]any{"jobs": views, "count": len(views)})
}
