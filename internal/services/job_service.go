package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"modelpixie/internal/domain"
	"modelpixie/internal/notify"
	"modelpixie/internal/providers/image"
	"modelpixie/internal/providers/mesh"
	"modelpixie/internal/providers/prompt"
	"modelpixie/internal/retry"
	"modelpixie/internal/storage"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ExtraVariations is how many modified-prompt images accompany the primary.
const ExtraVariations = 3

// JobCreateCost is the credit price of one job.
const JobCreateCost = 1

// GenerateOptions carries optional image tuning parameters through to the
// provider. Prompt, when set, replaces the prompt recorded at job creation.
type GenerateOptions struct {
	Prompt     string
	Quality    string
	Background string
	Sketch     string
	Seed       *int
}

// ModelStatus is the polled view of a job's mesh generation progress.
type ModelStatus struct {
	Status             domain.JobStatus
	ProviderStatus     string
	Progress           int
	EstimatedRemaining int
	ModelURL           string
	Error              string
}

// JobService sequences job creation, image generation, selection, model
// generation, refinement, and status polling.
type JobService struct {
	jobs     domain.JobRepository
	credits  domain.CreditRepository
	images   image.Generator
	enhancer prompt.Enhancer
	meshes   mesh.Provider
	store    *storage.FileStore
	notifier *notify.Notifier
	logger   zerolog.Logger
	retryCfg retry.Config
}

// NewJobService wires the lifecycle service.
func NewJobService(
	jobs domain.JobRepository,
	credits domain.CreditRepository,
	images image.Generator,
	enhancer prompt.Enhancer,
	meshes mesh.Provider,
	store *storage.FileStore,
	notifier *notify.Notifier,
	logger zerolog.Logger,
) *JobService {
	return &JobService{
		jobs:     jobs,
		credits:  credits,
		images:   images,
		enhancer: enhancer,
		meshes:   meshes,
		store:    store,
		notifier: notifier,
		logger:   logger,
		retryCfg: retry.Config{Logger: logger},
	}
}

// CreateJob deducts one credit and records a new pending job. The deduction
// happens first: an insufficient balance never creates a job row, and a
// failed insert refunds the credit.
func (s *JobService) CreateJob(ctx context.Context, userID, promptText string) (*domain.Job, error) {
	promptText = strings.TrimSpace(promptText)
	if promptText == "" {
		return nil, fmt.Errorf("%w: prompt required", domain.ErrInvalidInput)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: user id required", domain.ErrInvalidInput)
	}

	if _, err := s.credits.DeductIfSufficient(ctx, userID, JobCreateCost); err != nil {
		return nil, err
	}

	job := &domain.Job{
		ID:     uuid.NewString(),
		UserID: userID,
		Prompt: promptText,
		Status: domain.JobStatusPending,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		if _, refundErr := s.credits.Add(ctx, userID, JobCreateCost); refundErr != nil {
			s.logger.Error().Err(refundErr).Str("user_id", userID).Msg("jobs: credit refund after failed insert")
		}
		return nil, fmt.Errorf("create job: %w", err)
	}

	s.notifier.Publish(notify.Event{Operation: "job_created", JobID: job.ID, UserID: userID, Payload: map[string]any{"prompt": promptText}})
	return job, nil
}

// GenerateImages runs prompt enhancement, then produces one primary image
// and three modified-prompt variations, persisting each to owned storage.
// Any failure marks the job errored and aborts; already-persisted variations
// are not retried individually.
func (s *JobService) GenerateImages(ctx context.Context, jobID string, opts GenerateOptions) (*domain.Job, string, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusGenerating, nil); err != nil {
		return nil, "", err
	}

	basePrompt := job.Prompt
	if p := strings.TrimSpace(opts.Prompt); p != "" {
		basePrompt = p
	}
	enhanced, err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) (string, error) {
		return s.enhancer.Enhance(ctx, basePrompt)
	})
	if err != nil {
		return nil, "", s.failJob(ctx, jobID, fmt.Errorf("enhance prompt: %w", err))
	}

	prompts := make([]string, 0, ExtraVariations+1)
	prompts = append(prompts, enhanced)
	for i := 0; i < ExtraVariations; i++ {
		prompts = append(prompts, prompt.VariationPrompt(enhanced, i))
	}

	assets := make([]image.Asset, len(prompts))
	for i, p := range prompts {
		req := image.GenerateRequest{
			Prompt:     p,
			Quality:    opts.Quality,
			Background: opts.Background,
			Sketch:     opts.Sketch,
			Seed:       opts.Seed,
			RequestID:  fmt.Sprintf("%s-%d", jobID, i+1),
		}
		asset, err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) (image.Asset, error) {
			return s.images.Generate(ctx, req)
		})
		if err != nil {
			return nil, "", s.failJob(ctx, jobID, fmt.Errorf("generate image %d: %w", i+1, err))
		}
		assets[i] = asset
	}

	variations := make([]domain.ImageVariation, len(assets))
	g, gctx := errgroup.WithContext(ctx)
	for i := range assets {
		i := i
		g.Go(func() error {
			url, err := s.persistImage(gctx, jobID, i+1, assets[i])
			if err != nil {
				return err
			}
			variations[i] = domain.ImageVariation{
				ID:       i + 1,
				URL:      url,
				Prompt:   prompts[i],
				Selected: i == 0,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, "", s.failJob(ctx, jobID, fmt.Errorf("persist variations: %w", err))
	}

	if err := s.jobs.SaveVariations(ctx, jobID, variations, variations[0].URL); err != nil {
		return nil, "", s.failJob(ctx, jobID, fmt.Errorf("save variations: %w", err))
	}
	if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusImagesReady, nil); err != nil {
		return nil, "", err
	}

	job, err = s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, "", err
	}
	s.notifier.Publish(notify.Event{Operation: "images_ready", JobID: jobID, UserID: job.UserID, Payload: map[string]any{"count": len(variations)}})
	return job, enhanced, nil
}

// SelectVariation marks one variation selected and promotes its URL to the
// job's primary image. Selecting the same variation twice is idempotent.
func (s *JobService) SelectVariation(ctx context.Context, jobID string, variationID int) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if !job.SelectVariation(variationID) {
		return nil, fmt.Errorf("%w: variation %d", domain.ErrNotFound, variationID)
	}
	if err := s.jobs.SaveVariations(ctx, jobID, job.Variations, job.ImageURL); err != nil {
		return nil, err
	}
	return job, nil
}

// GenerateModel submits the chosen image to the mesh provider and moves the
// job into processing. Completion is observed later by CheckModelStatus or
// the background poller.
func (s *JobService) GenerateModel(ctx context.Context, jobID, imageURL string) (*domain.Job, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	imageURL = strings.TrimSpace(imageURL)
	if imageURL == "" {
		imageURL = job.ImageURL
	}
	if imageURL == "" {
		return nil, fmt.Errorf("%w: no image selected", domain.ErrInvalidInput)
	}
	if !jobOwnsImage(job, imageURL) {
		return nil, fmt.Errorf("%w: image does not belong to job", domain.ErrInvalidInput)
	}

	if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusProcessing, nil); err != nil {
		return nil, err
	}

	taskID, err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) (string, error) {
		return s.meshes.CreateTask(ctx, imageURL)
	})
	if err != nil {
		return nil, s.failJob(ctx, jobID, fmt.Errorf("submit mesh task: %w", err))
	}
	if err := s.jobs.SetProviderTask(ctx, jobID, taskID); err != nil {
		return nil, err
	}

	job, err = s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	s.notifier.Publish(notify.Event{Operation: "model_submitted", JobID: jobID, UserID: job.UserID, Payload: map[string]any{"task_id": taskID}})
	return job, nil
}

// CheckModelStatus polls the mesh provider for a processing job. On
// provider-reported completion the mesh file is downloaded and re-uploaded
// to owned storage before the job is marked completed. Progress is returned
// verbatim from the provider, never fabricated.
func (s *JobService) CheckModelStatus(ctx context.Context, jobID string) (ModelStatus, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return ModelStatus{}, err
	}
	if job.Status.Terminal() {
		return ModelStatus{Status: job.Status, ModelURL: job.ModelURL, Error: job.ErrorMessage, Progress: terminalProgress(job.Status)}, nil
	}
	if job.ProviderTaskID == "" {
		return ModelStatus{Status: job.Status}, nil
	}

	task, err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) (mesh.Task, error) {
		return s.meshes.GetTask(ctx, job.ProviderTaskID)
	})
	if err != nil {
		return ModelStatus{}, fmt.Errorf("check mesh task: %w", err)
	}

	switch task.Status {
	case mesh.TaskStatusCompleted:
		modelURL, err := s.persistMesh(ctx, job, task.ModelURL)
		if err != nil {
			return ModelStatus{}, s.failJob(ctx, jobID, fmt.Errorf("persist mesh: %w", err))
		}
		if err := s.jobs.Complete(ctx, jobID, modelURL); err != nil {
			return ModelStatus{}, err
		}
		s.notifier.Publish(notify.Event{Operation: "model_complete", JobID: jobID, UserID: job.UserID, Payload: map[string]any{"model_url": modelURL}})
		return ModelStatus{Status: domain.JobStatusCompleted, ProviderStatus: task.Status, Progress: 100, ModelURL: modelURL}, nil
	case mesh.TaskStatusFailed:
		msg := task.Error
		if msg == "" {
			msg = "model generation failed"
		}
		if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusFailed, &msg); err != nil {
			return ModelStatus{}, err
		}
		return ModelStatus{Status: domain.JobStatusFailed, ProviderStatus: task.Status, Error: msg}, nil
	default:
		return ModelStatus{
			Status:             job.Status,
			ProviderStatus:     task.Status,
			Progress:           task.Progress,
			EstimatedRemaining: task.EstimatedRemaining,
		}, nil
	}
}

// RefineImage applies edit instructions to the selected image, consuming one
// iteration. The counter is bumped only after the provider edit succeeds;
// the increment itself re-checks the cap, so a concurrent refinement cannot
// pass it.
func (s *JobService) RefineImage(ctx context.Context, jobID, editInstructions string) (*domain.Job, error) {
	editInstructions = strings.TrimSpace(editInstructions)
	if editInstructions == "" {
		return nil, fmt.Errorf("%w: edit instructions required", domain.ErrInvalidInput)
	}
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Iterations >= domain.MaxIterations {
		return nil, domain.ErrIterationLimit
	}
	selected := job.SelectedVariation()
	if selected == nil {
		return nil, fmt.Errorf("%w: no variation selected", domain.ErrInvalidInput)
	}

	if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusRefining, nil); err != nil {
		return nil, err
	}

	asset, err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) (image.Asset, error) {
		return s.images.Edit(ctx, selected.URL, editInstructions)
	})
	if err != nil {
		return nil, s.failJob(ctx, jobID, fmt.Errorf("refine image: %w", err))
	}

	url, err := s.persistImage(ctx, jobID, len(job.Variations)+1, asset)
	if err != nil {
		return nil, s.failJob(ctx, jobID, fmt.Errorf("persist refined image: %w", err))
	}

	if _, err := s.jobs.IncrementIterations(ctx, jobID); err != nil {
		// The cap re-check lost to a concurrent refinement. Put the job back
		// in images_ready so it is not stranded in refining.
		if restoreErr := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusImagesReady, nil); restoreErr != nil {
			s.logger.Error().Err(restoreErr).Str("job_id", jobID).Msg("jobs: restore status after failed increment")
		}
		return nil, err
	}
	selected.URL = url
	job.ImageURL = url
	if err := s.jobs.SaveVariations(ctx, jobID, job.Variations, url); err != nil {
		return nil, err
	}
	if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusImagesReady, nil); err != nil {
		return nil, err
	}
	return s.jobs.GetByID(ctx, jobID)
}

// UseRefinementCredit spends one credit to reset the iteration counter. The
// debit and the reset commit as one unit.
func (s *JobService) UseRefinementCredit(ctx context.Context, userID, jobID string) (int, error) {
	return s.credits.SpendAndResetIterations(ctx, userID, jobID)
}

// CancelJob moves a job to cancelled. The cancellation is advisory: an
// in-flight provider call already dispatched cannot be interrupted.
func (s *JobService) CancelJob(ctx context.Context, jobID string) (*domain.Job, error) {
	if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusCancelled, nil); err != nil {
		return nil, err
	}
	return s.jobs.GetByID(ctx, jobID)
}

// GetJob fetches one job.
func (s *JobService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.jobs.GetByID(ctx, jobID)
}

// ListJobs returns the user's recent jobs.
func (s *JobService) ListJobs(ctx context.Context, userID string, limit int) ([]domain.Job, error) {
	return s.jobs.ListByUser(ctx, userID, limit)
}

// ApplyCallback updates a job from an asynchronous provider callback.
func (s *JobService) ApplyCallback(ctx context.Context, jobID, operation, modelURL, imageURL, errMsg string) error {
	switch operation {
	case "model_complete":
		if modelURL == "" {
			return fmt.Errorf("%w: model url required", domain.ErrInvalidInput)
		}
		return s.jobs.Complete(ctx, jobID, modelURL)
	case "images_complete":
		job, err := s.jobs.GetByID(ctx, jobID)
		if err != nil {
			return err
		}
		if imageURL != "" {
			job.ImageURL = imageURL
		}
		if err := s.jobs.SaveVariations(ctx, jobID, job.Variations, job.ImageURL); err != nil {
			return err
		}
		return s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusImagesReady, nil)
	case "job_error":
		if errMsg == "" {
			errMsg = "provider reported an error"
		}
		return s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusError, &errMsg)
	default:
		return fmt.Errorf("%w: unknown operation %q", domain.ErrInvalidInput, operation)
	}
}

// SweepStale errors out jobs stuck in processing beyond maxAge.
func (s *JobService) SweepStale(ctx context.Context, maxAge time.Duration) (int64, error) {
	return s.jobs.MarkStale(ctx, maxAge)
}

// PollProcessing advances every processing job one poll step. Used by the
// background worker.
func (s *JobService) PollProcessing(ctx context.Context, limit int) error {
	jobs, err := s.jobs.ListProcessing(ctx, limit)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if _, err := s.CheckModelStatus(ctx, job.ID); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("jobs: poll model status")
		}
	}
	return nil
}

// failJob records the failure on the job row and returns the original error.
func (s *JobService) failJob(ctx context.Context, jobID string, cause error) error {
	msg := cause.Error()
	if err := s.jobs.UpdateStatus(ctx, jobID, domain.JobStatusError, &msg); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("jobs: record failure state")
	}
	return cause
}

func (s *JobService) persistImage(ctx context.Context, jobID string, index int, asset image.Asset) (string, error) {
	if len(asset.Data) == 0 {
		// Provider returned a hosted URL and no payload; keep the URL as-is.
		if asset.URL == "" {
			return "", fmt.Errorf("image asset %d missing payload", index)
		}
		return asset.URL, nil
	}
	key := fmt.Sprintf("jobs/%s/images/variation-%02d.png", jobID, index)
	savedKey, err := s.store.Write(ctx, key, asset.Data)
	if err != nil {
		return "", err
	}
	return s.store.PublicURL(savedKey), nil
}

func (s *JobService) persistMesh(ctx context.Context, job *domain.Job, providerURL string) (string, error) {
	if providerURL == "" {
		return "", fmt.Errorf("provider completed without a model url")
	}
	data, err := retry.Do(ctx, s.retryCfg, func(ctx context.Context) ([]byte, error) {
		return s.meshes.Download(ctx, providerURL)
	})
	if err != nil {
		return "", err
	}
	key := fmt.Sprintf("jobs/%s/model.glb", job.ID)
	savedKey, err := s.store.Write(ctx, key, data)
	if err != nil {
		return "", err
	}
	return s.store.PublicURL(savedKey), nil
}

func jobOwnsImage(job *domain.Job, imageURL string) bool {
	if imageURL == job.ImageURL && imageURL != "" {
		return true
	}
	for _, v := range job.Variations {
		if v.URL == imageURL {
			return true
		}
	}
	return false
}

func terminalProgress(status domain.JobStatus) int {
	if status == domain.JobStatusCompleted {
		return 100
	}
	return 0
}
