// Package client is the SDK that drives a job from prompt to finished model
// against the backend functions. Every call goes through the invocation
// adapter so transport failures fall back transparently, and through the
// shared backoff policy so transient provider errors are absorbed.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"modelpixie/internal/invoke"
	"modelpixie/internal/retry"
)

// DefaultPollInterval between status checks while a model generates.
const DefaultPollInterval = 10 * time.Second

// Job mirrors the backend's job view.
type Job struct {
	ID           string      `json:"id"`
	UserID       string      `json:"user_id"`
	Prompt       string      `json:"prompt"`
	Status       string      `json:"status"`
	ImageURL     string      `json:"image_url"`
	Variations   []Variation `json:"image_variations"`
	ModelURL     string      `json:"model_url"`
	Iterations   int         `json:"iterations"`
	ErrorMessage string      `json:"error_message"`
}

// Variation is one candidate image.
type Variation struct {
	ID       int    `json:"id"`
	URL      string `json:"url"`
	Prompt   string `json:"prompt"`
	Selected bool   `json:"selected"`
}

// ModelStatus is one poll result.
type ModelStatus struct {
	Status                 string `json:"status"`
	Progress               int    `json:"progress"`
	ModelURL               string `json:"modelUrl"`
	EstimatedTimeRemaining int    `json:"estimatedTimeRemaining"`
	Error                  string `json:"error"`
}

// Done reports whether polling may stop.
func (m ModelStatus) Done() bool {
	switch m.Status {
	case "completed", "succeeded", "failed", "error", "cancelled":
		return true
	}
	return false
}

// Options configures the SDK.
type Options struct {
	PollInterval time.Duration
	Retry        retry.Config
	Logger       zerolog.Logger
}

// Client orchestrates the job lifecycle.
type Client struct {
	adapter      *invoke.Adapter
	pollInterval time.Duration
	retryCfg     retry.Config
	logger       zerolog.Logger
}

// New builds a client over an invocation adapter.
func New(adapter *invoke.Adapter, opts Options) *Client {
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	retryCfg := opts.Retry
	retryCfg.Logger = opts.Logger
	return &Client{
		adapter:      adapter,
		pollInterval: interval,
		retryCfg:     retryCfg,
		logger:       opts.Logger,
	}
}

func call[T any](ctx context.Context, c *Client, operation string, payload any) (T, error) {
	return retry.Do(ctx, c.retryCfg, func(ctx context.Context) (T, error) {
		var out T
		raw, err := c.adapter.Invoke(ctx, operation, payload)
		if err != nil {
			return out, err
		}
		if err := json.Unmarshal(raw, &out); err != nil {
			return out, fmt.Errorf("%s: decode response: %w", operation, err)
		}
		return out, nil
	})
}

type jobEnvelope struct {
	Job Job `json:"job"`
}

// CreateJob submits a prompt. The backend deducts one credit first; an
// insufficient balance surfaces as an error and no job is created.
func (c *Client) CreateJob(ctx context.Context, userID, prompt string) (Job, error) {
	env, err := call[jobEnvelope](ctx, c, "create-job", map[string]any{"prompt": prompt, "userId": userID})
	if err != nil {
		return Job{}, err
	}
	return env.Job, nil
}

type generateImagesResult struct {
	Success        bool        `json:"success"`
	Images         []Variation `json:"images"`
	EnhancedPrompt string      `json:"enhancedPrompt"`
	Job            struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"job"`
}

// GenerateImages produces the candidate variations for a job.
func (c *Client) GenerateImages(ctx context.Context, jobID string) ([]Variation, string, error) {
	res, err := call[generateImagesResult](ctx, c, "generate-images", map[string]any{"jobId": jobID})
	if err != nil {
		return nil, "", err
	}
	return res.Images, res.EnhancedPrompt, nil
}

// SelectVariation marks one candidate as the job's primary image.
func (c *Client) SelectVariation(ctx context.Context, jobID string, variationID int) (Job, error) {
	env, err := call[jobEnvelope](ctx, c, "select-variation", map[string]any{"jobId": jobID, "variationId": variationID})
	if err != nil {
		return Job{}, err
	}
	return env.Job, nil
}

// GenerateModel submits the selected image for mesh generation.
func (c *Client) GenerateModel(ctx context.Context, jobID, imageURL string) error {
	_, err := call[json.RawMessage](ctx, c, "generate-model", map[string]any{"jobId": jobID, "imageUrl": imageURL})
	return err
}

// CheckModelStatus performs one status poll.
func (c *Client) CheckModelStatus(ctx context.Context, jobID string) (ModelStatus, error) {
	return call[ModelStatus](ctx, c, "check-model-status", map[string]any{"jobId": jobID})
}

// PollModelStatus checks at a fixed interval until the job reaches a
// terminal state or the context ends. Progress comes from the provider when
// it reports one; it is never synthesized.
func (c *Client) PollModelStatus(ctx context.Context, jobID string) (ModelStatus, error) {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		status, err := c.CheckModelStatus(ctx, jobID)
		if err != nil {
			return ModelStatus{}, err
		}
		if status.Done() {
			return status, nil
		}
		c.logger.Debug().Str("job_id", jobID).Str("status", status.Status).Int("progress", status.Progress).Msg("client: model still generating")
		select {
		case <-ctx.Done():
			return ModelStatus{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

type refineResult struct {
	Job struct {
		ID         string `json:"id"`
		Iterations int    `json:"iterations"`
		Status     string `json:"status"`
	} `json:"job"`
}

// RefineImage applies edit instructions, consuming one iteration.
func (c *Client) RefineImage(ctx context.Context, jobID, instructions string) (int, error) {
	res, err := call[refineResult](ctx, c, "refine-image", map[string]any{"jobId": jobID, "editInstructions": instructions})
	if err != nil {
		return 0, err
	}
	return res.Job.Iterations, nil
}

type refinementCreditResult struct {
	Success          bool `json:"success"`
	CreditsRemaining int  `json:"creditsRemaining"`
	IterationsReset  bool `json:"iterationsReset"`
}

// UseRefinementCredit spends one credit to reset the iteration counter.
func (c *Client) UseRefinementCredit(ctx context.Context, userID, jobID string) (int, error) {
	res, err := call[refinementCreditResult](ctx, c, "use-refinement-credit", map[string]any{"userId": userID, "jobId": jobID})
	if err != nil {
		return 0, err
	}
	return res.CreditsRemaining, nil
}

// Cancel moves the job to cancelled. Advisory: a provider call already in
// flight keeps running server-side.
func (c *Client) Cancel(ctx context.Context, jobID string) error {
	_, err := call[json.RawMessage](ctx, c, "cancel-job", map[string]any{"jobId": jobID})
	return err
}

// GetJob fetches one job.
func (c *Client) GetJob(ctx context.Context, jobID string) (Job, error) {
	env, err := call[jobEnvelope](ctx, c, "get-job", map[string]any{"jobId": jobID})
	if err != nil {
		return Job{}, err
	}
	return env.Job, nil
}
