// Package mesh talks to the external image-to-3D provider. Task creation is
// asynchronous: the provider hands back a task id that is polled until a
// model download URL appears.
package mesh

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"modelpixie/internal/domain"
)

// TaskStatus values reported by the provider.
const (
	TaskStatusQueued     = "queued"
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
)

// Task is one mesh generation task as reported by the provider.
type Task struct {
	ID                 string
	Status             string
	Progress           int
	ModelURL           string
	EstimatedRemaining int
	Error              string
}

// Finished reports whether the task reached a terminal provider state.
func (t Task) Finished() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// Provider is the contract implemented by mesh generation backends.
type Provider interface {
	CreateTask(ctx context.Context, imageURL string) (string, error)
	GetTask(ctx context.Context, taskID string) (Task, error)
	Download(ctx context.Context, url string) ([]byte, error)
}

// Options configures the mesh provider client.
type Options struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client implements Provider over HTTP.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
}

// NewClient builds a mesh provider client.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.meshy.ai/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 60 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{httpClient: client, baseURL: base, token: strings.TrimSpace(opts.APIKey)}
}

type createTaskRequest struct {
	ImageURL string `json:"image_url"`
}

type taskResponse struct {
	Result   string `json:"result"`
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress"`
	ModelURL string `json:"model_url"`
	ModelURLs struct {
		GLB string `json:"glb"`
		STL string `json:"stl"`
	} `json:"model_urls"`
	EstimatedRemaining int    `json:"estimated_time_remaining"`
	TaskError          struct {
		Message string `json:"message"`
	} `json:"task_error"`
	Message string `json:"message"`
}

// CreateTask submits an image for mesh generation and returns the task id.
func (c *Client) CreateTask(ctx context.Context, imageURL string) (string, error) {
	if c.token == "" {
		return "", fmt.Errorf("mesh provider: %w", domain.ErrConfigMissing)
	}
	if strings.TrimSpace(imageURL) == "" {
		return "", errors.New("mesh provider: image url required")
	}
	body, err := json.Marshal(createTaskRequest{ImageURL: imageURL})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/image-to-3d", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return "", fmt.Errorf("mesh provider: http %d", resp.StatusCode)
		}
		return "", err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return "", fmt.Errorf("mesh provider error: %s", out.Message)
		}
		return "", fmt.Errorf("mesh provider: http %d", resp.StatusCode)
	}
	taskID := out.Result
	if taskID == "" {
		taskID = out.ID
	}
	if taskID == "" {
		return "", errors.New("mesh provider: missing task id")
	}
	return taskID, nil
}

// GetTask fetches the current provider state of a task.
func (c *Client) GetTask(ctx context.Context, taskID string) (Task, error) {
	if c.token == "" {
		return Task{}, fmt.Errorf("mesh provider: %w", domain.ErrConfigMissing)
	}
	if strings.TrimSpace(taskID) == "" {
		return Task{}, errors.New("mesh provider: task id required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/image-to-3d/"+taskID, nil)
	if err != nil {
		return Task{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Task{}, err
	}
	defer resp.Body.Close()

	var out taskResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return Task{}, fmt.Errorf("mesh provider: http %d", resp.StatusCode)
		}
		return Task{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Message != "" {
			return Task{}, fmt.Errorf("mesh provider error: %s", out.Message)
		}
		return Task{}, fmt.Errorf("mesh provider: http %d", resp.StatusCode)
	}
	modelURL := out.ModelURL
	if modelURL == "" {
		modelURL = out.ModelURLs.GLB
	}
	if modelURL == "" {
		modelURL = out.ModelURLs.STL
	}
	return Task{
		ID:                 taskID,
		Status:             normalizeStatus(out.Status),
		Progress:           out.Progress,
		ModelURL:           modelURL,
		EstimatedRemaining: out.EstimatedRemaining,
		Error:              out.TaskError.Message,
	}, nil
}

// Download fetches the produced mesh file so it can be re-uploaded to owned
// storage before the job is marked completed.
func (c *Client) Download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, fmt.Errorf("mesh provider: download http %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func normalizeStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded", "success", "completed":
		return TaskStatusCompleted
	case "failed", "error":
		return TaskStatusFailed
	case "in_progress", "processing", "running":
		return TaskStatusProcessing
	case "pending", "queued", "":
		return TaskStatusQueued
	default:
		return strings.ToLower(strings.TrimSpace(status))
	}
}

var _ Provider = (*Client)(nil)
