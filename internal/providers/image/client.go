package image

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"modelpixie/internal/domain"
)

// Options configures the image provider client.
type Options struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Client talks to an OpenAI-compatible images API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	model      string
}

// NewClient builds an image provider client.
func NewClient(opts Options) *Client {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base == "" {
		base = "https://api.openai.com/v1"
	}
	model := opts.Model
	if model == "" {
		model = "gpt-image-1"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Client{
		httpClient: client,
		baseURL:    base,
		token:      strings.TrimSpace(opts.APIKey),
		model:      model,
	}
}

type generationRequest struct {
	Model      string `json:"model"`
	Prompt     string `json:"prompt"`
	N          int    `json:"n"`
	Size       string `json:"size,omitempty"`
	Quality    string `json:"quality,omitempty"`
	Background string `json:"background,omitempty"`
	Image      string `json:"image,omitempty"`
	Seed       *int   `json:"seed,omitempty"`
}

type editRequest struct {
	Model        string `json:"model"`
	Image        string `json:"image"`
	Instructions string `json:"prompt"`
}

type generationResponse struct {
	Data []struct {
		URL     string `json:"url"`
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Generate produces one image for the prompt.
func (c *Client) Generate(ctx context.Context, req GenerateRequest) (Asset, error) {
	if c == nil {
		return Asset{}, errors.New("image client not configured")
	}
	if c.token == "" {
		return Asset{}, fmt.Errorf("image provider: %w", domain.ErrConfigMissing)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Asset{}, errors.New("image provider: prompt required")
	}
	payload := generationRequest{
		Model:      c.model,
		Prompt:     prompt,
		N:          1,
		Quality:    req.Quality,
		Background: req.Background,
		Image:      req.Sketch,
		Seed:       req.Seed,
	}
	return c.post(ctx, "/images/generations", payload, req.RequestID)
}

// Edit applies free-form instructions to an existing image.
func (c *Client) Edit(ctx context.Context, imageURL, instructions string) (Asset, error) {
	if c == nil {
		return Asset{}, errors.New("image client not configured")
	}
	if c.token == "" {
		return Asset{}, fmt.Errorf("image provider: %w", domain.ErrConfigMissing)
	}
	if strings.TrimSpace(imageURL) == "" {
		return Asset{}, errors.New("image provider: image url required")
	}
	if strings.TrimSpace(instructions) == "" {
		return Asset{}, errors.New("image provider: instructions required")
	}
	payload := editRequest{Model: c.model, Image: imageURL, Instructions: instructions}
	return c.post(ctx, "/images/edits", payload, "")
}

func (c *Client) post(ctx context.Context, path string, payload any, requestID string) (Asset, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Asset{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Asset{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	if requestID != "" {
		req.Header.Set("X-Request-Id", requestID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Asset{}, err
	}
	defer resp.Body.Close()

	var out generationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		if resp.StatusCode >= http.StatusBadRequest {
			return Asset{}, fmt.Errorf("image provider: http %d", resp.StatusCode)
		}
		return Asset{}, err
	}
	if resp.StatusCode >= http.StatusBadRequest {
		if out.Error.Message != "" {
			return Asset{}, fmt.Errorf("image provider error: %s (%s)", out.Error.Message, out.Error.Type)
		}
		return Asset{}, fmt.Errorf("image provider: http %d", resp.StatusCode)
	}
	if len(out.Data) == 0 {
		if out.Error.Message != "" {
			return Asset{}, fmt.Errorf("image provider error: %s (%s)", out.Error.Message, out.Error.Type)
		}
		return Asset{}, errors.New("image provider: empty response")
	}
	item := out.Data[0]
	asset := Asset{URL: item.URL, Format: "image/png"}
	if item.B64JSON != "" {
		data, err := base64.StdEncoding.DecodeString(item.B64JSON)
		if err != nil {
			return Asset{}, fmt.Errorf("image provider: decode payload: %w", err)
		}
		asset.Data = data
	}
	if asset.URL == "" && len(asset.Data) == 0 {
		return Asset{}, errors.New("image provider: missing image payload")
	}
	return asset, nil
}

var _ Generator = (*Client)(nil)
