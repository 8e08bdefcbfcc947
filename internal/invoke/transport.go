package invoke

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const functionsPathPrefix = "/v1/functions/"

// Options configures the HTTP-level transports.
type Options struct {
	BaseURL    string
	APIKey     string
	Tokens     TokenSource
	HTTPClient *http.Client
	Timeout    time.Duration
}

func (o Options) client() *http.Client {
	if o.HTTPClient != nil {
		return o.HTTPClient
	}
	timeout := o.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// RPCTransport is the managed invocation path. It posts to the functions
// endpoint and expects a JSON body back; any non-2xx answer is an opaque
// failure handed to the fallback.
type RPCTransport struct {
	base       string
	apiKey     string
	tokens     TokenSource
	httpClient *http.Client
}

// NewRPCTransport builds the primary transport.
func NewRPCTransport(opts Options) *RPCTransport {
	return &RPCTransport{
		base:       strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		tokens:     opts.Tokens,
		httpClient: opts.client(),
	}
}

func (t *RPCTransport) Name() string { return "rpc" }

func (t *RPCTransport) Invoke(ctx context.Context, operation string, payload []byte) ([]byte, error) {
	resp, body, err := post(ctx, t.httpClient, t.base+functionsPathPrefix+operation, payload, t.apiKey, t.tokens)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("rpc invocation failed: http %d", resp.StatusCode)
	}
	return body, nil
}

// HTTPTransport is the raw fetch fallback. It hits the same logical endpoint
// with identical headers and body but parses non-2xx responses itself,
// preferring a JSON error message over the raw text.
type HTTPTransport struct {
	base       string
	apiKey     string
	tokens     TokenSource
	httpClient *http.Client
}

// NewHTTPTransport builds the fallback transport.
func NewHTTPTransport(opts Options) *HTTPTransport {
	return &HTTPTransport{
		base:       strings.TrimRight(opts.BaseURL, "/"),
		apiKey:     opts.APIKey,
		tokens:     opts.Tokens,
		httpClient: opts.client(),
	}
}

func (t *HTTPTransport) Name() string { return "http" }

func (t *HTTPTransport) Invoke(ctx context.Context, operation string, payload []byte) ([]byte, error) {
	resp, body, err := post(ctx, t.httpClient, t.base+functionsPathPrefix+operation, payload, t.apiKey, t.tokens)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if msg := extractErrorText(body); msg != "" {
			return nil, fmt.Errorf("%s", msg)
		}
		return nil, fmt.Errorf("http %d", resp.StatusCode)
	}
	return body, nil
}

func post(ctx context.Context, client *http.Client, url string, payload []byte, apiKey string, tokens TokenSource) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("X-Api-Key", apiKey)
	}
	if tokens != nil {
		token, err := tokens.Token(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("resolve session token: %w", err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

// extractErrorText pulls the most specific message out of an error body:
// JSON error/message fields first, raw text as the fallback.
func extractErrorText(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return ""
	}
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err == nil {
		for _, key := range []string{"error", "message", "details"} {
			if v, ok := obj[key].(string); ok && v != "" {
				return v
			}
		}
	}
	return trimmed
}
