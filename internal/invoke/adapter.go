// Package invoke calls named backend operations over interchangeable
// transports. Callers hand it an operation name and a JSON payload and get
// back one normalized response or one error, regardless of which transport
// answered.
package invoke

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// TokenSource supplies the bearer token attached to every invocation.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// StaticTokenSource returns a fixed token.
type StaticTokenSource string

func (s StaticTokenSource) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

// Transport delivers one invocation and returns the raw response body.
type Transport interface {
	Invoke(ctx context.Context, operation string, payload []byte) ([]byte, error)
	Name() string
}

// Adapter tries each transport in fixed order until one yields a usable
// response. A body carrying a truthy "error" field counts as a failure even
// when the transport reported success.
type Adapter struct {
	transports []Transport
	logger     zerolog.Logger
}

// NewAdapter builds an adapter over the given transports, tried in order.
func NewAdapter(logger zerolog.Logger, transports ...Transport) *Adapter {
	return &Adapter{transports: transports, logger: logger}
}

type envelope struct {
	Error json.RawMessage `json:"error"`
}

// Invoke serializes payload, attempts each transport in order, and returns
// the first clean response body. When every transport fails, the returned
// error carries the most specific message available.
func (a *Adapter) Invoke(ctx context.Context, operation string, payload any) (json.RawMessage, error) {
	if len(a.transports) == 0 {
		return nil, fmt.Errorf("invoke %s: no transports configured", operation)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: encode payload: %w", operation, err)
	}

	var lastErr error
	for _, transport := range a.transports {
		resp, err := transport.Invoke(ctx, operation, body)
		if err == nil {
			err = embeddedError(resp)
		}
		if err == nil {
			return resp, nil
		}
		lastErr = err
		a.logger.Warn().Err(err).
			Str("operation", operation).
			Str("transport", transport.Name()).
			Msg("invoke: transport failed")
		if ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("invoke %s: %w", operation, lastErr)
}

// embeddedError surfaces a truthy "error" field inside a 2xx body.
func embeddedError(body []byte) error {
	if len(body) == 0 {
		return nil
	}
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil
	}
	msg := errorMessage(env.Error)
	if msg == "" {
		return nil
	}
	return fmt.Errorf("operation error: %s", msg)
}

// errorMessage extracts a human-readable message from an error field that
// may be a string, an object, a boolean, or absent.
func errorMessage(raw json.RawMessage) string {
	trimmed := strings.TrimSpace(string(raw))
	switch {
	case trimmed == "", trimmed == "null", trimmed == "false", trimmed == `""`:
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj map[string]any
	if err := json.Unmarshal(raw, &obj); err == nil {
		for _, key := range []string{"message", "details", "error"} {
			if v, ok := obj[key].(string); ok && v != "" {
				return v
			}
		}
		return trimmed
	}
	return trimmed
}
