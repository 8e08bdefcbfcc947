// Package notify posts job events to the workflow-automation webhook.
// Delivery is fire-and-forget: failures never block the request path, but
// they are recorded on a dedicated dead-letter logger so operators can spot
// systemic notification loss.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Event is one job notification.
type Event struct {
	Operation string         `json:"operation"`
	JobID     string         `json:"job_id"`
	UserID    string         `json:"user_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	At        time.Time      `json:"at"`
}

// Notifier delivers events to the configured webhook.
type Notifier struct {
	url        string
	httpClient *http.Client
	deadLetter zerolog.Logger
}

// NewNotifier builds a notifier. An empty URL disables delivery entirely.
func NewNotifier(url string, logger zerolog.Logger) *Notifier {
	return &Notifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		deadLetter: logger.With().Str("component", "notify_dead_letter").Logger(),
	}
}

// Publish sends the event in the background. The caller's context is not
// reused so an already-finished request cannot cancel the delivery.
func (n *Notifier) Publish(event Event) {
	if n == nil || n.url == "" {
		return
	}
	if event.At.IsZero() {
		event.At = time.Now().UTC()
	}
	go n.deliver(event)
}

func (n *Notifier) deliver(event Event) {
	body, err := json.Marshal(event)
	if err != nil {
		n.deadLetter.Error().Err(err).Str("operation", event.Operation).Str("job_id", event.JobID).Msg("notify: encode event failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.deadLetter.Error().Err(err).Str("operation", event.Operation).Str("job_id", event.JobID).Msg("notify: build request failed")
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := n.httpClient.Do(req)
	if err != nil {
		n.deadLetter.Error().Err(err).Str("operation", event.Operation).Str("job_id", event.JobID).Msg("notify: delivery failed")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		n.deadLetter.Error().Int("status", resp.StatusCode).Str("operation", event.Operation).Str("job_id", event.JobID).Msg("notify: webhook rejected event")
	}
}
