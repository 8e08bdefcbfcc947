package client

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"modelpixie/internal/invoke"
	"modelpixie/internal/retry"
)

// fastRetry skips the real backoff delays.
func fastRetry() retry.Config {
	return retry.Config{
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	}
}

// scriptedTransport answers each operation from a canned queue of responses.
type scriptedTransport struct {
	responses map[string][]string
	calls     map[string]int
}

func newScriptedTransport() *scriptedTransport {
	return &scriptedTransport{responses: make(map[string][]string), calls: make(map[string]int)}
}

func (s *scriptedTransport) on(operation string, bodies ...string) {
	s.responses[operation] = append(s.responses[operation], bodies...)
}

func (s *scriptedTransport) Name() string { return "scripted" }

func (s *scriptedTransport) Invoke(ctx context.Context, operation string, payload []byte) ([]byte, error) {
	queue := s.responses[operation]
	if len(queue) == 0 {
		return nil, fmt.Errorf("no scripted response for %s", operation)
	}
	idx := s.calls[operation]
	s.calls[operation]++
	if idx >= len(queue) {
		idx = len(queue) - 1
	}
	return []byte(queue[idx]), nil
}

func newTestClient(transport invoke.Transport, opts Options) *Client {
	adapter := invoke.NewAdapter(zerolog.Nop(), transport)
	return New(adapter, opts)
}

func TestCreateJobDecodesEnvelope(t *testing.T) {
	transport := newScriptedTransport()
	transport.on("create-job", `{"job":{"id":"j1","user_id":"user-1","prompt":"a mug","status":"pending"}}`)

	c := newTestClient(transport, Options{})
	job, err := c.CreateJob(context.Background(), "user-1", "a mug")
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if job.ID != "j1" || job.Status != "pending" {
		t.Fatalf("job = %+v", job)
	}
}

func TestGenerateImagesReturnsVariations(t *testing.T) {
	transport := newScriptedTransport()
	transport.on("generate-images", `{
		"success": true,
		"enhancedPrompt": "A Mug, studio lighting",
		"images": [
			{"id":1,"url":"https://a/1.png","selected":true},
			{"id":2,"url":"https://a/2.png"},
			{"id":3,"url":"https://a/3.png"},
			{"id":4,"url":"https://a/4.png"}
		],
		"job": {"id":"j1","status":"images_ready"}
	}`)

	c := newTestClient(transport, Options{})
	variations, enhanced, err := c.GenerateImages(context.Background(), "j1")
	if err != nil {
		t.Fatalf("generate images: %v", err)
	}
	if len(variations) != 4 {
		t.Fatalf("variations = %d, want 4", len(variations))
	}
	if !variations[0].Selected {
		t.Fatal("first variation should arrive selected")
	}
	if enhanced != "A Mug, studio lighting" {
		t.Fatalf("enhanced = %q", enhanced)
	}
}

func TestPollModelStatusStopsOnTerminalState(t *testing.T) {
	transport := newScriptedTransport()
	transport.on("check-model-status",
		`{"status":"processing","progress":20}`,
		`{"status":"processing","progress":70}`,
		`{"status":"completed","progress":100,"modelUrl":"https://assets.test/jobs/j1/model.glb"}`,
	)

	c := newTestClient(transport, Options{PollInterval: time.Millisecond})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	status, err := c.PollModelStatus(ctx, "j1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if status.Status != "completed" || status.ModelURL == "" {
		t.Fatalf("status = %+v", status)
	}
	if transport.calls["check-model-status"] != 3 {
		t.Fatalf("polls = %d, want 3", transport.calls["check-model-status"])
	}
}

func TestPollModelStatusHonorsContext(t *testing.T) {
	transport := newScriptedTransport()
	transport.on("check-model-status", `{"status":"processing","progress":10}`)

	c := newTestClient(transport, Options{PollInterval: time.Hour})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.PollModelStatus(ctx, "j1")
		done <- err
	}()
	cancel()
	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected context error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("poll did not stop on cancellation")
	}
}

func TestModelStatusDone(t *testing.T) {
	for status, want := range map[string]bool{
		"completed":  true,
		"succeeded":  true,
		"failed":     true,
		"error":      true,
		"cancelled":  true,
		"processing": false,
		"queued":     false,
		"":           false,
	} {
		if got := (ModelStatus{Status: status}).Done(); got != want {
			t.Fatalf("Done(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestCallSurfacesBackendError(t *testing.T) {
	transport := newScriptedTransport()
	transport.on("refine-image", `{"error":"iteration_limit","details":"refinement limit reached"}`)

	c := newTestClient(transport, Options{Retry: fastRetry()})
	if _, err := c.RefineImage(context.Background(), "j1", "bigger"); err == nil {
		t.Fatal("embedded error field must fail the call")
	}
}

func TestUseRefinementCredit(t *testing.T) {
	transport := newScriptedTransport()
	transport.on("use-refinement-credit", `{"success":true,"creditsRemaining":4,"iterationsReset":true}`)

	c := newTestClient(transport, Options{})
	remaining, err := c.UseRefinementCredit(context.Background(), "user-1", "j1")
	if err != nil {
		t.Fatalf("use refinement credit: %v", err)
	}
	if remaining != 4 {
		t.Fatalf("remaining = %d, want 4", remaining)
	}
}

func TestCheckModelStatusDecodesRawFields(t *testing.T) {
	transport := newScriptedTransport()
	transport.on("check-model-status", `{"status":"processing","progress":42,"estimatedTimeRemaining":30}`)

	c := newTestClient(transport, Options{})
	status, err := c.CheckModelStatus(context.Background(), "j1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if status.Progress != 42 || status.EstimatedTimeRemaining != 30 {
		t.Fatalf("status = %+v", status)
	}
}
