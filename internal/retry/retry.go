// Package retry wraps asynchronous operations with bounded retries and
// exponential delay. Image generation, model generation, and status checks
// all share the same policy to absorb transient network and provider errors.
package retry

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	DefaultMaxRetries   = 3
	DefaultInitialDelay = time.Second
)

// Config tunes a retry loop. The zero value picks the defaults.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	Logger       zerolog.Logger

	// Sleep overrides the delay primitive, used by tests to observe waits
	// without real time passing.
	Sleep func(ctx context.Context, d time.Duration) error
}

func (c Config) normalized() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = DefaultInitialDelay
	}
	if c.Sleep == nil {
		c.Sleep = sleep
	}
	return c
}

// Do invokes op, retrying on failure with the delay doubling after each
// attempt. No jitter is applied. The last error is propagated unchanged.
// Configuration errors (missing provider API key) abort immediately.
func Do[T any](ctx context.Context, cfg Config, op func(ctx context.Context) (T, error)) (T, error) {
	cfg = cfg.normalized()
	var zero T
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err
		cfg.Logger.Warn().Err(err).Int("attempt", attempt).Msg("retry: attempt failed")

		if !Retryable(err) {
			return zero, err
		}
		if attempt == cfg.MaxRetries {
			break
		}
		if sleepErr := cfg.Sleep(ctx, delay); sleepErr != nil {
			return zero, sleepErr
		}
		delay *= 2
	}
	return zero, lastErr
}

// Retryable reports whether an error is worth another attempt. Missing
// provider keys are configuration errors: retrying cannot fix them.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !strings.Contains(strings.ToLower(err.Error()), "api key")
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
