package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RetryConfig configures in-stage retry behavior for collaborator calls.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts.
	// Default: 2
	MaxRetries int

	// InitialBackoff is the initial backoff duration.
	// Default: 1 second
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 15 seconds
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:        2,
		InitialBackoff:    time.Second,
		MaxBackoff:        15 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// ApplyDefaults sets default values for unset fields.
func (c *RetryConfig) ApplyDefaults() {
	defaults := DefaultRetryConfig()

	if c.MaxRetries == 0 {
		c.MaxRetries = defaults.MaxRetries
	}
	if c.InitialBackoff == 0 {
		c.InitialBackoff = defaults.InitialBackoff
	}
	if c.MaxBackoff == 0 {
		c.MaxBackoff = defaults.MaxBackoff
	}
	if c.BackoffMultiplier == 0 {
		c.BackoffMultiplier = defaults.BackoffMultiplier
	}
}

// withRetry invokes op with a per-call timeout, retrying transient failures
// with exponential backoff. A deadline expiry counts as a transient failure.
// Non-transient errors return immediately; exhausting the retry budget
// escalates to an unrecoverable failure of the named stage.
func withRetry(ctx context.Context, cfg *RetryConfig, timeout time.Duration, logger *zap.Logger, stage string, op func(context.Context) error) error {
	if cfg == nil {
		cfg = DefaultRetryConfig()
	}
	cfg.ApplyDefaults()

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		callCtx := ctx
		var cancel context.CancelFunc
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		err := op(callCtx)
		if cancel != nil {
			cancel()
		}

		if err == nil {
			if attempt > 0 {
				logger.Info("stage recovered after retries",
					zap.String("stage", stage),
					zap.Int("attempts", attempt+1),
				)
			}
			return nil
		}
		// The parent context ending means the daemon is shutting down, not
		// a flaky collaborator.
		if ctx.Err() != nil {
			return fmt.Errorf("stage %s canceled: %w", stage, ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = Transient(fmt.Errorf("stage %s timed out after %s", stage, timeout))
		}

		lastErr = err
		if !IsTransient(err) {
			return err
		}
		if attempt == cfg.MaxRetries {
			break
		}

		logger.Warn("retrying stage after transient error",
			zap.String("stage", stage),
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", cfg.MaxRetries+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return fmt.Errorf("stage %s canceled: %w", stage, ctx.Err())
		case <-time.After(backoff):
			next := time.Duration(float64(backoff) * cfg.BackoffMultiplier)
			if next > cfg.MaxBackoff {
				next = cfg.MaxBackoff
			}
			backoff = next
		}
	}

	return Unrecoverable(stage, fmt.Errorf("retries exhausted after %d attempts: %w", cfg.MaxRetries+1, lastErr))
}
