package syncer

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/emusync/emusync/internal/errors"
)

// RetryConfig controls backoff for transient cloud failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// DefaultRetryConfig matches the shipped defaults.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// withRetry runs fn with capped exponential backoff and jitter.
// Permanent errors and context cancellation abort immediately; only
// transient errors consume attempts.
func withRetry(ctx context.Context, cfg RetryConfig, op string, fn func() error) error {
	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if errors.IsPermanent(lastErr) || stderrors.Is(lastErr, context.Canceled) {
			return lastErr
		}
		if !errors.IsTransient(lastErr) {
			return lastErr
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jitter(delay)):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("%s failed after %d attempts: %w", op, cfg.MaxAttempts, lastErr)
}

// jitter spreads a delay by ±25% so a fleet of devices recovering
// from the same outage does not retry in lockstep.
func jitter(d time.Duration) time.Duration {
	spread := float64(d) * 0.25
	return d + time.Duration((rand.Float64()*2-1)*spread)
}
