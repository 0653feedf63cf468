package syncer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/emusync/emusync/internal/errors"
)

func fastRetry(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts: attempts,
		BaseDelay:   time.Millisecond,
		MaxDelay:    5 * time.Millisecond,
		Multiplier:  2.0,
	}
}

// --- withRetry ---

func TestWithRetry_SucceedsFirstTry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(3), "op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_TransientThenSuccess(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(5), "op", func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("flaky: %w", errors.ErrNetwork)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestWithRetry_GivesUpAfterMaxAttempts(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(4), "op", func() error {
		calls++
		return fmt.Errorf("down: %w", errors.ErrServer)
	})
	require.ErrorIs(t, err, errors.ErrServer)
	assert.Equal(t, 4, calls)
	assert.Contains(t, err.Error(), "after 4 attempts")
}

func TestWithRetry_PermanentErrorNotRetried(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(5), "op", func() error {
		calls++
		return fmt.Errorf("nope: %w", errors.ErrUnauthorized)
	})
	require.ErrorIs(t, err, errors.ErrUnauthorized)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_DisabledNotRetried(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), fastRetry(5), "op", func() error {
		calls++
		return errors.ErrDisabled
	})
	require.ErrorIs(t, err, errors.ErrDisabled)
	assert.Equal(t, 1, calls)
}

func TestWithRetry_ContextCancelledStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := withRetry(ctx, RetryConfig{
		MaxAttempts: 10,
		BaseDelay:   time.Hour,
		MaxDelay:    time.Hour,
		Multiplier:  2.0,
	}, "op", func() error {
		calls++
		cancel()
		return fmt.Errorf("slow: %w", errors.ErrTimeout)
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// --- jitter ---

func TestJitter_WithinBounds(t *testing.T) {
	base := 100 * time.Millisecond
	for i := 0; i < 100; i++ {
		d := jitter(base)
		assert.GreaterOrEqual(t, d, 75*time.Millisecond)
		assert.LessOrEqual(t, d, 125*time.Millisecond)
	}
}
