package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"chatthread/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(attempts int) BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Millisecond,
		MaxDelay:     10 * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  attempts,
	}
}

func TestBackoff_DefaultConfig(t *testing.T) {
	config := DefaultBackoffConfig()

	assert.Equal(t, 100*time.Millisecond, config.InitialDelay)
	assert.Equal(t, 30*time.Second, config.MaxDelay)
	assert.Equal(t, 2.0, config.Multiplier)
	assert.Equal(t, 5, config.MaxAttempts)
	assert.True(t, config.Jitter)
}

func TestConfigFromModel(t *testing.T) {
	t.Run("overrides set fields", func(t *testing.T) {
		config := ConfigFromModel(models.RetryConfig{InitialBackoffMs: 250, MaxBackoffMs: 2000, MaxAttempts: 3})
		assert.Equal(t, 250*time.Millisecond, config.InitialDelay)
		assert.Equal(t, 2*time.Second, config.MaxDelay)
		assert.Equal(t, 3, config.MaxAttempts)
	})

	t.Run("zero fields keep defaults", func(t *testing.T) {
		assert.Equal(t, DefaultBackoffConfig(), ConfigFromModel(models.RetryConfig{}))
	})
}

func TestBackoff_SuccessFirstAttempt(t *testing.T) {
	attempts := 0
	err := NewBackoff(fastConfig(3)).Retry(context.Background(), func() error {
		attempts++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	var hooked []int
	b := NewBackoff(fastConfig(5)).OnRetry(func(attempt int, _ time.Duration, _ error) {
		hooked = append(hooked, attempt)
	})

	err := b.Retry(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("not yet")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
	assert.Equal(t, []int{1, 2}, hooked)
}

func TestBackoff_FailureAfterMaxAttempts(t *testing.T) {
	wantErr := errors.New("persistent")
	attempts := 0

	err := NewBackoff(fastConfig(3)).Retry(context.Background(), func() error {
		attempts++
		return wantErr
	})

	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, 3, attempts)
}

func TestBackoff_ZeroAttemptsRunsOnce(t *testing.T) {
	attempts := 0
	_ = NewBackoff(fastConfig(0)).Retry(context.Background(), func() error {
		attempts++
		return errors.New("fail")
	})
	assert.Equal(t, 1, attempts)
}

func TestBackoff_ContextCancelledBeforeOperation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	attempts := 0
	err := NewBackoff(fastConfig(3)).Retry(ctx, func() error {
		attempts++
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, attempts)
}

func TestBackoff_ContextCancelledDuringWait(t *testing.T) {
	config := fastConfig(5)
	config.InitialDelay = time.Second
	config.MaxDelay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := NewBackoff(config).Retry(ctx, func() error { return errors.New("fail") })

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestBackoff_WithPredicate_NonRetryableError(t *testing.T) {
	fatal := errors.New("fatal")
	attempts := 0

	err := NewBackoff(fastConfig(5)).RetryWithPredicate(context.Background(), func() error {
		attempts++
		return fatal
	}, func(err error) bool { return !errors.Is(err, fatal) })

	assert.ErrorIs(t, err, fatal)
	assert.Equal(t, 1, attempts)
}

func TestBackoff_ExponentialIncrease(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		MaxAttempts:  5,
	})

	assert.Equal(t, 100*time.Millisecond, b.GetNextDelay(1))
	assert.Equal(t, 200*time.Millisecond, b.GetNextDelay(2))
	assert.Equal(t, 400*time.Millisecond, b.GetNextDelay(3))
}

func TestBackoff_MaxDelayConstraint(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     2 * time.Second,
		Multiplier:   10.0,
		MaxAttempts:  5,
	})

	assert.Equal(t, 2*time.Second, b.GetNextDelay(3))
	assert.Equal(t, 2*time.Second, b.GetNextDelay(2000))
}

func TestBackoff_JitterBounds(t *testing.T) {
	b := NewBackoff(BackoffConfig{
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
		MaxAttempts:  3,
		Jitter:       true,
	})

	for i := 0; i < 100; i++ {
		delay := b.GetNextDelay(2)
		assert.GreaterOrEqual(t, delay, 150*time.Millisecond)
		assert.LessOrEqual(t, delay, 250*time.Millisecond)
	}
}

func TestSecureFloat64(t *testing.T) {
	for i := 0; i < 100; i++ {
		v := secureFloat64()
		assert.GreaterOrEqual(t, v, 0.0)
		assert.Less(t, v, 1.0)
	}
}
