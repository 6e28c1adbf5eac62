package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func fastRetry(attempts int) *RetryConfig {
	return &RetryConfig{
		MaxAttempts:   attempts,
		InitialDelay:  time.Millisecond,
		MaxDelay:      2 * time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetry(3), func() error {
			calls++
			if calls < 3 {
				return errBoom
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("wraps the last error when attempts run out", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastRetry(2), func() error {
			calls++
			return errBoom
		})
		assert.ErrorIs(t, err, errBoom)
		assert.Contains(t, err.Error(), "max retries (2) exceeded")
		assert.Equal(t, 2, calls)
	})

	t.Run("stops on non retryable errors", func(t *testing.T) {
		config := fastRetry(5)
		config.RetryableErrors = func(err error) bool { return !errors.Is(err, errBoom) }
		calls := 0
		err := Retry(context.Background(), config, func() error {
			calls++
			return errBoom
		})
		assert.Equal(t, errBoom, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("honours a cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, fastRetry(3), func() error { return nil })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestCircuitBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	var transitions []gobreaker.State
	config := DefaultCircuitBreakerConfig("test")
	config.FailureThreshold = 2
	config.OnStateChange = func(_ string, _, to gobreaker.State) {
		transitions = append(transitions, to)
	}
	cb := NewCircuitBreaker(config, nil)

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(context.Background(), func() (interface{}, error) { return nil, errBoom })
		assert.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	called := false
	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_PassesResults(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("results"), nil)

	result, err := cb.Execute(context.Background(), func() (interface{}, error) { return 42, nil })
	require.NoError(t, err)
	assert.Equal(t, 42, result)
	assert.Equal(t, "results", cb.Name())
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}
