package retry

import (
	"context"
	"testing"
	"time"

	"github.com/BaSui01/animawatch/types"
	"github.com/BaSui01/animawatch/vision/circuitbreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func fastConfig() *Config {
	return &Config{
		MaxRetries:      3,
		BaseDelay:       time.Millisecond,
		MaxDelay:        5 * time.Millisecond,
		ExponentialBase: 2.0,
		JitterFactor:    0.5,
		RetryableCodes:  []types.ErrorCode{types.ErrConnection, types.ErrTimeout, types.ErrIO},
	}
}

func transientErr() error {
	return types.NewError(types.ErrConnection, "connection refused").WithRetryable(true)
}

func fatalErr() error {
	return types.NewError(types.ErrInvalidRequest, "malformed request")
}

// ---------------------------------------------------------------------------
// DefaultConfig / New
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 1*time.Second, cfg.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.ExponentialBase)
	assert.Equal(t, 0.5, cfg.JitterFactor)
	assert.ElementsMatch(t,
		[]types.ErrorCode{types.ErrConnection, types.ErrTimeout, types.ErrIO},
		cfg.RetryableCodes)
}

func TestNew_InvalidValuesCorrected(t *testing.T) {
	r := New(&Config{MaxRetries: -1, ExponentialBase: 0.5, JitterFactor: 2}, nil, nil)
	assert.Equal(t, 0, r.config.MaxRetries)
	assert.Equal(t, 2.0, r.config.ExponentialBase)
	assert.Equal(t, 0.5, r.config.JitterFactor)
}

// ---------------------------------------------------------------------------
// Success paths
// ---------------------------------------------------------------------------

func TestRetryer_FirstAttemptSucceeds(t *testing.T) {
	r := New(fastConfig(), nil, zap.NewNop())

	calls := 0
	result, err := r.DoWithResult(context.Background(), func() (any, error) {
		calls++
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 1, calls)
}

func TestRetryer_SucceedsAfterTransientFailures(t *testing.T) {
	r := New(fastConfig(), nil, zap.NewNop())

	calls := 0
	result, err := r.DoWithResult(context.Background(), func() (any, error) {
		calls++
		if calls < 3 {
			return nil, transientErr()
		}
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, calls)
}

// ---------------------------------------------------------------------------
// Exhaustion / non-retryable short-circuit
// ---------------------------------------------------------------------------

func TestRetryer_Exhaustion(t *testing.T) {
	r := New(fastConfig(), nil, zap.NewNop())

	calls := 0
	original := transientErr()
	_, err := r.DoWithResult(context.Background(), func() (any, error) {
		calls++
		return nil, original
	})
	// maxRetries=3 means exactly 4 total attempts, and the original last
	// error surfaces unwrapped.
	assert.Equal(t, 4, calls)
	assert.Same(t, original, err)
}

func TestRetryer_NonRetryableShortCircuit(t *testing.T) {
	r := New(fastConfig(), nil, zap.NewNop())

	calls := 0
	_, err := r.DoWithResult(context.Background(), func() (any, error) {
		calls++
		return nil, fatalErr()
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, types.ErrInvalidRequest, types.GetErrorCode(err))
}

func TestRetryer_UntypedErrorNotRetried(t *testing.T) {
	r := New(fastConfig(), nil, zap.NewNop())

	calls := 0
	_, err := r.DoWithResult(context.Background(), func() (any, error) {
		calls++
		return nil, assert.AnError
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

// ---------------------------------------------------------------------------
// Circuit breaker integration
// ---------------------------------------------------------------------------

func TestRetryer_CircuitOpenFailsFast(t *testing.T) {
	cb := circuitbreaker.New(&circuitbreaker.Config{
		Name:             "vision_api",
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	}, zap.NewNop())
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	r := New(fastConfig(), cb, zap.NewNop())

	calls := 0
	start := time.Now()
	_, err := r.DoWithResult(context.Background(), func() (any, error) {
		calls++
		return "ok", nil
	})
	require.Error(t, err)
	assert.Equal(t, 0, calls, "no attempt is made while the circuit is open")
	assert.True(t, types.IsCircuitOpen(err))
	assert.Less(t, time.Since(start), 50*time.Millisecond, "no delay incurred")
}

func TestRetryer_RecordsBreakerOutcomes(t *testing.T) {
	cb := circuitbreaker.New(&circuitbreaker.Config{
		FailureThreshold: 10,
		RecoveryTimeout:  time.Hour,
	}, zap.NewNop())
	r := New(fastConfig(), cb, zap.NewNop())

	_, _ = r.DoWithResult(context.Background(), func() (any, error) {
		return nil, transientErr()
	})
	assert.Equal(t, 4, cb.FailureCount(), "each retryable failure is recorded")

	_, err := r.DoWithResult(context.Background(), func() (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, cb.FailureCount(), "success resets the breaker")
}

func TestRetryer_NonRetryableSkipsBreakerBookkeeping(t *testing.T) {
	cb := circuitbreaker.New(&circuitbreaker.Config{
		FailureThreshold: 1,
		RecoveryTimeout:  time.Hour,
	}, zap.NewNop())
	r := New(fastConfig(), cb, zap.NewNop())

	_, err := r.DoWithResult(context.Background(), func() (any, error) {
		return nil, fatalErr()
	})
	require.Error(t, err)
	assert.Equal(t, 0, cb.FailureCount())
	assert.Equal(t, circuitbreaker.StateClosed, cb.State())
}

// ---------------------------------------------------------------------------
// Cancellation
// ---------------------------------------------------------------------------

func TestRetryer_ContextCancellationStopsRetries(t *testing.T) {
	cfg := fastConfig()
	cfg.BaseDelay = 200 * time.Millisecond
	cfg.MaxDelay = time.Second
	cfg.JitterFactor = 0
	r := New(cfg, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()
	_, err := r.DoWithResult(ctx, func() (any, error) {
		calls++
		return nil, transientErr()
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls, "no new attempt after cancellation is observed")
}

// ---------------------------------------------------------------------------
// calculateDelay
// ---------------------------------------------------------------------------

func TestCalculateDelay_ExponentialGrowth(t *testing.T) {
	cfg := &Config{
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		JitterFactor:    0,
	}

	assert.Equal(t, 1*time.Second, calculateDelay(0, cfg))
	assert.Equal(t, 2*time.Second, calculateDelay(1, cfg))
	assert.Equal(t, 4*time.Second, calculateDelay(2, cfg))
	assert.Equal(t, 8*time.Second, calculateDelay(3, cfg))
}

func TestCalculateDelay_CappedAtMax(t *testing.T) {
	cfg := &Config{
		BaseDelay:       time.Second,
		MaxDelay:        5 * time.Second,
		ExponentialBase: 2.0,
		JitterFactor:    0,
	}
	assert.Equal(t, 5*time.Second, calculateDelay(10, cfg))
}

func TestCalculateDelay_JitterBounds(t *testing.T) {
	cfg := &Config{
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
		JitterFactor:    0.5,
	}

	for i := 0; i < 100; i++ {
		d := calculateDelay(1, cfg)
		assert.GreaterOrEqual(t, d, 1*time.Second)
		assert.LessOrEqual(t, d, 3*time.Second)
	}
}

func TestCalculateDelay_NeverNegative(t *testing.T) {
	cfg := &Config{
		BaseDelay:       time.Millisecond,
		MaxDelay:        time.Millisecond,
		ExponentialBase: 2.0,
		JitterFactor:    1.0,
	}
	for i := 0; i < 100; i++ {
		assert.GreaterOrEqual(t, calculateDelay(0, cfg), time.Duration(0))
	}
}

// ---------------------------------------------------------------------------
// Generic wrapper
// ---------------------------------------------------------------------------

func TestDoWithResultTyped(t *testing.T) {
	r := New(fastConfig(), nil, zap.NewNop())

	val, err := DoWithResultTyped[int](r, context.Background(), func() (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, val)

	_, err = DoWithResultTyped[int](r, context.Background(), func() (int, error) {
		return 0, fatalErr()
	})
	assert.Error(t, err)
}

// ---------------------------------------------------------------------------
// Config ownership
// ---------------------------------------------------------------------------

func TestNew_DoesNotMutateCallerConfig(t *testing.T) {
	cfg := &Config{MaxRetries: -1, JitterFactor: 2.0}
	r := New(cfg, nil, zap.NewNop())

	// Normalization applies to an internal copy only.
	assert.Equal(t, -1, cfg.MaxRetries)
	assert.Equal(t, 2.0, cfg.JitterFactor)
	assert.Zero(t, cfg.BaseDelay)
	assert.Equal(t, 0, r.config.MaxRetries)
	assert.Equal(t, 0.5, r.config.JitterFactor)
}
