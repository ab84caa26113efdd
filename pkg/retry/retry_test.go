package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, 100*time.Millisecond, cfg.InitialDelay)
	assert.Equal(t, 5*time.Second, cfg.MaxDelay)
	assert.Equal(t, 2.0, cfg.Multiplier)
}

func TestFixedConfigDoesNotGrow(t *testing.T) {
	cfg := FixedConfig(2, 40*time.Millisecond)
	assert.Equal(t, 2, cfg.MaxRetries)
	assert.Equal(t, cfg.InitialDelay, cfg.MaxDelay, "fixed backoff keeps one delay")
	assert.Equal(t, 1.0, cfg.Multiplier)
}

func TestDoStopsOnFirstSuccess(t *testing.T) {
	calls := 0
	err := Do(context.Background(), FixedConfig(3, 0), func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Do(context.Background(), FixedConfig(3, time.Millisecond), func() error {
		calls++
		if calls < 3 {
			return errors.New("connection reset by peer")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoReturnsLastErrorWhenExhausted(t *testing.T) {
	wantErr := errors.New("database unavailable")
	calls := 0
	err := Do(context.Background(), FixedConfig(2, time.Millisecond), func() error {
		calls++
		return wantErr
	})
	assert.Equal(t, wantErr, err)
	assert.Equal(t, 3, calls, "one initial attempt plus two retries")
}

func TestDoHonorsContextDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &Config{
		MaxRetries:   5,
		InitialDelay: time.Second,
		MaxDelay:     time.Second,
		Multiplier:   1.0,
	}

	calls := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	err := Do(ctx, cfg, func() error {
		calls++
		return errors.New("leader switch")
	})

	assert.Equal(t, context.Canceled, err)
	assert.Equal(t, 1, calls)
	assert.Less(t, time.Since(start), 500*time.Millisecond, "cancellation must cut the wait short")
}

func TestDoNilConfigUsesDefaults(t *testing.T) {
	calls := 0
	err := Do(context.Background(), nil, func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoWithResultReturnsValue(t *testing.T) {
	calls := 0
	got, err := DoWithResult(context.Background(), FixedConfig(2, time.Millisecond), func() (int64, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("i/o timeout")
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
	assert.Equal(t, 2, calls)
}

func TestDoWithResultKeepsLastValueOnFailure(t *testing.T) {
	wantErr := errors.New("still broken")
	got, err := DoWithResult(context.Background(), FixedConfig(1, 0), func() (string, error) {
		return "partial", wantErr
	})
	assert.Equal(t, wantErr, err)
	assert.Equal(t, "partial", got)
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"graph connection refused", errors.New("dial tcp 127.0.0.1:7687: connection refused"), true},
		{"graph transient", errors.New("Neo.TransientError.Transaction.Terminated"), true},
		{"graph leader switch", errors.New("leader switch in progress"), true},
		{"graph unavailable", errors.New("database unavailable"), true},
		{"redis loading", errors.New("LOADING Redis is loading the dataset in memory"), true},
		{"redis readonly replica", errors.New("READONLY You can't write against a read only replica"), true},
		{"llm rate limited", errors.New("HTTP 429 Too Many Requests"), true},
		{"llm overloaded", errors.New("overloaded_error"), true},
		{"llm server error", errors.New("HTTP 503 service unavailable"), true},
		{"io timeout", errors.New("read tcp: i/o timeout"), true},
		{"bad credentials", errors.New("authentication failure"), false},
		{"missing key", errors.New("entity not found"), false},
		{"malformed payload", errors.New("unmarshal JSON: unexpected end of input"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

// declaredError mimics a classified backend error that states its own
// retryability.
type declaredError struct{ retryable bool }

func (e *declaredError) Error() string     { return "timeout while judging" }
func (e *declaredError) IsRetryable() bool { return e.retryable }

func TestIsRetryablePrefersDeclaration(t *testing.T) {
	// The message alone would match a retryable pattern; the declaration
	// wins.
	assert.False(t, IsRetryable(&declaredError{retryable: false}))
	assert.True(t, IsRetryable(&declaredError{retryable: true}))
}
