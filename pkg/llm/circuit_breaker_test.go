package llm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBreaker(threshold int, resetAfter time.Duration) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{Threshold: threshold, ResetAfter: resetAfter})
}

func TestBreakerStaysClosedBelowThreshold(t *testing.T) {
	cb := testBreaker(3, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()

	assert.Equal(t, CircuitClosed, cb.State())
	allowed, err := cb.Allow()
	assert.True(t, allowed)
	assert.NoError(t, err)
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	cb := testBreaker(3, time.Minute)
	for i := 0; i < 3; i++ {
		cb.RecordFailure()
	}

	assert.Equal(t, CircuitOpen, cb.State())
	allowed, err := cb.Allow()
	assert.False(t, allowed)
	assert.ErrorContains(t, err, "circuit open")
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	cb := testBreaker(3, time.Minute)
	cb.RecordFailure()
	cb.RecordFailure()
	cb.RecordSuccess()

	// The earlier failures no longer count toward the threshold.
	cb.RecordFailure()
	cb.RecordFailure()
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakerAdmitsSingleProbeAfterResetWindow(t *testing.T) {
	cb := testBreaker(2, 20*time.Millisecond)
	cb.RecordFailure()
	cb.RecordFailure()
	require.Equal(t, CircuitOpen, cb.State())

	time.Sleep(30 * time.Millisecond)

	allowed, err := cb.Allow()
	require.True(t, allowed)
	require.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	// A second caller must wait for the probe's outcome.
	allowed, err = cb.Allow()
	assert.False(t, allowed)
	assert.ErrorContains(t, err, "half-open")
}

func TestBreakerProbeOutcomeDecidesState(t *testing.T) {
	trip := func() *CircuitBreaker {
		cb := testBreaker(2, 10*time.Millisecond)
		cb.RecordFailure()
		cb.RecordFailure()
		time.Sleep(20 * time.Millisecond)
		_, _ = cb.Allow()
		require.Equal(t, CircuitHalfOpen, cb.State())
		return cb
	}

	recovered := trip()
	recovered.RecordSuccess()
	assert.Equal(t, CircuitClosed, recovered.State())
	allowed, err := recovered.Allow()
	assert.True(t, allowed)
	assert.NoError(t, err)

	stillDown := trip()
	stillDown.RecordFailure()
	assert.Equal(t, CircuitOpen, stillDown.State())
}

func TestDefaultCircuitBreakerConfig(t *testing.T) {
	cfg := DefaultCircuitBreakerConfig()
	assert.Equal(t, 5, cfg.Threshold)
	assert.Equal(t, 30*time.Second, cfg.ResetAfter)
}

func TestCircuitStateString(t *testing.T) {
	assert.Equal(t, "closed", CircuitClosed.String())
	assert.Equal(t, "open", CircuitOpen.String())
	assert.Equal(t, "half-open", CircuitHalfOpen.String())
	assert.Equal(t, "unknown", CircuitState(42).String())
}
