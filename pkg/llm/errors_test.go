package llm

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyErrorBuckets(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantType  ErrorType
		retryable bool
	}{
		{"unauthorized", errors.New("HTTP 401 Unauthorized"), ErrorTypeAuth, false},
		{"bad api key", errors.New("invalid api key provided"), ErrorTypeAuth, false},
		{"missing model", errors.New("model claude-x does not exist"), ErrorTypeModel, false},
		{"rate limited", errors.New("HTTP 429 Too Many Requests"), ErrorTypeRateLimited, true},
		{"rate limit text", errors.New("rate limit exceeded, retry later"), ErrorTypeRateLimited, true},
		{"bad endpoint", errors.New("HTTP 404 Not Found"), ErrorTypeEndpoint, false},
		{"refused", errors.New("dial tcp: connection refused"), ErrorTypeEndpoint, true},
		{"unknown host", errors.New("lookup api.invalid: no such host"), ErrorTypeEndpoint, true},
		{"deadline", errors.New("context deadline exceeded"), ErrorTypeEndpoint, true},
		{"overloaded", errors.New("overloaded_error: try again"), ErrorTypeEndpoint, true},
		{"bad gateway", errors.New("HTTP 502 Bad Gateway"), ErrorTypeEndpoint, true},
		{"anything else", errors.New("malformed response body"), ErrorTypeUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClassifyError(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.wantType, got.Type)
			assert.Equal(t, tt.retryable, got.Retryable)
			assert.Equal(t, tt.err, got.Cause)
		})
	}
}

func TestClassifyErrorExtractsStatusCode(t *testing.T) {
	got := ClassifyError(errors.New("HTTP 503 Service Unavailable"))
	assert.Equal(t, 503, got.StatusCode)

	got = ClassifyError(errors.New("connection refused"))
	assert.Equal(t, 0, got.StatusCode)
}

func TestClassifyErrorPassesThroughClassified(t *testing.T) {
	original := &Error{Type: ErrorTypeRateLimited, Message: "rate limited", Retryable: true}
	assert.Same(t, original, ClassifyError(original))

	wrapped := fmt.Errorf("call backend: %w", original)
	assert.Same(t, original, ClassifyError(wrapped))
}

func TestClassifyErrorNil(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))
}

func TestErrorMessageCarriesContext(t *testing.T) {
	err := &Error{
		Type:       ErrorTypeEndpoint,
		Message:    "server error",
		StatusCode: 503,
		Cause:      errors.New("upstream reset"),
	}
	assert.Equal(t, "endpoint HTTP 503 server error: upstream reset", err.Error())

	minimal := &Error{Type: ErrorTypeAuth, Message: "authentication failed"}
	assert.Equal(t, "auth authentication failed", minimal.Error())
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := ClassifyError(fmt.Errorf("request: %w", cause))
	assert.ErrorIs(t, err, cause)
}

func TestErrorDeclaresRetryability(t *testing.T) {
	assert.True(t, (&Error{Retryable: true}).IsRetryable())
	assert.False(t, (&Error{}).IsRetryable())
}
