package llm

import (
	"context"
	"sync"
)

// MockClient is a configurable TextGenerator for tests. Set the function
// field to control behavior; calls are counted for verification.
type MockClient struct {
	// GenerateResponseFunc is called when GenerateResponse is invoked.
	// If nil, an empty response and nil error are returned.
	GenerateResponseFunc func(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error)

	// Model is returned by GetModel. Defaults to "mock-model".
	Model string

	// Endpoint is returned by GetEndpoint. Defaults to "http://mock-endpoint".
	Endpoint string

	mu                    sync.Mutex
	generateResponseCalls int
}

var _ TextGenerator = (*MockClient)(nil)

// NewMockClient creates a new mock with sensible defaults.
func NewMockClient() *MockClient {
	return &MockClient{
		Model:    "mock-model",
		Endpoint: "http://mock-endpoint",
	}
}

// GenerateResponse implements TextGenerator.
func (m *MockClient) GenerateResponse(ctx context.Context, prompt, systemMessage string, temperature float64) (string, error) {
	m.mu.Lock()
	m.generateResponseCalls++
	m.mu.Unlock()
	if m.GenerateResponseFunc != nil {
		return m.GenerateResponseFunc(ctx, prompt, systemMessage, temperature)
	}
	return "", nil
}

// GenerateResponseCalls returns how many times GenerateResponse ran.
func (m *MockClient) GenerateResponseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateResponseCalls
}

// GetModel implements TextGenerator.
func (m *MockClient) GetModel() string {
	return m.Model
}

// GetEndpoint implements TextGenerator.
func (m *MockClient) GetEndpoint() string {
	return m.Endpoint
}
