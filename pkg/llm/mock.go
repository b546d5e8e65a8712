package llm

import (
	"context"
	"sync"
)

// MockProvider is a scripted provider for tests. Responses and errors
// are consumed in order; when the script runs out, a default final
// message is returned.
type MockProvider struct {
	mu sync.Mutex

	// Responses to return, in order. A nil entry at position i means
	// Errors[i] is returned instead.
	Responses []*Response
	// Errors aligned with Responses.
	Errors []error

	// Calls records every request received.
	Calls []Request

	index int
}

// NewMockProvider creates an empty scripted provider.
func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

// Script appends a successful response to the script.
func (m *MockProvider) Script(resp *Response) *MockProvider {
	m.Responses = append(m.Responses, resp)
	m.Errors = append(m.Errors, nil)
	return m
}

// ScriptError appends a failing call to the script.
func (m *MockProvider) ScriptError(err error) *MockProvider {
	m.Responses = append(m.Responses, nil)
	m.Errors = append(m.Errors, err)
	return m
}

// Name returns "mock".
func (m *MockProvider) Name() string { return "mock" }

// Complete returns the next scripted response or error.
func (m *MockProvider) Complete(ctx context.Context, req Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, req)

	if m.index < len(m.Responses) {
		resp, err := m.Responses[m.index], m.Errors[m.index]
		m.index++
		if err != nil {
			return nil, err
		}
		return resp, nil
	}

	return &Response{Content: "Done.", FinishReason: "stop"}, nil
}

// CallCount returns the number of requests received.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
