package llm

import (
	"context"
	"sync"
)

// MockClient is a test double for the LLM Client interface. Responses are
// returned in order; the last one repeats.
type MockClient struct {
	Responses []string
	Err       error

	mu    sync.Mutex
	Calls []Request
}

// Complete records the call and returns the next canned response.
func (m *MockClient) Complete(_ context.Context, r Request) (*Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, r)
	if m.Err != nil {
		return nil, m.Err
	}
	content := ""
	if n := len(m.Responses); n > 0 {
		i := min(len(m.Calls)-1, n-1)
		content = m.Responses[i]
	}
	return &Response{Content: content, Provider: "mock"}, nil
}
