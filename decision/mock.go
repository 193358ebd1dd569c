package decision

import (
	"context"
	"sync"
)

// MockProvider is a scripted in-memory Provider useful for tests. Responses
// and errors are consumed in the order they were queued.
type MockProvider struct {
	mu       sync.Mutex
	info     Info
	script   []step
	requests []Request
}

type step struct {
	resp Response
	err  error
}

// NewMockProvider constructs a MockProvider with tool support enabled.
func NewMockProvider() *MockProvider {
	return &MockProvider{
		info: Info{Name: "mock", Provider: "mock", SupportsTools: true},
	}
}

// QueueResponse appends a successful scripted response.
func (m *MockProvider) QueueResponse(resp Response) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, step{resp: resp})
	return m
}

// QueueError appends a scripted failure.
func (m *MockProvider) QueueError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, step{err: err})
	return m
}

// Requests returns a copy of every request seen so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Complete implements Provider by replaying the script. Once the script is
// exhausted it keeps returning the last step.
func (m *MockProvider) Complete(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.script) == 0 {
		return Response{Text: "ok", FinishReason: "stop"}, nil
	}
	s := m.script[0]
	if len(m.script) > 1 {
		m.script = m.script[1:]
	}
	return s.resp, s.err
}

// Info implements Provider.
func (m *MockProvider) Info() Info { return m.info }
