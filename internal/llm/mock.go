package llm

import (
	"context"
	"sync"
)

// MockProvider is an in-process Provider for tests. It records every
// request and yields canned results in order, repeating the last one
// once the script runs out.
type MockProvider struct {
	mu       sync.Mutex
	requests []Request
	results  []*Result
	err      error
}

// NewMockProvider scripts the mock with the results to return.
func NewMockProvider(results ...*Result) *MockProvider {
	return &MockProvider{results: results}
}

// FailWith makes every call return err instead of a result.
func (m *MockProvider) FailWith(err error) *MockProvider {
	m.err = err
	return m
}

// Name returns the provider name.
func (m *MockProvider) Name() string { return "mock" }

// Requests returns a copy of every request seen so far.
func (m *MockProvider) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

func (m *MockProvider) next(req Request) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if len(m.results) == 0 {
		return &Result{}, nil
	}
	idx := len(m.requests) - 1
	if idx >= len(m.results) {
		idx = len(m.results) - 1
	}
	return m.results[idx], nil
}

// Chat returns the next scripted result.
func (m *MockProvider) Chat(_ context.Context, req Request) (*Result, error) {
	return m.next(req)
}

// ChatStream replays the next scripted result as a start, a single
// content event, and a complete event.
func (m *MockProvider) ChatStream(_ context.Context, req Request) (<-chan Event, error) {
	result, err := m.next(req)
	if err != nil {
		return nil, err
	}
	events := make(chan Event, 4)
	events <- Event{Type: EventStart}
	if result.Content != "" {
		events <- Event{Type: EventContent, Content: result.Content}
	}
	events <- Event{Type: EventComplete, Result: result}
	close(events)
	return events, nil
}
