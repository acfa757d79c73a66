package engine

import (
	"context"
	"fmt"
	"sync"
)

// MockGateway is a scripted gateway for development and tests. When no
// script is configured it parrots the prompt back as a single chunk.
type MockGateway struct {
	Chunks       []string
	Err          error
	InputTokens  int
	OutputTokens int

	mu       sync.Mutex
	requests []Request
}

func (m *MockGateway) Execute(ctx context.Context, req Request, emit StreamFunc) (*Result, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	chunks := m.Chunks
	if len(chunks) == 0 {
		chunks = []string{fmt.Sprintf("mock engine received: %s", req.Prompt)}
	}

	var text string
	for _, c := range chunks {
		if err := emit(Chunk{Text: c}); err != nil {
			return nil, err
		}
		text += c
	}

	return &Result{
		Text:         text,
		InputTokens:  m.InputTokens,
		OutputTokens: m.OutputTokens,
	}, nil
}

// Requests returns every request executed so far.
func (m *MockGateway) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}
