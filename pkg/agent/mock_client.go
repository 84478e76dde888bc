package agent

import (
	"context"
	"sync"

	"starkagent/pkg/agent/llm"
	"starkagent/pkg/fault"
)

// MockLLMClient is a scripted client for tests: it returns queued responses
// in order and records every request it receives.
type MockLLMClient struct {
	mu        sync.Mutex
	responses []llm.CompletionResponse
	err       error
	requests  []llm.CompletionRequest
}

// NewMockLLMClient creates a mock that replays the given responses. After the
// script runs out it returns an empty final response.
func NewMockLLMClient(responses ...llm.CompletionResponse) *MockLLMClient {
	return &MockLLMClient{responses: responses}
}

// FailWith makes every Complete call return err instead.
func (m *MockLLMClient) FailWith(err error) *MockLLMClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Complete implements llm.LLMClient.
func (m *MockLLMClient) Complete(_ context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests = append(m.requests, in)
	if m.err != nil {
		return llm.CompletionResponse{}, m.err
	}
	if len(m.responses) == 0 {
		return llm.CompletionResponse{Content: "", StopReason: "end_turn"}, nil
	}
	resp := m.responses[0]
	m.responses = m.responses[1:]
	return resp, nil
}

// Stream implements llm.LLMClient.
func (m *MockLLMClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	resp, err := m.Complete(ctx, in)
	if err != nil {
		return nil, err
	}
	ch := make(chan llm.StreamChunk, 2)
	ch <- llm.StreamChunk{Content: resp.Content}
	ch <- llm.StreamChunk{Done: true}
	close(ch)
	return ch, nil
}

// GetModelName implements llm.LLMClient.
func (m *MockLLMClient) GetModelName() string {
	return "mock"
}

// Requests returns a copy of every request seen so far.
func (m *MockLLMClient) Requests() []llm.CompletionRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.CompletionRequest(nil), m.requests...)
}

// ErrMockExhausted is kept for callers that want strict scripts.
var ErrMockExhausted = fault.New(fault.KindInternal, "mock", "scripted responses exhausted")
