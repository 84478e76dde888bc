package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starkagent/pkg/agent/llm"
	"starkagent/pkg/config"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	b := NewBackoff(time.Second, 60*time.Second)

	assert.Equal(t, 1*time.Second, b.Next())
	assert.Equal(t, 2*time.Second, b.Next())
	assert.Equal(t, 4*time.Second, b.Next())
	assert.Equal(t, 8*time.Second, b.Next())
	assert.Equal(t, 16*time.Second, b.Next())
	assert.Equal(t, 32*time.Second, b.Next())
	assert.Equal(t, 60*time.Second, b.Next())
	assert.Equal(t, 60*time.Second, b.Next())
	assert.Equal(t, 8, b.Attempts())

	b.Reset()
	assert.Equal(t, 1*time.Second, b.Next())
}

func TestBurstBreakerTripsInsideWindow(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	b := NewBurstBreaker(5, time.Minute)
	b.SetClock(func() time.Time { return now })

	for i := 0; i < 4; i++ {
		assert.False(t, b.RecordFailure())
		now = now.Add(time.Second)
	}
	assert.True(t, b.RecordFailure())
	assert.True(t, b.Tripped())
}

func TestBurstBreakerForgivesSlowFailures(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	b := NewBurstBreaker(5, time.Minute)
	b.SetClock(func() time.Time { return now })

	// One failure every 20s never accumulates five inside a minute.
	for i := 0; i < 10; i++ {
		assert.False(t, b.RecordFailure())
		now = now.Add(20 * time.Second)
	}
	assert.False(t, b.Tripped())
}

func TestBurstBreakerStaysTrippedUntilReset(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	b := NewBurstBreaker(2, time.Minute)
	b.SetClock(func() time.Time { return now })

	b.RecordFailure()
	require.True(t, b.RecordFailure())

	now = now.Add(time.Hour)
	assert.True(t, b.Tripped())

	b.Reset()
	assert.False(t, b.Tripped())
}

func TestTickerAgentStopsOnCancel(t *testing.T) {
	var runs int
	a := &TickerAgent{
		AgentName: "tick",
		Interval:  5 * time.Millisecond,
		Work: func(context.Context) error {
			runs++
			return nil
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	time.Sleep(30 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)
	assert.Greater(t, runs, 0)
}

func TestTickerAgentPropagatesWorkError(t *testing.T) {
	boom := errors.New("boom")
	a := &TickerAgent{
		AgentName: "tick",
		Interval:  time.Millisecond,
		Work:      func(context.Context) error { return boom },
	}

	err := a.Run(context.Background())
	assert.ErrorIs(t, err, boom)
}

func TestCircuitBreakerOpensAfterFailures(t *testing.T) {
	mock := NewMockLLMClient().FailWith(errors.New("provider down"))
	cb := NewCircuitBreakerClient(mock, CircuitBreakerConfig{
		FailureThreshold: 3,
		SuccessThreshold: 1,
		Timeout:          time.Hour,
	})

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")})
	for i := 0; i < 3; i++ {
		_, err := cb.Complete(context.Background(), req)
		require.Error(t, err)
	}
	assert.Equal(t, CircuitOpen, cb.State())

	// Open circuit rejects without touching the provider.
	calls := len(mock.Requests())
	_, err := cb.Complete(context.Background(), req)
	var cbErr *CircuitBreakerError
	require.ErrorAs(t, err, &cbErr)
	assert.Equal(t, calls, len(mock.Requests()))
}

func TestCircuitBreakerRecoversThroughHalfOpen(t *testing.T) {
	mock := NewMockLLMClient(
		llm.CompletionResponse{Content: "ok"},
		llm.CompletionResponse{Content: "ok"},
	)
	cb := NewCircuitBreakerClient(mock, CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	cb.now = func() time.Time { return now }

	mock.FailWith(errors.New("down"))
	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")})
	_, _ = cb.Complete(context.Background(), req)
	require.Equal(t, CircuitOpen, cb.State())

	mock.FailWith(nil)
	now = now.Add(time.Second)
	_, err := cb.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, CircuitHalfOpen, cb.State())

	_, err = cb.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestNewLLMClientDispatchesByPrefix(t *testing.T) {
	cases := []struct {
		model string
		want  string
	}{
		{"claude-sonnet-4-20250514", "claude-sonnet-4-20250514"},
		{"gemini-2.0-flash", "gemini-2.0-flash"},
		{"ollama:llama3.2", "llama3.2"},
		{"gpt-4o-mini", "gpt-4o-mini"},
	}
	for _, tc := range cases {
		client, err := NewLLMClient(config.LLMConfig{Model: tc.model, APIKey: "test-key"})
		require.NoError(t, err, tc.model)
		assert.Equal(t, tc.want, client.GetModelName())
	}
}

func TestNewLLMClientRejectsMissingConfig(t *testing.T) {
	_, err := NewLLMClient(config.LLMConfig{})
	require.Error(t, err)

	_, err = NewLLMClient(config.LLMConfig{Model: "claude-sonnet-4-20250514"})
	require.Error(t, err)

	_, err = NewLLMClient(config.LLMConfig{Model: "ollama:"})
	require.Error(t, err)
}

func TestMockClientReplaysScript(t *testing.T) {
	mock := NewMockLLMClient(
		llm.CompletionResponse{Content: "first"},
		llm.CompletionResponse{Content: "second"},
	)

	req := llm.NewCompletionRequest([]llm.CompletionMessage{llm.NewUserMessage("hi")})
	resp, err := mock.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = mock.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	// Script exhausted: empty terminal response.
	resp, err = mock.Complete(context.Background(), req)
	require.NoError(t, err)
	assert.Empty(t, resp.Content)
	assert.Len(t, mock.Requests(), 3)
}
