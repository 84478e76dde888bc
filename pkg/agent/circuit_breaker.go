package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"starkagent/pkg/agent/llm"
	"starkagent/pkg/fault"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

// Circuit breaker states for managing provider failure patterns.
const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, reject requests
	CircuitHalfOpen                     // Testing if the provider recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig defines circuit breaker behaviour.
type CircuitBreakerConfig struct {
	FailureThreshold int           // Failures before opening the circuit
	SuccessThreshold int           // Successes to close from half-open
	Timeout          time.Duration // Wait before probing half-open
}

// DefaultCircuitBreakerConfig provides reasonable defaults.
var DefaultCircuitBreakerConfig = CircuitBreakerConfig{ //nolint:gochecknoglobals
	FailureThreshold: 5,
	SuccessThreshold: 3,
	Timeout:          30 * time.Second,
}

// CircuitBreakerError is returned while the circuit rejects requests.
type CircuitBreakerError struct {
	State CircuitState
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker is %s", e.State)
}

// CircuitBreakerClient wraps an LLMClient with the circuit breaker pattern:
// sustained provider failures short-circuit calls instead of hammering a
// broken upstream.
type CircuitBreakerClient struct {
	client      llm.LLMClient
	config      CircuitBreakerConfig
	mu          sync.Mutex
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	now         func() time.Time
}

// NewCircuitBreakerClient wraps client with circuit breaker logic.
func NewCircuitBreakerClient(client llm.LLMClient, config CircuitBreakerConfig) *CircuitBreakerClient {
	return &CircuitBreakerClient{
		client: client,
		config: config,
		state:  CircuitClosed,
		now:    time.Now,
	}
}

// Complete implements llm.LLMClient with circuit breaker logic.
func (cb *CircuitBreakerClient) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	if err := cb.allowRequest(); err != nil {
		return llm.CompletionResponse{}, err
	}
	resp, err := cb.client.Complete(ctx, in)
	cb.recordOutcome(err)
	return resp, err
}

// Stream implements llm.LLMClient with circuit breaker logic.
func (cb *CircuitBreakerClient) Stream(ctx context.Context, in llm.CompletionRequest) (<-chan llm.StreamChunk, error) {
	if err := cb.allowRequest(); err != nil {
		return nil, err
	}
	ch, err := cb.client.Stream(ctx, in)
	cb.recordOutcome(err)
	return ch, err
}

// GetModelName implements llm.LLMClient.
func (cb *CircuitBreakerClient) GetModelName() string {
	return cb.client.GetModelName()
}

// State returns the current circuit state.
func (cb *CircuitBreakerClient) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreakerClient) allowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailure) >= cb.config.Timeout {
			cb.state = CircuitHalfOpen
			cb.successes = 0
			return nil
		}
		return &CircuitBreakerError{State: CircuitOpen}
	}
	return nil
}

// recordOutcome advances the state machine. Cancellation is the caller's
// doing, not a provider failure, so it never counts against the circuit.
func (cb *CircuitBreakerClient) recordOutcome(err error) {
	if fault.IsCancelled(err) {
		return
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil {
		switch cb.state {
		case CircuitHalfOpen:
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.state = CircuitClosed
				cb.failures = 0
			}
		case CircuitClosed:
			cb.failures = 0
		}
		return
	}

	cb.lastFailure = cb.now()
	switch cb.state {
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
		}
	}
}
