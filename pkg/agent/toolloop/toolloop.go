// Package toolloop runs the LLM tool-calling loop: call the model, execute
// every requested tool, feed results back, repeat until the model answers in
// plain text or the iteration budget runs out.
package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"starkagent/pkg/agent/llm"
	"starkagent/pkg/logx"
	"starkagent/pkg/tools"
)

// Loop defaults.
const (
	DefaultMaxIterations = 5
	DefaultMaxTokens     = 4096
	DefaultToolTimeout   = 30 * time.Second

	// IterationLimitMarker is returned as the answer when the model keeps
	// calling tools past the iteration budget.
	IterationLimitMarker = "[max_iterations]"
)

// Synthesized tool failure reasons fed back to the model.
const (
	reasonToolNotFound = "tool_not_found"
	reasonBadArguments = "invalid_arguments"
	reasonToolTimeout  = "tool_timeout"
	reasonToolFailed   = "tool_failed"
)

// Config defines how the loop behaves.
type Config struct {
	// Registry supplies the executable tools. Required.
	Registry *tools.Registry
	// SystemPrompt is prepended to the conversation when non-empty.
	SystemPrompt string
	// MaxIterations bounds tool-calling rounds. Zero still makes one model
	// call but never executes a tool.
	MaxIterations int
	// MaxTokens per model request.
	MaxTokens int
	// ToolTimeout bounds each individual tool execution.
	ToolTimeout time.Duration
	// Deadline bounds the whole loop including model calls. Zero means the
	// caller's context is the only bound.
	Deadline time.Duration
	// Temperature for model requests.
	Temperature float32
}

// DefaultConfig returns a config with standard budgets over the registry.
func DefaultConfig(registry *tools.Registry) Config {
	return Config{
		Registry:      registry,
		MaxIterations: DefaultMaxIterations,
		MaxTokens:     DefaultMaxTokens,
		ToolTimeout:   DefaultToolTimeout,
		Temperature:   0.7,
	}
}

// Result is a finished loop run.
type Result struct {
	// Content is the model's final plain-text answer, or the iteration
	// marker when the budget ran out.
	Content string
	// Iterations counts completed model calls.
	Iterations int
	// ToolCalls counts executed (or synthesized) tool invocations.
	ToolCalls int
	// HitLimit reports whether the iteration budget was exhausted.
	HitLimit bool
	// Transcript is the full conversation for auditing.
	Transcript []llm.CompletionMessage
}

// Loop drives one conversation at a time against a single client.
type Loop struct {
	client llm.LLMClient
	logger *logx.Logger
}

// New creates a tool loop over the given client.
func New(client llm.LLMClient) *Loop {
	return &Loop{
		client: client,
		logger: logx.NewLogger("toolloop"),
	}
}

// Run executes the loop for one user prompt.
func (l *Loop) Run(ctx context.Context, cfg Config, prompt string) (Result, error) {
	if cfg.Registry == nil {
		return Result{}, fmt.Errorf("tool registry is required")
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.ToolTimeout <= 0 {
		cfg.ToolTimeout = DefaultToolTimeout
	}
	if cfg.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Deadline)
		defer cancel()
	}

	cfg.Registry.Seal()
	defs := cfg.Registry.Definitions()

	var transcript []llm.CompletionMessage
	if cfg.SystemPrompt != "" {
		transcript = append(transcript, llm.NewSystemMessage(cfg.SystemPrompt))
	}
	transcript = append(transcript, llm.NewUserMessage(prompt))

	result := Result{}
	for iteration := 1; ; iteration++ {
		req := llm.CompletionRequest{
			Messages:    transcript,
			Tools:       defs,
			MaxTokens:   cfg.MaxTokens,
			Temperature: cfg.Temperature,
		}

		start := time.Now()
		resp, err := l.client.Complete(ctx, req)
		if err != nil {
			return Result{Transcript: transcript}, fmt.Errorf("model call failed on iteration %d: %w", iteration, err)
		}
		result.Iterations++
		l.logger.Debug("model %s answered in %s with %d tool calls",
			l.client.GetModelName(), time.Since(start).Round(time.Millisecond), len(resp.ToolCalls))

		transcript = append(transcript, llm.CompletionMessage{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		if len(resp.ToolCalls) == 0 {
			result.Content = resp.Content
			result.Transcript = transcript
			return result, nil
		}

		// The budget bounds tool-calling rounds: once spent, the last
		// assistant text comes back with the marker and no tool runs.
		if iteration > cfg.MaxIterations {
			result.Content = appendMarker(resp.Content)
			result.HitLimit = true
			result.Transcript = transcript
			l.logger.Warn("iteration budget (%d) exhausted", cfg.MaxIterations)
			return result, nil
		}

		// Every requested call gets a result, synthesized if need be, so
		// the conversation stays well formed for the provider.
		results := make([]llm.ToolResult, 0, len(resp.ToolCalls))
		for i := range resp.ToolCalls {
			call := &resp.ToolCalls[i]
			results = append(results, l.executeCall(ctx, cfg, call))
			result.ToolCalls++
		}
		transcript = append(transcript, llm.NewToolResultMessage(results...))
	}
}

// executeCall runs one tool call and renders its outcome as JSON keyed by the
// invocation id. Lookup misses, bad arguments, timeouts, and tool errors all
// come back as error results instead of failing the loop.
func (l *Loop) executeCall(ctx context.Context, cfg Config, call *llm.ToolCall) llm.ToolResult {
	tool, ok := cfg.Registry.Get(call.Name)
	if !ok {
		l.logger.Warn("model requested unknown tool %q", call.Name)
		return errorResult(call, reasonToolNotFound, fmt.Sprintf("no tool named %q", call.Name))
	}

	if err := tools.ValidateArgs(tool.Definition().InputSchema, call.Parameters); err != nil {
		l.logger.Warn("tool %s rejected arguments: %v", call.Name, err)
		return errorResult(call, reasonBadArguments, err.Error())
	}

	toolCtx, cancel := context.WithTimeout(ctx, cfg.ToolTimeout)
	defer cancel()

	start := time.Now()
	out, err := tool.Exec(toolCtx, call.Parameters)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			l.logger.Warn("tool %s timed out after %s", call.Name, elapsed.Round(time.Millisecond))
			return errorResult(call, reasonToolTimeout, fmt.Sprintf("tool exceeded %s", cfg.ToolTimeout))
		}
		l.logger.Warn("tool %s failed after %s: %v", call.Name, elapsed.Round(time.Millisecond), err)
		return errorResult(call, reasonToolFailed, err.Error())
	}

	payload := map[string]any{"id": call.ID, "result": out}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return errorResult(call, reasonToolFailed, fmt.Sprintf("unserialisable result: %v", err))
	}

	l.logger.Debug("tool %s completed in %s", call.Name, elapsed.Round(time.Millisecond))
	return llm.ToolResult{
		ID:      call.ID,
		Name:    call.Name,
		Content: string(encoded),
	}
}

// appendMarker tags the last assistant text with the iteration marker.
func appendMarker(content string) string {
	if content == "" {
		return IterationLimitMarker
	}
	return content + "\n" + IterationLimitMarker
}

func errorResult(call *llm.ToolCall, reason, detail string) llm.ToolResult {
	encoded, _ := json.Marshal(map[string]any{
		"id":     call.ID,
		"error":  reason,
		"detail": detail,
	})
	return llm.ToolResult{
		ID:      call.ID,
		Name:    call.Name,
		Content: string(encoded),
		IsError: true,
	}
}
