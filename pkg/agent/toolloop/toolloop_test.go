package toolloop

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"starkagent/pkg/agent"
	"starkagent/pkg/agent/llm"
	"starkagent/pkg/tools"
)

type echoTool struct{}

func (echoTool) Definition() tools.Definition {
	return tools.Definition{
		Name:        "echo",
		Description: "Echoes the input text back.",
		InputSchema: tools.InputSchema{
			Type: "object",
			Properties: map[string]tools.Property{
				"text": {Type: "string"},
			},
			Required: []string{"text"},
		},
	}
}

func (echoTool) Exec(_ context.Context, args map[string]any) (map[string]any, error) {
	return map[string]any{"echo": args["text"]}, nil
}

type hangTool struct{}

func (hangTool) Definition() tools.Definition {
	return tools.Definition{Name: "hang", Description: "Blocks until cancelled."}
}

func (hangTool) Exec(ctx context.Context, _ map[string]any) (map[string]any, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

type failTool struct{}

func (failTool) Definition() tools.Definition {
	return tools.Definition{Name: "fail", Description: "Always fails."}
}

func (failTool) Exec(_ context.Context, _ map[string]any) (map[string]any, error) {
	return nil, errors.New("upstream exploded")
}

func newRegistry(t *testing.T, toolset ...tools.Tool) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry()
	for _, tool := range toolset {
		require.NoError(t, r.Register(tool))
	}
	return r
}

func toolCallResponse(id, name string, params map[string]any) llm.CompletionResponse {
	return llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{ID: id, Name: name, Parameters: params}},
	}
}

func TestRunEchoRoundTrip(t *testing.T) {
	mock := agent.NewMockLLMClient(
		toolCallResponse("call-1", "echo", map[string]any{"text": "ping"}),
		llm.CompletionResponse{Content: "the tool said ping"},
	)
	loop := New(mock)

	res, err := loop.Run(context.Background(), DefaultConfig(newRegistry(t, echoTool{})), "please echo ping")
	require.NoError(t, err)

	assert.Equal(t, "the tool said ping", res.Content)
	assert.Equal(t, 2, res.Iterations)
	assert.Equal(t, 1, res.ToolCalls)
	assert.False(t, res.HitLimit)

	// The second model call saw the tool result keyed by the invocation id.
	reqs := mock.Requests()
	require.Len(t, reqs, 2)
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.Equal(t, "call-1", last.ToolResults[0].ID)

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(last.ToolResults[0].Content), &payload))
	assert.Equal(t, "call-1", payload["id"])
	assert.Equal(t, map[string]any{"echo": "ping"}, payload["result"])
}

func TestRunPlainAnswerNoTools(t *testing.T) {
	mock := agent.NewMockLLMClient(llm.CompletionResponse{Content: "42"})
	loop := New(mock)

	res, err := loop.Run(context.Background(), DefaultConfig(newRegistry(t, echoTool{})), "meaning of life?")
	require.NoError(t, err)
	assert.Equal(t, "42", res.Content)
	assert.Equal(t, 1, res.Iterations)
	assert.Zero(t, res.ToolCalls)
}

func TestRunUnknownToolSynthesizesError(t *testing.T) {
	mock := agent.NewMockLLMClient(
		toolCallResponse("call-1", "missing", nil),
		llm.CompletionResponse{Content: "recovered"},
	)
	loop := New(mock)

	res, err := loop.Run(context.Background(), DefaultConfig(newRegistry(t, echoTool{})), "use a tool")
	require.NoError(t, err)
	assert.Equal(t, "recovered", res.Content)

	reqs := mock.Requests()
	last := reqs[1].Messages[len(reqs[1].Messages)-1]
	require.Len(t, last.ToolResults, 1)
	assert.True(t, last.ToolResults[0].IsError)
	assert.Contains(t, last.ToolResults[0].Content, "tool_not_found")
}

func TestRunBadArgumentsSynthesizesError(t *testing.T) {
	mock := agent.NewMockLLMClient(
		toolCallResponse("call-1", "echo", map[string]any{}), // missing required "text"
		llm.CompletionResponse{Content: "ok"},
	)
	loop := New(mock)

	_, err := loop.Run(context.Background(), DefaultConfig(newRegistry(t, echoTool{})), "echo nothing")
	require.NoError(t, err)

	last := mock.Requests()[1].Messages[len(mock.Requests()[1].Messages)-1]
	assert.True(t, last.ToolResults[0].IsError)
	assert.Contains(t, last.ToolResults[0].Content, "invalid_arguments")
}

func TestRunToolTimeoutSynthesizesError(t *testing.T) {
	mock := agent.NewMockLLMClient(
		toolCallResponse("call-1", "hang", nil),
		llm.CompletionResponse{Content: "moved on"},
	)
	loop := New(mock)

	cfg := DefaultConfig(newRegistry(t, hangTool{}))
	cfg.ToolTimeout = 10 * time.Millisecond

	res, err := loop.Run(context.Background(), cfg, "hang forever")
	require.NoError(t, err)
	assert.Equal(t, "moved on", res.Content)

	last := mock.Requests()[1].Messages[len(mock.Requests()[1].Messages)-1]
	assert.True(t, last.ToolResults[0].IsError)
	assert.Contains(t, last.ToolResults[0].Content, "tool_timeout")
}

func TestRunToolFailureFeedsBack(t *testing.T) {
	mock := agent.NewMockLLMClient(
		toolCallResponse("call-1", "fail", nil),
		llm.CompletionResponse{Content: "noted"},
	)
	loop := New(mock)

	_, err := loop.Run(context.Background(), DefaultConfig(newRegistry(t, failTool{})), "try it")
	require.NoError(t, err)

	last := mock.Requests()[1].Messages[len(mock.Requests()[1].Messages)-1]
	assert.True(t, last.ToolResults[0].IsError)
	assert.Contains(t, last.ToolResults[0].Content, "upstream exploded")
}

func TestRunIterationLimit(t *testing.T) {
	// The model calls the tool on every turn and never answers.
	mock := agent.NewMockLLMClient(
		toolCallResponse("c1", "echo", map[string]any{"text": "a"}),
		toolCallResponse("c2", "echo", map[string]any{"text": "b"}),
		toolCallResponse("c3", "echo", map[string]any{"text": "c"}),
		toolCallResponse("c4", "echo", map[string]any{"text": "d"}),
	)
	loop := New(mock)

	cfg := DefaultConfig(newRegistry(t, echoTool{}))
	cfg.MaxIterations = 3

	res, err := loop.Run(context.Background(), cfg, "loop forever")
	require.NoError(t, err)
	assert.Equal(t, IterationLimitMarker, res.Content)
	assert.True(t, res.HitLimit)
	assert.Equal(t, 4, res.Iterations)
	// Only the first three rounds executed tools; the fourth request hit
	// the budget before its call ran.
	assert.Equal(t, 3, res.ToolCalls)
}

func TestRunZeroIterationsReturnsFirstMessage(t *testing.T) {
	mock := agent.NewMockLLMClient(toolCallResponse("c1", "echo", map[string]any{"text": "a"}))
	loop := New(mock)

	cfg := DefaultConfig(newRegistry(t, echoTool{}))
	cfg.MaxIterations = 0

	res, err := loop.Run(context.Background(), cfg, "anything")
	require.NoError(t, err)
	assert.Equal(t, IterationLimitMarker, res.Content)
	assert.True(t, res.HitLimit)
	assert.Zero(t, res.ToolCalls)
	assert.Len(t, mock.Requests(), 1)
}

func TestRunZeroIterationsStillAnswersPlainText(t *testing.T) {
	mock := agent.NewMockLLMClient(llm.CompletionResponse{Content: "direct answer"})
	loop := New(mock)

	cfg := DefaultConfig(newRegistry(t, echoTool{}))
	cfg.MaxIterations = 0

	res, err := loop.Run(context.Background(), cfg, "anything")
	require.NoError(t, err)
	assert.Equal(t, "direct answer", res.Content)
	assert.False(t, res.HitLimit)
}

func TestRunModelErrorPropagates(t *testing.T) {
	mock := agent.NewMockLLMClient().FailWith(errors.New("provider down"))
	loop := New(mock)

	_, err := loop.Run(context.Background(), DefaultConfig(newRegistry(t, echoTool{})), "hi")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
}

func TestRunSealsRegistry(t *testing.T) {
	reg := newRegistry(t, echoTool{})
	mock := agent.NewMockLLMClient(llm.CompletionResponse{Content: "done"})
	loop := New(mock)

	_, err := loop.Run(context.Background(), DefaultConfig(reg), "hi")
	require.NoError(t, err)
	assert.True(t, reg.Sealed())
	require.Error(t, reg.Register(echoTool{}))
}
