package kernel

import (
	"context"
	"time"

	"starkagent/pkg/agent/llm"
	"starkagent/pkg/dispatch"
	"starkagent/pkg/metrics"
	"starkagent/pkg/tools"
)

// Metrics decorators. The kernel wraps endpoints, tools, and the model client
// at construction time so the wrapped packages stay instrumentation-free.

type instrumentedEndpoint struct {
	dispatch.Endpoint
	rec *metrics.Recorder
}

func (e *instrumentedEndpoint) Call(ctx context.Context, method string, args map[string]any) (any, error) {
	start := time.Now()
	out, err := e.Endpoint.Call(ctx, method, args)
	e.rec.ObserveDispatch(method, e.Endpoint.Name(), err == nil, time.Since(start))
	return out, err
}

type instrumentedTool struct {
	tools.Tool
	rec *metrics.Recorder
}

func (t *instrumentedTool) Exec(ctx context.Context, args map[string]any) (map[string]any, error) {
	out, err := t.Tool.Exec(ctx, args)
	t.rec.IncToolExecution(t.Tool.Definition().Name, err == nil)
	return out, err
}

type instrumentedLLM struct {
	llm.LLMClient
	rec *metrics.Recorder
}

func (c *instrumentedLLM) Complete(ctx context.Context, in llm.CompletionRequest) (llm.CompletionResponse, error) {
	start := time.Now()
	resp, err := c.LLMClient.Complete(ctx, in)
	c.rec.ObserveLLMRequest(c.LLMClient.GetModelName(), time.Since(start))
	return resp, err
}
