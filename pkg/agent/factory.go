package agent

import (
	"strings"

	"starkagent/pkg/agent/internal/llmimpl/anthropic"
	"starkagent/pkg/agent/internal/llmimpl/google"
	"starkagent/pkg/agent/internal/llmimpl/ollama"
	"starkagent/pkg/agent/internal/llmimpl/openai"
	"starkagent/pkg/agent/llm"
	"starkagent/pkg/config"
	"starkagent/pkg/fault"
)

// NewLLMClient selects a provider adapter from the model name prefix:
// claude-* goes to Anthropic, gemini-* to Google, ollama:* to a local Ollama
// server, and everything else (gpt-*, o3*, o4*, custom endpoints) to the
// OpenAI-compatible adapter.
func NewLLMClient(cfg config.LLMConfig) (llm.LLMClient, error) {
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		return nil, fault.New(fault.KindUsage, "agent", "no model configured")
	}

	switch {
	case strings.HasPrefix(model, "claude-"):
		if cfg.APIKey == "" {
			return nil, fault.New(fault.KindUsage, "agent", "model %s requires an API key", model)
		}
		return anthropic.NewClient(cfg.APIKey, model), nil

	case strings.HasPrefix(model, "gemini-"):
		if cfg.APIKey == "" {
			return nil, fault.New(fault.KindUsage, "agent", "model %s requires an API key", model)
		}
		return google.NewClient(cfg.APIKey, model), nil

	case strings.HasPrefix(model, "ollama:"):
		name := strings.TrimPrefix(model, "ollama:")
		if name == "" {
			return nil, fault.New(fault.KindUsage, "agent", "ollama model name missing after prefix")
		}
		return ollama.NewClient(cfg.Endpoint, name), nil

	default:
		if cfg.APIKey == "" && cfg.Endpoint == "" {
			return nil, fault.New(fault.KindUsage, "agent", "model %s requires an API key or endpoint", model)
		}
		return openai.NewClient(cfg.APIKey, model, cfg.Endpoint), nil
	}
}
