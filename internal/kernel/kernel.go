// Package kernel constructs and owns the shared runtime infrastructure:
// configuration, state store, dispatcher, audit trail, tool catalog, and the
// language-model client. Everything is built once here and injected downward
// as capability handles; nothing in the runtime reaches for globals.
package kernel

import (
	"fmt"
	"net/http"
	"path/filepath"

	"starkagent/pkg/agent"
	"starkagent/pkg/agent/llm"
	"starkagent/pkg/agent/toolloop"
	"starkagent/pkg/config"
	"starkagent/pkg/dispatch"
	"starkagent/pkg/eventlog"
	"starkagent/pkg/limiter"
	"starkagent/pkg/logx"
	"starkagent/pkg/metrics"
	"starkagent/pkg/persistence"
	"starkagent/pkg/proto"
	"starkagent/pkg/router"
	"starkagent/pkg/skills"
	"starkagent/pkg/state"
	"starkagent/pkg/tools"
)

// Kernel bundles the constructed runtime services.
type Kernel struct {
	Cfg     *config.Config
	Metrics *metrics.Recorder

	State      *state.Store
	EventLog   *eventlog.Writer
	Audit      *persistence.Store
	AuditLog   *persistence.Writer
	Limiter    *limiter.Limiter
	Tokens     *limiter.TokenCounter
	Dispatcher *dispatch.Dispatcher
	Registry   *tools.Registry
	Router     *router.Router
	Skills     *skills.Set

	// LLM and Loop are nil when no model is configured; skills degrade to
	// state-backed answers.
	LLM  llm.LLMClient
	Loop *toolloop.Loop

	logger *logx.Logger
}

// New wires the runtime from configuration. The returned kernel owns every
// resource and releases them in Close.
func New(cfg *config.Config) (*Kernel, error) {
	logger := logx.NewLogger("kernel")
	k := &Kernel{
		Cfg:     cfg,
		Metrics: metrics.Default(),
		logger:  logger,
	}

	dataDir := filepath.Dir(cfg.StateFile)

	k.State = state.NewStore(cfg.StateFile)

	events, err := eventlog.NewWriter(filepath.Join(dataDir, "events"))
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	k.EventLog = events

	audit, err := persistence.Open(filepath.Join(dataDir, "audit.db"))
	if err != nil {
		k.Close()
		return nil, fmt.Errorf("failed to open audit store: %w", err)
	}
	k.Audit = audit
	k.AuditLog = persistence.NewWriter(audit)

	k.Limiter = limiter.NewLimiter(cfg.RateLimitPerMinute)
	if k.Tokens, err = limiter.NewTokenCounter(cfg.LLM.Model); err != nil {
		logger.Warn("token counter unavailable, falling back to estimates: %v", err)
	}

	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	k.Dispatcher = dispatch.NewDispatcher([]dispatch.Endpoint{
		&instrumentedEndpoint{Endpoint: newDexScreenerEndpoint(httpClient), rec: k.Metrics},
		&instrumentedEndpoint{Endpoint: newCoinGeckoEndpoint(httpClient), rec: k.Metrics},
	}, dispatch.Options{
		CacheTTL:       cfg.DispatchCacheTTL,
		AttemptTimeout: cfg.AttemptTimeout,
		OnAlert:        k.PublishAlert,
	})

	k.Registry = tools.NewRegistry()
	if err := registerBuiltinTools(k.Registry, k.State, k.Dispatcher, k.Metrics); err != nil {
		k.Close()
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}

	builtins, err := skills.BuiltIn()
	if err != nil {
		k.Close()
		return nil, err
	}
	k.Skills = builtins

	k.Router = router.New()
	if err := k.registerProfiles(); err != nil {
		k.Close()
		return nil, err
	}

	// A missing model is a degraded mode, not a startup failure: routing,
	// state, and dispatch all work without one.
	client, err := agent.NewLLMClient(cfg.LLM)
	if err != nil {
		logger.Warn("no language model configured: %v", err)
	} else {
		breaker := agent.NewCircuitBreakerClient(client, agent.DefaultCircuitBreakerConfig)
		k.LLM = &instrumentedLLM{LLMClient: breaker, rec: k.Metrics}
		k.Loop = toolloop.New(k.LLM)
		logger.Info("language model ready: %s", client.GetModelName())
	}

	return k, nil
}

// registerProfiles installs skill profiles, letting YAML declarations
// override the built-in keywords and priority of a matching skill. Extractors
// always come from the built-in skill.
func (k *Kernel) registerProfiles() error {
	overrides := make(map[string]config.SkillProfileConfig, len(k.Cfg.Skills))
	for _, sp := range k.Cfg.Skills {
		if _, ok := k.Skills.Get(sp.Name); !ok {
			k.logger.Warn("skills file declares unknown skill %q, ignored", sp.Name)
			continue
		}
		overrides[sp.Name] = sp
	}

	for _, name := range k.Skills.Names() {
		if name == router.GeneralSkill {
			continue
		}
		sk, _ := k.Skills.Get(name)
		profile := sk.Profile()
		if sp, ok := overrides[name]; ok {
			profile.Keywords = sp.Keywords
			profile.Patterns = sp.Patterns
			profile.Priority = sp.Priority
		}
		if err := k.Router.Register(profile); err != nil {
			return err
		}
	}
	return nil
}

// Capabilities returns the handle bundle injected into skill calls.
func (k *Kernel) Capabilities() skills.Capabilities {
	return skills.Capabilities{
		State:      k.State,
		Dispatcher: k.Dispatcher,
		Loop:       k.Loop,
		Tools:      k.Registry,
	}
}

// PublishAlert fans an alert out to the state store and the event log.
func (k *Kernel) PublishAlert(alert proto.Alert) {
	k.State.PublishAlert(alert)
	if k.EventLog != nil {
		if err := k.EventLog.WriteAlert(alert); err != nil {
			k.logger.Warn("failed to log alert: %v", err)
		}
	}
}

// Close releases kernel-owned resources. Safe on a partially built kernel.
func (k *Kernel) Close() {
	if k.AuditLog != nil {
		k.AuditLog.Close()
		k.AuditLog = nil
	}
	if k.Audit != nil {
		if err := k.Audit.Close(); err != nil {
			k.logger.Warn("failed to close audit store: %v", err)
		}
		k.Audit = nil
	}
	if k.EventLog != nil {
		if err := k.EventLog.Close(); err != nil {
			k.logger.Warn("failed to close event log: %v", err)
		}
		k.EventLog = nil
	}
}
