// Package skills holds the request handlers the router dispatches to. Each
// skill is a thin adapter over capability handles: it reads shared state,
// races outbound calls through the dispatcher, and optionally consults the
// model through the tool loop. Skills never reach for globals.
package skills

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"starkagent/pkg/agent/toolloop"
	"starkagent/pkg/dispatch"
	"starkagent/pkg/fault"
	"starkagent/pkg/proto"
	"starkagent/pkg/router"
	"starkagent/pkg/state"
	"starkagent/pkg/tools"
)

// Capabilities are the runtime handles injected into every skill call.
type Capabilities struct {
	State      *state.Store
	Dispatcher *dispatch.Dispatcher
	// Loop and Tools are nil when no model is configured; skills fall back
	// to state-store data.
	Loop  *toolloop.Loop
	Tools *tools.Registry
}

// ErrNoModel reports that a skill needed the model but none is configured.
var ErrNoModel = errors.New("no language model configured")

// complete runs one tool-loop conversation for skills that lean on the model.
func (c Capabilities) complete(ctx context.Context, system, prompt string) (string, error) {
	if c.Loop == nil || c.Tools == nil {
		return "", ErrNoModel
	}
	cfg := toolloop.DefaultConfig(c.Tools)
	cfg.SystemPrompt = system
	res, err := c.Loop.Run(ctx, cfg, prompt)
	if err != nil {
		return "", fmt.Errorf("model run failed: %w", err)
	}
	return res.Content, nil
}

// Skill is the adapter contract: a name, a routing profile, and a handler
// invoked with the routing decision plus capability handles.
type Skill interface {
	Name() string
	Profile() router.Profile
	Handle(ctx context.Context, decision proto.RoutingDecision, caps Capabilities) (string, error)
}

// Set is the immutable skill lookup built at startup.
type Set struct {
	byName map[string]Skill
	order  []string
}

// NewSet indexes the given skills. Duplicate names are invariant violations.
func NewSet(list ...Skill) (*Set, error) {
	s := &Set{byName: make(map[string]Skill, len(list))}
	for _, sk := range list {
		name := sk.Name()
		if name == "" {
			return nil, fault.New(fault.KindFatal, "skills", "skill has no name")
		}
		if _, dup := s.byName[name]; dup {
			return nil, fault.New(fault.KindFatal, "skills", "duplicate skill %q", name)
		}
		s.byName[name] = sk
		s.order = append(s.order, name)
	}
	return s, nil
}

// Get looks up a skill by name.
func (s *Set) Get(name string) (Skill, bool) {
	sk, ok := s.byName[name]
	return sk, ok
}

// Names returns the skill names in registration order.
func (s *Set) Names() []string {
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// RegisterProfiles adds every skill's routing profile to the router. The
// general fallback has no profile of its own; the router's confidence floor
// routes to it.
func (s *Set) RegisterProfiles(r *router.Router) error {
	for _, name := range s.order {
		if name == router.GeneralSkill {
			continue
		}
		if err := r.Register(s.byName[name].Profile()); err != nil {
			return err
		}
	}
	return nil
}

// BuiltIn returns the shipped skill set.
func BuiltIn() (*Set, error) {
	return NewSet(
		&pricesSkill{},
		&researchSkill{},
		&whaleSkill{},
		&dexArbitrageSkill{},
		&spreadArbitrageSkill{},
		&contentSkill{},
		&securitySkill{},
		&socialSkill{},
		&generalSkill{},
	)
}

// combine merges extractors, later ones overriding earlier keys.
func combine(extractors ...router.Extractor) router.Extractor {
	return func(text string) map[string]string {
		merged := map[string]string{}
		for _, ex := range extractors {
			for k, v := range ex(text) {
				merged[k] = v
			}
		}
		if len(merged) == 0 {
			return nil
		}
		return merged
	}
}

// tail returns the newest n entries of an oldest-first listing.
func tail[T any](items []T, n int) []T {
	if n <= 0 || len(items) <= n {
		return items
	}
	return items[len(items)-n:]
}

// paramList splits a comma-joined extracted parameter.
func paramList(decision proto.RoutingDecision, key string) []string {
	raw := decision.Params[key]
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
