package tools

import (
	"sort"
	"sync"

	"starkagent/pkg/fault"
)

// Registry is a sealable set of tools handed to an agent. Registration
// happens during startup; Seal freezes the set before the first model call
// so the advertised tool list never changes mid-conversation.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	tools  map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool. Fails on duplicate names or after sealing.
func (r *Registry) Register(tool Tool) error {
	def := tool.Definition()
	if def.Name == "" {
		return fault.New(fault.KindFatal, "tools", "tool has no name")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fault.New(fault.KindFatal, "tools", "registry sealed, cannot register %q", def.Name)
	}
	if _, exists := r.tools[def.Name]; exists {
		return fault.New(fault.KindFatal, "tools", "duplicate tool %q", def.Name)
	}
	r.tools[def.Name] = tool
	return nil
}

// Seal freezes the registry. Idempotent.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether the registry is frozen.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions returns every tool definition sorted by name, ready to
// advertise to a model.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, t.Definition())
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
