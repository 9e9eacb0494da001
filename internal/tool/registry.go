package tool

import (
	"context"
	"encoding/json"
	"sync"
)

// Registry is a thread-safe name→Tool lookup, grounded on the teacher's
// internal/agent.ToolRegistry (tool_registry.go) but trimmed of the
// gateway-specific job-queue/approval/policy machinery that has no analog
// in this system's tool dispatch contract.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// NewRegistryWith builds a Registry pre-populated with tools, the shape
// each orchestrator phase uses to assemble its role-specific tool set
// (spec §4.4 Tool sets by role).
func NewRegistryWith(tools ...Tool) *Registry {
	r := NewRegistry()
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool by name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// All returns every registered tool, used to build the LLM request's tool
// schema list (spec §4.3 step 1).
func (r *Registry) All() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	return out
}

// Execute looks up name and runs it, returning a normalized error Result
// rather than an error when the tool is unknown (spec §4.3 step 8: "if
// unknown -> record an error tool-result").
func (r *Registry) Execute(ctx context.Context, tc Context, name string, args json.RawMessage) *Result {
	t, ok := r.Get(name)
	if !ok {
		return &Result{Response: "Error: Unknown tool '" + name + "'", IsError: true}
	}
	result, err := t.Execute(ctx, tc, args)
	if err != nil {
		return &Result{Response: "Error: " + err.Error(), IsError: true}
	}
	if result == nil {
		result = &Result{}
	}
	result.Response = Truncate(result.Response)
	return result
}
