package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
)

// Tool is the interface every built-in and MCP-provided tool implements.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]interface{}
	// Destructive/Intrusive mark a tool as requiring the Approval Gate.
	Destructive() bool
	Intrusive() bool
	// OwnerOnly marks a tool as rejected for any non-owner sender.
	OwnerOnly() bool
	Execute(ctx context.Context, args json.RawMessage) *Result
}

// AsyncCallback lets a long-running tool report its eventual result
// back to the caller's chat session after Execute has already
// returned an AsyncResult.
type AsyncCallback func(ctx context.Context, toolName string, result *Result)

// Registry holds every tool available to the daemon, keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Unregister removes a tool by name (used when an MCP server disconnects).
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
}

// Get resolves a tool by canonical name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns the names of every registered tool.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	return names
}

// ProviderDefs returns provider-ready ToolDefinitions for exactly the
// named tools, in the order given, skipping any that aren't registered.
func (r *Registry) ProviderDefs(names []string) []providers.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]providers.ToolDefinition, 0, len(names))
	for _, name := range names {
		if t, ok := r.tools[name]; ok {
			defs = append(defs, ToProviderDef(t))
		}
	}
	return defs
}

// EvaluateOwnerPolicy returns a refusal Result if name is an
// owner-only tool and role isn't the owner, else nil (proceed).
// Unknown tool names are left for ExecuteWithContext to reject.
func (r *Registry) EvaluateOwnerPolicy(name string, role SenderRole) *Result {
	t, ok := r.Get(name)
	if !ok || !t.OwnerOnly() || role.IsOwner() {
		return nil
	}
	return ErrorResult("restricted to owner")
}

// ToProviderDef converts a Tool into the provider-facing schema shape.
func ToProviderDef(t Tool) providers.ToolDefinition {
	return providers.ToolDefinition{
		Type: "function",
		Function: providers.ToolFunctionSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		},
	}
}

// ExecuteWithContext runs the named tool's Execute, returning a
// synthesized error Result if the tool isn't registered rather than
// panicking — callers always get a Result to hand back to the engine.
func (r *Registry) ExecuteWithContext(ctx context.Context, name string, args json.RawMessage) *Result {
	t, ok := r.Get(name)
	if !ok {
		return ErrorResult(fmt.Sprintf("unknown tool %q", name))
	}
	return t.Execute(ctx, args)
}
