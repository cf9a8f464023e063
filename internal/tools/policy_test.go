package tools

import (
	"context"
	"encoding/json"
	"sort"
	"testing"

	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/providers"
)

// fakePolicyTool is a minimal Tool stub for policy-pipeline tests —
// only Name is ever consulted by FilterTools/evaluate.
type fakePolicyTool struct{ name string }

func (f fakePolicyTool) Name() string                   { return f.name }
func (f fakePolicyTool) Description() string            { return f.name }
func (f fakePolicyTool) Schema() map[string]interface{} { return map[string]interface{}{} }
func (f fakePolicyTool) Destructive() bool              { return false }
func (f fakePolicyTool) Intrusive() bool                { return false }
func (f fakePolicyTool) OwnerOnly() bool                { return false }
func (f fakePolicyTool) Execute(ctx context.Context, raw json.RawMessage) *Result {
	return SilentResult("ok")
}

func newTestRegistry(names ...string) *Registry {
	r := NewRegistry()
	for _, n := range names {
		r.Register(fakePolicyTool{name: n})
	}
	return r
}

func defNames(defs []providers.ToolDefinition) []string {
	names := make([]string, 0, len(defs))
	for _, d := range defs {
		names = append(names, d.Function.Name)
	}
	return names
}

func contains(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestPolicyEngine_Profile_Minimal(t *testing.T) {
	reg := newTestRegistry("read_file", "write_file", "exec")
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "minimal"})

	names := defNames(pe.FilterTools(reg, "agent1", "anthropic", nil, nil))

	if len(names) != 1 || names[0] != "read_file" {
		t.Fatalf("expected only read_file under the minimal profile, got %v", names)
	}
}

func TestPolicyEngine_Profile_Full_AllowsEverything(t *testing.T) {
	reg := newTestRegistry("read_file", "write_file", "exec")
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "full"})

	defs := pe.FilterTools(reg, "agent1", "anthropic", nil, nil)
	if len(defs) != 3 {
		t.Fatalf("expected all 3 tools under the full profile, got %d", len(defs))
	}
}

func TestPolicyEngine_GlobalDeny(t *testing.T) {
	reg := newTestRegistry("read_file", "write_file", "exec")
	pe := NewPolicyEngine(&config.ToolsConfig{Deny: []string{"exec"}})

	names := defNames(pe.FilterTools(reg, "agent1", "anthropic", nil, nil))
	if contains(names, "exec") {
		t.Fatalf("expected exec to be denied globally, got %v", names)
	}
	if !contains(names, "read_file") || !contains(names, "write_file") {
		t.Fatalf("expected the other tools to remain allowed, got %v", names)
	}
}

func TestPolicyEngine_GroupExpansion(t *testing.T) {
	reg := newTestRegistry("read_file", "write_file", "list_files", "exec")
	pe := NewPolicyEngine(&config.ToolsConfig{Allow: []string{"group:fs"}})

	names := defNames(pe.FilterTools(reg, "agent1", "anthropic", nil, nil))
	sort.Strings(names)
	want := []string{"list_files", "read_file", "write_file"}
	sort.Strings(want)

	if !equalStrings(names, want) {
		t.Fatalf("expected group:fs to expand to %v, got %v", want, names)
	}
}

func TestPolicyEngine_ProviderOverride(t *testing.T) {
	reg := newTestRegistry("read_file", "exec")
	pe := NewPolicyEngine(&config.ToolsConfig{
		Profile: "full",
		ByProvider: map[string]*config.ToolPolicySpec{
			"anthropic": {Allow: []string{"read_file"}},
		},
	})

	names := defNames(pe.FilterTools(reg, "agent1", "anthropic", nil, nil))
	if !equalStrings(names, []string{"read_file"}) {
		t.Fatalf("expected provider override to restrict to read_file, got %v", names)
	}

	// A different provider isn't affected by anthropic's override.
	names = defNames(pe.FilterTools(reg, "agent1", "openai", nil, nil))
	sort.Strings(names)
	if !equalStrings(names, []string{"exec", "read_file"}) {
		t.Fatalf("expected openai to see both tools, got %v", names)
	}
}

func TestPolicyEngine_PerAgentAllowNarrowsFurther(t *testing.T) {
	reg := newTestRegistry("read_file", "write_file", "exec")
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "full"})
	agentPolicy := &config.ToolPolicySpec{Allow: []string{"read_file", "write_file"}}

	names := defNames(pe.FilterTools(reg, "agent1", "anthropic", agentPolicy, nil))
	sort.Strings(names)
	if !equalStrings(names, []string{"read_file", "write_file"}) {
		t.Fatalf("expected per-agent allow to narrow the tool set, got %v", names)
	}
}

func TestPolicyEngine_AlsoAllow_IsAdditive(t *testing.T) {
	reg := newTestRegistry("read_file", "write_file", "exec")
	pe := NewPolicyEngine(&config.ToolsConfig{
		Profile:   "minimal", // only read_file
		AlsoAllow: []string{"exec"},
	})

	names := defNames(pe.FilterTools(reg, "agent1", "anthropic", nil, nil))
	sort.Strings(names)
	if !equalStrings(names, []string{"exec", "read_file"}) {
		t.Fatalf("expected alsoAllow to add exec back without dropping read_file, got %v", names)
	}
}

func TestPolicyEngine_GroupToolAllow(t *testing.T) {
	reg := newTestRegistry("read_file", "write_file", "exec")
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "full"})

	names := defNames(pe.FilterTools(reg, "agent1", "anthropic", nil, []string{"read_file"}))
	if !equalStrings(names, []string{"read_file"}) {
		t.Fatalf("expected group-level allow to restrict to read_file, got %v", names)
	}
}

func TestPolicyEngine_UnknownProfile_FallsBackToFull(t *testing.T) {
	reg := newTestRegistry("read_file", "exec")
	pe := NewPolicyEngine(&config.ToolsConfig{Profile: "bogus"})

	names := defNames(pe.FilterTools(reg, "agent1", "anthropic", nil, nil))
	sort.Strings(names)
	if !equalStrings(names, []string{"exec", "read_file"}) {
		t.Fatalf("expected unknown profile to fall back to full, got %v", names)
	}
}

func TestResolveAlias(t *testing.T) {
	if resolveAlias("bash") != "exec" {
		t.Fatal("expected bash to alias to exec")
	}
	if resolveAlias("read_file") != "read_file" {
		t.Fatal("expected non-aliased names to pass through unchanged")
	}
}
