package agent

import (
	"fmt"
	"strings"

	"github.com/nextlevelbuilder/agentcore/internal/bootstrap"
)

// PromptMode selects how much of the persona/tooling boilerplate is
// included in the system prompt. Subagent and cron runs get the
// minimal variant — they don't need onboarding or channel etiquette
// notes repeated on every synthetic turn.
type PromptMode int

const (
	PromptFull PromptMode = iota
	PromptMinimal
)

// SystemPromptConfig carries everything BuildSystemPrompt needs to
// assemble the system message for one run.
type SystemPromptConfig struct {
	AgentID   string
	Model     string
	Workspace string
	Channel   string
	OwnerIDs  []string
	Mode      PromptMode

	ToolNames      []string
	HasMemory      bool
	CoreMemoryText string

	ContextFiles []bootstrap.ContextFile
	ExtraPrompt  string

	SandboxEnabled         bool
	SandboxContainerDir    string
	SandboxWorkspaceAccess string
}

// BuildSystemPrompt assembles the system message: identity + operating
// rules, sandbox/workspace notes, tool inventory, then the workspace
// context files verbatim, then any extra prompt material the caller
// wants folded in (subagent task framing, cron job description, …).
func BuildSystemPrompt(cfg SystemPromptConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a long-running local AI agent daemon.\n", cfg.AgentID)
	fmt.Fprintf(&b, "Model: %s. Channel: %s.\n\n", cfg.Model, orDefault(cfg.Channel, "none"))

	if cfg.Mode == PromptFull {
		b.WriteString("Operate autonomously within your tool set. Ask before anything destructive " +
			"or hard to reverse; otherwise proceed without asking. Keep replies concise — no filler, " +
			"no restating the question. If a message genuinely warrants no reply, respond with exactly NO_REPLY.\n\n")
	}

	if len(cfg.OwnerIDs) > 0 {
		fmt.Fprintf(&b, "Owner identities: %s. Some tools are restricted to the owner; a non-owner " +
			"sender attempting one receives a refusal instead of execution.\n\n", strings.Join(cfg.OwnerIDs, ", "))
	}

	if cfg.Workspace != "" {
		fmt.Fprintf(&b, "Workspace: %s.\n", cfg.Workspace)
	}
	if cfg.SandboxEnabled {
		fmt.Fprintf(&b, "Shell/file tools run inside a sandbox container mounted at %s (access: %s).\n",
			cfg.SandboxContainerDir, orDefault(cfg.SandboxWorkspaceAccess, "none"))
	}
	b.WriteString("\n")

	if cfg.HasMemory {
		b.WriteString("You have a three-tier memory: core memory (always shown below), auto-retrieved " +
			"archival context prepended to relevant messages, and memory_search/memory_get tools for " +
			"explicit lookups. Keep core memory short — it costs context on every turn.\n\n")
		if strings.TrimSpace(cfg.CoreMemoryText) != "" {
			fmt.Fprintf(&b, "<core_memory>\n%s\n</core_memory>\n\n", strings.TrimSpace(cfg.CoreMemoryText))
		}
	}

	if len(cfg.ToolNames) > 0 && cfg.Mode == PromptFull {
		fmt.Fprintf(&b, "Available tools: %s.\n\n", strings.Join(cfg.ToolNames, ", "))
	}

	for _, cf := range cfg.ContextFiles {
		fmt.Fprintf(&b, "<%s>\n%s\n</%s>\n\n", cf.Path, strings.TrimSpace(cf.Content), cf.Path)
	}

	if cfg.ExtraPrompt != "" {
		b.WriteString(cfg.ExtraPrompt)
		b.WriteString("\n")
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
