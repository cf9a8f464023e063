package agent

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
)

// buildMessages constructs the full message list for an LLM request.
// Returns the messages and whether BOOTSTRAP.md was present in context
// files (used by the caller for auto-cleanup without a second disk read).
func (l *Loop) buildMessages(ctx context.Context, history []providers.Message, summary, userMessage, extraSystemPrompt, sessionKey, channel string, historyLimit int) ([]providers.Message, bool) {
	mode := PromptFull
	if sessions.IsSubagentSession(sessionKey) || sessions.IsCronSession(sessionKey) {
		mode = PromptMinimal
	}

	hadBootstrap := false
	for _, cf := range l.contextFiles {
		if cf.Path == bootstrapFileName {
			hadBootstrap = true
			break
		}
	}

	var coreMemoryText string
	if l.core != nil {
		coreMemoryText = l.core.Text()
	}

	systemPrompt := BuildSystemPrompt(SystemPromptConfig{
		AgentID:        l.id,
		Model:          l.model,
		Workspace:      l.workspace,
		Channel:        channel,
		OwnerIDs:       l.ownerIDs,
		Mode:           mode,
		ToolNames:      l.tools.List(),
		HasMemory:      l.hasMemory,
		CoreMemoryText: coreMemoryText,
		ContextFiles:   l.contextFiles,
		ExtraPrompt:    extraSystemPrompt,

		SandboxEnabled:         l.sandboxEnabled,
		SandboxContainerDir:    l.sandboxContainerDir,
		SandboxWorkspaceAccess: l.sandboxWorkspaceAccess,
	})

	var messages []providers.Message
	messages = append(messages, providers.Message{Role: "system", Content: systemPrompt})

	if summary != "" {
		messages = append(messages, providers.Message{
			Role:    "user",
			Content: fmt.Sprintf("[Previous conversation summary]\n%s", summary),
		})
		messages = append(messages, providers.Message{
			Role:    "assistant",
			Content: "I understand the context from our previous conversation. How can I help you?",
		})
	}

	// Auto-RAG: prepend archival context relevant to this message, if wired.
	if l.autoRAG != nil {
		if retrieved := l.autoRAG.Retrieve(ctx, userMessage); retrieved != "" {
			messages = append(messages, providers.Message{
				Role:    "user",
				Content: fmt.Sprintf("[Retrieved context]\n%s", retrieved),
			})
		}
	}

	messages = append(messages, l.ctxGuard.PrepareHistory(history, historyLimit)...)

	messages = append(messages, providers.Message{Role: "user", Content: userMessage})

	return messages, hadBootstrap
}

// bootstrapFileName mirrors bootstrap.BootstrapFile without importing
// the bootstrap package just for this one constant comparison.
const bootstrapFileName = "BOOTSTRAP.md"
