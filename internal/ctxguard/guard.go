// Package ctxguard implements the Context Window Guard and Recursive
// Compactor: history pruning, tool_use/tool_result repair, token
// estimation, and background summarization, adapted directly from the
// teacher's loop_history.go.
package ctxguard

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
)

// Sanitizer strips provider-echo artifacts from assistant text before
// it is fed back into a summarization prompt. Injected so this package
// doesn't depend on the router's response-sanitization internals.
type Sanitizer func(text string) string

// CompactHook runs synchronously, under the per-session compaction
// lock, just before the messages being dropped from history are
// summarized away. The Three-Tier Memory layer uses this to flush
// durable facts (core memory, archival memory) out of the messages
// that are about to be replaced by the rolling summary.
type CompactHook func(sessionKey string, dropped []providers.Message)

// Guard owns the context-window budget for one provider/model pair
// and performs pruning, repair, and background compaction of session
// history. One Guard is constructed per daemon and shared by
// reference, per spec.md §9's dependency-injection mandate.
type Guard struct {
	contextWindow int
	compactionCfg *config.CompactionConfig
	pruningCfg    *config.ContextPruningConfig
	sessions      *sessions.Manager
	provider      providers.Provider
	model         string
	sanitize      Sanitizer
	onCompact     CompactHook

	summarizeMu sync.Map // sessionKey -> *sync.Mutex
}

// New builds a Guard. sanitize and onCompact may both be nil.
func New(contextWindow int, compactionCfg *config.CompactionConfig, pruningCfg *config.ContextPruningConfig, sess *sessions.Manager, provider providers.Provider, model string, sanitize Sanitizer, onCompact CompactHook) *Guard {
	if sanitize == nil {
		sanitize = func(s string) string { return s }
	}
	return &Guard{
		contextWindow: contextWindow,
		compactionCfg: compactionCfg,
		pruningCfg:    pruningCfg,
		sessions:      sess,
		provider:      provider,
		model:         model,
		sanitize:      sanitize,
		onCompact:     onCompact,
	}
}

// EstimateTokens is a rough ~4 chars/token + 4 tokens/message-overhead
// estimate, calibrated against the last observed prompt/completion
// token counts when available.
func EstimateTokens(msgs []providers.Message, lastPromptTokens, lastCompletionTokens int) int {
	chars := 0
	for _, m := range msgs {
		chars += len(m.Content) + 4
	}
	estimate := chars/4 + len(msgs)*4

	if lastPromptTokens > 0 && len(msgs) > 0 {
		// Blend the rough estimate with the last known real count so the
		// threshold check tracks the provider's actual tokenizer over time.
		estimate = (estimate + lastPromptTokens) / 2
	}
	return estimate
}

// LimitHistoryTurns keeps only the last N user turns (and associated
// assistant/tool messages).
func LimitHistoryTurns(msgs []providers.Message, limit int) []providers.Message {
	if limit <= 0 || len(msgs) == 0 {
		return msgs
	}

	userCount := 0
	lastUserIndex := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "user" {
			userCount++
			if userCount > limit {
				return msgs[lastUserIndex:]
			}
			lastUserIndex = i
		}
	}
	return msgs
}

// PruneContextMessages trims or clears old tool-result content once
// the estimated history size crosses soft/hard ratios of the context
// window, protecting the last KeepLastAssistants assistant turns.
func PruneContextMessages(msgs []providers.Message, contextWindow int, cfg *config.ContextPruningConfig) []providers.Message {
	if cfg == nil || cfg.Mode == "" || cfg.Mode == "off" || len(msgs) == 0 {
		return msgs
	}

	softRatio := cfg.SoftTrimRatio
	if softRatio <= 0 {
		softRatio = 0.3
	}
	hardRatio := cfg.HardClearRatio
	if hardRatio <= 0 {
		hardRatio = 0.5
	}
	keepLastAssistants := cfg.KeepLastAssistants
	if keepLastAssistants <= 0 {
		keepLastAssistants = 3
	}
	minChars := cfg.MinPrunableToolChars
	if minChars <= 0 {
		minChars = 50000
	}

	totalChars := 0
	for _, m := range msgs {
		totalChars += len(m.Content)
	}
	if totalChars < minChars {
		return msgs
	}

	estimate := EstimateTokens(msgs, 0, 0)
	softThreshold := int(float64(contextWindow) * softRatio)
	hardThreshold := int(float64(contextWindow) * hardRatio)
	if estimate < softThreshold {
		return msgs
	}

	assistantsSeen := 0
	protectFrom := len(msgs)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == "assistant" {
			assistantsSeen++
			if assistantsSeen >= keepLastAssistants {
				protectFrom = i
				break
			}
		}
	}

	softTrim := cfg.SoftTrim
	maxChars, headChars, tailChars := 4000, 1500, 1500
	if softTrim != nil {
		if softTrim.MaxChars > 0 {
			maxChars = softTrim.MaxChars
		}
		if softTrim.HeadChars > 0 {
			headChars = softTrim.HeadChars
		}
		if softTrim.TailChars > 0 {
			tailChars = softTrim.TailChars
		}
	}

	hardClearEnabled := estimate >= hardThreshold
	placeholder := "[Old tool result content cleared]"
	if cfg.HardClear != nil {
		if cfg.HardClear.Enabled != nil {
			hardClearEnabled = hardClearEnabled && *cfg.HardClear.Enabled
		}
		if cfg.HardClear.Placeholder != "" {
			placeholder = cfg.HardClear.Placeholder
		}
	}

	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	for i := 0; i < protectFrom; i++ {
		if out[i].Role != "tool" {
			continue
		}
		content := out[i].Content
		if hardClearEnabled {
			out[i].Content = placeholder
		} else if len(content) > maxChars {
			out[i].Content = content[:headChars] + "\n…[trimmed]…\n" + content[len(content)-tailChars:]
		}
	}
	return out
}

// SanitizeHistory repairs tool_use/tool_result pairing: drops leading
// orphaned tool messages, re-pairs tool_result with its tool_use, and
// synthesizes placeholders for tool_use calls whose result was lost.
func SanitizeHistory(msgs []providers.Message) []providers.Message {
	if len(msgs) == 0 {
		return msgs
	}

	start := 0
	for start < len(msgs) && msgs[start].Role == "tool" {
		slog.Warn("dropping orphaned tool message at history start", "tool_call_id", msgs[start].ToolCallID)
		start++
	}
	if start >= len(msgs) {
		return nil
	}

	var result []providers.Message
	for i := start; i < len(msgs); i++ {
		msg := msgs[i]

		if msg.Role == "assistant" && len(msg.ToolCalls) > 0 {
			expectedIDs := make(map[string]bool, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				expectedIDs[tc.ID] = true
			}
			result = append(result, msg)

			for i+1 < len(msgs) && msgs[i+1].Role == "tool" {
				i++
				toolMsg := msgs[i]
				if expectedIDs[toolMsg.ToolCallID] {
					result = append(result, toolMsg)
					delete(expectedIDs, toolMsg.ToolCallID)
				} else {
					slog.Warn("dropping mismatched tool result", "tool_call_id", toolMsg.ToolCallID)
				}
			}

			for id := range expectedIDs {
				slog.Warn("synthesizing missing tool result", "tool_call_id", id)
				result = append(result, providers.Message{
					Role:       "tool",
					Content:    "[Tool result missing — session was compacted]",
					ToolCallID: id,
				})
			}
		} else if msg.Role == "tool" {
			slog.Warn("dropping orphaned tool message mid-history", "tool_call_id", msg.ToolCallID)
		} else {
			result = append(result, msg)
		}
	}
	return result
}

// PrepareHistory runs the full pipeline (limit → prune → sanitize)
// used before assembling messages for an engine call.
func (g *Guard) PrepareHistory(history []providers.Message, historyLimit int) []providers.Message {
	trimmed := LimitHistoryTurns(history, historyLimit)
	pruned := PruneContextMessages(trimmed, g.contextWindow, g.pruningCfg)
	return SanitizeHistory(pruned)
}

// MaybeCompact checks whether sessionKey's history has crossed the
// compaction threshold and, if so, kicks off a background
// summarization goroutine holding a per-session TryLock so concurrent
// runs never double-summarize the same session.
func (g *Guard) MaybeCompact(sessionKey string) {
	history := g.sessions.GetHistory(sessionKey)
	lastPT, lastMC := g.sessions.GetLastPromptTokens(sessionKey)
	tokenEstimate := EstimateTokens(history, lastPT, lastMC)

	historyShare := 0.75
	if g.compactionCfg != nil && g.compactionCfg.MaxHistoryShare > 0 {
		historyShare = g.compactionCfg.MaxHistoryShare
	}
	minMessages := 50
	if g.compactionCfg != nil && g.compactionCfg.MinMessages > 0 {
		minMessages = g.compactionCfg.MinMessages
	}

	threshold := int(float64(g.contextWindow) * historyShare)
	if len(history) <= minMessages && tokenEstimate <= threshold {
		return
	}

	muI, _ := g.summarizeMu.LoadOrStore(sessionKey, &sync.Mutex{})
	sessionMu := muI.(*sync.Mutex)
	if !sessionMu.TryLock() {
		slog.Debug("compaction already in progress, skipping", "session", sessionKey)
		return
	}

	keepLast := 4
	if g.compactionCfg != nil && g.compactionCfg.KeepLastMessages > 0 {
		keepLast = g.compactionCfg.KeepLastMessages
	}

	go func() {
		defer sessionMu.Unlock()

		history := g.sessions.GetHistory(sessionKey)
		if len(history) <= keepLast {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)
		defer cancel()

		summary := g.sessions.GetSummary(sessionKey)
		toSummarize := history[:len(history)-keepLast]

		if g.onCompact != nil {
			g.onCompact(sessionKey, toSummarize)
		}

		var sb string
		for _, m := range toSummarize {
			switch m.Role {
			case "user":
				sb += fmt.Sprintf("user: %s\n", m.Content)
			case "assistant":
				sb += fmt.Sprintf("assistant: %s\n", g.sanitize(m.Content))
			}
		}

		prompt := "Provide a concise summary of this conversation, preserving key context:\n"
		if summary != "" {
			prompt += "Existing context: " + summary + "\n"
		}
		prompt += "\n" + sb

		resp, err := g.provider.Chat(ctx, providers.ChatRequest{
			Messages: []providers.Message{{Role: "user", Content: prompt}},
			Model:    g.model,
			Options:  map[string]interface{}{"max_tokens": 1024, "temperature": 0.3},
		})
		if err != nil {
			slog.Warn("compaction summarize failed", "session", sessionKey, "error", err)
			return
		}

		g.sessions.SetSummary(sessionKey, g.sanitize(resp.Content))
		g.sessions.TruncateHistory(sessionKey, keepLast)
		g.sessions.IncrementCompaction(sessionKey)
		g.sessions.Save(sessionKey)
	}()
}
