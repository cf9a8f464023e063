package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/bootstrap"
	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/ctxguard"
	"github.com/nextlevelbuilder/agentcore/internal/memory"
	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
	"github.com/nextlevelbuilder/agentcore/internal/tools"
	"github.com/nextlevelbuilder/agentcore/internal/tracing"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

// bootstrapAutoCleanupTurns is the number of user messages after which
// BOOTSTRAP.md is auto-removed if the model hasn't cleared it itself.
// Bootstrap typically completes in 2-3 conversation turns.
const bootstrapAutoCleanupTurns = 3

// defaultApprovalTimeout is how long the Approval Gate waits for an
// owner decision on a destructive/intrusive tool call before treating
// it as a deny.
const defaultApprovalTimeout = 120 * time.Second

// Loop is the agent execution loop for one engine tier (live/worker/
// cloud). Think → Act → Observe cycle with tool execution, one Loop
// instance per tier, all sharing the same Registry/Manager/Guard.
type Loop struct {
	id            string
	provider      providers.Provider
	model         string
	contextWindow int
	maxIterations int
	workspace     string

	eventPub bus.EventPublisher // currently unused by Loop; kept for future broadcast wiring
	sessions *sessions.Manager
	tools    *tools.Registry

	toolPolicy *tools.PolicyEngine // optional: filters tools sent to the engine
	approvals  *tools.Manager      // Approval Gate for destructive/intrusive tools
	loopGuard  *tools.LoopDetector // anti-repeat detector, keyed by session

	activeRuns atomic.Int32 // number of currently executing runs

	// Bootstrap/persona context (loaded at startup, injected into system prompt)
	ownerIDs     []string
	hasMemory    bool
	contextFiles []bootstrap.ContextFile
	autoRAG      *memory.AutoRAG // optional: pre-flight archival retrieval
	core         *memory.Core    // optional: Tier 0 core working memory, rendered into every system prompt

	// Context Window Guard & Recursive Compactor (shared across runs on this Loop).
	ctxGuard *ctxguard.Guard

	// Sandbox info (surfaced in the system prompt)
	sandboxEnabled         bool
	sandboxContainerDir    string
	sandboxWorkspaceAccess string

	// Event callback for broadcasting agent events (run.started, chunk, tool.call, etc.)
	onEvent func(event AgentEvent)

	// Tracing collector (nil in standalone mode)
	traceCollector *tracing.Collector

	// Security: input scanning and message size limit
	inputGuard      *tools.InputGuard
	injectionAction string // "log", "warn" (default), "block", "off"
	maxMessageChars int    // 0 = use default (32000)

	visionConfig   *config.VisionConfig
	imageGenConfig *config.ImageGenConfig

	// Thinking level for extended thinking support
	thinkingLevel string
}

// AgentEvent is emitted during agent execution for gateway broadcasting.
type AgentEvent struct {
	Type    string      `json:"type"`    // "run.started", "run.completed", "run.failed", "chunk", "tool.call", "tool.result"
	AgentID string      `json:"agentId"`
	RunID   string      `json:"runId"`
	Payload interface{} `json:"payload,omitempty"`
}

// LoopConfig configures a new Loop.
type LoopConfig struct {
	ID            string
	Provider      providers.Provider
	Model         string
	ContextWindow int
	MaxIterations int
	Workspace     string
	Bus           bus.EventPublisher
	Sessions      *sessions.Manager
	Tools         *tools.Registry
	ToolPolicy    *tools.PolicyEngine
	Approvals     *tools.Manager
	LoopGuard     *tools.LoopDetector
	OnEvent       func(AgentEvent)

	// Bootstrap/persona context
	OwnerIDs     []string
	HasMemory    bool
	ContextFiles []bootstrap.ContextFile
	AutoRAG      *memory.AutoRAG
	Core         *memory.Core

	// Compaction / pruning (used to build the Context Window Guard)
	CompactionCfg     *config.CompactionConfig
	ContextPruningCfg *config.ContextPruningConfig
	OnCompact         ctxguard.CompactHook

	// Sandbox info (injected into system prompt)
	SandboxEnabled         bool
	SandboxContainerDir    string // e.g. "/workspace"
	SandboxWorkspaceAccess string // "none", "ro", "rw"

	// Tracing collector (nil = no tracing)
	TraceCollector *tracing.Collector

	// Security: input guard for injection detection, max message size
	InjectionAction string // "log", "warn" (default), "block", "off"
	MaxMessageChars int    // 0 = use default (32000)

	VisionConfig   *config.VisionConfig
	ImageGenConfig *config.ImageGenConfig

	// Thinking level: "off", "low", "medium", "high"
	ThinkingLevel string
}

func NewLoop(cfg LoopConfig) *Loop {
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = 20
	}
	if cfg.ContextWindow <= 0 {
		cfg.ContextWindow = 200000
	}

	action := cfg.InjectionAction
	switch action {
	case "log", "warn", "block", "off":
	default:
		action = "warn"
	}

	var guard *tools.InputGuard
	if action != "off" {
		guard = tools.NewInputGuard(action)
	}

	l := &Loop{
		id:            cfg.ID,
		provider:      cfg.Provider,
		model:         cfg.Model,
		contextWindow: cfg.ContextWindow,
		maxIterations: cfg.MaxIterations,
		workspace:     cfg.Workspace,
		eventPub:      cfg.Bus,
		sessions:      cfg.Sessions,
		tools:         cfg.Tools,
		toolPolicy:    cfg.ToolPolicy,
		approvals:     cfg.Approvals,
		loopGuard:     cfg.LoopGuard,
		onEvent:       cfg.OnEvent,

		ownerIDs:     cfg.OwnerIDs,
		hasMemory:    cfg.HasMemory,
		contextFiles: cfg.ContextFiles,
		autoRAG:      cfg.AutoRAG,
		core:         cfg.Core,

		sandboxEnabled:         cfg.SandboxEnabled,
		sandboxContainerDir:    cfg.SandboxContainerDir,
		sandboxWorkspaceAccess: cfg.SandboxWorkspaceAccess,

		traceCollector: cfg.TraceCollector,

		inputGuard:      guard,
		injectionAction: action,
		maxMessageChars: cfg.MaxMessageChars,

		visionConfig:   cfg.VisionConfig,
		imageGenConfig: cfg.ImageGenConfig,

		thinkingLevel: cfg.ThinkingLevel,
	}

	if l.loopGuard == nil {
		l.loopGuard = tools.NewLoopDetector()
	}

	l.ctxGuard = ctxguard.New(
		l.contextWindow,
		cfg.CompactionCfg,
		cfg.ContextPruningCfg,
		l.sessions,
		l.provider,
		l.model,
		SanitizeAssistantContent,
		cfg.OnCompact,
	)

	return l
}

// RunRequest is the input for processing a message through the agent.
type RunRequest struct {
	SessionKey        string            // composite key: agent:{agentId}:{channel}:{peerKind}:{chatId}
	Message           string            // user message
	Media             []string          // local file paths to images (already sanitized)
	Channel           string            // source channel
	ChatID            string            // source chat ID
	PeerKind          string            // "direct" or "group" (for session key building and tool context)
	RunID             string            // unique run identifier
	ClientID          string            // gateway client id; derives SenderRole
	SenderRole        tools.SenderRole  // owner/system/scheduled — governs tool policy
	Stream            bool              // whether to stream response chunks
	ExtraSystemPrompt string            // optional: injected into system prompt (subagent/cron framing, etc.)
	HistoryLimit      int               // max user turns to keep in context (0=unlimited, from channel config)
	GodMode           bool              // bypass the Approval Gate for destructive tools; intrusive tools still ask (never bypasses owner-only filtering)
}

// RunResult is the output of a completed agent run.
type RunResult struct {
	Content    string           `json:"content"`
	RunID      string           `json:"runId"`
	Iterations int              `json:"iterations"`
	Usage      *providers.Usage `json:"usage,omitempty"`
	Media      []MediaResult    `json:"media,omitempty"` // media files from tool results (MEDIA: prefix)
}

// MediaResult represents a media file produced by a tool during the agent run.
type MediaResult struct {
	Path        string `json:"path"`                   // local file path
	ContentType string `json:"content_type,omitempty"` // MIME type
	AsVoice     bool   `json:"as_voice,omitempty"`      // send as voice message (Telegram OGG)
}

// Run processes a single message through the agent loop.
// It blocks until completion and returns the final response.
func (l *Loop) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	l.activeRuns.Add(1)
	defer l.activeRuns.Add(-1)

	l.emit(AgentEvent{Type: protocol.AgentEventRunStarted, AgentID: l.id, RunID: req.RunID})

	if req.SenderRole == "" {
		req.SenderRole = tools.DeriveSenderRole(req.ClientID)
	}

	ctx, span := l.startAgentSpan(ctx, req.SessionKey)

	result, err := l.runLoop(ctx, req)

	tracing.EndWithError(span, err)

	if err != nil {
		l.emit(AgentEvent{
			Type:    protocol.AgentEventRunFailed,
			AgentID: l.id,
			RunID:   req.RunID,
			Payload: map[string]string{"error": err.Error()},
		})
		return nil, err
	}

	l.emit(AgentEvent{Type: protocol.AgentEventRunCompleted, AgentID: l.id, RunID: req.RunID})
	return result, nil
}

func (l *Loop) runLoop(ctx context.Context, req RunRequest) (*RunResult, error) {
	// Inject per-daemon vision/imagegen overrides for read_image/create_image tools.
	if l.visionConfig != nil {
		ctx = tools.WithVisionConfig(ctx, l.visionConfig)
	}
	if l.imageGenConfig != nil {
		ctx = tools.WithImageGenConfig(ctx, l.imageGenConfig)
	}

	if l.workspace != "" {
		if err := os.MkdirAll(l.workspace, 0755); err != nil {
			slog.Warn("failed to create workspace directory", "workspace", l.workspace, "error", err)
		}
		ctx = tools.WithToolWorkspace(ctx, l.workspace)
	}

	// Security: scan user message for injection patterns.
	// Action is configurable: "log" (info), "warn" (default), "block" (reject message).
	if l.inputGuard != nil {
		if verdict := l.inputGuard.Scan(req.Message); verdict.Flagged {
			switch verdict.Action {
			case tools.ActionBlock:
				slog.Warn("security.injection_blocked",
					"agent", l.id, "pattern", verdict.Pattern, "message_len", len(req.Message))
				return nil, fmt.Errorf("message blocked: potential prompt injection detected (%s)", verdict.Pattern)
			case tools.ActionLog:
				slog.Info("security.injection_detected",
					"agent", l.id, "pattern", verdict.Pattern, "message_len", len(req.Message))
			default: // warn
				slog.Warn("security.injection_detected",
					"agent", l.id, "pattern", verdict.Pattern, "message_len", len(req.Message))
			}
		}
	}

	ctx = tools.WithToolAgentKey(ctx, l.id)
	ctx = tools.WithToolChannel(ctx, req.Channel)
	ctx = tools.WithToolChatID(ctx, req.ChatID)
	ctx = tools.WithToolPeerKind(ctx, req.PeerKind)

	// Security: truncate oversized user messages gracefully (feed truncation notice into LLM).
	maxChars := l.maxMessageChars
	if maxChars <= 0 {
		maxChars = 32_000 // default ~8-10K tokens
	}
	if len(req.Message) > maxChars {
		originalLen := len(req.Message)
		req.Message = req.Message[:maxChars] +
			fmt.Sprintf("\n\n[System: Message was truncated from %d to %d characters due to size limit. "+
				"Please ask the user to send shorter messages or use the read_file tool for large content.]",
				originalLen, maxChars)
		slog.Warn("security.message_truncated",
			"agent", l.id, "original_len", originalLen, "truncated_to", maxChars)
	}

	// Cache agent's context window on the session (first run only).
	if l.sessions.GetContextWindow(req.SessionKey) <= 0 {
		l.sessions.SetContextWindow(req.SessionKey, l.contextWindow)
	}

	// 1. Build messages from session history.
	history := l.sessions.GetHistory(req.SessionKey)
	summary := l.sessions.GetSummary(req.SessionKey)

	messages, hadBootstrap := l.buildMessages(ctx, history, summary, req.Message, req.ExtraSystemPrompt, req.SessionKey, req.Channel, req.HistoryLimit)

	// 2. Attach vision images to the current user message (last in messages slice).
	// Images are only attached to the live request, NOT persisted in session history.
	if len(req.Media) > 0 {
		if images := loadImages(req.Media); len(images) > 0 {
			messages[len(messages)-1].Images = images
			ctx = tools.WithMediaImages(ctx, images) // make images available to read_image tool
			slog.Info("vision: attached images to user message", "count", len(images), "agent", l.id, "session", req.SessionKey)
		}
		for _, p := range req.Media {
			if err := os.Remove(p); err != nil {
				slog.Debug("vision: failed to clean temp media file", "path", p, "error", err)
			}
		}
	}

	// 3. Buffer new messages — write to session only AFTER the run completes.
	// This prevents concurrent runs from seeing each other's in-progress messages.
	var pendingMsgs []providers.Message
	pendingMsgs = append(pendingMsgs, providers.Message{Role: "user", Content: req.Message})

	var totalUsage providers.Usage
	iteration := 0
	var finalContent string
	var asyncToolCalls []string
	var mediaResults []MediaResult

	chatReqBase := providers.ChatRequest{Model: l.model}
	chatReqBase = providers.WithRetryHook(chatReqBase, func(attempt int, err error) {
		l.emit(AgentEvent{
			Type:    protocol.AgentEventRunRetrying,
			AgentID: l.id,
			RunID:   req.RunID,
			Payload: map[string]string{"attempt": fmt.Sprintf("%d", attempt), "error": err.Error()},
		})
	})

	for iteration < l.maxIterations {
		iteration++

		slog.Debug("agent iteration", "agent", l.id, "iteration", iteration, "messages", len(messages))

		var toolDefs []providers.ToolDefinition
		if l.toolPolicy != nil {
			toolDefs = l.toolPolicy.FilterTools(l.tools, l.id, l.provider.Name(), nil, nil)
		} else {
			toolDefs = l.tools.ProviderDefs(l.tools.List())
		}

		chatReq := chatReqBase
		chatReq.Messages = messages
		chatReq.Tools = toolDefs
		chatReq.Options = map[string]interface{}{
			providers.OptMaxTokens:   8192,
			providers.OptTemperature: 0.7,
		}
		if l.thinkingLevel != "" && l.thinkingLevel != "off" {
			if tc, ok := l.provider.(providers.ThinkingCapable); ok && tc.SupportsThinking() {
				chatReq.Options[providers.OptThinkingLevel] = l.thinkingLevel
			} else {
				slog.Debug("thinking_level ignored: provider does not support thinking",
					"provider", l.provider.Name(), "level", l.thinkingLevel)
			}
		}

		llmCtx, finishLLMSpan := l.startEngineSpan(ctx, iteration)

		var resp *providers.ChatResponse
		var err error
		if req.Stream {
			resp, err = l.provider.ChatStream(llmCtx, chatReq, func(chunk providers.StreamChunk) {
				if chunk.Thinking != "" {
					l.emit(AgentEvent{Type: protocol.ChatEventThinking, AgentID: l.id, RunID: req.RunID, Payload: map[string]string{"content": chunk.Thinking}})
				}
				if chunk.Content != "" {
					l.emit(AgentEvent{Type: protocol.ChatEventChunk, AgentID: l.id, RunID: req.RunID, Payload: map[string]string{"content": chunk.Content}})
				}
			})
		} else {
			resp, err = l.provider.Chat(llmCtx, chatReq)
		}
		finishLLMSpan(resp, err)

		if err != nil {
			return nil, fmt.Errorf("LLM call failed (iteration %d): %w", iteration, err)
		}

		if resp.Usage != nil {
			totalUsage.PromptTokens += resp.Usage.PromptTokens
			totalUsage.CompletionTokens += resp.Usage.CompletionTokens
			totalUsage.TotalTokens += resp.Usage.TotalTokens
			totalUsage.ThinkingTokens += resp.Usage.ThinkingTokens
		}

		// No tool calls → done.
		if len(resp.ToolCalls) == 0 {
			finalContent = resp.Content
			break
		}

		assistantMsg := providers.Message{
			Role:                "assistant",
			Content:             resp.Content,
			ToolCalls:           resp.ToolCalls,
			RawAssistantContent: resp.RawAssistantContent,
		}
		messages = append(messages, assistantMsg)
		pendingMsgs = append(pendingMsgs, assistantMsg)

		var loopStuck bool
		if len(resp.ToolCalls) == 1 {
			tc := resp.ToolCalls[0]
			toolMsg, mr, async, stuck := l.runToolCall(ctx, req, tc)
			messages = append(messages, toolMsg)
			pendingMsgs = append(pendingMsgs, toolMsg)
			if mr != nil {
				mediaResults = append(mediaResults, *mr)
			}
			if async {
				asyncToolCalls = append(asyncToolCalls, tc.Name)
			}
			if stuck {
				finalContent = stuckMessage(tc.Name)
				loopStuck = true
			}
		} else {
			msgs, mrs, asyncNames, stuck := l.runToolCallsParallel(ctx, req, resp.ToolCalls)
			messages = append(messages, msgs...)
			pendingMsgs = append(pendingMsgs, msgs...)
			mediaResults = append(mediaResults, mrs...)
			asyncToolCalls = append(asyncToolCalls, asyncNames...)
			if stuck != "" {
				finalContent = stuckMessage(stuck)
				loopStuck = true
			}
		}
		if loopStuck {
			break
		}
	}

	// Full sanitization pipeline.
	finalContent = SanitizeAssistantContent(finalContent)
	isSilent := IsSilentReply(finalContent)

	if finalContent == "" {
		finalContent = "..."
	}

	pendingMsgs = append(pendingMsgs, providers.Message{Role: "assistant", Content: finalContent})

	for _, msg := range pendingMsgs {
		l.sessions.AddMessage(req.SessionKey, msg)
	}

	l.sessions.UpdateMetadata(req.SessionKey, l.model, l.provider.Name(), req.Channel)
	l.sessions.AccumulateTokens(req.SessionKey, int64(totalUsage.PromptTokens), int64(totalUsage.CompletionTokens))

	if totalUsage.PromptTokens > 0 {
		msgCount := len(history) + len(pendingMsgs)
		l.sessions.SetLastPromptTokens(req.SessionKey, totalUsage.PromptTokens, msgCount)
	}

	l.sessions.Save(req.SessionKey)

	if hadBootstrap {
		userTurns := 1
		for _, m := range history {
			if m.Role == "user" {
				userTurns++
			}
		}
		if userTurns >= bootstrapAutoCleanupTurns {
			if err := os.Remove(filepath.Join(l.workspace, bootstrapFileName)); err != nil && !os.IsNotExist(err) {
				slog.Warn("bootstrap auto-cleanup failed", "error", err, "agent", l.id)
			} else {
				slog.Info("bootstrap auto-cleanup completed", "agent", l.id, "turns", userTurns)
			}
		}
	}

	if isSilent {
		slog.Info("agent loop: NO_REPLY detected, suppressing delivery", "agent", l.id, "session", req.SessionKey)
		finalContent = ""
	}

	l.ctxGuard.MaybeCompact(req.SessionKey)
	if asyncToolCalls != nil {
		// Surfaced to caller via RunResult only via media/content; async
		// completions are delivered later through tools.AsyncCallback.
		slog.Debug("agent run had async tool calls", "agent", l.id, "count", len(asyncToolCalls))
	}

	return &RunResult{
		Content:    finalContent,
		RunID:      req.RunID,
		Iterations: iteration,
		Usage:      &totalUsage,
		Media:      mediaResults,
	}, nil
}

func stuckMessage(toolName string) string {
	return "I was unable to complete this task — I got stuck repeatedly calling " + toolName + " without making progress. Please try rephrasing your request."
}

// runToolCall executes the pipeline (policy filter → loop detection →
// approval → execute → feedback) for a single tool call and returns
// the resulting tool message.
func (l *Loop) runToolCall(ctx context.Context, req RunRequest, tc providers.ToolCall) (toolMsg providers.Message, media *MediaResult, async bool, stuck bool) {
	l.emit(AgentEvent{Type: protocol.AgentEventToolCall, AgentID: l.id, RunID: req.RunID, Payload: map[string]interface{}{"name": tc.Name, "id": tc.ID}})

	argsJSON, _ := json.Marshal(tc.Arguments)
	slog.Info("tool call", "agent", l.id, "tool", tc.Name, "args_len", len(argsJSON))

	result := l.executeToolPipeline(ctx, req, tc, argsJSON)

	if result.Async {
		async = true
	}
	if result.IsError {
		errMsg := result.ForLLM
		if len(errMsg) > 200 {
			errMsg = errMsg[:200] + "..."
		}
		slog.Warn("tool error", "agent", l.id, "tool", tc.Name, "error", errMsg)
	}

	l.emit(AgentEvent{Type: protocol.AgentEventToolResult, AgentID: l.id, RunID: req.RunID, Payload: map[string]interface{}{"name": tc.Name, "id": tc.ID, "is_error": result.IsError}})

	if mr := parseMediaResult(result.ForLLM); mr != nil {
		media = mr
	}

	toolMsg = providers.Message{Role: "tool", Content: result.ForLLM, ToolCallID: tc.ID}

	argsHash := tools.Hash(argsJSON)
	verdict := l.loopGuard.Record(req.SessionKey, tc.Name, argsHash, tools.Hash([]byte(result.ForLLM)))
	if verdict == tools.VerdictAbort {
		slog.Warn("tool loop critical", "agent", l.id, "tool", tc.Name)
		stuck = true
	} else if verdict == tools.VerdictWarn {
		slog.Warn("tool loop warning", "agent", l.id, "tool", tc.Name)
	}

	return toolMsg, media, async, stuck
}

// runToolCallsParallel executes multiple tool calls concurrently, then
// processes their results sequentially for deterministic message ordering.
func (l *Loop) runToolCallsParallel(ctx context.Context, req RunRequest, calls []providers.ToolCall) (msgs []providers.Message, mediaResults []MediaResult, asyncNames []string, stuckTool string) {
	type indexedResult struct {
		idx      int
		tc       providers.ToolCall
		result   *tools.Result
		argsJSON []byte
	}

	for _, tc := range calls {
		l.emit(AgentEvent{Type: protocol.AgentEventToolCall, AgentID: l.id, RunID: req.RunID, Payload: map[string]interface{}{"name": tc.Name, "id": tc.ID}})
	}

	resultCh := make(chan indexedResult, len(calls))
	var wg sync.WaitGroup
	for i, tc := range calls {
		wg.Add(1)
		go func(idx int, tc providers.ToolCall) {
			defer wg.Done()
			argsJSON, _ := json.Marshal(tc.Arguments)
			slog.Info("tool call", "agent", l.id, "tool", tc.Name, "args_len", len(argsJSON), "parallel", true)
			result := l.executeToolPipeline(ctx, req, tc, argsJSON)
			resultCh <- indexedResult{idx: idx, tc: tc, result: result, argsJSON: argsJSON}
		}(i, tc)
	}
	go func() { wg.Wait(); close(resultCh) }()

	collected := make([]indexedResult, 0, len(calls))
	for r := range resultCh {
		collected = append(collected, r)
	}
	sort.Slice(collected, func(i, j int) bool { return collected[i].idx < collected[j].idx })

	for _, r := range collected {
		if r.result.Async {
			asyncNames = append(asyncNames, r.tc.Name)
		}
		if r.result.IsError {
			errMsg := r.result.ForLLM
			if len(errMsg) > 200 {
				errMsg = errMsg[:200] + "..."
			}
			slog.Warn("tool error", "agent", l.id, "tool", r.tc.Name, "error", errMsg)
		}
		l.emit(AgentEvent{Type: protocol.AgentEventToolResult, AgentID: l.id, RunID: req.RunID, Payload: map[string]interface{}{"name": r.tc.Name, "id": r.tc.ID, "is_error": r.result.IsError}})

		if mr := parseMediaResult(r.result.ForLLM); mr != nil {
			mediaResults = append(mediaResults, *mr)
		}

		msgs = append(msgs, providers.Message{Role: "tool", Content: r.result.ForLLM, ToolCallID: r.tc.ID})

		argsHash := tools.Hash(r.argsJSON)
		verdict := l.loopGuard.Record(req.SessionKey, r.tc.Name, argsHash, tools.Hash([]byte(r.result.ForLLM)))
		if verdict == tools.VerdictAbort && stuckTool == "" {
			slog.Warn("tool loop critical", "agent", l.id, "tool", r.tc.Name)
			stuckTool = r.tc.Name
		} else if verdict == tools.VerdictWarn {
			slog.Warn("tool loop warning", "agent", l.id, "tool", r.tc.Name)
		}
	}

	return msgs, mediaResults, asyncNames, stuckTool
}

// executeToolPipeline runs the Tool Execution Loop's per-call pipeline:
// owner-only policy filter, pre-execution loop check, the Approval
// Gate for destructive/intrusive tools, then execution. Every branch
// returns a *tools.Result so the caller always has a tool-result to
// feed back to the engine.
func (l *Loop) executeToolPipeline(ctx context.Context, req RunRequest, tc providers.ToolCall, argsJSON []byte) *tools.Result {
	// 1. Policy filter: owner-only tools refuse any non-owner sender.
	if refusal := l.tools.EvaluateOwnerPolicy(tc.Name, req.SenderRole); refusal != nil {
		return refusal
	}

	// 2. Loop detection (pre-execution check on argsHash alone).
	argsHash := tools.Hash(argsJSON)
	if l.loopGuard.Check(req.SessionKey, tc.Name, argsHash) == tools.VerdictAbort {
		return tools.ErrorResult("tool call loop detected: repeated identical call to " + tc.Name)
	}

	toolCtx, finishToolSpan := l.startToolSpan(ctx, tc.Name)

	// 3. Approval Gate for destructive/intrusive tools.
	// GodMode waives approval for destructive tools only; intrusive tools always ask.
	t, ok := l.tools.Get(tc.Name)
	needsApproval := ok && (t.Destructive() || t.Intrusive())
	if needsApproval && req.GodMode && !t.Intrusive() {
		needsApproval = false
	}
	if needsApproval && l.approvals != nil {
		if l.approvals.IsAlwaysAllowed(req.ClientID, tc.Name) {
			// owner previously approved this tool permanently; skip straight to execution.
		} else {
			reason := "destructive"
			if t.Intrusive() && !t.Destructive() {
				reason = "intrusive"
			}
			rec, decision := l.approvals.Await(tc.Name, t.Description(), reason, string(argsJSON), req.ClientID, defaultApprovalTimeout, "")
			if err := tools.DecisionError(decision); err != nil {
				finishToolSpan(nil)
				return tools.ErrorResult("user denied: " + err.Error())
			}
			if decision == tools.DecisionAllowOnce && !l.approvals.ConsumeAllowOnce(rec.ID) {
				finishToolSpan(nil)
				return tools.ErrorResult("user denied: approval already consumed")
			}
		}
	}

	// 4. Execute.
	result := l.tools.ExecuteWithContext(toolCtx, tc.Name, json.RawMessage(argsJSON))
	finishToolSpan(result)

	// 5. Feed back — handled by the caller, which appends the tool
	// message built from this Result to the conversation.
	return result
}
