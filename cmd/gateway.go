package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/agent"
	"github.com/nextlevelbuilder/agentcore/internal/bootstrap"
	"github.com/nextlevelbuilder/agentcore/internal/bus"
	"github.com/nextlevelbuilder/agentcore/internal/channels"
	"github.com/nextlevelbuilder/agentcore/internal/channels/telegram"
	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/gateway"
	"github.com/nextlevelbuilder/agentcore/internal/heartbeat"
	"github.com/nextlevelbuilder/agentcore/internal/mcp"
	"github.com/nextlevelbuilder/agentcore/internal/memory"
	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/router"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
	"github.com/nextlevelbuilder/agentcore/internal/tools"
	"github.com/nextlevelbuilder/agentcore/internal/vault"
	"github.com/nextlevelbuilder/agentcore/pkg/protocol"
)

// runGateway loads config, wires the daemon's subsystems together, and
// blocks serving the gateway until it receives SIGINT/SIGTERM.
func runGateway() {
	setupLogging()

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		slog.Error("config load failed", "error", err)
		os.Exit(1)
	}

	workspace := config.ExpandHome(cfg.Agents.Defaults.Workspace)
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		slog.Error("workspace create failed", "path", workspace, "error", err)
		os.Exit(1)
	}
	if _, err := bootstrap.EnsureWorkspaceFiles(workspace); err != nil {
		slog.Warn("bootstrap seed failed", "error", err)
	}
	contextFiles := bootstrap.LoadContextFiles(workspace)

	v, err := vault.Open(filepath.Join(workspace, ".vault"))
	if err != nil {
		slog.Warn("vault open failed, provider keys come from config/env only", "error", err)
		v = nil
	}

	providerRegistry := buildProviderRegistry(cfg, v)

	msgBus := bus.New(256)
	sessMgr := sessions.NewManager(config.ExpandHome(cfg.Sessions.Storage))

	coreMem, archivalStore, autoRAG := buildMemory(cfg, workspace, providerRegistry)

	toolRegistry := buildToolRegistry(cfg, workspace, providerRegistry, archivalStore)
	policyEngine := tools.NewPolicyEngine(&cfg.Tools)
	approvals := tools.NewManager()
	loopGuard := tools.NewLoopDetector()

	tiers := buildTiers(cfg, providerRegistry, toolRegistry, policyEngine, approvals, loopGuard, msgBus, sessMgr, contextFiles, workspace, coreMem, archivalStore, autoRAG)

	// gw and dispatcher each need a reference to the other (the gateway
	// needs dispatcher.Dispatch to serve chat.send; the dispatcher needs
	// gw.BroadcastEvent to report heavy-task completion). Declare gw
	// first and let the broadcast closure capture it by reference so the
	// dispatcher can be built before gw is.
	var gw *gateway.Server
	dispatcher := router.New(cfg, tiers, sessMgr, 32, func(name string, payload interface{}) {
		gw.BroadcastEvent(protocol.NewEvent(name, payload))
	})
	gw = gateway.NewServer(cfg, msgBus, sessMgr, toolRegistry, approvals, dispatcher.Dispatch)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if archivalStore != nil {
		defer archivalStore.Close()
	}

	mcpManager := mcp.NewManager(toolRegistry, mcp.WithConfigs(cfg.Tools.McpServers))
	go func() {
		if err := mcpManager.Start(ctx); err != nil {
			slog.Warn("mcp server connect", "error", err)
		}
	}()
	defer mcpManager.Stop()

	chanManager := channels.NewManager(msgBus)
	ownerGates := wireChannels(cfg, msgBus, chanManager)

	hbMachine := heartbeat.New(cfg.Gateway.Port, heartbeat.Gauges{
		PendingTasks:     dispatcher.PendingHeavyTasks,
		ConnectedClients: msgBus.SubscriberCount,
	})

	go bridgeInbound(ctx, msgBus, dispatcher, ownerGates)
	go chanManager.StartAll(ctx)
	go hbMachine.Run(ctx, func(snap heartbeat.Snapshot) {
		gw.BroadcastEvent(protocol.NewEvent(protocol.EventHeartbeat, snap))
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("shutdown signal received")
		cancel()
	}()

	if err := gw.Start(ctx); err != nil {
		slog.Error("gateway stopped", "error", err)
		os.Exit(1)
	}
}

// bridgeInbound drains channel-originated messages off the bus and runs
// them through the Cognitive Router, publishing the reply as an
// outbound message back to the originating channel. The gateway's own
// WebSocket clients bypass this bridge entirely — chat.send calls
// dispatcher.Dispatch directly.
//
// Every message that reaches this bridge is dispatched with the owner
// role, so before that happens each message is re-checked against the
// Owner-Firewall gate for its channel (ownerGates), not just the
// transport's own allowlist — a channel misconfigured with several
// allowed senders must not let a non-owner sender act with owner
// privileges.
func bridgeInbound(ctx context.Context, msgBus *bus.MessageBus, dispatcher *router.Dispatcher, ownerGates map[string]*channels.OwnerChannel) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		if gate, ok := ownerGates[msg.Channel]; ok && !gate.IsOwner(msg.SenderID) {
			slog.Warn("dropping inbound message from non-owner sender", "channel", msg.Channel, "sender_id", msg.SenderID)
			continue
		}
		go func(msg bus.InboundMessage) {
			sessionKey := msg.SessionKey
			if sessionKey == "" {
				sessionKey = sessions.BuildSessionKey("default", msg.Channel, sessions.PeerKind(msg.PeerKind), msg.ChatID)
			}
			res, err := dispatcher.Dispatch(ctx, gateway.DispatchRequest{
				SessionKey:   sessionKey,
				Message:      msg.Content,
				Media:        msg.Media,
				Channel:      msg.Channel,
				ChatID:       msg.ChatID,
				PeerKind:     msg.PeerKind,
				RunID:        sessionKey + ":" + time.Now().UTC().Format(time.RFC3339Nano),
				ClientID:     "channel:" + msg.Channel,
				SenderRole:   tools.RoleOwner,
				HistoryLimit: msg.HistoryLimit,
			})
			if err != nil {
				slog.Error("bridged dispatch failed", "channel", msg.Channel, "error", err)
				return
			}
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: res.Content,
			})
		}(msg)
	}
}

func buildProviderRegistry(cfg *config.Config, v *vault.Vault) *providers.Registry {
	reg := providers.NewRegistry()

	resolve := func(name, configured string) string {
		if configured != "" {
			return configured
		}
		if v != nil {
			if key, err := v.Get(name); err == nil {
				return key
			}
		}
		return ""
	}

	if key := resolve("anthropic", cfg.Providers.Anthropic.APIKey); key != "" {
		reg.Add("anthropic", providers.NewAnthropicProvider(key))
	}
	if key := resolve("openai", cfg.Providers.OpenAI.APIKey); key != "" {
		reg.Add("openai", providers.NewOpenAIProvider("openai", key, cfg.Providers.OpenAI.APIBase, "gpt-4o"))
	}
	if key := resolve("deepseek", cfg.Providers.DeepSeek.APIKey); key != "" {
		reg.Add("deepseek", providers.NewDashScopeProvider(key, cfg.Providers.DeepSeek.APIBase, "deepseek-chat"))
	}
	if key := resolve("openrouter", cfg.Providers.OpenRouter.APIKey); key != "" {
		reg.Add("openrouter", providers.NewOpenAIProvider("openrouter", key, cfg.Providers.OpenRouter.APIBase, "anthropic/claude-sonnet-4.5"))
	}

	if cfg.Engines.Live.Provider != "" {
		reg.SetDefault(cfg.Engines.Live.Provider)
	}
	return reg
}

func buildToolRegistry(cfg *config.Config, workspace string, providerRegistry *providers.Registry, archivalStore *memory.Store) *tools.Registry {
	reg := tools.NewRegistry()
	restrict := cfg.Agents.Defaults.RestrictToWorkspace

	reg.Register(tools.NewExecTool(workspace, restrict))
	reg.Register(tools.NewReadFileTool(workspace, restrict))
	reg.Register(tools.NewWebFetchTool(tools.WebFetchConfig{CacheTTL: 10 * time.Minute}))
	reg.Register(tools.NewWebSearchTool(tools.WebSearchConfig{
		BraveAPIKey:     cfg.Tools.Web.Brave.APIKey,
		BraveEnabled:    cfg.Tools.Web.Brave.Enabled,
		BraveMaxResults: cfg.Tools.Web.Brave.MaxResults,
		DDGEnabled:      cfg.Tools.Web.DuckDuckGo.Enabled,
		DDGMaxResults:   cfg.Tools.Web.DuckDuckGo.MaxResults,
		CacheTTL:        10 * time.Minute,
	}))
	reg.Register(tools.NewCreateImageTool(providerRegistry))
	reg.Register(tools.NewReadImageTool(providerRegistry))
	reg.Register(tools.NewForgeTool(tools.NewHostForgeRunner(workspace)))
	reg.Register(tools.NewBrowserTool())

	if archivalStore != nil {
		embedder := resolveEmbedder(cfg, providerRegistry)
		reg.Register(tools.NewMemorySearchTool(archivalStore, embedder))
		reg.Register(tools.NewMemoryGetTool(archivalStore))
	}

	return reg
}

// buildMemory constructs the Three-Tier Memory backends from
// cfg.Agents.Defaults.Memory, returning nil for each tier that is
// disabled or whose prerequisites (a usable embedder) aren't met.
// Core memory has no embedder dependency and is built whenever memory
// is enabled at all; Archival/Auto-RAG additionally need an embedder.
func buildMemory(cfg *config.Config, workspace string, providerRegistry *providers.Registry) (*memory.Core, *memory.Store, *memory.AutoRAG) {
	memCfg := cfg.Agents.Defaults.Memory
	enabled := memCfg == nil || memCfg.Enabled == nil || *memCfg.Enabled
	if !enabled {
		return nil, nil, nil
	}

	memDir := filepath.Join(workspace, ".memory")
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		slog.Warn("memory dir create failed", "path", memDir, "error", err)
		return nil, nil, nil
	}

	core, err := memory.OpenCore(filepath.Join(memDir, "core.md"))
	if err != nil {
		slog.Warn("core memory open failed", "error", err)
		core = nil
	}

	embedder := resolveEmbedder(cfg, providerRegistry)
	if embedder == nil {
		slog.Warn("no embedding-capable provider configured, archival memory and auto-rag are disabled")
		return core, nil, nil
	}

	store, err := memory.OpenStore(filepath.Join(memDir, "archival.db"), embedder)
	if err != nil {
		slog.Warn("archival memory open failed", "error", err)
		return core, nil, nil
	}

	topK := 3
	if memCfg != nil && memCfg.MaxResults > 0 {
		topK = memCfg.MaxResults
	}
	return core, store, memory.NewAutoRAG(store, embedder, topK)
}

// resolveEmbedder picks the configured embedding provider, falling
// back to "openai" (the only provider with an Embed implementation
// in this tree; DashScopeProvider inherits it by embedding
// *OpenAIProvider). Returns nil if neither is registered.
func resolveEmbedder(cfg *config.Config, providerRegistry *providers.Registry) memory.Embedder {
	name := "openai"
	if cfg.Agents.Defaults.Memory != nil && cfg.Agents.Defaults.Memory.EmbeddingProvider != "" {
		name = cfg.Agents.Defaults.Memory.EmbeddingProvider
	}
	if p, ok := providerRegistry.Get(name); ok {
		if embedder, ok := p.(memory.Embedder); ok {
			return embedder
		}
	}
	if name != "openai" {
		if p, ok := providerRegistry.Get("openai"); ok {
			if embedder, ok := p.(memory.Embedder); ok {
				return embedder
			}
		}
	}
	return nil
}

// onCompactFlush builds the Context Window Guard's compaction hook:
// dropped messages are folded into a short note appended to core
// memory, and archived verbatim in the "conversation_history" category
// so a later memory_search can still surface them.
func onCompactFlush(core *memory.Core, store *memory.Store) func(sessionKey string, dropped []providers.Message) {
	return func(sessionKey string, dropped []providers.Message) {
		if len(dropped) == 0 {
			return
		}
		var b strings.Builder
		for _, m := range dropped {
			fmt.Fprintf(&b, "[%s] %s\n", m.Role, m.Content)
		}
		text := b.String()

		if store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := store.Memorize(ctx, "conversation_history", text); err != nil {
				slog.Warn("compaction archive failed", "session", sessionKey, "error", err)
			}
		}
		if core != nil {
			note := fmt.Sprintf("Compacted %d older messages from session %s into archival memory.", len(dropped), sessionKey)
			if needsCompression, err := core.Append(note); err != nil {
				slog.Warn("core memory append failed", "error", err)
			} else if needsCompression {
				slog.Info("core memory over limit, consider a distill_memory task", "session", sessionKey)
			}
		}
	}
}

// buildTiers constructs up to three agent.Loop instances — one per
// Cognitive Router tier — sharing every cross-cutting dependency
// (tool registry, approval gate, loop detector, session store).
// A tier with Enabled=false or an unresolvable provider is left nil;
// Dispatcher.selectTier already falls back to Live when a chosen tier
// turns out disabled.
func buildTiers(cfg *config.Config, providerRegistry *providers.Registry, toolRegistry *tools.Registry, policyEngine *tools.PolicyEngine, approvals *tools.Manager, loopGuard *tools.LoopDetector, msgBus *bus.MessageBus, sessMgr *sessions.Manager, contextFiles []bootstrap.ContextFile, workspace string, coreMem *memory.Core, archivalStore *memory.Store, autoRAG *memory.AutoRAG) router.Tiers {
	onCompact := onCompactFlush(coreMem, archivalStore)

	build := func(spec config.EngineSpec) *agent.Loop {
		if !spec.Enabled {
			return nil
		}
		p, ok := providerRegistry.Get(spec.Provider)
		if !ok {
			slog.Warn("engine tier provider not configured", "provider", spec.Provider)
			return nil
		}
		return agent.NewLoop(agent.LoopConfig{
			ID:                     spec.Provider + ":" + spec.Model,
			Provider:                p,
			Model:                   spec.Model,
			ContextWindow:           cfg.Agents.Defaults.ContextWindow,
			MaxIterations:           cfg.Agents.Defaults.MaxToolIterations,
			Workspace:               workspace,
			Bus:                     msgBus,
			Sessions:                sessMgr,
			Tools:                   toolRegistry,
			ToolPolicy:              policyEngine,
			Approvals:               approvals,
			LoopGuard:               loopGuard,
			OwnerIDs:                cfg.Gateway.OwnerIDs,
			HasMemory:               cfg.Agents.Defaults.Memory == nil || cfg.Agents.Defaults.Memory.Enabled == nil || *cfg.Agents.Defaults.Memory.Enabled,
			ContextFiles:            contextFiles,
			Core:                    coreMem,
			AutoRAG:                 autoRAG,
			CompactionCfg:           cfg.Agents.Defaults.Compaction,
			ContextPruningCfg:       cfg.Agents.Defaults.ContextPruning,
			OnCompact:               onCompact,
			SandboxEnabled:          sandboxEnabled(cfg.Agents.Defaults.Sandbox),
			SandboxWorkspaceAccess:  sandboxWorkspaceAccess(cfg.Agents.Defaults.Sandbox),
			InjectionAction:         cfg.Gateway.InjectionAction,
			MaxMessageChars:         cfg.Gateway.MaxMessageChars,
		})
	}

	return router.Tiers{
		Live:   build(cfg.Engines.Live),
		Worker: build(cfg.Engines.Worker),
		Cloud:  build(cfg.Engines.Cloud),
	}
}

func sandboxEnabled(cfg *config.SandboxConfig) bool {
	return cfg != nil && cfg.Mode != "" && cfg.Mode != "off"
}

func sandboxWorkspaceAccess(cfg *config.SandboxConfig) string {
	if cfg == nil || cfg.WorkspaceAccess == "" {
		return "rw"
	}
	return cfg.WorkspaceAccess
}

// wireChannels builds and registers every enabled channel transport and
// returns the Owner-Firewall wrapper for each, keyed by channel name, so
// bridgeInbound can re-check sender identity against the single
// configured owner before a message is ever dispatched to the router.
func wireChannels(cfg *config.Config, msgBus *bus.MessageBus, mgr *channels.Manager) map[string]*channels.OwnerChannel {
	gates := make(map[string]*channels.OwnerChannel)

	if cfg.Channels.Telegram.Enabled {
		ch, err := telegram.New(cfg.Channels.Telegram, msgBus)
		if err != nil {
			slog.Error("telegram channel init failed", "error", err)
			return gates
		}
		if len(cfg.Channels.Telegram.AllowFrom) != 1 {
			slog.Warn("owner-firewall channel configured with allow_from != 1 entries; only the first entry is trusted as the owner identity",
				"channel", "telegram", "allow_from_count", len(cfg.Channels.Telegram.AllowFrom))
		}
		ownerID := ""
		if len(cfg.Channels.Telegram.AllowFrom) > 0 {
			ownerID = cfg.Channels.Telegram.AllowFrom[0]
		}
		owner := channels.NewOwnerChannel(ch, ownerID, ownerID)
		mgr.RegisterChannel("telegram", owner)
		gates["telegram"] = owner
	}

	return gates
}

func setupLogging() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}
