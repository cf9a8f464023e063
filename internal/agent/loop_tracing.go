package agent

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/tools"
	"github.com/nextlevelbuilder/agentcore/internal/tracing"
)

func (l *Loop) emit(event AgentEvent) {
	if l.onEvent != nil {
		l.onEvent(event)
	}
}

// ID returns the agent's identifier.
func (l *Loop) ID() string { return l.id }

// Model returns the model identifier for this agent loop.
func (l *Loop) Model() string { return l.model }

// IsRunning returns whether the agent is currently processing.
func (l *Loop) IsRunning() bool { return l.activeRuns.Load() > 0 }

// CompactNow forces an immediate, synchronous hard-truncation of
// sessionKey's history rather than waiting for MaybeCompact's
// threshold check. Used by the Cognitive Router's failure model: a
// context-overflow error gets exactly one retry, and that retry must
// not hit the same overflow again before the background summarizer
// would have gotten around to it.
func (l *Loop) CompactNow(sessionKey string) {
	history := l.sessions.GetHistory(sessionKey)
	if len(history) <= 4 {
		return
	}
	l.sessions.TruncateHistory(sessionKey, 4)
	l.sessions.IncrementCompaction(sessionKey)
	l.sessions.Save(sessionKey)
}

// startEngineSpan opens a span for one engine call iteration. finish
// must be called exactly once with the call's outcome.
func (l *Loop) startEngineSpan(ctx context.Context, iteration int) (context.Context, func(resp *providers.ChatResponse, err error)) {
	collector := tracing.CollectorFromContext(ctx)
	spanCtx, span := collector.StartEngineSpan(ctx, l.provider.Name(), l.model)
	span.SetAttributes(attribute.Int("engine.iteration", iteration))

	return spanCtx, func(resp *providers.ChatResponse, err error) {
		if resp != nil {
			span.SetAttributes(attribute.String("engine.finish_reason", resp.FinishReason))
			if resp.Usage != nil {
				span.SetAttributes(
					attribute.Int("engine.prompt_tokens", resp.Usage.PromptTokens),
					attribute.Int("engine.completion_tokens", resp.Usage.CompletionTokens),
				)
			}
		}
		tracing.EndWithError(span, err)
	}
}

// startToolSpan opens a span for one tool execution.
func (l *Loop) startToolSpan(ctx context.Context, toolName string) (context.Context, func(result *tools.Result)) {
	collector := tracing.CollectorFromContext(ctx)
	spanCtx, span := collector.StartToolSpan(ctx, toolName)

	return spanCtx, func(result *tools.Result) {
		span.SetAttributes(attribute.Bool("tool.is_error", result != nil && result.IsError))
		var err error
		if result != nil && result.IsError {
			err = result.Err
		}
		tracing.EndWithError(span, err)
	}
}

// startAgentSpan opens the root span for one run.
func (l *Loop) startAgentSpan(ctx context.Context, sessionKey string) (context.Context, trace.Span) {
	collector := tracing.CollectorFromContext(ctx)
	if collector == nil && l.traceCollector != nil {
		ctx = tracing.ContextWithCollector(ctx, l.traceCollector)
		collector = l.traceCollector
	}
	return collector.StartAgentSpan(ctx, l.id, sessionKey)
}

func truncateStr(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	for maxLen > 0 && !isRuneStart(s, maxLen) {
		maxLen--
	}
	return s[:maxLen] + "..."
}

func isRuneStart(s string, i int) bool {
	if i >= len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}
