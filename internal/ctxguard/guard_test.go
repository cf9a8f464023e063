package ctxguard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/sessions"
)

func TestEstimateTokens_RoughCharBasedEstimate(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: strings.Repeat("a", 100)},
		{Role: "assistant", Content: strings.Repeat("b", 100)},
	}
	got := EstimateTokens(msgs, 0, 0)
	want := (100+4+100+4)/4 + 2*4
	if got != want {
		t.Fatalf("expected %d, got %d", want, got)
	}
}

func TestEstimateTokens_BlendsWithLastPromptTokens(t *testing.T) {
	msgs := []providers.Message{{Role: "user", Content: "hi"}}
	rough := EstimateTokens(msgs, 0, 0)
	blended := EstimateTokens(msgs, 1000, 50)
	if blended == rough {
		t.Fatal("expected a known lastPromptTokens to change the estimate")
	}
	if blended != (rough+1000)/2 {
		t.Fatalf("expected the blended estimate to average with lastPromptTokens, got %d", blended)
	}
}

func TestLimitHistoryTurns_NoLimitReturnsUnchanged(t *testing.T) {
	msgs := []providers.Message{{Role: "user", Content: "a"}, {Role: "user", Content: "b"}}
	got := LimitHistoryTurns(msgs, 0)
	if len(got) != len(msgs) {
		t.Fatalf("expected limit<=0 to be a no-op, got %d messages", len(got))
	}
}

func TestLimitHistoryTurns_KeepsLastNUserTurns(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: "turn1"},
		{Role: "assistant", Content: "reply1"},
		{Role: "user", Content: "turn2"},
		{Role: "assistant", Content: "reply2"},
		{Role: "user", Content: "turn3"},
		{Role: "assistant", Content: "reply3"},
	}
	got := LimitHistoryTurns(msgs, 2)

	if len(got) != 4 {
		t.Fatalf("expected the last 2 user turns (4 messages), got %d: %+v", len(got), got)
	}
	if got[0].Content != "turn2" {
		t.Fatalf("expected the window to start at turn2, got %+v", got[0])
	}
}

func TestLimitHistoryTurns_FewerTurnsThanLimitIsUnchanged(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: "only turn"},
		{Role: "assistant", Content: "reply"},
	}
	got := LimitHistoryTurns(msgs, 10)
	if len(got) != 2 {
		t.Fatalf("expected history shorter than the limit to pass through unchanged, got %d", len(got))
	}
}

func TestPruneContextMessages_OffModeIsNoOp(t *testing.T) {
	msgs := []providers.Message{{Role: "tool", Content: strings.Repeat("x", 100000)}}
	got := PruneContextMessages(msgs, 1000, &config.ContextPruningConfig{Mode: "off"})
	if got[0].Content != msgs[0].Content {
		t.Fatal("expected mode=off to leave messages untouched")
	}
}

func TestPruneContextMessages_BelowMinCharsIsNoOp(t *testing.T) {
	msgs := []providers.Message{{Role: "tool", Content: "short"}}
	cfg := &config.ContextPruningConfig{Mode: "on", MinPrunableToolChars: 50000}
	got := PruneContextMessages(msgs, 1000, cfg)
	if got[0].Content != "short" {
		t.Fatal("expected total size below MinPrunableToolChars to skip pruning entirely")
	}
}

func TestPruneContextMessages_HardClearsOldToolResults(t *testing.T) {
	big := strings.Repeat("x", 60000)
	msgs := []providers.Message{
		{Role: "tool", Content: big},
		{Role: "assistant", Content: "a1"},
		{Role: "assistant", Content: "a2"},
		{Role: "assistant", Content: "a3"},
		{Role: "assistant", Content: "a4"},
	}
	cfg := &config.ContextPruningConfig{
		Mode:                 "on",
		SoftTrimRatio:        0.01,
		HardClearRatio:       0.01,
		KeepLastAssistants:   3,
		MinPrunableToolChars: 1000,
	}
	got := PruneContextMessages(msgs, 1000, cfg)
	if got[0].Content != "[Old tool result content cleared]" {
		t.Fatalf("expected the old tool result to be hard-cleared, got len=%d", len(got[0].Content))
	}
}

func TestPruneContextMessages_ProtectsRecentAssistantWindow(t *testing.T) {
	big := strings.Repeat("x", 60000)
	msgs := []providers.Message{
		{Role: "assistant", Content: "a0"},
		{Role: "assistant", Content: "a1"},
		{Role: "tool", Content: big}, // sits after the protected boundary (a1, third-from-last assistant)
		{Role: "assistant", Content: "a2"},
		{Role: "assistant", Content: "a3"},
	}
	cfg := &config.ContextPruningConfig{
		Mode:                 "on",
		SoftTrimRatio:        0.01,
		HardClearRatio:       0.01,
		KeepLastAssistants:   3,
		MinPrunableToolChars: 1000,
	}
	got := PruneContextMessages(msgs, 1000, cfg)
	if got[2].Content != big {
		t.Fatal("expected the tool message within the protected last-3-assistants window to survive untouched")
	}
}

func TestPruneContextMessages_SoftTrimsWithoutHardClear(t *testing.T) {
	big := strings.Repeat("x", 10000)
	msgs := []providers.Message{
		{Role: "tool", Content: big},
		{Role: "assistant", Content: "a1"},
		{Role: "assistant", Content: "a2"},
		{Role: "assistant", Content: "a3"},
		{Role: "assistant", Content: "a4"},
	}
	cfg := &config.ContextPruningConfig{
		Mode:                 "on",
		SoftTrimRatio:        0.01,
		HardClearRatio:       0.99, // keep hard-clear out of reach
		KeepLastAssistants:   3,
		MinPrunableToolChars: 1000,
		SoftTrim:             &config.ContextPruningSoftTrim{MaxChars: 100, HeadChars: 10, TailChars: 10},
	}
	got := PruneContextMessages(msgs, 100000, cfg)
	if len(got[0].Content) == len(big) {
		t.Fatal("expected the oversized tool content to be soft-trimmed")
	}
	if !strings.Contains(got[0].Content, "…[trimmed]…") {
		t.Fatalf("expected the soft-trim placeholder, got %q", got[0].Content)
	}
}

func TestSanitizeHistory_DropsLeadingOrphanedToolMessage(t *testing.T) {
	msgs := []providers.Message{
		{Role: "tool", Content: "orphan", ToolCallID: "x"},
		{Role: "user", Content: "hi"},
	}
	got := SanitizeHistory(msgs)
	if len(got) != 1 || got[0].Role != "user" {
		t.Fatalf("expected the leading orphaned tool message to be dropped, got %+v", got)
	}
}

func TestSanitizeHistory_AllOrphanedToolMessagesReturnsNil(t *testing.T) {
	msgs := []providers.Message{{Role: "tool", Content: "orphan", ToolCallID: "x"}}
	got := SanitizeHistory(msgs)
	if got != nil {
		t.Fatalf("expected nil when every message is an orphaned tool message, got %+v", got)
	}
}

func TestSanitizeHistory_PairsToolResultsWithToolUse(t *testing.T) {
	msgs := []providers.Message{
		{Role: "user", Content: "do it"},
		{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "call-1"}}},
		{Role: "tool", Content: "result", ToolCallID: "call-1"},
	}
	got := SanitizeHistory(msgs)
	if len(got) != 3 {
		t.Fatalf("expected all 3 messages to survive intact pairing, got %d: %+v", len(got), got)
	}
}

func TestSanitizeHistory_DropsMismatchedToolResult(t *testing.T) {
	msgs := []providers.Message{
		{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "call-1"}}},
		{Role: "tool", Content: "wrong result", ToolCallID: "call-2"},
	}
	got := SanitizeHistory(msgs)
	for _, m := range got {
		if m.Role == "tool" {
			t.Fatalf("expected the mismatched tool result to be dropped, got %+v", got)
		}
	}
}

func TestSanitizeHistory_SynthesizesMissingToolResult(t *testing.T) {
	msgs := []providers.Message{
		{Role: "assistant", ToolCalls: []providers.ToolCall{{ID: "call-1"}}},
		{Role: "user", Content: "next turn"},
	}
	got := SanitizeHistory(msgs)

	found := false
	for _, m := range got {
		if m.Role == "tool" && m.ToolCallID == "call-1" {
			found = true
			if !strings.Contains(m.Content, "missing") {
				t.Fatalf("expected a missing-result placeholder, got %q", m.Content)
			}
		}
	}
	if !found {
		t.Fatalf("expected a synthesized tool result for the unmatched tool_use call, got %+v", got)
	}
}

func TestSanitizeHistory_EmptyInput(t *testing.T) {
	if got := SanitizeHistory(nil); got != nil {
		t.Fatalf("expected nil in, nil out, got %+v", got)
	}
}

func TestGuard_PrepareHistory_RunsFullPipeline(t *testing.T) {
	g := New(1000, nil, nil, nil, nil, "", nil, nil)

	msgs := []providers.Message{
		{Role: "tool", Content: "orphan", ToolCallID: "x"},
		{Role: "user", Content: "turn1"},
		{Role: "assistant", Content: "reply1"},
		{Role: "user", Content: "turn2"},
		{Role: "assistant", Content: "reply2"},
	}
	got := g.PrepareHistory(msgs, 1)

	if len(got) != 2 {
		t.Fatalf("expected LimitHistoryTurns(1) to keep the last user turn plus its reply, got %d: %+v", len(got), got)
	}
	if got[0].Content != "turn2" {
		t.Fatalf("expected the window to start at turn2, got %+v", got[0])
	}
}

// fakeProvider is a minimal providers.Provider stub for exercising
// Guard.MaybeCompact's summarization path without a real LLM backend.
type fakeProvider struct {
	summary string
}

func (f *fakeProvider) Chat(ctx context.Context, req providers.ChatRequest) (*providers.ChatResponse, error) {
	return &providers.ChatResponse{Content: f.summary}, nil
}
func (f *fakeProvider) ChatStream(ctx context.Context, req providers.ChatRequest, onChunk func(providers.StreamChunk)) (*providers.ChatResponse, error) {
	return f.Chat(ctx, req)
}
func (f *fakeProvider) DefaultModel() string { return "fake-model" }
func (f *fakeProvider) Name() string         { return "fake" }

func TestGuard_MaybeCompact_SummarizesWhenOverThreshold(t *testing.T) {
	sess := sessions.NewManager("")
	key := sessions.SessionKey("agent1", "test-session")
	sess.GetOrCreate(key)

	for i := 0; i < 60; i++ {
		sess.AddMessage(key, providers.Message{Role: "user", Content: "message"})
	}

	provider := &fakeProvider{summary: "a tidy summary"}
	g := New(1000, &config.CompactionConfig{MinMessages: 10, KeepLastMessages: 4}, nil, sess, provider, "fake-model", nil, nil)

	g.MaybeCompact(key)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sess.GetSummary(key) != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if sess.GetSummary(key) != "a tidy summary" {
		t.Fatalf("expected MaybeCompact to store the provider's summary, got %q", sess.GetSummary(key))
	}
	if got := len(sess.GetHistory(key)); got != 4 {
		t.Fatalf("expected history truncated to KeepLastMessages=4, got %d", got)
	}
}

func TestGuard_MaybeCompact_SkipsBelowThreshold(t *testing.T) {
	sess := sessions.NewManager("")
	key := sessions.SessionKey("agent1", "small-session")
	sess.GetOrCreate(key)
	sess.AddMessage(key, providers.Message{Role: "user", Content: "hi"})

	provider := &fakeProvider{summary: "should not be called"}
	g := New(1000, &config.CompactionConfig{MinMessages: 50}, nil, sess, provider, "fake-model", nil, nil)

	g.MaybeCompact(key)
	time.Sleep(20 * time.Millisecond)

	if sess.GetSummary(key) != "" {
		t.Fatal("expected no compaction below the message/token threshold")
	}
}

func TestGuard_MaybeCompact_CallsOnCompactHookWithDroppedMessages(t *testing.T) {
	sess := sessions.NewManager("")
	key := sessions.SessionKey("agent1", "hook-session")
	sess.GetOrCreate(key)
	for i := 0; i < 60; i++ {
		sess.AddMessage(key, providers.Message{Role: "user", Content: "message"})
	}

	var hookCalled bool
	var droppedCount int
	onCompact := func(sessionKey string, dropped []providers.Message) {
		hookCalled = true
		droppedCount = len(dropped)
	}

	provider := &fakeProvider{summary: "summary"}
	g := New(1000, &config.CompactionConfig{MinMessages: 10, KeepLastMessages: 4}, nil, sess, provider, "fake-model", nil, onCompact)

	g.MaybeCompact(key)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if sess.GetSummary(key) != "" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !hookCalled {
		t.Fatal("expected onCompact to be invoked during compaction")
	}
	if droppedCount != 56 {
		t.Fatalf("expected 60-4=56 dropped messages, got %d", droppedCount)
	}
}
