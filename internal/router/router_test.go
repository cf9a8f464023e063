package router

import (
	"errors"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/agentcore/internal/config"
	"github.com/nextlevelbuilder/agentcore/internal/providers"
	"github.com/nextlevelbuilder/agentcore/internal/tools"
)

func TestComplexityScore_TrivialMessage(t *testing.T) {
	score := ComplexityScore("hey, how's it going?", nil)
	if score >= ScoreCodeEditMin {
		t.Fatalf("expected a trivial message to score below %d, got %d", ScoreCodeEditMin, score)
	}
}

func TestComplexityScore_CodeFenceAndEditWords(t *testing.T) {
	msg := "please refactor this:\n```go\nfunc f() {}\n```"
	score := ComplexityScore(msg, nil)
	if score < ScoreCodeEditMin {
		t.Fatalf("expected a code-fence + edit-word message to reach code/edit tier, got %d", score)
	}
}

func TestComplexityScore_HeavySignalsSaturateAt100(t *testing.T) {
	msg := strings.Repeat("x", 3000) + " please thoroughly analyze this stack trace: panic: runtime error. forge a create_and_run automation script to fix and refactor it, rewrite the implementation, debug and optimize it."
	score := ComplexityScore(msg, nil)
	if score != 100 {
		t.Fatalf("expected every additive signal stacked to saturate at 100, got %d", score)
	}
}

func TestComplexityScore_RecentToolHistoryNudgesScore(t *testing.T) {
	base := "what's next"
	withoutHistory := ComplexityScore(base, nil)

	history := []providers.Message{
		{Role: "tool"},
		{Role: "tool"},
	}
	withHistory := ComplexityScore(base, history)

	if withHistory <= withoutHistory {
		t.Fatalf("expected 2+ recent tool turns to add to the score: without=%d with=%d", withoutHistory, withHistory)
	}
}

func TestComplexityScore_HistoryOutsideWindowIgnored(t *testing.T) {
	base := "what's next"
	// Two tool turns, but both outside the last-6 lookback window.
	history := make([]providers.Message, 10)
	history[0] = providers.Message{Role: "tool"}
	history[1] = providers.Message{Role: "tool"}
	for i := 2; i < 10; i++ {
		history[i] = providers.Message{Role: "user"}
	}

	withoutNudge := ComplexityScore(base, history)
	withNudge := ComplexityScore(base, []providers.Message{{Role: "tool"}, {Role: "tool"}})

	if withoutNudge >= withNudge {
		t.Fatalf("expected out-of-window tool turns not to nudge the score: out-of-window=%d in-window=%d", withoutNudge, withNudge)
	}
}

func TestParseEngineHint_Local(t *testing.T) {
	msg, hint := ParseEngineHint("/local do the thing")
	if hint != HintLive || msg != "do the thing" {
		t.Fatalf("expected HintLive and stripped message, got hint=%v msg=%q", hint, msg)
	}
}

func TestParseEngineHint_Worker(t *testing.T) {
	msg, hint := ParseEngineHint("/worker  run the batch job  ")
	if hint != HintWorker || msg != "run the batch job" {
		t.Fatalf("expected HintWorker and trimmed message, got hint=%v msg=%q", hint, msg)
	}
}

func TestParseEngineHint_Cloud(t *testing.T) {
	msg, hint := ParseEngineHint("/cloud analyze this deeply")
	if hint != HintCloud || msg != "analyze this deeply" {
		t.Fatalf("expected HintCloud, got hint=%v msg=%q", hint, msg)
	}
}

func TestParseEngineHint_NoPrefix(t *testing.T) {
	msg, hint := ParseEngineHint("just a normal message")
	if hint != HintNone || msg != "just a normal message" {
		t.Fatalf("expected HintNone and the message unchanged, got hint=%v msg=%q", hint, msg)
	}
}

func newTestDispatcher(cfg *config.Config) *Dispatcher {
	return New(cfg, Tiers{}, nil, 0, nil)
}

func TestSelectTier_HighScoreDelegatesToWorkerWhenEnabled(t *testing.T) {
	cfg := &config.Config{Engines: config.EnginesConfig{Worker: config.EngineSpec{Enabled: true}}}
	d := newTestDispatcher(cfg)

	tier, delegate := d.selectTier(ScoreHeavyMin, tools.RoleOwner, HintNone)
	if tier != TierWorker || !delegate {
		t.Fatalf("expected heavy score to delegate to Worker, got tier=%v delegate=%v", tier, delegate)
	}
}

func TestSelectTier_HighScoreFallsBackWhenWorkerDisabled(t *testing.T) {
	cfg := &config.Config{}
	d := newTestDispatcher(cfg)

	tier, delegate := d.selectTier(ScoreHeavyMin, tools.RoleOwner, HintNone)
	if delegate {
		t.Fatal("expected no delegation when Worker is disabled")
	}
	if tier == TierWorker {
		t.Fatal("expected Worker tier not to be selected while disabled")
	}
}

func TestSelectTier_MidScoreUsesCloudWhenEnabled(t *testing.T) {
	cfg := &config.Config{Engines: config.EnginesConfig{Cloud: config.EngineSpec{Enabled: true}}}
	d := newTestDispatcher(cfg)

	tier, delegate := d.selectTier(ScoreCodeEditMin, tools.RoleOwner, HintNone)
	if tier != TierCloud || delegate {
		t.Fatalf("expected a code/edit-tier score to route to Cloud when enabled, got tier=%v delegate=%v", tier, delegate)
	}
}

func TestSelectTier_SystemRoleUsesCloudEvenAtLowScore(t *testing.T) {
	cfg := &config.Config{Engines: config.EnginesConfig{Cloud: config.EngineSpec{Enabled: true}}}
	d := newTestDispatcher(cfg)

	tier, _ := d.selectTier(0, tools.RoleSystem, HintNone)
	if tier != TierCloud {
		t.Fatalf("expected system-role requests to prefer Cloud when enabled regardless of score, got %v", tier)
	}
}

func TestSelectTier_LowScoreDefaultsToLive(t *testing.T) {
	cfg := &config.Config{}
	d := newTestDispatcher(cfg)

	tier, delegate := d.selectTier(0, tools.RoleOwner, HintNone)
	if tier != TierLive || delegate {
		t.Fatalf("expected a trivial score to stay on Live, got tier=%v delegate=%v", tier, delegate)
	}
}

func TestSelectTier_HintOverridesScore(t *testing.T) {
	cfg := &config.Config{}
	d := newTestDispatcher(cfg)

	// A low score would normally stay on Live, but an explicit /worker
	// hint should win as long as Worker is enabled.
	cfg.Engines.Worker.Enabled = true
	tier, delegate := d.selectTier(0, tools.RoleOwner, HintWorker)
	if tier != TierWorker || !delegate {
		t.Fatalf("expected an explicit worker hint to win over a low score, got tier=%v delegate=%v", tier, delegate)
	}
}

func TestSelectTier_DisabledHintFallsThroughToScoreBasedChoice(t *testing.T) {
	cfg := &config.Config{} // Worker disabled
	d := newTestDispatcher(cfg)

	tier, delegate := d.selectTier(0, tools.RoleOwner, HintWorker)
	if delegate {
		t.Fatal("expected a disabled worker hint not to delegate")
	}
	if tier != TierLive {
		t.Fatalf("expected a disabled hint to fall through to the score-based choice, got %v", tier)
	}
}

func TestSelectTier_HintLiveAlwaysWins(t *testing.T) {
	cfg := &config.Config{Engines: config.EnginesConfig{
		Worker: config.EngineSpec{Enabled: true},
		Cloud:  config.EngineSpec{Enabled: true},
	}}
	d := newTestDispatcher(cfg)

	tier, delegate := d.selectTier(100, tools.RoleOwner, HintLive)
	if tier != TierLive || delegate {
		t.Fatalf("expected an explicit /local hint to force Live regardless of score, got tier=%v delegate=%v", tier, delegate)
	}
}

func TestClassifyError_Nil(t *testing.T) {
	if got := ClassifyError(nil); got != ErrClassUnknown {
		t.Fatalf("expected nil error to classify as unknown, got %v", got)
	}
}

func TestClassifyError_ContextOverflow(t *testing.T) {
	if got := ClassifyError(errors.New("maximum context length exceeded")); got != ErrClassContextOverflow {
		t.Fatalf("expected context-overflow classification, got %v", got)
	}
}

func TestClassifyError_Auth(t *testing.T) {
	if got := ClassifyError(errors.New("401 Unauthorized: invalid api key")); got != ErrClassAuth {
		t.Fatalf("expected auth classification, got %v", got)
	}
}

func TestClassifyError_RateLimit(t *testing.T) {
	if got := ClassifyError(errors.New("429 rate limit exceeded")); got != ErrClassRateLimit {
		t.Fatalf("expected rate-limit classification, got %v", got)
	}
}

func TestClassifyError_Network(t *testing.T) {
	if got := ClassifyError(errors.New("dial tcp: connection refused")); got != ErrClassNetwork {
		t.Fatalf("expected network classification, got %v", got)
	}
}

func TestClassifyError_Unknown(t *testing.T) {
	if got := ClassifyError(errors.New("something entirely unrelated happened")); got != ErrClassUnknown {
		t.Fatalf("expected unknown classification for an unrecognized message, got %v", got)
	}
}
