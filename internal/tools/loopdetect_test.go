package tools

import "testing"

func TestLoopDetector_CircuitBreaker(t *testing.T) {
	d := NewLoopDetector()
	sess := "sess-1"

	for i := 0; i < 8; i++ {
		d.Record(sess, "write_file", "argsA", "result1")
	}

	if got := d.Check(sess, "write_file", "argsA"); got != VerdictAbort {
		t.Fatalf("expected circuit breaker to abort after 8 identical argsHash entries, got %v", got)
	}
}

func TestLoopDetector_CircuitBreaker_DoesNotFireBelowWindow(t *testing.T) {
	hist := make([]loopEntry, 7)
	for i := range hist {
		hist[i] = loopEntry{toolName: "write_file", argsHash: "argsA"}
	}

	// Below the breaker's own 8-entry window it must defer (genericRepeat
	// has a separate, lower threshold and is exercised on its own above).
	if got := circuitBreaker(hist, "argsA"); got != VerdictOK {
		t.Fatalf("expected circuitBreaker to defer below its window, got %v", got)
	}
}

func TestLoopDetector_GenericRepeat_WarnThenAbort(t *testing.T) {
	d := NewLoopDetector()
	sess := "sess-1"

	d.Record(sess, "write_file", "argsA", "r1")
	d.Record(sess, "write_file", "argsA", "r2")

	if got := d.Check(sess, "write_file", "argsA"); got != VerdictWarn {
		t.Fatalf("expected warn at the 3rd identical call, got %v", got)
	}

	d.Record(sess, "write_file", "argsA", "r3")
	d.Record(sess, "write_file", "argsA", "r4")

	if got := d.Check(sess, "write_file", "argsA"); got != VerdictAbort {
		t.Fatalf("expected abort at the 5th identical call, got %v", got)
	}
}

func TestLoopDetector_GenericRepeat_IgnoresKnownPollTools(t *testing.T) {
	d := NewLoopDetector()
	sess := "sess-1"

	for i := 0; i < 4; i++ {
		d.Record(sess, "exec", "argsA", "r")
	}

	// genericRepeat never applies to known-poll tools; only the
	// dedicated no-progress detector (which needs matching resultHash)
	// can flag exec.
	if got := d.Check(sess, "exec", "argsA"); got != VerdictOK {
		t.Fatalf("expected genericRepeat to skip known-poll tools, got %v", got)
	}
}

func TestLoopDetector_PingPong(t *testing.T) {
	d := NewLoopDetector()
	sess := "sess-1"

	d.Record(sess, "write_file", "A", "r1")
	d.Record(sess, "write_file", "B", "r2")
	d.Record(sess, "write_file", "A", "r3")
	d.Record(sess, "write_file", "B", "r4")

	if got := d.Check(sess, "write_file", "A"); got != VerdictAbort {
		t.Fatalf("expected ping-pong abort on alternating A/B/A/B/A, got %v", got)
	}
}

func TestLoopDetector_PingPong_RepeatingSameCallIsNotPingPong(t *testing.T) {
	// Four identical entries plus a fifth identical call forms a
	// same-value run of length 5, not an alternation; that's
	// genericRepeat's job, not pingPong's.
	hist := []loopEntry{
		{toolName: "write_file", argsHash: "A"},
		{toolName: "write_file", argsHash: "A"},
		{toolName: "write_file", argsHash: "A"},
		{toolName: "write_file", argsHash: "A"},
	}
	got := pingPong(hist, "write_file", "A")
	if got != VerdictOK {
		t.Fatalf("expected pingPong to decline a same-value run, got %v", got)
	}
}

func TestLoopDetector_KnownPollNoProgress(t *testing.T) {
	d := NewLoopDetector()
	sess := "sess-1"

	verdicts := make([]LoopVerdict, 0, 5)
	for i := 0; i < 5; i++ {
		verdicts = append(verdicts, d.Record(sess, "exec", "argsA", "same-result"))
	}

	want := []LoopVerdict{VerdictOK, VerdictOK, VerdictWarn, VerdictWarn, VerdictAbort}
	for i, v := range verdicts {
		if v != want[i] {
			t.Fatalf("call %d: expected %v, got %v", i+1, want[i], v)
		}
	}
}

func TestLoopDetector_KnownPollNoProgress_DifferentResultResets(t *testing.T) {
	d := NewLoopDetector()
	sess := "sess-1"

	d.Record(sess, "exec", "argsA", "same-result")
	d.Record(sess, "exec", "argsA", "same-result")
	// A genuinely different result means the poll is making progress.
	if got := d.Record(sess, "exec", "argsA", "different-result"); got != VerdictOK {
		t.Fatalf("expected a changed result to clear the no-progress verdict, got %v", got)
	}
}

func TestLoopDetector_Check_PreExecution_NeverFlagsKnownPollNoProgress(t *testing.T) {
	d := NewLoopDetector()
	sess := "sess-1"

	for i := 0; i < 6; i++ {
		d.Record(sess, "exec", "argsA", "same-result")
	}

	// Check happens before the result is known, so the known-poll
	// no-progress detector (which needs a resultHash) can't fire here —
	// only circuitBreaker/pingPong/genericRepeat are evaluated, and
	// exec is exempt from genericRepeat as a known-poll tool.
	if got := d.Check(sess, "exec", "argsA"); got == VerdictAbort {
		t.Fatalf("did not expect abort on the pre-execution check for a known-poll tool, got %v", got)
	}
}

func TestLoopDetector_Reset(t *testing.T) {
	d := NewLoopDetector()
	sess := "sess-1"

	for i := 0; i < 8; i++ {
		d.Record(sess, "write_file", "argsA", "r")
	}
	d.Reset(sess)

	if got := d.Check(sess, "write_file", "argsA"); got != VerdictOK {
		t.Fatalf("expected Reset to clear history, got %v", got)
	}
}

func TestLoopDetector_SessionsAreIsolated(t *testing.T) {
	d := NewLoopDetector()

	for i := 0; i < 8; i++ {
		d.Record("sess-a", "write_file", "argsA", "r")
	}

	if got := d.Check("sess-b", "write_file", "argsA"); got != VerdictOK {
		t.Fatalf("expected a different session to have independent history, got %v", got)
	}
}
