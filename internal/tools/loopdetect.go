package tools

import "sync"

const loopHistorySize = 30

// loopEntry is one recorded tool call outcome.
type loopEntry struct {
	toolName   string
	argsHash   string
	resultHash string
}

// LoopVerdict classifies the outcome of checking a new call against history.
type LoopVerdict int

const (
	VerdictOK LoopVerdict = iota
	VerdictWarn
	VerdictAbort
)

// knownPollTools are tools expected to be polled repeatedly as part of
// normal operation (shell output polling, browser interaction,
// process status checks) — they get a dedicated no-progress detector
// instead of being flagged by the generic repeat detector immediately.
var knownPollTools = map[string]bool{
	"exec":    true,
	"process": true,
	"browser": true,
}

// LoopDetector maintains a per-session ring buffer of the last 30
// (toolName, argsHash, resultHash) entries and applies the circuit
// breaker / known-poll / ping-pong / generic-repeat detectors to each
// new call before it executes.
type LoopDetector struct {
	mu      sync.Mutex
	history map[string][]loopEntry // sessionKey -> ring buffer
}

// NewLoopDetector creates an empty detector.
func NewLoopDetector() *LoopDetector {
	return &LoopDetector{history: make(map[string][]loopEntry)}
}

// Check evaluates a prospective call against sessionKey's history
// before it runs (resultHash is unknown yet, so only argsHash-based
// detectors — circuit breaker, ping-pong and generic repeat — apply here).
func (d *LoopDetector) Check(sessionKey, toolName, argsHash string) LoopVerdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	hist := d.history[sessionKey]

	if verdict := circuitBreaker(hist, argsHash); verdict == VerdictAbort {
		return verdict
	}
	if verdict := pingPong(hist, toolName, argsHash); verdict != VerdictOK {
		return verdict
	}
	if verdict := knownPollNoProgress(hist, toolName, argsHash, ""); verdict != VerdictOK {
		return verdict
	}
	return genericRepeat(hist, toolName, argsHash)
}

// Record appends the completed call's outcome to sessionKey's ring
// buffer, evicting the oldest entry once it exceeds loopHistorySize,
// and returns the full verdict now that resultHash is known (so the
// known-poll-no-progress detector, which needs matching resultHash,
// can fire on this and future calls).
func (d *LoopDetector) Record(sessionKey, toolName, argsHash, resultHash string) LoopVerdict {
	d.mu.Lock()
	defer d.mu.Unlock()

	hist := d.history[sessionKey]
	verdict := knownPollNoProgress(hist, toolName, argsHash, resultHash)

	hist = append(hist, loopEntry{toolName: toolName, argsHash: argsHash, resultHash: resultHash})
	if len(hist) > loopHistorySize {
		hist = hist[len(hist)-loopHistorySize:]
	}
	d.history[sessionKey] = hist

	return verdict
}

// Reset clears a session's loop-detection history (e.g. on compaction).
func (d *LoopDetector) Reset(sessionKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.history, sessionKey)
}

// circuitBreaker aborts if the new call's argsHash matches every one
// of the last 8 entries.
func circuitBreaker(hist []loopEntry, argsHash string) LoopVerdict {
	const window = 8
	if len(hist) < window {
		return VerdictOK
	}
	tail := hist[len(hist)-window:]
	for _, e := range tail {
		if e.argsHash != argsHash {
			return VerdictOK
		}
	}
	return VerdictAbort
}

// knownPollNoProgress aborts when a known-poll tool repeats the same
// argsHash >=5 times with identical resultHash (warns at >=3).
// resultHash == "" (pre-execution check) only ever returns VerdictOK,
// since the detector needs observed results to compare.
func knownPollNoProgress(hist []loopEntry, toolName, argsHash, resultHash string) LoopVerdict {
	if !knownPollTools[toolName] || resultHash == "" {
		return VerdictOK
	}

	count := 0
	sameResult := true
	var firstResult string
	for i := len(hist) - 1; i >= 0; i-- {
		e := hist[i]
		if e.toolName != toolName || e.argsHash != argsHash {
			break
		}
		count++
		if firstResult == "" {
			firstResult = e.resultHash
		} else if e.resultHash != firstResult {
			sameResult = false
		}
	}
	// include the current call in the count/consistency check
	count++
	if firstResult == "" {
		firstResult = resultHash
	} else if resultHash != firstResult {
		sameResult = false
	}

	if !sameResult {
		return VerdictOK
	}
	if count >= 5 {
		return VerdictAbort
	}
	if count >= 3 {
		return VerdictWarn
	}
	return VerdictOK
}

// pingPong aborts on an alternating A-B-A-B... pattern of >=5 consecutive entries.
func pingPong(hist []loopEntry, toolName, argsHash string) LoopVerdict {
	const minRun = 5
	seq := append(append([]loopEntry{}, hist...), loopEntry{toolName: toolName, argsHash: argsHash})
	if len(seq) < minRun {
		return VerdictOK
	}
	tail := seq[len(seq)-minRun:]
	a := tail[0]
	b := tail[1]
	if key(a) == key(b) {
		return VerdictOK
	}
	for i := 0; i < minRun; i++ {
		want := a
		if i%2 == 1 {
			want = b
		}
		if key(tail[i]) != key(want) {
			return VerdictOK
		}
	}
	return VerdictAbort
}

// genericRepeat aborts on >=5 identical consecutive entries for
// non-poll tools (warns at >=3).
func genericRepeat(hist []loopEntry, toolName, argsHash string) LoopVerdict {
	if knownPollTools[toolName] {
		return VerdictOK
	}
	count := 1
	for i := len(hist) - 1; i >= 0; i-- {
		e := hist[i]
		if e.toolName != toolName || e.argsHash != argsHash {
			break
		}
		count++
	}
	if count >= 5 {
		return VerdictAbort
	}
	if count >= 3 {
		return VerdictWarn
	}
	return VerdictOK
}

func key(e loopEntry) string { return e.toolName + "|" + e.argsHash }
