// Package router implements the Cognitive Router: a deterministic
// complexity heuristic over a message plus recent history, and the
// engine-selection policy (Live / Worker / Cloud) that heuristic
// feeds into.
package router

import (
	"regexp"
	"strings"

	"github.com/nextlevelbuilder/agentcore/internal/providers"
)

var (
	codeFenceRe  = regexp.MustCompile("```")
	filePathRe   = regexp.MustCompile(`(?:^|\s)(?:/|\.\/|~\/)?[\w.-]+\/[\w./-]+\.\w{1,8}\b`)
	editWordsRe  = regexp.MustCompile(`(?i)\b(write|generate|implement|refactor|fix|debug|edit|rewrite|optimi[sz]e)\b`)
	stepsRe      = regexp.MustCompile(`(?m)^\s*(?:[-*]|\d+[.)])\s+\S`)
	errorWordsRe = regexp.MustCompile(`(?i)\b(error|exception|stack trace|traceback|panic:)\b`)
	forgeWordsRe = regexp.MustCompile(`(?i)\b(forge|tool|create_and_run|automation script)\b`)
	deepWordsRe  = regexp.MustCompile(`(?i)\b(deep|analyse|analyze|thorough|comprehensive)\b`)
)

// Lane thresholds: trivial<40, code/edit 40-59, heavy>=60.
const (
	ScoreCodeEditMin = 40
	ScoreHeavyMin    = 60
)

// ComplexityScore returns a deterministic 0-100 integer classifying
// how much engine capability message (read in the context of the last
// few turns of history) likely requires. Signals are additive and the
// total saturates at 100.
func ComplexityScore(message string, history []providers.Message) int {
	score := 0

	hasCode := codeFenceRe.MatchString(message) || filePathRe.MatchString(message)
	if hasCode {
		score += 15
	}
	// Edit words add 15, or 25 when there are 3+ of them or they refer to
	// code/paths in the same message.
	if m := editWordsRe.FindAllString(message, -1); len(m) > 0 {
		score += 15
		if len(m) >= 3 || hasCode {
			score += 10
		}
	}
	if stepsRe.MatchString(message) {
		score += 10
	}
	switch {
	case len(message) > 2000:
		score += 20
	case len(message) > 500:
		score += 10
	}
	if errorWordsRe.MatchString(message) {
		score += 20
	}
	if forgeWordsRe.MatchString(message) {
		score += 15
	}
	if deepWordsRe.MatchString(message) {
		score += 20
	}

	// Recent history nudges the score: a conversation already deep in
	// code/tool exchanges makes the next turn more likely to need it too.
	recentToolTurns := 0
	for i := len(history) - 1; i >= 0 && i >= len(history)-6; i-- {
		if history[i].Role == "tool" || len(history[i].ToolCalls) > 0 {
			recentToolTurns++
		}
	}
	if recentToolTurns >= 2 {
		score += 10
	}

	if score > 100 {
		score = 100
	}
	return score
}

// EngineHint is an explicit client override, e.g. from a /local or
// /worker slash command prefix on the message.
type EngineHint string

const (
	HintNone   EngineHint = ""
	HintLive   EngineHint = "live"
	HintWorker EngineHint = "worker"
	HintCloud  EngineHint = "cloud"
)

// ParseEngineHint strips a recognized slash-command prefix from
// message and returns the remaining text plus the hint it named, or
// HintNone/message unchanged if there was no such prefix.
func ParseEngineHint(message string) (string, EngineHint) {
	trimmed := strings.TrimSpace(message)
	switch {
	case strings.HasPrefix(trimmed, "/local "):
		return strings.TrimSpace(strings.TrimPrefix(trimmed, "/local ")), HintLive
	case strings.HasPrefix(trimmed, "/worker "):
		return strings.TrimSpace(strings.TrimPrefix(trimmed, "/worker ")), HintWorker
	case strings.HasPrefix(trimmed, "/cloud "):
		return strings.TrimSpace(strings.TrimPrefix(trimmed, "/cloud ")), HintCloud
	default:
		return message, HintNone
	}
}
