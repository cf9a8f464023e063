package tools

import (
	"regexp"
	"strings"
)

// InjectionAction mirrors config.GatewayConfig.InjectionAction: what
// to do once a prompt-injection pattern is detected in inbound text.
type InjectionAction string

const (
	ActionOff   InjectionAction = "off"
	ActionLog   InjectionAction = "log"
	ActionWarn  InjectionAction = "warn"
	ActionBlock InjectionAction = "block"
)

// injectionPatterns are heuristic markers of prompt-injection attempts
// embedded in tool output or forwarded user content (e.g. a fetched
// web page or file trying to override the system prompt).
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore (all )?(previous|prior|above) instructions`),
	regexp.MustCompile(`(?i)disregard (all )?(previous|prior|above)`),
	regexp.MustCompile(`(?i)you are now (in|a) (developer|jailbreak|dan) mode`),
	regexp.MustCompile(`(?i)system\s*:\s*override`),
	regexp.MustCompile(`(?i)reveal (your|the) (system prompt|instructions)`),
	regexp.MustCompile(`(?i)act as if you have no (restrictions|guidelines)`),
}

// InputGuard scans untrusted text for prompt-injection markers before
// it's folded into an engine call, acting per the configured action.
type InputGuard struct {
	action InjectionAction
}

// NewInputGuard builds a guard for the given action (defaulting to "warn").
func NewInputGuard(action string) *InputGuard {
	a := InjectionAction(action)
	switch a {
	case ActionOff, ActionLog, ActionWarn, ActionBlock:
	default:
		a = ActionWarn
	}
	return &InputGuard{action: a}
}

// Verdict is the outcome of scanning one piece of text.
type Verdict struct {
	Flagged bool
	Pattern string
	Action  InjectionAction
}

// Scan checks text against known injection patterns. It never
// mutates or truncates text — callers decide what to do with the
// Verdict (log, prefix a warning, or refuse to include the content).
func (g *InputGuard) Scan(text string) Verdict {
	if g == nil || g.action == ActionOff {
		return Verdict{Action: ActionOff}
	}
	for _, re := range injectionPatterns {
		if re.MatchString(text) {
			return Verdict{Flagged: true, Pattern: re.String(), Action: g.action}
		}
	}
	return Verdict{Action: g.action}
}

// Apply runs Scan and, for ActionWarn, prefixes a visible warning
// marker onto text so the engine sees flagged content is untrusted.
// ActionBlock callers should check Verdict.Flagged themselves and
// drop the content instead of calling Apply.
func (g *InputGuard) Apply(text string) (string, Verdict) {
	v := g.Scan(text)
	if !v.Flagged {
		return text, v
	}
	switch v.Action {
	case ActionWarn:
		return "[UNTRUSTED CONTENT — possible prompt injection detected]\n" + text, v
	case ActionLog:
		return text, v
	default:
		return text, v
	}
}

// looksLikeDirective is a lightweight additional heuristic: all-caps
// imperative sentences embedded in otherwise normal prose, a common
// injection shape in scraped web content.
func looksLikeDirective(line string) bool {
	trimmed := strings.TrimSpace(line)
	if len(trimmed) < 10 {
		return false
	}
	upper := strings.ToUpper(trimmed)
	return trimmed == upper && strings.Count(trimmed, " ") >= 2
}
