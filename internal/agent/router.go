package agent

import (
	"regexp"
	"strings"

	"sharktank-agent/internal/domain/model"
)

// DefaultSearchResults caps internet search hits requested by the router.
const DefaultSearchResults = 5

var (
	numericRe = regexp.MustCompile(`\d+`)
	// an operator between operands, e.g. "2+2", "100000 / 0.10", "(3)*4"
	arithmeticRe = regexp.MustCompile(`[\d)]\s*[+\-*/%^]\s*[\d(]`)
	expressionRe = regexp.MustCompile(`[\d+\-*/().%^ ]+`)

	// matched as substrings, so "nowadays" and "updating" count
	recencyCues = []string{
		"current", "now", "today", "recent", "latest",
		"what happened to", "where are they now", "still in business", "update",
	}
)

// ToolDecision is the router's verdict for one user message.
type ToolDecision struct {
	UseTool    bool
	Invocation *model.ToolInvocation
}

// Router picks at most one tool for a message. Rules are checked in order:
// calculator, then internet search for recency questions, then pitch search.
type Router struct {
	maxSearchResults int
}

func NewRouter(maxSearchResults int) *Router {
	if maxSearchResults <= 0 {
		maxSearchResults = DefaultSearchResults
	}
	return &Router{maxSearchResults: maxSearchResults}
}

func (r *Router) Decide(message string) ToolDecision {
	lower := strings.ToLower(message)

	if expr, ok := calculationOf(message, lower); ok {
		return ToolDecision{UseTool: true, Invocation: model.CalculatorCall(expr)}
	}
	if hasRecencyCue(lower) {
		return ToolDecision{UseTool: true, Invocation: model.InternetSearchCall(message, r.maxSearchResults)}
	}
	return ToolDecision{UseTool: true, Invocation: model.SharkTankSearchCall(message)}
}

func calculationOf(message, lower string) (string, bool) {
	if !numericRe.MatchString(message) {
		return "", false
	}
	cue := strings.Contains(lower, "calculate") ||
		strings.Contains(lower, "compute") ||
		(strings.Contains(lower, "what is") && arithmeticRe.MatchString(message))
	if !cue {
		return "", false
	}
	expr := firstExpression(message)
	return expr, expr != ""
}

// firstExpression returns the first run of arithmetic characters that holds a digit.
func firstExpression(message string) string {
	for _, m := range expressionRe.FindAllString(message, -1) {
		if numericRe.MatchString(m) {
			return strings.TrimSpace(m)
		}
	}
	return ""
}

func hasRecencyCue(lower string) bool {
	for _, p := range recencyCues {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
