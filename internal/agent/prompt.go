package agent

import (
	"fmt"
	"strings"

	"sharktank-agent/internal/agent/tools"
	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/adapter"
)

// MaxHistoryTurns bounds the prior turns sent with a synthesis prompt.
const MaxHistoryTurns = 8

// SystemInstructions frame every synthesis call.
const SystemInstructions = `You are a Shark Tank analyst with access to a database of pitches from the show.

You help users explore pitches, deals, valuations and investor decisions. When search results are provided, base your answer on them: name the company, the entrepreneurs, the season and episode, the ask and the valuation, and whether a deal was made and with which shark.

When calculations are provided, explain what the numbers mean for the deal. When web results are provided, say that the information comes from the internet and may have changed since the episode aired.

If the results do not contain the answer, say so and answer from general knowledge, making clear which parts are not from the database. Keep answers concise and well structured.`

const (
	ApologyNotConfigured = "I apologize, but the AI service is not configured. Please contact support."
	ApologyUpstream      = "I apologize, but I encountered an error processing your request. Please try again."
	FallbackAnswer       = "I apologize, but I could not generate a response. Please try again."
)

// EvidencePrompt asks the model to answer from tool output.
func EvidencePrompt(toolResult, question string) string {
	return fmt.Sprintf("Based on these search results:\n\n%s\n\nAnswer the user's question: %s", toolResult, question)
}

// NoEvidencePrompt is used when the tool produced nothing usable.
func NoEvidencePrompt(question string) string {
	return "The search returned no results. Please answer the user's question using your general knowledge: " + question
}

// PromptHistory keeps user and assistant turns with content and caps them at
// the last limit entries.
func PromptHistory(turns []model.ConversationTurn, limit int) []adapter.Message {
	msgs := make([]adapter.Message, 0, len(turns))
	for _, t := range turns {
		if !t.IsDialogue() {
			continue
		}
		msgs = append(msgs, adapter.Message{Role: string(t.Role), Content: t.Content})
	}
	return adapter.TruncateHistory(msgs, limit)
}

func hasEvidence(toolResult string) bool {
	r := strings.TrimSpace(toolResult)
	return r != "" && r != tools.EmptyResult
}
