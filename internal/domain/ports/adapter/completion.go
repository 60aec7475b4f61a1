package adapter

import (
	"context"
	"fmt"

	"sharktank-agent/internal/domain"
)

// Message is one role-tagged entry of the conversation sent to a backend.
type Message struct {
	Role    string `json:"role"` // "user", "assistant"
	Content string `json:"content"`
}

// CompletionOptions are per-call generation settings. Zero values mean backend defaults.
type CompletionOptions struct {
	Model       string
	Temperature float64
	TopP        float64
	MaxTokens   int
}

type CompletionRequest struct {
	Prompt       string
	Instructions string
	History      []Message
	Options      CompletionOptions
}

// CompletionClient is the port for the external LLM.
//
// Implementations return domain.ErrBackendUnavailable when no endpoint is
// configured and an *UpstreamError for transport or protocol failures.
type CompletionClient interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Provider() string
}

// UpstreamError describes a failed call to an external collaborator.
type UpstreamError struct {
	Backend string
	Status  int
	Body    string
	Err     error
}

func (e *UpstreamError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Backend, e.Err)
	case e.Status != 0:
		return fmt.Sprintf("%s: http %d: %s", e.Backend, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: %s", e.Backend, e.Body)
}

func (e *UpstreamError) Unwrap() []error {
	if e.Err != nil {
		return []error{domain.ErrUpstream, e.Err}
	}
	return []error{domain.ErrUpstream}
}

// TruncateHistory keeps the most recent n messages, dropping the oldest first.
// The input slice is never modified.
func TruncateHistory(history []Message, n int) []Message {
	if n <= 0 {
		return []Message{}
	}
	if len(history) <= n {
		out := make([]Message, len(history))
		copy(out, history)
		return out
	}
	out := make([]Message, n)
	copy(out, history[len(history)-n:])
	return out
}
