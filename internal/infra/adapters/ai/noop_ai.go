package ai

import (
	"context"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/ports/adapter"
)

var _ adapter.CompletionClient = (*NoopAIAdapter)(nil)

// NoopAIAdapter stands in when no completion endpoint is configured.
type NoopAIAdapter struct{}

func NewNoopAIAdapter() *NoopAIAdapter {
	return &NoopAIAdapter{}
}

func (a *NoopAIAdapter) Provider() string { return "noop" }

func (a *NoopAIAdapter) Complete(ctx context.Context, _ adapter.CompletionRequest) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", domain.ErrBackendUnavailable
}
