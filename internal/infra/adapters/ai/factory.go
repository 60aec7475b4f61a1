package ai

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"sharktank-agent/internal/config"
	"sharktank-agent/internal/domain/ports/adapter"
)

// New builds the configured completion backend wrapped with the concurrency
// limit and metrics decorators.
func New(ctx context.Context, cfg config.CompletionConfig, logger *zerolog.Logger) (adapter.CompletionClient, error) {
	var (
		inner adapter.CompletionClient
		err   error
	)
	switch cfg.Provider {
	case "proxy":
		inner = NewProxyAdapter(ProxyOptions{
			Endpoint:   cfg.Endpoint,
			Cookie:     cfg.Cookie,
			Transcript: cfg.HistoryMode == "transcript",
			Timeout:    cfg.Timeout,
		})
	case "openai":
		inner, err = NewOpenAIAdapter(cfg.APIKey, cfg.BaseURL, cfg.Model, cfg.Timeout)
	case "gemini":
		inner, err = NewGeminiAdapter(ctx, cfg.APIKey, cfg.BaseURL, cfg.Model)
	case "noop", "":
		inner = NewNoopAIAdapter()
	default:
		return nil, fmt.Errorf("unknown completion provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s completion backend: %w", cfg.Provider, err)
	}

	logger.Info().
		Str("provider", inner.Provider()).
		Str("model", cfg.Model).
		Str("history_mode", cfg.HistoryMode).
		Int("concurrent_limit", cfg.ConcurrentLimit).
		Msg("completion backend ready")

	return NewMeteredAI(NewLimitedAI(inner, cfg.ConcurrentLimit), cfg.Model, nil), nil
}

// Options maps config onto per-call generation settings.
func Options(cfg config.CompletionConfig) adapter.CompletionOptions {
	return adapter.CompletionOptions{
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		TopP:        cfg.TopP,
		MaxTokens:   cfg.MaxTokens,
	}
}
