package ai

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/genai"

	"sharktank-agent/internal/domain/ports/adapter"
)

var _ adapter.CompletionClient = (*GeminiAdapter)(nil)

type GeminiAdapter struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiAdapter creates a Gemini adapter using the official SDK.
func NewGeminiAdapter(ctx context.Context, apiKey, baseURL, defaultModel string) (*GeminiAdapter, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: empty api key")
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{
			BaseURL: baseURL,
		},
	})
	if err != nil {
		return nil, err
	}
	return &GeminiAdapter{client: c, defaultModel: defaultModel}, nil
}

func (g *GeminiAdapter) Provider() string { return "gemini" }

func (g *GeminiAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (string, error) {
	chat, err := g.client.Chats.Create(
		ctx,
		modelOrDefault(req.Options.Model, g.defaultModel),
		generationConfig(req),
		toGenAIHistory(req.History),
	)
	if err != nil {
		return "", &adapter.UpstreamError{Backend: g.Provider(), Err: err}
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: req.Prompt})
	if err != nil {
		return "", &adapter.UpstreamError{Backend: g.Provider(), Err: err}
	}
	if resp == nil {
		return "", nil
	}
	return strings.TrimSpace(resp.Text()), nil
}

func generationConfig(req adapter.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{}
	if req.Instructions != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.Instructions}}}
	}
	if req.Options.Temperature > 0 {
		cfg.Temperature = genai.Ptr(float32(req.Options.Temperature))
	}
	if req.Options.TopP > 0 {
		cfg.TopP = genai.Ptr(float32(req.Options.TopP))
	}
	if req.Options.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.Options.MaxTokens)
	}
	return cfg
}

func toGenAIHistory(msgs []adapter.Message) []*genai.Content {
	out := make([]*genai.Content, 0, len(msgs))
	for _, m := range msgs {
		role := genai.RoleUser
		switch strings.ToLower(m.Role) {
		case "assistant", "model":
			role = genai.RoleModel
		case "system":
			// no system role in Gemini history
			role = genai.RoleUser
		}
		out = append(out, &genai.Content{
			Role:  role,
			Parts: []*genai.Part{{Text: m.Content}},
		})
	}
	return out
}
