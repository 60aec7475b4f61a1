package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/ports/adapter"
)

var _ adapter.CompletionClient = (*ProxyAdapter)(nil)

// ProxyAdapter talks to the hosted LLM proxy that fronts Mistral. The endpoint
// takes the whole prompt, instructions and history in one JSON body.
type ProxyAdapter struct {
	endpoint   string
	cookie     string
	transcript bool
	client     *http.Client
}

type ProxyOptions struct {
	Endpoint string
	Cookie   string
	// flatten history into the prompt instead of sending conversation_history
	Transcript bool
	Timeout    time.Duration
}

func NewProxyAdapter(opts ProxyOptions) *ProxyAdapter {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &ProxyAdapter{
		endpoint:   strings.TrimSpace(opts.Endpoint),
		cookie:     opts.Cookie,
		transcript: opts.Transcript,
		client:     &http.Client{Timeout: opts.Timeout},
	}
}

func (p *ProxyAdapter) Provider() string { return "proxy" }

// field order matters to the proxy; cookie goes last
type proxyRequest struct {
	Prompt              string            `json:"prompt"`
	Instructions        string            `json:"instructions"`
	TopP                float64           `json:"top_p"`
	Temperature         float64           `json:"temperature"`
	MaxTokens           int               `json:"max_tokens"`
	Stream              bool              `json:"stream"`
	Model               string            `json:"model"`
	ResetConversation   bool              `json:"reset_conversation"`
	ConversationHistory []adapter.Message `json:"conversation_history"`
	Cookie              string            `json:"cookie,omitempty"`
}

type proxyResponse struct {
	Content  string `json:"content"`
	Response string `json:"response"`
	Error    string `json:"error"`
}

func (p *ProxyAdapter) Complete(ctx context.Context, req adapter.CompletionRequest) (string, error) {
	if p.endpoint == "" {
		return "", domain.ErrBackendUnavailable
	}

	body := proxyRequest{
		Prompt:              req.Prompt,
		Instructions:        req.Instructions,
		TopP:                req.Options.TopP,
		Temperature:         req.Options.Temperature,
		MaxTokens:           req.Options.MaxTokens,
		Model:               req.Options.Model,
		ConversationHistory: req.History,
		Cookie:              p.cookie,
	}
	if body.ConversationHistory == nil {
		body.ConversationHistory = []adapter.Message{}
	}
	if p.transcript {
		body.Prompt = Transcript(req.History, req.Prompt)
		body.ConversationHistory = []adapter.Message{}
	}

	b, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("proxy: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(b))
	if err != nil {
		return "", &adapter.UpstreamError{Backend: p.Provider(), Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return "", &adapter.UpstreamError{Backend: p.Provider(), Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", &adapter.UpstreamError{Backend: p.Provider(), Status: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &adapter.UpstreamError{Backend: p.Provider(), Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var out proxyResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", &adapter.UpstreamError{Backend: p.Provider(), Status: resp.StatusCode, Body: truncate(string(raw), 512)}
	}
	if out.Error != "" && out.Content == "" && out.Response == "" {
		return "", &adapter.UpstreamError{Backend: p.Provider(), Status: resp.StatusCode, Body: out.Error}
	}
	if out.Content != "" {
		return strings.TrimSpace(out.Content), nil
	}
	return strings.TrimSpace(out.Response), nil
}

// Transcript flattens history into a single text block ending with the prompt.
func Transcript(history []adapter.Message, prompt string) string {
	if len(history) == 0 {
		return prompt
	}
	var sb strings.Builder
	sb.WriteString("Conversation so far:\n")
	for _, m := range history {
		switch m.Role {
		case "assistant":
			sb.WriteString("Assistant: ")
		default:
			sb.WriteString("User: ")
		}
		sb.WriteString(m.Content)
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
	sb.WriteString(prompt)
	return sb.String()
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
