package ai

import (
	"context"
	"sync"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"sharktank-agent/internal/domain/ports/adapter"
	"sharktank-agent/internal/infra/metrics"
)

// TokenCounter estimates the token count of text for model.
type TokenCounter func(model, text string) int

var _ adapter.CompletionClient = (*meteredAI)(nil)

type meteredAI struct {
	inner adapter.CompletionClient
	count TokenCounter
	model string
}

// NewMeteredAI records latency and estimated prompt tokens for every call.
// A nil counter uses tiktoken.
func NewMeteredAI(inner adapter.CompletionClient, defaultModel string, count TokenCounter) adapter.CompletionClient {
	if count == nil {
		count = NewTiktokenCounter().Count
	}
	return &meteredAI{inner: inner, count: count, model: defaultModel}
}

func (m *meteredAI) Provider() string { return m.inner.Provider() }

func (m *meteredAI) Complete(ctx context.Context, req adapter.CompletionRequest) (string, error) {
	model := modelOrDefault(req.Options.Model, m.model)
	tokens := m.count(model, promptText(req))

	start := time.Now()
	out, err := m.inner.Complete(ctx, req)
	metrics.ObserveCompletion(m.inner.Provider(), model, tokens, time.Since(start), err == nil)
	return out, err
}

func promptText(req adapter.CompletionRequest) string {
	n := len(req.Instructions) + len(req.Prompt)
	for _, h := range req.History {
		n += len(h.Content) + 1
	}
	buf := make([]byte, 0, n+2)
	buf = append(buf, req.Instructions...)
	buf = append(buf, '\n')
	for _, h := range req.History {
		buf = append(buf, h.Content...)
		buf = append(buf, '\n')
	}
	buf = append(buf, req.Prompt...)
	return string(buf)
}

// TiktokenCounter caches encodings per model. Models tiktoken does not know
// use cl100k_base; if no encoding loads at all it falls back to len/4.
type TiktokenCounter struct {
	mu   sync.Mutex
	encs map[string]*tiktoken.Tiktoken
}

func NewTiktokenCounter() *TiktokenCounter {
	return &TiktokenCounter{encs: make(map[string]*tiktoken.Tiktoken)}
}

func (t *TiktokenCounter) Count(model, text string) int {
	if text == "" {
		return 0
	}
	enc := t.encoding(model)
	if enc == nil {
		return EstimateTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *TiktokenCounter) encoding(model string) *tiktoken.Tiktoken {
	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.encs[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err != nil {
			enc = nil
		}
	}
	t.encs[model] = enc
	return enc
}

// EstimateTokens is the rough four-bytes-per-token rule.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}
