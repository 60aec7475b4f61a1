package retrieval

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sharktank-agent/internal/domain/ports/adapter"
)

var _ adapter.Retriever = (*QdrantRetriever)(nil)

// DefaultQuery replaces an empty search text so the embedder has input.
const DefaultQuery = "shark tank pitch deal"

type QdrantOptions struct {
	QdrantURL      string
	APIKey         string
	Collection     string
	OllamaURL      string
	EmbeddingModel string
	Timeout        time.Duration
}

// QdrantRetriever embeds the query with Ollama and runs a filtered vector
// search against a Qdrant collection.
type QdrantRetriever struct {
	opts   QdrantOptions
	client *http.Client
	log    *zerolog.Logger
}

func NewQdrantRetriever(opts QdrantOptions, logger *zerolog.Logger) *QdrantRetriever {
	if opts.Timeout <= 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.Collection == "" {
		opts.Collection = "shark_tank_pitches"
	}
	if opts.EmbeddingModel == "" {
		opts.EmbeddingModel = "mxbai-embed-large"
	}
	opts.QdrantURL = strings.TrimRight(opts.QdrantURL, "/")
	opts.OllamaURL = strings.TrimRight(opts.OllamaURL, "/")
	compLog := logger.With().Str("component", "QdrantRetriever").Logger()
	return &QdrantRetriever{opts: opts, client: &http.Client{Timeout: opts.Timeout}, log: &compLog}
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Embedding  []float32   `json:"embedding"`
}

// Embed returns the embedding of text from Ollama's /api/embed.
func (q *QdrantRetriever) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("embed: empty text")
	}
	var resp embedResponse
	req := embedRequest{Model: q.opts.EmbeddingModel, Input: text}
	if err := doJSON(ctx, q.client, "ollama", http.MethodPost, q.opts.OllamaURL+"/api/embed", nil, req, &resp); err != nil {
		return nil, err
	}
	vec := resp.Embedding
	if len(resp.Embeddings) > 0 {
		vec = resp.Embeddings[0]
	}
	if len(vec) == 0 {
		return nil, &adapter.UpstreamError{Backend: "ollama", Body: "empty embedding"}
	}
	return vec, nil
}

type qdrantHit struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

type qdrantSearchResponse struct {
	Status any         `json:"status"`
	Result []qdrantHit `json:"result"`
}

func (q *QdrantRetriever) Search(ctx context.Context, query string, filter adapter.Filter, limit int) ([]adapter.ScoredPayload, error) {
	if limit <= 0 {
		limit = 5
	}
	text := strings.TrimSpace(query)
	if text == "" {
		text = DefaultQuery
	}
	vec, err := q.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"vector":       vec,
		"limit":        limit,
		"with_payload": true,
		"with_vector":  false,
	}
	if f := TranslateFilter(filter); f != nil {
		body["filter"] = f
	}

	headers := map[string]string{}
	if q.opts.APIKey != "" {
		headers["api-key"] = q.opts.APIKey
	}
	path := fmt.Sprintf("%s/collections/%s/points/search", q.opts.QdrantURL, url.PathEscape(q.opts.Collection))

	var resp qdrantSearchResponse
	if err := doJSON(ctx, q.client, "qdrant", http.MethodPost, path, headers, body, &resp); err != nil {
		return nil, err
	}
	if s, ok := resp.Status.(string); ok && s != "" && !strings.EqualFold(s, "ok") {
		return nil, &adapter.UpstreamError{Backend: "qdrant", Body: s}
	}

	hits := make([]adapter.ScoredPayload, 0, len(resp.Result))
	for _, h := range resp.Result {
		hits = append(hits, adapter.ScoredPayload{Payload: h.Payload, Score: h.Score})
	}
	out := DedupeBySummary(hits)
	q.log.Debug().Int("raw", len(hits)).Int("unique", len(out)).Msg("qdrant search")
	return out, nil
}
