package retrieval

import (
	"context"
	"net/http"
	"strings"
	"time"

	"sharktank-agent/internal/domain/ports/adapter"
)

var _ adapter.Retriever = (*ServiceRetriever)(nil)

// ServiceRetriever calls a retrieval service exposing POST /search.
type ServiceRetriever struct {
	base   string
	client *http.Client
}

func NewServiceRetriever(base string, timeout time.Duration) *ServiceRetriever {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ServiceRetriever{base: strings.TrimRight(base, "/"), client: &http.Client{Timeout: timeout}}
}

type serviceRequest struct {
	Query  string         `json:"query"`
	Filter adapter.Filter `json:"filter,omitempty"`
	Limit  int            `json:"limit,omitempty"`
}

type serviceResponse struct {
	Results []map[string]any `json:"results"`
	Count   int              `json:"count"`
}

func (s *ServiceRetriever) Search(ctx context.Context, query string, filter adapter.Filter, limit int) ([]adapter.ScoredPayload, error) {
	var resp serviceResponse
	req := serviceRequest{Query: query, Filter: filter, Limit: limit}
	if err := doJSON(ctx, s.client, "retrieval", http.MethodPost, s.base+"/search", nil, req, &resp); err != nil {
		return nil, err
	}

	out := make([]adapter.ScoredPayload, 0, len(resp.Results))
	for _, row := range resp.Results {
		if row == nil {
			continue
		}
		// rows are either bare payloads or {payload, score}
		if p, ok := row["payload"].(map[string]any); ok {
			score, _ := row["score"].(float64)
			out = append(out, adapter.ScoredPayload{Payload: p, Score: score})
			continue
		}
		score, _ := row["score"].(float64)
		out = append(out, adapter.ScoredPayload{Payload: row, Score: score})
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
