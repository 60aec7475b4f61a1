package adapter

import "context"

// Filter is a conjunction of field predicates over the pitch schema, e.g.
// {"investor_name": "Mark Cuban", "deal_made": "true", "valuation_gt": 1000000}.
// Keys ending in _gt/_lt are ranges; "", 0 and "any" mean no constraint.
type Filter map[string]any

// ScoredPayload is one ranked hit from the retrieval collaborator.
type ScoredPayload struct {
	Payload map[string]any `json:"payload"`
	Score   float64        `json:"score"`
}

// Retriever is the port for the pitch vector store.
// Zero results is a valid outcome and is returned as an empty slice.
type Retriever interface {
	Search(ctx context.Context, query string, filter Filter, limit int) ([]ScoredPayload, error)
}
