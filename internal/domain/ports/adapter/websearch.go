package adapter

import "context"

type SearchHit struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
	Type    string `json:"type"` // instant_answer | related_topic
}

// WebSearcher is the port for the internet search API.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]SearchHit, error)
}
