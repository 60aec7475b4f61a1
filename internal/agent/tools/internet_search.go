package tools

import (
	"context"
	"fmt"
	"strings"

	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/adapter"
)

var _ Tool = (*InternetSearch)(nil)

// InternetSearch answers recency questions through a web search API.
type InternetSearch struct {
	searcher   adapter.WebSearcher
	maxResults int
}

func NewInternetSearch(searcher adapter.WebSearcher, maxResults int) *InternetSearch {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &InternetSearch{searcher: searcher, maxResults: maxResults}
}

func (s *InternetSearch) Name() model.ToolName { return model.ToolInternetSearch }

func (s *InternetSearch) Description() string {
	return "Searches the internet for current information about companies, entrepreneurs and outcomes after the show."
}

type webSearchResult struct {
	Success bool                `json:"success"`
	Query   string              `json:"query"`
	Results []adapter.SearchHit `json:"results"`
	Count   int                 `json:"count"`
	Message string              `json:"message,omitempty"`
	Error   string              `json:"error,omitempty"`
}

func (s *InternetSearch) Invoke(ctx context.Context, inv *model.ToolInvocation) (string, error) {
	if inv == nil || inv.InternetSearch == nil {
		return "", fmt.Errorf("internet_search: missing arguments")
	}
	query := strings.TrimSpace(inv.InternetSearch.Query)
	max := inv.InternetSearch.MaxResults
	if max <= 0 || max > s.maxResults {
		max = s.maxResults
	}

	hits, err := s.searcher.Search(ctx, query, max)
	if err != nil {
		return marshal(webSearchResult{
			Success: false,
			Query:   query,
			Results: []adapter.SearchHit{},
			Error:   err.Error(),
			Message: "Failed to perform internet search",
		}), nil
	}
	if len(hits) > max {
		hits = hits[:max]
	}
	out := webSearchResult{Success: true, Query: query, Results: hits, Count: len(hits)}
	if len(hits) == 0 {
		out.Results = []adapter.SearchHit{}
		out.Message = EmptyResult
	}
	return marshal(out), nil
}
