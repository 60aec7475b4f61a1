package websearch

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"sharktank-agent/internal/domain/ports/adapter"
)

var _ adapter.WebSearcher = (*DuckDuckGo)(nil)

// DuckDuckGo queries the Instant Answer API. It needs no key; results are the
// abstract (when present) followed by related topics.
type DuckDuckGo struct {
	base   string
	client *http.Client
}

func NewDuckDuckGo(base string, timeout time.Duration) *DuckDuckGo {
	if base == "" {
		base = "https://api.duckduckgo.com/"
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DuckDuckGo{base: base, client: &http.Client{Timeout: timeout}}
}

type ddgTopic struct {
	Text     string     `json:"Text"`
	FirstURL string     `json:"FirstURL"`
	Topics   []ddgTopic `json:"Topics"`
}

type ddgResponse struct {
	Heading        string     `json:"Heading"`
	AbstractText   string     `json:"AbstractText"`
	AbstractSource string     `json:"AbstractSource"`
	AbstractURL    string     `json:"AbstractURL"`
	RelatedTopics  []ddgTopic `json:"RelatedTopics"`
}

func (d *DuckDuckGo) Search(ctx context.Context, query string, maxResults int) ([]adapter.SearchHit, error) {
	if maxResults <= 0 {
		maxResults = 5
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("format", "json")
	q.Set("no_html", "1")
	q.Set("skip_disambig", "1")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.base+"?"+q.Encode(), nil)
	if err != nil {
		return nil, &adapter.UpstreamError{Backend: "duckduckgo", Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, &adapter.UpstreamError{Backend: "duckduckgo", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &adapter.UpstreamError{Backend: "duckduckgo", Status: resp.StatusCode, Body: string(raw)}
	}
	var out ddgResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &adapter.UpstreamError{Backend: "duckduckgo", Status: resp.StatusCode, Err: err}
	}

	hits := make([]adapter.SearchHit, 0, maxResults+1)
	if out.AbstractText != "" {
		title := out.Heading
		if title == "" {
			title = "Quick Answer"
		}
		hits = append(hits, adapter.SearchHit{
			Type:    "instant_answer",
			Title:   title,
			Snippet: out.AbstractText,
			URL:     out.AbstractURL,
		})
	}

	related := 0
	for _, t := range flatten(out.RelatedTopics) {
		if related >= maxResults {
			break
		}
		if t.Text == "" || t.FirstURL == "" {
			continue
		}
		title, _, _ := strings.Cut(t.Text, " - ")
		if title == "" {
			title = "Related"
		}
		hits = append(hits, adapter.SearchHit{
			Type:    "related_topic",
			Title:   title,
			Snippet: t.Text,
			URL:     t.FirstURL,
		})
		related++
	}
	return hits, nil
}

// grouped topics carry their entries under Topics
func flatten(topics []ddgTopic) []ddgTopic {
	out := make([]ddgTopic, 0, len(topics))
	for _, t := range topics {
		if len(t.Topics) > 0 {
			out = append(out, t.Topics...)
			continue
		}
		out = append(out, t)
	}
	return out
}
