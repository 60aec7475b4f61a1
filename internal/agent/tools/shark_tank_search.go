package tools

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/adapter"
)

const NoPitchesMessage = "No pitches found matching the query."

var _ Tool = (*SharkTankSearch)(nil)

// SharkTankSearch grounds answers in the pitch database.
type SharkTankSearch struct {
	retriever adapter.Retriever
	limit     int
}

func NewSharkTankSearch(retriever adapter.Retriever, limit int) *SharkTankSearch {
	if limit <= 0 {
		limit = 5
	}
	return &SharkTankSearch{retriever: retriever, limit: limit}
}

func (s *SharkTankSearch) Name() model.ToolName { return model.ToolSharkTankSearch }

func (s *SharkTankSearch) Description() string {
	return "Searches Shark Tank pitches: companies, entrepreneurs, asks, valuations, deals and investors."
}

type Financial struct {
	AskAmount     float64 `json:"ask_amount,omitempty"`
	Valuation     float64 `json:"valuation,omitempty"`
	EquityOffered float64 `json:"equity_offered,omitempty"`
}

type Deal struct {
	Made     bool   `json:"made"`
	Investor string `json:"investor,omitempty"`
}

// Pitch is the normalized shape of one retrieved pitch.
type Pitch struct {
	Company      string    `json:"company"`
	Entrepreneur string    `json:"entrepreneur,omitempty"`
	Season       int       `json:"season,omitempty"`
	Episode      int       `json:"episode,omitempty"`
	Financial    Financial `json:"financial"`
	Deal         Deal      `json:"deal"`
	Industry     string    `json:"industry,omitempty"`
	Summary      string    `json:"summary,omitempty"`
	KeyMoment    string    `json:"key_moment,omitempty"`
	VideoURL     string    `json:"video_url,omitempty"`
	Score        float64   `json:"score"`
}

type pitchSearchResult struct {
	Success bool    `json:"success"`
	Query   string  `json:"query"`
	Count   int     `json:"count"`
	Results []Pitch `json:"results"`
	Message string  `json:"message,omitempty"`
	Error   string  `json:"error,omitempty"`
}

func (s *SharkTankSearch) Invoke(ctx context.Context, inv *model.ToolInvocation) (string, error) {
	if inv == nil || inv.SharkTankSearch == nil {
		return "", fmt.Errorf("shark_tank_search: missing arguments")
	}
	query := strings.TrimSpace(inv.SharkTankSearch.Query)

	hits, err := s.retriever.Search(ctx, query, nil, s.limit)
	if err != nil {
		return marshal(pitchSearchResult{
			Success: false,
			Query:   query,
			Results: []Pitch{},
			Error:   err.Error(),
			Message: "Failed to search the pitch database",
		}), nil
	}
	if len(hits) == 0 {
		return marshal(pitchSearchResult{
			Success: true,
			Query:   query,
			Results: []Pitch{},
			Message: NoPitchesMessage,
		}), nil
	}

	pitches := make([]Pitch, 0, len(hits))
	for _, h := range hits {
		pitches = append(pitches, PitchFromPayload(h.Payload, h.Score))
	}
	return marshal(pitchSearchResult{Success: true, Query: query, Count: len(pitches), Results: pitches}), nil
}

// PitchFromPayload maps a raw vector-store payload row to a Pitch.
func PitchFromPayload(p map[string]any, score float64) Pitch {
	return Pitch{
		Company:      str(p["company"]),
		Entrepreneur: str(p["entrepreneur"]),
		Season:       int(num(p["season"])),
		Episode:      int(num(p["episode"])),
		Financial: Financial{
			AskAmount:     num(p["ask_amount"]),
			Valuation:     num(p["valuation"]),
			EquityOffered: num(p["equity_offered"]),
		},
		Deal: Deal{
			Made:     boolean(p["deal_made"]),
			Investor: str(p["investor_name"]),
		},
		Industry:  str(p["industry"]),
		Summary:   str(p["parent_summary"]),
		KeyMoment: str(p["chunk_text"]),
		VideoURL:  str(p["video_url"]),
		Score:     score,
	}
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	}
	return fmt.Sprint(v)
}

func num(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int:
		return float64(t)
	case int64:
		return float64(t)
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f
	}
	return 0
}

func boolean(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	}
	return false
}
