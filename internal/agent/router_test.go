//go:build !integration

package agent

import (
	"testing"

	"sharktank-agent/internal/domain/model"
)

func TestRouter_Decide(t *testing.T) {
	r := NewRouter(0)

	cases := []struct {
		name     string
		message  string
		wantTool model.ToolName
		wantExpr string
	}{
		{"calculate cue", "Calculate 100000 / 0.10 for me", model.ToolCalculator, "100000 / 0.10"},
		{"compute cue", "compute (250000*4)", model.ToolCalculator, "(250000*4)"},
		{"what is with arithmetic", "What is 15 * 3?", model.ToolCalculator, "15 * 3"},
		{"what is without arithmetic", "What is the deal from season 4?", model.ToolSharkTankSearch, ""},
		{"calculate beats recency", "Calculate today's 2+2", model.ToolCalculator, "2+2"},
		{"calculate without number", "calculate the valuation of Scrub Daddy", model.ToolSharkTankSearch, ""},
		{"recency word", "What is Scrub Daddy doing now?", model.ToolInternetSearch, ""},
		{"recency phrase", "Where are they now, the Bombas founders?", model.ToolInternetSearch, ""},
		{"still in business", "Is Ring still in business", model.ToolInternetSearch, ""},
		{"latest", "Latest news on Mark Cuban", model.ToolInternetSearch, ""},
		{"currently", "Who currently owns Ring?", model.ToolInternetSearch, ""},
		{"nowadays", "Is Scrub Daddy doing well nowadays?", model.ToolInternetSearch, ""},
		{"updating", "Are they updating the product line?", model.ToolInternetSearch, ""},
		{"todays", "Any todays news on Bombas?", model.ToolInternetSearch, ""},
		{"know contains now", "Do you know about Mark Cuban deals?", model.ToolInternetSearch, ""},
		{"default", "What is Shark Tank?", model.ToolSharkTankSearch, ""},
		{"default pitch", "Tell me about Mark Cuban", model.ToolSharkTankSearch, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := r.Decide(tc.message)
			if !d.UseTool || d.Invocation == nil {
				t.Fatalf("expected a tool decision, got %+v", d)
			}
			if d.Invocation.Tool != tc.wantTool {
				t.Fatalf("tool = %s, want %s", d.Invocation.Tool, tc.wantTool)
			}
			switch tc.wantTool {
			case model.ToolCalculator:
				if d.Invocation.Calculator.Expression != tc.wantExpr {
					t.Errorf("expression = %q, want %q", d.Invocation.Calculator.Expression, tc.wantExpr)
				}
			case model.ToolInternetSearch:
				if d.Invocation.InternetSearch.Query != tc.message {
					t.Errorf("query = %q", d.Invocation.InternetSearch.Query)
				}
				if d.Invocation.InternetSearch.MaxResults != DefaultSearchResults {
					t.Errorf("max results = %d", d.Invocation.InternetSearch.MaxResults)
				}
			case model.ToolSharkTankSearch:
				if d.Invocation.SharkTankSearch.Query != tc.message {
					t.Errorf("query = %q", d.Invocation.SharkTankSearch.Query)
				}
			}
		})
	}
}

func TestRouter_RecencyNeverRoutesToPitchSearch(t *testing.T) {
	r := NewRouter(5)
	cues := append([]string{"nowadays", "updated", "currently"}, recencyCues...)
	for _, cue := range cues {
		msg := "Tell me about Bombas " + cue
		if got := r.Decide(msg).Invocation.Tool; got != model.ToolInternetSearch {
			t.Errorf("%q routed to %s", msg, got)
		}
	}
}

func TestRouter_MaxSearchResults(t *testing.T) {
	r := NewRouter(3)
	d := r.Decide("What is Ring doing now?")
	if d.Invocation.InternetSearch == nil || d.Invocation.InternetSearch.MaxResults != 3 {
		t.Fatalf("invocation = %+v", d.Invocation)
	}
}
