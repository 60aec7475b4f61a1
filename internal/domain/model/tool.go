package model

type ToolName string

const (
	ToolCalculator      ToolName = "calculator"
	ToolInternetSearch  ToolName = "internet_search"
	ToolSharkTankSearch ToolName = "shark_tank_search"
)

type CalculatorArgs struct {
	Expression string `json:"expression"`
}

type InternetSearchArgs struct {
	Query      string `json:"query"`
	MaxResults int    `json:"max_results"`
}

type SharkTankSearchArgs struct {
	Query string `json:"query"`
}

// ToolInvocation names one tool and carries the argument variant for it.
type ToolInvocation struct {
	Tool            ToolName
	Calculator      *CalculatorArgs
	InternetSearch  *InternetSearchArgs
	SharkTankSearch *SharkTankSearchArgs
}

func CalculatorCall(expr string) *ToolInvocation {
	return &ToolInvocation{Tool: ToolCalculator, Calculator: &CalculatorArgs{Expression: expr}}
}

func InternetSearchCall(query string, max int) *ToolInvocation {
	return &ToolInvocation{Tool: ToolInternetSearch, InternetSearch: &InternetSearchArgs{Query: query, MaxResults: max}}
}

func SharkTankSearchCall(query string) *ToolInvocation {
	return &ToolInvocation{Tool: ToolSharkTankSearch, SharkTankSearch: &SharkTankSearchArgs{Query: query}}
}

// Arguments flattens the active variant for logging.
func (t *ToolInvocation) Arguments() map[string]any {
	switch {
	case t == nil:
		return nil
	case t.Calculator != nil:
		return map[string]any{"expression": t.Calculator.Expression}
	case t.InternetSearch != nil:
		return map[string]any{"query": t.InternetSearch.Query, "max_results": t.InternetSearch.MaxResults}
	case t.SharkTankSearch != nil:
		return map[string]any{"query": t.SharkTankSearch.Query}
	}
	return map[string]any{}
}
