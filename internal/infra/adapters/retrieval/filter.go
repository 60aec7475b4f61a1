package retrieval

import (
	"sort"
	"strings"

	"sharktank-agent/internal/domain/ports/adapter"
)

// TranslateFilter turns a pitch filter into a Qdrant filter object. It returns
// nil when no predicate survives.
func TranslateFilter(f adapter.Filter) map[string]any {
	if len(f) == 0 {
		return nil
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]any, 0, len(keys))
	for _, key := range keys {
		value := f[key]
		if skipValue(value) {
			continue
		}
		switch {
		case key == "deal_made":
			if b, ok := boolValue(value); ok {
				must = append(must, map[string]any{"key": key, "match": map[string]any{"value": b}})
			}
		case strings.HasSuffix(key, "_gt"):
			if n, ok := numberValue(value); ok {
				must = append(must, map[string]any{"key": strings.TrimSuffix(key, "_gt"), "range": map[string]any{"gt": n}})
			}
		case strings.HasSuffix(key, "_lt"):
			if n, ok := numberValue(value); ok {
				must = append(must, map[string]any{"key": strings.TrimSuffix(key, "_lt"), "range": map[string]any{"lt": n}})
			}
		default:
			must = append(must, map[string]any{"key": key, "match": map[string]any{"value": value}})
		}
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func skipValue(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return x == "" || x == "any"
	case int:
		return x == 0
	case int64:
		return x == 0
	case float64:
		return x == 0
	}
	return false
}

func boolValue(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		switch x {
		case "true":
			return true, true
		case "false":
			return false, true
		}
	}
	return false, false
}

func numberValue(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	}
	return 0, false
}

// DedupeBySummary keeps the best hit per parent_summary, preserving rank
// order. Hits without a summary are dropped.
func DedupeBySummary(hits []adapter.ScoredPayload) []adapter.ScoredPayload {
	seen := make(map[string]struct{}, len(hits))
	out := make([]adapter.ScoredPayload, 0, len(hits))
	for _, h := range hits {
		s, _ := h.Payload["parent_summary"].(string)
		if s == "" {
			continue
		}
		if _, dup := seen[s]; dup {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, h)
	}
	return out
}
