package tools

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/infra/metrics"
)

const (
	NotFoundResult = "Tool not found"
	EmptyResult    = "No results found"
)

// Tool is one capability the agent can call. Invoke may fail; the registry
// turns failures into text.
type Tool interface {
	Name() model.ToolName
	Description() string
	Invoke(ctx context.Context, inv *model.ToolInvocation) (string, error)
}

// Registry resolves tool names and runs them. Invoke always yields usable text.
type Registry struct {
	tools map[model.ToolName]Tool
	log   *zerolog.Logger
}

func NewRegistry(logger *zerolog.Logger, tools ...Tool) *Registry {
	compLog := logger.With().Str("component", "ToolRegistry").Logger()
	r := &Registry{tools: make(map[model.ToolName]Tool, len(tools)), log: &compLog}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

func (r *Registry) Register(t Tool) {
	r.tools[t.Name()] = t
}

func (r *Registry) Lookup(name model.ToolName) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names lists the registered tools in a stable order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, string(name))
	}
	sort.Strings(out)
	return out
}

// Invoke runs the named tool. Errors and panics become "Error: ..." text and an
// empty result becomes EmptyResult.
func (r *Registry) Invoke(ctx context.Context, inv *model.ToolInvocation) (text string) {
	if inv == nil {
		return NotFoundResult
	}
	t, ok := r.tools[inv.Tool]
	if !ok {
		r.log.Warn().Str("tool", string(inv.Tool)).Msg("tool not registered")
		metrics.IncToolInvocation(string(inv.Tool), "missing")
		return NotFoundResult
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error().Interface("panic", rec).Str("tool", string(inv.Tool)).Msg("tool panicked")
			metrics.IncToolInvocation(string(inv.Tool), "error")
			text = fmt.Sprintf("Error: %v", rec)
		}
	}()

	r.log.Debug().Str("tool", string(inv.Tool)).Interface("args", inv.Arguments()).Msg("invoking tool")
	out, err := t.Invoke(ctx, inv)
	switch {
	case err != nil:
		r.log.Error().Err(err).Str("tool", string(inv.Tool)).Msg("tool failed")
		metrics.IncToolInvocation(string(inv.Tool), "error")
		return "Error: " + err.Error()
	case strings.TrimSpace(out) == "":
		metrics.IncToolInvocation(string(inv.Tool), "empty")
		return EmptyResult
	}
	metrics.IncToolInvocation(string(inv.Tool), "ok")
	return out
}
