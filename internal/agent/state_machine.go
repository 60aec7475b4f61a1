package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/model"
	"sharktank-agent/internal/domain/ports/adapter"
	"sharktank-agent/internal/infra/metrics"
)

type Phase string

const (
	PhaseStart              Phase = "start"
	PhaseDecidingTool       Phase = "deciding_tool"
	PhaseAwaitingToolResult Phase = "awaiting_tool_result"
	PhaseSynthesizing       Phase = "synthesizing"
	PhaseDone               Phase = "done"
)

// AgentState is the per-run state threaded through each step. It is never persisted.
type AgentState struct {
	Phase    Phase
	Question string
	// prior turns followed by the current user turn
	Turns        []model.ConversationTurn
	Pending      *model.ToolInvocation
	ToolResult   *string
	ToolExecuted bool
	ToolsUsed    []string
	// assistant turns produced during this run
	Produced []model.ConversationTurn
	// upstream failure absorbed into an apology, if any
	Degraded error
	Visits   map[Phase]int
}

// Outcome is the result of one run.
type Outcome struct {
	Answer    string
	ToolsUsed []string
	Degraded  error
	State     AgentState
}

// ToolInvoker runs a tool call and always returns text.
type ToolInvoker interface {
	Invoke(ctx context.Context, inv *model.ToolInvocation) string
}

// Observer is told about every phase transition.
type Observer func(from, to Phase)

type MachineConfig struct {
	Instructions string
	HistoryLimit int
	Options      adapter.CompletionOptions
}

// Machine answers one user message with at most one tool call.
type Machine struct {
	router *Router
	tools  ToolInvoker
	llm    adapter.CompletionClient
	cfg    MachineConfig
	now    func() time.Time
	log    *zerolog.Logger
}

func NewMachine(router *Router, tools ToolInvoker, llm adapter.CompletionClient, cfg MachineConfig, logger *zerolog.Logger) *Machine {
	if cfg.Instructions == "" {
		cfg.Instructions = SystemInstructions
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = MaxHistoryTurns
	}
	compLog := logger.With().Str("component", "AgentStateMachine").Logger()
	return &Machine{router: router, tools: tools, llm: llm, cfg: cfg, now: time.Now, log: &compLog}
}

// WithClock replaces the clock used for turn timestamps.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Run drives a fresh state from Start to Done. It only returns an error when
// ctx ends; every collaborator failure is folded into the answer.
func (m *Machine) Run(ctx context.Context, question string, history []model.ConversationTurn, obs Observer) (Outcome, error) {
	st := m.initial(question, history)
	for st.Phase != PhaseDone {
		if err := ctx.Err(); err != nil {
			return Outcome{State: st}, err
		}
		from := st.Phase
		next, err := m.step(ctx, st)
		if err != nil {
			return Outcome{State: st}, err
		}
		next.Visits[next.Phase]++
		if next.Visits[PhaseAwaitingToolResult] > 1 {
			return Outcome{State: next}, fmt.Errorf("agent: tool phase entered twice for one turn")
		}
		st = next
		if obs != nil {
			obs(from, st.Phase)
		}
	}

	answer := finalAnswer(st)
	return Outcome{Answer: answer, ToolsUsed: st.ToolsUsed, Degraded: st.Degraded, State: st}, nil
}

func (m *Machine) initial(question string, history []model.ConversationTurn) AgentState {
	turns := make([]model.ConversationTurn, 0, len(history)+1)
	turns = append(turns, history...)
	turns = append(turns, model.NewTurn(model.RoleUser, question, m.now()))
	return AgentState{
		Phase:    PhaseStart,
		Question: question,
		Turns:    turns,
		Visits:   map[Phase]int{PhaseStart: 1},
	}
}

func (m *Machine) step(ctx context.Context, st AgentState) (AgentState, error) {
	switch st.Phase {
	case PhaseStart:
		st.Phase = PhaseDecidingTool
		return st, nil
	case PhaseDecidingTool:
		return m.decide(st), nil
	case PhaseAwaitingToolResult:
		return m.runTool(ctx, st), nil
	case PhaseSynthesizing:
		return m.synthesize(ctx, st)
	}
	return st, fmt.Errorf("agent: no transition from %s", st.Phase)
}

func (m *Machine) decide(st AgentState) AgentState {
	if st.ToolExecuted || st.ToolResult != nil {
		st.Phase = PhaseSynthesizing
		return st
	}
	d := m.router.Decide(st.Question)
	if !d.UseTool || d.Invocation == nil {
		st.Phase = PhaseSynthesizing
		return st
	}
	m.log.Debug().Str("tool", string(d.Invocation.Tool)).Interface("args", d.Invocation.Arguments()).Msg("tool selected")
	st.Pending = d.Invocation
	st.Phase = PhaseAwaitingToolResult
	return st
}

func (m *Machine) runTool(ctx context.Context, st AgentState) AgentState {
	inv := st.Pending
	result := m.tools.Invoke(ctx, inv)
	st.ToolResult = &result
	st.ToolExecuted = true
	st.ToolsUsed = append(st.ToolsUsed, string(inv.Tool))
	st.Pending = nil
	st.Phase = PhaseSynthesizing
	return st
}

func (m *Machine) synthesize(ctx context.Context, st AgentState) (AgentState, error) {
	prompt := NoEvidencePrompt(st.Question)
	if st.ToolResult != nil && hasEvidence(*st.ToolResult) {
		prompt = EvidencePrompt(*st.ToolResult, st.Question)
	}
	req := adapter.CompletionRequest{
		Prompt:       prompt,
		Instructions: m.cfg.Instructions,
		History:      PromptHistory(st.Turns[:len(st.Turns)-1], m.cfg.HistoryLimit),
		Options:      m.cfg.Options,
	}

	text, err := m.llm.Complete(ctx, req)
	switch {
	case err == nil:
		metrics.IncAnswer("model")
	case ctx.Err() != nil:
		return st, ctx.Err()
	case errors.Is(err, domain.ErrBackendUnavailable):
		m.log.Warn().Msg("completion backend not configured")
		metrics.IncAnswer("apology")
		text = ApologyNotConfigured
	default:
		m.log.Error().Err(err).Str("provider", m.llm.Provider()).Msg("completion failed")
		metrics.IncAnswer("apology")
		text = ApologyUpstream
		st.Degraded = err
	}

	reply := model.NewTurn(model.RoleAssistant, strings.TrimSpace(text), m.now())
	st.Turns = append(st.Turns, reply)
	st.Produced = append(st.Produced, reply)
	st.Phase = PhaseDone
	return st, nil
}

// finalAnswer picks the last non-empty assistant turn of this run.
func finalAnswer(st AgentState) string {
	if st.Pending == nil {
		for i := len(st.Produced) - 1; i >= 0; i-- {
			if st.Produced[i].Content != "" {
				return st.Produced[i].Content
			}
		}
	}
	metrics.IncAnswer("fallback")
	return FallbackAnswer
}
