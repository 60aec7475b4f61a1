package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(
		completionLatencyMs,
		completionPromptTokens,
		toolInvocationsTotal,
		agentAnswersTotal,
	)
}

var (
	completionLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "completion_latency_ms",
			Help:    "Completion call latency distribution in milliseconds.",
			Buckets: []float64{50, 100, 200, 400, 800, 1600, 3000, 5000, 10000, 20000},
		},
		[]string{"provider", "model", "success"},
	)

	completionPromptTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completion_prompt_tokens",
			Help: "Estimated prompt tokens sent per provider/model.",
		},
		[]string{"provider", "model"},
	)

	toolInvocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_tool_invocations_total",
			Help: "Tool calls made by the agent, labeled by tool and outcome.",
		},
		[]string{"tool", "outcome"}, // ok | error | empty
	)

	agentAnswersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_answers_total",
			Help: "Final answers produced, labeled by source.",
		},
		[]string{"source"}, // model | apology | fallback
	)
)

func ObserveCompletion(provider, model string, promptTokens int, latency time.Duration, success bool) {
	completionLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latency / time.Millisecond))
	if promptTokens > 0 {
		completionPromptTokens.WithLabelValues(norm(provider), norm(model)).Add(float64(promptTokens))
	}
}

func IncToolInvocation(tool, outcome string) {
	toolInvocationsTotal.WithLabelValues(norm(tool), norm(outcome)).Inc()
}

func IncAnswer(source string) {
	agentAnswersTotal.WithLabelValues(norm(source)).Inc()
}
