package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(sessionsExpiredTotal, rateLimitedTotal) }

var (
	sessionsExpiredTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_sessions_expired_total",
			Help: "Conversation sessions removed by the expiry sweep.",
		},
	)

	rateLimitedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limited_total",
			Help: "Requests rejected by the submission rate limiter.",
		},
		[]string{"route"},
	)
)

func AddSessionsExpired(n int) {
	sessionsExpiredTotal.Add(float64(n))
}

func IncRateLimited(route string) {
	rateLimitedTotal.WithLabelValues(norm(route)).Inc()
}
