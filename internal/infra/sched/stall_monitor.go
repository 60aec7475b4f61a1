package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sharktank-agent/internal/domain/ports/repository"
	"sharktank-agent/internal/infra/metrics"
)

// StallMonitor returns jobs with expired locks to the queue, failing the ones
// that stalled too often.
type StallMonitor struct {
	queue      repository.JobQueue
	interval   time.Duration
	maxStalled int
	log        *zerolog.Logger
}

func NewStallMonitor(queue repository.JobQueue, interval time.Duration, maxStalled int, logger *zerolog.Logger) *StallMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	compLog := logger.With().Str("component", "StallMonitor").Logger()
	return &StallMonitor{queue: queue, interval: interval, maxStalled: maxStalled, log: &compLog}
}

func (m *StallMonitor) Run(ctx context.Context) error {
	m.log.Info().Dur("interval", m.interval).Int("max_stalled", m.maxStalled).Msg("Starting stall monitor")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.log.Info().Msg("Stopping stall monitor")
			return ctx.Err()
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *StallMonitor) check(ctx context.Context) {
	requeued, failed, err := m.queue.RecoverStalled(ctx, m.maxStalled)
	if err != nil {
		m.log.Error().Err(err).Msg("stall check failed")
		return
	}
	if requeued+failed > 0 {
		metrics.AddStalled(requeued, failed)
		m.log.Warn().Int("requeued", requeued).Int("failed", failed).Msg("stalled jobs recovered")
	}
}
