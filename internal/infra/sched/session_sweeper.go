package sched

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sharktank-agent/internal/domain/ports/repository"
	"sharktank-agent/internal/infra/metrics"
)

// SessionSweeper expires conversations idle longer than ttl.
type SessionSweeper struct {
	store    repository.SessionStore
	interval time.Duration
	ttl      time.Duration
	now      func() time.Time
	log      *zerolog.Logger
}

func NewSessionSweeper(store repository.SessionStore, interval, ttl time.Duration, logger *zerolog.Logger) *SessionSweeper {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	compLog := logger.With().Str("component", "SessionSweeper").Logger()
	return &SessionSweeper{store: store, interval: interval, ttl: ttl, now: time.Now, log: &compLog}
}

// WithClock replaces the clock used to compute idleness.
func (s *SessionSweeper) WithClock(now func() time.Time) *SessionSweeper {
	s.now = now
	return s
}

func (s *SessionSweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Dur("ttl", s.ttl).Msg("Starting session sweeper")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Stopping session sweeper")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *SessionSweeper) sweep(ctx context.Context) {
	n, err := s.store.SweepExpired(ctx, s.now(), s.ttl)
	if err != nil {
		s.log.Error().Err(err).Msg("session sweep failed")
		return
	}
	if n > 0 {
		metrics.AddSessionsExpired(n)
		s.log.Info().Int("count", n).Msg("expired sessions removed")
	}
}
