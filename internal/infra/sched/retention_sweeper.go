package sched

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"sharktank-agent/internal/domain"
	"sharktank-agent/internal/domain/ports/repository"
	"sharktank-agent/internal/infra/metrics"
	red "sharktank-agent/internal/infra/redis"
)

const retentionLockKey = "lock:queue:retention"

// RetentionSweeper deletes finished jobs older than the retention window.
// With a locker only one replica sweeps per tick.
type RetentionSweeper struct {
	queue     repository.JobQueue
	locker    red.Locker
	interval  time.Duration
	olderThan time.Duration
	log       *zerolog.Logger
}

// NewRetentionSweeper builds the sweeper. locker may be nil.
func NewRetentionSweeper(queue repository.JobQueue, locker red.Locker, interval, olderThan time.Duration, logger *zerolog.Logger) *RetentionSweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if olderThan <= 0 {
		olderThan = 24 * time.Hour
	}
	compLog := logger.With().Str("component", "RetentionSweeper").Logger()
	return &RetentionSweeper{queue: queue, locker: locker, interval: interval, olderThan: olderThan, log: &compLog}
}

func (s *RetentionSweeper) Run(ctx context.Context) error {
	s.log.Info().Dur("interval", s.interval).Dur("older_than", s.olderThan).Msg("Starting retention sweeper")
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("Stopping retention sweeper")
			return ctx.Err()
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *RetentionSweeper) sweep(ctx context.Context) {
	if s.locker != nil {
		token, err := s.locker.TryLock(ctx, retentionLockKey, s.interval/2)
		if errors.Is(err, domain.ErrLockHeld) {
			s.log.Debug().Msg("another replica holds the retention lock")
			return
		}
		if err != nil {
			s.log.Error().Err(err).Msg("retention lock failed")
			return
		}
		defer func() {
			if err := s.locker.Unlock(context.Background(), retentionLockKey, token); err != nil {
				s.log.Warn().Err(err).Msg("retention unlock failed")
			}
		}()
	}

	n, err := s.queue.Clean(ctx, s.olderThan)
	if err != nil {
		s.log.Error().Err(err).Msg("retention sweep failed")
		return
	}
	if n > 0 {
		metrics.AddCleaned(n)
		s.log.Info().Int("count", n).Msg("finished jobs removed")
	}
}
