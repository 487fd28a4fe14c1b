package worker

import (
	"context"
	"time"

	"mindbook/internal/metrics"

	"github.com/rs/zerolog"
)

// HoldReleaser releases expired slot holds and reports how many were swept.
type HoldReleaser interface {
	ReleaseStaleHolds(ctx context.Context) (int, error)
}

// HoldSweeper periodically releases holds whose payment never resolved. A
// client that abandons checkout must not keep a slot locked forever.
type HoldSweeper struct {
	releaser HoldReleaser
	interval time.Duration
	retry    RetryPolicy
	logger   *zerolog.Logger
}

func NewHoldSweeper(releaser HoldReleaser, interval time.Duration, retry RetryPolicy, logger *zerolog.Logger) *HoldSweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if retry == (RetryPolicy{}) {
		retry = SweepRetryPolicy()
	}
	if retry.MaxRetries == 0 {
		retry.MaxRetries = 3
	}

	return &HoldSweeper{
		releaser: releaser,
		interval: interval,
		retry:    retry,
		logger:   logger,
	}
}

// Start runs the sweep loop until ctx is done.
func (s *HoldSweeper) Start(ctx context.Context) {
	s.logger.Info().Dur("interval", s.interval).Msg("Hold sweeper started")
	defer s.logger.Info().Msg("Hold sweeper stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *HoldSweeper) sweep(ctx context.Context) {
	for attempt := 1; attempt <= s.retry.MaxRetries; attempt++ {
		released, err := s.releaser.ReleaseStaleHolds(ctx)
		if err == nil {
			if released > 0 {
				metrics.AddStaleHoldsReleased(released)
				s.logger.Info().Int("released", released).Msg("Released stale holds")
			}
			return
		}

		s.logger.Error().Err(err).Int("attempt", attempt).Msg("Stale hold sweep failed")
		if attempt == s.retry.MaxRetries {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(s.retry.NextDelay(attempt)):
		}
	}
}
