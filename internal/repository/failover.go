package repository

import (
	"context"
	"sync"
	"time"

	"mindbook/internal/domain"
	"mindbook/internal/models"

	"github.com/rs/zerolog"
)

const primaryProbeInterval = time.Minute

// FailoverAttemptRepository routes attempt operations to the primary store
// and falls back to an in-memory store when the primary misbehaves. A downed
// primary is re-probed at most once a minute. isDown and lastCheck are
// touched from concurrent request goroutines, so both live behind mu.
type FailoverAttemptRepository struct {
	primary  domain.AttemptStore
	fallback domain.AttemptStore
	logger   *zerolog.Logger

	mu        sync.Mutex
	isDown    bool
	lastCheck time.Time
}

func NewFailoverAttemptRepository(primary, fallback domain.AttemptStore, logger *zerolog.Logger) *FailoverAttemptRepository {
	return &FailoverAttemptRepository{
		primary:  primary,
		fallback: fallback,
		logger:   logger,
	}
}

// tryPrimary reports whether the primary should be attempted: always while
// healthy, and once per probe interval while down. Claiming the probe resets
// lastCheck so concurrent callers do not pile onto a dead primary.
func (r *FailoverAttemptRepository) tryPrimary() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.isDown {
		return true
	}
	if time.Since(r.lastCheck) > primaryProbeInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverAttemptRepository) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary attempt store failed, falling back to memory")
	r.mu.Lock()
	r.isDown = true
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

func (r *FailoverAttemptRepository) markUp() {
	r.mu.Lock()
	r.isDown = false
	r.mu.Unlock()
}

func (r *FailoverAttemptRepository) GetAttempt(ctx context.Context, transactionRef string) (*models.BookingAttempt, error) {
	if r.tryPrimary() {
		attempt, err := r.primary.GetAttempt(ctx, transactionRef)
		if err == nil {
			r.markUp()
			return attempt, nil
		}
		r.markDown(err)
	}
	return r.fallback.GetAttempt(ctx, transactionRef)
}

func (r *FailoverAttemptRepository) SaveAttempt(ctx context.Context, attempt *models.BookingAttempt) error {
	if r.tryPrimary() {
		err := r.primary.SaveAttempt(ctx, attempt)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.SaveAttempt(ctx, attempt)
}

func (r *FailoverAttemptRepository) DeleteAttempt(ctx context.Context, transactionRef string) error {
	if r.tryPrimary() {
		err := r.primary.DeleteAttempt(ctx, transactionRef)
		if err == nil {
			r.markUp()
			return nil
		}
		r.markDown(err)
	}
	return r.fallback.DeleteAttempt(ctx, transactionRef)
}
