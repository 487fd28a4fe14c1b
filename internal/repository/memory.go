package repository

import (
	"context"
	"sync"
	"time"

	"mindbook/internal/models"
)

type attemptEntry struct {
	attempt   *models.BookingAttempt
	expiresAt time.Time
}

// MemoryAttemptRepository keeps attempt snapshots in process memory. It is
// the failover target when Redis is unreachable.
type MemoryAttemptRepository struct {
	attempts sync.Map
	ttl      time.Duration
}

func NewMemoryAttemptRepository(ttl time.Duration) *MemoryAttemptRepository {
	return &MemoryAttemptRepository{
		ttl: ttl,
	}
}

func (r *MemoryAttemptRepository) GetAttempt(ctx context.Context, transactionRef string) (*models.BookingAttempt, error) {
	val, ok := r.attempts.Load(transactionRef)
	if !ok {
		return nil, nil
	}
	entry := val.(*attemptEntry)
	if time.Now().After(entry.expiresAt) {
		r.attempts.Delete(transactionRef)
		return nil, nil
	}
	return entry.attempt, nil
}

func (r *MemoryAttemptRepository) SaveAttempt(ctx context.Context, attempt *models.BookingAttempt) error {
	r.attempts.Store(attempt.TransactionRef, &attemptEntry{
		attempt:   attempt,
		expiresAt: time.Now().Add(r.ttl),
	})
	return nil
}

func (r *MemoryAttemptRepository) DeleteAttempt(ctx context.Context, transactionRef string) error {
	r.attempts.Delete(transactionRef)
	return nil
}
