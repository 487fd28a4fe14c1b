package service

import (
	"errors"
	"fmt"
)

var (
	// ErrTooLate rejects a client cancellation inside the cancellation
	// window. Not retryable.
	ErrTooLate = errors.New("too late to cancel: session starts within the cancellation window")

	// ErrAttemptResolved rejects operations on a booking attempt that
	// already reached a terminal state.
	ErrAttemptResolved = errors.New("booking attempt already resolved")

	// ErrSessionNotStarted rejects completing a session before its
	// scheduled time.
	ErrSessionNotStarted = errors.New("session has not started yet")
)

// CompensationError means the payment was captured but the session write
// failed. It is never retried automatically: retrying could double-charge or
// double-book. Carries full context for manual reconciliation.
type CompensationError struct {
	TransactionRef string
	ClientID       string
	SlotID         int64
	Amount         int64
	Currency       string
	Cause          error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("compensation required for transaction %s (client %s, slot %d, %d %s): %v",
		e.TransactionRef, e.ClientID, e.SlotID, e.Amount, e.Currency, e.Cause)
}

func (e *CompensationError) Unwrap() error {
	return e.Cause
}
