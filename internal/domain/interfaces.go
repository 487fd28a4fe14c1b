package domain

import (
	"context"
	"time"

	"mindbook/internal/gateway"
	"mindbook/internal/models"
)

// Repository is the durable store behind the orchestrator: slot ledger,
// payment intents and the session registry.
type Repository interface {
	CreateSlot(ctx context.Context, slot *models.Slot) error
	GetSlot(ctx context.Context, id int64) (*models.Slot, error)
	ListAvailableSlots(ctx context.Context, therapistID string, from, to time.Time) ([]*models.Slot, error)
	ReserveSlot(ctx context.Context, slotID int64) error
	ReleaseSlot(ctx context.Context, slotID int64) error

	CreateIntent(ctx context.Context, intent *models.PaymentIntent) error
	GetIntentByRef(ctx context.Context, transactionRef string) (*models.PaymentIntent, error)
	UpdateIntentStatus(ctx context.Context, transactionRef, status string) error
	ListStaleActiveIntents(ctx context.Context, maxAge time.Duration) ([]*models.PaymentIntent, error)
	GetActiveIntentForSlot(ctx context.Context, clientID string, slotID int64) (*models.PaymentIntent, error)

	CreateSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, id string) (*models.Session, error)
	GetSessionByTransactionRef(ctx context.Context, transactionRef string) (*models.Session, error)
	CancelSession(ctx context.Context, id, cancelledBy, reason string) error
	CompleteSession(ctx context.Context, id string) error
	SetSessionMeetingURL(ctx context.Context, id, url string) error
	GetClientSessions(ctx context.Context, clientID string) ([]*models.Session, error)

	GetTherapist(ctx context.Context, id string) (*models.Therapist, error)
	GetActiveTherapists(ctx context.Context) ([]*models.Therapist, error)
}

// PaymentGateway wraps the external wallet provider. It knows about money
// only, never about slots or sessions.
type PaymentGateway interface {
	Initiate(ctx context.Context, req gateway.InitiateRequest) (*gateway.InitiateResult, error)
	Verify(ctx context.Context, transactionRef string) (*gateway.VerificationOutcome, error)
}

// MeetingLinks obtains a join URL for a confirmed session. Best effort: a
// failure never blocks confirmation.
type MeetingLinks interface {
	CreateRoom(ctx context.Context, sessionID string, scheduledTime time.Time) (string, error)
}

// AttemptStore caches in-flight booking attempts for the polling hot path.
type AttemptStore interface {
	GetAttempt(ctx context.Context, transactionRef string) (*models.BookingAttempt, error)
	SaveAttempt(ctx context.Context, attempt *models.BookingAttempt) error
	DeleteAttempt(ctx context.Context, transactionRef string) error
}

// EventPublisher fans domain events out to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
