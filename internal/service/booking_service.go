package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"mindbook/internal/database"
	"mindbook/internal/domain"
	"mindbook/internal/events"
	"mindbook/internal/gateway"
	"mindbook/internal/metrics"
	"mindbook/internal/models"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// BookingOutcome is the resolution of one poll cycle.
type BookingOutcome struct {
	Status    string `json:"status"`
	SessionID string `json:"session_id,omitempty"`
}

// Poll outcome statuses.
const (
	OutcomePending   = "pending"
	OutcomeConfirmed = "confirmed"
	OutcomeFailed    = "failed"
)

// BookingStart is returned to a client entering checkout.
type BookingStart struct {
	TransactionRef string `json:"transaction_ref"`
	RedirectURL    string `json:"redirect_url"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

// BookingService orchestrates the slot ledger, the payment gateway and the
// session registry. The slot is reserved before payment is requested, which
// makes an abandoned payment a hold to release rather than a double booking
// to untangle.
type BookingService struct {
	repo         domain.Repository
	gateway      domain.PaymentGateway
	meetings     domain.MeetingLinks
	attempts     domain.AttemptStore
	eventBus     domain.EventPublisher
	holdTimeout  time.Duration
	cancelWindow time.Duration
	logger       *zerolog.Logger
}

func NewBookingService(repo domain.Repository, gw domain.PaymentGateway, meetings domain.MeetingLinks, attempts domain.AttemptStore, eventBus domain.EventPublisher, holdTimeout, cancelWindow time.Duration, logger *zerolog.Logger) *BookingService {
	if holdTimeout <= 0 {
		holdTimeout = models.DefaultHoldTimeoutMinutes * time.Minute
	}
	if cancelWindow < 0 {
		cancelWindow = models.DefaultCancelWindowHours * time.Hour
	}
	return &BookingService{
		repo:         repo,
		gateway:      gw,
		meetings:     meetings,
		attempts:     attempts,
		eventBus:     eventBus,
		holdTimeout:  holdTimeout,
		cancelWindow: cancelWindow,
		logger:       logger,
	}
}

// StartBooking reserves the slot, records a payment intent and asks the
// provider to open checkout. On initiate failure the slot is released before
// the error returns, so a failed start never leaves an orphaned hold.
func (s *BookingService) StartBooking(ctx context.Context, clientID string, slotID int64) (*BookingStart, error) {
	slot, err := s.repo.GetSlot(ctx, slotID)
	if err != nil {
		return nil, err
	}

	therapist, err := s.repo.GetTherapist(ctx, slot.TherapistID)
	if err != nil {
		return nil, err
	}

	if err := s.repo.ReserveSlot(ctx, slotID); err != nil {
		if errors.Is(err, database.ErrSlotUnavailable) {
			// The holder may be this client retrying after a dropped
			// response; resume their attempt instead of rejecting it.
			if own, ownErr := s.repo.GetActiveIntentForSlot(ctx, clientID, slotID); ownErr == nil {
				return &BookingStart{
					TransactionRef: own.TransactionRef,
					RedirectURL:    s.cachedRedirect(ctx, own.TransactionRef),
					Amount:         own.Amount,
					Currency:       own.Currency,
				}, nil
			}
			metrics.IncReserveConflict()
		}
		return nil, err
	}
	metrics.IncBookingStarted()

	orderRef := fmt.Sprintf("bk-%s-%s-%d", therapist.ID, clientID, slot.StartTime.Unix())

	result, err := s.gateway.Initiate(ctx, gateway.InitiateRequest{
		Amount:   therapist.RateAmount,
		Currency: therapist.RateCurrency,
		OrderRef: orderRef,
	})
	if err != nil {
		s.releaseHold(ctx, slotID, "initiate failed")
		var gwErr *gateway.GatewayError
		if errors.As(err, &gwErr) {
			metrics.IncGatewayError(gwErr.Op)
		}
		return nil, err
	}

	intent := &models.PaymentIntent{
		TransactionRef: result.TransactionRef,
		OrderRef:       orderRef,
		ClientID:       clientID,
		SlotID:         slotID,
		Amount:         therapist.RateAmount,
		Currency:       therapist.RateCurrency,
		Status:         models.IntentPending,
	}
	if err := s.repo.CreateIntent(ctx, intent); err != nil {
		s.releaseHold(ctx, slotID, "intent write failed")
		return nil, err
	}

	s.cacheAttempt(ctx, intent, result.RedirectURL)
	s.publishEvent(events.EventBookingStarted, events.BookingEventPayload{
		TransactionRef: intent.TransactionRef,
		ClientID:       clientID,
		TherapistID:    therapist.ID,
		SlotID:         slotID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		Status:         intent.Status,
	})

	s.logger.Info().
		Str("transaction_ref", intent.TransactionRef).
		Str("client_id", clientID).
		Int64("slot_id", slotID).
		Msg("Booking started")

	return &BookingStart{
		TransactionRef: result.TransactionRef,
		RedirectURL:    result.RedirectURL,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
	}, nil
}

// PollPayment reports the current resolution of a booking attempt. Safe to
// call concurrently and repeatedly: once the attempt is confirmed every
// subsequent call returns the same session.
func (s *BookingService) PollPayment(ctx context.Context, transactionRef string) (*BookingOutcome, error) {
	// A session wins over everything else: the attempt is finalized.
	session, err := s.repo.GetSessionByTransactionRef(ctx, transactionRef)
	if err == nil {
		return &BookingOutcome{Status: OutcomeConfirmed, SessionID: session.ID}, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, err
	}

	intent, err := s.repo.GetIntentByRef(ctx, transactionRef)
	if err != nil {
		return nil, err
	}
	if !models.IntentActive(intent.Status) {
		if intent.Status == models.IntentVerified {
			// A concurrent poller is between marking the intent verified
			// and writing the session. Its session row settles the
			// outcome; this caller polls again until it lands.
			return s.outcomeFromStore(ctx, intent)
		}
		// Swept or failed attempt. A late provider success here means a
		// fresh booking, never a resurrection of the old hold.
		return &BookingOutcome{Status: OutcomeFailed}, nil
	}

	outcome, err := s.gateway.Verify(ctx, transactionRef)
	if err != nil {
		var gwErr *gateway.GatewayError
		if errors.As(err, &gwErr) {
			metrics.IncGatewayError(gwErr.Op)
		}
		return nil, err
	}

	switch outcome.Status {
	case gateway.VerifyPending, gateway.VerifyNotFound:
		return &BookingOutcome{Status: OutcomePending}, nil

	case gateway.VerifyFailed:
		return s.failAttempt(ctx, intent, "payment failed at provider")

	case gateway.VerifyCompleted:
		// The provider is untrusted: a completed payment for the wrong
		// amount or currency is treated as a failed attempt.
		if outcome.Amount != intent.Amount || outcome.Currency != intent.Currency {
			s.logger.Error().
				Str("transaction_ref", transactionRef).
				Int64("expected_amount", intent.Amount).
				Int64("got_amount", outcome.Amount).
				Str("expected_currency", intent.Currency).
				Str("got_currency", outcome.Currency).
				Msg("Verification amount mismatch")
			return s.failAttempt(ctx, intent, "amount mismatch")
		}
		return s.finalize(ctx, intent)

	default:
		return &BookingOutcome{Status: OutcomePending}, nil
	}
}

// finalize performs the single non-idempotent write of the whole flow. The
// unique constraint on transaction_ref guarantees one session per attempt
// even under concurrent pollers.
func (s *BookingService) finalize(ctx context.Context, intent *models.PaymentIntent) (*BookingOutcome, error) {
	if err := s.repo.UpdateIntentStatus(ctx, intent.TransactionRef, models.IntentVerified); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			// Another poller got here first; its session write settles the
			// outcome.
			return s.outcomeFromStore(ctx, intent)
		}
		return nil, s.compensation(intent, err)
	}

	slot, err := s.repo.GetSlot(ctx, intent.SlotID)
	if err != nil {
		return nil, s.compensation(intent, err)
	}
	therapist, err := s.repo.GetTherapist(ctx, slot.TherapistID)
	if err != nil {
		return nil, s.compensation(intent, err)
	}

	session := &models.Session{
		ID:              uuid.New().String(),
		ClientID:        intent.ClientID,
		TherapistID:     therapist.ID,
		SlotID:          intent.SlotID,
		ScheduledTime:   slot.StartTime,
		DurationMinutes: therapist.SessionMinutes,
		Status:          models.SessionScheduled,
		PayAmount:       intent.Amount,
		PayCurrency:     intent.Currency,
		PayMethod:       "wallet",
		TransactionRef:  intent.TransactionRef,
	}

	if s.meetings != nil {
		url, err := s.meetings.CreateRoom(ctx, session.ID, session.ScheduledTime)
		if err != nil {
			// Best effort: the link can be backfilled later.
			s.logger.Warn().Err(err).Str("session_id", session.ID).Msg("Meeting link creation failed")
		} else {
			session.MeetingURL = url
		}
	}

	if err := s.repo.CreateSession(ctx, session); err != nil {
		if errors.Is(err, database.ErrDuplicateTransaction) {
			existing, getErr := s.repo.GetSessionByTransactionRef(ctx, intent.TransactionRef)
			if getErr != nil {
				return nil, s.compensation(intent, getErr)
			}
			return &BookingOutcome{Status: OutcomeConfirmed, SessionID: existing.ID}, nil
		}
		return nil, s.compensation(intent, err)
	}

	metrics.IncBookingConfirmed()
	s.dropAttempt(ctx, intent.TransactionRef)
	s.publishEvent(events.EventBookingConfirmed, events.BookingEventPayload{
		TransactionRef: intent.TransactionRef,
		ClientID:       intent.ClientID,
		TherapistID:    therapist.ID,
		SlotID:         intent.SlotID,
		SessionID:      session.ID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		Status:         session.Status,
		ScheduledTime:  session.ScheduledTime,
	})

	s.logger.Info().
		Str("transaction_ref", intent.TransactionRef).
		Str("session_id", session.ID).
		Msg("Booking confirmed")

	return &BookingOutcome{Status: OutcomeConfirmed, SessionID: session.ID}, nil
}

// outcomeFromStore resolves a lost finalize race from durable state.
func (s *BookingService) outcomeFromStore(ctx context.Context, intent *models.PaymentIntent) (*BookingOutcome, error) {
	session, err := s.repo.GetSessionByTransactionRef(ctx, intent.TransactionRef)
	if err == nil {
		return &BookingOutcome{Status: OutcomeConfirmed, SessionID: session.ID}, nil
	}
	if errors.Is(err, database.ErrNotFound) {
		return &BookingOutcome{Status: OutcomePending}, nil
	}
	return nil, err
}

// compensation records a captured payment whose session write failed. It is
// surfaced loudly and never retried automatically.
func (s *BookingService) compensation(intent *models.PaymentIntent, cause error) error {
	compErr := &CompensationError{
		TransactionRef: intent.TransactionRef,
		ClientID:       intent.ClientID,
		SlotID:         intent.SlotID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		Cause:          cause,
	}

	metrics.IncCompensationRequired()
	s.logger.Error().
		Str("transaction_ref", intent.TransactionRef).
		Str("client_id", intent.ClientID).
		Int64("slot_id", intent.SlotID).
		Int64("amount", intent.Amount).
		Str("currency", intent.Currency).
		Err(cause).
		Msg("COMPENSATION REQUIRED: payment captured but session not recorded")

	s.publishEvent(events.EventCompensationRequired, events.BookingEventPayload{
		TransactionRef: intent.TransactionRef,
		ClientID:       intent.ClientID,
		SlotID:         intent.SlotID,
		Amount:         intent.Amount,
		Currency:       intent.Currency,
		Reason:         cause.Error(),
	})

	return compErr
}

func (s *BookingService) failAttempt(ctx context.Context, intent *models.PaymentIntent, reason string) (*BookingOutcome, error) {
	if err := s.repo.UpdateIntentStatus(ctx, intent.TransactionRef, models.IntentFailed); err != nil {
		if !errors.Is(err, database.ErrConcurrentModification) {
			return nil, err
		}
	}
	s.releaseHold(ctx, intent.SlotID, reason)
	s.dropAttempt(ctx, intent.TransactionRef)
	s.publishEvent(events.EventBookingFailed, events.BookingEventPayload{
		TransactionRef: intent.TransactionRef,
		ClientID:       intent.ClientID,
		SlotID:         intent.SlotID,
		Reason:         reason,
	})
	return &BookingOutcome{Status: OutcomeFailed}, nil
}

// CancelAttempt abandons an in-flight booking. The gateway is not called:
// the provider resolves abandoned transactions on its own schedule.
func (s *BookingService) CancelAttempt(ctx context.Context, transactionRef string) error {
	intent, err := s.repo.GetIntentByRef(ctx, transactionRef)
	if err != nil {
		return err
	}
	if !models.IntentActive(intent.Status) {
		return ErrAttemptResolved
	}

	if err := s.repo.UpdateIntentStatus(ctx, transactionRef, models.IntentAbandoned); err != nil {
		if errors.Is(err, database.ErrConcurrentModification) {
			return ErrAttemptResolved
		}
		return err
	}

	s.releaseHold(ctx, intent.SlotID, "cancelled by client")
	s.dropAttempt(ctx, transactionRef)

	s.logger.Info().
		Str("transaction_ref", transactionRef).
		Int64("slot_id", intent.SlotID).
		Msg("Booking attempt cancelled")

	return nil
}

// ReleaseStaleHolds abandons attempts that stayed unresolved past the hold
// timeout and puts their slots back on the market. Returns the number of
// holds released.
func (s *BookingService) ReleaseStaleHolds(ctx context.Context) (int, error) {
	stale, err := s.repo.ListStaleActiveIntents(ctx, s.holdTimeout)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, intent := range stale {
		if err := s.repo.UpdateIntentStatus(ctx, intent.TransactionRef, models.IntentAbandoned); err != nil {
			if errors.Is(err, database.ErrConcurrentModification) {
				// Resolved between listing and sweeping; leave it alone.
				continue
			}
			return released, err
		}
		s.releaseHold(ctx, intent.SlotID, "hold expired")
		s.dropAttempt(ctx, intent.TransactionRef)
		released++

		s.logger.Info().
			Str("transaction_ref", intent.TransactionRef).
			Int64("slot_id", intent.SlotID).
			Time("created_at", intent.CreatedAt).
			Msg("Stale hold released")
	}

	return released, nil
}

// CancelSession applies the cancellation policy. Clients may cancel only
// while the session is further out than the cancellation window; therapists
// are unrestricted. A successful cancel returns the slot to the market.
func (s *BookingService) CancelSession(ctx context.Context, sessionID, cancelledBy, reason string) error {
	if cancelledBy != models.CancelledByClient && cancelledBy != models.CancelledByTherapist {
		return fmt.Errorf("unknown canceller %q", cancelledBy)
	}

	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionScheduled {
		return database.ErrConcurrentModification
	}

	if cancelledBy == models.CancelledByClient {
		if time.Until(session.ScheduledTime) < s.cancelWindow {
			return ErrTooLate
		}
	}

	if err := s.repo.CancelSession(ctx, sessionID, cancelledBy, reason); err != nil {
		return err
	}

	s.releaseHold(ctx, session.SlotID, "session cancelled")
	s.publishEvent(events.EventSessionCancelled, events.BookingEventPayload{
		TransactionRef: session.TransactionRef,
		ClientID:       session.ClientID,
		TherapistID:    session.TherapistID,
		SlotID:         session.SlotID,
		SessionID:      session.ID,
		Reason:         reason,
		Status:         models.SessionCancelled,
	})

	s.logger.Info().
		Str("session_id", sessionID).
		Str("cancelled_by", cancelledBy).
		Msg("Session cancelled")

	return nil
}

// CompleteSession marks a scheduled session as held. Future sessions cannot
// be completed.
func (s *BookingService) CompleteSession(ctx context.Context, sessionID string) error {
	session, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.SessionScheduled {
		return database.ErrConcurrentModification
	}
	if session.ScheduledTime.After(time.Now()) {
		return ErrSessionNotStarted
	}

	if err := s.repo.CompleteSession(ctx, sessionID); err != nil {
		return err
	}

	s.publishEvent(events.EventSessionCompleted, events.BookingEventPayload{
		ClientID:    session.ClientID,
		TherapistID: session.TherapistID,
		SessionID:   session.ID,
		Status:      models.SessionCompleted,
	})

	return nil
}

// GetAvailability lists open slots for a therapist.
func (s *BookingService) GetAvailability(ctx context.Context, therapistID string, from, to time.Time) ([]*models.Slot, error) {
	return s.repo.ListAvailableSlots(ctx, therapistID, from, to)
}

func (s *BookingService) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return s.repo.GetSession(ctx, id)
}

func (s *BookingService) GetClientSessions(ctx context.Context, clientID string) ([]*models.Session, error) {
	return s.repo.GetClientSessions(ctx, clientID)
}

func (s *BookingService) CreateSlot(ctx context.Context, slot *models.Slot) error {
	if _, err := s.repo.GetTherapist(ctx, slot.TherapistID); err != nil {
		return err
	}
	return s.repo.CreateSlot(ctx, slot)
}

func (s *BookingService) GetActiveTherapists(ctx context.Context) ([]*models.Therapist, error) {
	return s.repo.GetActiveTherapists(ctx)
}

func (s *BookingService) releaseHold(ctx context.Context, slotID int64, reason string) {
	if err := s.repo.ReleaseSlot(ctx, slotID); err != nil {
		s.logger.Error().Err(err).Int64("slot_id", slotID).Str("reason", reason).Msg("Slot release failed")
		return
	}
	s.publishEvent(events.EventSlotReleased, events.BookingEventPayload{
		SlotID: slotID,
		Reason: reason,
	})
}

func (s *BookingService) cacheAttempt(ctx context.Context, intent *models.PaymentIntent, redirectURL string) {
	if s.attempts == nil {
		return
	}
	attempt := &models.BookingAttempt{
		TransactionRef: intent.TransactionRef,
		ClientID:       intent.ClientID,
		SlotID:         intent.SlotID,
		Status:         intent.Status,
		RedirectURL:    redirectURL,
		CreatedAt:      time.Now(),
	}
	if err := s.attempts.SaveAttempt(ctx, attempt); err != nil {
		s.logger.Warn().Err(err).Str("transaction_ref", intent.TransactionRef).Msg("Attempt cache write failed")
	}
}

// cachedRedirect recovers the checkout URL for a resumed attempt. The cache
// expires with the hold, so a miss just means the client restarts checkout
// from the verify endpoint.
func (s *BookingService) cachedRedirect(ctx context.Context, transactionRef string) string {
	if s.attempts == nil {
		return ""
	}
	cached, err := s.attempts.GetAttempt(ctx, transactionRef)
	if err != nil {
		s.logger.Warn().Err(err).Str("transaction_ref", transactionRef).Msg("Attempt cache read failed")
		return ""
	}
	if cached == nil {
		return ""
	}
	return cached.RedirectURL
}

func (s *BookingService) dropAttempt(ctx context.Context, transactionRef string) {
	if s.attempts == nil {
		return
	}
	if err := s.attempts.DeleteAttempt(ctx, transactionRef); err != nil {
		s.logger.Warn().Err(err).Str("transaction_ref", transactionRef).Msg("Attempt cache delete failed")
	}
}

func (s *BookingService) publishEvent(eventType string, payload events.BookingEventPayload) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Msg("publish event error")
	}
}
