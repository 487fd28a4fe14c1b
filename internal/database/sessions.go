package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mindbook/internal/models"

	"github.com/mattn/go-sqlite3"
)

// CreateSession is the single non-idempotent write in the system. The unique
// constraint on transaction_ref is the storage-level finalize-once guard: a
// second writer for the same payment gets ErrDuplicateTransaction instead of
// a second session.
func (db *DB) CreateSession(ctx context.Context, session *models.Session) error {
	query := `INSERT INTO sessions (
				id, client_id, therapist_id, slot_id, scheduled_time,
				duration_minutes, status, meeting_url, pay_amount, pay_currency,
				pay_method, transaction_ref, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	if session.Status == "" {
		session.Status = models.SessionScheduled
	}
	_, err := db.ExecContext(ctx, query,
		session.ID,
		session.ClientID,
		session.TherapistID,
		session.SlotID,
		session.ScheduledTime.UTC(),
		session.DurationMinutes,
		session.Status,
		session.MeetingURL,
		session.PayAmount,
		session.PayCurrency,
		session.PayMethod,
		session.TransactionRef,
		now,
		now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("transaction %s: %w", session.TransactionRef, ErrDuplicateTransaction)
		}
		return fmt.Errorf("failed to create session: %w", err)
	}
	session.CreatedAt = now
	session.UpdatedAt = now
	return nil
}

func (db *DB) GetSession(ctx context.Context, id string) (*models.Session, error) {
	return db.getSessionWhere(ctx, "id = ?", id)
}

func (db *DB) GetSessionByTransactionRef(ctx context.Context, transactionRef string) (*models.Session, error) {
	return db.getSessionWhere(ctx, "transaction_ref = ?", transactionRef)
}

func (db *DB) getSessionWhere(ctx context.Context, where string, arg any) (*models.Session, error) {
	query := `SELECT id, client_id, therapist_id, slot_id, scheduled_time,
	                 duration_minutes, status, meeting_url, pay_amount, pay_currency,
	                 pay_method, transaction_ref, cancelled_by, cancel_reason,
	                 cancelled_at, created_at, updated_at
              FROM sessions WHERE ` + where
	var s models.Session
	var meetingURL, cancelledBy, cancelReason sql.NullString
	var cancelledAt sql.NullTime
	err := db.QueryRowContext(ctx, query, arg).Scan(
		&s.ID, &s.ClientID, &s.TherapistID, &s.SlotID, &s.ScheduledTime,
		&s.DurationMinutes, &s.Status, &meetingURL, &s.PayAmount, &s.PayCurrency,
		&s.PayMethod, &s.TransactionRef, &cancelledBy, &cancelReason,
		&cancelledAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	s.MeetingURL = meetingURL.String
	s.CancelledBy = cancelledBy.String
	s.CancelReason = cancelReason.String
	if cancelledAt.Valid {
		t := cancelledAt.Time
		s.CancelledAt = &t
	}
	return &s, nil
}

// CancelSession marks a scheduled session cancelled and records who did it
// and why. Terminal sessions never match the status guard.
func (db *DB) CancelSession(ctx context.Context, id, cancelledBy, reason string) error {
	query := `UPDATE sessions SET status = ?, cancelled_by = ?, cancel_reason = ?,
	                 cancelled_at = ?, updated_at = ?
              WHERE id = ? AND status = ?`
	now := time.Now()
	result, err := db.ExecContext(ctx, query, models.SessionCancelled,
		cancelledBy, reason, now, now, id, models.SessionScheduled)
	if err != nil {
		return fmt.Errorf("failed to cancel session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := db.GetSession(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}
	return nil
}

// CompleteSession marks a scheduled session completed.
func (db *DB) CompleteSession(ctx context.Context, id string) error {
	query := `UPDATE sessions SET status = ?, updated_at = ? WHERE id = ? AND status = ?`
	result, err := db.ExecContext(ctx, query, models.SessionCompleted, time.Now(), id, models.SessionScheduled)
	if err != nil {
		return fmt.Errorf("failed to complete session: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := db.GetSession(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}
	return nil
}

// SetSessionMeetingURL backfills a meeting link obtained after confirmation.
func (db *DB) SetSessionMeetingURL(ctx context.Context, id, url string) error {
	query := `UPDATE sessions SET meeting_url = ?, updated_at = ? WHERE id = ?`
	_, err := db.ExecContext(ctx, query, url, time.Now(), id)
	return err
}

func (db *DB) GetClientSessions(ctx context.Context, clientID string) ([]*models.Session, error) {
	query := `SELECT id, client_id, therapist_id, slot_id, scheduled_time,
	                 duration_minutes, status, meeting_url, pay_amount, pay_currency,
	                 pay_method, transaction_ref, cancelled_by, cancel_reason,
	                 cancelled_at, created_at, updated_at
              FROM sessions WHERE client_id = ? ORDER BY scheduled_time DESC`
	rows, err := db.QueryContext(ctx, query, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to get client sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s := &models.Session{}
		var meetingURL, cancelledBy, cancelReason sql.NullString
		var cancelledAt sql.NullTime
		err := rows.Scan(
			&s.ID, &s.ClientID, &s.TherapistID, &s.SlotID, &s.ScheduledTime,
			&s.DurationMinutes, &s.Status, &meetingURL, &s.PayAmount, &s.PayCurrency,
			&s.PayMethod, &s.TransactionRef, &cancelledBy, &cancelReason,
			&cancelledAt, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		s.MeetingURL = meetingURL.String
		s.CancelledBy = cancelledBy.String
		s.CancelReason = cancelReason.String
		if cancelledAt.Valid {
			t := cancelledAt.Time
			s.CancelledAt = &t
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}
