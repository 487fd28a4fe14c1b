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

// CreateIntent records a fresh payment attempt. Retries of the same logical
// booking always insert a new row; old intents stay untouched for audit.
func (db *DB) CreateIntent(ctx context.Context, intent *models.PaymentIntent) error {
	query := `INSERT INTO payment_intents (
				transaction_ref, order_ref, client_id, slot_id,
				amount, currency, status, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	if intent.Status == "" {
		intent.Status = models.IntentInitiated
	}
	result, err := db.ExecContext(ctx, query,
		intent.TransactionRef,
		intent.OrderRef,
		intent.ClientID,
		intent.SlotID,
		intent.Amount,
		intent.Currency,
		intent.Status,
		now,
		now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("intent %s: %w", intent.TransactionRef, ErrDuplicateTransaction)
		}
		return fmt.Errorf("failed to create payment intent: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	intent.ID = id
	intent.CreatedAt = now
	intent.UpdatedAt = now
	return nil
}

func (db *DB) GetIntentByRef(ctx context.Context, transactionRef string) (*models.PaymentIntent, error) {
	query := `SELECT id, transaction_ref, order_ref, client_id, slot_id,
	                 amount, currency, status, created_at, updated_at
              FROM payment_intents WHERE transaction_ref = ?`
	var intent models.PaymentIntent
	err := db.QueryRowContext(ctx, query, transactionRef).Scan(
		&intent.ID, &intent.TransactionRef, &intent.OrderRef, &intent.ClientID,
		&intent.SlotID, &intent.Amount, &intent.Currency, &intent.Status,
		&intent.CreatedAt, &intent.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment intent: %w", err)
	}
	return &intent, nil
}

// UpdateIntentStatus moves an intent out of an active state. Terminal rows
// never match the guard, so verified/failed/abandoned intents are immutable.
func (db *DB) UpdateIntentStatus(ctx context.Context, transactionRef, status string) error {
	query := `UPDATE payment_intents SET status = ?, updated_at = ?
              WHERE transaction_ref = ? AND status IN (?, ?)`
	result, err := db.ExecContext(ctx, query, status, time.Now(),
		transactionRef, models.IntentInitiated, models.IntentPending)
	if err != nil {
		return fmt.Errorf("failed to update intent status: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := db.GetIntentByRef(ctx, transactionRef); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConcurrentModification
	}
	return nil
}

// ListStaleActiveIntents returns intents still holding a slot whose hold has
// outlived maxAge. Used by the background sweep.
func (db *DB) ListStaleActiveIntents(ctx context.Context, maxAge time.Duration) ([]*models.PaymentIntent, error) {
	cutoff := time.Now().Add(-maxAge)
	query := `SELECT id, transaction_ref, order_ref, client_id, slot_id,
	                 amount, currency, status, created_at, updated_at
              FROM payment_intents
              WHERE status IN (?, ?) AND created_at < ?
              ORDER BY created_at ASC`
	rows, err := db.QueryContext(ctx, query, models.IntentInitiated, models.IntentPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale intents: %w", err)
	}
	defer rows.Close()

	var intents []*models.PaymentIntent
	for rows.Next() {
		i := &models.PaymentIntent{}
		err := rows.Scan(&i.ID, &i.TransactionRef, &i.OrderRef, &i.ClientID,
			&i.SlotID, &i.Amount, &i.Currency, &i.Status, &i.CreatedAt, &i.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan intent: %w", err)
		}
		intents = append(intents, i)
	}
	return intents, rows.Err()
}

// GetActiveIntentForSlot reports whether a non-terminal intent already holds
// the slot for the given client.
func (db *DB) GetActiveIntentForSlot(ctx context.Context, clientID string, slotID int64) (*models.PaymentIntent, error) {
	query := `SELECT id, transaction_ref, order_ref, client_id, slot_id,
	                 amount, currency, status, created_at, updated_at
              FROM payment_intents
              WHERE client_id = ? AND slot_id = ? AND status IN (?, ?)
              ORDER BY created_at DESC LIMIT 1`
	var intent models.PaymentIntent
	err := db.QueryRowContext(ctx, query, clientID, slotID,
		models.IntentInitiated, models.IntentPending).Scan(
		&intent.ID, &intent.TransactionRef, &intent.OrderRef, &intent.ClientID,
		&intent.SlotID, &intent.Amount, &intent.Currency, &intent.Status,
		&intent.CreatedAt, &intent.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active intent: %w", err)
	}
	return &intent, nil
}
