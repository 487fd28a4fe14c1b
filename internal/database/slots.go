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

// CreateSlot inserts a new bookable window for a therapist. Duplicate
// (therapist_id, start_time) pairs are rejected.
func (db *DB) CreateSlot(ctx context.Context, slot *models.Slot) error {
	if !slot.StartTime.Before(slot.EndTime) {
		return fmt.Errorf("slot start %s must precede end %s", slot.StartTime, slot.EndTime)
	}

	query := `INSERT INTO slots (therapist_id, start_time, end_time, is_available, version, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query,
		slot.TherapistID,
		slot.StartTime.UTC(),
		slot.EndTime.UTC(),
		true,
		1,
		now,
		now,
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return fmt.Errorf("slot already exists for therapist %s at %s: %w",
				slot.TherapistID, slot.StartTime, ErrConcurrentModification)
		}
		return fmt.Errorf("failed to create slot: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	slot.ID = id
	slot.IsAvailable = true
	slot.Version = 1
	slot.CreatedAt = now
	slot.UpdatedAt = now
	return nil
}

func (db *DB) GetSlot(ctx context.Context, id int64) (*models.Slot, error) {
	query := `SELECT id, therapist_id, start_time, end_time, is_available, version, created_at, updated_at
              FROM slots WHERE id = ?`
	var slot models.Slot
	err := db.QueryRowContext(ctx, query, id).Scan(
		&slot.ID, &slot.TherapistID, &slot.StartTime, &slot.EndTime,
		&slot.IsAvailable, &slot.Version, &slot.CreatedAt, &slot.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get slot: %w", err)
	}
	return &slot, nil
}

// ListAvailableSlots returns open slots for a therapist ordered by start
// time. Zero from/to values skip the range filter. Pure read.
func (db *DB) ListAvailableSlots(ctx context.Context, therapistID string, from, to time.Time) ([]*models.Slot, error) {
	query := `SELECT id, therapist_id, start_time, end_time, is_available, version, created_at, updated_at
              FROM slots WHERE therapist_id = ? AND is_available = 1`
	args := []any{therapistID}
	if !from.IsZero() {
		query += ` AND start_time >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND start_time <= ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY start_time ASC`

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list available slots: %w", err)
	}
	defer rows.Close()

	var slots []*models.Slot
	for rows.Next() {
		s := &models.Slot{}
		err := rows.Scan(&s.ID, &s.TherapistID, &s.StartTime, &s.EndTime,
			&s.IsAvailable, &s.Version, &s.CreatedAt, &s.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// ReserveSlot flips a slot to unavailable. The conditional update is the
// only synchronization point in the system: exactly one concurrent caller
// matches the is_available guard, everyone else gets ErrSlotUnavailable.
func (db *DB) ReserveSlot(ctx context.Context, slotID int64) error {
	query := `UPDATE slots SET is_available = 0, version = version + 1, updated_at = ?
              WHERE id = ? AND is_available = 1`
	result, err := db.ExecContext(ctx, query, time.Now(), slotID)
	if err != nil {
		return fmt.Errorf("failed to reserve slot: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := db.GetSlot(ctx, slotID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrSlotUnavailable
	}
	return nil
}

// ReleaseSlot re-opens a slot. Releasing an already-available slot is a
// no-op, not an error.
func (db *DB) ReleaseSlot(ctx context.Context, slotID int64) error {
	query := `UPDATE slots SET is_available = 1, version = version + 1, updated_at = ?
              WHERE id = ? AND is_available = 0`
	result, err := db.ExecContext(ctx, query, time.Now(), slotID)
	if err != nil {
		return fmt.Errorf("failed to release slot: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := db.GetSlot(ctx, slotID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
	}
	return nil
}
