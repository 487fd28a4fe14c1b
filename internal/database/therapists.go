package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"mindbook/internal/models"
)

// SyncTherapists upserts the configured therapist roster and deactivates
// anyone no longer listed. Called once at startup from the seed file.
func (db *DB) SyncTherapists(ctx context.Context, therapists []models.Therapist) error {
	if len(therapists) == 0 {
		return errors.New("therapist list is empty")
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now()
	query := `INSERT INTO therapists (id, name, specialty, session_minutes, rate_amount, rate_currency, is_active, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
              ON CONFLICT(id) DO UPDATE SET
                  name = excluded.name,
                  specialty = excluded.specialty,
                  session_minutes = excluded.session_minutes,
                  rate_amount = excluded.rate_amount,
                  rate_currency = excluded.rate_currency,
                  is_active = excluded.is_active,
                  updated_at = excluded.updated_at`

	ids := make([]any, 0, len(therapists))
	placeholders := ""
	for i, t := range therapists {
		if _, err := tx.ExecContext(ctx, query,
			t.ID, t.Name, t.Specialty, t.SessionMinutes,
			t.RateAmount, t.RateCurrency, t.IsActive, now, now,
		); err != nil {
			return fmt.Errorf("failed to upsert therapist %s: %w", t.ID, err)
		}
		ids = append(ids, t.ID)
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
	}

	deactivate := fmt.Sprintf(`UPDATE therapists SET is_active = 0, updated_at = ? WHERE id NOT IN (%s)`, placeholders)
	args := append([]any{now}, ids...)
	if _, err := tx.ExecContext(ctx, deactivate, args...); err != nil {
		return fmt.Errorf("failed to deactivate removed therapists: %w", err)
	}

	return tx.Commit()
}

func (db *DB) GetTherapist(ctx context.Context, id string) (*models.Therapist, error) {
	query := `SELECT id, name, specialty, session_minutes, rate_amount, rate_currency, is_active, created_at, updated_at
              FROM therapists WHERE id = ?`
	var t models.Therapist
	err := db.QueryRowContext(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.Specialty, &t.SessionMinutes,
		&t.RateAmount, &t.RateCurrency, &t.IsActive, &t.CreatedAt, &t.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get therapist: %w", err)
	}
	return &t, nil
}

func (db *DB) GetActiveTherapists(ctx context.Context) ([]*models.Therapist, error) {
	query := `SELECT id, name, specialty, session_minutes, rate_amount, rate_currency, is_active, created_at, updated_at
              FROM therapists WHERE is_active = 1 ORDER BY name, id`
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get active therapists: %w", err)
	}
	defer rows.Close()

	var therapists []*models.Therapist
	for rows.Next() {
		t := &models.Therapist{}
		err := rows.Scan(&t.ID, &t.Name, &t.Specialty, &t.SessionMinutes,
			&t.RateAmount, &t.RateCurrency, &t.IsActive, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan therapist: %w", err)
		}
		therapists = append(therapists, t)
	}
	return therapists, rows.Err()
}
