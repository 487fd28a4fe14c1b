package models

import "time"

// Slot is one bookable time window of a therapist. IsAvailable is the single
// source of truth for whether the slot can be reserved; flipping it is the
// contended operation of the whole system.
type Slot struct {
	ID          int64     `json:"id"`
	TherapistID string    `json:"therapist_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	IsAvailable bool      `json:"is_available"`
	Version     int64     `json:"version"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
