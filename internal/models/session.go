package models

import "time"

// Session is a confirmed appointment. It only ever comes into existence as
// the terminal effect of a verified payment; the payment fields are an
// immutable snapshot of the settling intent.
type Session struct {
	ID              string     `json:"id"`
	ClientID        string     `json:"client_id"`
	TherapistID     string     `json:"therapist_id"`
	SlotID          int64      `json:"slot_id"`
	ScheduledTime   time.Time  `json:"scheduled_time"`
	DurationMinutes int        `json:"duration_minutes"`
	Status          string     `json:"status"`
	MeetingURL      string     `json:"meeting_url,omitempty"`
	PayAmount       int64      `json:"pay_amount"`
	PayCurrency     string     `json:"pay_currency"`
	PayMethod       string     `json:"pay_method"`
	TransactionRef  string     `json:"transaction_ref"`
	CancelledBy     string     `json:"cancelled_by,omitempty"`
	CancelReason    string     `json:"cancel_reason,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}
