package models

import "time"

// PaymentIntent tracks one payment attempt against the external wallet
// provider. Rows are append-only per attempt: a retry after a failed or
// abandoned attempt inserts a fresh intent, it never mutates the old one.
type PaymentIntent struct {
	ID             int64     `json:"id"`
	TransactionRef string    `json:"transaction_ref"`
	OrderRef       string    `json:"order_ref"`
	ClientID       string    `json:"client_id"`
	SlotID         int64     `json:"slot_id"`
	Amount         int64     `json:"amount"`
	Currency       string    `json:"currency"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// BookingAttempt is the cached snapshot of an in-flight booking, kept in the
// attempt store so a client retrying a dropped start can be handed back its
// checkout redirect. The database stays authoritative.
type BookingAttempt struct {
	TransactionRef string    `json:"transaction_ref"`
	ClientID       string    `json:"client_id"`
	SlotID         int64     `json:"slot_id"`
	Status         string    `json:"status"`
	RedirectURL    string    `json:"redirect_url,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
