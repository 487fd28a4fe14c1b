package models

import "time"

// Therapist is a bookable consultant. Rates are stored in minor currency
// units to keep money math integer-only.
type Therapist struct {
	ID             string    `yaml:"id" json:"id"`
	Name           string    `yaml:"name" json:"name"`
	Specialty      string    `yaml:"specialty" json:"specialty"`
	SessionMinutes int       `yaml:"session_minutes" json:"session_minutes"`
	RateAmount     int64     `yaml:"rate_amount" json:"rate_amount"`
	RateCurrency   string    `yaml:"rate_currency" json:"rate_currency"`
	IsActive       bool      `yaml:"is_active" json:"is_active"`
	CreatedAt      time.Time `yaml:"-" json:"created_at"`
	UpdatedAt      time.Time `yaml:"-" json:"updated_at"`
}
