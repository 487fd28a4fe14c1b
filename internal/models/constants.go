package models

// Payment intent statuses. Verified, failed and abandoned are terminal.
const (
	IntentInitiated = "initiated"
	IntentPending   = "pending"
	IntentVerified  = "verified"
	IntentFailed    = "failed"
	IntentAbandoned = "abandoned"
)

// Session statuses. Completed and cancelled are terminal.
const (
	SessionScheduled = "scheduled"
	SessionCompleted = "completed"
	SessionCancelled = "cancelled"
)

// Actors allowed to cancel a session.
const (
	CancelledByClient    = "client"
	CancelledByTherapist = "therapist"
)

const (
	DefaultHoldTimeoutMinutes = 15
	DefaultSweepSeconds       = 60
	DefaultCancelWindowHours  = 24
	DefaultPollSeconds        = 5
	DefaultPollMaxAttempts    = 120
)

// IntentActive reports whether a payment intent status still allows
// transitions (the slot hold is alive).
func IntentActive(status string) bool {
	return status == IntentInitiated || status == IntentPending
}
