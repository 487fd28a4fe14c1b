package worker

import (
	"math"
	"math/rand"
	"time"
)

// RetryPolicy defines exponential backoff for transient store failures,
// mostly SQLite write contention during a sweep. Jitter spreads a fraction
// of each delay so retries from concurrent workers do not land together.
type RetryPolicy struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64 // fraction of the delay randomized, 0 disables
}

// SweepRetryPolicy is the tuned policy for the hold sweeper: short first
// delay because lock contention clears fast, capped well under the sweep
// interval so a struggling sweep never overlaps the next tick.
func SweepRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:    3,
		InitialDelay:  2 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2,
		Jitter:        0.2,
	}
}

// NextDelay returns the delay before a given attempt (1-based).
func (r RetryPolicy) NextDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	initial := r.InitialDelay
	if initial <= 0 {
		initial = time.Second
	}
	factor := r.BackoffFactor
	if factor <= 0 {
		factor = 2
	}

	d := time.Duration(float64(initial) * math.Pow(factor, float64(attempt-1)))
	if r.MaxDelay > 0 && d > r.MaxDelay {
		d = r.MaxDelay
	}
	if r.Jitter > 0 {
		frac := math.Min(r.Jitter, 1)
		span := float64(d) * frac
		d = time.Duration(float64(d) - span/2 + rand.Float64()*span)
	}
	if d <= 0 {
		d = time.Second
	}
	return d
}
