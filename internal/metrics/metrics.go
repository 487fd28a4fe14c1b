package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindbook",
			Name:      "http_requests_total",
			Help:      "HTTP requests by endpoint.",
		},
		[]string{"endpoint"},
	)

	bookingsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindbook",
			Name:      "bookings_started_total",
			Help:      "Booking attempts that reserved a slot and initiated payment.",
		},
	)

	bookingsConfirmed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindbook",
			Name:      "bookings_confirmed_total",
			Help:      "Sessions created from verified payments.",
		},
	)

	reserveConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindbook",
			Name:      "slot_reserve_conflicts_total",
			Help:      "Reservation attempts that lost the slot race.",
		},
	)

	gatewayErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mindbook",
			Name:      "gateway_errors_total",
			Help:      "Transient payment provider failures by operation.",
		},
		[]string{"op"},
	)

	compensations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindbook",
			Name:      "compensations_required_total",
			Help:      "Captured payments whose session write failed. Every increment needs manual reconciliation.",
		},
	)

	staleHoldsReleased = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mindbook",
			Name:      "stale_holds_released_total",
			Help:      "Slots re-opened by the stale-hold sweep.",
		},
	)
)

// Register registers Prometheus metrics. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			httpRequests,
			bookingsStarted,
			bookingsConfirmed,
			reserveConflicts,
			gatewayErrors,
			compensations,
			staleHoldsReleased,
		)
	})
}

// IncHTTP increments the counter for an endpoint label.
func IncHTTP(endpoint string) {
	httpRequests.WithLabelValues(endpoint).Inc()
}

func IncBookingStarted()  { bookingsStarted.Inc() }
func IncBookingConfirmed() { bookingsConfirmed.Inc() }
func IncReserveConflict()  { reserveConflicts.Inc() }

func IncGatewayError(op string) {
	gatewayErrors.WithLabelValues(op).Inc()
}

// IncCompensationRequired feeds the operational alerting path; it must fire
// for every payment captured without a recorded session.
func IncCompensationRequired() { compensations.Inc() }

func AddStaleHoldsReleased(n int) {
	staleHoldsReleased.Add(float64(n))
}
