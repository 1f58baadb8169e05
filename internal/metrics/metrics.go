package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	reservationCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetbook",
			Name:      "reservation_created_total",
			Help:      "Count of reservations created by initial status.",
		},
		[]string{"status"},
	)

	reservationDecision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetbook",
			Name:      "reservation_decision_total",
			Help:      "Count of approver decisions over reservations.",
		},
		[]string{"decision"},
	)

	conflictWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetbook",
			Name:      "conflict_warning_total",
			Help:      "Count of advisory conflict warnings raised on approve or reschedule.",
		},
	)

	validationFailed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetbook",
			Name:      "validation_failed_total",
			Help:      "Count of booking form validation failures by code.",
		},
		[]string{"code"},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetbook",
			Name:      "http_requests_total",
			Help:      "Count of HTTP API requests by handler.",
		},
		[]string{"handler"},
	)
)

// Register registers metrics (idempotent).
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			reservationCreated,
			reservationDecision,
			conflictWarnings,
			validationFailed,
			httpRequests,
		)
	})
}

func IncReservationCreated(status string) {
	reservationCreated.WithLabelValues(status).Inc()
}

func IncDecision(decision string) {
	reservationDecision.WithLabelValues(decision).Inc()
}

func IncConflictWarning() {
	conflictWarnings.Inc()
}

func IncValidationFailed(code string) {
	validationFailed.WithLabelValues(code).Inc()
}

func IncHTTP(handler string) {
	httpRequests.WithLabelValues(handler).Inc()
}
