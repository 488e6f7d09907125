// Package metrics holds the Prometheus collectors for the booking core.
// A nil *Metrics is valid and records nothing, so services and tests can
// run without a registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Offer outcomes recorded by OfferResolved.
const (
	OfferAccepted = "accepted"
	OfferDeclined = "declined"
	OfferExpired  = "expired"
)

// Metrics is the set of counters exported on /metrics.
type Metrics struct {
	bookingsCreated  prometheus.Counter
	bookingConflicts *prometheus.CounterVec
	bookingAttempts  prometheus.Histogram
	offersMade       prometheus.Counter
	offersResolved   *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	timeoutsFired    *prometheus.CounterVec
}

// New registers every collector with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		bookingsCreated: f.NewCounter(prometheus.CounterOpts{
			Name: "ridebook_bookings_created_total",
			Help: "Bookings committed.",
		}),
		bookingConflicts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ridebook_booking_conflicts_total",
			Help: "Rejected seat reservations by reason.",
		}, []string{"reason"}),
		bookingAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "ridebook_booking_attempts",
			Help:    "Optimistic attempts needed per booking request.",
			Buckets: []float64{1, 2, 3, 4, 5, 8},
		}),
		offersMade: f.NewCounter(prometheus.CounterOpts{
			Name: "ridebook_offers_made_total",
			Help: "Trips offered to a driver.",
		}),
		offersResolved: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ridebook_offers_resolved_total",
			Help: "Offers resolved by outcome.",
		}, []string{"outcome"}),
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ridebook_trip_transitions_total",
			Help: "Committed trip status transitions.",
		}, []string{"from", "to"}),
		timeoutsFired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ridebook_offer_timeouts_processed_total",
			Help: "Offer timeouts processed by the poller by result.",
		}, []string{"result"}),
	}
}

func (m *Metrics) BookingCreated(attempts int) {
	if m == nil {
		return
	}
	m.bookingsCreated.Inc()
	m.bookingAttempts.Observe(float64(attempts))
}

func (m *Metrics) BookingConflict(reason string) {
	if m == nil {
		return
	}
	m.bookingConflicts.WithLabelValues(reason).Inc()
}

func (m *Metrics) OfferMade() {
	if m == nil {
		return
	}
	m.offersMade.Inc()
}

func (m *Metrics) OfferResolved(outcome string) {
	if m == nil {
		return
	}
	m.offersResolved.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
}

// TimeoutProcessed records one poller outcome: "reverted", "noop" or "retry".
func (m *Metrics) TimeoutProcessed(result string) {
	if m == nil {
		return
	}
	m.timeoutsFired.WithLabelValues(result).Inc()
}
