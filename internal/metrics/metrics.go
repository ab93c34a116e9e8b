// Package metrics exposes Prometheus collectors for the scheduling engines.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hackgods/booking-queue-engine/internal/apperror"
)

const (
	ResultOK       = "ok"
	ResultConflict = "conflict"
	ResultInvalid  = "invalid"
	ResultNotFound = "not_found"
	ResultRejected = "rejected"
	ResultError    = "error"
)

type Metrics struct {
	queueJoins       *prometheus.CounterVec
	queueCalls       *prometheus.CounterVec
	entryTransitions *prometheus.CounterVec
	bookings         *prometheus.CounterVec
	transitions      *prometheus.CounterVec
	estimatedWait    prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		queueJoins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "queue_joins_total",
			Help:      "Queue join attempts by result.",
		}, []string{"result"}),
		queueCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "queue_calls_total",
			Help:      "Call-next outcomes by selected kind.",
		}, []string{"kind"}),
		entryTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "queue_entry_transitions_total",
			Help:      "Queue entry status changes by target status.",
		}, []string{"status"}),
		bookings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "appointment_bookings_total",
			Help:      "Appointment create attempts by result.",
		}, []string{"result"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scheduling",
			Name:      "appointment_transitions_total",
			Help:      "Appointment status changes by target status.",
		}, []string{"status"}),
		estimatedWait: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "scheduling",
			Name:      "queue_estimated_wait_minutes",
			Help:      "Estimated wait handed out on join.",
			Buckets:   []float64{0, 5, 15, 30, 60, 120, 240},
		}),
	}

	if reg != nil {
		reg.MustRegister(m.queueJoins, m.queueCalls, m.entryTransitions, m.bookings, m.transitions, m.estimatedWait)
	}

	return m
}

// ResultFor maps an engine error to a result label.
func ResultFor(err error) string {
	if err == nil {
		return ResultOK
	}
	switch apperror.KindOf(err) {
	case apperror.Conflict:
		return ResultConflict
	case apperror.InvalidInput:
		return ResultInvalid
	case apperror.NotFound:
		return ResultNotFound
	case apperror.InvalidState, apperror.Unauthorized:
		return ResultRejected
	default:
		return ResultError
	}
}

func (m *Metrics) ObserveJoin(result string, estimatedWaitMinutes int) {
	if m == nil {
		return
	}
	m.queueJoins.WithLabelValues(result).Inc()
	if result == ResultOK {
		m.estimatedWait.Observe(float64(estimatedWaitMinutes))
	}
}

func (m *Metrics) ObserveCall(kind string) {
	if m == nil {
		return
	}
	m.queueCalls.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveEntryTransition(status string) {
	if m == nil {
		return
	}
	m.entryTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookings.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTransition(status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(status).Inc()
}
