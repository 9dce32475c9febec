package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// CheckoutMetrics records checkout outcomes, invoice reservations and
// reconcile results. A nil receiver or one built without a registerer is a no-op.
type CheckoutMetrics struct {
	outcomes    *prometheus.CounterVec
	reservation *prometheus.HistogramVec
	reconcile   *prometheus.CounterVec
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	if reg == nil {
		return &CheckoutMetrics{}
	}
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_checkout_outcomes_total",
		Help: "Checkouts by final sync state.",
	}, []string{"state"})
	reservation := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "pos_invoice_reservation_seconds",
		Help:    "Duration of invoice number reservations in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"result"})
	reconcile := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "pos_reconcile_orders_total",
		Help: "Orders retried by the reconciler, by result.",
	}, []string{"result"})
	reg.MustRegister(outcomes, reservation, reconcile)
	return &CheckoutMetrics{
		outcomes:    outcomes,
		reservation: reservation,
		reconcile:   reconcile,
	}
}

func (m *CheckoutMetrics) IncOutcome(state string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(state)).Inc()
}

// ObserveReservation records how long a reservation took and whether it committed.
func (m *CheckoutMetrics) ObserveReservation(duration time.Duration, err error) {
	if m == nil || m.reservation == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.reservation.WithLabelValues(result).Observe(duration.Seconds())
}

func (m *CheckoutMetrics) IncReconcile(result string) {
	if m == nil || m.reconcile == nil {
		return
	}
	m.reconcile.WithLabelValues(normalizeLabel(result)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
