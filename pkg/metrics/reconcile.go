package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ReconcileMetrics records dispatcher and ledger outcomes.
type ReconcileMetrics struct {
	applied     *prometheus.CounterVec
	duplicates  prometheus.Counter
	deadLetters *prometheus.CounterVec
	retries     prometheus.Counter
	duration    *prometheus.HistogramVec
	adjustments *prometheus.CounterVec
}

// NewReconcileMetrics registers the reconciliation metrics on the provided registerer.
func NewReconcileMetrics(reg prometheus.Registerer) *ReconcileMetrics {
	if reg == nil {
		return &ReconcileMetrics{}
	}
	applied := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_applied_total",
		Help: "Payment events applied by the reconciliation consumer.",
	}, []string{"status"})
	duplicates := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_events_duplicate_total",
		Help: "Payment events skipped because they were already processed.",
	})
	deadLetters := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_events_dead_lettered_total",
		Help: "Payment events routed to the dead letter table.",
	}, []string{"reason"})
	retries := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "payment_events_retried_total",
		Help: "Retry attempts made by the reconciliation consumer.",
	})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_event_apply_seconds",
		Help:    "Time spent applying a payment event.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})
	adjustments := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "inventory_adjustments_total",
		Help: "Stock ledger adjustments by reason.",
	}, []string{"reason"})
	reg.MustRegister(applied, duplicates, deadLetters, retries, duration, adjustments)
	return &ReconcileMetrics{
		applied:     applied,
		duplicates:  duplicates,
		deadLetters: deadLetters,
		retries:     retries,
		duration:    duration,
		adjustments: adjustments,
	}
}

// IncApplied increments the applied counter for the given payment status.
func (m *ReconcileMetrics) IncApplied(status string) {
	if m == nil || m.applied == nil {
		return
	}
	m.applied.WithLabelValues(normalizeLabel(status)).Inc()
}

// IncDuplicate increments the duplicate event counter.
func (m *ReconcileMetrics) IncDuplicate() {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.Inc()
}

// IncDeadLettered increments the dead letter counter for the given reason.
func (m *ReconcileMetrics) IncDeadLettered(reason string) {
	if m == nil || m.deadLetters == nil {
		return
	}
	m.deadLetters.WithLabelValues(normalizeLabel(reason)).Inc()
}

// IncRetry increments the retry counter.
func (m *ReconcileMetrics) IncRetry() {
	if m == nil || m.retries == nil {
		return
	}
	m.retries.Inc()
}

// ObserveApply records the time spent applying a payment event.
func (m *ReconcileMetrics) ObserveApply(status string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(status)).Observe(duration.Seconds())
}

// IncAdjustment increments the ledger adjustment counter for the given reason.
func (m *ReconcileMetrics) IncAdjustment(reason string) {
	if m == nil || m.adjustments == nil {
		return
	}
	m.adjustments.WithLabelValues(normalizeLabel(reason)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
