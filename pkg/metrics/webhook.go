package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WebhookMetrics records settlement outcomes per event type.
type WebhookMetrics struct {
	duration *prometheus.HistogramVec
	settled  *prometheus.CounterVec
	outcomes *prometheus.CounterVec
}

// NewWebhookMetrics registers the webhook metrics on the provided registerer.
func NewWebhookMetrics(reg prometheus.Registerer) *WebhookMetrics {
	if reg == nil {
		return &WebhookMetrics{}
	}
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "webhook_settlement_duration_seconds",
		Help:    "End-to-end settlement duration per event type.",
		Buckets: prometheus.DefBuckets,
	}, []string{"event_type"})
	settled := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_orders_settled",
		Help: "Orders persisted by the settlement engine.",
	}, []string{"kind"})
	outcomes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "webhook_outcomes",
		Help: "Terminal webhook outcomes (settled, duplicate, conflict, rejected, notify_failed).",
	}, []string{"outcome"})
	reg.MustRegister(duration, settled, outcomes)
	return &WebhookMetrics{
		duration: duration,
		settled:  settled,
		outcomes: outcomes,
	}
}

// ObserveDuration records the settlement duration for the given event type.
func (m *WebhookMetrics) ObserveDuration(eventType string, duration time.Duration) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(normalizeLabel(eventType)).Observe(duration.Seconds())
}

// IncSettled counts a persisted order of the given kind.
func (m *WebhookMetrics) IncSettled(kind string) {
	if m == nil || m.settled == nil {
		return
	}
	m.settled.WithLabelValues(normalizeLabel(kind)).Inc()
}

// IncOutcome counts a terminal webhook outcome.
func (m *WebhookMetrics) IncOutcome(outcome string) {
	if m == nil || m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(normalizeLabel(outcome)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
