package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the reservation and
// reconciliation flows.
type BookingMetrics struct {
	reservationsTotal  *prometheus.CounterVec
	webhookEventsTotal *prometheus.CounterVec
	webhookLatency     *prometheus.HistogramVec
	refundsTotal       *prometheus.CounterVec
	slotsGenerated     prometheus.Counter
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		reservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "booking",
			Name:      "reservations_total",
			Help:      "Total slot reservation attempts",
		}, []string{"status"}),
		webhookEventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "payments",
			Name:      "webhook_events_total",
			Help:      "Total processor webhook events received",
		}, []string{"event_type", "status"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "telehealth",
			Subsystem: "payments",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of processor webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		refundsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "payments",
			Name:      "refunds_total",
			Help:      "Total refund requests",
		}, []string{"status"}),
		slotsGenerated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "telehealth",
			Subsystem: "scheduling",
			Name:      "slots_generated_total",
			Help:      "Total time slots created by bulk generation",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.reservationsTotal, m.webhookEventsTotal, m.webhookLatency, m.refundsTotal, m.slotsGenerated)
	return m
}

func (m *BookingMetrics) ObserveReservation(status string) {
	if m == nil {
		return
	}
	m.reservationsTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) ObserveWebhookEvent(eventType, status string) {
	if m == nil {
		return
	}
	m.webhookEventsTotal.WithLabelValues(eventType, status).Inc()
}

func (m *BookingMetrics) ObserveWebhookLatency(eventType string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

func (m *BookingMetrics) ObserveRefund(status string) {
	if m == nil {
		return
	}
	m.refundsTotal.WithLabelValues(status).Inc()
}

func (m *BookingMetrics) AddSlotsGenerated(n int) {
	if m == nil {
		return
	}
	m.slotsGenerated.Add(float64(n))
}
