package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the conversation pipeline.
type PipelineMetrics struct {
	inboundTotal      *prometheus.CounterVec
	toolTotal         *prometheus.CounterVec
	bookingsTotal     *prometheus.CounterVec
	reactivationTotal *prometheus.CounterVec
	handoffSweeps     prometheus.Counter
	webhookLatency    *prometheus.HistogramVec
}

func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonrisa",
			Subsystem: "inbound",
			Name:      "messages_total",
			Help:      "Total inbound WhatsApp messages by type and outcome",
		}, []string{"media", "outcome"}),
		toolTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonrisa",
			Subsystem: "conversation",
			Name:      "tool_invocations_total",
			Help:      "Total agent tool invocations",
		}, []string{"tool", "status"}),
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonrisa",
			Subsystem: "scheduling",
			Name:      "bookings_total",
			Help:      "Total booking attempts",
		}, []string{"status"}),
		reactivationTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sonrisa",
			Subsystem: "reactivation",
			Name:      "messages_total",
			Help:      "Total reactivation messages",
		}, []string{"status"}),
		handoffSweeps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "sonrisa",
			Subsystem: "handoff",
			Name:      "sweeps_total",
			Help:      "Total handoff timeout sweeps",
		}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sonrisa",
			Subsystem: "inbound",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"media"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.inboundTotal, m.toolTotal, m.bookingsTotal, m.reactivationTotal, m.handoffSweeps, m.webhookLatency)
	return m
}

func (m *PipelineMetrics) ObserveInbound(media, outcome string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(media, outcome).Inc()
}

func (m *PipelineMetrics) ObserveTool(tool, status string) {
	if m == nil {
		return
	}
	m.toolTotal.WithLabelValues(tool, status).Inc()
}

func (m *PipelineMetrics) ObserveBooking(status string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) ObserveReactivation(status string) {
	if m == nil {
		return
	}
	m.reactivationTotal.WithLabelValues(status).Inc()
}

func (m *PipelineMetrics) ObserveHandoffSweep() {
	if m == nil {
		return
	}
	m.handoffSweeps.Inc()
}

func (m *PipelineMetrics) ObserveWebhookLatency(media string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookLatency.WithLabelValues(media).Observe(seconds)
}
