package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPipelineMetricsObserve(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)
	m.ObserveInbound("text", "replied")
	m.ObserveTool("book_appointment", "ok")
	m.ObserveBooking("confirmed")
	m.ObserveReactivation("sent")
	m.ObserveHandoffSweep()
	m.ObserveWebhookLatency("audio", 0.4)
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveInbound("text", "replied")
	m.ObserveTool("tool", "error")
	m.ObserveBooking("conflict")
	m.ObserveReactivation("failed")
	m.ObserveHandoffSweep()
	m.ObserveWebhookLatency("text", 0.1)
}
