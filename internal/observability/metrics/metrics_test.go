package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPipelineMetricsObserve(t *testing.T) {
	m := NewPipelineMetrics(nil)
	m.ObserveWebhook("accepted", 0.02)
	m.ObserveAdviceCycle("heuristic", 0.1)
	m.ObserveModelCall("bedrock", "ok", 0.4)
	m.ObserveRateLimitDenial("webhook_ip")
	m.ObservePush("ok")
}

func TestPipelineMetricsCustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPipelineMetrics(reg)
	m.ObserveWebhook("rejected", 0.01)
}

func TestPipelineMetricsNilSafe(t *testing.T) {
	var m *PipelineMetrics
	m.ObserveWebhook("accepted", 0.02)
	m.ObserveAdviceCycle("model", 0.2)
	m.ObserveModelCall("gemini", "error", 0.3)
	m.ObserveRateLimitDenial("call")
	m.ObservePush("error")
}
