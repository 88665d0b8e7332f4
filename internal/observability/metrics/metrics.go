package metrics

import "github.com/prometheus/client_golang/prometheus"

// PipelineMetrics exposes counters/histograms for the webhook ingest, advice
// cycle, model scorer, and rate limiter.
type PipelineMetrics struct {
	webhooksTotal    *prometheus.CounterVec
	webhookLatency   *prometheus.HistogramVec
	adviceCycles     *prometheus.CounterVec
	adviceLatency    *prometheus.HistogramVec
	modelCalls       *prometheus.CounterVec
	modelLatency     *prometheus.HistogramVec
	rateLimitDenials *prometheus.CounterVec
	pushFanoutTotal  *prometheus.CounterVec
}

// NewPipelineMetrics constructs and registers the coaching pipeline's metric
// vectors. A nil Registerer falls back to the default registry.
func NewPipelineMetrics(reg prometheus.Registerer) *PipelineMetrics {
	m := &PipelineMetrics{
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coaching",
			Subsystem: "webhook",
			Name:      "events_total",
			Help:      "Total inbound transcript/status webhooks, by outcome",
		}, []string{"outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coaching",
			Subsystem: "webhook",
			Name:      "handle_latency_seconds",
			Help:      "Latency of webhook handling from receipt to ack",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		adviceCycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coaching",
			Subsystem: "advice",
			Name:      "cycles_total",
			Help:      "Total advice cycles run by the per-call worker, by source",
		}, []string{"source"}),
		adviceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coaching",
			Subsystem: "advice",
			Name:      "cycle_latency_seconds",
			Help:      "Latency of a single advice cycle end to end",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),
		modelCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coaching",
			Subsystem: "model",
			Name:      "calls_total",
			Help:      "Total remote model scorer calls, by provider and outcome",
		}, []string{"provider", "outcome"}),
		modelLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "coaching",
			Subsystem: "model",
			Name:      "call_latency_seconds",
			Help:      "Latency of remote model scorer calls",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		rateLimitDenials: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coaching",
			Subsystem: "ratelimit",
			Name:      "denials_total",
			Help:      "Total requests denied by the rate limiter or cooldown, by scope",
		}, []string{"scope"}),
		pushFanoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "coaching",
			Subsystem: "live",
			Name:      "push_total",
			Help:      "Total live-view push notifications sent, by outcome",
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.webhooksTotal,
		m.webhookLatency,
		m.adviceCycles,
		m.adviceLatency,
		m.modelCalls,
		m.modelLatency,
		m.rateLimitDenials,
		m.pushFanoutTotal,
	)
	return m
}

func (m *PipelineMetrics) ObserveWebhook(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(outcome).Inc()
	m.webhookLatency.WithLabelValues(outcome).Observe(seconds)
}

func (m *PipelineMetrics) ObserveAdviceCycle(source string, seconds float64) {
	if m == nil {
		return
	}
	m.adviceCycles.WithLabelValues(source).Inc()
	m.adviceLatency.WithLabelValues(source).Observe(seconds)
}

func (m *PipelineMetrics) ObserveModelCall(provider, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.modelCalls.WithLabelValues(provider, outcome).Inc()
	m.modelLatency.WithLabelValues(provider).Observe(seconds)
}

func (m *PipelineMetrics) ObserveRateLimitDenial(scope string) {
	if m == nil {
		return
	}
	m.rateLimitDenials.WithLabelValues(scope).Inc()
}

func (m *PipelineMetrics) ObservePush(outcome string) {
	if m == nil {
		return
	}
	m.pushFanoutTotal.WithLabelValues(outcome).Inc()
}
