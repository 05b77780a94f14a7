package metrics

import "github.com/prometheus/client_golang/prometheus"

// RelayMetrics exposes counters/histograms for the event pipeline.
type RelayMetrics struct {
	webhookTotal   *prometheus.CounterVec
	dedupTotal     *prometheus.CounterVec
	eventsTotal    *prometheus.CounterVec
	aiTotal        *prometheus.CounterVec
	aiLatency      prometheus.Histogram
	chatCallsTotal *prometheus.CounterVec
	queueDepth     prometheus.Gauge
}

// NewRelayMetrics registers the relay collectors on reg, or on the default registerer when reg is nil.
func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	m := &RelayMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Inbound webhook requests by result",
		}, []string{"result"}),
		dedupTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "dedup",
			Name:      "decisions_total",
			Help:      "Deduplicator decisions (reserved, duplicate, store_error)",
		}, []string{"decision"}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "events",
			Name:      "completed_total",
			Help:      "Processed events by terminal status",
		}, []string{"status"}),
		aiTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "ai",
			Name:      "requests_total",
			Help:      "AI gateway calls by outcome",
		}, []string{"outcome"}),
		aiLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "relay",
			Subsystem: "ai",
			Name:      "latency_seconds",
			Help:      "Latency of AI gateway calls including the retry",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30, 60},
		}),
		chatCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relay",
			Subsystem: "chat",
			Name:      "calls_total",
			Help:      "Outbound chat platform calls by operation and status",
		}, []string{"op", "status"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "relay",
			Subsystem: "dispatch",
			Name:      "queue_depth",
			Help:      "Events waiting for a dispatch worker",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.dedupTotal, m.eventsTotal, m.aiTotal, m.aiLatency, m.chatCallsTotal, m.queueDepth)
	return m
}

// ObserveWebhook counts an inbound webhook by result.
func (m *RelayMetrics) ObserveWebhook(result string) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(result).Inc()
}

// ObserveDedup counts a reservation decision.
func (m *RelayMetrics) ObserveDedup(decision string) {
	if m == nil {
		return
	}
	m.dedupTotal.WithLabelValues(decision).Inc()
}

// ObserveEvent counts a finished event by status.
func (m *RelayMetrics) ObserveEvent(status string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(status).Inc()
}

// ObserveAI records one gateway call, retry included.
func (m *RelayMetrics) ObserveAI(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.aiTotal.WithLabelValues(outcome).Inc()
	m.aiLatency.Observe(seconds)
}

// ObserveChatCall counts an outbound chat call as ok or error.
func (m *RelayMetrics) ObserveChatCall(op string, err error) {
	if m == nil {
		return
	}
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.chatCallsTotal.WithLabelValues(op, status).Inc()
}

// SetQueueDepth reports events waiting for a worker.
func (m *RelayMetrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(n))
}
