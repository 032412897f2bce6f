package metrics

import "github.com/prometheus/client_golang/prometheus"

// TriageMetrics exposes counters/histograms for the AI triage pipeline.
type TriageMetrics struct {
	jobsTotal      *prometheus.CounterVec
	aiLatency      *prometheus.HistogramVec
	parseFallbacks prometheus.Counter
	staleResolved  prometheus.Counter
}

func NewTriageMetrics(reg prometheus.Registerer) *TriageMetrics {
	m := &TriageMetrics{
		jobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rescue",
			Subsystem: "triage",
			Name:      "jobs_total",
			Help:      "Triage jobs by terminal outcome",
		}, []string{"outcome", "error_kind"}),
		aiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "rescue",
			Subsystem: "triage",
			Name:      "ai_request_seconds",
			Help:      "Latency of generative AI requests",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 90},
		}, []string{"client", "result"}),
		parseFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rescue",
			Subsystem: "triage",
			Name:      "parse_fallback_total",
			Help:      "AI responses that could not be parsed and were replaced by the fallback payload",
		}),
		staleResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "rescue",
			Subsystem: "triage",
			Name:      "stale_pending_resolved_total",
			Help:      "Pending assistant messages resolved by the sweeper",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.jobsTotal, m.aiLatency, m.parseFallbacks, m.staleResolved)
	return m
}

// ObserveJob records a job outcome (completed, retrying, failed).
func (m *TriageMetrics) ObserveJob(outcome, errorKind string) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(outcome, errorKind).Inc()
}

func (m *TriageMetrics) ObserveAIRequest(client, result string, seconds float64) {
	if m == nil {
		return
	}
	m.aiLatency.WithLabelValues(client, result).Observe(seconds)
}

func (m *TriageMetrics) ObserveParseFallback() {
	if m == nil {
		return
	}
	m.parseFallbacks.Inc()
}

func (m *TriageMetrics) ObserveStaleResolved(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.staleResolved.Add(float64(n))
}

// AppointmentMetrics exposes counters for outbound vet calls and their webhooks.
type AppointmentMetrics struct {
	callsTotal    *prometheus.CounterVec
	webhooksTotal *prometheus.CounterVec
}

func NewAppointmentMetrics(reg prometheus.Registerer) *AppointmentMetrics {
	m := &AppointmentMetrics{
		callsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rescue",
			Subsystem: "appointments",
			Name:      "calls_total",
			Help:      "Outbound vet calls by result",
		}, []string{"result"}),
		webhooksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rescue",
			Subsystem: "appointments",
			Name:      "webhooks_total",
			Help:      "Inbound call webhooks by type and result",
		}, []string{"type", "result"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.callsTotal, m.webhooksTotal)
	return m
}

func (m *AppointmentMetrics) ObserveCall(result string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(result).Inc()
}

func (m *AppointmentMetrics) ObserveWebhook(kind, result string) {
	if m == nil {
		return
	}
	m.webhooksTotal.WithLabelValues(kind, result).Inc()
}
