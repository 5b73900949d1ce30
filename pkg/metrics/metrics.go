package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Audit pipeline
	AuditEventsWritten = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_audit_events_written_total",
		Help: "Total number of audit events accepted by a sink",
	}, []string{"sink"})
	AuditEventsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_audit_events_dropped_total",
		Help: "Total number of audit events dropped before reaching a sink",
	}, []string{"sink", "reason"})
	AuditSinkErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_audit_sink_errors_total",
		Help: "Total number of failed sink writes",
	}, []string{"sink"})
	AuditStreamBuffered = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trustcore_audit_stream_buffered",
		Help: "Number of events currently held in a stream sink ring buffer",
	}, []string{"sink"})
	AuditQueueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trustcore_audit_queue_depth",
		Help: "Number of events waiting in a queued sink",
	}, []string{"sink"})

	// Health tracker. The state gauge uses 0=closed, 1=half_open, 2=open.
	HealthTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_health_transitions_total",
		Help: "Total number of circuit breaker transitions",
	}, []string{"provider", "model", "to"})
	HealthCircuitState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "trustcore_health_circuit_state",
		Help: "Current circuit breaker state per provider/model (0=closed, 1=half_open, 2=open)",
	}, []string{"provider", "model"})
	HealthCallsRejected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_health_calls_rejected_total",
		Help: "Total number of calls rejected because the circuit was open",
	}, []string{"provider", "model"})

	// Policy
	PolicyDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_policy_decisions_total",
		Help: "Total number of capability decisions by outcome",
	}, []string{"decision"})

	// Subscription / HTTP
	SubscriptionPollsThrottled = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "trustcore_subscription_polls_throttled_total",
		Help: "Total number of snapshot polls rejected by the events-per-second budget",
	})
	APIRequestsRateLimited = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "trustcore_api_requests_rate_limited_total",
		Help: "Total number of HTTP requests rejected by the per-client rate limiter",
	}, []string{"route"})
)

func init() {
	prometheus.MustRegister(AuditEventsWritten)
	prometheus.MustRegister(AuditEventsDropped)
	prometheus.MustRegister(AuditSinkErrors)
	prometheus.MustRegister(AuditStreamBuffered)
	prometheus.MustRegister(AuditQueueDepth)
	prometheus.MustRegister(HealthTransitions)
	prometheus.MustRegister(HealthCircuitState)
	prometheus.MustRegister(HealthCallsRejected)
	prometheus.MustRegister(PolicyDecisions)
	prometheus.MustRegister(SubscriptionPollsThrottled)
	prometheus.MustRegister(APIRequestsRateLimited)
}

// MetricsHandler returns an http.Handler exposing Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
