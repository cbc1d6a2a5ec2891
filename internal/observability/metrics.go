package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels shared by the gateway request metrics
const (
	OutcomeOK            = "ok"
	OutcomeUpstreamError = "upstream_error"
	OutcomeUnreachable   = "unreachable"
	OutcomeLocalError    = "local_error"
)

var (
	// Request metrics
	inflightRequests = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_gateway_inflight_requests",
		Help: "Number of gateway requests currently being proxied",
	}, []string{"operation"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_requests_total",
		Help: "Total number of gateway requests by operation and outcome",
	}, []string{"operation", "outcome"})

	// Chat and synthesis calls may legitimately take minutes upstream
	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "chat_gateway_request_duration_seconds",
		Help:    "Gateway request latency in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 180},
	}, []string{"operation"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "chat_gateway_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})

	// Audio metrics
	audioBytesRelayed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_gateway_audio_bytes_total",
		Help: "Total audio bytes relayed",
	}, []string{"direction"}) // direction: "in" (stt uploads) or "out" (tts audio)
)

// RequestMetrics tracks metrics for a single gateway request
type RequestMetrics struct {
	operation string
	startTime time.Time
	done      bool
}

// NewRequestMetrics starts tracking a request for the given operation
func NewRequestMetrics(operation string) *RequestMetrics {
	inflightRequests.WithLabelValues(operation).Inc()
	return &RequestMetrics{
		operation: operation,
		startTime: time.Now(),
	}
}

// RecordEnd records the request outcome; later calls are ignored
func (m *RequestMetrics) RecordEnd(outcome string) {
	if m.done {
		return
	}
	m.done = true

	inflightRequests.WithLabelValues(m.operation).Dec()
	requestDuration.WithLabelValues(m.operation).Observe(time.Since(m.startTime).Seconds())
	requestsTotal.WithLabelValues(m.operation, outcome).Inc()
}

// RecordAudioBytes records audio bytes relayed
func (m *RequestMetrics) RecordAudioBytes(direction string, bytes int) {
	audioBytesRelayed.WithLabelValues(direction).Add(float64(bytes))
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}
