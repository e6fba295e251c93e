package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Sandbox metrics
	Invocations        *prometheus.CounterVec
	InvocationDuration *prometheus.HistogramVec
	SessionsActive     prometheus.Gauge

	// Store metrics
	Intents *prometheus.CounterVec

	// Registry metrics
	RegistryCards  prometheus.Gauge
	CardInjections *prometheus.CounterVec

	// Resilience metrics
	BreakerTrips prometheus.Counter

	// RPC metrics
	RPCCalls   *prometheus.CounterVec
	RPCPending prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics creates a metrics collector registered on reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	m := &Metrics{
		startTime: time.Now(),

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardruntime_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cardruntime_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		Invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardruntime_sandbox_invocations_total",
				Help: "Total number of sandbox invocations by operation and outcome",
			},
			[]string{"op", "outcome"},
		),
		InvocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "cardruntime_sandbox_invocation_duration_seconds",
				Help:    "Sandbox invocation duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
			},
			[]string{"op"},
		),
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cardruntime_sessions_active",
				Help: "Number of live sandbox sessions",
			},
		),

		Intents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardruntime_intents_total",
				Help: "Total number of ingested intents by scope and outcome",
			},
			[]string{"scope", "outcome"},
		),

		RegistryCards: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cardruntime_registry_cards",
				Help: "Number of runtime cards in the registry",
			},
		),
		CardInjections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardruntime_card_injections_total",
				Help: "Total number of runtime card injections by outcome",
			},
			[]string{"outcome"},
		),

		BreakerTrips: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "cardruntime_breaker_trips_total",
				Help: "Total number of sessions disposed by the runaway guard",
			},
		),

		RPCCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardruntime_rpc_calls_total",
				Help: "Total number of RPC calls by type and status",
			},
			[]string{"type", "status"},
		),
		RPCPending: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cardruntime_rpc_pending",
				Help: "Number of RPC calls awaiting a response",
			},
		),

		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "cardruntime_ws_connections",
				Help: "Number of active worker WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "cardruntime_ws_messages_total",
				Help: "Total number of WebSocket messages",
			},
			[]string{"direction", "type"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "cardruntime_uptime_seconds",
			Help: "Process uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)

	return m
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordInvocation records one sandbox load/render/event/define call
func (m *Metrics) RecordInvocation(op, outcome string, duration time.Duration) {
	m.Invocations.WithLabelValues(op, outcome).Inc()
	m.InvocationDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// SetSessionsActive sets the number of live sessions
func (m *Metrics) SetSessionsActive(count int) {
	m.SessionsActive.Set(float64(count))
}

// RecordIntent records one ingested intent
func (m *Metrics) RecordIntent(scope, outcome string) {
	m.Intents.WithLabelValues(scope, outcome).Inc()
}

// SetRegistryCards sets the number of registered runtime cards
func (m *Metrics) SetRegistryCards(count int) {
	m.RegistryCards.Set(float64(count))
}

// RecordInjection records one runtime card injection
func (m *Metrics) RecordInjection(outcome string) {
	m.CardInjections.WithLabelValues(outcome).Inc()
}

// IncBreakerTrips increments the runaway guard counter
func (m *Metrics) IncBreakerTrips() {
	m.BreakerTrips.Inc()
}

// RecordRPCCall records one completed RPC call
func (m *Metrics) RecordRPCCall(msgType, status string) {
	m.RPCCalls.WithLabelValues(msgType, status).Inc()
}

// SetRPCPending sets the number of in-flight RPC calls
func (m *Metrics) SetRPCPending(count int) {
	m.RPCPending.Set(float64(count))
}

// RecordWSMessage records a WebSocket message
func (m *Metrics) RecordWSMessage(direction, msgType string) {
	m.WSMessages.WithLabelValues(direction, msgType).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	m.WSConnections.Dec()
}
