package monitoring

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics. Every recording method is safe to
// call on a nil *Metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// RPC metrics
	RPCCalls    *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// Handle metrics
	HandlesLive    prometheus.Gauge
	HandlesCreated prometheus.Counter

	// Interception metrics
	InterceptedRequests *prometheus.CounterVec

	// Session metrics
	SessionsActive prometheus.Gauge

	// WebSocket metrics
	WSConnections prometheus.Gauge
	WSMessages    *prometheus.CounterVec

	startTime time.Time
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	m := &Metrics{
		registry:  reg,
		startTime: time.Now(),

		// HTTP metrics
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"method", "path"},
		),

		// RPC metrics
		RPCCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_rpc_calls_total",
				Help: "Total number of RPC calls",
			},
			[]string{"direction", "method", "status"},
		),
		RPCDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bridge_rpc_duration_seconds",
				Help:    "RPC call duration in seconds",
				Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"direction", "method"},
		),

		// Handle metrics
		HandlesLive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_handles_live",
				Help: "Number of values held in handle registries",
			},
		),
		HandlesCreated: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "bridge_handles_created_total",
				Help: "Total number of handles minted",
			},
		),

		// Interception metrics
		InterceptedRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_intercepted_requests_total",
				Help: "Total number of intercepted requests by resolution",
			},
			[]string{"resolution"},
		),

		// Session metrics
		SessionsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_sessions_active",
				Help: "Number of registered bridge sessions",
			},
		),

		// WebSocket metrics
		WSConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bridge_ws_connections",
				Help: "Number of active WebSocket connections",
			},
		),
		WSMessages: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bridge_ws_messages_total",
				Help: "Total number of WebSocket frames",
			},
			[]string{"direction"},
		),
	}

	factory.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "bridge_uptime_seconds",
			Help: "Host uptime in seconds",
		},
		func() float64 { return time.Since(m.startTime).Seconds() },
	)
	reg.MustRegister(collectors.NewGoCollector())

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the metrics in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, path, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, status).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordRPCCall records one RPC call. Direction is "in" for calls served and
// "out" for calls made.
func (m *Metrics) RecordRPCCall(direction, method, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.RPCCalls.WithLabelValues(direction, method, status).Inc()
	m.RPCDuration.WithLabelValues(direction, method).Observe(duration.Seconds())
}

// HandleCreated records a newly registered handle.
func (m *Metrics) HandleCreated() {
	if m == nil {
		return
	}
	m.HandlesCreated.Inc()
	m.HandlesLive.Inc()
}

// HandleReleased records a disposed handle.
func (m *Metrics) HandleReleased() {
	if m == nil {
		return
	}
	m.HandlesLive.Dec()
}

// RecordIntercept records how an intercepted request was resolved.
func (m *Metrics) RecordIntercept(resolution string) {
	if m == nil {
		return
	}
	m.InterceptedRequests.WithLabelValues(resolution).Inc()
}

// SetSessionsActive sets the number of registered sessions
func (m *Metrics) SetSessionsActive(count int) {
	if m == nil {
		return
	}
	m.SessionsActive.Set(float64(count))
}

// RecordWSMessage records a WebSocket frame
func (m *Metrics) RecordWSMessage(direction string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction).Inc()
}

// IncWSConnections increments WebSocket connections
func (m *Metrics) IncWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Inc()
}

// DecWSConnections decrements WebSocket connections
func (m *Metrics) DecWSConnections() {
	if m == nil {
		return
	}
	m.WSConnections.Dec()
}
