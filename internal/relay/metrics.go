package relay

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks relay hub activity. All methods are nil-safe so the hub can
// run without a registry in tests.
type Metrics struct {
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	eventsTotal       *prometheus.CounterVec
	routeErrors       *prometheus.CounterVec
	droppedDeliveries *prometheus.CounterVec
	eventLatency      *prometheus.HistogramVec
	presenceEvicted   prometheus.Counter
}

// NewMetrics registers the relay metric set.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dappchat_connections_active",
			Help: "Current number of live websocket connections.",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dappchat_connections_total",
			Help: "Total websocket connections accepted since start.",
		}),
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dappchat_events_total",
			Help: "Inbound events handled, by event name.",
		}, []string{"event"}),
		routeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dappchat_route_errors_total",
			Help: "Event validation or routing errors, by code.",
		}, []string{"code"}),
		droppedDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dappchat_dropped_deliveries_total",
			Help: "Best-effort deliveries skipped, by reason.",
		}, []string{"reason"}),
		eventLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dappchat_event_latency_seconds",
			Help:    "Latency for handling inbound events.",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"event"}),
		presenceEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dappchat_presence_evicted_total",
			Help: "Stale offline presence records evicted by housekeeping.",
		}),
	}

	reg.MustRegister(
		m.activeConnections,
		m.connectionsTotal,
		m.eventsTotal,
		m.routeErrors,
		m.droppedDeliveries,
		m.eventLatency,
		m.presenceEvicted,
	)
	return m
}

func (m *Metrics) incConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
	m.connectionsTotal.Inc()
}

func (m *Metrics) decConnection() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) recordEvent(event string) {
	if m == nil || event == "" {
		return
	}
	m.eventsTotal.WithLabelValues(event).Inc()
}

func (m *Metrics) recordError(code string) {
	if m == nil {
		return
	}
	if code == "" {
		code = "internal"
	}
	m.routeErrors.WithLabelValues(code).Inc()
}

func (m *Metrics) recordDrop(reason string) {
	if m == nil {
		return
	}
	if reason == "" {
		reason = "unknown"
	}
	m.droppedDeliveries.WithLabelValues(reason).Inc()
}

func (m *Metrics) observeLatency(event string, dur time.Duration) {
	if m == nil || event == "" {
		return
	}
	m.eventLatency.WithLabelValues(event).Observe(dur.Seconds())
}

func (m *Metrics) recordEviction(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.presenceEvicted.Add(float64(n))
}
