// Package metrics exposes relay counters to Prometheus. A nil *Metrics is
// valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "talkie"

type Metrics struct {
	reg *prometheus.Registry

	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	activeConnections prometheus.Gauge
	connectionsTotal  prometheus.Counter
	activeSessions    prometheus.Gauge
	signalsRelayed    *prometheus.CounterVec
	chatBroadcasts    *prometheus.CounterVec
	activeLanes       prometheus.Gauge
	heartbeatReaped   prometheus.Counter
	rejected          *prometheus.CounterVec
	backpressure      prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections_active",
			Help:      "Number of registered websocket connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connections_total",
			Help:      "Connections that passed authentication",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "signaling_sessions_active",
			Help:      "Call rooms with at least one participant",
		}),
		signalsRelayed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_relayed_total",
			Help:      "Signaling events delivered to a peer",
		}, []string{"type"}),
		chatBroadcasts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_broadcasts_total",
			Help:      "Chat events fanned out to a room",
		}, []string{"type"}),
		activeLanes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_lanes_active",
			Help:      "Running per-room chat writer lanes",
		}),
		heartbeatReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "heartbeat_reaped_total",
			Help:      "Connections closed for missing heartbeat",
		}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_rejected_total",
			Help:      "Inbound events answered with an error",
		}, []string{"kind"}),
		backpressure: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backpressure_drops_total",
			Help:      "Frames not delivered because a send buffer was full",
		}),
	}
	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequests,
		m.httpDuration,
		m.activeConnections,
		m.connectionsTotal,
		m.activeSessions,
		m.signalsRelayed,
		m.chatBroadcasts,
		m.activeLanes,
		m.heartbeatReaped,
		m.rejected,
		m.backpressure,
	)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) ObserveHTTP(method, endpoint string, status int, seconds float64) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpDuration.WithLabelValues(method, endpoint).Observe(seconds)
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.activeConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) SessionOpened() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) SessionClosed() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) SignalRelayed(typ string) {
	if m == nil {
		return
	}
	m.signalsRelayed.WithLabelValues(typ).Inc()
}

func (m *Metrics) ChatBroadcast(typ string) {
	if m == nil {
		return
	}
	m.chatBroadcasts.WithLabelValues(typ).Inc()
}

func (m *Metrics) LaneStarted() {
	if m == nil {
		return
	}
	m.activeLanes.Inc()
}

func (m *Metrics) LaneStopped() {
	if m == nil {
		return
	}
	m.activeLanes.Dec()
}

func (m *Metrics) Reaped() {
	if m == nil {
		return
	}
	m.heartbeatReaped.Inc()
}

func (m *Metrics) Rejected(kind string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(kind).Inc()
}

func (m *Metrics) Backpressure(n int) {
	if m == nil || n == 0 {
		return
	}
	m.backpressure.Add(float64(n))
}
