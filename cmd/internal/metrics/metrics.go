// Package metrics defines Courier's Prometheus collectors.
//
// Every method is safe on a nil *Metrics so components can run without
// instrumentation (tests, tools).
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "courier"

// Metrics owns a private registry so parallel tests never collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	registrations *prometheus.CounterVec
	logins        *prometheus.CounterVec
	verifications *prometheus.CounterVec
	remoteLatency prometheus.Histogram

	sessions   prometheus.Gauge
	admissions *prometheus.CounterVec
	wsRejects  *prometheus.CounterVec
	broadcasts prometheus.Counter
	deliveries *prometheus.CounterVec
	malformed  prometheus.Counter

	shutdownState  prometheus.Gauge
	snapshotWrites *prometheus.CounterVec
}

// New registers all collectors plus the Go and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "issuer", Name: "registrations_total",
			Help: "Registration attempts by result.",
		}, []string{"result"}),
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "issuer", Name: "logins_total",
			Help: "Login attempts by result.",
		}, []string{"result"}),
		verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "auth", Name: "verifications_total",
			Help: "Token verifications by verifier and result.",
		}, []string{"verifier", "result"}),
		remoteLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "auth", Name: "remote_verify_seconds",
			Help:    "Latency of remote token verification calls.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		}),
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "hub", Name: "sessions",
			Help: "Live realtime sessions.",
		}),
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "admissions_total",
			Help: "Session admission attempts by result.",
		}, []string{"result"}),
		wsRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "handshake_rejects_total",
			Help: "Rejected websocket handshakes by reason.",
		}, []string{"reason"}),
		broadcasts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "broadcasts_total",
			Help: "Inbound messages fanned out.",
		}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "deliveries_total",
			Help: "Per-peer deliveries by result.",
		}, []string{"result"}),
		malformed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "hub", Name: "malformed_messages_total",
			Help: "Inbound frames rejected as malformed.",
		}),
		shutdownState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "shutdown_state",
			Help: "Shutdown state: 0 running, 1 draining, 2 persisted, 3 terminated.",
		}),
		snapshotWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "identity", Name: "snapshot_writes_total",
			Help: "Snapshot writes by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.registrations, m.logins, m.verifications, m.remoteLatency,
		m.sessions, m.admissions, m.wsRejects, m.broadcasts, m.deliveries, m.malformed,
		m.shutdownState, m.snapshotWrites,
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registration counts a /register outcome by result.
func (m *Metrics) Registration(result string) {
	if m != nil {
		m.registrations.WithLabelValues(result).Inc()
	}
}

// Login counts a /login outcome by result.
func (m *Metrics) Login(result string) {
	if m != nil {
		m.logins.WithLabelValues(result).Inc()
	}
}

// Verification counts a token check by verifier kind and result.
func (m *Metrics) Verification(verifier, result string) {
	if m != nil {
		m.verifications.WithLabelValues(verifier, result).Inc()
	}
}

// RemoteVerifyLatency observes one round trip to the issuer's /info endpoint.
func (m *Metrics) RemoteVerifyLatency(d time.Duration) {
	if m != nil {
		m.remoteLatency.Observe(d.Seconds())
	}
}

// SessionsLive sets the number of admitted sessions.
func (m *Metrics) SessionsLive(n int) {
	if m != nil {
		m.sessions.Set(float64(n))
	}
}

// Admission counts a registry admission attempt by result.
func (m *Metrics) Admission(result string) {
	if m != nil {
		m.admissions.WithLabelValues(result).Inc()
	}
}

// HandshakeReject counts a websocket handshake closed before admission.
func (m *Metrics) HandshakeReject(reason string) {
	if m != nil {
		m.wsRejects.WithLabelValues(reason).Inc()
	}
}

// Broadcast counts one fan-out.
func (m *Metrics) Broadcast() {
	if m != nil {
		m.broadcasts.Inc()
	}
}

// Delivery counts a per-peer delivery by result: ok, dropped or closed.
func (m *Metrics) Delivery(result string) {
	if m != nil {
		m.deliveries.WithLabelValues(result).Inc()
	}
}

// Malformed counts an inbound frame rejected as malformed.
func (m *Metrics) Malformed() {
	if m != nil {
		m.malformed.Inc()
	}
}

// ShutdownState records the coordinator's current state.
func (m *Metrics) ShutdownState(state int) {
	if m != nil {
		m.shutdownState.Set(float64(state))
	}
}

// SnapshotWrite counts a snapshot persist attempt by result.
func (m *Metrics) SnapshotWrite(result string) {
	if m != nil {
		m.snapshotWrites.WithLabelValues(result).Inc()
	}
}
