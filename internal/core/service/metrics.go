package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "yacall"

// Metrics holds the call service collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	transitions     *prometheus.CounterVec
	activeSessions  prometheus.Gauge
	signalsReceived *prometheus.CounterVec
	signalsIgnored  *prometheus.CounterVec
	sendFailures    *prometheus.CounterVec
	teardowns       prometheus.Counter
	profileLookups  *prometheus.CounterVec
}

// NewMetrics registers the call collectors on reg. Pass a fresh
// prometheus.NewRegistry() in tests.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		transitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "call",
			Name:      "transitions_total",
			Help:      "Call state transitions by source and destination state",
		}, []string{"from", "to"}),
		activeSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "call",
			Name:      "sessions_active",
			Help:      "Number of call sessions not in idle",
		}),
		signalsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "call",
			Name:      "signals_received_total",
			Help:      "Signals received from the signaling channel by type",
		}, []string{"type"}),
		signalsIgnored: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "call",
			Name:      "signals_ignored_total",
			Help:      "Signals dropped before changing state by reason",
		}, []string{"reason"}),
		sendFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "call",
			Name:      "signal_send_failures_total",
			Help:      "Failed signal sends by type",
		}, []string{"type"}),
		teardowns: f.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "call",
			Name:      "teardowns_total",
			Help:      "Completed deferred teardowns",
		}),
		profileLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "call",
			Name:      "profile_lookups_total",
			Help:      "Caller profile lookups by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) transition(from, to string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(from, to).Inc()
	switch {
	case from == "idle" && to != "idle":
		m.activeSessions.Inc()
	case to == "idle" && from != "idle":
		m.activeSessions.Dec()
	}
}

func (m *Metrics) received(typ string) {
	if m == nil {
		return
	}
	m.signalsReceived.WithLabelValues(typ).Inc()
}

func (m *Metrics) ignored(reason string) {
	if m == nil {
		return
	}
	m.signalsIgnored.WithLabelValues(reason).Inc()
}

func (m *Metrics) sendFailed(typ string) {
	if m == nil {
		return
	}
	m.sendFailures.WithLabelValues(typ).Inc()
}

func (m *Metrics) tornDown() {
	if m == nil {
		return
	}
	m.teardowns.Inc()
}

func (m *Metrics) profileLookup(result string) {
	if m == nil {
		return
	}
	m.profileLookups.WithLabelValues(result).Inc()
}

// RelayMetrics covers the server-side signal relay.
type RelayMetrics struct {
	relayed *prometheus.CounterVec
	dropped *prometheus.CounterVec
}

func NewRelayMetrics(reg prometheus.Registerer) *RelayMetrics {
	f := promauto.With(reg)
	return &RelayMetrics{
		relayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "signals_relayed_total",
			Help:      "Signals forwarded to a recipient by type",
		}, []string{"type"}),
		dropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "relay",
			Name:      "signals_dropped_total",
			Help:      "Signals not forwarded by reason",
		}, []string{"reason"}),
	}
}

func (m *RelayMetrics) relay(typ string) {
	if m == nil {
		return
	}
	m.relayed.WithLabelValues(typ).Inc()
}

func (m *RelayMetrics) drop(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}
