// Package metrics exposes Prometheus collectors for the RESP server.
//
// A nil *Metrics is valid and records nothing, so components can be built
// without instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/emberdb/emberdb/internal/store"
)

const namespace = "emberdb"

// Metrics holds the server's collectors and the registry they belong to.
type Metrics struct {
	registry *prometheus.Registry

	commandsTotal       *prometheus.CounterVec
	commandDuration     *prometheus.HistogramVec
	connectionsActive   prometheus.Gauge
	connectionsTotal    prometheus.Counter
	connectionsRejected prometheus.Counter
	protocolErrors      *prometheus.CounterVec
}

// New creates the collectors and registers them, along with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by command name",
		}, []string{"command"}),
		commandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution latency, by command name",
			Buckets:   prometheus.ExponentialBuckets(1e-6, 4, 10),
		}, []string{"command"}),
		connectionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "active",
			Help:      "Currently open client connections",
		}),
		connectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "accepted_total",
			Help:      "Client connections accepted",
		}),
		connectionsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "connections",
			Name:      "rejected_total",
			Help:      "Client connections refused because max_clients was reached",
		}),
		protocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_errors_total",
			Help:      "Connections closed on malformed input, by stage",
		}, []string{"stage"}),
	}

	m.registry.MustRegister(
		m.commandsTotal,
		m.commandDuration,
		m.connectionsActive,
		m.connectionsTotal,
		m.connectionsRejected,
		m.protocolErrors,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the registry to expose over HTTP.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RegisterStore exports key counts per namespace, read from s on every scrape.
func (m *Metrics) RegisterStore(s *store.Store) {
	if m == nil {
		return
	}
	gauge := func(name, help string, value func(store.Stats) int) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "store",
			Name:      name,
			Help:      help,
		}, func() float64 { return float64(value(s.Stats())) })
	}
	m.registry.MustRegister(
		gauge("scalar_keys", "Keys in the scalar namespace", func(st store.Stats) int { return st.Scalars }),
		gauge("hash_keys", "Keys in the hash namespace", func(st store.Stats) int { return st.Hashes }),
		gauge("set_keys", "Keys in the set namespace", func(st store.Stats) int { return st.Sets }),
		gauge("hash_fields", "Fields held by all hashes", func(st store.Stats) int { return st.HashFields }),
		gauge("set_members", "Members held by all sets", func(st store.Stats) int { return st.SetMembers }),
	)
}

// ObserveCommand records one executed command.
func (m *Metrics) ObserveCommand(name string, d time.Duration) {
	if m == nil {
		return
	}
	m.commandsTotal.WithLabelValues(name).Inc()
	m.commandDuration.WithLabelValues(name).Observe(d.Seconds())
}

// ConnOpened records an accepted connection.
func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.connectionsTotal.Inc()
	m.connectionsActive.Inc()
}

// ConnClosed records a connection ending.
func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.connectionsActive.Dec()
}

// ConnRejected records a connection refused at admission.
func (m *Metrics) ConnRejected() {
	if m == nil {
		return
	}
	m.connectionsRejected.Inc()
}

// ProtocolError records a connection closed because of bad input at stage
// (decode, parse or limit).
func (m *Metrics) ProtocolError(stage string) {
	if m == nil {
		return
	}
	m.protocolErrors.WithLabelValues(stage).Inc()
}
