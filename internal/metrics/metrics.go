// Package metrics exposes the bridge's Prometheus counters and histograms,
// following the gateway's struct-of-fields registration style but bound to
// a private registry so multiple bridges (or tests) never collide on the
// default global one.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry holds every counter/histogram the sync core increments.
type Registry struct {
	reg *prometheus.Registry

	ReconnectsTotal      prometheus.Counter
	MonitorWrites        prometheus.Counter
	MonitorDropped       prometheus.Counter
	ControllerAccepted   prometheus.Counter
	ControllerRejected   prometheus.Counter
	ControllerDeferred   prometheus.Counter
	LoopSuppressionHits  prometheus.Counter
	LoopSuppressionEvict prometheus.Counter
	AASRequestDuration   prometheus.Histogram
}

// New builds a Registry with its own prometheus.Registry, registering
// every metric immediately.
func New() *Registry {
	reg := prometheus.NewRegistry()

	m := &Registry{
		reg: reg,
		ReconnectsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_opcua_reconnects_total",
			Help: "Total number of OPC UA session reconnect attempts.",
		}),
		MonitorWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_monitor_writes_total",
			Help: "Total number of values mirrored from OPC UA into AAS.",
		}),
		MonitorDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_monitor_dropped_total",
			Help: "Total number of OPC UA data changes dropped before reaching AAS.",
		}),
		ControllerAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_controller_accepted_total",
			Help: "Total number of AAS-origin writes accepted by the OPC UA side.",
		}),
		ControllerRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_controller_rejected_total",
			Help: "Total number of AAS-origin writes rejected (type/range error or OPC error).",
		}),
		ControllerDeferred: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_controller_deferred_total",
			Help: "Total number of AAS-origin writes deferred because the OPC UA endpoint was unavailable.",
		}),
		LoopSuppressionHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_loop_suppression_hits_total",
			Help: "Total number of changes dropped as feedback-loop echoes.",
		}),
		LoopSuppressionEvict: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_loop_suppression_evictions_total",
			Help: "Total number of loop-suppression cache entries evicted by TTL or size bound.",
		}),
		AASRequestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_aas_request_duration_seconds",
			Help:    "AAS REST request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		m.ReconnectsTotal,
		m.MonitorWrites,
		m.MonitorDropped,
		m.ControllerAccepted,
		m.ControllerRejected,
		m.ControllerDeferred,
		m.LoopSuppressionHits,
		m.LoopSuppressionEvict,
		m.AASRequestDuration,
	)

	return m
}

// Gatherer exposes the underlying registry for promhttp.HandlerFor.
func (m *Registry) Gatherer() prometheus.Gatherer {
	return m.reg
}
