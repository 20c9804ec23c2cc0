// Package sync implements the Monitor (OPC UA -> AAS), Controller
// (AAS -> OPC UA), and Sync Manager that drive the bridge's steady-state
// data flow on top of the Connection Pool, AAS Client, Mapping Registry,
// and Loop-Suppression Cache.
package sync

import (
	"context"

	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/codec"
	"github.com/industrial-twin/opcua-aas-bridge/internal/loopcache"
	"github.com/industrial-twin/opcua-aas-bridge/internal/mapping"
	"github.com/industrial-twin/opcua-aas-bridge/internal/metrics"
	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/opcuapool"
)

// Monitor drains the Connection Pool's merged DataChange stream, decodes
// each value per its mapping, and mirrors accepted changes into the AAS
// Client. One goroutine per Monitor instance.
type Monitor struct {
	pool     connectionPool
	registry *mapping.Registry
	aas      valueWriter
	cache    *loopcache.Cache
	logger   *zap.Logger
	metrics  *metrics.Registry
}

// NewMonitor builds a Monitor wired to its collaborators.
func NewMonitor(pool connectionPool, registry *mapping.Registry, aas valueWriter, cache *loopcache.Cache, logger *zap.Logger, m *metrics.Registry) *Monitor {
	return &Monitor{pool: pool, registry: registry, aas: aas, cache: cache, logger: logger, metrics: m}
}

// Run submits one subscription request per endpoint for every opc->aas/both
// mapping, then drains the pool's change stream until ctx is cancelled.
// Submitting here adds to the durable monitored-item set on each session
// and applies it at once if a subscription is already active; the session
// itself (re)applies the whole set on every Connected transition, so this
// call never races the pool's own dial/subscribe goroutines, however early
// it runs relative to them.
func (m *Monitor) Run(ctx context.Context) {
	m.submitSubscriptions()

	for {
		select {
		case <-ctx.Done():
			return
		case dc, ok := <-m.pool.Changes():
			if !ok {
				return
			}
			m.handleChange(ctx, dc)
		}
	}
}

func (m *Monitor) submitSubscriptions() {
	byEndpoint := make(map[string][]model.Mapping)
	for _, mp := range m.registry.All() {
		if !mp.Direction.AllowsOPCToAAS() {
			continue
		}
		byEndpoint[mp.NodeRef.EndpointName] = append(byEndpoint[mp.NodeRef.EndpointName], mp)
	}

	for endpoint, mappings := range byEndpoint {
		specs := make([]model.MonitorSpec, len(mappings))
		for i, mp := range mappings {
			specs[i] = model.MonitorSpec{
				NodeRef:          mp.NodeRef,
				SamplingInterval: mp.EffectiveSamplingInterval(),
				QueueSize:        mp.EffectiveQueueSize(),
			}
		}

		if err := m.pool.Monitor(endpoint, specs); err != nil {
			m.logger.Error("failed to submit subscription", zap.String("endpoint", endpoint), zap.Error(err))
		}
	}
}

func (m *Monitor) handleChange(ctx context.Context, dc opcuapool.DataChange) {
	mp, ok := m.registry.ByNode(dc.Node)
	if !ok {
		m.logger.Warn("dropping data change for unmapped node", zap.String("node", dc.Node.String()))
		return
	}

	if dc.Err != nil {
		m.logger.Warn("dropping data change with transport error", zap.String("node", dc.Node.String()), zap.Error(dc.Err))
		return
	}

	native := opcuapool.NativeValue(dc.Value.Value)
	value, err := codec.Decode(native, mp.ValueType, mp.Range, mp.Nullable)
	if err != nil {
		m.logger.Warn("dropping undecodable data change", zap.String("node", dc.Node.String()), zap.Error(err))
		if m.metrics != nil {
			m.metrics.MonitorDropped.Inc()
		}
		return
	}

	h := codec.Hash(value)
	if m.cache.Contains(mp.ElementRef, h) {
		m.logger.Debug("suppressing echo write to AAS", zap.String("element", mp.ElementRef.String()))
		if m.metrics != nil {
			m.metrics.LoopSuppressionHits.Inc()
		}
		return
	}

	if err := m.aas.WriteValue(ctx, mp.ElementRef, value, mp.ValueType); err != nil {
		m.logger.Warn("AAS write failed, dropping (next DataChange carries freshest state)",
			zap.String("element", mp.ElementRef.String()), zap.Error(err))
		if m.metrics != nil {
			m.metrics.MonitorDropped.Inc()
		}
		return
	}

	m.cache.Insert(mp.ElementRef, h)
	if m.metrics != nil {
		m.metrics.MonitorWrites.Inc()
	}
}
