package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/aasclient"
	"github.com/industrial-twin/opcua-aas-bridge/internal/audit"
	"github.com/industrial-twin/opcua-aas-bridge/internal/codec"
	"github.com/industrial-twin/opcua-aas-bridge/internal/loopcache"
	"github.com/industrial-twin/opcua-aas-bridge/internal/mapping"
	"github.com/industrial-twin/opcua-aas-bridge/internal/metrics"
	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/opcuapool"
)

// Controller consumes ElementChanged events from the AAS Client and pushes
// accepted writes back to the OPC UA address space, suppressing events
// that are themselves echoes of a prior Monitor-side write.
type Controller struct {
	pool     connectionPool
	registry *mapping.Registry
	cache    *loopcache.Cache
	auditLog audit.Logger
	logger   *zap.Logger
	metrics  *metrics.Registry

	mu       sync.Mutex
	lastSeen map[string]interface{} // ElementRef.String() -> last decoded value, for AuditRecord.PriorValue
}

// NewController builds a Controller wired to its collaborators.
func NewController(pool connectionPool, registry *mapping.Registry, cache *loopcache.Cache, auditLog audit.Logger, logger *zap.Logger, m *metrics.Registry) *Controller {
	return &Controller{
		pool:     pool,
		registry: registry,
		cache:    cache,
		auditLog: auditLog,
		logger:   logger,
		metrics:  m,
		lastSeen: make(map[string]interface{}),
	}
}

// Handle processes one inbound ElementChanged event.
func (c *Controller) Handle(ctx context.Context, ev aasclient.ElementChanged) {
	mp, ok := c.registry.ByElement(ev.Element)
	if !ok {
		c.logger.Warn("dropping AAS event for unmapped element", zap.String("element", ev.Element.String()))
		return
	}
	if !mp.Direction.AllowsAASToOPC() {
		return
	}

	record := model.AuditRecord{
		Timestamp:  time.Now(),
		Direction:  model.AASToOPC,
		NodeRef:    mp.NodeRef,
		ElementRef: mp.ElementRef,
		NewValue:   ev.RawValue,
		UserID:     ev.UserID,
	}

	value, err := codec.Encode(ev.RawValue, mp.ValueType, mp.Range, mp.Nullable)
	if err != nil {
		record.Outcome = model.Rejected
		record.Reason = err.Error()
		c.emit(record)
		if c.metrics != nil {
			c.metrics.ControllerRejected.Inc()
		}
		return
	}

	record.PriorValue = c.getLastSeen(mp.ElementRef)

	h := codec.Hash(value)
	if c.cache.Contains(mp.ElementRef, h) {
		c.logger.Debug("suppressing echo write to OPC UA", zap.String("element", mp.ElementRef.String()))
		if c.metrics != nil {
			c.metrics.LoopSuppressionHits.Inc()
		}
		return
	}

	variant, err := opcuapool.ToVariant(value, mp.ValueType)
	if err != nil {
		record.Outcome = model.Rejected
		record.Reason = err.Error()
		c.emit(record)
		if c.metrics != nil {
			c.metrics.ControllerRejected.Inc()
		}
		return
	}

	writeErr := c.pool.Write(ctx, mp.NodeRef, variant)
	switch {
	case writeErr == nil:
		record.Outcome = model.Accepted
		record.NewValue = value
		c.setLastSeen(mp.ElementRef, value)
		c.cache.Insert(mp.ElementRef, h)
		if c.metrics != nil {
			c.metrics.ControllerAccepted.Inc()
		}
	case model.Is(writeErr, model.KindUnavailable):
		record.Outcome = model.Deferred
		record.Reason = writeErr.Error()
		if c.metrics != nil {
			c.metrics.ControllerDeferred.Inc()
		}
	default:
		record.Outcome = model.Rejected
		record.Reason = writeErr.Error()
		if c.metrics != nil {
			c.metrics.ControllerRejected.Inc()
		}
	}

	c.emit(record)
}

func (c *Controller) emit(record model.AuditRecord) {
	if c.auditLog != nil {
		c.auditLog.Log(record)
	}
}

func (c *Controller) getLastSeen(ref model.ElementRef) interface{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen[ref.String()]
}

func (c *Controller) setLastSeen(ref model.ElementRef, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen[ref.String()] = value
}

// Run drains a channel of inbound ElementChanged events (fed by the AAS
// Client's MQTT ingress or polling fallback) until ctx is cancelled.
func (c *Controller) Run(ctx context.Context, events <-chan aasclient.ElementChanged) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			c.Handle(ctx, ev)
		}
	}
}
