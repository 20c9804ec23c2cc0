package sync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/aasclient"
	"github.com/industrial-twin/opcua-aas-bridge/internal/audit"
	"github.com/industrial-twin/opcua-aas-bridge/internal/loopcache"
	"github.com/industrial-twin/opcua-aas-bridge/internal/mapping"
	"github.com/industrial-twin/opcua-aas-bridge/internal/metrics"
	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/opcuapool"
)

// DefaultEventQueueSize is the bounded, drop-newest queue depth between
// the AAS Client's event sources and the Controller (§5, Q).
const DefaultEventQueueSize = 1024

// DefaultShutdownGrace bounds how long Stop waits for tasks to observe
// cancellation before returning anyway.
const DefaultShutdownGrace = 5 * time.Second

// Manager owns the startup/shutdown order of every component: Mapping
// Registry -> AAS Client -> Connection Pool -> Monitor/Controller, and
// reverses that order on Stop.
type Manager struct {
	logger *zap.Logger

	pool     *opcuapool.Pool
	registry *mapping.Registry
	aas      *aasclient.Client
	cache    *loopcache.Cache
	monitor  *Monitor
	ctrl     *Controller
	auditLog audit.Logger
	metrics  *metrics.Registry

	events chan aasclient.ElementChanged

	shutdownGrace time.Duration

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewEventQueue creates the bounded, drop-newest channel that sits between
// the AAS Client's event sources and the Controller. cmd/bridge must
// create this before constructing the AAS Client (whose event callback
// feeds the queue) and pass the same queue into New.
func NewEventQueue(logger *zap.Logger) (chan aasclient.ElementChanged, func(aasclient.ElementChanged)) {
	q := make(chan aasclient.ElementChanged, DefaultEventQueueSize)
	sink := func(ev aasclient.ElementChanged) {
		select {
		case q <- ev:
		default:
			logger.Warn("dropping AAS event, controller queue full", zap.String("element", ev.Element.String()))
		}
	}
	return q, sink
}

// New builds a Manager from already-constructed collaborators. Config
// loading and collaborator construction live in cmd/bridge, which is the
// only place that knows how to turn YAML into these types. events is the
// queue returned by NewEventQueue, whose sink must already have been
// passed to the AAS Client's constructor.
func New(logger *zap.Logger, pool *opcuapool.Pool, registry *mapping.Registry, aasClient *aasclient.Client, cache *loopcache.Cache, auditLog audit.Logger, metricsReg *metrics.Registry, events chan aasclient.ElementChanged) *Manager {
	m := &Manager{
		logger:        logger,
		pool:          pool,
		registry:      registry,
		aas:           aasClient,
		cache:         cache,
		auditLog:      auditLog,
		metrics:       metricsReg,
		events:        events,
		shutdownGrace: DefaultShutdownGrace,
	}
	m.monitor = NewMonitor(pool, registry, aasClient.REST, cache, logger, metricsReg)
	m.ctrl = NewController(pool, registry, cache, auditLog, logger, metricsReg)
	return m
}

// Start brings up every component in dependency order and launches the
// Monitor and Controller run loops.
func (m *Manager) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	if err := m.aas.Start(runCtx, m.registry); err != nil {
		cancel()
		return err
	}

	m.pool.Start(runCtx)

	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		m.monitor.Run(runCtx)
	}()
	go func() {
		defer m.wg.Done()
		m.ctrl.Run(runCtx, m.events)
	}()

	m.logger.Info("sync manager started")
	return nil
}

// Stop cancels every task, waits up to shutdownGrace for them to exit,
// then releases the Connection Pool, AAS Client, and audit sink in
// reverse startup order.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(m.shutdownGrace):
		m.logger.Warn("shutdown grace period exceeded, forcing close")
	}

	m.pool.Stop()
	m.aas.Stop()
	if m.auditLog != nil {
		if err := m.auditLog.Close(); err != nil {
			m.logger.Warn("error closing audit log", zap.Error(err))
		}
	}

	m.logger.Info("sync manager stopped")
}

// Health reports readiness: every endpoint Connected and the AAS Client's
// last probe recent, per component.
func (m *Manager) Health() []model.ComponentHealth {
	health := m.pool.Health()
	health = append(health, m.aas.Health())
	return health
}

// Ready reports whether the bridge is fully operational: every OPC UA
// session connected and the AAS Client healthy.
func (m *Manager) Ready() bool {
	for _, h := range m.Health() {
		if !h.Healthy {
			return false
		}
	}
	return true
}
