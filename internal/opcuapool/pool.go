package opcuapool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/resilience"
)

// Pool owns one Session per configured endpoint and fans their
// notification streams into a single merged channel for the Monitor.
type Pool struct {
	logger   *zap.Logger
	sessions map[string]*Session
	out      chan DataChange

	wg sync.WaitGroup
}

// NewPool builds a Pool of Sessions, one per endpoint, sharing a breaker
// registry and backoff strategy.
func NewPool(logger *zap.Logger, endpoints []EndpointConfig, breakerCfg resilience.BreakerConfig, backoffCfg resilience.BackoffConfig, changeBuf int) *Pool {
	p := &Pool{
		logger:   logger,
		sessions: make(map[string]*Session, len(endpoints)),
		out:      make(chan DataChange, changeBuf),
	}

	breakers := resilience.NewBreakerRegistry(logger, breakerCfg, nil, nil)
	backoff := resilience.NewBackoff(backoffCfg)

	for _, ep := range endpoints {
		p.sessions[ep.Name] = NewSession(ep, logger, breakers, backoff, changeBuf)
	}

	return p
}

// Start launches every session's supervised run loop and begins fanning
// their output into Changes().
func (p *Pool) Start(ctx context.Context) {
	for _, s := range p.sessions {
		s.Start(ctx)
		p.wg.Add(1)
		go func(s *Session) {
			defer p.wg.Done()
			for dc := range s.Changes() {
				select {
				case p.out <- dc:
				case <-ctx.Done():
					return
				}
			}
		}(s)
	}

	go func() {
		p.wg.Wait()
		close(p.out)
	}()
}

// Stop signals every session to shut down and blocks until each session's
// run loop has exited. It does not wait for the fan-in goroutines; each
// one returns once its session's channel is closed or ctx is cancelled.
func (p *Pool) Stop() {
	for _, s := range p.sessions {
		s.Stop()
	}
}

// Changes returns the merged stream of data changes from every session.
func (p *Pool) Changes() <-chan DataChange {
	return p.out
}

// Session returns the named endpoint's session, if configured.
func (p *Pool) Session(name string) (*Session, bool) {
	s, ok := p.sessions[name]
	return s, ok
}

// Monitor subscribes the given nodes (all on the same endpoint), each at
// its own sampling interval and queue size.
func (p *Pool) Monitor(endpoint string, specs []model.MonitorSpec) error {
	s, ok := p.sessions[endpoint]
	if !ok {
		return model.NewBridgeError(model.KindConfigError, "opcuapool.Monitor", fmt.Errorf("unknown endpoint %q", endpoint))
	}
	return s.Monitor(specs)
}

// Write performs a value write against the named endpoint's session.
func (p *Pool) Write(ctx context.Context, ref model.NodeRef, value *ua.Variant) error {
	s, ok := p.sessions[ref.EndpointName]
	if !ok {
		return model.NewBridgeError(model.KindConfigError, "opcuapool.Write", fmt.Errorf("unknown endpoint %q", ref.EndpointName))
	}
	return s.Write(ctx, ref.NodeID, value)
}

// Health reports each session's current connection state for the Sync
// Manager's health aggregation.
func (p *Pool) Health() []model.ComponentHealth {
	out := make([]model.ComponentHealth, 0, len(p.sessions))
	for name, s := range p.sessions {
		state := s.State()
		h := model.ComponentHealth{
			Name:      "opcua:" + name,
			Healthy:   state == model.Connected,
			LastCheck: time.Now(),
		}
		if err := s.LastError(); err != nil {
			h.LastError = err.Error()
		}
		out = append(out, h)
	}
	return out
}
