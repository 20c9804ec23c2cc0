package aasclient

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/codec"
	"github.com/industrial-twin/opcua-aas-bridge/internal/mapping"
)

// DefaultPollInterval is used when poll_interval_seconds is unset.
const DefaultPollInterval = 5 * time.Second

// poller is the fallback event source used when MQTT ingress is disabled:
// it re-reads every aas->opc/both mapping's $value on an interval and
// emits ElementChanged only on observed difference.
type poller struct {
	rest     *RESTClient
	logger   *zap.Logger
	interval time.Duration
	onEvent  func(ElementChanged)
	onProbe  func(ok bool)

	last map[string][]byte
}

func newPoller(rest *RESTClient, logger *zap.Logger, interval time.Duration, onEvent func(ElementChanged), onProbe func(ok bool)) *poller {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &poller{
		rest:     rest,
		logger:   logger,
		interval: interval,
		onEvent:  onEvent,
		onProbe:  onProbe,
		last:     make(map[string][]byte),
	}
}

// Run polls every reverse-direction mapping until ctx is cancelled.
func (p *poller) Run(ctx context.Context, reg *mapping.Registry) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.pollOnce(ctx, reg)
		}
	}
}

func (p *poller) pollOnce(ctx context.Context, reg *mapping.Registry) {
	ok := true
	for _, m := range reg.All() {
		if !m.Direction.AllowsAASToOPC() {
			continue
		}

		raw, err := p.rest.ReadValue(ctx, m.ElementRef, m.ValueType)
		if err != nil {
			p.logger.Debug("poll read failed", zap.String("element", m.ElementRef.String()), zap.Error(err))
			ok = false
			continue
		}

		key := m.ElementRef.String()
		h := codec.Hash(raw)
		if prev, ok := p.last[key]; ok && bytesEqual(prev, h) {
			continue
		}
		p.last[key] = h

		p.onEvent(ElementChanged{Element: m.ElementRef, RawValue: raw})
	}
	if p.onProbe != nil {
		p.onProbe(ok)
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
