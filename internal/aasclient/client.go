package aasclient

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/mapping"
	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/resilience"
)

// Client is the AAS Client component: the REST read/write surface plus
// whichever event source (MQTT or polling) is configured to feed the
// Controller.
type Client struct {
	REST *RESTClient

	logger  *zap.Logger
	mqttCfg MQTTConfig
	ingress *mqttIngress
	poller  *poller

	probeMu     sync.Mutex
	lastProbeOK bool
	lastProbeAt time.Time
	staleAfter  time.Duration
}

// New builds a Client. events is invoked for every inbound ElementChanged,
// whether it arrived via MQTT or polling.
func New(restCfg Config, mqttCfg MQTTConfig, logger *zap.Logger, backoff *resilience.Backoff, breakers *resilience.BreakerRegistry, reg *mapping.Registry, events func(ElementChanged)) *Client {
	rest := NewRESTClient(restCfg, logger, backoff, breakers)

	interval := time.Duration(restCfg.PollIntervalSeconds) * time.Second
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	c := &Client{REST: rest, logger: logger, mqttCfg: mqttCfg, staleAfter: 2 * interval}

	if mqttCfg.Enabled {
		c.ingress = newMQTTIngress(mqttCfg, logger, events, c.markProbe)
	} else {
		c.poller = newPoller(rest, logger, interval, events, c.markProbe)
	}

	return c
}

func (c *Client) markProbe(ok bool) {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()
	c.lastProbeOK = ok
	c.lastProbeAt = time.Now()
}

// Start begins receiving AAS-side events: connects MQTT, or launches the
// polling loop, per configuration.
func (c *Client) Start(ctx context.Context, reg *mapping.Registry) error {
	if c.ingress != nil {
		return c.ingress.Start()
	}
	if c.poller != nil {
		go c.poller.Run(ctx, reg)
	}
	return nil
}

// Stop releases the event source.
func (c *Client) Stop() {
	if c.ingress != nil {
		c.ingress.Stop()
	}
}

// Health reports the AAS Client's probe status for the Sync Manager: ready
// when the last successful connect/poll happened within 2x the configured
// poll interval (spec's staleness rule applied uniformly to both ingress
// modes).
func (c *Client) Health() model.ComponentHealth {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()

	healthy := c.lastProbeOK && !c.lastProbeAt.IsZero() && time.Since(c.lastProbeAt) < c.staleAfter
	health := model.ComponentHealth{
		Name:      "aasclient",
		Healthy:   healthy,
		LastCheck: c.lastProbeAt,
	}
	if !c.lastProbeOK {
		health.LastError = "last AAS probe failed or has not yet completed"
	}
	return health
}
