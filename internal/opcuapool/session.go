// Package opcuapool implements the Connection Pool: one supervised OPC UA
// session per configured endpoint, each with its own reconnect loop,
// circuit breaker, and subscription pump, fed out through a single
// merged change stream.
package opcuapool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gopcua/opcua"
	"github.com/gopcua/opcua/ua"
	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/resilience"
)

// EndpointConfig describes one OPC UA server this bridge dials.
type EndpointConfig struct {
	Name            string        `yaml:"name"`
	URL             string        `yaml:"url"`
	SecurityPolicy  string        `yaml:"security_policy"`
	SecurityMode    string        `yaml:"security_mode"`
	AuthUsername    string        `yaml:"auth_username"`
	AuthPassword    string        `yaml:"auth_password"`
	CertificateFile string        `yaml:"certificate_file"`
	PrivateKeyFile  string        `yaml:"private_key_file"`
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

func (c EndpointConfig) clientOptions() []opcua.Option {
	opts := []opcua.Option{
		opcua.SecurityPolicy(orDefault(c.SecurityPolicy, "None")),
		opcua.SecurityModeString(orDefault(c.SecurityMode, "None")),
	}
	if c.AuthUsername != "" {
		opts = append(opts, opcua.AuthUsername(c.AuthUsername, c.AuthPassword))
	}
	if c.CertificateFile != "" && c.PrivateKeyFile != "" {
		opts = append(opts, opcua.CertificateFile(c.CertificateFile), opcua.PrivateKeyFile(c.PrivateKeyFile))
	}
	if c.SessionTimeout > 0 {
		opts = append(opts, opcua.SessionTimeout(c.SessionTimeout))
	}
	if c.RequestTimeout > 0 {
		opts = append(opts, opcua.RequestTimeout(c.RequestTimeout))
	}
	return opts
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// DataChange is one monitored-item notification surfaced to the Monitor,
// tagged with the NodeRef it was delivered for.
type DataChange struct {
	Node  model.NodeRef
	Value *ua.DataValue
	Err   error
}

// Session supervises a single OPC UA endpoint: dial, subscribe, pump
// notifications, and reconnect with backoff on any failure. Exactly one
// run goroutine owns the client and subscription at a time.
type Session struct {
	cfg      EndpointConfig
	logger   *zap.Logger
	breakers *resilience.BreakerRegistry
	backoff  *resilience.Backoff

	mu    sync.RWMutex
	state model.SessionState
	err   error

	client *opcua.Client
	sub    *opcua.Subscription

	nextHandle  uint32
	handles     map[uint32]model.NodeRef
	nodeLookup  map[string]uint32
	monitorReqs []model.MonitorSpec // durable; replayed on every (re)connect
	subMu       sync.Mutex

	out    chan DataChange
	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSession constructs a Session for one endpoint. The session does not
// dial until Start is called.
func NewSession(cfg EndpointConfig, logger *zap.Logger, breakers *resilience.BreakerRegistry, backoff *resilience.Backoff, outBuf int) *Session {
	return &Session{
		cfg:        cfg,
		logger:     logger.With(zap.String("endpoint", cfg.Name)),
		breakers:   breakers,
		backoff:    backoff,
		state:      model.Disconnected,
		handles:    make(map[uint32]model.NodeRef),
		nodeLookup: make(map[string]uint32),
		out:        make(chan DataChange, outBuf),
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		nextHandle: 100,
	}
}

// Changes returns the channel of notifications delivered for nodes added
// via Monitor. Closed once the session's run loop exits after Stop.
func (s *Session) Changes() <-chan DataChange {
	return s.out
}

// State reports the session's current lifecycle state.
func (s *Session) State() model.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// LastError reports the error that caused the most recent fault, if any.
func (s *Session) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *Session) setState(st model.SessionState, err error) {
	s.mu.Lock()
	s.state = st
	s.err = err
	s.mu.Unlock()
}

// Start launches the supervised connect/subscribe/pump loop and returns
// immediately; it runs until ctx is cancelled or Stop is called.
func (s *Session) Start(ctx context.Context) {
	go s.run(ctx)
}

// Stop signals the run loop to exit and blocks until it has.
func (s *Session) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Session) run(ctx context.Context) {
	defer close(s.doneCh)
	defer close(s.out)

	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		s.setState(model.Connecting, nil)
		client, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("dial failed", zap.Error(err), zap.Int("attempt", attempt))
			s.setState(model.Faulted, err)
			if sleepErr := s.backoff.Sleep(ctx, attempt); sleepErr != nil {
				return
			}
			attempt++
			continue
		}

		s.client = client
		s.setState(model.Connected, nil)
		attempt = 0

		s.logger.Info("session connected")
		runErr := s.pumpUntilFailure(ctx, client)

		s.closeClient()
		if runErr == context.Canceled {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		default:
		}

		s.logger.Warn("session dropped, reconnecting", zap.Error(runErr))
		s.setState(model.Faulted, runErr)
	}
}

func (s *Session) dial(ctx context.Context) (*opcua.Client, error) {
	result, err := s.breakers.Execute(s.cfg.Name, func() (interface{}, error) {
		client, err := opcua.NewClient(s.cfg.URL, s.cfg.clientOptions()...)
		if err != nil {
			return nil, model.NewBridgeErrorSubtype(model.KindOpcError, model.SubtypeTransport, "opcuapool.dial", err)
		}
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout(s.cfg))
		defer cancel()
		if err := client.Connect(dialCtx); err != nil {
			return nil, model.NewBridgeErrorSubtype(model.KindOpcError, model.SubtypeTransport, "opcuapool.dial", err)
		}
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*opcua.Client), nil
}

func dialTimeout(cfg EndpointConfig) time.Duration {
	if cfg.RequestTimeout > 0 {
		return cfg.RequestTimeout
	}
	return 10 * time.Second
}

func (s *Session) closeClient() {
	if s.client != nil {
		_ = s.client.Close(context.Background())
		s.client = nil
	}
	s.subMu.Lock()
	s.sub = nil
	s.handles = make(map[uint32]model.NodeRef)
	s.nodeLookup = make(map[string]uint32)
	s.subMu.Unlock()
}

// Write performs a synchronous attribute write against this session's
// client, returning a BridgeError on failure or bad status.
func (s *Session) Write(ctx context.Context, nodeID string, value *ua.Variant) error {
	client := s.client
	if client == nil || s.State() != model.Connected {
		return model.NewBridgeError(model.KindUnavailable, "opcuapool.Write", fmt.Errorf("endpoint %s not connected", s.cfg.Name))
	}

	id, err := ua.ParseNodeID(nodeID)
	if err != nil {
		return model.NewBridgeError(model.KindConfigError, "opcuapool.Write", err)
	}

	req := &ua.WriteRequest{
		NodesToWrite: []*ua.WriteValue{
			{
				NodeID:      id,
				AttributeID: ua.AttributeIDValue,
				Value:       &ua.DataValue{Value: value},
			},
		},
	}

	result, err := s.breakers.Execute(s.cfg.Name, func() (interface{}, error) {
		resp, err := client.Write(ctx, req)
		if err != nil {
			return nil, model.NewBridgeErrorSubtype(model.KindOpcError, model.SubtypeTransport, "opcuapool.Write", err)
		}
		if len(resp.Results) == 0 {
			return nil, model.NewBridgeError(model.KindOpcError, "opcuapool.Write", fmt.Errorf("no results returned"))
		}
		if resp.Results[0] != ua.StatusOK {
			return nil, model.NewBridgeErrorSubtype(model.KindOpcError, model.SubtypeServerError, "opcuapool.Write",
				fmt.Errorf("bad status: %s", resp.Results[0]))
		}
		return resp.Results[0], nil
	})
	if err != nil {
		return err
	}
	_ = result
	return nil
}

// Monitor records specs as part of this session's durable monitored-item
// set and, if a subscription is currently active, applies them
// immediately. If the session is still dialing or between reconnects, the
// specs are simply stored: pumpUntilFailure replays the full durable set
// against every new subscription it creates, so a Monitor call racing the
// initial dial (or arriving after a fault) is never lost, just deferred
// to the next Connected transition.
func (s *Session) Monitor(specs []model.MonitorSpec) error {
	s.subMu.Lock()
	s.monitorReqs = append(s.monitorReqs, specs...)
	sub := s.sub
	s.subMu.Unlock()

	if sub == nil {
		return nil
	}
	return s.applyMonitorSpecs(sub, specs)
}

// applyMonitorSpecs issues one MonitoredItemCreateRequest batch against
// sub, one request per spec carrying that node's own sampling interval
// and queue size, and records the resulting client-handle -> NodeRef
// mapping for demuxNotification.
func (s *Session) applyMonitorSpecs(sub *opcua.Subscription, specs []model.MonitorSpec) error {
	requests := make([]*ua.MonitoredItemCreateRequest, 0, len(specs))
	handleRefs := make(map[uint32]model.NodeRef, len(specs))

	for _, spec := range specs {
		id, err := ua.ParseNodeID(spec.NodeRef.NodeID)
		if err != nil {
			return model.NewBridgeError(model.KindConfigError, "opcuapool.Monitor", err)
		}
		handle := atomic.AddUint32(&s.nextHandle, 1)
		handleRefs[handle] = spec.NodeRef

		req := opcua.NewMonitoredItemCreateRequestWithDefaults(id, ua.AttributeIDValue, handle)
		if req.RequestedParameters != nil {
			req.RequestedParameters.SamplingInterval = float64(spec.SamplingInterval / time.Millisecond)
			req.RequestedParameters.QueueSize = uint32(spec.QueueSize)
		}
		requests = append(requests, req)
	}

	resp, err := sub.Monitor(ua.TimestampsToReturnBoth, requests...)
	if err != nil {
		return model.NewBridgeErrorSubtype(model.KindOpcError, model.SubtypeTransport, "opcuapool.Monitor", err)
	}
	if resp.ResponseHeader.ServiceResult != ua.StatusOK {
		return model.NewBridgeErrorSubtype(model.KindOpcError, model.SubtypeServerError, "opcuapool.Monitor",
			fmt.Errorf("bad status: %s", resp.ResponseHeader.ServiceResult))
	}

	s.subMu.Lock()
	for h, ref := range handleRefs {
		s.handles[h] = ref
		s.nodeLookup[ref.NodeID] = h
	}
	s.subMu.Unlock()
	return nil
}

func (s *Session) pumpUntilFailure(ctx context.Context, client *opcua.Client) error {
	notifCh := make(chan *opcua.PublishNotificationData, 16)

	sub, err := client.Subscribe(&opcua.SubscriptionParameters{Notifs: notifCh})
	if err != nil {
		return model.NewBridgeErrorSubtype(model.KindOpcError, model.SubtypeTransport, "opcuapool.Subscribe", err)
	}

	s.subMu.Lock()
	s.sub = sub
	reqs := make([]model.MonitorSpec, len(s.monitorReqs))
	copy(reqs, s.monitorReqs)
	s.subMu.Unlock()

	// Reapply every previously requested monitored item to the fresh
	// subscription: a reconnect tears down the old subscription (and with
	// it every monitored item the server held), so nothing is delivered
	// again until the durable set is reissued here.
	if len(reqs) > 0 {
		if err := s.applyMonitorSpecs(sub, reqs); err != nil {
			s.logger.Warn("failed to reapply monitored items after reconnect", zap.Error(err))
		}
	}

	go sub.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			return context.Canceled
		case <-s.stopCh:
			return context.Canceled
		case msg, ok := <-notifCh:
			if !ok {
				return fmt.Errorf("notification channel closed")
			}
			if msg.Error != nil {
				return msg.Error
			}
			if dc, ok := msg.Value.(*ua.DataChangeNotification); ok {
				s.demuxNotification(dc.MonitoredItems)
			}
		}
	}
}

func (s *Session) demuxNotification(items []*ua.MonitoredItemNotification) {
	s.subMu.Lock()
	handles := s.handles
	s.subMu.Unlock()

	for _, item := range items {
		ref, ok := handles[item.ClientHandle]
		if !ok {
			continue
		}
		select {
		case s.out <- DataChange{Node: ref, Value: item.Value}:
		default:
			s.logger.Warn("dropping data change, consumer not keeping up",
				zap.String("node", ref.NodeID))
		}
	}
}
