package sync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/industrial-twin/opcua-aas-bridge/internal/codec"
	"github.com/industrial-twin/opcua-aas-bridge/internal/loopcache"
	"github.com/industrial-twin/opcua-aas-bridge/internal/mapping"
	"github.com/industrial-twin/opcua-aas-bridge/internal/metrics"
	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/opcuapool"
)

var assertErr = errors.New("transport error")

// fakePool is a minimal connectionPool fake driven entirely by the test.
type fakePool struct {
	mu          sync.Mutex
	changes     chan opcuapool.DataChange
	monitorErr  error
	monitorCall []string
	monitorSpecs map[string][]model.MonitorSpec
	writeErr    error
	writes      []model.NodeRef
}

func newFakePool() *fakePool {
	return &fakePool{changes: make(chan opcuapool.DataChange, 16), monitorSpecs: make(map[string][]model.MonitorSpec)}
}

func (f *fakePool) Changes() <-chan opcuapool.DataChange { return f.changes }

func (f *fakePool) Monitor(endpoint string, specs []model.MonitorSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.monitorCall = append(f.monitorCall, endpoint)
	f.monitorSpecs[endpoint] = append(f.monitorSpecs[endpoint], specs...)
	return f.monitorErr
}

func (f *fakePool) Write(ctx context.Context, ref model.NodeRef, value *ua.Variant) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, ref)
	return f.writeErr
}

// fakeWriter is a minimal valueWriter fake.
type fakeWriter struct {
	mu     sync.Mutex
	err    error
	writes []model.ElementRef
	values []interface{}
}

func (f *fakeWriter) WriteValue(ctx context.Context, ref model.ElementRef, value interface{}, vt model.ValueType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, ref)
	f.values = append(f.values, value)
	return f.err
}

func testLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

func intMapping() model.Mapping {
	return model.Mapping{
		NodeRef:    model.NodeRef{EndpointName: "line1", NodeID: "ns=2;s=Temperature"},
		ElementRef: model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"},
		ValueType:  model.Int,
		Direction:  model.Both,
	}
}

func mustRegistry(t *testing.T, mappings ...model.Mapping) *mapping.Registry {
	t.Helper()
	reg, err := mapping.Build(mappings)
	require.NoError(t, err)
	return reg
}

func TestMonitor_SubmitSubscriptionsGroupsByEndpoint(t *testing.T) {
	pool := newFakePool()
	reg := mustRegistry(t, intMapping())
	m := NewMonitor(pool, reg, &fakeWriter{}, loopcache.New(0, 0), testLogger(t), metrics.New())

	m.submitSubscriptions()

	assert.Equal(t, []string{"line1"}, pool.monitorCall)
}

func TestMonitor_SubmitSubscriptionsCarriesPerMappingIntervalAndQueueSize(t *testing.T) {
	pool := newFakePool()
	fast := intMapping()
	fast.SamplingIntervalMs = 50
	fast.QueueSize = 1
	slow := model.Mapping{
		NodeRef:            model.NodeRef{EndpointName: "line1", NodeID: "ns=2;s=Pressure"},
		ElementRef:         model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Pressure"},
		ValueType:          model.Int,
		Direction:          model.Both,
		SamplingIntervalMs: 2000,
		QueueSize:          20,
	}
	reg := mustRegistry(t, fast, slow)
	m := NewMonitor(pool, reg, &fakeWriter{}, loopcache.New(0, 0), testLogger(t), metrics.New())

	m.submitSubscriptions()

	specs := pool.monitorSpecs["line1"]
	require.Len(t, specs, 2)
	byNode := make(map[string]model.MonitorSpec, len(specs))
	for _, s := range specs {
		byNode[s.NodeRef.NodeID] = s
	}
	assert.Equal(t, 50*time.Millisecond, byNode["ns=2;s=Temperature"].SamplingInterval)
	assert.Equal(t, 1, byNode["ns=2;s=Temperature"].QueueSize)
	assert.Equal(t, 2000*time.Millisecond, byNode["ns=2;s=Pressure"].SamplingInterval)
	assert.Equal(t, 20, byNode["ns=2;s=Pressure"].QueueSize)
}

func TestMonitor_HandleChangeWritesToAAS(t *testing.T) {
	pool := newFakePool()
	writer := &fakeWriter{}
	reg := mustRegistry(t, intMapping())
	cache := loopcache.New(0, 0)
	m := NewMonitor(pool, reg, writer, cache, testLogger(t), metrics.New())

	variant, err := ua.NewVariant(int32(42))
	require.NoError(t, err)

	dc := opcuapool.DataChange{
		Node:  model.NodeRef{EndpointName: "line1", NodeID: "ns=2;s=Temperature"},
		Value: &ua.DataValue{Value: variant},
	}

	m.handleChange(context.Background(), dc)

	require.Len(t, writer.writes, 1)
	assert.Equal(t, model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"}, writer.writes[0])
	assert.Equal(t, int32(42), writer.values[0])
}

func TestMonitor_HandleChangeDropsUnmappedNode(t *testing.T) {
	pool := newFakePool()
	writer := &fakeWriter{}
	reg := mustRegistry(t)
	m := NewMonitor(pool, reg, writer, loopcache.New(0, 0), testLogger(t), metrics.New())

	variant, err := ua.NewVariant(int32(1))
	require.NoError(t, err)
	dc := opcuapool.DataChange{
		Node:  model.NodeRef{EndpointName: "line1", NodeID: "ns=2;s=Unknown"},
		Value: &ua.DataValue{Value: variant},
	}

	m.handleChange(context.Background(), dc)

	assert.Empty(t, writer.writes)
}

func TestMonitor_HandleChangeDropsTransportError(t *testing.T) {
	pool := newFakePool()
	writer := &fakeWriter{}
	reg := mustRegistry(t, intMapping())
	m := NewMonitor(pool, reg, writer, loopcache.New(0, 0), testLogger(t), metrics.New())

	dc := opcuapool.DataChange{
		Node: model.NodeRef{EndpointName: "line1", NodeID: "ns=2;s=Temperature"},
		Err:  assertErr,
	}

	m.handleChange(context.Background(), dc)

	assert.Empty(t, writer.writes)
}

func TestMonitor_HandleChangeSuppressesLoopEcho(t *testing.T) {
	pool := newFakePool()
	writer := &fakeWriter{}
	reg := mustRegistry(t, intMapping())
	cache := loopcache.New(0, 0)
	m := NewMonitor(pool, reg, writer, cache, testLogger(t), metrics.New())

	elementRef := model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"}
	cache.Insert(elementRef, codec.Hash(int32(42)))

	variant, err := ua.NewVariant(int32(42))
	require.NoError(t, err)
	dc := opcuapool.DataChange{
		Node:  model.NodeRef{EndpointName: "line1", NodeID: "ns=2;s=Temperature"},
		Value: &ua.DataValue{Value: variant},
	}

	m.handleChange(context.Background(), dc)

	assert.Empty(t, writer.writes)
}

func TestMonitor_RunStopsOnContextCancel(t *testing.T) {
	pool := newFakePool()
	reg := mustRegistry(t)
	m := NewMonitor(pool, reg, &fakeWriter{}, loopcache.New(0, 0), testLogger(t), metrics.New())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
