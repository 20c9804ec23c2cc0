package sync

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-twin/opcua-aas-bridge/internal/aasclient"
	"github.com/industrial-twin/opcua-aas-bridge/internal/audit"
	"github.com/industrial-twin/opcua-aas-bridge/internal/codec"
	"github.com/industrial-twin/opcua-aas-bridge/internal/loopcache"
	"github.com/industrial-twin/opcua-aas-bridge/internal/metrics"
	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

func TestController_HandleAcceptsValidWrite(t *testing.T) {
	pool := newFakePool()
	reg := mustRegistry(t, intMapping())
	ring := audit.NewRingLogger(8, nil)
	m := metrics.New()
	c := NewController(pool, reg, loopcache.New(0, 0), ring, testLogger(t), m)

	ev := aasclient.ElementChanged{
		Element:  model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"},
		RawValue: float64(55),
	}

	c.Handle(context.Background(), ev)

	require.Len(t, pool.writes, 1)
	assert.Equal(t, model.NodeRef{EndpointName: "line1", NodeID: "ns=2;s=Temperature"}, pool.writes[0])

	recent := ring.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, model.Accepted, recent[0].Outcome)
}

func TestController_HandleDropsUnmappedElement(t *testing.T) {
	pool := newFakePool()
	reg := mustRegistry(t)
	ring := audit.NewRingLogger(8, nil)
	c := NewController(pool, reg, loopcache.New(0, 0), ring, testLogger(t), metrics.New())

	ev := aasclient.ElementChanged{
		Element:  model.ElementRef{SubmodelID: "sm1", IDShortPath: "Unknown"},
		RawValue: float64(1),
	}

	c.Handle(context.Background(), ev)

	assert.Empty(t, pool.writes)
	assert.Empty(t, ring.Recent())
}

func TestController_HandleSkipsOPCToAASOnlyMapping(t *testing.T) {
	pool := newFakePool()
	oneWay := intMapping()
	oneWay.Direction = model.OPCToAAS
	reg := mustRegistry(t, oneWay)
	ring := audit.NewRingLogger(8, nil)
	c := NewController(pool, reg, loopcache.New(0, 0), ring, testLogger(t), metrics.New())

	ev := aasclient.ElementChanged{
		Element:  model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"},
		RawValue: float64(1),
	}

	c.Handle(context.Background(), ev)

	assert.Empty(t, pool.writes)
}

func TestController_HandleRejectsUndecodableValue(t *testing.T) {
	pool := newFakePool()
	reg := mustRegistry(t, intMapping())
	ring := audit.NewRingLogger(8, nil)
	c := NewController(pool, reg, loopcache.New(0, 0), ring, testLogger(t), metrics.New())

	ev := aasclient.ElementChanged{
		Element:  model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"},
		RawValue: "not-a-number",
	}

	c.Handle(context.Background(), ev)

	assert.Empty(t, pool.writes)
	recent := ring.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, model.Rejected, recent[0].Outcome)
}

func TestController_HandleSuppressesLoopEcho(t *testing.T) {
	pool := newFakePool()
	reg := mustRegistry(t, intMapping())
	cache := loopcache.New(0, 0)
	ring := audit.NewRingLogger(8, nil)
	c := NewController(pool, reg, cache, ring, testLogger(t), metrics.New())

	elementRef := model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"}
	cache.Insert(elementRef, codec.Hash(int32(7)))

	ev := aasclient.ElementChanged{Element: elementRef, RawValue: float64(7)}

	c.Handle(context.Background(), ev)

	assert.Empty(t, pool.writes)
	assert.Empty(t, ring.Recent())
}

func TestController_HandleDefersOnUnavailable(t *testing.T) {
	pool := newFakePool()
	pool.writeErr = model.NewBridgeError(model.KindUnavailable, "controller_test", assertErr)
	reg := mustRegistry(t, intMapping())
	ring := audit.NewRingLogger(8, nil)
	c := NewController(pool, reg, loopcache.New(0, 0), ring, testLogger(t), metrics.New())

	ev := aasclient.ElementChanged{
		Element:  model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"},
		RawValue: float64(1),
	}

	c.Handle(context.Background(), ev)

	recent := ring.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, model.Deferred, recent[0].Outcome)
}

func TestController_HandleRejectsOnPermanentWriteError(t *testing.T) {
	pool := newFakePool()
	pool.writeErr = model.NewBridgeErrorSubtype(model.KindOpcError, model.SubtypeServerError, "controller_test", assertErr)
	reg := mustRegistry(t, intMapping())
	ring := audit.NewRingLogger(8, nil)
	c := NewController(pool, reg, loopcache.New(0, 0), ring, testLogger(t), metrics.New())

	ev := aasclient.ElementChanged{
		Element:  model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"},
		RawValue: float64(1),
	}

	c.Handle(context.Background(), ev)

	recent := ring.Recent()
	require.Len(t, recent, 1)
	assert.Equal(t, model.Rejected, recent[0].Outcome)
}

func TestController_RunDrainsEventsUntilClosed(t *testing.T) {
	pool := newFakePool()
	reg := mustRegistry(t, intMapping())
	ring := audit.NewRingLogger(8, nil)
	c := NewController(pool, reg, loopcache.New(0, 0), ring, testLogger(t), metrics.New())

	events := make(chan aasclient.ElementChanged, 1)
	events <- aasclient.ElementChanged{
		Element:  model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"},
		RawValue: float64(1),
	}
	close(events)

	done := make(chan struct{})
	go func() {
		c.Run(context.Background(), events)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after channel close")
	}

	require.Len(t, pool.writes, 1)
}
