package opcuapool

import (
	"testing"
	"time"

	"github.com/gopcua/opcua/ua"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/resilience"
)

func newTestSession() *Session {
	breakers := resilience.NewBreakerRegistry(zap.NewNop(), resilience.DefaultBreakerConfig(), nil, nil)
	backoff := resilience.NewBackoff(resilience.DefaultBackoffConfig())
	return NewSession(EndpointConfig{Name: "plc1", URL: "opc.tcp://localhost:4840"}, zap.NewNop(), breakers, backoff, 4)
}

func TestSession_InitialStateIsDisconnected(t *testing.T) {
	s := newTestSession()
	assert.Equal(t, model.Disconnected, s.State())
	assert.NoError(t, s.LastError())
}

func TestSession_DemuxDeliversKnownHandle(t *testing.T) {
	s := newTestSession()
	ref := model.NodeRef{EndpointName: "plc1", NodeID: "ns=2;s=Temp"}
	s.handles[100] = ref

	dv := &ua.DataValue{}
	s.demuxNotification([]*ua.MonitoredItemNotification{
		{ClientHandle: 100, Value: dv},
	})

	select {
	case dc := <-s.out:
		assert.Equal(t, ref, dc.Node)
		assert.Equal(t, dv, dc.Value)
	default:
		t.Fatal("expected a data change to be delivered")
	}
}

func TestSession_DemuxDropsUnknownHandle(t *testing.T) {
	s := newTestSession()
	s.demuxNotification([]*ua.MonitoredItemNotification{
		{ClientHandle: 999, Value: &ua.DataValue{}},
	})
	select {
	case <-s.out:
		t.Fatal("expected no delivery for unknown handle")
	default:
	}
}

func TestSession_DemuxDropsWhenChannelFull(t *testing.T) {
	s := newTestSession()
	ref := model.NodeRef{EndpointName: "plc1", NodeID: "ns=2;s=Temp"}
	s.handles[100] = ref

	for i := 0; i < cap(s.out)+2; i++ {
		s.demuxNotification([]*ua.MonitoredItemNotification{
			{ClientHandle: 100, Value: &ua.DataValue{}},
		})
	}
	assert.Equal(t, cap(s.out), len(s.out))
}

func TestToVariant_SupportedTypes(t *testing.T) {
	v, err := ToVariant(int32(42), model.Int)
	require.NoError(t, err)
	assert.Equal(t, int32(42), v.Value())
}

func TestToVariant_DurationEncodesAsMillisecondDouble(t *testing.T) {
	v, err := ToVariant(1500*time.Millisecond, model.Duration)
	require.NoError(t, err)
	assert.Equal(t, float64(1500), v.Value())
}

func TestToVariant_Base64BinaryEncodesAsByteString(t *testing.T) {
	v, err := ToVariant([]byte{1, 2, 3}, model.Base64Binary)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, v.Value())
}

func TestToVariant_UnsupportedType(t *testing.T) {
	_, err := ToVariant(int32(1), model.ValueType("xs:bogus"))
	require.Error(t, err)
	assert.True(t, model.Is(err, model.KindTypeError))
}

func TestToVariant_DurationWrongGoType(t *testing.T) {
	_, err := ToVariant("not-a-duration", model.Duration)
	require.Error(t, err)
	assert.True(t, model.Is(err, model.KindTypeError))
}

func TestToVariant_Base64BinaryWrongGoType(t *testing.T) {
	_, err := ToVariant("not-bytes", model.Base64Binary)
	require.Error(t, err)
	assert.True(t, model.Is(err, model.KindTypeError))
}

func TestSession_MonitorBeforeSubscriptionStoresRequestWithoutError(t *testing.T) {
	s := newTestSession()
	err := s.Monitor([]model.MonitorSpec{{
		NodeRef:          model.NodeRef{EndpointName: "plc1", NodeID: "ns=2;s=Temp"},
		SamplingInterval: 100 * time.Millisecond,
		QueueSize:        10,
	}})
	require.NoError(t, err)
	assert.Len(t, s.monitorReqs, 1)
}

func TestNativeValue_NilVariant(t *testing.T) {
	assert.Nil(t, NativeValue(nil))
}

func TestNativeValue_RoundTripInt32(t *testing.T) {
	v, err := ua.NewVariant(int32(7))
	require.NoError(t, err)
	assert.Equal(t, int32(7), NativeValue(v))
}
