package aasclient

import (
	"context"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/resilience"
)

func TestElementURL_VerbatimSubmodelID(t *testing.T) {
	c := &RESTClient{cfg: Config{BaseURL: "http://aas.local/api/v3"}}
	url := c.elementURL(model.ElementRef{SubmodelID: "urn:factory:sm:sensors", IDShortPath: "Temperature"})
	assert.Equal(t, "http://aas.local/api/v3/submodels/urn:factory:sm:sensors/submodel-elements/Temperature/$value", url)
}

func TestElementURL_EncodedSubmodelID(t *testing.T) {
	c := &RESTClient{cfg: Config{BaseURL: "http://aas.local/api/v3", EncodeIdentifiers: true}}
	url := c.elementURL(model.ElementRef{SubmodelID: "urn:factory:sm:sensors", IDShortPath: "Temperature"})
	assert.Contains(t, url, "/submodels/")
	assert.NotContains(t, url, "urn:factory:sm:sensors")
}

func TestElementURL_NestedPath(t *testing.T) {
	c := &RESTClient{cfg: Config{BaseURL: "http://aas.local"}}
	url := c.elementURL(model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"})
	assert.Equal(t, "http://aas.local/submodels/sm1/submodel-elements/Sensors.Temperature/$value", url)
}

func TestToJSONValue_IntegerWithinSafeRange(t *testing.T) {
	v, err := ToJSONValue(int32(42), model.Int)
	require.NoError(t, err)
	assert.Equal(t, int64(42), v)
}

func TestToJSONValue_UnsignedLongAboveSafeRangeIsString(t *testing.T) {
	v, err := ToJSONValue(uint64(1)<<60, model.UnsignedLong)
	require.NoError(t, err)
	assert.IsType(t, "", v)
}

func TestToJSONValue_UnsignedLongBelowSafeRangeIsNumber(t *testing.T) {
	v, err := ToJSONValue(uint64(42), model.UnsignedLong)
	require.NoError(t, err)
	assert.Equal(t, uint64(42), v)
}

func TestToJSONValue_NaNRejected(t *testing.T) {
	_, err := ToJSONValue(math.NaN(), model.Double)
	require.Error(t, err)
	assert.True(t, model.Is(err, model.KindRangeError))
}

func TestToJSONValue_DateTimeISO8601(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	v, err := ToJSONValue(ts, model.DateTime)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-01T12:00:00Z", v)
}

func TestToJSONValue_Base64Binary(t *testing.T) {
	v, err := ToJSONValue([]byte{0xDE, 0xAD}, model.Base64Binary)
	require.NoError(t, err)
	assert.Equal(t, "3q0=", v)
}

func TestDeriveElementRefFromTopic(t *testing.T) {
	pattern := DefaultTopicPattern
	topic := "sm-repository/instanceA/submodels/c20xOmZhY3Rvcnk6c206c2Vuc29ycw/submodelElements/Sensors/Temperature"

	ref, err := deriveElementRefFromTopic(topic, pattern)
	require.NoError(t, err)
	assert.Equal(t, "Sensors/Temperature", ref.IDShortPath)
}

func TestParseEventPayload_DirectFields(t *testing.T) {
	payload := []byte(`{"submodelId":"sm1","idShortPath":"Temp","value":42.0,"user":"alice"}`)
	ec, err := parseEventPayload("sm-repository/x/submodels/sm1/submodelElements/Temp", payload, DefaultTopicPattern)
	require.NoError(t, err)
	assert.Equal(t, "sm1", ec.Element.SubmodelID)
	assert.Equal(t, "Temp", ec.Element.IDShortPath)
	assert.Equal(t, "alice", ec.UserID)
	assert.Equal(t, float64(42.0), ec.RawValue)
}

func TestParseEventPayload_WrappedUnderData(t *testing.T) {
	payload := []byte(`{"data":{"idShort":"Temp","submodelId":"sm1","value":10}}`)
	ec, err := parseEventPayload("sm-repository/x/submodels/sm1/submodelElements/Temp", payload, DefaultTopicPattern)
	require.NoError(t, err)
	assert.Equal(t, "Temp", ec.Element.IDShortPath)
}

func testRESTClient(baseURL string) *RESTClient {
	breakers := resilience.NewBreakerRegistry(zap.NewNop(), resilience.DefaultBreakerConfig(), nil, nil)
	backoff := resilience.NewBackoff(resilience.BackoffConfig{InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond})
	return NewRESTClient(Config{BaseURL: baseURL}, zap.NewNop(), backoff, breakers)
}

// TestWriteValue_RetriesWithFullBodyAfterServerError proves a retried PATCH
// rebuilds its body rather than replaying an already-consumed bytes.Reader:
// the first attempt gets a 500 and must be followed by a second attempt
// whose body still carries the full JSON value, not an empty one.
func TestWriteValue_RetriesWithFullBodyAfterServerError(t *testing.T) {
	var attempts int32
	var secondBody []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&attempts, 1)
		body, _ := io.ReadAll(r.Body)

		if n == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		secondBody = body
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := testRESTClient(srv.URL)
	ref := model.ElementRef{SubmodelID: "sm1", IDShortPath: "Sensors/Temperature"}

	err := c.WriteValue(context.Background(), ref, int32(42), model.Int)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&attempts))

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(secondBody, &decoded))
	assert.Equal(t, float64(42), decoded["value"])
}
