package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

const sampleYAML = `
opcua:
  endpoints:
    - name: line1
      url: "opc.tcp://10.0.0.5:4840"
      security_policy: Basic256Sha256
aas:
  url: "http://aas-repo:8081"
  encode_identifiers: true
  poll_interval_seconds: 10
mappings:
  - opcua_node_id: "ns=2;s=Temperature"
    endpoint: line1
    submodel_id: sm1
    id_short_path: Sensors/Temperature
    value_type: xs:int
    direction: both
log_level: debug
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "bridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoad_AppliesDefaultsAndOverlay(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.AAS.PollIntervalSeconds)
	assert.True(t, cfg.AAS.EncodeIdentifiers)
	assert.Equal(t, 2048, cfg.AAS.Events.DedupMaxEntries) // untouched default
	require.Len(t, cfg.OPCUA.Endpoints, 1)
	assert.Equal(t, "line1", cfg.OPCUA.Endpoints[0].Name)
}

func TestLoad_MissingEndpointsIsConfigError(t *testing.T) {
	path := writeTempConfig(t, "aas:\n  url: \"http://x\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, model.Is(err, model.KindConfigError))
}

func TestLoad_MissingAASURLIsConfigError(t *testing.T) {
	path := writeTempConfig(t, "opcua:\n  endpoints:\n    - name: line1\n      url: \"opc.tcp://x\"\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, model.Is(err, model.KindConfigError))
}

func TestLoad_DuplicateEndpointNameIsConfigError(t *testing.T) {
	path := writeTempConfig(t, `
opcua:
  endpoints:
    - name: line1
      url: "opc.tcp://a"
    - name: line1
      url: "opc.tcp://b"
aas:
  url: "http://x"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, model.Is(err, model.KindConfigError))
}

func TestLoad_MissingFileIsConfigError(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.Error(t, err)
	assert.True(t, model.Is(err, model.KindConfigError))
}

func TestToModelMappings_ConvertsValueTypeAndDirection(t *testing.T) {
	cfg := Default()
	cfg.Mappings = []MappingConfig{{
		OPCUANodeID:  "ns=2;s=Temperature",
		EndpointName: "line1",
		SubmodelID:   "sm1",
		IDShortPath:  "Sensors/Temperature",
		ValueType:    "xs:int",
		Direction:    "both",
	}}

	mappings := cfg.ToModelMappings()

	require.Len(t, mappings, 1)
	assert.Equal(t, model.Int, mappings[0].ValueType)
	assert.Equal(t, model.Both, mappings[0].Direction)
	assert.Equal(t, model.NodeRef{EndpointName: "line1", NodeID: "ns=2;s=Temperature"}, mappings[0].NodeRef)
}

func TestToModelMappings_PreservesRangeWhenBothBoundsSet(t *testing.T) {
	cfg := Default()
	min, max := 0.0, 100.0
	cfg.Mappings = []MappingConfig{{ValueType: "xs:int", Direction: "both", RangeMin: &min, RangeMax: &max}}

	mappings := cfg.ToModelMappings()

	require.NotNil(t, mappings[0].Range)
	assert.Equal(t, 0.0, mappings[0].Range.Min)
	assert.Equal(t, 100.0, mappings[0].Range.Max)
}

func TestAASMQTTConfig_EnabledReflectsEventsSection(t *testing.T) {
	cfg := Default()
	cfg.AAS.Events.Enabled = true
	cfg.AAS.Events.MQTTURL = "tcp://broker:1883"

	mqttCfg := cfg.AASMQTTConfig()

	assert.True(t, mqttCfg.Enabled)
	assert.Equal(t, "tcp://broker:1883", mqttCfg.Broker)
}

func TestLoopCacheParams_DerivedFromEventsSection(t *testing.T) {
	cfg := Default()
	cfg.AAS.Events.DedupTTLSeconds = 7
	cfg.AAS.Events.DedupMaxEntries = 128

	maxEntries, ttl := cfg.LoopCacheParams()

	assert.Equal(t, 128, maxEntries)
	assert.Equal(t, 7_000_000_000, int(ttl))
}
