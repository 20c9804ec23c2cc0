// Package config loads and validates the bridge's YAML configuration,
// following the gateway's nested-struct-per-section convention
// (Config.Gateway, Config.Security, Config.Protocols...) generalized to
// Config.OPCUA, Config.AAS, Config.Mappings, Config.Health, Config.Audit.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/industrial-twin/opcua-aas-bridge/internal/aasclient"
	"github.com/industrial-twin/opcua-aas-bridge/internal/audit"
	"github.com/industrial-twin/opcua-aas-bridge/internal/health"
	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
	"github.com/industrial-twin/opcua-aas-bridge/internal/opcuapool"
	"github.com/industrial-twin/opcua-aas-bridge/internal/resilience"
)

// EndpointConfig is one opcua.endpoints[] entry.
type EndpointConfig struct {
	Name            string        `yaml:"name"`
	URL             string        `yaml:"url"`
	SecurityPolicy  string        `yaml:"security_policy"`
	SecurityMode    string        `yaml:"security_mode"`
	AuthUsername    string        `yaml:"auth_username"`
	AuthPassword    string        `yaml:"auth_password"`
	CertPath        string        `yaml:"cert_path"`
	KeyPath         string        `yaml:"key_path"`
	SessionTimeout  time.Duration `yaml:"session_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
}

// MappingConfig is one mappings[] entry, the YAML surface for a
// model.Mapping.
type MappingConfig struct {
	OPCUANodeID        string   `yaml:"opcua_node_id"`
	EndpointName       string   `yaml:"endpoint"`
	SubmodelID         string   `yaml:"submodel_id"`
	IDShortPath        string   `yaml:"id_short_path"`
	ValueType          string   `yaml:"value_type"`
	Array              bool     `yaml:"array"`
	RangeMin           *float64 `yaml:"range_min"`
	RangeMax           *float64 `yaml:"range_max"`
	Nullable           bool     `yaml:"nullable"`
	Direction          string   `yaml:"direction"`
	SamplingIntervalMs int      `yaml:"sampling_interval_ms"`
	QueueSize          int      `yaml:"queue_size"`
}

// EventsConfig is the aas.events section (MQTT ingress + dedup tuning).
type EventsConfig struct {
	Enabled         bool   `yaml:"enabled"`
	MQTTURL         string `yaml:"mqtt_url"`
	MQTTTopic       string `yaml:"mqtt_topic"`
	MQTTClientID    string `yaml:"mqtt_client_id"`
	MQTTUsername    string `yaml:"mqtt_username"`
	MQTTPassword    string `yaml:"mqtt_password"`
	MQTTQoS         byte   `yaml:"mqtt_qos"`
	TLSEnabled      bool   `yaml:"tls_enabled"`
	TLSInsecure     bool   `yaml:"tls_insecure"`
	DedupTTLSeconds int    `yaml:"dedup_ttl_seconds"`
	DedupMaxEntries int    `yaml:"dedup_max_entries"`
}

// AASConfig is the aas section.
type AASConfig struct {
	Type                string       `yaml:"type"` // basyx | aasx-server | memory (semantic only)
	URL                 string       `yaml:"url"`
	EncodeIdentifiers   bool         `yaml:"encode_identifiers"`
	AutoCreateSubmodels bool         `yaml:"auto_create_submodels"`
	AutoCreateElements  bool         `yaml:"auto_create_elements"`
	PollIntervalSeconds int          `yaml:"poll_interval_seconds"`
	RequestTimeout      time.Duration `yaml:"request_timeout"`
	Events              EventsConfig `yaml:"events"`
}

// BreakerConfig/BackoffConfig sections tune the resilience package shared
// across the Connection Pool and AAS Client.
type ResilienceConfig struct {
	Breaker resilience.BreakerConfig `yaml:"breaker"`
	Backoff resilience.BackoffConfig `yaml:"backoff"`
}

// Config is the top-level bridge configuration document.
type Config struct {
	OPCUA struct {
		Endpoints []EndpointConfig `yaml:"endpoints"`
	} `yaml:"opcua"`

	Mappings []MappingConfig `yaml:"mappings"`

	AAS AASConfig `yaml:"aas"`

	Resilience ResilienceConfig `yaml:"resilience"`

	Health health.Config `yaml:"health"`

	Audit audit.Config `yaml:"audit"`

	LogLevel string `yaml:"log_level"`
}

// Default returns a Config with every section's defaults applied, mirroring
// loadConfig's "defaults, then overlay the file" structure.
func Default() *Config {
	cfg := &Config{}
	cfg.AAS.PollIntervalSeconds = 5
	cfg.AAS.Type = "basyx"
	cfg.AAS.Events.DedupTTLSeconds = 5
	cfg.AAS.Events.DedupMaxEntries = 2048
	cfg.AAS.Events.MQTTTopic = aasclient.DefaultTopicPattern
	cfg.AAS.Events.MQTTQoS = 1
	cfg.Resilience.Breaker = resilience.DefaultBreakerConfig()
	cfg.Resilience.Backoff = resilience.DefaultBackoffConfig()
	cfg.Health.Addr = health.DefaultAddr
	cfg.Health.EnableMetrics = true
	cfg.Audit.LogLevel = "info"
	cfg.LogLevel = "info"
	return cfg
}

// Load reads and validates filename, applying defaults first and
// overlaying whatever the file sets, matching the teacher's
// defaults-then-unmarshal pattern in loadConfig.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, model.NewBridgeError(model.KindConfigError, "config.Load", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, model.NewBridgeError(model.KindConfigError, "config.Load", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks structural requirements that yaml.Unmarshal cannot
// enforce: non-empty endpoint set, unique endpoint names, a non-empty
// AAS URL, and (deferred to mapping.Build) well-formed mappings.
func (c *Config) Validate() error {
	if len(c.OPCUA.Endpoints) == 0 {
		return model.NewBridgeError(model.KindConfigError, "config.Validate", fmt.Errorf("opcua.endpoints must not be empty"))
	}
	seen := make(map[string]bool, len(c.OPCUA.Endpoints))
	for _, ep := range c.OPCUA.Endpoints {
		if ep.Name == "" {
			return model.NewBridgeError(model.KindConfigError, "config.Validate", fmt.Errorf("opcua endpoint missing name"))
		}
		if ep.URL == "" {
			return model.NewBridgeError(model.KindConfigError, "config.Validate", fmt.Errorf("opcua endpoint %q missing url", ep.Name))
		}
		if seen[ep.Name] {
			return model.NewBridgeError(model.KindConfigError, "config.Validate", fmt.Errorf("duplicate opcua endpoint name %q", ep.Name))
		}
		seen[ep.Name] = true
	}
	if c.AAS.URL == "" {
		return model.NewBridgeError(model.KindConfigError, "config.Validate", fmt.Errorf("aas.url must be set"))
	}
	return nil
}

// OpcuaPoolEndpoints converts the YAML endpoint list to opcuapool's
// EndpointConfig shape.
func (c *Config) OpcuaPoolEndpoints() []opcuapool.EndpointConfig {
	out := make([]opcuapool.EndpointConfig, len(c.OPCUA.Endpoints))
	for i, ep := range c.OPCUA.Endpoints {
		out[i] = opcuapool.EndpointConfig{
			Name:            ep.Name,
			URL:             ep.URL,
			SecurityPolicy:  ep.SecurityPolicy,
			SecurityMode:    ep.SecurityMode,
			AuthUsername:    ep.AuthUsername,
			AuthPassword:    ep.AuthPassword,
			CertificateFile: ep.CertPath,
			PrivateKeyFile:  ep.KeyPath,
			SessionTimeout:  ep.SessionTimeout,
			RequestTimeout:  ep.RequestTimeout,
		}
	}
	return out
}

// AASClientConfig converts the YAML aas section to aasclient.Config.
func (c *Config) AASClientConfig() aasclient.Config {
	return aasclient.Config{
		BaseURL:             c.AAS.URL,
		EncodeIdentifiers:   c.AAS.EncodeIdentifiers,
		AutoCreateSubmodels: c.AAS.AutoCreateSubmodels,
		AutoCreateElements:  c.AAS.AutoCreateElements,
		RequestTimeout:      c.AAS.RequestTimeout,
		PollIntervalSeconds: c.AAS.PollIntervalSeconds,
	}
}

// AASMQTTConfig converts the YAML aas.events section to aasclient.MQTTConfig.
// Polling is used instead of MQTT ingress whenever events.enabled is false,
// per spec's "if aas.events.enabled is true, polling is disabled" rule
// (enforced by aasclient.New, which this config feeds).
func (c *Config) AASMQTTConfig() aasclient.MQTTConfig {
	ev := c.AAS.Events
	return aasclient.MQTTConfig{
		Enabled:      ev.Enabled,
		Broker:       ev.MQTTURL,
		ClientID:     ev.MQTTClientID,
		Username:     ev.MQTTUsername,
		Password:     ev.MQTTPassword,
		QoS:          ev.MQTTQoS,
		TopicPattern: ev.MQTTTopic,
		TLSEnabled:   ev.TLSEnabled,
		TLSInsecure:  ev.TLSInsecure,
		AutoReconnect: true,
	}
}

// mappingValueTypes maps the YAML string enumeration to model.ValueType.
var mappingValueTypes = map[string]model.ValueType{
	"xs:boolean":      model.Boolean,
	"xs:byte":         model.Byte,
	"xs:unsignedByte": model.UnsignedByte,
	"xs:short":        model.Short,
	"xs:unsignedShort": model.UnsignedShort,
	"xs:int":          model.Int,
	"xs:unsignedInt":  model.UnsignedInt,
	"xs:long":         model.Long,
	"xs:unsignedLong": model.UnsignedLong,
	"xs:float":        model.Float,
	"xs:double":       model.Double,
	"xs:string":       model.String,
	"xs:dateTime":     model.DateTime,
	"xs:duration":     model.Duration,
	"xs:base64Binary": model.Base64Binary,
}

var mappingDirections = map[string]model.Direction{
	"opc->aas": model.OPCToAAS,
	"aas->opc": model.AASToOPC,
	"both":     model.Both,
}

// ToModelMappings converts the YAML mappings[] list to model.Mapping
// values suitable for mapping.Build. Unknown value types/directions are
// passed through verbatim so mapping.Build's own validation produces the
// ConfigError (keeping the "where mappings get rejected" logic in one
// place).
func (c *Config) ToModelMappings() []model.Mapping {
	out := make([]model.Mapping, len(c.Mappings))
	for i, mc := range c.Mappings {
		var rng *model.Range
		if mc.RangeMin != nil && mc.RangeMax != nil {
			rng = &model.Range{Min: *mc.RangeMin, Max: *mc.RangeMax}
		}
		out[i] = model.Mapping{
			NodeRef:            model.NodeRef{EndpointName: mc.EndpointName, NodeID: mc.OPCUANodeID},
			ElementRef:         model.ElementRef{SubmodelID: mc.SubmodelID, IDShortPath: mc.IDShortPath},
			ValueType:          mappingValueTypes[mc.ValueType],
			Array:              mc.Array,
			Range:              rng,
			Nullable:           mc.Nullable,
			Direction:          mappingDirections[mc.Direction],
			SamplingIntervalMs: mc.SamplingIntervalMs,
			QueueSize:          mc.QueueSize,
		}
	}
	return out
}

// LoopCacheParams returns the configured TTL and max entries for the
// Loop-Suppression Cache (aas.events.dedup_*).
func (c *Config) LoopCacheParams() (maxEntries int, ttl time.Duration) {
	return c.AAS.Events.DedupMaxEntries, time.Duration(c.AAS.Events.DedupTTLSeconds) * time.Second
}
