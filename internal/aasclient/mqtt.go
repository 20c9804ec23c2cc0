package aasclient

import (
	"crypto/tls"
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/industrial-twin/opcua-aas-bridge/internal/model"
)

// MQTTConfig configures the event-ingress half of the AAS Client.
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	QoS            byte          `yaml:"qos"`
	TopicPattern   string        `yaml:"topic_pattern"`
	TLSEnabled     bool          `yaml:"tls_enabled"`
	TLSInsecure    bool          `yaml:"tls_insecure"`
	KeepAlive      time.Duration `yaml:"keep_alive"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	AutoReconnect  bool          `yaml:"auto_reconnect"`
}

// DefaultTopicPattern is the subscription pattern used when none is
// configured.
const DefaultTopicPattern = "sm-repository/+/submodels/+/submodelElements/#"

func (c MQTTConfig) topicPattern() string {
	if c.TopicPattern == "" {
		return DefaultTopicPattern
	}
	return c.TopicPattern
}

func (c MQTTConfig) connectTimeout() time.Duration {
	if c.ConnectTimeout > 0 {
		return c.ConnectTimeout
	}
	return 10 * time.Second
}

// mqttIngress subscribes to the configured topic pattern and turns every
// message into an ElementChanged delivered to onEvent.
type mqttIngress struct {
	cfg     MQTTConfig
	logger  *zap.Logger
	client  mqtt.Client
	onEvent func(ElementChanged)
	onProbe func(ok bool)
}

func newMQTTIngress(cfg MQTTConfig, logger *zap.Logger, onEvent func(ElementChanged), onProbe func(ok bool)) *mqttIngress {
	ing := &mqttIngress{cfg: cfg, logger: logger, onEvent: onEvent, onProbe: onProbe}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetKeepAlive(cfg.KeepAlive)
	opts.SetConnectTimeout(cfg.connectTimeout())
	opts.SetAutoReconnect(cfg.AutoReconnect)
	opts.SetCleanSession(true)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	if cfg.TLSEnabled {
		opts.SetTLSConfig(&tls.Config{InsecureSkipVerify: cfg.TLSInsecure})
	}
	opts.SetConnectionLostHandler(ing.onConnectionLost)

	ing.client = mqtt.NewClient(opts)
	return ing
}

// Start connects to the broker and subscribes to the configured topic
// pattern.
func (m *mqttIngress) Start() error {
	token := m.client.Connect()
	if !token.WaitTimeout(m.cfg.connectTimeout()) {
		return mqttError("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return mqttError(err.Error())
	}

	pattern := m.cfg.topicPattern()
	subToken := m.client.Subscribe(pattern, m.cfg.QoS, m.handleMessage)
	if !subToken.WaitTimeout(m.cfg.connectTimeout()) {
		return mqttError("mqtt subscribe timeout")
	}
	if err := subToken.Error(); err != nil {
		return err
	}

	if m.onProbe != nil {
		m.onProbe(true)
	}
	return nil
}

// Stop disconnects cleanly.
func (m *mqttIngress) Stop() {
	m.client.Disconnect(250)
}

func (m *mqttIngress) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	ec, err := parseEventPayload(msg.Topic(), msg.Payload(), m.cfg.topicPattern())
	if err != nil {
		m.logger.Warn("dropping unparsable AAS event", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	m.onEvent(ec)
}

func (m *mqttIngress) onConnectionLost(_ mqtt.Client, err error) {
	m.logger.Warn("MQTT connection lost", zap.Error(err))
	if m.onProbe != nil {
		m.onProbe(false)
	}
}

func mqttError(msg string) error {
	return model.NewBridgeError(model.KindMqttError, "aasclient.mqtt", errors.New(msg))
}
