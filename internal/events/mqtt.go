package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/hilinkd/hilinkd/internal/config"
	"github.com/hilinkd/hilinkd/internal/models"
)

const (
	mqttConnectTimeout = 10 * time.Second
	mqttPublishTimeout = 5 * time.Second
)

var errPublishTimeout = errors.New("mqtt publish timeout")

// mqttClient is the part of mqtt.Client the publisher uses.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes JSON to <prefix>/modem/<uuid>/metrics and
// <prefix>/modem/<uuid>/events.
type MQTTPublisher struct {
	client mqttClient
	prefix string
	qos    byte
	retain bool
}

// DialMQTT connects to the broker in cfg and returns a publisher owning the connection.
func DialMQTT(cfg config.MQTTConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetKeepAlive(30 * time.Second)

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("MQTT client connected")
	})

	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		log.Error().Err(err).Str("broker", cfg.Broker).Msg("MQTT connection lost")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		// SetConnectRetry keeps trying in the background
		log.Warn().Str("broker", cfg.Broker).Msg("MQTT broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect mqtt: %w", err)
	}

	return NewMQTTPublisher(client, cfg.TopicPrefix, byte(cfg.QoS), cfg.Retain), nil
}

// NewMQTTPublisher wraps a connected client.
func NewMQTTPublisher(client mqttClient, prefix string, qos byte, retain bool) *MQTTPublisher {
	if prefix == "" {
		prefix = "hilink"
	}
	return &MQTTPublisher{client: client, prefix: prefix, qos: qos, retain: retain}
}

// MetricsTopic returns the topic samples of a modem are published on.
func (p *MQTTPublisher) MetricsTopic(modemUUID string) string {
	return fmt.Sprintf("%s/modem/%s/metrics", p.prefix, modemUUID)
}

// EventsTopic returns the topic events of a modem are published on.
func (p *MQTTPublisher) EventsTopic(modemUUID string) string {
	return fmt.Sprintf("%s/modem/%s/events", p.prefix, modemUUID)
}

// PublishSample implements Publisher. Samples honour the retain setting so
// late subscribers see the latest reading.
func (p *MQTTPublisher) PublishSample(ctx context.Context, sample *models.MetricSample) error {
	return p.publish(p.MetricsTopic(sample.ModemUUID), p.retain, sample)
}

// PublishEvent implements Publisher
func (p *MQTTPublisher) PublishEvent(ctx context.Context, event *models.EventLog) error {
	return p.publish(p.EventsTopic(event.ModemUUID), false, event)
}

func (p *MQTTPublisher) publish(topic string, retain bool, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.qos, retain, data)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("%s: %w", topic, errPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
