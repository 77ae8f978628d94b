package diagnostics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
)

const (
	mqttConnectTimeout = 30 * time.Second
	mqttPublishTimeout = 10 * time.Second
)

// MQTTConfig configures the MQTT forwarder.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
}

// MQTTPublisher forwards diagnostic events as JSON to an MQTT topic.
type MQTTPublisher struct {
	config  MQTTConfig
	client  mqtt.Client
	publish func(topic string, payload []byte) error
	log     zerolog.Logger
}

// NewMQTTPublisher creates a forwarder. Connect must be called before Run.
func NewMQTTPublisher(cfg MQTTConfig, logger zerolog.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("MQTT broker is required")
	}
	if cfg.Topic == "" {
		return nil, errors.New("MQTT diagnostics topic is required")
	}
	p := &MQTTPublisher{config: cfg, log: logger}
	p.publish = p.publishMQTT
	return p, nil
}

// Connect establishes the broker connection. The paho client reconnects on its own afterwards.
func (p *MQTTPublisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.config.Broker)
	opts.SetClientID(p.config.ClientID)
	opts.SetUsername(p.config.Username)
	opts.SetPassword(p.config.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		p.log.Info().Str("broker", p.config.Broker).Msg("connected to MQTT broker")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		p.log.Warn().Err(err).Str("broker", p.config.Broker).Msg("connection to MQTT broker lost")
	})

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()

	timeout := mqttConnectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = min(timeout, time.Until(deadline))
	}
	if !token.WaitTimeout(timeout) {
		return errors.New("MQTT connection timeout")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT connection error: %w", err)
	}
	return nil
}

// Run forwards every event of b until ctx is done.
func (p *MQTTPublisher) Run(ctx context.Context, b *Broadcaster) error {
	ch := b.AddListener()
	defer b.RemoveListener(ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				p.log.Error().Err(err).Msg("encoding diagnostic event")
				continue
			}
			if err := p.publish(p.topicFor(ev), payload); err != nil {
				p.log.Warn().Err(err).Str("type", string(ev.Type)).Msg("publishing diagnostic event")
			}
		}
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// topicFor appends the event type so subscribers can filter, e.g. "attendance/diagnostics/rejection".
func (p *MQTTPublisher) topicFor(ev Event) string {
	return p.config.Topic + "/" + string(ev.Type)
}

func (p *MQTTPublisher) publishMQTT(topic string, payload []byte) error {
	if p.client == nil || !p.client.IsConnected() {
		return errors.New("not connected to MQTT broker")
	}
	token := p.client.Publish(topic, 0, false, payload)
	if !token.WaitTimeout(mqttPublishTimeout) {
		return fmt.Errorf("publish timeout for topic %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	return nil
}
