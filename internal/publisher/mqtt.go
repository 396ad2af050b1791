package publisher

import (
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	json "github.com/goccy/go-json"

	"github.com/jgoulah/flumescraper/internal/config"
	"github.com/jgoulah/flumescraper/pkg/models"
)

const (
	defaultClientID = "flumescraper"
	publishTimeout  = 10 * time.Second
	qos             = 1
)

// Publisher sends usage samples to an MQTT broker
type Publisher struct {
	client      mqtt.Client
	topicPrefix string
}

// New connects to the broker described by cfg
func New(cfg config.MQTTConfig) (*Publisher, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT publishing is not enabled in config")
	}
	if cfg.Broker == "" {
		return nil, fmt.Errorf("MQTT broker address is required when enabled")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = defaultClientID
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.Broker))
	opts.SetClientID(clientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(10 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	if token := client.Connect(); !token.WaitTimeout(publishTimeout) {
		return nil, fmt.Errorf("connecting to MQTT broker %s: timed out", cfg.Broker)
	} else if token.Error() != nil {
		return nil, fmt.Errorf("connecting to MQTT broker: %w", token.Error())
	}

	return NewWithClient(client, cfg.GetTopicPrefix()), nil
}

// NewWithClient wraps an already connected client
func NewWithClient(client mqtt.Client, topicPrefix string) *Publisher {
	prefix := config.MQTTConfig{TopicPrefix: topicPrefix}.GetTopicPrefix()
	return &Publisher{client: client, topicPrefix: prefix}
}

// Payload is the JSON document published for each sample
type Payload struct {
	DeviceID  string  `json:"device_id"`
	Timestamp string  `json:"timestamp"`
	Value     float64 `json:"value"`
	Bucket    string  `json:"bucket"`
}

// Topic returns the topic samples of deviceID are published to
func (p *Publisher) Topic(deviceID string) string {
	return fmt.Sprintf("%s/%s/usage", p.topicPrefix, deviceID)
}

// Publish sends one sample and waits for the broker to acknowledge it
func (p *Publisher) Publish(s models.UsageSample) error {
	if s.DeviceID == "" {
		return fmt.Errorf("sample has no device id")
	}

	body, err := json.Marshal(Payload{
		DeviceID:  s.DeviceID,
		Timestamp: s.Timestamp,
		Value:     s.Value,
		Bucket:    s.Bucket,
	})
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}

	token := p.client.Publish(p.Topic(s.DeviceID), qos, false, body)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publishing to %s: timed out", p.Topic(s.DeviceID))
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publishing to %s: %w", p.Topic(s.DeviceID), err)
	}
	return nil
}

// Close disconnects from the MQTT broker
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}
