// Package mqttpub mirrors assessment events onto an MQTT broker so
// consumers other than the initiating websocket client (dashboards,
// archivers) can follow progress. Delivery is best effort; broker
// failures never reach the phase loop.
package mqttpub

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"bytemomo/redstorm/internal/domain"
)

const (
	connectTimeout = 10 * time.Second
	publishTimeout = 2 * time.Second
)

type Config struct {
	Broker      string `yaml:"broker" json:"broker"`
	ClientID    string `yaml:"client_id" json:"client_id"`
	TopicPrefix string `yaml:"topic_prefix" json:"topic_prefix"`
	Username    string `yaml:"username" json:"username"`
	Password    string `yaml:"password" json:"password"`
}

type Publisher struct {
	client mqtt.Client
	prefix string
}

// New connects to the broker. The connection is kept alive with
// automatic reconnects; events published while disconnected are dropped.
func New(cfg Config) (*Publisher, error) {
	prefix := cfg.TopicPrefix
	if prefix == "" {
		prefix = "redstorm/assessments"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = fmt.Sprintf("redstorm-%d", time.Now().UnixNano())
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectTimeout(connectTimeout)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt connect to %s timed out", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	log.WithField("broker", cfg.Broker).Info("Connected to MQTT broker")
	return &Publisher{client: client, prefix: prefix}, nil
}

// Publish mirrors the event to <prefix>/<clientID>/<event type>.
func (p *Publisher) Publish(clientID string, ev domain.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Type, err)
	}

	topic := fmt.Sprintf("%s/%s/%s", p.prefix, clientID, ev.Type)
	token := p.client.Publish(topic, 0, false, b)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt publish to %s timed out", topic)
	}
	return token.Error()
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	p.client.Disconnect(250)
}
