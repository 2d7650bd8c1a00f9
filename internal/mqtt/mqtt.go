// Package mqtt publishes borderd telemetry to an MQTT broker: every event
// on the bus (action status transitions, unreachable-device reports), for
// integration with building-automation and monitoring systems. Collection
// changes are not published.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/threadscope/borderd/internal/event"
)

// Config holds the broker connection settings.
type Config struct {
	BrokerURL   string
	ClientID    string
	TopicPrefix string
	Username    string
	Password    string
}

// Publisher forwards bus events to the broker.
type Publisher struct {
	cfg         Config
	client      pahomqtt.Client
	logger      *zap.Logger
	unsubscribe func()
}

// New connects to the broker and subscribes to the event bus. Events are
// published under "<prefix>/<topic>" with the payload JSON-encoded.
func New(cfg Config, bus event.Subscriber, logger *zap.Logger) (*Publisher, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "borderd"
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "borderd"
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(pahomqtt.Client) {
		logger.Info("mqtt connected", zap.String("broker", cfg.BrokerURL))
	}
	opts.OnConnectionLost = func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", zap.Error(err))
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect to %q timed out", cfg.BrokerURL)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %q: %w", cfg.BrokerURL, err)
	}

	p := &Publisher{cfg: cfg, client: client, logger: logger}
	p.unsubscribe = bus.SubscribeAll(p.forward)
	return p, nil
}

// forward publishes one bus event.
func (p *Publisher) forward(_ context.Context, e event.Event) {
	payload, err := json.Marshal(map[string]any{
		"source":    e.Source,
		"timestamp": e.Timestamp.Format(time.RFC3339),
		"data":      e.Payload,
	})
	if err != nil {
		p.logger.Warn("mqtt payload marshal failed", zap.Error(err))
		return
	}
	topic := p.cfg.TopicPrefix + "/" + e.Topic
	token := p.client.Publish(topic, 0, false, payload)
	go func() {
		token.Wait()
		if err := token.Error(); err != nil {
			p.logger.Warn("mqtt publish failed", zap.String("topic", topic), zap.Error(err))
		}
	}()
}

// Close detaches from the bus and disconnects from the broker.
func (p *Publisher) Close() {
	if p.unsubscribe != nil {
		p.unsubscribe()
	}
	p.client.Disconnect(250)
}
