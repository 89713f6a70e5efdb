// Package mqtt wraps the paho autopaho connection manager used by the MQTT
// transcript source and the command publisher.
package mqtt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
)

// MessageHandler processes one received message.
type MessageHandler func(ctx context.Context, topic string, payload []byte)

// Client is the subset of broker operations macaria needs.
type Client interface {
	// Start initiates the connection. It is non-blocking; use AwaitConnection to wait.
	Start(ctx context.Context) error

	// Publish sends payload to topic.
	Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error

	// Subscribe registers handler for a topic filter. Subscriptions are
	// restored automatically after a reconnect.
	Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error

	// AwaitConnection blocks until the client is connected.
	AwaitConnection(ctx context.Context) error

	// Disconnect cleanly closes the connection.
	Disconnect(ctx context.Context)
}

// Config holds the settings for a new Client.
type Config struct {
	BrokerURL string
	ClientID  string
	Username  string
	Password  string

	// KeepAlive in seconds. Default is 60.
	KeepAlive uint16

	// ConnectTimeout for each connection attempt. Default is 5s.
	ConnectTimeout time.Duration

	// ReconnectDelay between attempts. Default is 3s.
	ReconnectDelay time.Duration
}

func (c *Config) setDefaults() {
	if c.KeepAlive == 0 {
		c.KeepAlive = 60
	}
	if c.ConnectTimeout == 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 3 * time.Second
	}
}

// Validate checks the broker URL.
func (c *Config) Validate() error {
	if c.BrokerURL == "" {
		return errors.New("broker url is required")
	}
	if _, err := url.Parse(c.BrokerURL); err != nil {
		return fmt.Errorf("parsing broker url: %w", err)
	}
	return nil
}

type pahoClient struct {
	cfg    Config
	logger *slog.Logger

	mu sync.Mutex
	cm *autopaho.ConnectionManager

	subscriptions sync.Map // topic filter -> subscription
}

type subscription struct {
	topic   string
	qos     int
	handler MessageHandler
}

// NewClient validates cfg and returns an unstarted client.
func NewClient(cfg Config) (Client, error) {
	cfg.setDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mqtt config: %w", err)
	}
	return &pahoClient{
		cfg:    cfg,
		logger: slog.With("component", "mqtt", "broker", cfg.BrokerURL),
	}, nil
}

func (c *pahoClient) Start(ctx context.Context) error {
	brokerURL, _ := url.Parse(c.cfg.BrokerURL) // already validated

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:                    []*url.URL{brokerURL},
		KeepAlive:                     c.cfg.KeepAlive,
		CleanStartOnInitialConnection: true,
		ReconnectBackoff:              autopaho.NewConstantBackoff(c.cfg.ReconnectDelay),
		ConnectTimeout:                c.cfg.ConnectTimeout,
		ConnectUsername:               c.cfg.Username,
		ConnectPassword:               []byte(c.cfg.Password),
		OnConnectionUp:                c.onConnectionUp,
		OnConnectError: func(err error) {
			c.logger.Warn("mqtt connection failed, retrying", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: c.cfg.ClientID,
			OnClientError: func(err error) {
				c.logger.Error("mqtt client error", "error", err)
			},
			OnServerDisconnect: func(d *paho.Disconnect) {
				reason := ""
				if d.Properties != nil {
					reason = d.Properties.ReasonString
				}
				c.logger.Warn("mqtt server requested disconnect", "reason", reason)
			},
			OnPublishReceived: []func(paho.PublishReceived) (bool, error){
				c.route,
			},
		},
	}

	c.logger.Info("starting mqtt client", "client_id", c.cfg.ClientID)
	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	c.mu.Lock()
	c.cm = cm
	c.mu.Unlock()
	return nil
}

func (c *pahoClient) manager() (*autopaho.ConnectionManager, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cm == nil {
		return nil, errors.New("mqtt client not started")
	}
	return c.cm, nil
}

func (c *pahoClient) Publish(ctx context.Context, topic string, qos int, retain bool, payload []byte) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     byte(qos),
		Retain:  retain,
		Payload: payload,
	}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

func (c *pahoClient) Subscribe(ctx context.Context, topic string, qos int, handler MessageHandler) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}

	// Stored first so onConnectionUp can restore it after a reconnect.
	c.subscriptions.Store(topic, subscription{topic: topic, qos: qos, handler: handler})

	if _, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{{Topic: topic, QoS: byte(qos)}},
	}); err != nil {
		return fmt.Errorf("mqtt subscribe %s: %w", topic, err)
	}
	c.logger.Info("subscribed", "topic", topic)
	return nil
}

func (c *pahoClient) AwaitConnection(ctx context.Context) error {
	cm, err := c.manager()
	if err != nil {
		return err
	}
	return cm.AwaitConnection(ctx)
}

func (c *pahoClient) Disconnect(ctx context.Context) {
	cm, err := c.manager()
	if err != nil {
		return
	}
	_ = cm.Disconnect(ctx)
	c.logger.Info("mqtt client disconnected")
}

func (c *pahoClient) onConnectionUp(cm *autopaho.ConnectionManager, _ *paho.Connack) {
	c.logger.Info("mqtt connection established")
	c.subscriptions.Range(func(_, value any) bool {
		sub := value.(subscription)
		if _, err := cm.Subscribe(context.Background(), &paho.Subscribe{
			Subscriptions: []paho.SubscribeOptions{{Topic: sub.topic, QoS: byte(sub.qos)}},
		}); err != nil {
			c.logger.Error("re-subscribe failed", "topic", sub.topic, "error", err)
		}
		return true
	})
}

// route delivers a received message to every matching subscription.
func (c *pahoClient) route(p paho.PublishReceived) (bool, error) {
	matched := false
	c.subscriptions.Range(func(_, value any) bool {
		sub := value.(subscription)
		if TopicMatches(sub.topic, p.Packet.Topic) {
			sub.handler(context.Background(), p.Packet.Topic, p.Packet.Payload)
			matched = true
		}
		return true
	})
	if !matched {
		c.logger.Debug("message on unhandled topic", "topic", p.Packet.Topic)
	}
	return true, nil
}

// TopicMatches reports whether topic matches filter, honouring the + and #
// wildcards and $share/<group>/ prefixes.
func TopicMatches(filter, topic string) bool {
	if strings.HasPrefix(filter, "$share/") {
		if parts := strings.SplitN(filter, "/", 3); len(parts) == 3 {
			filter = parts[2]
		}
	}
	if filter == topic {
		return true
	}
	if !strings.ContainsAny(filter, "+#") {
		return false
	}

	filterParts := strings.Split(filter, "/")
	topicParts := strings.Split(topic, "/")
	for i, part := range filterParts {
		if part == "#" {
			return true
		}
		if i >= len(topicParts) {
			return false
		}
		if part != "+" && part != topicParts[i] {
			return false
		}
	}
	return len(filterParts) == len(topicParts)
}
