// Package mqtt connects the agent to an MQTT broker. The Subscriber turns
// sensor topics into readings and the Publisher carries uplink payloads and
// status snapshots.
package mqtt

import (
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Client manages the MQTT connection (low-level connection management only)
// For subscribing and publishing, use Subscriber and Publisher respectively
type Client struct {
	client mqtt.Client
	config ClientConfig
	logger *slog.Logger
}

// ClientConfig holds MQTT client configuration
type ClientConfig struct {
	Broker         string
	ClientID       string
	Username       string
	Password       string
	ConnectTimeout time.Duration
	// StatusTopic, when set, receives a retained "offline" last-will message
	StatusTopic string
}

// NewClient creates a new MQTT client connection
func NewClient(config ClientConfig, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt")
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	opts.SetUsername(config.Username)
	opts.SetPassword(config.Password)
	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		logger.Debug("Unrouted message", "topic", msg.Topic())
	})
	opts.SetOnConnectHandler(func(mqtt.Client) {
		logger.Info("Connection established", "broker", config.Broker)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("Connection lost", "error", err)
	})
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectTimeout(config.ConnectTimeout)
	if config.StatusTopic != "" {
		opts.SetWill(config.StatusTopic, `{"state":"offline"}`, 1, true)
	}

	client := mqtt.NewClient(opts)

	token := client.Connect()
	if !token.WaitTimeout(config.ConnectTimeout) {
		return nil, fmt.Errorf("timed out connecting to MQTT broker %s", config.Broker)
	}
	if token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	logger.Info("Connected to broker", "broker", config.Broker, "client_id", config.ClientID)

	return &Client{
		client: client,
		config: config,
		logger: logger,
	}, nil
}

// GetNativeClient returns the underlying paho MQTT client
// This is used by Subscriber and Publisher
func (c *Client) GetNativeClient() mqtt.Client {
	return c.client
}

// IsConnected returns whether the client is currently connected
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close closes the MQTT client connection
func (c *Client) Close() {
	c.client.Disconnect(250)
	c.logger.Info("Disconnected")
}
