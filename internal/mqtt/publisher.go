package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"edge-agent/internal/models"
)

// Publisher delivers uplink payloads and publishes status snapshots
type Publisher struct {
	client   mqtt.Client
	logger   *slog.Logger
	deviceID string

	// Input channel (read by publisher, written by the agent)
	StatusChan chan models.DeviceStatus

	uplinkTopic string // e.g., "edge/{device_id}/uplink"
	statusTopic string // e.g., "edge/{device_id}/status"

	// bounds Deliver when the caller's context has no deadline
	deliverTimeout time.Duration
}

const defaultDeliverTimeout = 5 * time.Second

// PublisherConfig holds configuration for MQTT publisher
type PublisherConfig struct {
	DeviceID    string
	UplinkTopic string
	StatusTopic string
	// DeliverTimeout caps an uplink publish when ctx has no deadline; 0 means 5s
	DeliverTimeout time.Duration
}

// NewPublisher creates a new MQTT publisher
func NewPublisher(
	client mqtt.Client,
	config PublisherConfig,
	statusChan chan models.DeviceStatus,
	logger *slog.Logger,
) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	timeout := config.DeliverTimeout
	if timeout <= 0 {
		timeout = defaultDeliverTimeout
	}
	return &Publisher{
		client:         client,
		logger:         logger.With("component", "mqtt-publisher"),
		deviceID:       config.DeviceID,
		StatusChan:     statusChan,
		uplinkTopic:    config.UplinkTopic,
		statusTopic:    config.StatusTopic,
		deliverTimeout: timeout,
	}
}

// Deliver publishes an encrypted payload to the uplink topic and waits for
// the broker to acknowledge it. While the broker is unreachable paho holds
// QoS 1 tokens open, so an unbounded ctx gets the default timeout.
func (p *Publisher) Deliver(ctx context.Context, payload []byte) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.deliverTimeout)
		defer cancel()
	}

	topic := FormatTopic(p.uplinkTopic, p.deviceID)
	token := p.client.Publish(topic, 1, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return fmt.Errorf("publish to %s: %w", topic, ctx.Err())
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish uplink payload: %w", err)
	}
	return nil
}

// Start publishes status snapshots from the channel
// Runs until context is cancelled or channel is closed
func (p *Publisher) Start(ctx context.Context) {
	p.logger.Info("Starting status publisher", "topic", FormatTopic(p.statusTopic, p.deviceID))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Context cancelled, shutting down")
			return

		case status, ok := <-p.StatusChan:
			if !ok {
				p.logger.Info("Status channel closed, shutting down")
				return
			}

			if err := p.publishStatus(status); err != nil {
				p.logger.Error("Error publishing status", "error", err)
			}
		}
	}
}

// publishStatus publishes a retained status snapshot
func (p *Publisher) publishStatus(status models.DeviceStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}

	topic := FormatTopic(p.statusTopic, status.DeviceID)
	token := p.client.Publish(topic, 1, true, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to publish status: %w", token.Error())
	}

	p.logger.Debug("Published status", "topic", topic, "cycles", status.Cycles)
	return nil
}

// FormatTopic replaces {device_id} placeholder with actual device ID
func FormatTopic(topicPattern, deviceID string) string {
	return strings.ReplaceAll(topicPattern, "{device_id}", deviceID)
}
