package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"edge-agent/internal/aggregator"
	"edge-agent/internal/models"
)

// Subscriber handles MQTT subscriptions and writes readings to a channel
type Subscriber struct {
	client mqtt.Client
	logger *slog.Logger

	// Output channel (written by subscriber, read by the sensor service)
	ReadingChan chan models.SensorReading

	sensorTopic string
	audioTopic  string
	sendTimeout time.Duration
	now         func() time.Time
}

// SubscriberConfig holds configuration for MQTT subscriber
type SubscriberConfig struct {
	SensorTopic string // e.g., "sensor/+/{type}", one subscription per sensor type
	AudioTopic  string // e.g., "sensor/+/audio"
}

// DefaultSubscriberConfig returns default topic patterns
func DefaultSubscriberConfig() SubscriberConfig {
	return SubscriberConfig{
		SensorTopic: "sensor/+/{type}",
		AudioTopic:  "sensor/+/audio",
	}
}

// NewSubscriber creates a new MQTT subscriber writing to readingChan
func NewSubscriber(
	client mqtt.Client,
	config SubscriberConfig,
	readingChan chan models.SensorReading,
	logger *slog.Logger,
) *Subscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &Subscriber{
		client:      client,
		logger:      logger.With("component", "mqtt-subscriber"),
		ReadingChan: readingChan,
		sensorTopic: config.SensorTopic,
		audioTopic:  config.AudioTopic,
		sendTimeout: time.Second,
		now:         time.Now,
	}
}

// SubscribeAll subscribes to every sensor type topic and the audio topic
func (s *Subscriber) SubscribeAll() error {
	if s.sensorTopic != "" {
		for _, t := range models.SensorTypes {
			topic := strings.ReplaceAll(s.sensorTopic, "{type}", string(t))
			if err := s.subscribeToTopic(topic, s.handleReading); err != nil {
				return fmt.Errorf("failed to subscribe to %s topic: %w", t, err)
			}
			s.logger.Info("Subscribed to sensor topic", "topic", topic)
		}
	}

	if s.audioTopic != "" {
		if err := s.subscribeToTopic(s.audioTopic, s.handleAudio); err != nil {
			return fmt.Errorf("failed to subscribe to audio topic: %w", err)
		}
		s.logger.Info("Subscribed to audio topic", "topic", s.audioTopic)
	}

	return nil
}

// subscribeToTopic is a helper function to subscribe to a topic with a handler
func (s *Subscriber) subscribeToTopic(topic string, handler mqtt.MessageHandler) error {
	token := s.client.Subscribe(topic, 1, handler)
	if token.Wait() && token.Error() != nil {
		return token.Error()
	}
	return nil
}

// handleReading processes a scalar sensor message
func (s *Subscriber) handleReading(_ mqtt.Client, msg mqtt.Message) {
	reading, err := ParseReading(msg.Topic(), msg.Payload(), s.now())
	if err != nil {
		s.logger.Warn("Dropping sensor message", "topic", msg.Topic(), "error", err)
		return
	}
	s.send(reading)
}

// handleAudio converts a PCM frame into a microphone amplitude reading
func (s *Subscriber) handleAudio(_ mqtt.Client, msg mqtt.Message) {
	reading, err := ParseAudio(msg.Topic(), msg.Payload(), s.now())
	if err != nil {
		s.logger.Warn("Dropping audio message", "topic", msg.Topic(), "error", err)
		return
	}
	s.send(reading)
}

// send writes to the channel, dropping the reading if it stays full
func (s *Subscriber) send(reading models.SensorReading) {
	select {
	case s.ReadingChan <- reading:
	case <-time.After(s.sendTimeout):
		s.logger.Warn("Reading channel full, dropping message",
			"source_id", reading.SourceID, "type", reading.Type)
	}
}

// ParseReading decodes a sensor topic message. The payload is either a JSON
// ReadingPayload or a bare number. Missing confidence defaults to 1 and a
// missing timestamp to now.
func ParseReading(topic string, payload []byte, now time.Time) (models.SensorReading, error) {
	deviceID, sensorType, err := splitTopic(topic)
	if err != nil {
		return models.SensorReading{}, err
	}
	st, ok := models.ParseSensorType(sensorType)
	if !ok {
		return models.SensorReading{}, fmt.Errorf("unknown sensor type %q", sensorType)
	}

	reading := models.SensorReading{
		Type:       st,
		SourceID:   deviceID,
		Unit:       st.DefaultUnit(),
		Timestamp:  now,
		Confidence: 1,
	}

	raw := strings.TrimSpace(string(payload))
	if strings.HasPrefix(raw, "{") {
		var p models.ReadingPayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return models.SensorReading{}, fmt.Errorf("failed to unmarshal reading: %w", err)
		}
		reading.Value = p.Value
		if p.Unit != "" {
			reading.Unit = p.Unit
		}
		if p.Confidence != nil {
			reading.Confidence = *p.Confidence
		}
		if p.TimestampMs > 0 {
			reading.Timestamp = time.UnixMilli(p.TimestampMs)
		}
	} else {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return models.SensorReading{}, fmt.Errorf("failed to parse value: %w", err)
		}
		reading.Value = value
	}

	if reading.Confidence < 0 || reading.Confidence > 1 {
		return models.SensorReading{}, fmt.Errorf("confidence %.2f out of range", reading.Confidence)
	}
	return reading, nil
}

// ParseAudio decodes an audio topic message into a microphone reading whose
// value is the frame's normalized RMS amplitude
func ParseAudio(topic string, payload []byte, now time.Time) (models.SensorReading, error) {
	deviceID, _, err := splitTopic(topic)
	if err != nil {
		return models.SensorReading{}, err
	}

	var p models.AudioPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return models.SensorReading{}, fmt.Errorf("failed to unmarshal audio data: %w", err)
	}
	if len(p.Data) < 2 {
		return models.SensorReading{}, fmt.Errorf("audio frame has no samples")
	}

	return models.SensorReading{
		Type:       models.SensorMicrophone,
		SourceID:   deviceID,
		Value:      aggregator.AmplitudeFromPCM(p.Data),
		Unit:       models.SensorMicrophone.DefaultUnit(),
		Timestamp:  now,
		Confidence: 1,
	}, nil
}

// splitTopic extracts device ID and the last segment from an MQTT topic
// Example: "sensor/sensor-001/heart_rate" -> "sensor-001", "heart_rate"
func splitTopic(topic string) (string, string, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 || parts[1] == "" {
		return "", "", fmt.Errorf("could not extract device ID from topic %q", topic)
	}
	return parts[1], parts[len(parts)-1], nil
}
