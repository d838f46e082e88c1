package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"edge-agent/internal/metric"
	"edge-agent/internal/models"
)

// SensorSource produces one batch of readings per agent cycle. An empty
// batch is a valid "no data" outcome.
type SensorSource interface {
	Collect(ctx context.Context) (models.SensorBatch, error)
}

// SensorService buffers readings arriving from MQTT between agent cycles
type SensorService struct {
	deviceID  string
	maxBuffer int
	metrics   *metric.Metrics
	logger    *slog.Logger
	now       func() time.Time

	// Input channel from the MQTT subscriber
	ReadingChan chan models.SensorReading

	mu      sync.Mutex
	buffer  []models.SensorReading
	dropped int
}

// SensorServiceConfig holds configuration for sensor service
type SensorServiceConfig struct {
	DeviceID           string
	ReadingChannelSize int
	MaxBuffer          int // readings kept between collections; oldest dropped beyond this
}

// DefaultSensorServiceConfig returns default configuration
func DefaultSensorServiceConfig() SensorServiceConfig {
	return SensorServiceConfig{
		ReadingChannelSize: 100,
		MaxBuffer:          1000,
	}
}

// NewSensorService creates a new sensor service
func NewSensorService(config SensorServiceConfig, metrics *metric.Metrics, logger *slog.Logger) *SensorService {
	if logger == nil {
		logger = slog.Default()
	}
	return &SensorService{
		deviceID:    config.DeviceID,
		maxBuffer:   config.MaxBuffer,
		metrics:     metrics,
		logger:      logger.With("component", "sensor-service"),
		now:         time.Now,
		ReadingChan: make(chan models.SensorReading, config.ReadingChannelSize),
	}
}

// Start buffers readings from ReadingChan until ctx is cancelled or the
// channel is closed
func (s *SensorService) Start(ctx context.Context) {
	s.logger.Info("Starting")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Shutdown complete")
			return
		case reading, ok := <-s.ReadingChan:
			if !ok {
				s.logger.Info("Reading channel closed")
				return
			}
			s.add(reading)
		}
	}
}

func (s *SensorService) add(reading models.SensorReading) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.buffer = append(s.buffer, reading)
	if s.maxBuffer > 0 && len(s.buffer) > s.maxBuffer {
		over := len(s.buffer) - s.maxBuffer
		s.buffer = append(s.buffer[:0:0], s.buffer[over:]...)
		s.dropped += over
	}
	s.metrics.RecordReading(string(reading.Type))
}

// Collect returns every reading buffered since the last call
func (s *SensorService) Collect(_ context.Context) (models.SensorBatch, error) {
	s.mu.Lock()
	readings := s.buffer
	s.buffer = nil
	dropped := s.dropped
	s.dropped = 0
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("Sensor buffer overflowed, oldest readings dropped", "dropped", dropped)
	}

	return models.SensorBatch{
		Readings:    readings,
		CollectedAt: s.now(),
		DeviceID:    s.deviceID,
	}, nil
}
