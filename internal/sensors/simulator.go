// Package sensors provides a simulated sensor array for running the agent
// without an MQTT sensor feed.
package sensors

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"edge-agent/internal/metric"
	"edge-agent/internal/models"
)

const (
	motionSensitivity = 0.5

	heartRateMean  = 72.0
	heartRateStd   = 8.0
	heartRateFloor = 60
	heartRateCeil  = 100

	temperatureMean  = 22.0
	temperatureStd   = 2.0
	temperatureFloor = 18.0
	temperatureCeil  = 26.0
)

// Simulator emits one reading per sensor type on every Collect
type Simulator struct {
	deviceID string
	ids      map[models.SensorType]string
	metrics  *metric.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a simulator whose draws are fully determined by seed
func NewSimulator(deviceID string, seed uint64, metrics *metric.Metrics, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Simulator{
		deviceID: deviceID,
		ids: map[models.SensorType]string{
			models.SensorMicrophone:  deviceID + "-mic",
			models.SensorMotion:      deviceID + "-motion",
			models.SensorHeartRate:   deviceID + "-heart",
			models.SensorTemperature: deviceID + "-temp",
		},
		metrics: metrics,
		logger:  logger.With("component", "sensor-simulator"),
		now:     time.Now,
		rng:     rand.New(rand.NewPCG(seed, seed^0x5851f42d4c957f2d)),
	}
	s.logger.Info("Sensor array ready", "device_id", deviceID, "seed", seed)
	return s
}

// Collect draws a fresh reading from each simulated sensor
func (s *Simulator) Collect(ctx context.Context) (models.SensorBatch, error) {
	if err := ctx.Err(); err != nil {
		return models.SensorBatch{}, err
	}

	s.mu.Lock()
	readings := []models.SensorReading{
		s.microphone(),
		s.motion(),
		s.heartRate(),
		s.temperature(),
	}
	s.mu.Unlock()

	now := s.now()
	for i := range readings {
		readings[i].Timestamp = now
		readings[i].SourceID = s.ids[readings[i].Type]
		readings[i].Unit = readings[i].Type.DefaultUnit()
		s.metrics.RecordReading(string(readings[i].Type))
	}

	return models.SensorBatch{
		Readings:    readings,
		CollectedAt: now,
		DeviceID:    s.deviceID,
	}, nil
}

func (s *Simulator) microphone() models.SensorReading {
	return models.SensorReading{
		Type:       models.SensorMicrophone,
		Value:      s.rng.Float64(),
		Confidence: 0.95,
	}
}

func (s *Simulator) motion() models.SensorReading {
	if s.rng.Float64() > motionSensitivity {
		return models.SensorReading{Type: models.SensorMotion, Value: 1, Confidence: 0.9}
	}
	return models.SensorReading{Type: models.SensorMotion, Value: 0, Confidence: 0.95}
}

func (s *Simulator) heartRate() models.SensorReading {
	bpm := int(s.rng.NormFloat64()*heartRateStd + heartRateMean)
	bpm = max(heartRateFloor, min(heartRateCeil, bpm))
	return models.SensorReading{
		Type:       models.SensorHeartRate,
		Value:      float64(bpm),
		Confidence: 0.85,
	}
}

func (s *Simulator) temperature() models.SensorReading {
	c := s.rng.NormFloat64()*temperatureStd + temperatureMean
	c = math.Max(temperatureFloor, math.Min(temperatureCeil, c))
	return models.SensorReading{
		Type:       models.SensorTemperature,
		Value:      c,
		Confidence: 0.98,
	}
}
