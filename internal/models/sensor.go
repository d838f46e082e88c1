package models

import "time"

// SensorType identifies the kind of sensor that produced a reading
type SensorType string

const (
	SensorMicrophone  SensorType = "microphone"
	SensorMotion      SensorType = "motion"
	SensorHeartRate   SensorType = "heart_rate"
	SensorTemperature SensorType = "temperature"
)

// SensorTypes lists the recognized sensor types in feature order
var SensorTypes = []SensorType{SensorMicrophone, SensorMotion, SensorHeartRate, SensorTemperature}

// ParseSensorType maps a raw type string to a recognized SensorType
func ParseSensorType(raw string) (SensorType, bool) {
	for _, t := range SensorTypes {
		if string(t) == raw {
			return t, true
		}
	}
	return "", false
}

// DefaultUnit returns the unit a reading of this type carries when none is given
func (t SensorType) DefaultUnit() string {
	switch t {
	case SensorMicrophone:
		return "amplitude"
	case SensorMotion:
		return "detection"
	case SensorHeartRate:
		return "bpm"
	case SensorTemperature:
		return "C"
	default:
		return ""
	}
}

// SensorReading represents a single sensor measurement
type SensorReading struct {
	Type       SensorType `json:"type"`
	SourceID   string     `json:"source_id"`
	Value      float64    `json:"value"`
	Unit       string     `json:"unit"` // amplitude, detection, bpm, C
	Timestamp  time.Time  `json:"timestamp"`
	Confidence float64    `json:"confidence"` // 0-1
}

// SensorBatch holds all readings gathered during one collection cycle.
// An empty batch is a valid "no data this cycle" outcome.
type SensorBatch struct {
	Readings    []SensorReading `json:"readings"`
	CollectedAt time.Time       `json:"collected_at"`
	DeviceID    string          `json:"device_id"`
}

// IsEmpty reports whether the batch carries no readings
func (b SensorBatch) IsEmpty() bool {
	return len(b.Readings) == 0
}

// ValuesOf returns the values of all readings of type t, in batch order
func (b SensorBatch) ValuesOf(t SensorType) []float64 {
	var values []float64
	for _, r := range b.Readings {
		if r.Type == t {
			values = append(values, r.Value)
		}
	}
	return values
}

// AudioPayload is the JSON body of an audio topic message. Data is base64 in
// JSON and holds 16-bit little-endian PCM.
type AudioPayload struct {
	Data       []byte  `json:"data"`
	SampleRate int     `json:"sample_rate"`
	Duration   float64 `json:"duration"`
}

// ReadingPayload is the JSON body of a scalar sensor topic message
type ReadingPayload struct {
	Value       float64  `json:"value"`
	Unit        string   `json:"unit,omitempty"`
	Confidence  *float64 `json:"confidence,omitempty"`
	TimestampMs int64    `json:"timestamp_ms,omitempty"`
}
