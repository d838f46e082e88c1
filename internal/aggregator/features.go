package aggregator

import (
	"fmt"
	"strings"

	"edge-agent/internal/models"
)

// FeatureCount is the length of every non-empty feature vector
const FeatureCount = 11

// Defaults used when a sensor group has no readings in the batch
const (
	DefaultHeartRate   = 72.0
	DefaultTemperature = 22.0
)

// ScalingMode selects how raw group statistics are mapped into [0,1]
type ScalingMode int

const (
	// ScaleClamp clamps raw values into [0,1]. Heart rate and temperature
	// statistics saturate at 1.0 under this mode.
	ScaleClamp ScalingMode = iota
	// ScaleRescale maps each group through its physical range before clamping
	ScaleRescale
)

// ParseScalingMode accepts "clamp" or "rescale"
func ParseScalingMode(raw string) (ScalingMode, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "clamp":
		return ScaleClamp, nil
	case "rescale":
		return ScaleRescale, nil
	default:
		return ScaleClamp, fmt.Errorf("unknown feature scaling mode %q", raw)
	}
}

func (m ScalingMode) String() string {
	if m == ScaleRescale {
		return "rescale"
	}
	return "clamp"
}

// valueRange is the physical range of a sensor group used by ScaleRescale
type valueRange struct {
	Min, Max float64
}

var groupRanges = map[models.SensorType]valueRange{
	models.SensorMicrophone:  {0, 1},
	models.SensorMotion:      {0, 1},
	models.SensorHeartRate:   {40, 180},
	models.SensorTemperature: {10, 40},
}

// FeatureExtractor reduces a sensor batch to a fixed-length feature vector.
// Layout: microphone [mean, std, max], motion [mean, std],
// heart_rate [mean, std, min, max], temperature [mean, std].
type FeatureExtractor struct {
	mode ScalingMode
}

// NewFeatureExtractor creates an extractor with the given scaling mode
func NewFeatureExtractor(mode ScalingMode) *FeatureExtractor {
	return &FeatureExtractor{mode: mode}
}

// Mode returns the configured scaling mode
func (fe *FeatureExtractor) Mode() ScalingMode {
	return fe.mode
}

// Extract builds the feature vector for a batch. An empty batch yields an
// empty vector, which tells the caller to skip inference.
func (fe *FeatureExtractor) Extract(batch models.SensorBatch) []float64 {
	if batch.IsEmpty() {
		return []float64{}
	}

	features := make([]float64, 0, FeatureCount)

	audio := batch.ValuesOf(models.SensorMicrophone)
	if len(audio) > 0 {
		features = append(features, fe.scaleGroup(models.SensorMicrophone, mean(audio), sampleStdDev(audio), maxOf(audio))...)
	} else {
		features = append(features, 0, 0, 0)
	}

	motion := batch.ValuesOf(models.SensorMotion)
	if len(motion) > 0 {
		features = append(features, fe.scaleGroup(models.SensorMotion, mean(motion), sampleStdDev(motion))...)
	} else {
		features = append(features, 0, 0)
	}

	heart := batch.ValuesOf(models.SensorHeartRate)
	if len(heart) > 0 {
		features = append(features, fe.scaleGroup(models.SensorHeartRate, mean(heart), sampleStdDev(heart), minOf(heart), maxOf(heart))...)
	} else {
		features = append(features, fe.scaleGroup(models.SensorHeartRate,
			DefaultHeartRate, DefaultHeartRate, DefaultHeartRate, DefaultHeartRate)...)
	}

	temps := batch.ValuesOf(models.SensorTemperature)
	if len(temps) > 0 {
		features = append(features, fe.scaleGroup(models.SensorTemperature, mean(temps), sampleStdDev(temps))...)
	} else {
		features = append(features, fe.scaleGroup(models.SensorTemperature, DefaultTemperature, DefaultTemperature)...)
	}

	for i := range features {
		features[i] = clamp01(features[i])
	}
	return features
}

// scaleGroup applies ScaleRescale to a group's statistics. The second
// statistic of every group is a standard deviation, which is scaled by the
// range width only (no offset).
func (fe *FeatureExtractor) scaleGroup(t models.SensorType, values ...float64) []float64 {
	if fe.mode != ScaleRescale {
		return values
	}
	r := groupRanges[t]
	width := r.Max - r.Min
	out := make([]float64, len(values))
	for i, v := range values {
		if i == 1 {
			out[i] = v / width
			continue
		}
		out[i] = (v - r.Min) / width
	}
	return out
}
