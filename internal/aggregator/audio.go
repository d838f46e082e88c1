package aggregator

import (
	"encoding/binary"
	"math"
)

// AudioConfig holds configuration for PCM audio processing
type AudioConfig struct {
	BitsPerSample  int     // only 16-bit PCM is supported
	ReferenceLevel float64 // full-scale sample value, 32768 for 16-bit
	MinimumRMS     float64 // silence floor used for the dB conversion
}

// DefaultAudioConfig returns the 16-bit little-endian PCM configuration
func DefaultAudioConfig() AudioConfig {
	return AudioConfig{
		BitsPerSample:  16,
		ReferenceLevel: 32768.0,
		MinimumRMS:     1.0,
	}
}

// AudioMetrics summarizes one PCM frame
type AudioMetrics struct {
	RMS         float64
	Amplitude   float64 // RMS / ReferenceLevel, in [0,1]
	VolumeDB    float64
	Peak        int
	IsClipping  bool
	IsSilent    bool
	SampleCount int
}

// AmplitudeFromPCM converts a 16-bit little-endian PCM frame into a normalized
// RMS amplitude in [0,1]. Empty or single-byte frames are silence.
func AmplitudeFromPCM(pcm []byte) float64 {
	return AnalyzeAudio(pcm).Amplitude
}

// AnalyzeAudio computes RMS, peak and volume for a 16-bit PCM frame.
// A trailing odd byte is ignored.
func AnalyzeAudio(pcm []byte) AudioMetrics {
	cfg := DefaultAudioConfig()
	m := AudioMetrics{SampleCount: len(pcm) / 2}

	if m.SampleCount == 0 {
		m.IsSilent = true
		m.VolumeDB = -80.0
		return m
	}

	const clippingThreshold = 32000
	var sumSquares float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int(int16(binary.LittleEndian.Uint16(pcm[i : i+2])))
		abs := sample
		if abs < 0 {
			abs = -abs
		}
		if abs > m.Peak {
			m.Peak = abs
		}
		if abs > clippingThreshold {
			m.IsClipping = true
		}
		sumSquares += float64(sample) * float64(sample)
	}

	m.RMS = math.Sqrt(sumSquares / float64(m.SampleCount))
	m.Amplitude = clamp01(m.RMS / cfg.ReferenceLevel)

	rms := m.RMS
	if rms < cfg.MinimumRMS {
		m.IsSilent = true
		rms = cfg.MinimumRMS
	}
	m.VolumeDB = decibels(rms, cfg.ReferenceLevel)
	return m
}

// decibels converts an RMS value to dBFS, bounded to [-80, 0]
func decibels(rms, reference float64) float64 {
	if rms <= 0 || reference <= 0 {
		return -60.0
	}
	db := 20.0 * math.Log10(rms/reference)
	return math.Max(-80.0, math.Min(0.0, db))
}
