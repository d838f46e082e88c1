package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategoryLabels(t *testing.T) {
	tests := []struct {
		category Category
		label    string
	}{
		{CategoryCalm, "calm"},
		{CategoryExcited, "excited"},
		{CategoryStressed, "stressed"},
		{CategoryFocused, "focused"},
		{CategoryRelaxed, "relaxed"},
		{CategoryAnxious, "anxious"},
		{CategoryUnknown, "unknown"},
		{Category(42), "unknown"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			assert.Equal(t, tt.label, tt.category.String())
		})
	}
	assert.Equal(t, CategoryAnxious, ParseCategory("anxious"))
	assert.Equal(t, CategoryUnknown, ParseCategory("bored"))
}

func TestCategoryFromIndexFallsBackToUnknown(t *testing.T) {
	assert.Equal(t, CategoryCalm, CategoryFromIndex(0))
	assert.Equal(t, CategoryAnxious, CategoryFromIndex(ClassCount-1))
	assert.Equal(t, CategoryUnknown, CategoryFromIndex(ClassCount))
	assert.Equal(t, CategoryUnknown, CategoryFromIndex(-1))
}

func TestResultValidity(t *testing.T) {
	assert.False(t, InvalidResult("dev-1").Valid())
	assert.True(t, ClassificationResult{Confidence: 0.4}.Valid())
}

func TestRecordWireShape(t *testing.T) {
	ts := time.UnixMilli(1700000000123)
	rec := NewRecord(ClassificationResult{
		Category:   CategoryFocused,
		Score:      0.5,
		Confidence: 0.5,
		Timestamp:  ts,
		DeviceID:   "edge_001",
		Features:   []float64{0.1, 0.2},
	})

	raw, err := json.Marshal(rec)
	require.NoError(t, err)
	assert.JSONEq(t, `{"device_id":"edge_001","category":"focused","score":0.5,"confidence":0.5,"timestamp_ms":1700000000123}`, string(raw))
}

func TestDeliveryStatsRunningAverage(t *testing.T) {
	var s DeliveryStats
	now := time.Now()

	s.RecordSuccess(10, now)
	s.RecordSuccess(20, now)
	s.RecordSuccess(60, now)
	s.RecordFailure(now)

	assert.Equal(t, 3, s.SuccessCount)
	assert.Equal(t, 1, s.FailureCount)
	assert.InDelta(t, 30.0, s.AverageLatencyMs, 1e-9)
	assert.Equal(t, now, s.LastTransmission)
}

func TestParseTransportPolicy(t *testing.T) {
	tests := []struct {
		raw     string
		want    TransportPolicy
		wantErr bool
	}{
		{"short-range", PolicyShortRangeOnly, false},
		{"BLE", PolicyShortRangeOnly, false},
		{"local_network", PolicyLocalNetworkOnly, false},
		{"wifi", PolicyLocalNetworkOnly, false},
		{"both", PolicyBoth, false},
		{"", PolicyBoth, false},
		{"carrier-pigeon", PolicyBoth, true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseTransportPolicy(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSensorBatchHelpers(t *testing.T) {
	batch := SensorBatch{Readings: []SensorReading{
		{Type: SensorHeartRate, Value: 70},
		{Type: SensorMotion, Value: 1},
		{Type: SensorHeartRate, Value: 80},
	}}
	assert.False(t, batch.IsEmpty())
	assert.Equal(t, []float64{70, 80}, batch.ValuesOf(SensorHeartRate))
	assert.Nil(t, batch.ValuesOf(SensorTemperature))
	assert.True(t, SensorBatch{}.IsEmpty())

	st, ok := ParseSensorType("heart_rate")
	assert.True(t, ok)
	assert.Equal(t, SensorHeartRate, st)
	_, ok = ParseSensorType("humidity")
	assert.False(t, ok)
}
