package models

import "time"

// EngineStats reports inference performance counters
type EngineStats struct {
	Loaded           bool      `json:"loaded"`
	InferenceCount   int       `json:"inference_count"`
	AverageLatencyMs float64   `json:"average_latency_ms"`
	LastInference    time.Time `json:"last_inference"`
}

// DeviceStatus is the periodic status snapshot published by the agent
type DeviceStatus struct {
	DeviceID  string          `json:"device_id"`
	Timestamp time.Time       `json:"timestamp"`
	Policy    string          `json:"policy"`
	Cycles    int             `json:"cycles"`
	Delivery  DeliveryStats   `json:"delivery"`
	Engine    EngineStats     `json:"engine"`
	Channels  []ChannelStatus `json:"channels"`
}

// ChannelStatus reports the link state of one transport channel
type ChannelStatus struct {
	Name      string `json:"name"`
	Connected bool   `json:"connected"`
	Quality   int    `json:"quality"`
}
