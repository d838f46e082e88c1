package models

import (
	"fmt"
	"strings"
	"time"
)

// TransportPolicy selects which channels a packet may be delivered over
type TransportPolicy int

const (
	PolicyShortRangeOnly TransportPolicy = iota
	PolicyLocalNetworkOnly
	PolicyBoth
)

func (p TransportPolicy) String() string {
	switch p {
	case PolicyShortRangeOnly:
		return "short-range"
	case PolicyLocalNetworkOnly:
		return "local-network"
	case PolicyBoth:
		return "both"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParseTransportPolicy accepts the config spellings of a policy
func ParseTransportPolicy(raw string) (TransportPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "short-range", "short_range", "ble":
		return PolicyShortRangeOnly, nil
	case "local-network", "local_network", "wifi":
		return PolicyLocalNetworkOnly, nil
	case "both", "":
		return PolicyBoth, nil
	default:
		return PolicyBoth, fmt.Errorf("unknown transport policy %q", raw)
	}
}

// PacketStatus is the delivery state of a packet
type PacketStatus string

const (
	StatusPending PacketStatus = "pending"
	StatusSuccess PacketStatus = "success"
	StatusFailed  PacketStatus = "failed"
)

// TransmissionPacket is one encrypted classification on its way to a sink.
// It is retried in place (same PacketID) until delivered or dropped.
type TransmissionPacket struct {
	DeviceID         string          `json:"device_id"`
	PacketID         string          `json:"packet_id"`
	CreatedAt        time.Time       `json:"created_at"`
	EncryptedPayload []byte          `json:"encrypted_payload"`
	Policy           TransportPolicy `json:"policy"`
	RetryCount       int             `json:"retry_count"`
	Status           PacketStatus    `json:"status"`
}

// DeliveryStats aggregates delivery outcomes.
// TotalSent counts packets handed to the scheduler; SuccessCount and
// FailureCount count terminal outcomes, so TotalSent - SuccessCount -
// FailureCount is the number of packets still pending.
type DeliveryStats struct {
	TotalSent        int       `json:"total_sent"`
	SuccessCount     int       `json:"success_count"`
	FailureCount     int       `json:"failure_count"`
	AverageLatencyMs float64   `json:"average_latency_ms"`
	LastTransmission time.Time `json:"last_transmission"`

	RetryAttempts int `json:"retry_attempts"`
	Dropped       int `json:"dropped"` // evicted by queue overflow
	QueueLength   int `json:"queue_length"`
}

// RecordSuccess folds one successful delivery into the running average
func (s *DeliveryStats) RecordSuccess(latencyMs float64, at time.Time) {
	s.SuccessCount++
	n := float64(s.SuccessCount)
	s.AverageLatencyMs = (s.AverageLatencyMs*(n-1) + latencyMs) / n
	s.LastTransmission = at
}

// RecordFailure counts one permanent delivery failure
func (s *DeliveryStats) RecordFailure(at time.Time) {
	s.FailureCount++
	s.LastTransmission = at
}

// DeliveryEvent describes a terminal or intermediate delivery outcome for persistence
type DeliveryEvent struct {
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`
	PacketID  string    `json:"packet_id"`
	Channel   string    `json:"channel"` // empty when no channel delivered
	Outcome   string    `json:"outcome"` // delivered, queued, retry_failed, dropped
	Retries   int       `json:"retries"`
	LatencyMs float64   `json:"latency_ms"`
}

const (
	OutcomeDelivered   = "delivered"
	OutcomeQueued      = "queued"
	OutcomeRetryFailed = "retry_failed"
	OutcomeExhausted   = "exhausted"
	OutcomeEvicted     = "evicted"
	OutcomeRejected    = "rejected"
)
