package services

import (
	"fmt"
	"strings"

	errs "edge-agent/internal/errors"
	"edge-agent/internal/models"
)

// OverflowPolicy defines how the retry queue behaves when it reaches capacity
type OverflowPolicy int

const (
	// DropOldest evicts the oldest queued packet to make room
	DropOldest OverflowPolicy = iota
	// RejectNew refuses the new packet and surfaces ErrQueueFull
	RejectNew
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case RejectNew:
		return "reject-new"
	default:
		return fmt.Sprintf("overflow(%d)", int(p))
	}
}

// ParseOverflowPolicy accepts "drop-oldest" or "reject-new"
func ParseOverflowPolicy(raw string) (OverflowPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "drop-oldest", "drop_oldest":
		return DropOldest, nil
	case "reject-new", "reject_new":
		return RejectNew, nil
	default:
		return DropOldest, fmt.Errorf("unknown queue overflow policy %q", raw)
	}
}

// retryQueue is an insertion-ordered, bounded packet queue. It is not safe
// for concurrent use; the scheduler serializes access.
type retryQueue struct {
	packets  []*models.TransmissionPacket
	capacity int
	overflow OverflowPolicy
}

func newRetryQueue(capacity int, overflow OverflowPolicy) *retryQueue {
	return &retryQueue{capacity: capacity, overflow: overflow}
}

// push appends p. When full it either evicts and returns the oldest packet
// or refuses p with ErrQueueFull.
func (q *retryQueue) push(p *models.TransmissionPacket) (*models.TransmissionPacket, error) {
	if q.capacity <= 0 || len(q.packets) < q.capacity {
		q.packets = append(q.packets, p)
		return nil, nil
	}

	if q.overflow == RejectNew {
		return nil, errs.Wrap(errs.ErrQueueFull, nil, "RetryQueue", "Push",
			fmt.Sprintf("capacity %d reached", q.capacity))
	}

	evicted := q.packets[0]
	q.packets[0] = nil
	q.packets = append(q.packets[1:], p)
	return evicted, nil
}

// take removes and returns every queued packet in order
func (q *retryQueue) take() []*models.TransmissionPacket {
	out := q.packets
	q.packets = nil
	return out
}

// restore puts back the packets a drain pass kept, ahead of anything queued since
func (q *retryQueue) restore(kept []*models.TransmissionPacket) {
	q.packets = append(kept, q.packets...)
}

func (q *retryQueue) len() int {
	return len(q.packets)
}

// snapshot returns copies of the queued packets
func (q *retryQueue) snapshot() []models.TransmissionPacket {
	out := make([]models.TransmissionPacket, len(q.packets))
	for i, p := range q.packets {
		out[i] = *p
		out[i].EncryptedPayload = append([]byte(nil), p.EncryptedPayload...)
	}
	return out
}

func (q *retryQueue) clear() int {
	n := len(q.packets)
	q.packets = nil
	return n
}
