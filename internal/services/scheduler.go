package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"edge-agent/internal/crypto"
	errs "edge-agent/internal/errors"
	"edge-agent/internal/metric"
	"edge-agent/internal/models"
	"edge-agent/internal/transport"
)

// Recorder persists classification results and delivery outcomes
type Recorder interface {
	SaveClassification(ctx context.Context, result models.ClassificationResult) error
	SaveDelivery(ctx context.Context, event models.DeliveryEvent) error
}

// QueueStore keeps undelivered packets across restarts
type QueueStore interface {
	SavePending(ctx context.Context, packets []models.TransmissionPacket) error
	// LoadPending returns and forgets the stored packets
	LoadPending(ctx context.Context) ([]models.TransmissionPacket, error)
}

// SchedulerConfig holds configuration for the transmission scheduler
type SchedulerConfig struct {
	DeviceID     string
	Policy       models.TransportPolicy
	MaxRetries   int
	QueueMaxSize int
	Overflow     OverflowPolicy
}

// DefaultSchedulerConfig returns default configuration
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Policy:       models.PolicyBoth,
		MaxRetries:   3,
		QueueMaxSize: 256,
		Overflow:     DropOldest,
	}
}

// SchedulerDeps are the scheduler's collaborators. Encryptor and both
// channels are required; the rest may be nil.
type SchedulerDeps struct {
	Encryptor    crypto.Encryptor
	ShortRange   transport.Channel
	LocalNetwork transport.Channel
	Recorder     Recorder
	Store        QueueStore
	Metrics      *metric.Metrics
	Logger       *slog.Logger
	Clock        func() time.Time
}

// DrainResult summarizes one DrainQueue pass
type DrainResult struct {
	Attempted int
	Delivered int
	Exhausted int
	Remaining int
}

// Scheduler turns classification results into encrypted packets, delivers
// them by transport policy and retries failures from a bounded queue.
// Transmit, DrainQueue and the accessors are serialized by one mutex.
type Scheduler struct {
	cfg      SchedulerConfig
	enc      crypto.Encryptor
	short    transport.Channel
	local    transport.Channel
	recorder Recorder
	store    QueueStore
	metrics  *metric.Metrics
	logger   *slog.Logger
	now      func() time.Time

	mu          sync.Mutex
	initialized bool
	policy      models.TransportPolicy
	queue       *retryQueue
	stats       models.DeliveryStats
}

// NewScheduler creates an uninitialized scheduler
func NewScheduler(cfg SchedulerConfig, deps SchedulerDeps) (*Scheduler, error) {
	if deps.Encryptor == nil {
		return nil, errs.WrapInit(nil, "Scheduler", "New", "encryptor required")
	}
	if deps.ShortRange == nil || deps.LocalNetwork == nil {
		return nil, errs.WrapInit(nil, "Scheduler", "New", "both transport channels required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultSchedulerConfig().MaxRetries
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &Scheduler{
		cfg:      cfg,
		enc:      deps.Encryptor,
		short:    deps.ShortRange,
		local:    deps.LocalNetwork,
		recorder: deps.Recorder,
		store:    deps.Store,
		metrics:  deps.Metrics,
		logger:   logger.With("component", "scheduler"),
		now:      clock,
		policy:   cfg.Policy,
		queue:    newRetryQueue(cfg.QueueMaxSize, cfg.Overflow),
	}, nil
}

// Initialize readies the scheduler for policy and restores spooled packets.
// Calling it while initialized only updates the policy.
func (s *Scheduler) Initialize(ctx context.Context, policy models.TransportPolicy) error {
	s.mu.Lock()
	events, err := s.initializeLocked(ctx, policy)
	s.mu.Unlock()

	s.persistEvents(ctx, events)
	return err
}

func (s *Scheduler) initializeLocked(ctx context.Context, policy models.TransportPolicy) ([]models.DeliveryEvent, error) {
	s.policy = policy
	if s.initialized {
		return nil, nil
	}
	if !s.enc.Ready() {
		return nil, errs.WrapInit(errs.ErrNotReady, "Scheduler", "Initialize", "encryptor not ready")
	}

	var events []models.DeliveryEvent
	if s.store != nil {
		restored, err := s.store.LoadPending(ctx)
		if err != nil {
			s.logger.Warn("Failed to restore spooled packets", "error", err)
		}
		refused := 0
		for i := range restored {
			p := restored[i]
			p.Status = models.StatusPending
			s.stats.TotalSent++
			evs, err := s.enqueueLocked(&p)
			events = append(events, evs...)
			if err != nil {
				refused++
			}
		}
		if refused > 0 {
			s.logger.Warn("Retry queue full, spooled packets refused",
				"refused", refused,
				"queue_max_size", s.cfg.QueueMaxSize)
		}
		if len(restored) > 0 {
			s.logger.Info("Restored spooled packets", "count", len(restored)-refused)
		}
	}

	s.initialized = true
	s.metrics.SetQueueLength(s.queue.len())
	s.logger.Info("Scheduler initialized",
		"policy", policy.String(),
		"max_retries", s.cfg.MaxRetries,
		"queue_max_size", s.cfg.QueueMaxSize,
		"overflow", s.cfg.Overflow.String())
	return events, nil
}

// Shutdown disconnects both channels and spools undelivered packets.
// Calling it while not initialized is a no-op.
func (s *Scheduler) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return
	}
	s.initialized = false

	s.short.Disconnect()
	s.local.Disconnect()

	pending := s.queue.snapshot()
	if s.store != nil && len(pending) > 0 {
		if err := s.store.SavePending(ctx, pending); err != nil {
			s.logger.Error("Failed to spool pending packets", "count", len(pending), "error", err)
		} else {
			s.logger.Info("Spooled pending packets", "count", len(pending))
		}
	}
	s.queue.clear()
	s.metrics.SetQueueLength(0)
	s.logger.Info("Scheduler shut down")
}

// Transmit encrypts result and tries to deliver it. It returns false when no
// channel delivered it; the packet is then queued for retry. A non-nil error
// means the packet could not be created or was refused by a full queue.
func (s *Scheduler) Transmit(ctx context.Context, result models.ClassificationResult) (bool, error) {
	s.mu.Lock()
	delivered, events, err := s.transmitLocked(ctx, result)
	s.mu.Unlock()

	if err == nil || errs.IsQueueFull(err) {
		s.persistClassification(ctx, result)
	}
	s.persistEvents(ctx, events)
	return delivered, err
}

func (s *Scheduler) transmitLocked(ctx context.Context, result models.ClassificationResult) (bool, []models.DeliveryEvent, error) {
	if !s.initialized {
		return false, nil, errs.Wrap(errs.ErrTransmission, errs.ErrNotReady, "Scheduler", "Transmit", "not initialized")
	}
	if !result.Valid() {
		return false, nil, errs.WrapInvalid(nil, "Scheduler", "Transmit", "result has zero confidence")
	}

	packet, err := s.createPacket(result)
	if err != nil {
		return false, nil, err
	}
	s.stats.TotalSent++
	s.metrics.RecordPacket()

	if channel, ok := s.attempt(ctx, packet); ok {
		event := s.deliveredLocked(packet, channel)
		return true, []models.DeliveryEvent{event}, nil
	}

	packet.RetryCount = 0
	events, err := s.enqueueLocked(packet)
	if err != nil {
		s.logger.Warn("Retry queue full, packet refused", "packet_id", packet.PacketID)
		return false, events, err
	}

	s.logger.Info("Delivery failed on all channels, queued for retry",
		"packet_id", packet.PacketID,
		"queue_length", s.queue.len())
	events = append(events, s.event(packet, "", models.OutcomeQueued, 0))
	return false, events, nil
}

// DrainQueue makes one ordered pass over the retry queue. Packets that
// reached MaxRetries are dropped and counted as failures; the rest are
// re-attempted once.
func (s *Scheduler) DrainQueue(ctx context.Context) DrainResult {
	s.mu.Lock()
	res, events := s.drainLocked(ctx)
	s.mu.Unlock()

	s.persistEvents(ctx, events)
	return res
}

func (s *Scheduler) drainLocked(ctx context.Context) (DrainResult, []models.DeliveryEvent) {
	var (
		res    DrainResult
		events []models.DeliveryEvent
	)

	pending := s.queue.take()
	kept := make([]*models.TransmissionPacket, 0, len(pending))

	for _, p := range pending {
		if ctx.Err() != nil {
			kept = append(kept, p)
			continue
		}
		if p.RetryCount >= s.cfg.MaxRetries {
			events = append(events, s.exhaustLocked(p))
			res.Exhausted++
			continue
		}

		p.RetryCount++
		s.stats.RetryAttempts++
		s.metrics.RecordRetry()
		res.Attempted++

		if channel, ok := s.attempt(ctx, p); ok {
			events = append(events, s.deliveredLocked(p, channel))
			res.Delivered++
			continue
		}

		if p.RetryCount >= s.cfg.MaxRetries {
			events = append(events, s.exhaustLocked(p))
			res.Exhausted++
			continue
		}

		s.logger.Debug("Retry failed",
			"packet_id", p.PacketID,
			"attempt", p.RetryCount,
			"max_retries", s.cfg.MaxRetries)
		events = append(events, s.event(p, "", models.OutcomeRetryFailed, 0))
		kept = append(kept, p)
	}

	s.queue.restore(kept)
	res.Remaining = s.queue.len()
	s.metrics.SetQueueLength(res.Remaining)

	if res.Attempted > 0 || res.Exhausted > 0 {
		s.logger.Info("Drained retry queue",
			"attempted", res.Attempted,
			"delivered", res.Delivered,
			"exhausted", res.Exhausted,
			"remaining", res.Remaining)
	}
	return res, events
}

func (s *Scheduler) createPacket(result models.ClassificationResult) (*models.TransmissionPacket, error) {
	if result.DeviceID == "" {
		result.DeviceID = s.cfg.DeviceID
	}
	record, err := json.Marshal(models.NewRecord(result))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal record: %w", err)
	}

	payload, err := s.enc.Encrypt(record)
	if err != nil {
		return nil, errs.WrapTransmission(err, "Scheduler", "Transmit", "encryption failed")
	}

	return &models.TransmissionPacket{
		DeviceID:         result.DeviceID,
		PacketID:         result.DeviceID + "_" + uuid.NewString(),
		CreatedAt:        s.now(),
		EncryptedPayload: payload,
		Policy:           s.policy,
		Status:           models.StatusPending,
	}, nil
}

// channelsFor returns the channels a policy may use, in attempt order
func (s *Scheduler) channelsFor(policy models.TransportPolicy) []transport.Channel {
	switch policy {
	case models.PolicyShortRangeOnly:
		return []transport.Channel{s.short}
	case models.PolicyLocalNetworkOnly:
		return []transport.Channel{s.local}
	default:
		return []transport.Channel{s.short, s.local}
	}
}

// attempt tries each eligible channel in order and returns the one that
// delivered. Connect and transmit failures fall through to the next channel.
func (s *Scheduler) attempt(ctx context.Context, p *models.TransmissionPacket) (string, bool) {
	for _, ch := range s.channelsFor(p.Policy) {
		if !ch.Connected() && !ch.Connect(ctx) {
			s.logger.Debug("Channel unavailable", "channel", ch.Name(), "packet_id", p.PacketID)
			continue
		}
		if err := ch.Transmit(ctx, p.EncryptedPayload); err != nil {
			s.logger.Debug("Transmit failed", "channel", ch.Name(), "packet_id", p.PacketID, "error", err)
			continue
		}
		return ch.Name(), true
	}
	return "", false
}

func (s *Scheduler) deliveredLocked(p *models.TransmissionPacket, channel string) models.DeliveryEvent {
	now := s.now()
	latency := now.Sub(p.CreatedAt)
	latencyMs := float64(latency) / float64(time.Millisecond)

	p.Status = models.StatusSuccess
	s.stats.RecordSuccess(latencyMs, now)
	s.metrics.RecordDelivery(channel, latency)

	s.logger.Debug("Packet delivered",
		"packet_id", p.PacketID,
		"channel", channel,
		"retries", p.RetryCount,
		"latency_ms", latencyMs)
	return s.event(p, channel, models.OutcomeDelivered, latencyMs)
}

func (s *Scheduler) exhaustLocked(p *models.TransmissionPacket) models.DeliveryEvent {
	p.Status = models.StatusFailed
	s.stats.RecordFailure(s.now())
	s.metrics.RecordFailure(models.OutcomeExhausted)

	err := errs.Wrap(errs.ErrRetryExhausted, nil, "Scheduler", "DrainQueue", p.PacketID)
	s.logger.Warn("Dropping packet", "packet_id", p.PacketID, "retries", p.RetryCount, "error", err)
	return s.event(p, "", models.OutcomeExhausted, 0)
}

// enqueueLocked queues p, accounting for an eviction or refusal
func (s *Scheduler) enqueueLocked(p *models.TransmissionPacket) ([]models.DeliveryEvent, error) {
	evicted, err := s.queue.push(p)
	defer s.metrics.SetQueueLength(s.queue.len())

	if err != nil {
		p.Status = models.StatusFailed
		s.stats.RecordFailure(s.now())
		s.metrics.RecordFailure(models.OutcomeRejected)
		return []models.DeliveryEvent{s.event(p, "", models.OutcomeRejected, 0)}, err
	}
	if evicted != nil {
		evicted.Status = models.StatusFailed
		s.stats.RecordFailure(s.now())
		s.stats.Dropped++
		s.metrics.RecordFailure(models.OutcomeEvicted)
		s.logger.Warn("Retry queue full, evicted oldest packet", "packet_id", evicted.PacketID)
		return []models.DeliveryEvent{s.event(evicted, "", models.OutcomeEvicted, 0)}, nil
	}
	return nil, nil
}

func (s *Scheduler) event(p *models.TransmissionPacket, channel, outcome string, latencyMs float64) models.DeliveryEvent {
	return models.DeliveryEvent{
		Timestamp: s.now(),
		DeviceID:  p.DeviceID,
		PacketID:  p.PacketID,
		Channel:   channel,
		Outcome:   outcome,
		Retries:   p.RetryCount,
		LatencyMs: latencyMs,
	}
}

func (s *Scheduler) persistClassification(ctx context.Context, result models.ClassificationResult) {
	if s.recorder == nil {
		return
	}
	if err := s.recorder.SaveClassification(ctx, result); err != nil {
		s.logger.Error("Failed to save classification", "error", err)
	}
}

func (s *Scheduler) persistEvents(ctx context.Context, events []models.DeliveryEvent) {
	if s.recorder == nil {
		return
	}
	for _, ev := range events {
		if err := s.recorder.SaveDelivery(ctx, ev); err != nil {
			s.logger.Error("Failed to save delivery event", "packet_id", ev.PacketID, "error", err)
			return
		}
	}
}

// Stats returns a copy of the delivery statistics
func (s *Scheduler) Stats() models.DeliveryStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := s.stats
	stats.QueueLength = s.queue.len()
	return stats
}

// QueueLength returns the number of packets awaiting retry
func (s *Scheduler) QueueLength() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.len()
}

// Pending returns copies of the queued packets in order
func (s *Scheduler) Pending() []models.TransmissionPacket {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queue.snapshot()
}

// ClearQueue discards every queued packet without counting failures and
// returns how many were discarded
func (s *Scheduler) ClearQueue() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := s.queue.clear()
	s.metrics.SetQueueLength(0)
	if n > 0 {
		s.logger.Info("Cleared retry queue", "packets", n)
	}
	return n
}

// Policy returns the transport policy applied to new packets
func (s *Scheduler) Policy() models.TransportPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SetPolicy changes the policy for packets created from now on
func (s *Scheduler) SetPolicy(policy models.TransportPolicy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.policy = policy
}

// Channels reports the link state of both channels
func (s *Scheduler) Channels() []models.ChannelStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.ChannelStatus, 0, 2)
	for _, ch := range []transport.Channel{s.short, s.local} {
		out = append(out, models.ChannelStatus{
			Name:      ch.Name(),
			Connected: ch.Connected(),
			Quality:   ch.Quality(),
		})
	}
	return out
}
