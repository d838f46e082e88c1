package services

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edge-agent/internal/crypto"
	errs "edge-agent/internal/errors"
	"edge-agent/internal/models"
	"edge-agent/internal/testutil"
	"edge-agent/internal/transport"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.UnixMilli(1700000000000)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memRecorder struct {
	mu      sync.Mutex
	results []models.ClassificationResult
	events  []models.DeliveryEvent
}

func (r *memRecorder) SaveClassification(_ context.Context, result models.ClassificationResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func (r *memRecorder) SaveDelivery(_ context.Context, event models.DeliveryEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *memRecorder) outcomes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Outcome
	}
	return out
}

type memStore struct {
	packets []models.TransmissionPacket
}

func (s *memStore) SavePending(_ context.Context, packets []models.TransmissionPacket) error {
	s.packets = append(s.packets, packets...)
	return nil
}

func (s *memStore) LoadPending(_ context.Context) ([]models.TransmissionPacket, error) {
	out := s.packets
	s.packets = nil
	return out, nil
}

type fixture struct {
	sched    *Scheduler
	short    *testutil.ScriptedSource
	local    *testutil.ScriptedSource
	enc      crypto.Encryptor
	clock    *fakeClock
	recorder *memRecorder
}

func newFixture(t *testing.T, cfg SchedulerConfig, store QueueStore) *fixture {
	t.Helper()

	f := &fixture{
		short:    testutil.NewScriptedSource(),
		local:    testutil.NewScriptedSource(),
		clock:    newFakeClock(),
		recorder: &memRecorder{},
	}
	enc, err := crypto.NewXORCipher([]byte("test-key"))
	require.NoError(t, err)
	f.enc = enc

	cfg.DeviceID = "dev-1"
	f.sched, err = NewScheduler(cfg, SchedulerDeps{
		Encryptor:    enc,
		ShortRange:   transport.NewShortRangeChannel(f.short, transport.Options{}),
		LocalNetwork: transport.NewLocalNetworkChannel(f.local, transport.Options{}),
		Recorder:     f.recorder,
		Store:        store,
		Clock:        f.clock.Now,
	})
	require.NoError(t, err)
	require.NoError(t, f.sched.Initialize(context.Background(), cfg.Policy))
	return f
}

func sampleResult() models.ClassificationResult {
	return models.ClassificationResult{
		Category:   models.CategoryFocused,
		Score:      0.42,
		Confidence: 0.42,
		Timestamp:  time.UnixMilli(1700000000123),
		DeviceID:   "dev-1",
	}
}

func TestTransmitBothPolicyUsesShortRangeFirst(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	f.short.Qualities(80).Draws(0.1)
	f.local.Qualities(60)

	ok, err := f.sched.Transmit(context.Background(), sampleResult())
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 0, f.local.IntCalls(), "local network must not be attempted")
	assert.Equal(t, 0, f.local.FloatCalls())
	assert.Empty(t, f.sched.Pending())

	stats := f.sched.Stats()
	assert.Equal(t, 1, stats.TotalSent)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, 0, stats.FailureCount)
	assert.Equal(t, 0, stats.QueueLength)
	assert.Equal(t, []string{models.OutcomeDelivered}, f.recorder.outcomes())
}

func TestTransmitFallsBackToLocalNetwork(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	f.short.Qualities(40)
	f.local.Qualities(85).Draws(0.2)

	ok, err := f.sched.Transmit(context.Background(), sampleResult())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, f.short.FloatCalls())
	assert.Equal(t, 0, f.sched.QueueLength())
}

func TestTransmitQueuesWhenAllChannelsFail(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	f.short.Qualities(80).Draws(0.95)
	f.local.Qualities(90).Draws(0.95)

	ok, err := f.sched.Transmit(context.Background(), sampleResult())
	require.NoError(t, err)
	assert.False(t, ok)

	pending := f.sched.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].RetryCount)
	assert.Equal(t, models.StatusPending, pending[0].Status)
	assert.Equal(t, models.PolicyBoth, pending[0].Policy)
	assert.Contains(t, pending[0].PacketID, "dev-1_")

	stats := f.sched.Stats()
	assert.Equal(t, 1, stats.TotalSent)
	assert.Equal(t, 0, stats.SuccessCount)
	assert.Equal(t, 0, stats.FailureCount)
	assert.Equal(t, 1, stats.QueueLength)
}

func TestPayloadIsEncryptedCanonicalRecord(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)

	_, err := f.sched.Transmit(context.Background(), sampleResult())
	require.NoError(t, err)

	pending := f.sched.Pending()
	require.Len(t, pending, 1)

	plain, err := f.enc.Decrypt(pending[0].EncryptedPayload)
	require.NoError(t, err)
	assert.JSONEq(t,
		`{"device_id":"dev-1","category":"focused","score":0.42,"confidence":0.42,"timestamp_ms":1700000000123}`,
		string(plain))

	var rec models.Record
	require.NoError(t, json.Unmarshal(plain, &rec))
	assert.Equal(t, "focused", rec.Category)
}

func TestDrainDropsPacketAfterMaxRetries(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.Policy = models.PolicyShortRangeOnly
	f := newFixture(t, cfg, nil)

	ok, err := f.sched.Transmit(context.Background(), sampleResult())
	require.NoError(t, err)
	require.False(t, ok)

	for pass := 1; pass < cfg.MaxRetries; pass++ {
		res := f.sched.DrainQueue(context.Background())
		assert.Equal(t, 1, res.Attempted)
		assert.Equal(t, 1, res.Remaining)
		pending := f.sched.Pending()
		require.Len(t, pending, 1)
		assert.Equal(t, pass, pending[0].RetryCount)
	}

	res := f.sched.DrainQueue(context.Background())
	assert.Equal(t, 1, res.Exhausted)
	assert.Equal(t, 0, res.Remaining)
	assert.Empty(t, f.sched.Pending())

	res = f.sched.DrainQueue(context.Background())
	assert.Equal(t, DrainResult{}, res)

	stats := f.sched.Stats()
	assert.Equal(t, 1, stats.TotalSent)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, cfg.MaxRetries, stats.RetryAttempts)
	assert.Equal(t, 0, f.local.IntCalls())
	assert.Contains(t, f.recorder.outcomes(), models.OutcomeExhausted)
}

func TestDrainDropsRestoredPacketAtLimitWithoutAttempt(t *testing.T) {
	store := &memStore{packets: []models.TransmissionPacket{{
		DeviceID:   "dev-1",
		PacketID:   "dev-1_old",
		CreatedAt:  time.UnixMilli(1699999990000),
		Policy:     models.PolicyShortRangeOnly,
		RetryCount: 3,
	}}}
	f := newFixture(t, DefaultSchedulerConfig(), store)
	require.Equal(t, 1, f.sched.QueueLength())

	res := f.sched.DrainQueue(context.Background())
	assert.Equal(t, 0, res.Attempted)
	assert.Equal(t, 1, res.Exhausted)
	assert.Equal(t, 0, f.short.IntCalls())
	assert.Equal(t, 1, f.sched.Stats().FailureCount)
}

func TestDrainRecordsLatencyFromCreation(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.Policy = models.PolicyShortRangeOnly
	f := newFixture(t, cfg, nil)

	ok, err := f.sched.Transmit(context.Background(), sampleResult())
	require.NoError(t, err)
	require.False(t, ok)

	f.clock.Advance(2 * time.Second)
	f.short.Qualities(80).Draws(0.1)

	res := f.sched.DrainQueue(context.Background())
	assert.Equal(t, 1, res.Delivered)
	assert.Empty(t, f.sched.Pending())

	stats := f.sched.Stats()
	assert.Equal(t, 1, stats.SuccessCount)
	assert.InDelta(t, 2000.0, stats.AverageLatencyMs, 1e-9)
	assert.Equal(t, f.clock.Now(), stats.LastTransmission)
}

func TestDrainPreservesOrder(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.Policy = models.PolicyShortRangeOnly
	f := newFixture(t, cfg, nil)

	for i := 0; i < 3; i++ {
		_, err := f.sched.Transmit(context.Background(), sampleResult())
		require.NoError(t, err)
	}
	before := f.sched.Pending()

	// second packet gets through, the others keep failing
	f.short.Qualities(30, 80).Draws(0.1)
	res := f.sched.DrainQueue(context.Background())
	assert.Equal(t, 1, res.Delivered)

	after := f.sched.Pending()
	require.Len(t, after, 2)
	assert.Equal(t, before[0].PacketID, after[0].PacketID)
	assert.Equal(t, before[2].PacketID, after[1].PacketID)
}

func TestQueueOverflowDropOldest(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.QueueMaxSize = 2
	f := newFixture(t, cfg, nil)

	var ids []string
	for i := 0; i < 3; i++ {
		ok, err := f.sched.Transmit(context.Background(), sampleResult())
		require.NoError(t, err)
		require.False(t, ok)
		pending := f.sched.Pending()
		ids = append(ids, pending[len(pending)-1].PacketID)
	}

	pending := f.sched.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, ids[1], pending[0].PacketID)
	assert.Equal(t, ids[2], pending[1].PacketID)

	stats := f.sched.Stats()
	assert.Equal(t, 3, stats.TotalSent)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, 1, stats.Dropped)
	assert.Contains(t, f.recorder.outcomes(), models.OutcomeEvicted)
}

func TestQueueOverflowRejectNew(t *testing.T) {
	cfg := DefaultSchedulerConfig()
	cfg.QueueMaxSize = 2
	cfg.Overflow = RejectNew
	f := newFixture(t, cfg, nil)

	for i := 0; i < 2; i++ {
		_, err := f.sched.Transmit(context.Background(), sampleResult())
		require.NoError(t, err)
	}
	ok, err := f.sched.Transmit(context.Background(), sampleResult())
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, errs.IsQueueFull(err))

	stats := f.sched.Stats()
	assert.Equal(t, 3, stats.TotalSent)
	assert.Equal(t, 1, stats.FailureCount)
	assert.Equal(t, 2, stats.QueueLength)
}

func TestTransmitRequiresInitialization(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	f.sched.Shutdown(context.Background())
	f.sched.Shutdown(context.Background())

	_, err := f.sched.Transmit(context.Background(), sampleResult())
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrNotReady)
	assert.Equal(t, 0, f.sched.Stats().TotalSent)
}

func TestTransmitRejectsInvalidResult(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)

	ok, err := f.sched.Transmit(context.Background(), models.InvalidResult("dev-1"))
	assert.False(t, ok)
	assert.True(t, errs.IsInvalid(err))
	assert.Equal(t, 0, f.sched.Stats().TotalSent)
	assert.Empty(t, f.recorder.results)
}

func TestInitializeIsIdempotent(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	require.NoError(t, f.sched.Initialize(context.Background(), models.PolicyLocalNetworkOnly))
	assert.Equal(t, models.PolicyLocalNetworkOnly, f.sched.Policy())

	f.short.Qualities(80)
	f.local.Qualities(90).Draws(0.1)
	ok, err := f.sched.Transmit(context.Background(), sampleResult())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 0, f.short.IntCalls())
}

func TestShutdownDisconnectsAndSpools(t *testing.T) {
	store := &memStore{}
	f := newFixture(t, DefaultSchedulerConfig(), store)
	f.short.Qualities(80).Draws(0.99)
	f.local.Qualities(60)

	_, err := f.sched.Transmit(context.Background(), sampleResult())
	require.NoError(t, err)
	require.True(t, f.sched.Channels()[0].Connected)

	f.sched.Shutdown(context.Background())
	for _, ch := range f.sched.Channels() {
		assert.False(t, ch.Connected)
		assert.Equal(t, 0, ch.Quality)
	}
	assert.Equal(t, 0, f.sched.QueueLength())
	require.Len(t, store.packets, 1)

	restarted := newFixture(t, DefaultSchedulerConfig(), store)
	pending := restarted.sched.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, models.StatusPending, pending[0].Status)
	assert.Equal(t, 1, restarted.sched.Stats().TotalSent)
}

func TestInitializeRecordsSpoolOverflow(t *testing.T) {
	tests := []struct {
		name     string
		overflow OverflowPolicy
		outcome  string
		pending  []string
	}{
		{"drop oldest", DropOldest, models.OutcomeEvicted, []string{"dev-1_b", "dev-1_c"}},
		{"reject new", RejectNew, models.OutcomeRejected, []string{"dev-1_a", "dev-1_b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &memStore{}
			for _, id := range []string{"dev-1_a", "dev-1_b", "dev-1_c"} {
				store.packets = append(store.packets, models.TransmissionPacket{
					DeviceID: "dev-1",
					PacketID: id,
					Policy:   models.PolicyBoth,
				})
			}

			cfg := DefaultSchedulerConfig()
			cfg.QueueMaxSize = 2
			cfg.Overflow = tt.overflow
			f := newFixture(t, cfg, store)

			assert.Equal(t, []string{tt.outcome}, f.recorder.outcomes())

			var ids []string
			for _, p := range f.sched.Pending() {
				ids = append(ids, p.PacketID)
			}
			assert.Equal(t, tt.pending, ids)

			stats := f.sched.Stats()
			assert.Equal(t, 3, stats.TotalSent)
			assert.Equal(t, 1, stats.FailureCount)
		})
	}
}

func TestClearQueue(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	for i := 0; i < 2; i++ {
		_, err := f.sched.Transmit(context.Background(), sampleResult())
		require.NoError(t, err)
	}
	assert.Equal(t, 2, f.sched.ClearQueue())
	assert.Equal(t, 0, f.sched.QueueLength())
	assert.Equal(t, 0, f.sched.Stats().FailureCount)
}

func TestNewSchedulerRequiresCollaborators(t *testing.T) {
	_, err := NewScheduler(DefaultSchedulerConfig(), SchedulerDeps{})
	assert.ErrorIs(t, err, errs.ErrInitialization)
}
