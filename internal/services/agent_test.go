package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"edge-agent/internal/models"
)

type stubSource struct {
	mu      sync.Mutex
	batches []models.SensorBatch
	err     error
}

func (s *stubSource) Collect(_ context.Context) (models.SensorBatch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.SensorBatch{}, s.err
	}
	if len(s.batches) == 0 {
		return models.SensorBatch{}, nil
	}
	b := s.batches[0]
	s.batches = s.batches[1:]
	return b, nil
}

type stubClassifier struct {
	calls  int
	result models.ClassificationResult
	panic  bool
}

func (c *stubClassifier) Process(batch models.SensorBatch) (models.ClassificationResult, error) {
	c.calls++
	if c.panic {
		panic("model exploded")
	}
	r := c.result
	r.DeviceID = batch.DeviceID
	return r, nil
}

func (c *stubClassifier) Stats() models.EngineStats {
	return models.EngineStats{Loaded: true, InferenceCount: c.calls}
}

func oneReading() models.SensorBatch {
	return models.SensorBatch{
		DeviceID: "dev-1",
		Readings: []models.SensorReading{{Type: models.SensorHeartRate, Value: 72, Confidence: 0.85}},
	}
}

func validResult() models.ClassificationResult {
	return models.ClassificationResult{
		Category:   models.CategoryFocused,
		Score:      0.6,
		Confidence: 0.6,
		Timestamp:  time.UnixMilli(1700000000000),
		Features:   []float64{0.1},
	}
}

func newTestAgent(f *fixture, cfg AgentConfig, src SensorSource, cls Classifier, status chan models.DeviceStatus) *Agent {
	cfg.DeviceID = "dev-1"
	var ch chan<- models.DeviceStatus
	if status != nil {
		ch = status
	}
	return NewAgent(cfg, src, cls, f.sched, ch, nil, nil)
}

func TestRunCycleDeliversClassification(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	f.short.Qualities(80).Draws(0.1)

	cls := &stubClassifier{result: validResult()}
	a := newTestAgent(f, DefaultAgentConfig(), &stubSource{batches: []models.SensorBatch{oneReading()}}, cls, nil)

	require.NoError(t, a.RunCycle(context.Background()))

	assert.Equal(t, 1, cls.calls)
	stats := f.sched.Stats()
	assert.Equal(t, 1, stats.TotalSent)
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Len(t, f.recorder.results, 1)
}

func TestRunCycleSkipsEmptyBatch(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	cls := &stubClassifier{result: validResult()}
	a := newTestAgent(f, DefaultAgentConfig(), &stubSource{}, cls, nil)

	require.NoError(t, a.RunCycle(context.Background()))

	assert.Zero(t, cls.calls)
	assert.Zero(t, f.sched.Stats().TotalSent)
}

func TestRunCycleIgnoresInvalidResult(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	cls := &stubClassifier{result: models.InvalidResult("dev-1")}
	a := newTestAgent(f, DefaultAgentConfig(), &stubSource{batches: []models.SensorBatch{oneReading()}}, cls, nil)

	require.NoError(t, a.RunCycle(context.Background()))
	assert.Zero(t, f.sched.Stats().TotalSent)
}

func TestRunCycleReportsCollectError(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	a := newTestAgent(f, DefaultAgentConfig(), &stubSource{err: errors.New("bus fault")}, &stubClassifier{}, nil)

	err := a.RunCycle(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus fault")
}

func TestRunCycleDrainsQueuePeriodically(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	cfg := DefaultAgentConfig()
	cfg.DrainEvery = 2

	cls := &stubClassifier{result: validResult()}
	a := newTestAgent(f, cfg, &stubSource{batches: []models.SensorBatch{oneReading()}}, cls, nil)

	// both links come up below threshold, so the packet is queued
	require.NoError(t, a.RunCycle(context.Background()))
	require.Equal(t, 1, f.sched.QueueLength())

	f.short.Qualities(80).Draws(0.1)
	require.NoError(t, a.RunCycle(context.Background()))

	assert.Zero(t, f.sched.QueueLength())
	stats := f.sched.Stats()
	assert.Equal(t, 1, stats.SuccessCount)
	assert.Equal(t, 1, stats.RetryAttempts)
}

func TestRunCyclePublishesStatus(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	cfg := DefaultAgentConfig()
	cfg.StatusEvery = 1
	status := make(chan models.DeviceStatus, 1)

	a := newTestAgent(f, cfg, &stubSource{}, &stubClassifier{}, status)
	require.NoError(t, a.RunCycle(context.Background()))
	// channel is full now; the second snapshot is skipped rather than blocking
	require.NoError(t, a.RunCycle(context.Background()))

	got := <-status
	assert.Equal(t, "dev-1", got.DeviceID)
	assert.Equal(t, "both", got.Policy)
	assert.Equal(t, 1, got.Cycles)
	assert.True(t, got.Engine.Loaded)
	assert.Len(t, got.Channels, 2)
}

func TestRunBacksOffAfterPanic(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	cfg := DefaultAgentConfig()
	cfg.ErrorBackoff = 5 * time.Second

	cls := &stubClassifier{panic: true}
	a := newTestAgent(f, cfg, &stubSource{batches: []models.SensorBatch{oneReading()}}, cls, nil)

	var waits []time.Duration
	a.sleep = func(_ context.Context, d time.Duration) {
		waits = append(waits, d)
		a.Stop()
	}

	require.NoError(t, a.Run(context.Background()))
	assert.Equal(t, []time.Duration{5 * time.Second}, waits)
	assert.Equal(t, 1, cls.calls)
}

func TestRunPacesCyclesAndStops(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	cfg := DefaultAgentConfig()
	cfg.CyclePeriod = time.Second

	a := newTestAgent(f, cfg, &stubSource{}, &stubClassifier{}, nil)

	var waits []time.Duration
	a.sleep = func(_ context.Context, d time.Duration) {
		waits = append(waits, d)
		if len(waits) == 3 {
			a.Stop()
		}
	}

	require.NoError(t, a.Run(context.Background()))
	require.Len(t, waits, 3)
	for _, w := range waits {
		assert.LessOrEqual(t, w, time.Second)
		assert.Greater(t, w, 900*time.Millisecond)
	}
	assert.Equal(t, 3, a.Status().Cycles)
}

func TestRunReturnsOnContextCancel(t *testing.T) {
	f := newFixture(t, DefaultSchedulerConfig(), nil)
	cfg := DefaultAgentConfig()
	cfg.CyclePeriod = time.Hour

	a := newTestAgent(f, cfg, &stubSource{}, &stubClassifier{}, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
