package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mdobak/go-xerrors"

	errs "edge-agent/internal/errors"
	"edge-agent/internal/metric"
	"edge-agent/internal/models"
)

// Classifier turns a sensor batch into a classification
type Classifier interface {
	Process(batch models.SensorBatch) (models.ClassificationResult, error)
	Stats() models.EngineStats
}

// AgentConfig holds configuration for the agent cycle
type AgentConfig struct {
	DeviceID     string
	CyclePeriod  time.Duration
	DrainEvery   int // cycles between retry queue drains
	StatusEvery  int // cycles between status snapshots
	ErrorBackoff time.Duration
}

// DefaultAgentConfig returns default configuration
func DefaultAgentConfig() AgentConfig {
	return AgentConfig{
		CyclePeriod:  time.Second,
		DrainEvery:   5,
		StatusEvery:  10,
		ErrorBackoff: 5 * time.Second,
	}
}

// Agent runs the collect, classify, transmit cycle
type Agent struct {
	cfg        AgentConfig
	source     SensorSource
	classifier Classifier
	scheduler  *Scheduler
	statusChan chan<- models.DeviceStatus
	metrics    *metric.Metrics
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration)

	stopped atomic.Bool
	cycles  atomic.Int64
}

// NewAgent creates an agent. statusChan and metrics may be nil.
func NewAgent(
	cfg AgentConfig,
	source SensorSource,
	classifier Classifier,
	scheduler *Scheduler,
	statusChan chan<- models.DeviceStatus,
	metrics *metric.Metrics,
	logger *slog.Logger,
) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	return &Agent{
		cfg:        cfg,
		source:     source,
		classifier: classifier,
		scheduler:  scheduler,
		statusChan: statusChan,
		metrics:    metrics,
		logger:     logger.With("component", "agent"),
		sleep:      sleepContext,
	}
}

// Run executes cycles until Stop is called or ctx is cancelled. The stop
// flag is checked between cycles, so an in-flight cycle always completes.
func (a *Agent) Run(ctx context.Context) error {
	a.logger.Info("Starting cycle loop",
		"period", a.cfg.CyclePeriod,
		"drain_every", a.cfg.DrainEvery,
		"error_backoff", a.cfg.ErrorBackoff)

	for !a.stopped.Load() && ctx.Err() == nil {
		start := time.Now()
		err := a.safeCycle(ctx)
		elapsed := time.Since(start)
		a.metrics.RecordCycle(elapsed, err != nil)

		if err != nil {
			a.logger.ErrorContext(ctx, "Cycle failed, backing off",
				slog.Any("error", xerrors.New(err)),
				slog.Duration("backoff", a.cfg.ErrorBackoff))
			a.sleep(ctx, a.cfg.ErrorBackoff)
			continue
		}

		a.sleep(ctx, max(0, a.cfg.CyclePeriod-elapsed))
	}

	a.logger.Info("Cycle loop stopped", "cycles", a.cycles.Load())
	return nil
}

// Stop asks Run to return after the current cycle
func (a *Agent) Stop() {
	a.stopped.Store(true)
}

// safeCycle runs one cycle, converting a panic into an error
func (a *Agent) safeCycle(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panic: %v", r)
		}
	}()
	return a.RunCycle(ctx)
}

// RunCycle performs one collect, classify, transmit step, draining the retry
// queue and emitting a status snapshot when their cycle counts come up
func (a *Agent) RunCycle(ctx context.Context) error {
	batch, err := a.source.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect sensors: %w", err)
	}

	if batch.IsEmpty() {
		a.logger.Debug("No sensor data this cycle")
	} else if err := a.classifyAndTransmit(ctx, batch); err != nil {
		return err
	}

	n := a.cycles.Add(1)
	if a.cfg.DrainEvery > 0 && n%int64(a.cfg.DrainEvery) == 0 {
		a.scheduler.DrainQueue(ctx)
	}
	if a.statusChan != nil && a.cfg.StatusEvery > 0 && n%int64(a.cfg.StatusEvery) == 0 {
		a.publishStatus()
	}
	return nil
}

func (a *Agent) classifyAndTransmit(ctx context.Context, batch models.SensorBatch) error {
	result, err := a.classifier.Process(batch)
	if err != nil {
		return fmt.Errorf("classify batch: %w", err)
	}
	if !result.Valid() {
		a.logger.Warn("Inference produced no valid result", "readings", len(batch.Readings))
		return nil
	}

	delivered, err := a.scheduler.Transmit(ctx, result)
	switch {
	case errs.IsQueueFull(err):
		a.logger.Warn("Retry queue full, classification dropped", "category", result.Category.String())
	case err != nil:
		return fmt.Errorf("transmit result: %w", err)
	case delivered:
		a.logger.Info("Classification delivered",
			"category", result.Category.String(),
			"confidence", result.Confidence)
	default:
		a.logger.Info("Classification queued for retry", "category", result.Category.String())
	}
	return nil
}

// Status returns a snapshot of the agent's counters
func (a *Agent) Status() models.DeviceStatus {
	return models.DeviceStatus{
		DeviceID:  a.cfg.DeviceID,
		Timestamp: time.Now(),
		Policy:    a.scheduler.Policy().String(),
		Cycles:    int(a.cycles.Load()),
		Delivery:  a.scheduler.Stats(),
		Engine:    a.classifier.Stats(),
		Channels:  a.scheduler.Channels(),
	}
}

// publishStatus hands a snapshot to the publisher without blocking the cycle
func (a *Agent) publishStatus() {
	select {
	case a.statusChan <- a.Status():
	default:
		a.logger.Warn("Status channel full, skipping snapshot")
	}
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
