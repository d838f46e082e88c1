package ml

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"edge-agent/internal/aggregator"
	errs "edge-agent/internal/errors"
	"edge-agent/internal/metric"
	"edge-agent/internal/models"
)

// EngineConfig configures an inference engine
type EngineConfig struct {
	DeviceID  string
	ModelPath string // empty selects a seeded random model
	ModelSeed uint64
	Scaling   aggregator.ScalingMode
}

// Engine is the quantized linear classifier. It is Unloaded until Initialize
// succeeds and Loaded until Shutdown. Weights never change while Loaded.
type Engine struct {
	cfg       EngineConfig
	extractor *aggregator.FeatureExtractor
	logger    *slog.Logger
	metrics   *metric.Metrics
	now       func() time.Time

	mu    sync.RWMutex
	model *Model
	stats models.EngineStats
}

// NewEngine creates an unloaded engine. metrics may be nil.
func NewEngine(cfg EngineConfig, metrics *metric.Metrics, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		cfg:       cfg,
		extractor: aggregator.NewFeatureExtractor(cfg.Scaling),
		logger:    logger.With("component", "inference"),
		metrics:   metrics,
		now:       time.Now,
	}
}

// Initialize loads the model. Calling it while loaded is a no-op.
func (e *Engine) Initialize() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model != nil {
		return nil
	}

	model, err := e.loadModel()
	if err != nil {
		return errs.WrapInit(err, "Engine", "Initialize", "model not loaded")
	}

	e.model = model
	e.stats.Loaded = true
	e.logger.Info("Model loaded",
		"version", model.Version,
		"input_size", model.InputSize,
		"output_size", model.OutputSize)
	return nil
}

// LoadModel installs an already-built model. It is a no-op while a model is loaded.
func (e *Engine) LoadModel(model *Model) error {
	if err := model.Validate(); err != nil {
		return errs.WrapInit(err, "Engine", "LoadModel", "invalid model")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.model != nil {
		return nil
	}
	e.model = model.clone()
	e.stats.Loaded = true
	return nil
}

func (e *Engine) loadModel() (*Model, error) {
	if e.cfg.ModelPath == "" {
		return RandomModel(e.cfg.ModelSeed), nil
	}
	model, err := LoadModel(e.cfg.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", e.cfg.ModelPath, err)
	}
	return model, nil
}

// Shutdown unloads the model. Calling it while unloaded is a no-op.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.model == nil {
		return
	}
	e.model = nil
	e.stats.Loaded = false
	e.logger.Info("Model unloaded")
}

// Loaded reports whether the engine can predict
func (e *Engine) Loaded() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model != nil
}

// Predict classifies one feature vector. A vector of the wrong length, or a
// call while unloaded, returns an invalid result and ErrInvalidInput.
func (e *Engine) Predict(features []float64) (models.ClassificationResult, error) {
	e.mu.RLock()
	model := e.model
	e.mu.RUnlock()

	if model == nil {
		return models.InvalidResult(e.cfg.DeviceID),
			errs.Wrap(errs.ErrInvalidInput, errs.ErrNotReady, "Engine", "Predict", "model not loaded")
	}
	if len(features) != model.InputSize {
		return models.InvalidResult(e.cfg.DeviceID),
			errs.WrapInvalid(nil, "Engine", "Predict",
				fmt.Sprintf("feature length %d, want %d", len(features), model.InputSize))
	}

	x := make([]float64, len(features))
	for i, f := range features {
		x[i] = Quantize(f)
	}

	probs := Softmax(dense(model.Weights, model.Biases, x))
	idx := Argmax(probs)

	return models.ClassificationResult{
		Category:   models.CategoryFromIndex(idx),
		Score:      probs[idx],
		Confidence: probs[idx],
		Timestamp:  e.now(),
		DeviceID:   e.cfg.DeviceID,
		Features:   append([]float64(nil), features...),
	}, nil
}

// Process extracts features from a batch and classifies them. An empty batch
// skips the model and returns an invalid result without error.
func (e *Engine) Process(batch models.SensorBatch) (models.ClassificationResult, error) {
	features := e.extractor.Extract(batch)
	if len(features) == 0 {
		e.logger.Debug("Empty sensor batch, skipping inference")
		return models.InvalidResult(e.cfg.DeviceID), nil
	}

	start := time.Now()
	result, err := e.Predict(features)
	if err != nil {
		return result, err
	}
	elapsed := time.Since(start)

	e.recordInference(elapsed, result.Timestamp)
	e.metrics.RecordInference(result.Category.String(), elapsed)

	e.logger.Debug("Classified batch",
		"category", result.Category.String(),
		"confidence", result.Confidence,
		"readings", len(batch.Readings))
	return result, nil
}

func (e *Engine) recordInference(elapsed time.Duration, at time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.stats.InferenceCount++
	n := float64(e.stats.InferenceCount)
	ms := float64(elapsed) / float64(time.Millisecond)
	e.stats.AverageLatencyMs = (e.stats.AverageLatencyMs*(n-1) + ms) / n
	e.stats.LastInference = at
}

// Stats returns a copy of the engine performance counters
func (e *Engine) Stats() models.EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}
