// Package transport models the device's wireless links. Each channel is a
// single session with a connect/transmit/disconnect lifecycle whose outcome
// depends on a link quality drawn from an injectable Source.
package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	errs "edge-agent/internal/errors"
	"edge-agent/internal/metric"
)

// Channel names
const (
	ShortRangeName   = "short-range"
	LocalNetworkName = "local-network"
)

// Channel is a lossy link to an upstream receiver
type Channel interface {
	Name() string
	// Connect returns false when the link cannot be established. That is an
	// outcome, not an error.
	Connect(ctx context.Context) bool
	// Transmit sends payload; it fails when disconnected or the link drops it
	Transmit(ctx context.Context, payload []byte) error
	// Disconnect is idempotent and resets the link quality
	Disconnect()
	Connected() bool
	Quality() int
}

// Sink receives payloads that made it across the simulated link
type Sink interface {
	Deliver(ctx context.Context, payload []byte) error
}

// Options holds the optional collaborators of a channel
type Options struct {
	Sink    Sink
	Metrics *metric.Metrics
	Logger  *slog.Logger
}

// linkProfile is the variant-specific behaviour of a channel
type linkProfile struct {
	name       string
	threshold  int // connect succeeds iff quality > threshold
	minQuality int
	maxQuality int
}

// link implements Channel for a given profile
type link struct {
	profile linkProfile
	src     Source
	sink    Sink
	metrics *metric.Metrics
	logger  *slog.Logger

	mu        sync.Mutex
	connected bool
	quality   int
}

func newLink(profile linkProfile, src Source, opts Options) *link {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &link{
		profile: profile,
		src:     src,
		sink:    opts.Sink,
		metrics: opts.Metrics,
		logger:  logger.With("component", "transport", "channel", profile.name),
	}
}

func (l *link) Name() string {
	return l.profile.name
}

// Threshold returns the minimum quality (exclusive) needed to connect
func (l *link) Threshold() int {
	return l.profile.threshold
}

func (l *link) Connect(ctx context.Context) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected {
		return true
	}
	if ctx.Err() != nil {
		return false
	}

	quality := l.src.IntRange(l.profile.minQuality, l.profile.maxQuality)
	if quality > l.profile.threshold {
		l.connected = true
		l.quality = quality
		l.logger.Debug("Connected", "quality", quality)
	} else {
		l.quality = 0
		l.logger.Debug("Connection failed", "quality", quality, "threshold", l.profile.threshold)
	}
	l.metrics.SetChannelQuality(l.profile.name, l.quality)
	return l.connected
}

func (l *link) Transmit(ctx context.Context, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.connected {
		return errs.Wrap(errs.ErrTransmission, errs.ErrNotConnected, l.profile.name, "Transmit", "")
	}

	draw := l.src.Float64()
	if draw >= float64(l.quality)/100.0 {
		return errs.WrapTransmission(nil, l.profile.name, "Transmit",
			fmt.Sprintf("link dropped %d bytes at quality %d", len(payload), l.quality))
	}

	if l.sink != nil {
		if err := l.sink.Deliver(ctx, payload); err != nil {
			return errs.WrapTransmission(err, l.profile.name, "Transmit", "sink rejected payload")
		}
	}

	l.logger.Debug("Transmitted", "bytes", len(payload))
	return nil
}

func (l *link) Disconnect() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.connected {
		l.logger.Debug("Disconnected")
	}
	l.connected = false
	l.quality = 0
	l.metrics.SetChannelQuality(l.profile.name, 0)
}

func (l *link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *link) Quality() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.quality
}
