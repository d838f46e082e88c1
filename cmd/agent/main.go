package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdobak/go-xerrors"

	"edge-agent/internal/crypto"
	"edge-agent/internal/database"
	"edge-agent/internal/metric"
	"edge-agent/internal/ml"
	"edge-agent/internal/models"
	"edge-agent/internal/mqtt"
	"edge-agent/internal/sensors"
	"edge-agent/internal/services"
	"edge-agent/internal/spool"
	"edge-agent/internal/transport"
	"edge-agent/pkg/config"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg := config.Load()
	logger := newLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.ErrorContext(ctx, "Agent exited with error", slog.Any("error", xerrors.New(err)))
		os.Exit(1)
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     cfg.SlogLevel(),
		AddSource: cfg.LogAddSource,
	}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	policy, _ := cfg.Policy()
	overflow, _ := cfg.Overflow()
	scaling, _ := cfg.Scaling()

	logger.Info("Starting edge agent",
		"device_id", cfg.DeviceID,
		"policy", policy.String(),
		"sensor_source", cfg.SensorSource,
		"encryption", cfg.EncryptionScheme)

	metrics := metric.New()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger); err != nil {
				logger.Error("Metrics server failed", slog.Any("error", xerrors.New(err)))
			}
		}()
	}

	// === Inference Engine ===
	engine := ml.NewEngine(ml.EngineConfig{
		DeviceID:  cfg.DeviceID,
		ModelPath: cfg.ModelPath,
		ModelSeed: cfg.ModelSeed,
		Scaling:   scaling,
	}, metrics, logger)
	if err := engine.Initialize(); err != nil {
		return err
	}
	defer engine.Shutdown()

	enc, err := crypto.New(cfg.EncryptionScheme, cfg.EncryptionKey, cfg.DeviceID)
	if err != nil {
		return fmt.Errorf("failed to initialize encryptor: %w", err)
	}

	// === MQTT ===
	var mqttClient *mqtt.Client
	if cfg.UsesMQTT() {
		logger.Info("Connecting to MQTT broker", "broker", cfg.MQTTBroker)
		mqttClient, err = mqtt.NewClient(mqtt.ClientConfig{
			Broker:      cfg.MQTTBroker,
			ClientID:    cfg.MQTTClientID,
			Username:    cfg.MQTTUsername,
			Password:    cfg.MQTTPassword,
			StatusTopic: mqtt.FormatTopic(cfg.MQTTTopicStatus, cfg.DeviceID),
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT client: %w", err)
		}
		defer mqttClient.Close()
	}

	statusChan := make(chan models.DeviceStatus, 10)
	var publisher *mqtt.Publisher
	if mqttClient != nil {
		publisher = mqtt.NewPublisher(mqttClient.GetNativeClient(), mqtt.PublisherConfig{
			DeviceID:    cfg.DeviceID,
			UplinkTopic: cfg.MQTTTopicUplink,
			StatusTopic: cfg.MQTTTopicStatus,
		}, statusChan, logger)
		go publisher.Start(ctx)
	}

	// === Transport Channels ===
	src := transport.NewSeededSource(cfg.RandomSeed)
	shortOpts := transport.Options{Metrics: metrics, Logger: logger}
	if cfg.ShortRangeSink == config.SinkMQTT {
		shortOpts.Sink = publisher
	}
	localOpts := transport.Options{Metrics: metrics, Logger: logger}
	if cfg.LocalNetworkEndpoint != "" {
		client, err := httpClient(cfg)
		if err != nil {
			return err
		}
		localOpts.Sink = transport.NewHTTPSink(cfg.LocalNetworkEndpoint, cfg.DeviceID, client)
	}

	// === Persistence ===
	deps := services.SchedulerDeps{
		Encryptor:    enc,
		ShortRange:   transport.NewShortRangeChannel(src, shortOpts),
		LocalNetwork: transport.NewLocalNetworkChannel(src, localOpts),
		Metrics:      metrics,
		Logger:       logger,
	}
	if cfg.ClickHouseAddr != "" {
		db, err := database.NewClickHouseDB(ctx, database.ClickHouseConfig{
			Addr:     cfg.ClickHouseAddr,
			Database: cfg.ClickHouseDB,
			Username: cfg.ClickHouseUser,
			Password: cfg.ClickHousePass,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize ClickHouse: %w", err)
		}
		defer db.Close()
		deps.Recorder = db
	}
	if cfg.SpoolPath != "" {
		store, err := spool.Open(cfg.SpoolPath, logger)
		if err != nil {
			return fmt.Errorf("failed to open spool: %w", err)
		}
		defer store.Close()
		deps.Store = store
	}

	// === Scheduler ===
	scheduler, err := services.NewScheduler(services.SchedulerConfig{
		DeviceID:     cfg.DeviceID,
		Policy:       policy,
		MaxRetries:   cfg.MaxRetries,
		QueueMaxSize: cfg.QueueMaxSize,
		Overflow:     overflow,
	}, deps)
	if err != nil {
		return err
	}
	if err := scheduler.Initialize(ctx, policy); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		scheduler.Shutdown(shutdownCtx)
	}()

	// === Sensors ===
	var source services.SensorSource
	switch cfg.SensorSource {
	case config.SensorSourceMQTT:
		sensorCfg := services.DefaultSensorServiceConfig()
		sensorCfg.DeviceID = cfg.DeviceID
		sensorService := services.NewSensorService(sensorCfg, metrics, logger)

		subscriber := mqtt.NewSubscriber(mqttClient.GetNativeClient(), mqtt.SubscriberConfig{
			SensorTopic: cfg.MQTTTopicSensors,
			AudioTopic:  cfg.MQTTTopicAudio,
		}, sensorService.ReadingChan, logger)
		if err := subscriber.SubscribeAll(); err != nil {
			return fmt.Errorf("failed to subscribe to MQTT topics: %w", err)
		}

		go sensorService.Start(ctx)
		source = sensorService
	default:
		source = sensors.NewSimulator(cfg.DeviceID, cfg.RandomSeed, metrics, logger)
	}

	// === Agent ===
	var status chan<- models.DeviceStatus
	if publisher != nil {
		status = statusChan
	}
	agent := services.NewAgent(services.AgentConfig{
		DeviceID:     cfg.DeviceID,
		CyclePeriod:  cfg.CyclePeriod,
		DrainEvery:   cfg.DrainEveryCycles,
		StatusEvery:  cfg.StatusEveryCycles,
		ErrorBackoff: cfg.ErrorBackoff,
	}, source, engine, scheduler, status, metrics, logger)

	logger.Info("Edge agent is running",
		"cycle_period", cfg.CyclePeriod,
		"max_retries", cfg.MaxRetries,
		"queue_max_size", cfg.QueueMaxSize,
		"metrics_addr", cfg.MetricsAddr)

	if err := agent.Run(ctx); err != nil {
		return err
	}

	final := agent.Status()
	logger.Info("Shutting down gracefully",
		"cycles", final.Cycles,
		"sent", final.Delivery.TotalSent,
		"delivered", final.Delivery.SuccessCount,
		"failed", final.Delivery.FailureCount,
		"queued", final.Delivery.QueueLength)
	return nil
}

// httpClient builds the local-network sink client, with mutual TLS when a
// client certificate is configured
func httpClient(cfg *config.Config) (*http.Client, error) {
	if cfg.TLSCertPath == "" {
		return nil, nil
	}
	client, err := transport.BuildMTLSClient(cfg.TLSCertPath, cfg.TLSKeyPath, cfg.TLSCAPath)
	if err != nil {
		return nil, fmt.Errorf("failed to build mTLS client: %w", err)
	}
	return client, nil
}
