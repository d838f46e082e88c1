package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"edge-agent/internal/aggregator"
	"edge-agent/internal/crypto"
	"edge-agent/internal/models"
	"edge-agent/internal/services"
)

// Sensor sources
const (
	SensorSourceSimulated = "simulated"
	SensorSourceMQTT      = "mqtt"
)

// Short-range sinks
const (
	SinkNone = "none"
	SinkMQTT = "mqtt"
)

type Config struct {
	// Agent
	DeviceID          string
	CyclePeriod       time.Duration
	DrainEveryCycles  int
	StatusEveryCycles int
	ErrorBackoff      time.Duration
	RandomSeed        uint64

	// Transmission
	TransportPolicy string
	MaxRetries      int
	QueueMaxSize    int
	QueueOverflow   string

	// ML Model Configuration
	ModelPath      string
	ModelSeed      uint64
	FeatureScaling string

	// Encryption
	EncryptionScheme string
	EncryptionKey    string

	// Sensors
	SensorSource string

	// MQTT Configuration
	MQTTBroker       string
	MQTTClientID     string
	MQTTUsername     string
	MQTTPassword     string
	MQTTTopicSensors string
	MQTTTopicAudio   string
	MQTTTopicUplink  string
	MQTTTopicStatus  string

	// Sinks
	ShortRangeSink       string
	LocalNetworkEndpoint string
	TLSCertPath          string
	TLSKeyPath           string
	TLSCAPath            string

	// ClickHouse Configuration (empty address disables recording)
	ClickHouseAddr string
	ClickHouseDB   string
	ClickHouseUser string
	ClickHousePass string

	// Spool (empty path disables persistence)
	SpoolPath string

	// Observability
	MetricsAddr  string
	LogLevel     string
	LogFormat    string
	LogAddSource bool
}

func Load() *Config {
	// Load .env file if it exists
	_ = godotenv.Load()

	return &Config{
		DeviceID:          getEnv("DEVICE_ID", "edge-agent-001"),
		CyclePeriod:       getEnvDuration("CYCLE_PERIOD", time.Second),
		DrainEveryCycles:  getEnvInt("DRAIN_EVERY_CYCLES", 5),
		StatusEveryCycles: getEnvInt("STATUS_EVERY_CYCLES", 10),
		ErrorBackoff:      getEnvDuration("ERROR_BACKOFF", 5*time.Second),
		RandomSeed:        getEnvUint("RANDOM_SEED", uint64(time.Now().UnixNano())),

		TransportPolicy: getEnv("TRANSPORT_POLICY", "both"),
		MaxRetries:      getEnvInt("MAX_RETRIES", 3),
		QueueMaxSize:    getEnvInt("QUEUE_MAX_SIZE", 256),
		QueueOverflow:   getEnv("QUEUE_OVERFLOW", "drop-oldest"),

		ModelPath:      getEnv("MODEL_PATH", ""),
		ModelSeed:      getEnvUint("MODEL_SEED", 42),
		FeatureScaling: getEnv("FEATURE_SCALING", "clamp"),

		EncryptionScheme: getEnv("ENCRYPTION_SCHEME", crypto.SchemeXOR),
		EncryptionKey:    getEnv("ENCRYPTION_KEY", ""),

		SensorSource: getEnv("SENSOR_SOURCE", SensorSourceSimulated),

		MQTTBroker:       getEnv("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTClientID:     getEnv("MQTT_CLIENT_ID", "edge-agent"),
		MQTTUsername:     getEnv("MQTT_USERNAME", ""),
		MQTTPassword:     getEnv("MQTT_PASSWORD", ""),
		MQTTTopicSensors: getEnv("MQTT_TOPIC_SENSORS", "sensor/+/{type}"),
		MQTTTopicAudio:   getEnv("MQTT_TOPIC_AUDIO", "sensor/+/audio"),
		MQTTTopicUplink:  getEnv("MQTT_TOPIC_UPLINK", "edge/{device_id}/uplink"),
		MQTTTopicStatus:  getEnv("MQTT_TOPIC_STATUS", "edge/{device_id}/status"),

		ShortRangeSink:       getEnv("SHORT_RANGE_SINK", SinkNone),
		LocalNetworkEndpoint: getEnv("LOCAL_NETWORK_ENDPOINT", ""),
		TLSCertPath:          getEnv("TLS_CERT_PATH", ""),
		TLSKeyPath:           getEnv("TLS_KEY_PATH", ""),
		TLSCAPath:            getEnv("TLS_CA_PATH", ""),

		ClickHouseAddr: getEnv("CLICKHOUSE_ADDR", ""),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "edge"),
		ClickHouseUser: getEnv("CLICKHOUSE_USER", "default"),
		ClickHousePass: getEnv("CLICKHOUSE_PASS", ""),

		SpoolPath: getEnv("SPOOL_PATH", ""),

		MetricsAddr:  getEnv("METRICS_ADDR", ":9090"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		LogFormat:    getEnv("LOG_FORMAT", "text"),
		LogAddSource: getEnvBool("LOG_ADD_SOURCE", false),
	}
}

// Validate rejects values the agent cannot run with
func (c *Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.DeviceID) == "" {
		errs = append(errs, errors.New("DEVICE_ID must not be empty"))
	}
	if c.CyclePeriod <= 0 {
		errs = append(errs, fmt.Errorf("CYCLE_PERIOD must be positive, got %s", c.CyclePeriod))
	}
	if c.ErrorBackoff < 0 {
		errs = append(errs, fmt.Errorf("ERROR_BACKOFF must not be negative, got %s", c.ErrorBackoff))
	}
	if c.DrainEveryCycles < 0 {
		errs = append(errs, fmt.Errorf("DRAIN_EVERY_CYCLES must not be negative, got %d", c.DrainEveryCycles))
	}
	if c.MaxRetries < 1 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be at least 1, got %d", c.MaxRetries))
	}
	if c.QueueMaxSize < 1 {
		errs = append(errs, fmt.Errorf("QUEUE_MAX_SIZE must be at least 1, got %d", c.QueueMaxSize))
	}
	if _, err := c.Policy(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Overflow(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Scaling(); err != nil {
		errs = append(errs, err)
	}

	switch strings.ToLower(c.EncryptionScheme) {
	case crypto.SchemeXOR, "":
	case crypto.SchemeAESGCM, "aes-256-gcm":
	default:
		errs = append(errs, fmt.Errorf("unknown ENCRYPTION_SCHEME %q", c.EncryptionScheme))
	}
	if c.EncryptionKey == "" {
		errs = append(errs, errors.New("ENCRYPTION_KEY must not be empty"))
	}

	switch c.SensorSource {
	case SensorSourceSimulated, SensorSourceMQTT:
	default:
		errs = append(errs, fmt.Errorf("unknown SENSOR_SOURCE %q", c.SensorSource))
	}
	switch c.ShortRangeSink {
	case SinkNone, SinkMQTT:
	default:
		errs = append(errs, fmt.Errorf("unknown SHORT_RANGE_SINK %q", c.ShortRangeSink))
	}

	if c.TLSCertPath != "" || c.TLSKeyPath != "" || c.TLSCAPath != "" {
		if c.TLSCertPath == "" || c.TLSKeyPath == "" || c.TLSCAPath == "" {
			errs = append(errs, errors.New("TLS_CERT_PATH, TLS_KEY_PATH and TLS_CA_PATH must be set together"))
		}
	}

	return errors.Join(errs...)
}

// UsesMQTT reports whether any component needs a broker connection
func (c *Config) UsesMQTT() bool {
	return c.SensorSource == SensorSourceMQTT || c.ShortRangeSink == SinkMQTT
}

// Policy parses TRANSPORT_POLICY
func (c *Config) Policy() (models.TransportPolicy, error) {
	return models.ParseTransportPolicy(c.TransportPolicy)
}

// Overflow parses QUEUE_OVERFLOW
func (c *Config) Overflow() (services.OverflowPolicy, error) {
	return services.ParseOverflowPolicy(c.QueueOverflow)
}

// Scaling parses FEATURE_SCALING
func (c *Config) Scaling() (aggregator.ScalingMode, error) {
	return aggregator.ParseScalingMode(c.FeatureScaling)
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intValue, err := strconv.Atoi(value)
	if err != nil {
		slog.Warn("Failed to parse env as int, using default", "key", key, "error", err)
		return defaultValue
	}
	return intValue
}

func getEnvUint(key string, defaultValue uint64) uint64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	uintValue, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		slog.Warn("Failed to parse env as uint, using default", "key", key, "error", err)
		return defaultValue
	}
	return uintValue
}

func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		slog.Warn("Failed to parse env as bool, using default", "key", key, "error", err)
		return defaultValue
	}
	return boolValue
}

// getEnvDuration accepts Go durations ("1500ms") or a bare number of milliseconds
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	if ms, err := strconv.ParseInt(value, 10, 64); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Failed to parse env as duration, using default", "key", key, "error", err)
		return defaultValue
	}
	return d
}
