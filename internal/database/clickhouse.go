package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"

	"edge-agent/internal/models"
)

// execer is the subset of driver.Conn the recorder writes through
type execer interface {
	Exec(ctx context.Context, query string, args ...any) error
	Close() error
}

// ClickHouseConfig holds connection settings
type ClickHouseConfig struct {
	Addr     string
	Database string
	Username string
	Password string
}

// ClickHouseDB records classifications and delivery outcomes in ClickHouse
type ClickHouseDB struct {
	conn   execer
	logger *slog.Logger
}

// NewClickHouseDB creates a new ClickHouse database connection and ensures the schema exists
func NewClickHouseDB(ctx context.Context, cfg ClickHouseConfig, logger *slog.Logger) (*ClickHouseDB, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	db := newClickHouseDB(conn, logger)
	db.logger.Info("Connected to ClickHouse", "addr", cfg.Addr, "database", cfg.Database)

	if err := db.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return db, nil
}

func newClickHouseDB(conn execer, logger *slog.Logger) *ClickHouseDB {
	return &ClickHouseDB{conn: conn, logger: logger.With("component", "clickhouse")}
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	db.logger.Info("Database schema initialized")
	return nil
}

// SaveClassification saves one classification result
func (db *ClickHouseDB) SaveClassification(ctx context.Context, result models.ClassificationResult) error {
	query := `
		INSERT INTO classification_results (timestamp, device_id, category, score, confidence, features)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	features := result.Features
	if features == nil {
		features = []float64{}
	}

	err := db.conn.Exec(ctx, query,
		result.Timestamp,
		result.DeviceID,
		result.Category.String(),
		result.Score,
		result.Confidence,
		features,
	)
	if err != nil {
		return fmt.Errorf("failed to insert classification: %w", err)
	}

	return nil
}

// SaveDelivery saves one delivery outcome
func (db *ClickHouseDB) SaveDelivery(ctx context.Context, event models.DeliveryEvent) error {
	query := `
		INSERT INTO delivery_events (timestamp, device_id, packet_id, channel, outcome, retries, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		event.Timestamp,
		event.DeviceID,
		event.PacketID,
		event.Channel,
		event.Outcome,
		uint32(max(0, event.Retries)),
		event.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("failed to insert delivery event: %w", err)
	}

	return nil
}

// Close closes the ClickHouse connection
func (db *ClickHouseDB) Close() error {
	if db.conn != nil {
		if err := db.conn.Close(); err != nil {
			return fmt.Errorf("failed to close ClickHouse connection: %w", err)
		}
		db.logger.Info("ClickHouse connection closed")
	}
	return nil
}
