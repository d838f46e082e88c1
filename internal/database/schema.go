package database

// SQL schemas for all ClickHouse tables

const (
	// ClassificationResultsTableSQL creates the classification_results table
	ClassificationResultsTableSQL = `
		CREATE TABLE IF NOT EXISTS classification_results (
			timestamp DateTime64(3),
			device_id String,
			category LowCardinality(String),
			score Float64,
			confidence Float64,
			features Array(Float64)
		) ENGINE = MergeTree()
		ORDER BY (device_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// DeliveryEventsTableSQL creates the delivery_events table
	DeliveryEventsTableSQL = `
		CREATE TABLE IF NOT EXISTS delivery_events (
			timestamp DateTime64(3),
			device_id String,
			packet_id String,
			channel LowCardinality(String),
			outcome LowCardinality(String),
			retries UInt32,
			latency_ms Float64
		) ENGINE = MergeTree()
		ORDER BY (device_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
		TTL toDateTime(timestamp) + INTERVAL 30 DAY
	`
)

// AllTables returns all table creation SQL statements in dependency order
func AllTables() []string {
	return []string{
		ClassificationResultsTableSQL,
		DeliveryEventsTableSQL,
	}
}
