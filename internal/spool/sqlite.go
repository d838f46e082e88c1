// Package spool persists undelivered packets across restarts in SQLite.
package spool

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"edge-agent/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS pending_packets (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    packet_id TEXT NOT NULL UNIQUE,
    device_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    payload BLOB NOT NULL,
    policy INTEGER NOT NULL,
    retry_count INTEGER NOT NULL
);`

// Store keeps the retry queue on disk while the agent is stopped
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

// Open opens (or creates) the spool database at path.
// Pass ":memory:" for an in-memory database.
func Open(path string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open spool: %w", err)
	}
	// a single connection keeps ":memory:" databases shared across calls
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping spool: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	return &Store{db: db, logger: logger.With("component", "spool")}, nil
}

// SavePending appends packets in queue order. A packet already spooled is
// replaced.
func (s *Store) SavePending(ctx context.Context, packets []models.TransmissionPacket) error {
	if len(packets) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin spool write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO pending_packets
		(packet_id, device_id, created_at, payload, policy, retry_count) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare spool insert: %w", err)
	}
	defer stmt.Close()

	for _, p := range packets {
		if _, err := stmt.ExecContext(ctx,
			p.PacketID, p.DeviceID, p.CreatedAt.UnixMilli(), p.EncryptedPayload, int(p.Policy), p.RetryCount,
		); err != nil {
			return fmt.Errorf("spool packet %s: %w", p.PacketID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit spool write: %w", err)
	}
	s.logger.Info("Spooled pending packets", "count", len(packets))
	return nil
}

// LoadPending returns every spooled packet in queue order and removes them
// from the spool in the same transaction
func (s *Store) LoadPending(ctx context.Context) ([]models.TransmissionPacket, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin spool read: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT packet_id, device_id, created_at, payload, policy, retry_count
		FROM pending_packets ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("query spool: %w", err)
	}

	var packets []models.TransmissionPacket
	for rows.Next() {
		var (
			p         models.TransmissionPacket
			createdAt int64
			policy    int
		)
		if err := rows.Scan(&p.PacketID, &p.DeviceID, &createdAt, &p.EncryptedPayload, &policy, &p.RetryCount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan spooled packet: %w", err)
		}
		p.CreatedAt = time.UnixMilli(createdAt)
		p.Policy = models.TransportPolicy(policy)
		p.Status = models.StatusPending
		packets = append(packets, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("read spool: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_packets`); err != nil {
		return nil, fmt.Errorf("clear spool: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit spool read: %w", err)
	}

	if len(packets) > 0 {
		s.logger.Info("Loaded spooled packets", "count", len(packets))
	}
	return packets, nil
}

// Count returns the number of spooled packets
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_packets`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count spool: %w", err)
	}
	return n, nil
}

// Close closes the underlying database connection
func (s *Store) Close() error {
	return s.db.Close()
}
