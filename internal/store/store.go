// SPDX-License-Identifier: MIT

// Package store is the Postgres-backed datastore for events, device
// status and detection thresholds.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// Store wraps the database connection and its operations.
type Store struct {
	DB *sql.DB
}

// New opens a connection to Postgres and verifies it.
func New(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Store{DB: db}, nil
}

// Init creates the required tables if they don't exist.
func (s *Store) Init() error {
	createTables := `
	CREATE TABLE IF NOT EXISTS events (
		id TEXT PRIMARY KEY,
		device_id TEXT NOT NULL,
		tenant_id TEXT NOT NULL,
		type TEXT NOT NULL,
		detections JSONB NOT NULL,
		severity TEXT NOT NULL,
		image_ref TEXT,
		occurred_at TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS events_device_idx ON events (device_id, occurred_at DESC);

	CREATE TABLE IF NOT EXISTS device_status (
		device_id TEXT PRIMARY KEY,
		online BOOLEAN NOT NULL,
		last_seen TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS device_thresholds (
		device_id TEXT NOT NULL,
		class TEXT NOT NULL,
		min_confidence DOUBLE PRECISION NOT NULL,
		enabled BOOLEAN NOT NULL,
		PRIMARY KEY (device_id, class)
	);
	`

	_, err := s.DB.Exec(createTables)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.DB.Close()
}
