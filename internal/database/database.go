// Package database is the SQLite persistence layer. It is the source of
// truth for vehicles and reservations and feeds the sync queue for the
// external schedule mirror.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver
	"github.com/rs/zerolog"

	"fleetbook/internal/models"
)

// DB wraps the sql connection and a small in-memory vehicle cache.
type DB struct {
	*sql.DB
	vehicleCache map[int64]models.Vehicle
	cacheTime    time.Time
	mu           sync.RWMutex
	logger       *zerolog.Logger
}

var (
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrNotFound               = errors.New("not found")
)

// NewDB opens the database, applies the schema and warms the vehicle cache.
func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL mode with a busy timeout keeps concurrent readers from failing
	// while a writer holds the lock.
	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	instance := &DB{
		DB:           db,
		vehicleCache: make(map[int64]models.Vehicle),
		logger:       logger,
	}

	if err := instance.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	if err := instance.LoadVehicles(context.Background()); err != nil {
		logger.Error().Err(err).Msg("Failed to load vehicles into cache")
		// Startup proceeds; the cache refreshes on first successful read.
	}

	logger.Info().Str("path", path).Msg("Database initialized")
	return instance, nil
}

func (db *DB) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS vehicles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			plate TEXT,
			seats INTEGER NOT NULL DEFAULT 5,
			sort_order INTEGER NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT 1,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		`CREATE TABLE IF NOT EXISTS reservations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			vehicle_id INTEGER NOT NULL,
			vehicle_name TEXT NOT NULL,
			requester_id INTEGER NOT NULL,
			requester_name TEXT NOT NULL,
			requester_department TEXT,
			start_at DATETIME NOT NULL,
			end_at DATETIME NOT NULL,
			purpose TEXT NOT NULL,
			destination TEXT NOT NULL,
			passenger_count INTEGER NOT NULL DEFAULT 1,
			notes TEXT,
			status TEXT NOT NULL DEFAULT 'pending',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			responded_at DATETIME,
			response_note TEXT,
			is_admin_direct BOOLEAN NOT NULL DEFAULT 0,
			version INTEGER NOT NULL DEFAULT 1,
			FOREIGN KEY(vehicle_id) REFERENCES vehicles(id)
		)`,

		`CREATE INDEX IF NOT EXISTS idx_vehicles_sort ON vehicles(sort_order, id)`,
		`CREATE INDEX IF NOT EXISTS idx_vehicles_active ON vehicles(is_active)`,

		// The conflict detector scans approved rows per vehicle.
		`CREATE INDEX IF NOT EXISTS idx_reservations_vehicle_status ON reservations(vehicle_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_requester ON reservations(requester_id)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_start ON reservations(start_at)`,
		`CREATE INDEX IF NOT EXISTS idx_reservations_end ON reservations(end_at)`,

		`CREATE TABLE IF NOT EXISTS sync_queue (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_type TEXT NOT NULL,
			reservation_id INTEGER NOT NULL,
			status TEXT DEFAULT 'pending',
			retry_count INTEGER DEFAULT 0,
			last_error TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			claimed_at DATETIME,
			processed_at DATETIME,
			next_retry_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_status ON sync_queue(status)`,
		`CREATE INDEX IF NOT EXISTS idx_sync_queue_next_retry ON sync_queue(next_retry_at)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}

	return db.ensureNewColumns()
}

// ensureNewColumns adds columns introduced after the initial schema. SQLite
// has no ADD COLUMN IF NOT EXISTS, so duplicate column errors are expected on
// an up-to-date database.
func (db *DB) ensureNewColumns() error {
	migrations := []string{
		`ALTER TABLE reservations ADD COLUMN is_admin_direct BOOLEAN NOT NULL DEFAULT 0`,
		`ALTER TABLE reservations ADD COLUMN version INTEGER NOT NULL DEFAULT 1`,
		`ALTER TABLE vehicles ADD COLUMN plate TEXT`,
		`ALTER TABLE sync_queue ADD COLUMN claimed_at DATETIME`,
	}

	for _, m := range migrations {
		_, err := db.Exec(m)
		if err != nil && !strings.Contains(strings.ToLower(err.Error()), "duplicate column") {
			if db.logger != nil {
				db.logger.Debug().Err(err).Str("migration", m).Msg("Migration skipped")
			}
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
