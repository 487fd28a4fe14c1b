package database

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	_ "github.com/mattn/go-sqlite3"
)

var (
	// ErrSlotUnavailable means the caller lost the reservation race.
	ErrSlotUnavailable = errors.New("slot is not available")
	// ErrDuplicateTransaction means a session already exists for the
	// transaction reference.
	ErrDuplicateTransaction = errors.New("session already exists for transaction")
	// ErrNotFound is returned for unknown slots, intents and sessions.
	ErrNotFound = errors.New("record not found")
	// ErrConcurrentModification means a guarded update matched no rows
	// because another writer got there first or the row is terminal.
	ErrConcurrentModification = errors.New("record was modified concurrently")
)

type DB struct {
	*sql.DB
	logger *zerolog.Logger
}

func NewDB(path string, logger *zerolog.Logger) (*DB, error) {
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	logger.Info().Str("path", path).Msg("database initialized")
	return &DB{DB: db, logger: logger}, nil
}

func createTables(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS therapists (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            specialty TEXT,
            session_minutes INTEGER NOT NULL DEFAULT 60,
            rate_amount INTEGER NOT NULL,
            rate_currency TEXT NOT NULL,
            is_active BOOLEAN NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS slots (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            therapist_id TEXT NOT NULL,
            start_time DATETIME NOT NULL,
            end_time DATETIME NOT NULL,
            is_available BOOLEAN NOT NULL DEFAULT 1,
            version INTEGER NOT NULL DEFAULT 1,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            UNIQUE(therapist_id, start_time)
        )`,
		`CREATE TABLE IF NOT EXISTS payment_intents (
            id INTEGER PRIMARY KEY AUTOINCREMENT,
            transaction_ref TEXT UNIQUE NOT NULL,
            order_ref TEXT NOT NULL,
            client_id TEXT NOT NULL,
            slot_id INTEGER NOT NULL,
            amount INTEGER NOT NULL,
            currency TEXT NOT NULL,
            status TEXT NOT NULL DEFAULT 'initiated',
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,
		`CREATE TABLE IF NOT EXISTS sessions (
            id TEXT PRIMARY KEY,
            client_id TEXT NOT NULL,
            therapist_id TEXT NOT NULL,
            slot_id INTEGER NOT NULL,
            scheduled_time DATETIME NOT NULL,
            duration_minutes INTEGER NOT NULL,
            status TEXT NOT NULL DEFAULT 'scheduled',
            meeting_url TEXT,
            pay_amount INTEGER NOT NULL,
            pay_currency TEXT NOT NULL,
            pay_method TEXT,
            transaction_ref TEXT NOT NULL UNIQUE,
            cancelled_by TEXT,
            cancel_reason TEXT,
            cancelled_at DATETIME,
            created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
            updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
        )`,

		`CREATE INDEX IF NOT EXISTS idx_slots_therapist_start ON slots(therapist_id, start_time)`,
		`CREATE INDEX IF NOT EXISTS idx_slots_available ON slots(is_available)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_status ON payment_intents(status)`,
		`CREATE INDEX IF NOT EXISTS idx_intents_slot ON payment_intents(slot_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_client ON sessions(client_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_therapist ON sessions(therapist_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("error executing query %s: %w", query, err)
		}
	}
	return nil
}

func (db *DB) Close() error {
	return db.DB.Close()
}
