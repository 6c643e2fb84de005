// Package sqlite persists request logs, cached briefings, runtime settings and
// notification rules in a single SQLite database.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/wxdecoder/wxdecoder/pkg/logger"
)

// timeFormat is sortable as text because every stored time is UTC
const timeFormat = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeFormat, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// DB owns the connection and the schema
type DB struct {
	db     *sql.DB
	logger *logger.Logger
}

// Open opens (creating if needed) the database at dbPath
func Open(dbPath string, log *logger.Logger) (*DB, error) {
	storageLogger := log.Named("sqlite")

	storageLogger.Info("Initializing SQLite storage",
		logger.String("path", dbPath))

	// Open the database
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Set connection pool limits
	db.SetMaxOpenConns(1) // SQLite only supports one writer at a time
	db.SetMaxIdleConns(1)

	// Set pragmas for better performance and concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set journal mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA synchronous=NORMAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set synchronous mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	// Create tables if they don't exist
	if err := initDatabase(db, storageLogger); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db: db, logger: storageLogger}, nil
}

// Close closes the database connection
func (d *DB) Close() error {
	if d.db != nil {
		return d.db.Close()
	}
	return nil
}

// initDatabase initializes the database schema
func initDatabase(db *sql.DB, log *logger.Logger) error {
	log.Info("Initializing database schema")

	statements := []struct {
		what string
		sql  string
	}{
		{"logs table", `
			CREATE TABLE IF NOT EXISTS logs (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				request_id TEXT NOT NULL,
				timestamp TEXT NOT NULL,
				client_id TEXT,
				ip_address TEXT,
				input_icao TEXT,
				resolved_icao TEXT,
				plane_profile TEXT,
				duration_seconds REAL,
				status TEXT NOT NULL,
				error_message TEXT,
				model_used TEXT,
				tokens_used INTEGER DEFAULT 0,
				weather_icao TEXT,
				expiration_timestamp TEXT,
				duration_wx REAL,
				duration_notams REAL,
				duration_alt REAL,
				duration_ai REAL
			)`},
		{"flight_cache table", `
			CREATE TABLE IF NOT EXISTS flight_cache (
				key TEXT PRIMARY KEY,
				icao TEXT,
				category TEXT,
				timestamp TEXT NOT NULL,
				expires_at TEXT,
				data TEXT NOT NULL
			)`},
		{"system_settings table", `
			CREATE TABLE IF NOT EXISTS system_settings (
				key TEXT PRIMARY KEY,
				value TEXT,
				description TEXT
			)`},
		{"notification_rules table", `
			CREATE TABLE IF NOT EXISTS notification_rules (
				event_type TEXT PRIMARY KEY,
				channels TEXT NOT NULL DEFAULT '[]',
				enabled INTEGER NOT NULL DEFAULT 1
			)`},
		{"logs timestamp index", `CREATE INDEX IF NOT EXISTS idx_logs_timestamp ON logs(timestamp)`},
		{"logs client_id index", `CREATE INDEX IF NOT EXISTS idx_logs_client_id ON logs(client_id)`},
		{"logs input_icao index", `CREATE INDEX IF NOT EXISTS idx_logs_input_icao ON logs(input_icao)`},
		{"flight_cache expires_at index", `CREATE INDEX IF NOT EXISTS idx_flight_cache_expires ON flight_cache(expires_at)`},
	}

	for _, st := range statements {
		if _, err := db.Exec(st.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", st.what, err)
		}
	}
	return nil
}
