// Package sqlite implements the storage interface using SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	// Import SQLite driver
	_ "modernc.org/sqlite"
)

// SchemaVersion is stamped into metadata when a database is created and
// checked against the binary on open. Bump the minor on additive schema
// changes, the major on breaking ones.
const SchemaVersion = "1.2.0"

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db     *sql.DB
	dbPath string
	closed atomic.Bool // Tracks whether Close() has been called
}

// New creates a new SQLite storage backend
func New(path string) (*SQLiteStorage, error) {
	// Convert :memory: to shared memory URL for consistent behavior across connections
	// SQLite creates separate in-memory databases for each connection to ":memory:",
	// but "file::memory:?cache=shared" creates a shared in-memory database.
	dbPath := path
	if path == ":memory:" {
		dbPath = "file::memory:?cache=shared"
	}

	// Ensure directory exists (skip for memory databases)
	if !strings.Contains(dbPath, ":memory:") {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	// Open database with WAL mode for better concurrency and busy timeout for parallel writes
	// Use modernc.org/sqlite's _pragma syntax for all options to ensure consistent behavior
	// _pragma=journal_mode(WAL) enables Write-Ahead Logging for better concurrency
	// _pragma=foreign_keys(ON) enforces foreign key constraints
	// _pragma=busy_timeout(30000) means wait up to 30 seconds for locks instead of failing immediately
	// _time_format=sqlite enables automatic parsing of DATETIME columns to time.Time
	// Note: For shared memory URLs, additional params need to be added with & not ?
	connStr := dbPath
	if strings.Contains(dbPath, "?") {
		connStr += "&_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	} else {
		connStr += "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(30000)&_time_format=sqlite"
	}

	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Initialize schema
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	// Migrate existing databases to add the priority_explicit column if missing
	if err := migratePriorityExplicitColumn(db); err != nil {
		return nil, fmt.Errorf("failed to migrate priority_explicit column: %w", err)
	}

	// Migrate existing databases to add the resolution_date column if missing
	if err := migrateResolutionDateColumn(db); err != nil {
		return nil, fmt.Errorf("failed to migrate resolution_date column: %w", err)
	}

	// Migrate existing databases to add the tests identity index if missing
	if err := migrateTestIdentityIndex(db); err != nil {
		return nil, fmt.Errorf("failed to migrate test identity index: %w", err)
	}

	// Convert to absolute path for consistency
	absPath := path
	if !strings.Contains(path, ":memory:") {
		absPath, err = filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("failed to get absolute path: %w", err)
		}
	}

	s := &SQLiteStorage{
		db:     db,
		dbPath: absPath,
	}

	if err := s.stampMetadata(); err != nil {
		return nil, err
	}

	return s, nil
}

// stampMetadata records the schema version and mints a database id on first
// open. Existing values are left untouched so version drift stays visible
// to the compatibility check.
func (s *SQLiteStorage) stampMetadata() error {
	ctx := context.Background()

	ver, err := s.GetMetadata(ctx, "schema_version")
	if err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if ver == "" {
		if err := s.SetMetadata(ctx, "schema_version", SchemaVersion); err != nil {
			return fmt.Errorf("failed to stamp schema version: %w", err)
		}
	}

	id, err := s.GetMetadata(ctx, "database_id")
	if err != nil {
		return fmt.Errorf("failed to read database id: %w", err)
	}
	if id == "" {
		if err := s.SetMetadata(ctx, "database_id", uuid.New().String()); err != nil {
			return fmt.Errorf("failed to stamp database id: %w", err)
		}
	}

	return nil
}

// SetConfig sets a configuration value
func (s *SQLiteStorage) SetConfig(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetConfig gets a configuration value
func (s *SQLiteStorage) GetConfig(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// GetAllConfig gets all configuration key-value pairs
func (s *SQLiteStorage) GetAllConfig(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM config ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	config := make(map[string]string)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		config[key] = value
	}
	return config, rows.Err()
}

// DeleteConfig deletes a configuration value
func (s *SQLiteStorage) DeleteConfig(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM config WHERE key = ?`, key)
	return err
}

// SetMetadata sets a metadata value (for internal state like schema version)
func (s *SQLiteStorage) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO metadata (key, value) VALUES (?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value
	`, key, value)
	return err
}

// GetMetadata gets a metadata value (for internal state like schema version)
func (s *SQLiteStorage) GetMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	s.closed.Store(true)
	return s.db.Close()
}

// Path returns the absolute path to the database file
func (s *SQLiteStorage) Path() string {
	return s.dbPath
}

// IsClosed returns true if Close() has been called on this storage
func (s *SQLiteStorage) IsClosed() bool {
	return s.closed.Load()
}

// UnderlyingDB returns the underlying *sql.DB connection.
//
// This allows extensions to create their own tables in the same database
// while sharing the connection pool and pragmas. Do not Close() the returned
// handle and do not change pool settings or pragmas; use storage.Close() to
// shut down.
func (s *SQLiteStorage) UnderlyingDB() *sql.DB {
	return s.db
}
