package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion version of the tables created by this package
const SchemaVersion = 0

// InMemory opens a database that lives as long as the store
const InMemory = ":memory:"

// SQLiteStore SQLite storage implementation
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database at dbPath, creating its tables on first use
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != InMemory {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// Every pooled connection to :memory: would see its own database
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}

	if err := store.initTables(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

// initTables checks the schema version, creating the tables when absent
func (s *SQLiteStore) initTables() error {
	version, err := s.schemaVersion()
	if err != nil {
		return err
	}
	if version != nil {
		if *version != SchemaVersion {
			return fmt.Errorf("%w: %d", ErrUnsupportedSchemaVersion, *version)
		}
		return nil
	}

	queries := []string{
		`CREATE TABLE schema (
			version INTEGER NOT NULL
		)`,
		`CREATE TABLE config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE queries (
			id TEXT PRIMARY KEY,
			query TEXT NOT NULL,
			tool TEXT,
			code TEXT,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX idx_queries_created_at ON queries(created_at)`,
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin schema transaction: %w", err)
	}
	defer tx.Rollback()

	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute SQL: %s, error: %w", query, err)
		}
	}
	if _, err := tx.Exec("INSERT INTO schema (version) VALUES (?)", SchemaVersion); err != nil {
		return fmt.Errorf("failed to record schema version: %w", err)
	}
	return tx.Commit()
}

// schemaVersion returns nil for a fresh database
func (s *SQLiteStore) schemaVersion() (*int, error) {
	var count int
	err := s.db.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema'",
	).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	var version int
	if err := s.db.QueryRow("SELECT version FROM schema").Scan(&version); err != nil {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	return &version, nil
}

// ConfigValue gets a config value by key
func (s *SQLiteStore) ConfigValue(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM config WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to get config value %s: %w", key, err)
	}
	return value, nil
}

// SetConfigValue sets a config value, replacing any previous one
func (s *SQLiteStore) SetConfigValue(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO config (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value",
		key, value,
	)
	if err != nil {
		return fmt.Errorf("failed to set config value %s: %w", key, err)
	}
	return nil
}

// SeedConfig sets the values whose keys are not set yet
func (s *SQLiteStore) SeedConfig(ctx context.Context, values map[string]string) error {
	for key, value := range values {
		if _, err := s.db.ExecContext(ctx,
			"INSERT OR IGNORE INTO config (key, value) VALUES (?, ?)",
			key, value,
		); err != nil {
			return fmt.Errorf("failed to seed config value %s: %w", key, err)
		}
	}
	return nil
}

// RecordQuery saves a query; an empty ID gets a new uuid
func (s *SQLiteStore) RecordQuery(ctx context.Context, rec *QueryRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO queries (id, query, tool, code, created_at) VALUES (?, ?, ?, ?, ?)",
		rec.ID, rec.Query, nullString(rec.Tool), nullString(rec.Code), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record query: %w", err)
	}
	return nil
}

// RecentQueries gets the latest queries, newest first
func (s *SQLiteStore) RecentQueries(ctx context.Context, limit int) ([]*QueryRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, query, tool, code, created_at
		 FROM queries
		 ORDER BY created_at DESC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get queries: %w", err)
	}
	defer rows.Close()

	var records []*QueryRecord
	for rows.Next() {
		var rec QueryRecord
		var tool, code sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Query, &tool, &code, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan query: %w", err)
		}
		rec.Tool = tool.String
		rec.Code = code.String
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
