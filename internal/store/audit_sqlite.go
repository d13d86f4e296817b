// Package store provides storage backends for LeadPipe.
//
// This file implements the SQLite-backed audit log.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

// Opts holds configuration for durable store backends.
type Opts struct {
	DSN string
}

// Option configures a store backend.
type Option func(*Opts)

// WithDSN sets the database DSN (file path for SQLite, connection string for Postgres).
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

const sqliteAuditSchema = `
CREATE TABLE IF NOT EXISTS augmentation_audit (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_key TEXT NOT NULL,
	decision TEXT NOT NULL,
	detail TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_augmentation_audit_key ON augmentation_audit (conversation_key, id);
`

// Compile-time check that SQLiteStore implements AuditRepo.
var _ AuditRepo = (*SQLiteStore)(nil)

// SQLiteStore is the SQLite-backed audit log.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(sqliteAuditSchema); err != nil {
		slog.Error("Failed to apply SQLite audit schema", "error", err)
		return nil, fmt.Errorf("failed to apply audit schema: %w", err)
	}
	slog.Debug("SQLite audit schema applied")

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordDecision(conversationKey, decision, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO augmentation_audit (conversation_key, decision, detail, created_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)`,
		conversationKey, decision, detail,
	)
	if err != nil {
		return fmt.Errorf("record decision failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentDecisions(conversationKey string, limit int) ([]AuditRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_key, decision, detail, created_at FROM augmentation_audit WHERE conversation_key = ? ORDER BY id DESC LIMIT ?`,
		conversationKey, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query decisions failed: %w", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		rec, err := scanAuditRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
