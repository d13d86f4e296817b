// Package store provides storage backends for LeadPipe.
//
// This file implements the Postgres-backed audit log.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "github.com/lib/pq"
)

const postgresAuditSchema = `
CREATE TABLE IF NOT EXISTS augmentation_audit (
	id BIGSERIAL PRIMARY KEY,
	conversation_key TEXT NOT NULL,
	decision TEXT NOT NULL,
	detail TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_augmentation_audit_key ON augmentation_audit (conversation_key, id);
`

// Compile-time check that PostgresStore implements AuditRepo.
var _ AuditRepo = (*PostgresStore)(nil)

// PostgresStore is the Postgres-backed audit log.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new Postgres store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	if cfg.DSN == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		slog.Error("Failed to open Postgres connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("Postgres ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresAuditSchema); err != nil {
		slog.Error("Failed to apply Postgres audit schema", "error", err)
		return nil, fmt.Errorf("failed to apply audit schema: %w", err)
	}
	slog.Debug("Postgres audit schema applied")

	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) RecordDecision(conversationKey, decision, detail string) error {
	_, err := s.db.Exec(
		`INSERT INTO augmentation_audit (conversation_key, decision, detail) VALUES ($1, $2, $3)`,
		conversationKey, decision, detail,
	)
	if err != nil {
		return fmt.Errorf("record decision failed: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecentDecisions(conversationKey string, limit int) ([]AuditRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_key, decision, detail, created_at FROM augmentation_audit WHERE conversation_key = $1 ORDER BY id DESC LIMIT $2`,
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
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
