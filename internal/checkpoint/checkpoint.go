// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package checkpoint persists change feed resume tokens in a local SQLite file
// so that a subscriber can continue where it stopped.
package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// Store keeps one token per (consumer, area).
type Store struct {
	db *sql.DB
}

// Open opens or creates the checkpoint database at path. ":memory:" is accepted.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writers.
	db.SetMaxOpenConns(1)
	if err := initializeDatabase(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func initializeDatabase(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS _docstore_checkpoint (
			consumer   TEXT    NOT NULL,
			area       TEXT    NOT NULL,
			token      INTEGER NOT NULL DEFAULT 0,
			updated_at TEXT    NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now')),
			PRIMARY KEY (consumer, area)
		)`)
	if err != nil {
		return fmt.Errorf("failed to create checkpoint table: %w", err)
	}
	return nil
}

// Load returns the saved token, 0 when none was saved.
func (s *Store) Load(ctx context.Context, consumer, area string) (int64, error) {
	var token int64
	err := s.db.QueryRowContext(ctx,
		`SELECT token FROM _docstore_checkpoint WHERE consumer = ? AND area = ?`,
		consumer, area).Scan(&token)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return token, nil
}

// Save records token. Tokens never move backwards: saving a lower token than
// the stored one is a no-op.
func (s *Store) Save(ctx context.Context, consumer, area string, token int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _docstore_checkpoint (consumer, area, token) VALUES (?, ?, ?)
		ON CONFLICT (consumer, area) DO UPDATE SET
			token = excluded.token,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
		WHERE excluded.token > _docstore_checkpoint.token`,
		consumer, area, token)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// Reset forgets the token of consumer for area.
func (s *Store) Reset(ctx context.Context, consumer, area string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM _docstore_checkpoint WHERE consumer = ? AND area = ?`, consumer, area); err != nil {
		return fmt.Errorf("failed to reset checkpoint: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
