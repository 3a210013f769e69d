// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package docstore stores versioned documents in PostgreSQL areas with an
// ordered change log, point-in-time history and read-time schema migration.
package docstore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mobiletoly/go-docstore/bsondoc"
	"github.com/mobiletoly/go-docstore/document"
)

// Store is the entry point of the engine. It owns the per-area handles; the
// caller owns the pool.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	config *Config
	codec  *bsondoc.Codec

	mu     sync.RWMutex
	areas  map[string]*Area
	subs   map[*Subscription]struct{}
	closed bool
}

// New creates a store from an existing pool and creates the configured schema.
func New(pool *pgxpool.Pool, config *Config, logger *slog.Logger) (*Store, error) {
	config = config.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if err := validateSchemaName(config.Schema); err != nil {
		return nil, err
	}
	for name := range config.Areas {
		if err := validateAreaName(name); err != nil {
			return nil, err
		}
	}

	s := &Store{
		pool:   pool,
		logger: logger,
		config: config,
		codec:  bsondoc.NewCodec(config.Fields),
		areas:  make(map[string]*Area),
		subs:   make(map[*Subscription]struct{}),
	}

	ctx := context.Background()
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{config.Schema}.Sanitize())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize document store schema %s: %w", config.Schema, err)
	}
	logger.Info("Document store initialized", "schema", config.Schema, "app", config.AppName)
	return s, nil
}

// Area returns the handle for name, creating it on first use. Tables are
// created lazily on the first write.
func (s *Store) Area(name string) (*Area, error) {
	if err := validateAreaName(name); err != nil {
		return nil, err
	}

	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return nil, ErrClosed
	}
	a, ok := s.areas[name]
	s.mu.RUnlock()
	if ok {
		return a, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	if a, ok = s.areas[name]; ok {
		return a, nil
	}
	a = newArea(s, name, s.config.area(name))
	s.areas[name] = a
	s.logger.Debug("Opened area", "area", name, "history", a.cfg.History, "schema_version", a.cfg.SchemaVersion)
	return a, nil
}

// Close stops every subscription. It does NOT close the pool.
// It's safe to call multiple times.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	subs := make([]*Subscription, 0, len(s.subs))
	for sub := range s.subs {
		subs = append(subs, sub)
	}
	s.mu.Unlock()

	s.logger.Debug("Shutting down document store", "subscriptions", len(subs))
	for _, sub := range subs {
		sub.Stop()
	}
	return nil
}

// Pool returns the underlying database connection pool.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Fields returns the engine field names used to render documents.
func (s *Store) Fields() document.FieldNames {
	return s.config.Fields
}

// Codec returns the payload codec shared by all areas.
func (s *Store) Codec() *bsondoc.Codec {
	return s.codec
}

func (s *Store) checkClosed() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *Store) track(sub *Subscription) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.subs[sub] = struct{}{}
	return true
}

func (s *Store) untrack(sub *Subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, sub)
}
