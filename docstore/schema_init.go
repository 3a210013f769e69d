// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	seedSuffix      = ".seed"
	changelogSuffix = ".changelog"
	historySuffix   = ".history"
)

// tableSet holds the sanitized, schema-qualified names of one area's tables.
type tableSet struct {
	main      string
	seed      string
	changelog string
	history   string

	// key prefixes index and constraint names, which share the schema namespace.
	key string
}

func newTableSet(schema, area string) tableSet {
	id := areaID(schema, area)
	return tableSet{
		main:      pgx.Identifier{schema, area}.Sanitize(),
		seed:      pgx.Identifier{schema, area + seedSuffix}.Sanitize(),
		changelog: pgx.Identifier{schema, area + changelogSuffix}.Sanitize(),
		history:   pgx.Identifier{schema, area + historySuffix}.Sanitize(),
		key:       "ds_" + strings.ReplaceAll(id.String(), "-", "")[:16],
	}
}

// areaID derives a stable identity for (schema, area). It names the notify
// channel and keys the change log advisory lock.
func areaID(schema, area string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(schema+"."+area))
}

func advisoryKey(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]))
}

func notifyChannel(id uuid.UUID) string {
	return "docstore_" + strings.ReplaceAll(id.String(), "-", "")
}

func (t tableSet) ident(suffix string) string {
	return pgx.Identifier{t.key + "_" + suffix}.Sanitize()
}

func (t tableSet) ddl(schema string) []string {
	return []string{
		/*language=postgresql*/ `CREATE SCHEMA IF NOT EXISTS ` + pgx.Identifier{schema}.Sanitize(),

		// 1) Current documents
		/*language=postgresql*/ fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id           UUID        PRIMARY KEY,
			content_type TEXT        NOT NULL,
			reference    BIGINT      NOT NULL,
			version      BIGINT      NOT NULL DEFAULT 0,
			created      TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated      TIMESTAMPTZ NOT NULL DEFAULT now(),
			data         BYTEA       NOT NULL,
			CONSTRAINT %s UNIQUE (content_type, reference)
		)`, t.main, t.ident("ref_uq")),

		// 2) Reference counters, one row per content type
		/*language=postgresql*/ fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			content_type TEXT   PRIMARY KEY,
			seed         BIGINT NOT NULL
		)`, t.seed),

		// 3) Change log; id is the feed token
		/*language=postgresql*/ fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id           BIGSERIAL   PRIMARY KEY,
			fid          UUID        NOT NULL,
			reference    BIGINT      NOT NULL,
			version      BIGINT      NOT NULL,
			content_type TEXT        NOT NULL,
			created      TIMESTAMPTZ NOT NULL,
			updated      TIMESTAMPTZ NOT NULL,
			data         BYTEA,
			action       TEXT        NOT NULL CHECK (action IN ('create','update','delete')),
			CONSTRAINT %s
			  CHECK ((action = 'delete' AND data IS NULL) OR (action IN ('create','update') AND data IS NOT NULL))
		)`, t.changelog, t.ident("cl_data_chk")),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (fid, id)`, t.ident("cl_fid_idx"), t.changelog),

		// 4) Pre-image snapshots
		/*language=postgresql*/ fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id           BIGSERIAL   PRIMARY KEY,
			fid          UUID        NOT NULL,
			reference    BIGINT      NOT NULL,
			version      BIGINT      NOT NULL,
			content_type TEXT        NOT NULL,
			deleted      BOOLEAN     NOT NULL DEFAULT FALSE,
			created      TIMESTAMPTZ NOT NULL,
			updated      TIMESTAMPTZ NOT NULL,
			data         BYTEA       NOT NULL
		)`, t.history),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (fid, version)`, t.ident("hist_fid_idx"), t.history),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (updated)`, t.ident("hist_upd_idx"), t.history),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s (content_type, updated) WHERE deleted`, t.ident("hist_del_idx"), t.history),
	}
}

// ensureTables creates the area's table set once per process. Concurrent
// callers in this process serialize on ensureMu; other processes serialize on
// the area advisory lock inside the DDL transaction.
func (a *Area) ensureTables(ctx context.Context) error {
	if a.ready.Load() {
		return nil
	}
	a.ensureMu.Lock()
	defer a.ensureMu.Unlock()
	if a.ready.Load() {
		return nil
	}

	start := a.store.stageStart()
	exists, err := a.probeTables(ctx)
	if err != nil {
		a.store.observeStage(ctx, MetricsOpEnsureTables, a.name, MetricsStageTotal, start, 0, true)
		return err
	}
	if exists {
		a.ready.Store(true)
		return nil
	}

	statements := a.tables.ddl(a.store.config.Schema)
	err = pgx.BeginFunc(ctx, a.store.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, a.lockKey); err != nil {
			return fmt.Errorf("failed to lock area: %w", err)
		}
		for i, stmt := range statements {
			a.store.logger.Debug("Running area migration", "area", a.name, "step", i+1, "total", len(statements))
			if _, err := tx.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("area migration %d failed: %w", i+1, err)
			}
		}
		return nil
	})
	a.store.observeStage(ctx, MetricsOpEnsureTables, a.name, MetricsStageTotal, start, len(statements), err != nil)
	if err != nil {
		a.store.logger.Error("Failed to create area tables", "area", a.name, "error", err)
		return fmt.Errorf("failed to create tables for area %s: %w", a.name, err)
	}
	a.ready.Store(true)
	a.store.logger.Info("Area tables initialized", "area", a.name, "statements", len(statements))
	return nil
}

// probeTables reports whether every table of the area exists. A positive
// answer is cached; a negative one is not, so reads never create tables.
func (a *Area) probeTables(ctx context.Context) (bool, error) {
	if a.ready.Load() {
		return true, nil
	}
	var exists bool
	err := a.store.pool.QueryRow(ctx,
		`SELECT to_regclass($1::text) IS NOT NULL AND to_regclass($2::text) IS NOT NULL
		    AND to_regclass($3::text) IS NOT NULL AND to_regclass($4::text) IS NOT NULL`,
		a.tables.main, a.tables.seed, a.tables.changelog, a.tables.history,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to probe tables for area %s: %w", a.name, err)
	}
	if exists {
		a.ready.Store(true)
	}
	return exists, nil
}
