// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mobiletoly/go-docstore/document"
)

// Decorator transforms a history snapshot once, before it is stored.
type Decorator interface {
	Decorate(ctx context.Context, snapshot *document.Document) (*document.Document, error)
}

// DecoratorFunc adapts a function to Decorator.
type DecoratorFunc func(ctx context.Context, snapshot *document.Document) (*document.Document, error)

func (f DecoratorFunc) Decorate(ctx context.Context, snapshot *document.Document) (*document.Document, error) {
	return f(ctx, snapshot)
}

// Range bounds history reads by snapshot update time. Zero times are
// unbounded; Limit <= 0 returns every match.
type Range struct {
	From  time.Time
	To    time.Time
	Limit int
}

func (r Range) args() (from, to *time.Time, limit *int) {
	if !r.From.IsZero() {
		from = &r.From
	}
	if !r.To.IsZero() {
		to = &r.To
	}
	if r.Limit > 0 {
		limit = &r.Limit
	}
	return from, to, limit
}

// History stores the pre-image of every update and delete of an area.
type History struct {
	area *Area

	mu         sync.RWMutex
	decorators []Decorator

	insertSQL  string
	getSQL     string
	listSQL    string
	deletedSQL string
	pruneSQL   string
}

func newHistory(a *Area) *History {
	t := a.tables.history
	return &History{
		area: a,
		insertSQL: fmt.Sprintf(`
INSERT INTO %s (fid, reference, version, content_type, deleted, created, updated, data)
VALUES (@fid, @reference, @version, @content_type, @deleted, @created, @updated, @data)`, t),
		getSQL: fmt.Sprintf(`SELECT %s FROM %s WHERE fid = $1 AND version = $2 ORDER BY id DESC LIMIT 1`, historyColumns, t),
		listSQL: fmt.Sprintf(`SELECT %s FROM %s
WHERE fid = $1 AND ($2::timestamptz IS NULL OR updated >= $2) AND ($3::timestamptz IS NULL OR updated <= $3)
ORDER BY version DESC, id DESC LIMIT $4`, historyColumns, t),
		deletedSQL: fmt.Sprintf(`SELECT %s FROM %s
WHERE deleted AND ($1::text = '' OR content_type = $1)
  AND ($2::timestamptz IS NULL OR updated >= $2) AND ($3::timestamptz IS NULL OR updated <= $3)
ORDER BY updated DESC, id DESC LIMIT $4`, historyColumns, t),
		pruneSQL: fmt.Sprintf(`DELETE FROM %s WHERE updated <= $1`, t),
	}
}

// Enabled reports whether the area captures history.
func (h *History) Enabled() bool { return h.area.cfg.History }

// AddDecorator registers d for every snapshot captured from now on.
func (h *History) AddDecorator(d Decorator) error {
	if !h.Enabled() {
		return fmt.Errorf("%w: %s", ErrHistoryDisabled, h.area.name)
	}
	if d == nil {
		return &ValidationError{Field: "decorator", Reason: "must not be nil"}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.decorators = append(h.decorators, d)
	return nil
}

// capture stores pre inside the caller's write transaction.
func (h *History) capture(ctx context.Context, tx pgx.Tx, pre documentRow, deleted bool) error {
	if !h.Enabled() {
		return nil
	}
	a := h.area
	start := a.store.stageStart()

	data, err := h.decorate(ctx, pre)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, h.insertSQL, pgx.NamedArgs{
		"fid":          pre.ID,
		"reference":    pre.Reference,
		"version":      pre.Version,
		"content_type": pre.ContentType,
		"deleted":      deleted,
		"created":      pre.Created,
		"updated":      pre.Updated,
		"data":         data,
	})
	a.store.observeStage(ctx, MetricsOpHistory, a.name, MetricsStageHistory, start, 1, err != nil)
	if err != nil {
		return fmt.Errorf("failed to capture history snapshot: %w", err)
	}
	return nil
}

// decorate applies the registered decorators to the stored payload. Payloads
// that cannot be decoded are kept unchanged.
func (h *History) decorate(ctx context.Context, pre documentRow) ([]byte, error) {
	h.mu.RLock()
	decorators := h.decorators
	h.mu.RUnlock()
	if len(decorators) == 0 {
		return pre.Data, nil
	}

	codec := h.area.store.codec
	snap, err := codec.Decode(pre.Data, pre.meta(h.area.name))
	if err != nil {
		h.area.store.logger.Warn("Skipping history decorators for undecodable snapshot", "area", h.area.name, "id", pre.ID, "error", err)
		return pre.Data, nil
	}
	for _, d := range decorators {
		next, err := d.Decorate(ctx, snap)
		if err != nil {
			return nil, fmt.Errorf("history decorator failed: %w", err)
		}
		if next != nil {
			snap = next
		}
	}
	return codec.Encode(snap)
}

// Get returns the snapshot of id at version, or nil when none was captured.
func (h *History) Get(ctx context.Context, id uuid.UUID, version int64) (*document.Document, error) {
	ok, err := h.readable(ctx)
	if err != nil || !ok {
		return nil, err
	}
	r, err := scanHistoryRow(h.area.store.pool.QueryRow(ctx, h.getSQL, id, version))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read history of %s: %w", id, err)
	}
	return h.decode(r), nil
}

// List returns the snapshots of id within rng, newest first.
func (h *History) List(ctx context.Context, id uuid.UUID, rng Range) ([]*document.Document, error) {
	from, to, limit := rng.args()
	return h.list(ctx, h.listSQL, id, from, to, limit)
}

// Deleted returns the final snapshots of deleted documents of contentType
// (all types when empty) within rng, most recent first.
func (h *History) Deleted(ctx context.Context, contentType string, rng Range) ([]*document.Document, error) {
	from, to, limit := rng.args()
	return h.list(ctx, h.deletedSQL, contentType, from, to, limit)
}

// Delete removes every snapshot last updated at or before cutoff and returns
// the number removed.
func (h *History) Delete(ctx context.Context, cutoff time.Time) (int64, error) {
	ok, err := h.readable(ctx)
	if err != nil || !ok {
		return 0, err
	}
	start := h.area.store.stageStart()
	tag, err := h.area.store.pool.Exec(ctx, h.pruneSQL, cutoff)
	h.area.store.observeStage(ctx, MetricsOpHistory, h.area.name, MetricsStageTotal, start, int(tag.RowsAffected()), err != nil)
	if err != nil {
		return 0, fmt.Errorf("failed to prune history of area %s: %w", h.area.name, err)
	}
	h.area.store.logger.Debug("Pruned history", "area", h.area.name, "cutoff", cutoff, "removed", tag.RowsAffected())
	return tag.RowsAffected(), nil
}

// DeleteOlderThan removes snapshots last updated more than age ago.
func (h *History) DeleteOlderThan(ctx context.Context, age time.Duration) (int64, error) {
	return h.Delete(ctx, time.Now().Add(-age))
}

func (h *History) readable(ctx context.Context) (bool, error) {
	if err := h.area.store.checkClosed(); err != nil {
		return false, err
	}
	if !h.Enabled() {
		return false, nil
	}
	return h.area.probeTables(ctx)
}

func (h *History) list(ctx context.Context, sql string, args ...any) ([]*document.Document, error) {
	ok, err := h.readable(ctx)
	if err != nil || !ok {
		return nil, err
	}
	rows, err := h.area.store.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history of area %s: %w", h.area.name, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (historyRow, error) {
		return scanHistoryRow(row)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read history of area %s: %w", h.area.name, err)
	}
	out := make([]*document.Document, 0, len(records))
	for _, r := range records {
		out = append(out, h.decode(r))
	}
	return out, nil
}

func (h *History) decode(r historyRow) *document.Document {
	return h.area.store.codec.DecodeOrFault(r.Data, r.meta(h.area.name))
}
