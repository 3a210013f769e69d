// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mobiletoly/go-docstore/document"
)

// Stored change log actions
const (
	actionCreate = "create"
	actionUpdate = "update"
	actionDelete = "delete"
)

// ChangeLog is the ordered feed of every write to an area. Appends serialize
// the area's writers on a transaction-scoped advisory lock (see Area).
type ChangeLog struct {
	area *Area

	insertSQL string
	pullSQL   string
	headSQL   string
}

func newChangeLog(a *Area) *ChangeLog {
	t := a.tables.changelog
	return &ChangeLog{
		area: a,
		insertSQL: fmt.Sprintf(`
INSERT INTO %s (fid, reference, version, content_type, created, updated, data, action)
VALUES (@fid, @reference, @version, @content_type, @created, COALESCE(@updated::timestamptz, now()), @data, @action)
RETURNING id`, t),
		pullSQL: fmt.Sprintf(`SELECT %s FROM %s WHERE id > $1 ORDER BY id LIMIT $2`, changeColumns, t),
		headSQL: fmt.Sprintf(`SELECT COALESCE(MAX(id), 0) FROM %s`, t),
	}
}

// append writes one change row inside the caller's write transaction and
// returns its token. The area advisory lock is held until commit so tokens
// become visible in the order they were assigned.
func (c *ChangeLog) append(ctx context.Context, tx pgx.Tx, action string, row documentRow) (int64, error) {
	a := c.area
	start := a.store.stageStart()

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, a.lockKey); err != nil {
		return 0, fmt.Errorf("failed to lock change log: %w", err)
	}

	// Tombstones carry no payload and are stamped with the delete time.
	var (
		data    []byte
		updated *time.Time
	)
	if action != actionDelete {
		data = row.Data
		updated = &row.Updated
	}

	var token int64
	err := tx.QueryRow(ctx, c.insertSQL, pgx.NamedArgs{
		"fid":          row.ID,
		"reference":    row.Reference,
		"version":      row.Version,
		"content_type": row.ContentType,
		"created":      row.Created,
		"updated":      updated,
		"data":         data,
		"action":       action,
	}).Scan(&token)
	if err != nil {
		a.store.observeStage(ctx, opForAction(action), a.name, MetricsStageChangeLog, start, 1, true)
		return 0, fmt.Errorf("failed to append change: %w", err)
	}

	if _, err := tx.Exec(ctx, `SELECT pg_notify($1, $2)`, a.channel, strconv.FormatInt(token, 10)); err != nil {
		return 0, fmt.Errorf("failed to notify subscribers: %w", err)
	}
	a.store.observeStage(ctx, opForAction(action), a.name, MetricsStageChangeLog, start, 1, false)
	return token, nil
}

func opForAction(action string) string {
	switch action {
	case actionCreate:
		return MetricsOpInsert
	case actionUpdate:
		return MetricsOpUpdate
	default:
		return MetricsOpDelete
	}
}

type pullOptions struct {
	includeDeletes bool
	limit          int
}

// PullOption configures Pull.
type PullOption func(*pullOptions)

// WithoutDeletes drops delete entries from the result. The resume token still
// moves past them.
func WithoutDeletes() PullOption {
	return func(o *pullOptions) { o.includeDeletes = false }
}

// WithLimit bounds the number of log rows examined by one pull.
func WithLimit(n int) PullOption {
	return func(o *pullOptions) { o.limit = n }
}

// Pull returns every change with a token strictly greater than since.
func (c *ChangeLog) Pull(ctx context.Context, since int64, opts ...PullOption) (cc *ChangeCollection, err error) {
	a := c.area
	o := pullOptions{includeDeletes: true}
	for _, opt := range opts {
		opt(&o)
	}
	if err := a.store.checkClosed(); err != nil {
		return nil, err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "docstore.Pull", a.name, attribute.Int64("docstore.since", since))
	defer func() { endSpan(span, err) }()
	total := a.store.stageStart()
	defer func() {
		n := 0
		if cc != nil {
			n = cc.Len()
		}
		a.store.observeStage(ctx, MetricsOpPull, a.name, MetricsStageTotal, total, n, err != nil)
	}()

	exists, err := a.probeTables(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return NewChangeCollection(nil, since), nil
	}

	rows, err := c.query(ctx, a.store.pool, since, o.limit)
	if err != nil {
		return nil, err
	}

	token := since
	changes := make([]*Change, 0, len(rows))
	for _, r := range rows {
		token = r.Token
		ch := c.newChange(r)
		if ch.Type == ChangeDelete && !o.includeDeletes {
			continue
		}
		changes = append(changes, ch)
	}
	return NewChangeCollection(changes, token), nil
}

// Head returns the highest token in the log, 0 when it is empty.
func (c *ChangeLog) Head(ctx context.Context) (int64, error) {
	a := c.area
	exists, err := a.probeTables(ctx)
	if err != nil || !exists {
		return 0, err
	}
	var head int64
	if err := a.store.pool.QueryRow(ctx, c.headSQL).Scan(&head); err != nil {
		return 0, fmt.Errorf("failed to read change log head: %w", err)
	}
	return head, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// query reads log rows after since in token order. limit <= 0 means unbounded.
// A change log dropped behind the cached table state reads as empty and
// clears that state, so the next write recreates the tables.
func (c *ChangeLog) query(ctx context.Context, q querier, since int64, limit int) ([]changeRow, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := q.Query(ctx, c.pullSQL, since, lim)
	if err == nil {
		var out []changeRow
		out, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (changeRow, error) {
			return scanChangeRow(row)
		})
		if err == nil {
			return out, nil
		}
	}
	if isUndefinedTable(err) {
		c.area.ready.Store(false)
		c.area.store.logger.Warn("Change log table is missing", "area", c.area.name, "error", err)
		return nil, nil
	}
	return nil, fmt.Errorf("failed to read change log: %w", err)
}

// newChange turns a log row into a Change. The payload is decoded here and
// the result becomes the cached entity; payloads that do not decode produce
// Faulty changes instead of errors.
func (c *ChangeLog) newChange(r changeRow) *Change {
	ch := &Change{
		Token:       r.Token,
		ID:          r.Fid,
		ContentType: r.ContentType,
		Reference:   document.Reference(r.Reference),
		Version:     r.Version,
		Created:     r.Created.UTC(),
		Updated:     r.Updated.UTC(),
		Raw:         r.Data,
		area:        c.area.name,
		codec:       c.area.store.codec,
	}
	switch r.Action {
	case actionCreate:
		ch.Type = ChangeCreate
	case actionUpdate:
		ch.Type = ChangeUpdate
	case actionDelete:
		ch.Type = ChangeDelete
		return ch
	default:
		ch.Type = ChangeFaulty
		ch.Fault = fmt.Sprintf("unknown change action %q", r.Action)
		return ch
	}
	entity, err := ch.codec.Decode(r.Data, ch.Meta())
	if err != nil {
		ch.Type = ChangeFaulty
		ch.Fault = err.Error()
		return ch
	}
	ch.once.Do(func() { ch.entity = entity })
	return ch
}
