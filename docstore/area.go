// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mobiletoly/go-docstore/document"
	"github.com/mobiletoly/go-docstore/migration"
)

// Area is a named collection of documents with its own tables, change log and history.
//
// Writes to one area commit one at a time: each write holds an area-wide
// advisory lock from its change log append until commit, so commit order
// equals token order. Write throughput per area is bounded by that lock;
// spread independent workloads across areas to write them in parallel.
type Area struct {
	store   *Store
	name    string
	cfg     AreaConfig
	engine  *migration.Engine
	tables  tableSet
	q       areaQueries
	lockKey int64
	channel string

	ensureMu sync.Mutex
	ready    atomic.Bool

	changes *ChangeLog
	history *History
}

// areaQueries is built once per area so table names are sanitized a single time.
type areaQueries struct {
	insert     string
	update     string
	delete     string
	get        string
	getMany    string
	byType     string
	page       string
	countAll   string
	countType  string
	currentRef string
}

func newArea(s *Store, name string, cfg AreaConfig) *Area {
	id := areaID(s.config.Schema, name)
	t := newTableSet(s.config.Schema, name)
	a := &Area{
		store:   s,
		name:    name,
		cfg:     cfg,
		engine:  migration.NewEngine(s.config.Migrations, cfg.SchemaVersion),
		tables:  t,
		q:       buildAreaQueries(t),
		lockKey: advisoryKey(id),
		channel: notifyChannel(id),
	}
	a.changes = newChangeLog(a)
	a.history = newHistory(a)
	return a
}

func buildAreaQueries(t tableSet) areaQueries {
	return areaQueries{
		// Reference allocation and document insert are one statement: the
		// upsert row lock serializes allocators per content type.
		insert: fmt.Sprintf(`
WITH seed AS (
  INSERT INTO %[1]s AS s (content_type, seed) VALUES (@content_type::text, 1)
  ON CONFLICT (content_type) DO UPDATE SET seed = s.seed + 1
  RETURNING seed
)
INSERT INTO %[2]s (id, content_type, reference, version, data)
SELECT @id::uuid, @content_type::text, seed.seed, 0, @data::bytea FROM seed
RETURNING %[3]s`, t.seed, t.main, documentColumns),

		update: fmt.Sprintf(`
UPDATE %[1]s AS m
   SET data = @data, version = m.version + 1, updated = now()
  FROM (
    SELECT id, version, created, updated, data, xmin::text::bigint AS row_version
      FROM %[1]s WHERE id = @id FOR UPDATE
  ) AS old
 WHERE m.id = old.id
   AND (@row_version::bigint IS NULL OR old.row_version = @row_version::bigint)
RETURNING m.id, m.content_type, m.reference, m.version, m.created, m.updated, m.data, m.xmin::text::bigint,
          old.version, old.created, old.updated, old.data`, t.main),

		delete:  fmt.Sprintf(`DELETE FROM %s WHERE id = @id RETURNING %s`, t.main, documentColumns),
		get:     fmt.Sprintf(`SELECT %s FROM %s WHERE id = $1`, documentColumns, t.main),
		getMany: fmt.Sprintf(`SELECT %s FROM %s WHERE id = ANY($1::uuid[]) ORDER BY content_type, reference`, documentColumns, t.main),
		byType:  fmt.Sprintf(`SELECT %s FROM %s WHERE content_type = $1 ORDER BY reference`, documentColumns, t.main),
		page: fmt.Sprintf(`SELECT %s FROM %s WHERE ($1::text = '' OR content_type = $1)
ORDER BY content_type, reference OFFSET $2 LIMIT $3`, documentColumns, t.main),
		countAll:   fmt.Sprintf(`SELECT COUNT(*) FROM %s`, t.main),
		countType:  fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE content_type = $1`, t.main),
		currentRef: fmt.Sprintf(`SELECT COALESCE((SELECT seed FROM %s WHERE content_type = $1), 0)`, t.seed),
	}
}

// Name returns the area name.
func (a *Area) Name() string { return a.name }

// Config returns the effective area configuration.
func (a *Area) Config() AreaConfig { return a.cfg }

// ChangeLog returns the area's change feed.
func (a *Area) ChangeLog() *ChangeLog { return a.changes }

// History returns the area's snapshot store.
func (a *Area) History() *History { return a.history }

// Engine returns the migration engine targeting the area's schema version.
func (a *Area) Engine() *migration.Engine { return a.engine }

func (a *Area) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.cfg.CommandTimeout > 0 {
		return context.WithTimeout(ctx, a.cfg.CommandTimeout)
	}
	return context.WithCancel(ctx)
}

func (a *Area) schemaVersionFor(doc *document.Document) string {
	if a.cfg.SchemaVersion != "" {
		return a.cfg.SchemaVersion
	}
	return doc.Meta.SchemaVersion
}

func (a *Area) beginWrite(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pgx.BeginTxFunc(ctx, a.store.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite}, fn)
}

// Insert stores doc under contentType. The document id is taken from
// doc.Meta.ID when set, otherwise generated. The returned document carries
// the allocated reference, version 0 and the area's schema version.
func (a *Area) Insert(ctx context.Context, contentType string, doc *document.Document) (out *document.Document, err error) {
	if err := a.store.checkClosed(); err != nil {
		return nil, err
	}
	if err := validateContentType(contentType); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = document.New()
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "docstore.Insert", a.name, attribute.String("docstore.content_type", contentType))
	defer func() { endSpan(span, err) }()
	total := a.store.stageStart()
	defer func() { a.store.observeStage(ctx, MetricsOpInsert, a.name, MetricsStageTotal, total, 1, err != nil) }()

	if err := a.ensureTables(ctx); err != nil {
		return nil, err
	}

	staged := doc.Clone()
	staged.Meta.SchemaVersion = a.schemaVersionFor(doc)
	data, err := a.store.codec.Encode(staged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	id := doc.Meta.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	var row documentRow
	err = a.beginWrite(ctx, func(tx pgx.Tx) error {
		start := a.store.stageStart()
		r, err := scanDocumentRow(tx.QueryRow(ctx, a.q.insert, pgx.NamedArgs{
			"id":           id,
			"content_type": contentType,
			"data":         data,
		}))
		a.store.observeStage(ctx, MetricsOpInsert, a.name, MetricsStageWrite, start, 1, err != nil)
		if err != nil {
			return fmt.Errorf("failed to insert document: %w", err)
		}
		row = r
		_, err = a.changes.append(ctx, tx, actionCreate, row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("insert into area %s: %w", a.name, err)
	}

	a.store.logger.Debug("Inserted document", "area", a.name, "id", row.ID, "content_type", contentType, "reference", row.Reference)
	return a.store.codec.Decode(row.Data, row.meta(a.name))
}

// Update replaces the payload of the document with the given id, incrementing
// its version. It returns a *NotFoundError when the id does not exist.
func (a *Area) Update(ctx context.Context, id uuid.UUID, doc *document.Document) (*document.Document, error) {
	out, err := a.update(ctx, id, doc, nil)
	if err != nil {
		return nil, err
	}
	if out == nil {
		return nil, &NotFoundError{Area: a.name, ID: id}
	}
	return out, nil
}

// update applies the write. When rowVersion is set the row is only updated if
// it has not changed since it was read; a nil result means nothing matched.
func (a *Area) update(ctx context.Context, id uuid.UUID, doc *document.Document, rowVersion *int64) (out *document.Document, err error) {
	if err := a.store.checkClosed(); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = document.New()
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "docstore.Update", a.name, attribute.String("docstore.id", id.String()))
	defer func() { endSpan(span, err) }()
	total := a.store.stageStart()
	defer func() { a.store.observeStage(ctx, MetricsOpUpdate, a.name, MetricsStageTotal, total, 1, err != nil) }()

	exists, err := a.probeTables(ctx)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}

	staged := doc.Clone()
	staged.Meta.SchemaVersion = a.schemaVersionFor(doc)
	data, err := a.store.codec.Encode(staged)
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}

	var (
		row   documentRow
		found bool
	)
	err = a.beginWrite(ctx, func(tx pgx.Tx) error {
		start := a.store.stageStart()
		var pre documentRow
		scanErr := tx.QueryRow(ctx, a.q.update, pgx.NamedArgs{
			"id":          id,
			"data":        data,
			"row_version": rowVersion,
		}).Scan(
			&row.ID, &row.ContentType, &row.Reference, &row.Version, &row.Created, &row.Updated, &row.Data, &row.RowVersion,
			&pre.Version, &pre.Created, &pre.Updated, &pre.Data,
		)
		a.store.observeStage(ctx, MetricsOpUpdate, a.name, MetricsStageWrite, start, 1, scanErr != nil && !errors.Is(scanErr, pgx.ErrNoRows))
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return nil
		}
		if scanErr != nil {
			return fmt.Errorf("failed to update document: %w", scanErr)
		}
		found = true
		pre.ID, pre.ContentType, pre.Reference = row.ID, row.ContentType, row.Reference

		if err := a.history.capture(ctx, tx, pre, false); err != nil {
			return err
		}
		_, err := a.changes.append(ctx, tx, actionUpdate, row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("update in area %s: %w", a.name, err)
	}
	if !found {
		return nil, nil
	}

	a.store.logger.Debug("Updated document", "area", a.name, "id", id, "version", row.Version)
	return a.store.codec.Decode(row.Data, row.meta(a.name))
}

// Delete removes the document and returns its last state, or nil when no
// document matched.
func (a *Area) Delete(ctx context.Context, id uuid.UUID) (out *document.Document, err error) {
	if err := a.store.checkClosed(); err != nil {
		return nil, err
	}

	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "docstore.Delete", a.name, attribute.String("docstore.id", id.String()))
	defer func() { endSpan(span, err) }()
	total := a.store.stageStart()
	defer func() { a.store.observeStage(ctx, MetricsOpDelete, a.name, MetricsStageTotal, total, 1, err != nil) }()

	exists, err := a.probeTables(ctx)
	if err != nil || !exists {
		return nil, err
	}

	var (
		row   documentRow
		found bool
	)
	err = a.beginWrite(ctx, func(tx pgx.Tx) error {
		start := a.store.stageStart()
		r, err := scanDocumentRow(tx.QueryRow(ctx, a.q.delete, pgx.NamedArgs{"id": id}))
		a.store.observeStage(ctx, MetricsOpDelete, a.name, MetricsStageWrite, start, 1, err != nil && !errors.Is(err, pgx.ErrNoRows))
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to delete document: %w", err)
		}
		row, found = r, true

		if err := a.history.capture(ctx, tx, row, true); err != nil {
			return err
		}
		_, err = a.changes.append(ctx, tx, actionDelete, row)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("delete from area %s: %w", a.name, err)
	}
	if !found {
		return nil, nil
	}

	a.store.logger.Debug("Deleted document", "area", a.name, "id", id)
	return a.store.codec.DecodeOrFault(row.Data, row.meta(a.name)), nil
}

// Get returns the document with the given id, migrated to the area's schema
// version, or nil when it does not exist.
func (a *Area) Get(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	docs, err := a.read(ctx, "docstore.Get", func(ctx context.Context) (pgx.Rows, error) {
		return a.store.pool.Query(ctx, a.q.get, id)
	})
	if err != nil || len(docs) == 0 {
		return nil, err
	}
	return docs[0], nil
}

// GetByContentType returns every document of contentType ordered by reference.
func (a *Area) GetByContentType(ctx context.Context, contentType string) ([]*document.Document, error) {
	return a.read(ctx, "docstore.GetByContentType", func(ctx context.Context) (pgx.Rows, error) {
		return a.store.pool.Query(ctx, a.q.byType, contentType)
	})
}

// GetPage returns take documents after skipping skip, ordered by content type
// and reference. An empty contentType pages over the whole area.
func (a *Area) GetPage(ctx context.Context, contentType string, skip, take int) ([]*document.Document, error) {
	if skip < 0 {
		return nil, &ValidationError{Field: "skip", Value: fmt.Sprint(skip), Reason: "must be >= 0"}
	}
	if take <= 0 {
		return nil, &ValidationError{Field: "take", Value: fmt.Sprint(take), Reason: "must be > 0"}
	}
	return a.read(ctx, "docstore.GetPage", func(ctx context.Context) (pgx.Rows, error) {
		return a.store.pool.Query(ctx, a.q.page, contentType, skip, take)
	})
}

// GetMany returns the documents matching ids; missing ids are skipped.
func (a *Area) GetMany(ctx context.Context, ids []uuid.UUID) ([]*document.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	return a.read(ctx, "docstore.GetMany", func(ctx context.Context) (pgx.Rows, error) {
		return a.store.pool.Query(ctx, a.q.getMany, ids)
	})
}

// GetRaw returns the stored payload of id with the engine fields injected at
// the root, without materializing the document. It returns nil when absent.
func (a *Area) GetRaw(ctx context.Context, id uuid.UUID) (out []byte, err error) {
	if err := a.store.checkClosed(); err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "docstore.GetRaw", a.name)
	defer func() { endSpan(span, err) }()

	exists, err := a.probeTables(ctx)
	if err != nil || !exists {
		return nil, err
	}
	row, err := scanDocumentRow(a.store.pool.QueryRow(ctx, a.q.get, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read document %s: %w", id, err)
	}
	return a.store.codec.Inject(row.Data, row.meta(a.name))
}

// Count returns the number of documents of contentType, or of the whole area
// when contentType is empty. It never creates tables.
func (a *Area) Count(ctx context.Context, contentType string) (n int64, err error) {
	if err := a.store.checkClosed(); err != nil {
		return 0, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, "docstore.Count", a.name)
	defer func() { endSpan(span, err) }()

	exists, err := a.probeTables(ctx)
	if err != nil || !exists {
		return 0, err
	}
	if contentType == "" {
		err = a.store.pool.QueryRow(ctx, a.q.countAll).Scan(&n)
	} else {
		err = a.store.pool.QueryRow(ctx, a.q.countType, contentType).Scan(&n)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to count documents in area %s: %w", a.name, err)
	}
	return n, nil
}

// CurrentReference returns the last reference allocated for contentType, 0 if none.
func (a *Area) CurrentReference(ctx context.Context, contentType string) (document.Reference, error) {
	exists, err := a.probeTables(ctx)
	if err != nil || !exists {
		return 0, err
	}
	var seed int64
	if err := a.store.pool.QueryRow(ctx, a.q.currentRef, contentType).Scan(&seed); err != nil {
		return 0, fmt.Errorf("failed to read reference seed: %w", err)
	}
	return document.Reference(seed), nil
}

// read runs query, decodes every row and passes it through the migration
// engine. Rows that fail to decode become faulty shells.
func (a *Area) read(ctx context.Context, spanName string, query func(ctx context.Context) (pgx.Rows, error)) (docs []*document.Document, err error) {
	if err := a.store.checkClosed(); err != nil {
		return nil, err
	}
	ctx, cancel := a.withTimeout(ctx)
	defer cancel()
	ctx, span := startSpan(ctx, spanName, a.name)
	defer func() { endSpan(span, err) }()
	total := a.store.stageStart()
	defer func() { a.store.observeStage(ctx, MetricsOpGet, a.name, MetricsStageTotal, total, len(docs), err != nil) }()

	exists, err := a.probeTables(ctx)
	if err != nil || !exists {
		return nil, err
	}

	start := a.store.stageStart()
	rows, err := query(ctx)
	if err != nil {
		a.store.observeStage(ctx, MetricsOpGet, a.name, MetricsStageFetch, start, 0, true)
		return nil, fmt.Errorf("failed to query area %s: %w", a.name, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (documentRow, error) {
		return scanDocumentRow(row)
	})
	a.store.observeStage(ctx, MetricsOpGet, a.name, MetricsStageFetch, start, len(records), err != nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read area %s: %w", a.name, err)
	}

	docs = make([]*document.Document, 0, len(records))
	for _, r := range records {
		d, err := a.materialize(ctx, r)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

// materialize decodes r and upgrades it. With PersistMigrations the upgraded
// form is written back; failures there are logged and the migrated document
// is still returned.
func (a *Area) materialize(ctx context.Context, r documentRow) (*document.Document, error) {
	d := a.store.codec.DecodeOrFault(r.Data, r.meta(a.name))
	if d.Meta.Faulty {
		a.store.logger.Warn("Faulty document payload", "area", a.name, "id", r.ID, "error", d.Meta.Fault)
		return d, nil
	}

	start := a.store.stageStart()
	migrated, changed, err := a.engine.Upgrade(d)
	a.store.observeStage(ctx, MetricsOpGet, a.name, MetricsStageMigrate, start, 1, err != nil)
	if err != nil {
		return nil, fmt.Errorf("migrate document %s: %w", r.ID, err)
	}
	if !changed || !a.cfg.PersistMigrations {
		return migrated, nil
	}

	start = a.store.stageStart()
	rv := r.RowVersion
	stored, err := a.update(ctx, r.ID, migrated, &rv)
	a.store.observeStage(ctx, MetricsOpGet, a.name, MetricsStageWriteBack, start, 1, err != nil)
	switch {
	case err != nil:
		a.store.logger.Warn("Failed to persist migrated document", "area", a.name, "id", r.ID, "error", err)
	case stored == nil:
		a.store.logger.Debug("Skipped migration write-back for concurrently modified document", "area", a.name, "id", r.ID)
	default:
		return stored, nil
	}
	return migrated, nil
}
