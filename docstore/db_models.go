// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mobiletoly/go-docstore/document"
)

// Database row models for the per-area tables

// documentRow represents a row of the "<area>" table
type documentRow struct {
	ID          uuid.UUID `db:"id"`
	ContentType string    `db:"content_type"`
	Reference   int64     `db:"reference"`
	Version     int64     `db:"version"`
	Created     time.Time `db:"created"`
	Updated     time.Time `db:"updated"`
	Data        []byte    `db:"data"`
	RowVersion  int64     `db:"row_version"` // xmin of the row when it was read
}

const documentColumns = `id, content_type, reference, version, created, updated, data, xmin::text::bigint AS row_version`

func scanDocumentRow(row pgx.Row) (documentRow, error) {
	var r documentRow
	err := row.Scan(&r.ID, &r.ContentType, &r.Reference, &r.Version, &r.Created, &r.Updated, &r.Data, &r.RowVersion)
	return r, err
}

func (r documentRow) meta(area string) document.Meta {
	return document.Meta{
		ID:          r.ID,
		ContentType: r.ContentType,
		Area:        area,
		Reference:   document.Reference(r.Reference),
		Version:     r.Version,
		Created:     r.Created.UTC(),
		Updated:     r.Updated.UTC(),
	}
}

// changeRow represents a row of the "<area>.changelog" table
type changeRow struct {
	Token       int64     `db:"id"`
	Fid         uuid.UUID `db:"fid"`
	Reference   int64     `db:"reference"`
	Version     int64     `db:"version"`
	ContentType string    `db:"content_type"`
	Created     time.Time `db:"created"`
	Updated     time.Time `db:"updated"`
	Data        []byte    `db:"data"` // NULL for deletes
	Action      string    `db:"action"`
}

const changeColumns = `id, fid, reference, version, content_type, created, updated, data, action`

func scanChangeRow(row pgx.Row) (changeRow, error) {
	var r changeRow
	err := row.Scan(&r.Token, &r.Fid, &r.Reference, &r.Version, &r.ContentType, &r.Created, &r.Updated, &r.Data, &r.Action)
	return r, err
}

// historyRow represents a row of the "<area>.history" table
type historyRow struct {
	ID          int64     `db:"id"`
	Fid         uuid.UUID `db:"fid"`
	Reference   int64     `db:"reference"`
	Version     int64     `db:"version"`
	ContentType string    `db:"content_type"`
	Deleted     bool      `db:"deleted"`
	Created     time.Time `db:"created"`
	Updated     time.Time `db:"updated"`
	Data        []byte    `db:"data"`
}

const historyColumns = `id, fid, reference, version, content_type, deleted, created, updated, data`

func scanHistoryRow(row pgx.Row) (historyRow, error) {
	var r historyRow
	err := row.Scan(&r.ID, &r.Fid, &r.Reference, &r.Version, &r.ContentType, &r.Deleted, &r.Created, &r.Updated, &r.Data)
	return r, err
}

func (r historyRow) meta(area string) document.Meta {
	return document.Meta{
		ID:          r.Fid,
		ContentType: r.ContentType,
		Area:        area,
		Reference:   document.Reference(r.Reference),
		Version:     r.Version,
		Created:     r.Created.UTC(),
		Updated:     r.Updated.UTC(),
		Deleted:     r.Deleted,
	}
}
