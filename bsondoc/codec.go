// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package bsondoc encodes documents as BSON and decodes them back, with a
// streaming Reader that can override root-level fields on the fly.
package bsondoc

import (
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mobiletoly/go-docstore/document"
)

// Codec converts documents to and from their stored form. The stored payload
// holds the caller fields and the schema version; the remaining engine fields
// live in table columns and are injected at read time.
type Codec struct {
	names document.FieldNames
}

// NewCodec returns a codec using names for engine fields.
func NewCodec(names document.FieldNames) *Codec {
	return &Codec{names: names.WithDefaults()}
}

// Names returns the engine field names used by the codec.
func (c *Codec) Names() document.FieldNames { return c.names }

// Encode serializes the caller fields of d plus its schema version.
// Caller fields that collide with engine field names are dropped.
func (c *Codec) Encode(d *document.Document) ([]byte, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	var err error
	for _, k := range d.Keys() {
		if c.names.Reserved(k) {
			continue
		}
		v, _ := d.Get(k)
		if dst, err = appendValue(dst, k, v); err != nil {
			return nil, fmt.Errorf("encode field %q: %w", k, err)
		}
	}
	if d.Meta.SchemaVersion != "" {
		dst = bsoncore.AppendStringElement(dst, c.names.SchemaVersion, d.Meta.SchemaVersion)
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}

// Decode materializes data into a document. meta carries the column values;
// the schema version is read from the payload.
func (c *Codec) Decode(data []byte, meta document.Meta) (*document.Document, error) {
	r, err := NewReader(data)
	if err != nil {
		return nil, err
	}
	d := document.New()
	d.Meta = meta
	for r.Next() {
		key := r.Key()
		if key == c.names.SchemaVersion {
			v, err := r.Value()
			if err != nil {
				return nil, err
			}
			d.Meta.SchemaVersion = fmt.Sprint(v)
			continue
		}
		if c.names.Reserved(key) {
			continue
		}
		v, err := r.Value()
		if err != nil {
			return nil, err
		}
		if err := d.Set(key, v); err != nil {
			return nil, &DecodeError{Err: err}
		}
	}
	if err := r.Err(); err != nil {
		return nil, err
	}
	return d, nil
}

// DecodeOrFault decodes data and turns decode failures into a faulty shell.
func (c *Codec) DecodeOrFault(data []byte, meta document.Meta) *document.Document {
	d, err := c.Decode(data, meta)
	if err != nil {
		return document.NewFaulty(meta, err)
	}
	return d
}

// Inject returns data with the engine fields from meta written into the
// root of the payload. The caller payload is copied without decoding.
func (c *Codec) Inject(data []byte, meta document.Meta) ([]byte, error) {
	r, err := NewReader(data)
	if err != nil {
		return nil, err
	}
	if meta.ID != uuid.Nil {
		r.Override(c.names.ID, meta.ID.String())
		r.Override(c.names.Version, meta.Version)
	}
	if meta.ContentType != "" {
		r.Override(c.names.ContentType, meta.ContentType)
	}
	if meta.Area != "" {
		r.Override(c.names.Area, meta.Area)
	}
	if meta.Reference > 0 {
		r.Override(c.names.Reference, meta.Reference.String())
	}
	if !meta.Created.IsZero() {
		r.Override(c.names.Created, meta.Created.UTC())
	}
	if !meta.Updated.IsZero() {
		r.Override(c.names.Updated, meta.Updated.UTC())
	}
	if meta.Deleted {
		r.Override(c.names.Deleted, true)
	}
	return r.Bytes()
}
