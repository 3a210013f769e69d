// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package document

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FieldNames maps engine fields to the root-level property names used when a
// document is rendered or parsed. Empty names fall back to the defaults.
type FieldNames struct {
	ID            string
	ContentType   string
	Area          string
	Reference     string
	Version       string
	SchemaVersion string
	Created       string
	Updated       string
	Deleted       string
	Faulty        string
	Fault         string
}

// DefaultFieldNames returns the standard "$"-prefixed engine field names.
func DefaultFieldNames() FieldNames {
	return FieldNames{
		ID:            "$id",
		ContentType:   "$contentType",
		Area:          "$area",
		Reference:     "$reference",
		Version:       "$version",
		SchemaVersion: "$schemaVersion",
		Created:       "$created",
		Updated:       "$updated",
		Deleted:       "$deleted",
		Faulty:        "$faulty",
		Fault:         "$exception",
	}
}

// WithDefaults fills every empty name with its default.
func (n FieldNames) WithDefaults() FieldNames {
	def := DefaultFieldNames()
	fill := func(v *string, d string) {
		if *v == "" {
			*v = d
		}
	}
	fill(&n.ID, def.ID)
	fill(&n.ContentType, def.ContentType)
	fill(&n.Area, def.Area)
	fill(&n.Reference, def.Reference)
	fill(&n.Version, def.Version)
	fill(&n.SchemaVersion, def.SchemaVersion)
	fill(&n.Created, def.Created)
	fill(&n.Updated, def.Updated)
	fill(&n.Deleted, def.Deleted)
	fill(&n.Faulty, def.Faulty)
	fill(&n.Fault, def.Fault)
	return n
}

// Reserved reports whether key names an engine field.
func (n FieldNames) Reserved(key string) bool {
	switch key {
	case n.ID, n.ContentType, n.Area, n.Reference, n.Version, n.SchemaVersion,
		n.Created, n.Updated, n.Deleted, n.Faulty, n.Fault:
		return true
	}
	return false
}

// Render returns the caller fields of d merged with its metadata under the
// configured names. Zero metadata values are omitted.
func (n FieldNames) Render(d *Document) map[string]any {
	out := d.Fields()
	m := d.Meta
	if m.ID != uuid.Nil {
		out[n.ID] = m.ID.String()
	}
	if m.ContentType != "" {
		out[n.ContentType] = m.ContentType
	}
	if m.Area != "" {
		out[n.Area] = m.Area
	}
	if m.Reference > 0 {
		out[n.Reference] = m.Reference.String()
	}
	if m.ID != uuid.Nil {
		out[n.Version] = m.Version
	}
	if m.SchemaVersion != "" {
		out[n.SchemaVersion] = m.SchemaVersion
	}
	if !m.Created.IsZero() {
		out[n.Created] = m.Created.UTC().Format(time.RFC3339Nano)
	}
	if !m.Updated.IsZero() {
		out[n.Updated] = m.Updated.UTC().Format(time.RFC3339Nano)
	}
	if m.Deleted {
		out[n.Deleted] = true
	}
	if m.Faulty {
		out[n.Faulty] = true
		out[n.Fault] = m.Fault
	}
	return out
}

// Parse builds a document from a decoded JSON object. Engine fields found in
// m are lifted into Meta; everything else becomes a caller field.
func (n FieldNames) Parse(m map[string]any) (*Document, error) {
	caller := make(map[string]any, len(m))
	var meta Meta
	for k, v := range m {
		if !n.Reserved(k) {
			caller[k] = v
			continue
		}
		switch k {
		case n.ID:
			s, _ := v.(string)
			id, err := uuid.Parse(s)
			if err != nil {
				return nil, fmt.Errorf("field %q: invalid id: %w", k, err)
			}
			meta.ID = id
		case n.ContentType:
			meta.ContentType, _ = v.(string)
		case n.SchemaVersion:
			meta.SchemaVersion = fmt.Sprint(v)
		case n.Reference:
			if s, ok := v.(string); ok && s != "" {
				ref, err := ParseReference(s)
				if err != nil {
					return nil, fmt.Errorf("field %q: %w", k, err)
				}
				meta.Reference = ref
			}
		}
	}
	d, err := FromMap(caller)
	if err != nil {
		return nil, err
	}
	d.Meta = meta
	return d, nil
}
