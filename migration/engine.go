// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package migration

import (
	"fmt"

	"github.com/mobiletoly/go-docstore/document"
)

// Engine applies registry migrators relative to a current schema version.
type Engine struct {
	registry *Registry
	current  string
}

// NewEngine returns an engine migrating documents up to current.
// A nil registry yields an engine that never changes documents.
func NewEngine(registry *Registry, current string) *Engine {
	if registry == nil {
		registry = NewRegistry(nil)
	}
	return &Engine{registry: registry, current: current}
}

// Current returns the version documents are upgraded to.
func (e *Engine) Current() string { return e.current }

// Registry returns the engine's registry.
func (e *Engine) Registry() *Registry { return e.registry }

// MigrationPath delegates to the registry.
func (e *Engine) MigrationPath(contentType, from string) []Entry {
	return e.registry.MigrationPath(contentType, from)
}

// Upgrade migrates doc up to the current version and returns the result. It
// reports whether any migrator ran; documents at or above the current version are left alone.
func (e *Engine) Upgrade(doc *document.Document) (*document.Document, bool, error) {
	d := doc
	if d == nil || e.current == "" {
		return doc, false, nil
	}
	from := d.Meta.SchemaVersion
	if from != "" && e.registry.Compare(from, e.current) >= 0 {
		return doc, false, nil
	}

	changed := false
	for _, entry := range e.registry.MigrationPath(d.Meta.ContentType, from) {
		if e.registry.Compare(entry.Version, e.current) > 0 {
			break
		}
		meta := d.Meta
		next, err := entry.Migrator.Up(d)
		if err != nil {
			return doc, false, fmt.Errorf("migrate %s up to %s: %w", entry.ContentType, entry.Version, err)
		}
		if next == nil {
			return doc, false, fmt.Errorf("migrate %s up to %s: migrator returned nil document", entry.ContentType, entry.Version)
		}
		next.Meta = meta
		next.Meta.SchemaVersion = entry.Version
		d = next
		changed = true
	}
	if !changed {
		return doc, false, nil
	}
	d.Meta.SchemaVersion = e.current
	return d, true, nil
}

// Downgrade migrates doc down to target by running Down for every migrator in
// (target, doc version], newest first. A document at or below target is left
// alone, as is one with no migrator in range.
func (e *Engine) Downgrade(doc *document.Document, target string) (*document.Document, bool, error) {
	d := doc
	if d == nil {
		return doc, false, nil
	}
	from := d.Meta.SchemaVersion
	if from == "" || e.registry.Compare(from, target) <= 0 {
		return doc, false, nil
	}

	part := e.registry.Entries(d.Meta.ContentType)
	changed := false
	for i := len(part) - 1; i >= 0; i-- {
		entry := part[i]
		if e.registry.Compare(entry.Version, from) > 0 {
			continue
		}
		if e.registry.Compare(entry.Version, target) <= 0 {
			break
		}
		meta := d.Meta
		prev, err := entry.Migrator.Down(d)
		if err != nil {
			return doc, false, fmt.Errorf("migrate %s down from %s: %w", entry.ContentType, entry.Version, err)
		}
		if prev == nil {
			return doc, false, fmt.Errorf("migrate %s down from %s: migrator returned nil document", entry.ContentType, entry.Version)
		}
		prev.Meta = meta
		d = prev
		changed = true
	}
	if !changed {
		return doc, false, nil
	}
	d.Meta.SchemaVersion = target
	return d, true, nil
}
