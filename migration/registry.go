// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package migration resolves and applies per content type schema migrations.
//
// Migrators are registered once at configuration time. Each content type owns
// a partition of migrators ordered by schema version; versions are opaque
// strings ordered by a pluggable Comparator.
package migration

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/mobiletoly/go-docstore/document"
)

// ErrMigratorConfiguration is matched by every registration error.
var ErrMigratorConfiguration = errors.New("migrator configuration error")

// ConfigurationError reports a migrator that cannot be registered.
type ConfigurationError struct {
	ContentType string
	Version     string
	Reason      string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("migrator %s@%s: %s", e.ContentType, e.Version, e.Reason)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrMigratorConfiguration }

// Migrator upgrades a document to its version and downgrades it back.
type Migrator interface {
	Up(doc *document.Document) (*document.Document, error)
	Down(doc *document.Document) (*document.Document, error)
}

// Tagged is implemented by migrators that declare their own content type and
// target version. Registry.Add requires it.
type Tagged interface {
	ContentType() string
	Version() string
}

// Func is a Migrator built from plain functions. A nil Down leaves the document unchanged.
type Func struct {
	Type     string
	To       string
	UpFunc   func(doc *document.Document) (*document.Document, error)
	DownFunc func(doc *document.Document) (*document.Document, error)
}

func (f Func) ContentType() string { return f.Type }
func (f Func) Version() string     { return f.To }

func (f Func) Up(doc *document.Document) (*document.Document, error) {
	if f.UpFunc == nil {
		return doc, nil
	}
	return f.UpFunc(doc)
}

func (f Func) Down(doc *document.Document) (*document.Document, error) {
	if f.DownFunc == nil {
		return doc, nil
	}
	return f.DownFunc(doc)
}

// Entry is a registered migrator.
type Entry struct {
	ContentType string
	Version     string
	Migrator    Migrator
}

// Comparator orders schema versions: negative when a < b, zero when equal,
// positive when a > b.
type Comparator func(a, b string) int

// CompareVersions is the default comparator. Versions are split on '.' and
// compared segment by segment, numerically when both segments are integers
// and lexically otherwise. A missing segment sorts first.
func CompareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		if i >= len(as) {
			return -1
		}
		if i >= len(bs) {
			return 1
		}
		x, y := as[i], bs[i]
		xn, xerr := strconv.ParseInt(x, 10, 64)
		yn, yerr := strconv.ParseInt(y, 10, 64)
		if xerr == nil && yerr == nil {
			if xn != yn {
				if xn < yn {
					return -1
				}
				return 1
			}
			continue
		}
		if c := strings.Compare(x, y); c != 0 {
			return c
		}
	}
	return 0
}

// Registry holds migrators partitioned by content type.
type Registry struct {
	mu         sync.RWMutex
	compare    Comparator
	partitions map[string][]Entry
}

// NewRegistry returns an empty registry. A nil comparator selects CompareVersions.
func NewRegistry(compare Comparator) *Registry {
	if compare == nil {
		compare = CompareVersions
	}
	return &Registry{
		compare:    compare,
		partitions: make(map[string][]Entry),
	}
}

// Compare exposes the registry's comparator.
func (r *Registry) Compare(a, b string) int { return r.compare(a, b) }

// Add registers a migrator that implements Tagged.
func (r *Registry) Add(m Migrator) error {
	t, ok := m.(Tagged)
	if !ok {
		return &ConfigurationError{Reason: fmt.Sprintf("%T does not declare a content type and version", m)}
	}
	return r.Register(t.ContentType(), t.Version(), m)
}

// Register adds m for contentType at version, keeping the partition sorted.
func (r *Registry) Register(contentType, version string, m Migrator) error {
	contentType = strings.TrimSpace(contentType)
	version = strings.TrimSpace(version)
	if contentType == "" {
		return &ConfigurationError{Version: version, Reason: "missing content type"}
	}
	if version == "" {
		return &ConfigurationError{ContentType: contentType, Reason: "missing version"}
	}
	if m == nil {
		return &ConfigurationError{ContentType: contentType, Version: version, Reason: "nil migrator"}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	part := r.partitions[contentType]
	i, found := r.search(part, version)
	if found {
		return &ConfigurationError{ContentType: contentType, Version: version, Reason: "duplicate version"}
	}
	r.partitions[contentType] = slices.Insert(part, i, Entry{ContentType: contentType, Version: version, Migrator: m})
	return nil
}

// MustRegister is Register that panics on error. Intended for static setup.
func (r *Registry) MustRegister(contentType, version string, m Migrator) {
	if err := r.Register(contentType, version, m); err != nil {
		panic(err)
	}
}

// Entries returns a copy of the partition for contentType in ascending order.
func (r *Registry) Entries(contentType string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.partitions[contentType])
}

// Has reports whether any migrator is registered for contentType.
func (r *Registry) Has(contentType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.partitions[contentType]) > 0
}

// MigrationPath returns every migrator strictly newer than from, ascending.
// An exact match at from is skipped; otherwise the path starts at the
// insertion point of from.
func (r *Registry) MigrationPath(contentType, from string) []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	part := r.partitions[contentType]
	i, found := r.search(part, from)
	if found {
		i++
	}
	return slices.Clone(part[i:])
}

func (r *Registry) search(part []Entry, version string) (int, bool) {
	return slices.BinarySearchFunc(part, version, func(e Entry, v string) int {
		return r.compare(e.Version, v)
	})
}
