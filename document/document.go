// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

// Package document defines the typed document tree stored by docstore.
//
// A Document is a flat ordered set of caller fields plus engine managed
// metadata (Meta). Field values are restricted to a JSON-like tree:
// nil, bool, int64, float64, string, time.Time, []byte, []any and
// map[string]any. Set normalizes other Go scalar types into that set.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/google/uuid"
)

// ErrUnsupportedValue is returned when a value cannot be represented in the tree.
var ErrUnsupportedValue = errors.New("unsupported document value")

// Meta holds the engine managed fields of a stored document.
type Meta struct {
	ID            uuid.UUID
	ContentType   string
	Area          string
	Reference     Reference
	Version       int64
	SchemaVersion string
	Created       time.Time
	Updated       time.Time

	// Deleted is set on history snapshots captured at delete time.
	Deleted bool

	// Faulty marks a shell produced when the stored payload could not be decoded.
	Faulty bool
	Fault  string
}

// Document is a caller payload together with its engine metadata.
type Document struct {
	Meta Meta

	keys   []string
	fields map[string]any
}

// New returns an empty document.
func New() *Document {
	return &Document{fields: make(map[string]any)}
}

// FromMap builds a document from m. Keys are added in sorted order.
func FromMap(m map[string]any) (*Document, error) {
	d := New()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := d.Set(k, m[k]); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// NewFaulty returns a document shell for a payload that failed to decode.
func NewFaulty(meta Meta, cause error) *Document {
	d := New()
	d.Meta = meta
	d.Meta.Faulty = true
	if cause != nil {
		d.Meta.Fault = cause.Error()
	}
	return d
}

// Get returns the value stored under key.
func (d *Document) Get(key string) (any, bool) {
	if d == nil || d.fields == nil {
		return nil, false
	}
	v, ok := d.fields[key]
	return v, ok
}

// Set stores value under key after normalizing it.
func (d *Document) Set(key string, value any) error {
	if key == "" {
		return fmt.Errorf("%w: empty key", ErrUnsupportedValue)
	}
	v, err := Normalize(value)
	if err != nil {
		return fmt.Errorf("field %q: %w", key, err)
	}
	if d.fields == nil {
		d.fields = make(map[string]any)
	}
	if _, exists := d.fields[key]; !exists {
		d.keys = append(d.keys, key)
	}
	d.fields[key] = v
	return nil
}

// Delete removes key from the document.
func (d *Document) Delete(key string) {
	if d == nil || d.fields == nil {
		return
	}
	if _, ok := d.fields[key]; !ok {
		return
	}
	delete(d.fields, key)
	if i := slices.Index(d.keys, key); i >= 0 {
		d.keys = slices.Delete(d.keys, i, i+1)
	}
}

// Has reports whether key is present.
func (d *Document) Has(key string) bool {
	_, ok := d.Get(key)
	return ok
}

// Len returns the number of caller fields.
func (d *Document) Len() int {
	if d == nil {
		return 0
	}
	return len(d.keys)
}

// Keys returns the caller field names in insertion order.
func (d *Document) Keys() []string {
	if d == nil {
		return nil
	}
	return slices.Clone(d.keys)
}

// Fields returns a shallow copy of the caller fields.
func (d *Document) Fields() map[string]any {
	out := make(map[string]any, d.Len())
	if d == nil {
		return out
	}
	for k, v := range d.fields {
		out[k] = v
	}
	return out
}

// String returns the string value under key.
func (d *Document) String(key string) (string, bool) {
	v, ok := d.Get(key)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Int returns the integer value under key. Whole floats are accepted.
func (d *Document) Int(key string) (int64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case int64:
		return n, true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

// Float returns the numeric value under key as float64.
func (d *Document) Float(key string) (float64, bool) {
	v, ok := d.Get(key)
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// Bool returns the boolean value under key.
func (d *Document) Bool(key string) (bool, bool) {
	v, ok := d.Get(key)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Object returns the nested object under key.
func (d *Document) Object(key string) (map[string]any, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}

// Array returns the array under key.
func (d *Document) Array(key string) ([]any, bool) {
	v, ok := d.Get(key)
	if !ok {
		return nil, false
	}
	a, ok := v.([]any)
	return a, ok
}

// Clone returns a deep copy of d.
func (d *Document) Clone() *Document {
	if d == nil {
		return nil
	}
	c := &Document{
		Meta:   d.Meta,
		keys:   slices.Clone(d.keys),
		fields: make(map[string]any, len(d.fields)),
	}
	for k, v := range d.fields {
		c.fields[k] = cloneValue(v)
	}
	return c
}

// EqualFields reports whether d and other carry deep-equal caller fields.
// Field order and metadata are ignored.
func (d *Document) EqualFields(other *Document) bool {
	if d.Len() != other.Len() {
		return false
	}
	for _, k := range d.Keys() {
		a, _ := d.Get(k)
		b, ok := other.Get(k)
		if !ok || !equalValue(a, b) {
			return false
		}
	}
	return true
}

// Normalize converts v into one of the tree value types. Times become UTC
// truncated to whole milliseconds, the precision payloads store.
func Normalize(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string, int64, float64, []byte:
		return x, nil
	case int:
		return int64(x), nil
	case int8:
		return int64(x), nil
	case int16:
		return int64(x), nil
	case int32:
		return int64(x), nil
	case uint8:
		return int64(x), nil
	case uint16:
		return int64(x), nil
	case uint32:
		return int64(x), nil
	case uint:
		if uint64(x) > 1<<63-1 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, x)
		}
		return int64(x), nil
	case uint64:
		if x > 1<<63-1 {
			return nil, fmt.Errorf("%w: %d overflows int64", ErrUnsupportedValue, x)
		}
		return int64(x), nil
	case float32:
		return float64(x), nil
	case time.Time:
		return x.UTC().Truncate(time.Millisecond), nil
	case uuid.UUID:
		return x.String(), nil
	case Reference:
		return x.String(), nil
	case interface{ Int64() (int64, error) }:
		// json.Number
		if n, err := x.Int64(); err == nil {
			return n, nil
		}
		if f, ok := x.(interface{ Float64() (float64, error) }); ok {
			n, err := f.Float64()
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrUnsupportedValue, err)
			}
			return n, nil
		}
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case []string:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = e
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	case *Document:
		return x.Fields(), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
	}
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []byte:
		return bytes.Clone(x)
	default:
		return x
	}
}

func equalValue(a, b any) bool {
	switch x := a.(type) {
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !equalValue(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, e := range x {
			f, ok := y[k]
			if !ok || !equalValue(e, f) {
				return false
			}
		}
		return true
	case []byte:
		y, ok := b.([]byte)
		return ok && bytes.Equal(x, y)
	case time.Time:
		y, ok := b.(time.Time)
		return ok && x.Equal(y)
	default:
		return a == b
	}
}
