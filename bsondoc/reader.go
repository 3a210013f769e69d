// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package bsondoc

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// DecodeError reports a stored payload that is not a valid document.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "decode document: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

type override struct {
	key   string
	value any
	seen  bool
}

// Reader streams the root-level elements of a BSON document. Values are only
// decoded when asked for; overrides replace (or append) root-level fields
// without touching the rest of the payload.
type Reader struct {
	doc       bsoncore.Document
	overrides []*override
	byKey     map[string]*override

	rem     []byte
	cur     bsoncore.Element
	curKey  string
	curOver *override
	tail    int
	started bool
	err     error
}

// NewReader validates data and returns a reader positioned before the first element.
func NewReader(data []byte) (*Reader, error) {
	doc := bsoncore.Document(data)
	if len(data) < 5 {
		return nil, &DecodeError{Err: errors.New("payload too short")}
	}
	if err := doc.Validate(); err != nil {
		return nil, &DecodeError{Err: err}
	}
	return &Reader{doc: doc, byKey: make(map[string]*override)}, nil
}

// Override sets a root-level field. Overrides must be registered before iteration starts.
func (r *Reader) Override(key string, value any) *Reader {
	if o, ok := r.byKey[key]; ok {
		o.value = value
		return r
	}
	o := &override{key: key, value: value}
	r.overrides = append(r.overrides, o)
	r.byKey[key] = o
	return r
}

// Next advances to the next root-level element. Stored elements come first in
// their stored order; overrides with no stored counterpart follow.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}
	if !r.started {
		r.started = true
		r.rem = r.doc[4 : len(r.doc)-1]
	}
	if len(r.rem) > 0 {
		elem, rest, ok := bsoncore.ReadElement(r.rem)
		if !ok {
			r.err = &DecodeError{Err: errors.New("malformed element")}
			return false
		}
		r.rem = rest
		r.cur = elem
		r.curKey = elem.Key()
		r.curOver = r.byKey[r.curKey]
		if r.curOver != nil {
			r.curOver.seen = true
		}
		return true
	}
	for r.tail < len(r.overrides) {
		o := r.overrides[r.tail]
		r.tail++
		if o.seen {
			continue
		}
		r.cur = nil
		r.curKey = o.key
		r.curOver = o
		return true
	}
	return false
}

// Key returns the current element's key.
func (r *Reader) Key() string { return r.curKey }

// Value decodes the current element.
func (r *Reader) Value() (any, error) {
	if r.curOver != nil {
		return r.curOver.value, nil
	}
	v, err := toNative(r.cur.Value())
	if err != nil {
		return nil, &DecodeError{Err: fmt.Errorf("field %q: %w", r.curKey, err)}
	}
	return v, nil
}

// Err returns the first iteration error.
func (r *Reader) Err() error { return r.err }

// Lookup returns a single root-level value without decoding the others.
func (r *Reader) Lookup(key string) (any, bool, error) {
	if o, ok := r.byKey[key]; ok {
		return o.value, true, nil
	}
	v, err := r.doc.LookupErr(key)
	if err != nil {
		if errors.Is(err, bsoncore.ErrElementNotFound) {
			return nil, false, nil
		}
		return nil, false, &DecodeError{Err: err}
	}
	n, err := toNative(v)
	if err != nil {
		return nil, false, &DecodeError{Err: fmt.Errorf("field %q: %w", key, err)}
	}
	return n, true, nil
}

// Bytes re-emits the document with overrides applied. Untouched elements are
// copied as raw bytes.
func (r *Reader) Bytes() ([]byte, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	rem := r.doc[4 : len(r.doc)-1]
	seen := make(map[string]bool, len(r.overrides))
	for len(rem) > 0 {
		elem, rest, ok := bsoncore.ReadElement(rem)
		if !ok {
			return nil, &DecodeError{Err: errors.New("malformed element")}
		}
		rem = rest
		key := elem.Key()
		if o, ok := r.byKey[key]; ok {
			var err error
			if dst, err = appendValue(dst, key, o.value); err != nil {
				return nil, err
			}
			seen[key] = true
			continue
		}
		dst = append(dst, elem...)
	}
	for _, o := range r.overrides {
		if seen[o.key] {
			continue
		}
		var err error
		if dst, err = appendValue(dst, o.key, o.value); err != nil {
			return nil, err
		}
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}
