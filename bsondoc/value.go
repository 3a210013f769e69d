// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package bsondoc

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"

	"github.com/mobiletoly/go-docstore/document"
)

var errMalformedValue = errors.New("malformed value")

// appendValue appends v as an element named key. v must already be a
// normalized tree value (see document.Normalize).
func appendValue(dst []byte, key string, v any) ([]byte, error) {
	switch x := v.(type) {
	case nil:
		return bsoncore.AppendNullElement(dst, key), nil
	case bool:
		return bsoncore.AppendBooleanElement(dst, key, x), nil
	case int64:
		return bsoncore.AppendInt64Element(dst, key, x), nil
	case float64:
		return bsoncore.AppendDoubleElement(dst, key, x), nil
	case string:
		return bsoncore.AppendStringElement(dst, key, x), nil
	case time.Time:
		return bsoncore.AppendDateTimeElement(dst, key, x.UnixMilli()), nil
	case []byte:
		return bsoncore.AppendBinaryElement(dst, key, 0x00, x), nil
	case []any:
		arr, err := encodeArray(x)
		if err != nil {
			return nil, err
		}
		return bsoncore.AppendArrayElement(dst, key, arr), nil
	case map[string]any:
		obj, err := encodeObject(x)
		if err != nil {
			return nil, err
		}
		return bsoncore.AppendDocumentElement(dst, key, obj), nil
	default:
		n, err := document.Normalize(v)
		if err != nil {
			return nil, err
		}
		return appendValue(dst, key, n)
	}
}

func encodeObject(m map[string]any) ([]byte, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	idx, dst := bsoncore.AppendDocumentStart(nil)
	var err error
	for _, k := range keys {
		if dst, err = appendValue(dst, k, m[k]); err != nil {
			return nil, err
		}
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}

func encodeArray(a []any) ([]byte, error) {
	idx, dst := bsoncore.AppendDocumentStart(nil)
	var err error
	for i, e := range a {
		if dst, err = appendValue(dst, strconv.Itoa(i), e); err != nil {
			return nil, err
		}
	}
	return bsoncore.AppendDocumentEnd(dst, idx)
}

// toNative converts a BSON value into a tree value.
func toNative(v bsoncore.Value) (any, error) {
	switch v.Type {
	case bsontype.Null, bsontype.Undefined:
		return nil, nil
	case bsontype.Boolean:
		b, ok := v.BooleanOK()
		if !ok {
			return nil, errMalformedValue
		}
		return b, nil
	case bsontype.Int32:
		n, ok := v.Int32OK()
		if !ok {
			return nil, errMalformedValue
		}
		return int64(n), nil
	case bsontype.Int64:
		n, ok := v.Int64OK()
		if !ok {
			return nil, errMalformedValue
		}
		return n, nil
	case bsontype.Double:
		f, ok := v.DoubleOK()
		if !ok {
			return nil, errMalformedValue
		}
		return f, nil
	case bsontype.String:
		s, ok := v.StringValueOK()
		if !ok {
			return nil, errMalformedValue
		}
		return s, nil
	case bsontype.DateTime:
		ms, ok := v.DateTimeOK()
		if !ok {
			return nil, errMalformedValue
		}
		return time.UnixMilli(ms).UTC(), nil
	case bsontype.Binary:
		_, data, ok := v.BinaryOK()
		if !ok {
			return nil, errMalformedValue
		}
		return data, nil
	case bsontype.ObjectID:
		oid, ok := v.ObjectIDOK()
		if !ok {
			return nil, errMalformedValue
		}
		return oid.Hex(), nil
	case bsontype.EmbeddedDocument:
		doc, ok := v.DocumentOK()
		if !ok {
			return nil, errMalformedValue
		}
		elems, err := doc.Elements()
		if err != nil {
			return nil, err
		}
		out := make(map[string]any, len(elems))
		for _, e := range elems {
			n, err := toNative(e.Value())
			if err != nil {
				return nil, err
			}
			out[e.Key()] = n
		}
		return out, nil
	case bsontype.Array:
		arr, ok := v.ArrayOK()
		if !ok {
			return nil, errMalformedValue
		}
		values, err := arr.Values()
		if err != nil {
			return nil, err
		}
		out := make([]any, len(values))
		for i, e := range values {
			n, err := toNative(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported bson type %s", v.Type)
	}
}
