// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mobiletoly/go-docstore/bsondoc"
	"github.com/mobiletoly/go-docstore/document"
)

// ChangeType classifies a change log entry.
type ChangeType int

const (
	ChangeCreate ChangeType = iota
	ChangeUpdate
	ChangeDelete
	ChangeFaulty

	changeTypeCount = 4
)

func (t ChangeType) String() string {
	switch t {
	case ChangeCreate:
		return "create"
	case ChangeUpdate:
		return "update"
	case ChangeDelete:
		return "delete"
	case ChangeFaulty:
		return "faulty"
	default:
		return "unknown"
	}
}

// Change is one decoded change log entry. Create and Update carry the
// post-image; Delete is a tombstone; Faulty carries the decode failure.
type Change struct {
	Token       int64
	Type        ChangeType
	ID          uuid.UUID
	ContentType string
	Reference   document.Reference
	Version     int64
	Created     time.Time
	Updated     time.Time
	Fault       string
	Raw         []byte // stored payload; nil for deletes

	area   string
	codec  *bsondoc.Codec
	once   sync.Once
	entity *document.Document
}

// Meta returns the engine metadata of the change subject.
func (c *Change) Meta() document.Meta {
	return document.Meta{
		ID:          c.ID,
		ContentType: c.ContentType,
		Area:        c.area,
		Reference:   c.Reference,
		Version:     c.Version,
		Created:     c.Created,
		Updated:     c.Updated,
	}
}

// Entity materializes the change subject on first call and caches it.
// Deletes yield a shell holding only the id and content type.
func (c *Change) Entity() *document.Document {
	c.once.Do(func() {
		switch c.Type {
		case ChangeDelete:
			d := document.New()
			d.Meta = document.Meta{ID: c.ID, ContentType: c.ContentType, Area: c.area}
			c.entity = d
		case ChangeFaulty:
			c.entity = document.NewFaulty(c.Meta(), nil)
			c.entity.Meta.Fault = c.Fault
		default:
			c.entity = c.codec.DecodeOrFault(c.Raw, c.Meta())
		}
	})
	return c.entity
}

// ChangeCounts breaks a collection down by change type.
type ChangeCounts struct {
	Total   int
	Created int
	Updated int
	Deleted int
	Faulty  int
}

func (c *ChangeCounts) add(t ChangeType) {
	c.Total++
	switch t {
	case ChangeCreate:
		c.Created++
	case ChangeUpdate:
		c.Updated++
	case ChangeDelete:
		c.Deleted++
	case ChangeFaulty:
		c.Faulty++
	}
}

// ChangeCollection is the result of a pull.
type ChangeCollection struct {
	Changes []*Change    // in token order
	Token   int64        // highest token examined; resume point for the next pull
	Count   ChangeCounts // by type
}

// NewChangeCollection builds a collection over changes, counting them by type.
func NewChangeCollection(changes []*Change, token int64) *ChangeCollection {
	cc := &ChangeCollection{Changes: changes, Token: token}
	for _, ch := range changes {
		cc.Count.add(ch.Type)
		if ch.Token > cc.Token {
			cc.Token = ch.Token
		}
	}
	return cc
}

// Len returns the number of changes in the collection.
func (cc *ChangeCollection) Len() int { return len(cc.Changes) }

// Partitioned returns the changes grouped as creates, updates, deletes and
// then faulty entries, preserving token order within each group.
func (cc *ChangeCollection) Partitioned() []*Change {
	var offsets [changeTypeCount + 1]int
	for _, ch := range cc.Changes {
		offsets[bucket(ch.Type)+1]++
	}
	for i := 1; i <= changeTypeCount; i++ {
		offsets[i] += offsets[i-1]
	}
	out := make([]*Change, len(cc.Changes))
	for _, ch := range cc.Changes {
		b := bucket(ch.Type)
		out[offsets[b]] = ch
		offsets[b]++
	}
	return out
}

func bucket(t ChangeType) int {
	if t < ChangeCreate || t > ChangeFaulty {
		return int(ChangeFaulty)
	}
	return int(t)
}
