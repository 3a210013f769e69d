// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"github.com/mobiletoly/go-docstore/document"
)

// REST/JSON models for HTTP API responses

// ChangesResponse represents one page of the change feed
type ChangesResponse struct {
	Changes []ChangeResponse `json:"changes"` // Changes in token order (or partitioned on request)
	Token   int64            `json:"token"`   // Resume token for the next request
	Counts  CountsResponse   `json:"counts"`  // Breakdown by change type
}

// ChangeResponse represents a single change in a changes response
type ChangeResponse struct {
	Token       int64          `json:"token"`
	Type        string         `json:"type"` // create, update, delete, faulty
	ID          string         `json:"id"`
	ContentType string         `json:"content_type"`
	Reference   string         `json:"reference"` // base-36
	Version     int64          `json:"version"`
	Document    map[string]any `json:"document,omitempty"` // Post-image for create/update
	Fault       string         `json:"fault,omitempty"`
}

// CountsResponse mirrors ChangeCounts
type CountsResponse struct {
	Total   int `json:"total"`
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Faulty  int `json:"faulty"`
}

// CountResponse represents a document count
type CountResponse struct {
	Area        string `json:"area"`
	ContentType string `json:"content_type,omitempty"`
	Count       int64  `json:"count"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ToChangeResponse converts a Change to its JSON form
func (c *Change) ToChangeResponse(names document.FieldNames) ChangeResponse {
	out := ChangeResponse{
		Token:       c.Token,
		Type:        c.Type.String(),
		ID:          c.ID.String(),
		ContentType: c.ContentType,
		Reference:   c.Reference.String(),
		Version:     c.Version,
		Fault:       c.Fault,
	}
	if c.Type == ChangeCreate || c.Type == ChangeUpdate {
		e := c.Entity()
		if e.Meta.Faulty {
			out.Type = ChangeFaulty.String()
			out.Fault = e.Meta.Fault
		} else {
			out.Document = names.Render(e)
		}
	}
	return out
}

func toCountsResponse(c ChangeCounts) CountsResponse {
	return CountsResponse{
		Total:   c.Total,
		Created: c.Created,
		Updated: c.Updated,
		Deleted: c.Deleted,
		Faulty:  c.Faulty,
	}
}
