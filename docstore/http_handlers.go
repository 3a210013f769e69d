// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/mobiletoly/go-docstore/internal/auth"
)

const (
	defaultChangesLimit = 100
	maxChangesLimit     = 1000
)

// HTTPHandlers exposes read-only area endpoints over HTTP
type HTTPHandlers struct {
	store  *Store
	logger *slog.Logger
}

// NewHTTPHandlers creates a new instance of area handlers
func NewHTTPHandlers(store *Store, logger *slog.Logger) *HTTPHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPHandlers{
		store:  store,
		logger: logger,
	}
}

// Routes returns a mux with every endpoint behind jwtAuth. GET /health is public.
func (h *HTTPHandlers) Routes(jwtAuth *JWTAuth) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /areas/{area}/changes", jwtAuth.Middleware(http.HandlerFunc(h.HandleChanges)))
	mux.Handle("GET /areas/{area}/documents/{id}", jwtAuth.Middleware(http.HandlerFunc(h.HandleDocument)))
	mux.Handle("GET /areas/{area}/count", jwtAuth.Middleware(http.HandlerFunc(h.HandleCount)))
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	return mux
}

// HandleChanges serves GET /areas/{area}/changes?since=&limit=&deletes=&partitioned=
func (h *HTTPHandlers) HandleChanges(w http.ResponseWriter, r *http.Request) {
	area, ok := h.area(w, r)
	if !ok {
		return
	}

	since := int64(0)
	if s := r.URL.Query().Get("since"); s != "" {
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil || v < 0 {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "since must be a non-negative integer")
			return
		}
		since = v
	}

	limit := defaultChangesLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		v, err := strconv.Atoi(s)
		if err != nil || v < 1 || v > maxChangesLimit {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "limit must be between 1 and 1000")
			return
		}
		limit = v
	}

	opts := []PullOption{WithLimit(limit)}
	if s := r.URL.Query().Get("deletes"); s != "" {
		include, err := strconv.ParseBool(s)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "invalid_request", "deletes must be a boolean")
			return
		}
		if !include {
			opts = append(opts, WithoutDeletes())
		}
	}
	partitioned := r.URL.Query().Get("partitioned") == "true"

	cc, err := area.ChangeLog().Pull(r.Context(), since, opts...)
	if err != nil {
		h.logger.Error("Failed to pull changes", "error", err, "area", area.Name(), "since", since)
		h.writeError(w, http.StatusInternalServerError, "pull_failed", "Failed to pull changes")
		return
	}

	changes := cc.Changes
	if partitioned {
		changes = cc.Partitioned()
	}
	resp := ChangesResponse{
		Changes: make([]ChangeResponse, 0, len(changes)),
		Token:   cc.Token,
		Counts:  toCountsResponse(cc.Count),
	}
	names := h.store.Fields()
	for _, ch := range changes {
		resp.Changes = append(resp.Changes, ch.ToChangeResponse(names))
	}
	h.writeJSON(w, resp)
}

// HandleDocument serves GET /areas/{area}/documents/{id}
func (h *HTTPHandlers) HandleDocument(w http.ResponseWriter, r *http.Request) {
	area, ok := h.area(w, r)
	if !ok {
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "id must be a UUID")
		return
	}

	doc, err := area.Get(r.Context(), id)
	if err != nil {
		h.logger.Error("Failed to get document", "error", err, "area", area.Name(), "id", id)
		h.writeError(w, http.StatusInternalServerError, "get_failed", "Failed to get document")
		return
	}
	if doc == nil {
		h.writeError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}
	h.writeJSON(w, h.store.Fields().Render(doc))
}

// HandleCount serves GET /areas/{area}/count?content_type=
func (h *HTTPHandlers) HandleCount(w http.ResponseWriter, r *http.Request) {
	area, ok := h.area(w, r)
	if !ok {
		return
	}
	contentType := r.URL.Query().Get("content_type")
	n, err := area.Count(r.Context(), contentType)
	if err != nil {
		h.logger.Error("Failed to count documents", "error", err, "area", area.Name())
		h.writeError(w, http.StatusInternalServerError, "count_failed", "Failed to count documents")
		return
	}
	h.writeJSON(w, CountResponse{Area: area.Name(), ContentType: contentType, Count: n})
}

// area resolves and authorizes the {area} path value, writing the error response on failure.
func (h *HTTPHandlers) area(w http.ResponseWriter, r *http.Request) (*Area, bool) {
	name := r.PathValue("area")
	if !auth.AllowsArea(r.Context(), name) {
		h.writeError(w, http.StatusForbidden, "forbidden", "access to area denied")
		return nil, false
	}
	area, err := h.store.Area(name)
	switch {
	case errors.Is(err, ErrInvalidAreaName):
		h.writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return nil, false
	case errors.Is(err, ErrClosed):
		h.writeError(w, http.StatusServiceUnavailable, "unavailable", "document store is closed")
		return nil, false
	case err != nil:
		h.writeError(w, http.StatusInternalServerError, "internal_error", "Failed to open area")
		return nil, false
	}
	return area, true
}

func (h *HTTPHandlers) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Failed to encode response", "error", err)
	}
}

// writeError writes a standardized error response
func (h *HTTPHandlers) writeError(w http.ResponseWriter, statusCode int, errorCode, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResponse := ErrorResponse{
		Error:   errorCode,
		Message: message,
	}
	json.NewEncoder(w).Encode(errorResponse)

	h.logger.Debug("HTTP error response",
		"status_code", statusCode,
		"error_code", errorCode,
		"message", message)
}
