// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound        = errors.New("document not found")
	ErrValidation      = errors.New("validation failed")
	ErrInvalidAreaName = errors.New("invalid area name")
	ErrHistoryDisabled = errors.New("history is disabled for area")
	ErrClosed          = errors.New("document store has been closed")
)

// NotFoundError is returned by Update when the target id does not exist.
type NotFoundError struct {
	Area string
	ID   uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: document %s not found", e.Area, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ValidationError reports a rejected argument. Area name failures also match ErrInvalidAreaName.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	if target == ErrValidation {
		return true
	}
	return target == ErrInvalidAreaName && e.Field == "area"
}
