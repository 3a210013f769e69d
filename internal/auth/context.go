// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package auth

import (
	"context"
	"slices"
)

type contextKey string

const (
	subjectKey contextKey = "subject"
	areasKey   contextKey = "areas"
)

// SetSubject sets the authenticated subject in the context
func SetSubject(ctx context.Context, subject string) context.Context {
	return context.WithValue(ctx, subjectKey, subject)
}

// GetSubject retrieves the authenticated subject from the context
func GetSubject(ctx context.Context) (string, bool) {
	subject, ok := ctx.Value(subjectKey).(string)
	return subject, ok
}

// SetAreas restricts the context to the given areas. An empty list grants every area.
func SetAreas(ctx context.Context, areas []string) context.Context {
	return context.WithValue(ctx, areasKey, slices.Clone(areas))
}

// AllowsArea reports whether the context grants access to area.
// A context without a subject grants nothing.
func AllowsArea(ctx context.Context, area string) bool {
	if _, ok := GetSubject(ctx); !ok {
		return false
	}
	areas, _ := ctx.Value(areasKey).([]string)
	return len(areas) == 0 || slices.Contains(areas, area)
}

// SetAuthContext sets subject and area grants in context
func SetAuthContext(ctx context.Context, subject string, areas []string) context.Context {
	ctx = SetSubject(ctx, subject)
	ctx = SetAreas(ctx, areas)
	return ctx
}
