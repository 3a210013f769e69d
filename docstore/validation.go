// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package docstore

import (
	"regexp"
	"strings"
)

// Postgres truncates identifiers past 63 bytes; the longest table suffix is ".changelog".
const maxAreaNameLen = 63 - len(changelogSuffix)

// Suffixes naming an area's auxiliary tables. An area name ending in one
// would resolve its document table to another area's auxiliary table.
var reservedAreaSuffixes = []string{seedSuffix, changelogSuffix, historySuffix}

var (
	areaNameRe   = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	schemaNameRe = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)
)

func validateAreaName(name string) error {
	switch {
	case name == "":
		return &ValidationError{Field: "area", Value: name, Reason: "must not be empty"}
	case len(name) > maxAreaNameLen:
		return &ValidationError{Field: "area", Value: name, Reason: "too long"}
	case !areaNameRe.MatchString(name):
		return &ValidationError{Field: "area", Value: name, Reason: "must match ^[A-Za-z0-9._-]+$"}
	}
	for _, suffix := range reservedAreaSuffixes {
		if strings.HasSuffix(name, suffix) {
			return &ValidationError{Field: "area", Value: name, Reason: "must not end in " + suffix}
		}
	}
	return nil
}

func validateSchemaName(name string) error {
	if len(name) > 63 || !schemaNameRe.MatchString(name) {
		return &ValidationError{Field: "schema", Value: name, Reason: "must match ^[a-z_][a-z0-9_]*$"}
	}
	return nil
}

func validateContentType(contentType string) error {
	if strings.TrimSpace(contentType) == "" {
		return &ValidationError{Field: "contentType", Value: contentType, Reason: "must not be empty"}
	}
	return nil
}
