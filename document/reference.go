// Copyright 2025 Toly Pochkin
// SPDX-License-Identifier: Apache-2.0

package document

import (
	"fmt"
	"strconv"
	"strings"
)

// Reference is the per content type sequence number assigned at insert time.
// It is displayed in base 36.
type Reference int64

func (r Reference) String() string {
	return strconv.FormatInt(int64(r), 36)
}

// ParseReference parses the base 36 form produced by Reference.String.
func ParseReference(s string) (Reference, error) {
	n, err := strconv.ParseInt(strings.ToLower(strings.TrimSpace(s)), 36, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid reference %q: %w", s, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid reference %q: negative", s)
	}
	return Reference(n), nil
}
