// Package idgen generates record identifiers.
package idgen

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a random (v4) UUID string.
func New() string {
	return uuid.NewString()
}

// WithPrefix returns prefix followed by a time-ordered (v7) UUID in hex, so
// IDs generated later sort after earlier ones (e.g. "ue_0192f3...").
func WithPrefix(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		// NewV7 only fails if the random source does; fall back to v4.
		id = uuid.New()
	}
	return prefix + strings.ReplaceAll(id.String(), "-", "")
}
