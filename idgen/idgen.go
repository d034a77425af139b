// Package idgen generates run and request identifiers.
//
// IDs are UUID v7 so they sort by creation time in logs, sink envelopes
// and the dedup store.
package idgen

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

// UUIDv7 returns a Generator of RFC 9562 UUID v7 strings.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed prepends a fixed prefix ("run_", "req_") to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Default is UUID v7.
var Default Generator = UUIDv7()

// Run produces collection and import run ids.
var Run Generator = Prefixed("run_", Default)

// Request produces ids for HTTP and MCP calls.
var Request Generator = Prefixed("req_", Default)

// Parse validates a UUID, optionally behind a "xxx_" prefix, and returns
// it unchanged.
func Parse(s string) (string, error) {
	raw := s
	if i := strings.IndexByte(s, '_'); i >= 0 {
		raw = s[i+1:]
	}
	if _, err := uuid.Parse(raw); err != nil {
		return "", fmt.Errorf("idgen: invalid id %q: %w", s, err)
	}
	return s, nil
}
