// Package uuid provides harvest ID generation.
package uuid

import (
	"fmt"

	"github.com/google/uuid"
)

// Generator creates time-ordered UUID v7 strings, optionally prefixed so
// harvest IDs are recognisable in logs and Pub/Sub payloads.
type Generator struct {
	prefix string
}

// New creates a Generator. prefix may be empty.
func New(prefix string) *Generator {
	return &Generator{prefix: prefix}
}

// NewID returns a prefixed UUID7 string.
func (g Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return g.prefix + id.String(), nil
}

// Parse strips the prefix and validates the remainder as a UUID.
func (g Generator) Parse(id string) (uuid.UUID, error) {
	if len(id) < len(g.prefix) || id[:len(g.prefix)] != g.prefix {
		return uuid.Nil, fmt.Errorf("id %q lacks prefix %q", id, g.prefix)
	}
	parsed, err := uuid.Parse(id[len(g.prefix):])
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse id %q: %w", id, err)
	}
	return parsed, nil
}
