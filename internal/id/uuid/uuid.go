// Package uuid generates run and download identifiers.
package uuid

import (
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
)

// Generator creates UUIDv7 strings. It implements crawler.IDGenerator.
type Generator struct{}

// New creates a new Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a UUIDv7 string. v7 values sort by creation time, so run and
// download ids order naturally in sidecars and logs.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate uuid7: %w", err)
	}
	return id.String(), nil
}

// Sequence hands out "<prefix>-0001", "<prefix>-0002", ... and is safe for
// concurrent use. It stands in for Generator where ids must be predictable.
type Sequence struct {
	prefix string
	n      atomic.Int64
}

// NewSequence returns a Sequence starting at 1.
func NewSequence(prefix string) *Sequence {
	return &Sequence{prefix: prefix}
}

// NewID returns the next id in the sequence.
func (s *Sequence) NewID() (string, error) {
	return fmt.Sprintf("%s-%04d", s.prefix, s.n.Add(1)), nil
}
