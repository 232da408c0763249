package testutil

import (
	"fmt"
	"sync/atomic"
)

// SequenceIDGenerator generates prefix-0001, prefix-0002, ... in order.
//
// Used wherever a test needs stable document or human identifiers, so the
// same scenario always produces byte-identical output.
//
// Thread-safety: safe for concurrent use; each call gets a distinct id.
type SequenceIDGenerator struct {
	prefix string
	n      atomic.Int64
}

// NewSequenceIDGenerator creates a generator for prefix.
//
// If prefix is empty, ids look like "id-0001".
func NewSequenceIDGenerator(prefix string) *SequenceIDGenerator {
	if prefix == "" {
		prefix = "id"
	}
	return &SequenceIDGenerator{prefix: prefix}
}

// Generate returns the next id in the sequence.
func (g *SequenceIDGenerator) Generate() string {
	return fmt.Sprintf("%s-%04d", g.prefix, g.n.Add(1))
}

// FixedIDGenerator returns the same id every time.
type FixedIDGenerator string

// Generate returns the fixed id.
func (g FixedIDGenerator) Generate() string {
	return string(g)
}
