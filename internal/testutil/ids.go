package testutil

import (
	"fmt"
	"sync"
)

// SequenceGenerator generates task IDs of the form "<prefix>-0001",
// "<prefix>-0002", ... for tests.
//
// Unlike saga.FixedGenerator, SequenceGenerator can be reset for test reuse.
// This enables the same scenario to run multiple times with identical task
// IDs, which keeps golden traces byte-identical.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type SequenceGenerator struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequenceGenerator creates a generator. An empty prefix means "task".
//
// The first call to Generate() returns "<prefix>-0001".
func NewSequenceGenerator(prefix string) *SequenceGenerator {
	if prefix == "" {
		prefix = "task"
	}
	return &SequenceGenerator{prefix: prefix}
}

// Generate returns the next ID. Implements saga.IDGenerator.
func (g *SequenceGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

// Count returns how many IDs have been generated since the last Reset.
func (g *SequenceGenerator) Count() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.n
}

// Reset restarts the sequence.
//
// After Reset(), the next call to Generate() returns "<prefix>-0001".
func (g *SequenceGenerator) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n = 0
}
