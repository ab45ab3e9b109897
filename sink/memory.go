// Package sink provides graph.LineageSink and graph.DeadLetterSink implementations for
// Flowline: one in-process default plus narrow per-backend subpackages (sink/redis,
// sink/postgres, sink/sqlite).
package sink

import (
	"context"
	"sync"

	"github.com/nodestream/flowline/graph"
)

// MemorySink is an in-process graph.LineageSink and graph.DeadLetterSink, the default for
// development and tests.
type MemorySink struct {
	mu       sync.Mutex
	lineage  []graph.LineageInfo
	deadLetters []DeadLetterEntry
}

// DeadLetterEntry is one item MemorySink recorded via Send.
type DeadLetterEntry struct {
	Item   any
	Reason string
}

// NewMemorySink returns an empty MemorySink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record implements graph.LineageSink.
func (s *MemorySink) Record(ctx context.Context, info graph.LineageInfo) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lineage = append(s.lineage, info)
	return nil
}

// Send implements graph.DeadLetterSink.
func (s *MemorySink) Send(ctx context.Context, item any, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deadLetters = append(s.deadLetters, DeadLetterEntry{Item: item, Reason: reason})
	return nil
}

// Lineage returns a copy of every LineageInfo recorded so far.
func (s *MemorySink) Lineage() []graph.LineageInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]graph.LineageInfo{}, s.lineage...)
}

// DeadLetters returns a copy of every item sent to the dead letter sink so far.
func (s *MemorySink) DeadLetters() []DeadLetterEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeadLetterEntry{}, s.deadLetters...)
}
