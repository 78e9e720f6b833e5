// Package persist provides TranscriptSink implementations. Sinks only
// ever receive redacted turn records; they are fire-and-forget from the
// dialog loop's perspective.
package persist

import (
	"context"
	"sync"

	"github.com/schedcall/intake-engine/internal/domain"
)

// MemorySink keeps transcripts in memory. Used in development and tests.
type MemorySink struct {
	mu    sync.RWMutex
	turns map[string][]domain.TurnRecord
}

// NewMemorySink creates an empty in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{turns: make(map[string][]domain.TurnRecord)}
}

func (s *MemorySink) Persist(ctx context.Context, callID string, turn domain.TurnRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[callID] = append(s.turns[callID], turn)
	return nil
}

// Turns returns a copy of the recorded turns for a call.
func (s *MemorySink) Turns(callID string) []domain.TurnRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.TurnRecord, len(s.turns[callID]))
	copy(out, s.turns[callID])
	return out
}

func (s *MemorySink) Close() error { return nil }
