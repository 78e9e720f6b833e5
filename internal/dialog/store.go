package dialog

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/schedcall/intake-engine/internal/domain"
)

// Store is the arena of live conversations, keyed by call id. Contexts
// are created on call initiation and reaped either on terminal phase or
// by the idle-timeout sweep; nothing relies on GC timing.
type Store struct {
	mu          sync.RWMutex
	calls       map[string]*Conversation
	idleTimeout time.Duration
	logger      *slog.Logger
	now         func() time.Time
}

// NewStore creates an empty conversation store.
func NewStore(idleTimeout time.Duration, logger *slog.Logger) *Store {
	return &Store{
		calls:       make(map[string]*Conversation),
		idleTimeout: idleTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// Create registers a new conversation. Creating a call id that is already
// live is a conversation error; telephony retries must not reset state.
func (s *Store) Create(callID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.calls[callID]; exists {
		return nil, domain.ErrConversation("call " + callID + " already active")
	}
	conv := newConversation(callID, s.now())
	s.calls[callID] = conv
	return conv, nil
}

// Get returns a live conversation.
func (s *Store) Get(callID string) (*Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.calls[callID]
	if !ok {
		return nil, domain.ErrConversation("call " + callID + " not found")
	}
	return conv, nil
}

// Remove evicts a conversation, typically after a terminal phase.
func (s *Store) Remove(callID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.calls, callID)
}

// Len returns the number of live conversations.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}

// Sweep evicts idle conversations until ctx is cancelled. Run it in its
// own goroutine next to the server.
func (s *Store) Sweep(ctx context.Context) error {
	interval := s.idleTimeout / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.sweepOnce()
		}
	}
}

func (s *Store) sweepOnce() {
	cutoff := s.now().Add(-s.idleTimeout)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conv := range s.calls {
		if conv.LastActive.Before(cutoff) {
			delete(s.calls, id)
			s.logger.Info("evicted idle conversation",
				slog.String("call_id", id),
				slog.Time("last_active", conv.LastActive),
			)
		}
	}
}
