// Package dialog is the top-level orchestrator: it owns conversation
// state, drives phase transitions, and is the only writer of slots and
// turn history for a call.
package dialog

import (
	"sync"
	"time"

	"github.com/schedcall/intake-engine/internal/domain"
	"github.com/schedcall/intake-engine/internal/slots"
)

// RoutingState tracks the sticky provider/model for a call and when the
// engine last forced a promotion.
type RoutingState struct {
	Sticky            *domain.StickyRef
	LastPromotionTurn int
}

// ConsentState records whether recording consent was captured and granted.
type ConsentState struct {
	Captured bool
	Granted  bool
}

// Conversation is the per-call context. Single-writer: ProcessTurn locks
// mu for the whole turn, serializing turns of the same call while turns
// of different calls run in parallel.
type Conversation struct {
	mu sync.Mutex

	CallID             string
	CallerNumber       string // redacted; never holds raw digits
	Phase              domain.Phase
	History            []domain.TurnRecord
	Slots              *slots.Slots
	Routing            RoutingState
	Consent            ConsentState
	Turn               int
	ClarificationTurns int
	PrevConfidence     float64
	Latency            domain.LatencyRequirement
	Completion         domain.CompletionType
	StartedAt          time.Time
	LastActive         time.Time
}

func newConversation(callID string, now time.Time) *Conversation {
	return &Conversation{
		CallID:         callID,
		Phase:          domain.PhaseGreeting,
		Slots:          slots.New(),
		PrevConfidence: 1.0,
		Latency:        domain.LatencyStandard,
		StartedAt:      now,
		LastActive:     now,
	}
}

// appendTurn records a redacted turn, keeping the history bounded to the
// most recent limit entries.
func (c *Conversation) appendTurn(rec domain.TurnRecord, limit int) {
	c.History = append(c.History, rec)
	if limit > 0 && len(c.History) > limit {
		c.History = c.History[len(c.History)-limit:]
	}
}

// recentLines returns redacted history lines for context hashing.
func (c *Conversation) recentLines() []string {
	lines := make([]string, 0, len(c.History)*2)
	for _, rec := range c.History {
		lines = append(lines, rec.RedactedInput, rec.RedactedReply)
	}
	return lines
}
