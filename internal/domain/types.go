// Package domain holds the canonical types shared by the intake engine:
// dialog phases, routing tiers, per-turn decisions, and the structured
// results providers return.
package domain

import (
	"time"
)

// Phase is the dialog state for a call.
type Phase string

const (
	PhaseGreeting             Phase = "greeting"
	PhaseIntentClassification Phase = "intent_classification"
	PhaseSlotFilling          Phase = "slot_filling"
	PhaseConfirmation         Phase = "confirmation"
	PhaseHandoff              Phase = "handoff"
	PhaseEscalation           Phase = "escalation"
	PhaseCompletion           Phase = "completion"
)

// Terminal reports whether the phase ends the call.
func (p Phase) Terminal() bool {
	return p == PhaseCompletion
}

// CompletionType records why a call reached handoff, escalation, or completion.
type CompletionType string

const (
	CompletionScheduled       CompletionType = "scheduled"
	CompletionTimeout         CompletionType = "timeout"
	CompletionTechnicalError  CompletionType = "technical_error"
	CompletionConsentDeclined CompletionType = "consent_declined"
	CompletionCallerCancelled CompletionType = "caller_cancelled"
	CompletionEscalated       CompletionType = "escalated"
)

// Tier is the capability class of a provider/model pairing.
// Higher tiers cost more and answer harder turns.
type Tier int

const (
	TierPrimary Tier = iota
	TierEnhanced
	TierPremium
	TierSpecialized
)

var tierNames = map[Tier]string{
	TierPrimary:     "primary",
	TierEnhanced:    "enhanced",
	TierPremium:     "premium",
	TierSpecialized: "specialized",
}

func (t Tier) String() string {
	if s, ok := tierNames[t]; ok {
		return s
	}
	return "primary"
}

// ParseTier maps a configured tier name to its Tier. Unknown names fall
// back to the primary tier rather than failing config load.
func ParseTier(s string) Tier {
	for t, name := range tierNames {
		if name == s {
			return t
		}
	}
	return TierPrimary
}

// Promote returns the next tier up, saturating at Specialized.
func (t Tier) Promote() Tier {
	if t >= TierSpecialized {
		return TierSpecialized
	}
	return t + 1
}

// Demote returns the next tier down, saturating at Primary.
func (t Tier) Demote() Tier {
	if t <= TierPrimary {
		return TierPrimary
	}
	return t - 1
}

// LatencyRequirement classifies how quickly a turn must complete.
type LatencyRequirement string

const (
	LatencyStandard  LatencyRequirement = "standard"
	LatencyLow       LatencyRequirement = "low"
	LatencyCritical  LatencyRequirement = "critical"
	LatencyEmergency LatencyRequirement = "emergency"
)

// ReasonCode explains why a routing decision selected its provider/model.
type ReasonCode string

const (
	ReasonStickiness             ReasonCode = "stickiness"
	ReasonPromotionComplexity    ReasonCode = "promotion-by-complexity"
	ReasonPromotionLowConfidence ReasonCode = "promotion-by-low-confidence"
	ReasonFallbackBreakerOpen    ReasonCode = "fallback-after-breaker-open"
	ReasonCacheHit               ReasonCode = "cache-hit"
)

// StickyRef identifies the provider/model a call is currently pinned to.
type StickyRef struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Tier     Tier   `json:"tier"`
}

// RoutingDecision is the per-turn outcome of the routing engine. It lives
// only for the turn, plus one entry in the call's turn history trace.
type RoutingDecision struct {
	Provider   string     `json:"provider"`
	Model      string     `json:"model"`
	Tier       Tier       `json:"tier"`
	Reason     ReasonCode `json:"reason"`
	Complexity float64    `json:"complexity"`
	Confidence float64    `json:"confidence"`
	CacheHit   bool       `json:"cache_hit"`
}

// IntentSignal is an explicit caller intent the dialog reacts to.
type IntentSignal string

const (
	IntentNone            IntentSignal = ""
	IntentSchedule        IntentSignal = "schedule"
	IntentCancel          IntentSignal = "cancel"
	IntentEscalate        IntentSignal = "escalate"
	IntentRepeat          IntentSignal = "repeat"
	IntentConfirm         IntentSignal = "confirm"
	IntentDispute         IntentSignal = "dispute"
	IntentConsentGranted  IntentSignal = "consent_granted"
	IntentConsentDeclined IntentSignal = "consent_declined"
)

// ExtractedValue is one field a model pulled out of caller input.
type ExtractedValue struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// ModelResult is the structured output of a provider invocation. All text
// fields are redacted before the result crosses into caches or sinks.
type ModelResult struct {
	Reply      string                    `json:"reply"`
	Intent     IntentSignal              `json:"intent"`
	Extraction map[string]ExtractedValue `json:"extraction,omitempty"`
	TokensUsed int                       `json:"tokens_used"`
	Latency    time.Duration             `json:"latency"`
}

// PromptContext is the redacted conversational context handed to a
// provider. The engine never passes raw caller input here.
type PromptContext struct {
	Input         string   `json:"input"`
	History       []string `json:"history,omitempty"`
	Phase         Phase    `json:"phase"`
	MissingFields []string `json:"missing_fields,omitempty"`
}

// TurnRecord is one entry of a call's bounded turn history. Only redacted
// content may be stored here.
type TurnRecord struct {
	Turn          int             `json:"turn"`
	Phase         Phase           `json:"phase"`
	Decision      RoutingDecision `json:"decision"`
	RedactedInput string          `json:"redacted_input"`
	RedactedReply string          `json:"redacted_reply"`
	At            time.Time       `json:"at"`
}

// DialogResponse is what the engine returns to the presentation layer
// after each turn: the next prompt and where the dialog stands.
type DialogResponse struct {
	CallID     string         `json:"call_id"`
	Turn       int            `json:"turn"`
	Phase      Phase          `json:"phase"`
	Prompt     string         `json:"prompt"`
	Done       bool           `json:"done"`
	Completion CompletionType `json:"completion,omitempty"`
	Missing    []string       `json:"missing_fields,omitempty"`
}
