package provider

import (
	"context"
	"regexp"
	"strings"

	"github.com/schedcall/intake-engine/internal/config"
	"github.com/schedcall/intake-engine/internal/domain"
)

// HeuristicType is the adapter type for the built-in rule-based backend.
const HeuristicType = "heuristic"

// Heuristic is a deterministic, network-free adapter. It extracts slots
// from redacted prompt context with keyword and token rules, which keeps
// the engine runnable end-to-end in development and tests. Extraction
// confidence scales with the configured tier so routing behaves the same
// way it does against real backends of differing capability.
type Heuristic struct {
	id         string
	confidence float64
}

// RegisterHeuristic makes the heuristic adapter type available.
func RegisterHeuristic() {
	RegisterFactory(Factory{
		Type:        HeuristicType,
		Description: "deterministic rule-based adapter for development and tests",
		New: func(cfg config.ProviderConfig) (domain.ModelProvider, error) {
			return &Heuristic{
				id:         cfg.ID,
				confidence: tierConfidence(domain.ParseTier(cfg.Tier)),
			}, nil
		},
	})
}

func tierConfidence(t domain.Tier) float64 {
	switch t {
	case domain.TierSpecialized:
		return 0.95
	case domain.TierPremium:
		return 0.9
	case domain.TierEnhanced:
		return 0.82
	default:
		return 0.72
	}
}

func (h *Heuristic) ID() string { return h.id }

// Probe always succeeds; there is no remote endpoint to check.
func (h *Heuristic) Probe(ctx context.Context) error { return ctx.Err() }

var (
	nameTokenRe  = regexp.MustCompile(`\[NAME:[0-9a-f]{8}\]`)
	dateTokenRe  = regexp.MustCompile(`\[DATE:[0-9a-f]{8}\]`)
	phoneTokenRe = regexp.MustCompile(`\[PHONE:[0-9a-f]{8}\]`)
	doctorRe     = regexp.MustCompile(`(?i)\b(?:dr\.?|doctor)\s+(\[NAME:[0-9a-f]{8}\]|[A-Z][a-zA-Z'-]+)`)
)

var insurancePlans = []string{
	"aetna", "cigna", "blue cross", "blue shield", "united", "humana",
	"kaiser", "medicare", "medicaid", "anthem",
}

var appointmentTypes = []string{
	"checkup", "check-up", "cleaning", "physical", "consultation",
	"follow-up", "follow up", "new patient", "annual", "vaccination",
	"x-ray", "screening",
}

var scheduleCues = []string{
	"morning", "afternoon", "evening", "monday", "tuesday", "wednesday",
	"thursday", "friday", "next week", "this week", "tomorrow", "asap",
	"weekend",
}

var specialCues = []string{
	"wheelchair", "interpreter", "translator", "hearing", "anxious",
	"anxiety", "allergic", "allergy", "assistance",
}

// Invoke runs the rule set over the redacted input and produces a
// structured result. Deterministic for a given prompt and tier.
func (h *Heuristic) Invoke(ctx context.Context, model string, prompt domain.PromptContext) (*domain.ModelResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	low := strings.ToLower(prompt.Input)
	result := &domain.ModelResult{
		Intent:     detectIntent(low, prompt.Phase),
		Extraction: make(map[string]domain.ExtractedValue),
		TokensUsed: len(strings.Fields(prompt.Input)),
	}

	if tok := nameTokenRe.FindString(prompt.Input); tok != "" {
		result.Extraction["patient_name"] = domain.ExtractedValue{Value: tok, Confidence: h.confidence}
	}
	if tok := dateTokenRe.FindString(prompt.Input); tok != "" {
		result.Extraction["date_of_birth"] = domain.ExtractedValue{Value: tok, Confidence: h.confidence}
	}
	if tok := phoneTokenRe.FindString(prompt.Input); tok != "" {
		result.Extraction["callback_number"] = domain.ExtractedValue{Value: tok, Confidence: h.confidence}
	}
	if m := doctorRe.FindStringSubmatch(prompt.Input); m != nil {
		result.Extraction["provider_preference"] = domain.ExtractedValue{Value: m[0], Confidence: h.confidence * 0.9}
	}
	if plan := firstCue(low, insurancePlans); plan != "" {
		result.Extraction["insurance_plan"] = domain.ExtractedValue{Value: plan, Confidence: h.confidence}
	}
	if apptType := firstCue(low, appointmentTypes); apptType != "" {
		result.Extraction["appointment_type"] = domain.ExtractedValue{Value: apptType, Confidence: h.confidence}
	}
	if sched := firstCue(low, scheduleCues); sched != "" {
		result.Extraction["preferred_schedule"] = domain.ExtractedValue{Value: sched, Confidence: h.confidence * 0.85}
	}
	if special := firstCue(low, specialCues); special != "" {
		result.Extraction["special_requirements"] = domain.ExtractedValue{Value: special, Confidence: h.confidence * 0.85}
	}

	result.Reply = buildReply(prompt, result)
	return result, nil
}

func detectIntent(low string, phase domain.Phase) domain.IntentSignal {
	switch {
	case containsAny(low, "human", "representative", "real person", "agent", "operator", "speak to someone"):
		return domain.IntentEscalate
	case containsAny(low, "cancel", "never mind", "nevermind", "forget it", "goodbye"):
		return domain.IntentCancel
	case containsAny(low, "repeat", "say that again", "didn't catch", "didn't hear"):
		return domain.IntentRepeat
	case containsAny(low, "that's wrong", "thats wrong", "incorrect", "not right", "no, it", "change that"):
		return domain.IntentDispute
	}
	if phase == domain.PhaseGreeting {
		if hasWord(low, "no") || containsAny(low, "don't", "do not", "decline") {
			return domain.IntentConsentDeclined
		}
		if hasWord(low, "yes") || hasWord(low, "ok") || containsAny(low, "sure", "okay", "fine", "go ahead") {
			return domain.IntentConsentGranted
		}
		return domain.IntentNone
	}
	if phase == domain.PhaseConfirmation {
		if hasWord(low, "yes") || containsAny(low, "correct", "right", "confirm", "that's it", "sounds good") {
			return domain.IntentConfirm
		}
		if hasWord(low, "no") || containsAny(low, "wrong", "incorrect") {
			return domain.IntentDispute
		}
	}
	if containsAny(low, "appointment", "schedule", "book", "see the doctor", "visit") {
		return domain.IntentSchedule
	}
	return domain.IntentNone
}

func buildReply(prompt domain.PromptContext, result *domain.ModelResult) string {
	if len(prompt.MissingFields) > 0 {
		return "Thanks. Could you also share your " + strings.ReplaceAll(prompt.MissingFields[0], "_", " ") + "?"
	}
	if len(result.Extraction) > 0 {
		return "Got it, let me note that down."
	}
	return "I'm sorry, could you say that again?"
}

func firstCue(low string, cues []string) string {
	for _, cue := range cues {
		if strings.Contains(low, cue) {
			return cue
		}
	}
	return ""
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// hasWord matches whole words only, so "no" does not fire on "know".
func hasWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if strings.Trim(f, ".,!?;:\"'") == word {
			return true
		}
	}
	return false
}
