package dialog

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/schedcall/intake-engine/internal/config"
	"github.com/schedcall/intake-engine/internal/domain"
	"github.com/schedcall/intake-engine/internal/redact"
	"github.com/schedcall/intake-engine/internal/routing"
	"github.com/schedcall/intake-engine/internal/slots"
)

// Machine drives the dialog for every call: it updates phases, requests
// routing decisions, applies model output to slots, and decides whether
// to continue, confirm, escalate, or hand off.
type Machine struct {
	store    *Store
	engine   *routing.Engine
	redactor *redact.Redactor
	sink     domain.TranscriptSink
	policy   slots.Policy
	cfg      config.DialogConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewMachine wires the state machine. sink may be nil to disable
// transcript persistence.
func NewMachine(store *Store, engine *routing.Engine, redactor *redact.Redactor, sink domain.TranscriptSink, policy slots.Policy, cfg config.DialogConfig, logger *slog.Logger) *Machine {
	return &Machine{
		store:    store,
		engine:   engine,
		redactor: redactor,
		sink:     sink,
		policy:   policy,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// InitiateConversation creates the call context and returns the greeting.
// The caller number is expected to arrive redacted from the telephony
// source; it is sanitized again here so a raw number can never be stored
// even when that contract is broken upstream.
func (m *Machine) InitiateConversation(ctx context.Context, callID, callerNumber string) (*domain.DialogResponse, error) {
	conv, err := m.store.Create(callID)
	if err != nil {
		return nil, err
	}
	if callerNumber != "" {
		conv.CallerNumber = m.redactor.Sanitize(callerNumber).Text
	}
	m.logger.Info("conversation started", slog.String("call_id", callID))
	return &domain.DialogResponse{
		CallID: conv.CallID,
		Phase:  conv.Phase,
		Prompt: promptGreeting,
	}, nil
}

// ProcessTurn handles one inbound caller utterance. Turns of the same
// call are serialized on the conversation lock; turn N commits its slot
// mutations and history entry before turn N+1 can begin.
func (m *Machine) ProcessTurn(ctx context.Context, callID, rawInput string) (*domain.DialogResponse, error) {
	conv, err := m.store.Get(callID)
	if err != nil {
		return nil, err
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	if conv.Phase.Terminal() || conv.Completion != "" {
		return nil, domain.ErrConversation("call " + callID + " already completed")
	}

	now := m.now()
	conv.Turn++
	conv.LastActive = now

	red := m.redactor.Sanitize(rawInput)

	if conv.Turn > m.cfg.MaxTurns || now.Sub(conv.StartedAt) > m.cfg.MaxDuration {
		return m.escalate(conv, red.Text, domain.CompletionTimeout, promptEscalation), nil
	}

	// Hard guards run before any routing: explicit cancel or escalate
	// requests must work even when every provider is down.
	switch localIntent(rawInput) {
	case domain.IntentCancel:
		return m.escalate(conv, red.Text, domain.CompletionCallerCancelled, promptCancelled), nil
	case domain.IntentEscalate:
		return m.escalate(conv, red.Text, domain.CompletionEscalated, promptEscalation), nil
	}

	if conv.Phase == domain.PhaseGreeting {
		return m.handleGreeting(conv, red.Text, rawInput), nil
	}

	_, missing, _ := conv.Slots.Readiness(m.policy)
	out, err := m.engine.Route(ctx, routing.TurnInput{
		CallID:             conv.CallID,
		Input:              red.Text,
		Fingerprint:        redact.Fingerprint(red.Text),
		ContextHash:        redact.ContextHash(conv.recentLines()),
		Prompt:             promptContext(red.Text, conv, missing),
		Sticky:             conv.Routing.Sticky,
		UnfilledRequired:   len(missing),
		TotalRequired:      len(m.policy.Required),
		ClarificationTurns: conv.ClarificationTurns,
		PrevConfidence:     conv.PrevConfidence,
		Latency:            conv.Latency,
	})
	if err != nil {
		return m.handleRoutingFailure(ctx, conv, red.Text, err)
	}

	decision := out.Decision
	result := out.Result

	if !decision.CacheHit {
		conv.Routing.Sticky = &domain.StickyRef{
			Provider: decision.Provider,
			Model:    decision.Model,
			Tier:     decision.Tier,
		}
		if decision.Reason == domain.ReasonPromotionComplexity || decision.Reason == domain.ReasonPromotionLowConfidence {
			conv.Routing.LastPromotionTurn = conv.Turn
		}
	}

	restored := restoreTokens(result.Extraction, red.Tokens)
	conv.Slots.ApplyExtraction(restored)
	if len(restored) > 0 {
		conv.PrevConfidence = meanConfidence(restored)
	} else if conv.Phase == domain.PhaseSlotFilling {
		// Asked for data and got none back: adequacy is suspect but not
		// yet promotion-worthy on its own.
		conv.PrevConfidence = 0.5
	}

	if result.Intent == domain.IntentEscalate {
		return m.escalateRecorded(conv, red.Text, decision, domain.CompletionEscalated, promptEscalation), nil
	}
	if result.Intent == domain.IntentCancel {
		return m.escalateRecorded(conv, red.Text, decision, domain.CompletionCallerCancelled, promptCancelled), nil
	}

	prompt, done := m.advance(conv, result, restored)
	m.record(conv, red.Text, prompt, decision)

	resp := &domain.DialogResponse{
		CallID:     conv.CallID,
		Turn:       conv.Turn,
		Phase:      conv.Phase,
		Prompt:     prompt,
		Done:       done,
		Completion: conv.Completion,
		Missing:    missingNames(conv, m.policy),
	}
	if done {
		m.store.Remove(conv.CallID)
	}
	return resp, nil
}

// advance applies the phase transition rules and returns the next prompt.
func (m *Machine) advance(conv *Conversation, result *domain.ModelResult, restored map[string]domain.ExtractedValue) (string, bool) {
	if conv.Phase == domain.PhaseIntentClassification {
		conv.Phase = domain.PhaseSlotFilling
	}

	switch conv.Phase {
	case domain.PhaseSlotFilling:
		ready, missing, _ := conv.Slots.Readiness(m.policy)
		if ready {
			conv.Phase = domain.PhaseConfirmation
			return confirmationPrompt(conv.Slots, m.policy.Required), false
		}
		if len(restored) == 0 {
			conv.ClarificationTurns++
			if result.Intent == domain.IntentRepeat {
				return askFor(missing), false
			}
			return promptClarify, false
		}
		return askFor(missing), false

	case domain.PhaseConfirmation:
		switch result.Intent {
		case domain.IntentConfirm:
			conv.Phase = domain.PhaseHandoff
			conv.Completion = domain.CompletionScheduled
			return promptHandoff, true
		case domain.IntentDispute:
			// The caller disputed something but we cannot know which field;
			// drop the least-confident required value and re-collect it.
			conv.Phase = domain.PhaseSlotFilling
			if f := leastConfident(conv.Slots, m.policy.Required); f != "" {
				conv.Slots.Clear(f)
				return askFor([]slots.FieldName{f}), false
			}
			return promptClarify, false
		default:
			conv.ClarificationTurns++
			return confirmationPrompt(conv.Slots, m.policy.Required), false
		}
	}
	return promptClarify, false
}

// handleGreeting captures consent without touching providers. Declined
// consent goes straight to escalation.
func (m *Machine) handleGreeting(conv *Conversation, redInput, rawInput string) *domain.DialogResponse {
	low := strings.ToLower(rawInput)
	switch {
	case hasWord(low, "no") || strings.Contains(low, "don't") || strings.Contains(low, "do not"):
		conv.Consent = ConsentState{Captured: true, Granted: false}
		return m.escalate(conv, redInput, domain.CompletionConsentDeclined, promptEscalation)
	case hasWord(low, "yes") || hasWord(low, "ok") || strings.Contains(low, "okay") ||
		strings.Contains(low, "sure") || strings.Contains(low, "go ahead") || strings.Contains(low, "fine"):
		conv.Consent = ConsentState{Captured: true, Granted: true}
		conv.Phase = domain.PhaseIntentClassification
		m.record(conv, redInput, promptIntent, domain.RoutingDecision{})
		return &domain.DialogResponse{
			CallID: conv.CallID,
			Turn:   conv.Turn,
			Phase:  conv.Phase,
			Prompt: promptIntent,
		}
	default:
		conv.ClarificationTurns++
		m.record(conv, redInput, promptConsentRetry, domain.RoutingDecision{})
		return &domain.DialogResponse{
			CallID: conv.CallID,
			Turn:   conv.Turn,
			Phase:  conv.Phase,
			Prompt: promptConsentRetry,
		}
	}
}

// handleRoutingFailure maps routing errors to dialog behavior. The
// caller always gets a response; only cancellation propagates an error.
func (m *Machine) handleRoutingFailure(ctx context.Context, conv *Conversation, redInput string, err error) (*domain.DialogResponse, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if domain.IsType(err, domain.ErrorTypeRoutingExhausted) {
		m.logger.Error("routing exhausted, escalating",
			slog.String("call_id", conv.CallID),
			slog.String("error", err.Error()),
		)
		return m.escalate(conv, redInput, domain.CompletionTechnicalError, promptApology), nil
	}
	// Turn-level provider failure: apologize, stay in phase, retry on the
	// caller's next utterance.
	m.logger.Warn("turn failed, clarifying",
		slog.String("call_id", conv.CallID),
		slog.String("error", err.Error()),
	)
	conv.ClarificationTurns++
	m.record(conv, redInput, promptClarify, domain.RoutingDecision{})
	return &domain.DialogResponse{
		CallID: conv.CallID,
		Turn:   conv.Turn,
		Phase:  conv.Phase,
		Prompt: promptClarify,
	}, nil
}

func (m *Machine) escalate(conv *Conversation, redInput string, ct domain.CompletionType, prompt string) *domain.DialogResponse {
	return m.escalateRecorded(conv, redInput, domain.RoutingDecision{}, ct, prompt)
}

func (m *Machine) escalateRecorded(conv *Conversation, redInput string, decision domain.RoutingDecision, ct domain.CompletionType, prompt string) *domain.DialogResponse {
	conv.Phase = domain.PhaseEscalation
	conv.Completion = ct
	m.record(conv, redInput, prompt, decision)
	m.logger.Info("conversation ended",
		slog.String("call_id", conv.CallID),
		slog.String("phase", string(conv.Phase)),
		slog.String("completion", string(ct)),
	)
	m.store.Remove(conv.CallID)
	return &domain.DialogResponse{
		CallID:     conv.CallID,
		Turn:       conv.Turn,
		Phase:      conv.Phase,
		Prompt:     prompt,
		Done:       true,
		Completion: ct,
	}
}

// record appends a redacted turn to history and persists it without
// blocking the dialog. Replies are scrubbed of every known slot value in
// addition to the pattern-based pass; persistence failures only log.
func (m *Machine) record(conv *Conversation, redInput, reply string, decision domain.RoutingDecision) {
	rec := domain.TurnRecord{
		Turn:          conv.Turn,
		Phase:         conv.Phase,
		Decision:      decision,
		RedactedInput: m.scrub(redInput, conv),
		RedactedReply: m.scrub(reply, conv),
		At:            m.now(),
	}
	conv.appendTurn(rec, m.cfg.HistorySize)

	if m.sink == nil {
		return
	}
	callID := conv.CallID
	go func() {
		// Persistence is decoupled from the turn lifecycle so a slow or
		// failing sink never blocks the caller.
		pctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.sink.Persist(pctx, callID, rec); err != nil {
			m.logger.Error("failed to persist turn",
				slog.String("call_id", callID),
				slog.Int("turn", rec.Turn),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// scrub removes slot values the pattern detectors cannot know about.
func (m *Machine) scrub(text string, conv *Conversation) string {
	out := m.redactor.Sanitize(text).Text
	for f, v := range conv.Slots.Fields {
		mask := "[" + strings.ToUpper(string(f)) + "]"
		if v.Raw != "" {
			out = strings.ReplaceAll(out, v.Raw, mask)
		}
		if v.Normalized != "" && v.Normalized != v.Raw {
			out = strings.ReplaceAll(out, v.Normalized, mask)
		}
	}
	return out
}

func promptContext(redInput string, conv *Conversation, missing []slots.FieldName) domain.PromptContext {
	return domain.PromptContext{
		Input:         redInput,
		History:       conv.recentLines(),
		Phase:         conv.Phase,
		MissingFields: fieldNames(missing),
	}
}

func missingNames(conv *Conversation, policy slots.Policy) []string {
	_, missing, _ := conv.Slots.Readiness(policy)
	return fieldNames(missing)
}

func fieldNames(missing []slots.FieldName) []string {
	if len(missing) == 0 {
		return nil
	}
	out := make([]string, len(missing))
	for i, f := range missing {
		out[i] = string(f)
	}
	return out
}

func restoreTokens(extraction map[string]domain.ExtractedValue, tokens map[string]string) map[string]domain.ExtractedValue {
	if len(extraction) == 0 || len(tokens) == 0 {
		return extraction
	}
	out := make(map[string]domain.ExtractedValue, len(extraction))
	for name, ev := range extraction {
		val := ev.Value
		for token, original := range tokens {
			val = strings.ReplaceAll(val, token, original)
		}
		out[name] = domain.ExtractedValue{Value: val, Confidence: ev.Confidence}
	}
	return out
}

func meanConfidence(extraction map[string]domain.ExtractedValue) float64 {
	if len(extraction) == 0 {
		return 0
	}
	var sum float64
	for _, ev := range extraction {
		sum += ev.Confidence
	}
	return sum / float64(len(extraction))
}

func leastConfident(s *slots.Slots, required []slots.FieldName) slots.FieldName {
	var worst slots.FieldName
	lowest := 2.0
	for _, f := range required {
		if v, ok := s.Fields[f]; ok && v.Confidence < lowest {
			worst, lowest = f, v.Confidence
		}
	}
	return worst
}

func localIntent(rawInput string) domain.IntentSignal {
	low := strings.ToLower(rawInput)
	switch {
	case strings.Contains(low, "human") || strings.Contains(low, "representative") ||
		strings.Contains(low, "real person") || strings.Contains(low, "operator") ||
		strings.Contains(low, "speak to someone"):
		return domain.IntentEscalate
	case strings.Contains(low, "cancel") || strings.Contains(low, "never mind") ||
		strings.Contains(low, "nevermind") || strings.Contains(low, "forget it"):
		return domain.IntentCancel
	}
	return domain.IntentNone
}

func hasWord(s, word string) bool {
	for _, f := range strings.Fields(s) {
		if strings.Trim(f, ".,!?;:\"'") == word {
			return true
		}
	}
	return false
}
