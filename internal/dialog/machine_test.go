package dialog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/schedcall/intake-engine/internal/cache"
	"github.com/schedcall/intake-engine/internal/config"
	"github.com/schedcall/intake-engine/internal/domain"
	"github.com/schedcall/intake-engine/internal/health"
	"github.com/schedcall/intake-engine/internal/persist"
	"github.com/schedcall/intake-engine/internal/redact"
	"github.com/schedcall/intake-engine/internal/routing"
	"github.com/schedcall/intake-engine/internal/slots"
)

// scriptedProvider returns queued results in order, then a generic one.
type scriptedProvider struct {
	id string

	mu      sync.Mutex
	queue   []domain.ModelResult
	err     error
	invoked int
}

func (p *scriptedProvider) ID() string                      { return p.id }
func (p *scriptedProvider) Probe(ctx context.Context) error { return ctx.Err() }

func (p *scriptedProvider) Invoke(ctx context.Context, model string, prompt domain.PromptContext) (*domain.ModelResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invoked++
	if p.err != nil {
		return nil, p.err
	}
	if len(p.queue) == 0 {
		return &domain.ModelResult{Reply: "go on"}, nil
	}
	r := p.queue[0]
	p.queue = p.queue[1:]
	return &r, nil
}

type machineEnv struct {
	machine  *Machine
	store    *Store
	sink     *persist.MemorySink
	monitor  *health.Monitor
	provider *scriptedProvider
}

func newMachineEnv(t *testing.T, results ...domain.ModelResult) *machineEnv {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	p := &scriptedProvider{id: "alpha", queue: results}
	monitor := health.NewMonitor(health.Config{ConsecutiveFailures: 5, Cooldown: 30 * time.Second})
	respCache := cache.New(cache.Config{SimilarityThreshold: 0.85, TTL: time.Minute, Capacity: 64, Shards: 4})
	engine := routing.NewEngine(
		map[string]domain.ModelProvider{"alpha": p},
		[]config.ProviderConfig{{ID: "alpha", Type: "stub", Tier: "primary", Model: "alpha-small"}},
		monitor, respCache,
		config.RoutingConfig{
			PromotionThreshold: 0.8,
			DemotionConfidence: 0.4,
			LatencyBudgets:     config.LatencyBudgets{Standard: 10 * time.Second},
		},
		logger,
	)

	policy := slots.Policy{
		Required:        []slots.FieldName{slots.FieldPatientName, slots.FieldDateOfBirth},
		MinConfidence:   0.5,
		ReadyConfidence: 0.8,
	}
	sink := persist.NewMemorySink()
	store := NewStore(5*time.Minute, logger)
	machine := NewMachine(store, engine, redact.New(), sink, policy, config.DialogConfig{
		MaxTurns:    30,
		MaxDuration: 10 * time.Minute,
		HistorySize: 20,
	}, logger)

	return &machineEnv{machine: machine, store: store, sink: sink, monitor: monitor, provider: p}
}

func (e *machineEnv) consent(t *testing.T, callID string) {
	t.Helper()
	ctx := context.Background()
	if _, err := e.machine.InitiateConversation(ctx, callID, ""); err != nil {
		t.Fatal(err)
	}
	resp, err := e.machine.ProcessTurn(ctx, callID, "yes that's fine")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Phase != domain.PhaseIntentClassification {
		t.Fatalf("phase after consent = %q", resp.Phase)
	}
}

func TestGreetingAndConsent(t *testing.T) {
	t.Run("greeting asks for consent", func(t *testing.T) {
		env := newMachineEnv(t)
		resp, err := env.machine.InitiateConversation(context.Background(), "call-1", "")
		if err != nil {
			t.Fatal(err)
		}
		if resp.Phase != domain.PhaseGreeting {
			t.Errorf("phase = %q, want greeting", resp.Phase)
		}
		if !strings.Contains(resp.Prompt, "recorded") {
			t.Errorf("greeting should disclose recording: %q", resp.Prompt)
		}
	})

	t.Run("consent granted moves to intent classification", func(t *testing.T) {
		env := newMachineEnv(t)
		env.consent(t, "call-1")
		if env.provider.invoked != 0 {
			t.Error("consent must be handled without routing to a provider")
		}
	})

	t.Run("consent declined escalates", func(t *testing.T) {
		env := newMachineEnv(t)
		if _, err := env.machine.InitiateConversation(context.Background(), "call-1", ""); err != nil {
			t.Fatal(err)
		}
		resp, err := env.machine.ProcessTurn(context.Background(), "call-1", "no, I don't want that")
		if err != nil {
			t.Fatal(err)
		}
		if !resp.Done || resp.Completion != domain.CompletionConsentDeclined {
			t.Errorf("resp = %+v, want consent_declined completion", resp)
		}
	})

	t.Run("caller number is stored redacted", func(t *testing.T) {
		env := newMachineEnv(t)
		raw := "415-555-0134"
		if _, err := env.machine.InitiateConversation(context.Background(), "call-1", raw); err != nil {
			t.Fatal(err)
		}
		conv, err := env.store.Get("call-1")
		if err != nil {
			t.Fatal(err)
		}
		if conv.CallerNumber == "" {
			t.Fatal("caller number was dropped")
		}
		if strings.Contains(conv.CallerNumber, raw) || strings.Contains(conv.CallerNumber, "5550134") {
			t.Errorf("raw caller number leaked into conversation state: %q", conv.CallerNumber)
		}
	})

	t.Run("pre-redacted caller number passes through unchanged", func(t *testing.T) {
		env := newMachineEnv(t)
		token := redact.New().Sanitize("415-555-0134").Text
		if _, err := env.machine.InitiateConversation(context.Background(), "call-1", token); err != nil {
			t.Fatal(err)
		}
		conv, err := env.store.Get("call-1")
		if err != nil {
			t.Fatal(err)
		}
		if conv.CallerNumber != token {
			t.Errorf("caller number = %q, want %q", conv.CallerNumber, token)
		}
	})

	t.Run("unclear consent is re-asked", func(t *testing.T) {
		env := newMachineEnv(t)
		if _, err := env.machine.InitiateConversation(context.Background(), "call-1", ""); err != nil {
			t.Fatal(err)
		}
		resp, err := env.machine.ProcessTurn(context.Background(), "call-1", "what is this about")
		if err != nil {
			t.Fatal(err)
		}
		if resp.Phase != domain.PhaseGreeting || resp.Done {
			t.Errorf("unclear consent should stay in greeting: %+v", resp)
		}
	})
}

func TestHappyPathToHandoff(t *testing.T) {
	env := newMachineEnv(t,
		domain.ModelResult{
			Reply: "got it",
			Extraction: map[string]domain.ExtractedValue{
				"patient_name":  {Value: "John Smith", Confidence: 0.9},
				"date_of_birth": {Value: "1985-03-15", Confidence: 0.9},
			},
		},
		domain.ModelResult{Reply: "confirmed", Intent: domain.IntentConfirm},
	)
	ctx := context.Background()
	env.consent(t, "call-1")

	resp, err := env.machine.ProcessTurn(ctx, "call-1", "I'd like a checkup, it's for John Smith")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Phase != domain.PhaseConfirmation {
		t.Fatalf("phase = %q, want confirmation", resp.Phase)
	}
	if !strings.Contains(resp.Prompt, "John Smith") {
		t.Errorf("confirmation should read values back to the caller: %q", resp.Prompt)
	}
	if len(resp.Missing) != 0 {
		t.Errorf("missing = %v, want none", resp.Missing)
	}

	resp, err = env.machine.ProcessTurn(ctx, "call-1", "yes that's all correct")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Done || resp.Completion != domain.CompletionScheduled {
		t.Errorf("resp = %+v, want scheduled handoff", resp)
	}
	if resp.Phase != domain.PhaseHandoff {
		t.Errorf("phase = %q, want handoff", resp.Phase)
	}

	if _, err := env.machine.ProcessTurn(ctx, "call-1", "hello?"); err == nil {
		t.Error("completed call should reject further turns")
	}
}

func TestSlotFillingAcrossTurns(t *testing.T) {
	env := newMachineEnv(t,
		domain.ModelResult{
			Reply: "got it",
			Extraction: map[string]domain.ExtractedValue{
				"patient_name": {Value: "John Smith", Confidence: 0.9},
			},
		},
		domain.ModelResult{
			Reply: "thanks",
			Extraction: map[string]domain.ExtractedValue{
				"date_of_birth":       {Value: "1985-03-15", Confidence: 0.9},
				"provider_preference": {Value: "Dr. Lee", Confidence: 0.6},
			},
		},
	)
	ctx := context.Background()
	env.consent(t, "call-1")

	resp, err := env.machine.ProcessTurn(ctx, "call-1", "it's for John Smith")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Phase != domain.PhaseSlotFilling {
		t.Fatalf("phase = %q, want slot_filling", resp.Phase)
	}
	if len(resp.Missing) != 1 || resp.Missing[0] != "date_of_birth" {
		t.Errorf("missing = %v, want [date_of_birth]", resp.Missing)
	}
	if !strings.Contains(resp.Prompt, "date of birth") {
		t.Errorf("prompt should ask for the missing field: %q", resp.Prompt)
	}

	resp, err = env.machine.ProcessTurn(ctx, "call-1", "born March 15, 1985, and Dr. Lee if possible")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Phase != domain.PhaseConfirmation {
		t.Errorf("phase = %q, want confirmation", resp.Phase)
	}
	if len(resp.Missing) != 0 {
		t.Errorf("missing = %v, want none", resp.Missing)
	}
}

func TestDisputeReturnsToSlotFilling(t *testing.T) {
	env := newMachineEnv(t,
		domain.ModelResult{
			Extraction: map[string]domain.ExtractedValue{
				"patient_name":  {Value: "John Smith", Confidence: 0.95},
				"date_of_birth": {Value: "1985-03-15", Confidence: 0.8},
			},
		},
		domain.ModelResult{Intent: domain.IntentDispute},
	)
	ctx := context.Background()
	env.consent(t, "call-1")

	if _, err := env.machine.ProcessTurn(ctx, "call-1", "booking for John Smith"); err != nil {
		t.Fatal(err)
	}
	resp, err := env.machine.ProcessTurn(ctx, "call-1", "that's wrong")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Phase != domain.PhaseSlotFilling {
		t.Errorf("phase = %q, want slot_filling after dispute", resp.Phase)
	}
	// The least-confident required field is dropped and re-asked.
	if !strings.Contains(resp.Prompt, "date of birth") {
		t.Errorf("prompt = %q, want the date of birth question", resp.Prompt)
	}
}

func TestLocalGuards(t *testing.T) {
	t.Run("cancel works with providers down", func(t *testing.T) {
		env := newMachineEnv(t)
		env.provider.err = errors.New("hard down")
		env.consent(t, "call-1")
		resp, err := env.machine.ProcessTurn(context.Background(), "call-1", "actually cancel that please")
		if err != nil {
			t.Fatal(err)
		}
		if !resp.Done || resp.Completion != domain.CompletionCallerCancelled {
			t.Errorf("resp = %+v, want caller_cancelled", resp)
		}
		if env.provider.invoked != 0 {
			t.Error("cancel guard must not route")
		}
	})

	t.Run("escalation request hands off to staff", func(t *testing.T) {
		env := newMachineEnv(t)
		env.consent(t, "call-1")
		resp, err := env.machine.ProcessTurn(context.Background(), "call-1", "I want to speak to someone")
		if err != nil {
			t.Fatal(err)
		}
		if !resp.Done || resp.Completion != domain.CompletionEscalated {
			t.Errorf("resp = %+v, want escalated", resp)
		}
	})
}

func TestRoutingExhaustionEscalates(t *testing.T) {
	env := newMachineEnv(t)
	env.consent(t, "call-1")

	for i := 0; i < 5; i++ {
		env.monitor.RecordOutcome("alpha", false, 0)
	}

	resp, err := env.machine.ProcessTurn(context.Background(), "call-1", "I need an appointment")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Done || resp.Completion != domain.CompletionTechnicalError {
		t.Errorf("resp = %+v, want technical_error escalation", resp)
	}
	if !strings.Contains(resp.Prompt, "staff") {
		t.Errorf("prompt = %q, want the apology handoff", resp.Prompt)
	}
}

func TestProviderFailureAsksToRepeat(t *testing.T) {
	env := newMachineEnv(t)
	env.provider.err = errors.New("upstream 500")
	env.consent(t, "call-1")

	resp, err := env.machine.ProcessTurn(context.Background(), "call-1", "I need an appointment")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Done {
		t.Error("a single provider failure must not end the call")
	}
	if resp.Phase != domain.PhaseIntentClassification {
		t.Errorf("phase = %q, should be unchanged", resp.Phase)
	}
}

func TestTurnBudget(t *testing.T) {
	env := newMachineEnv(t)
	env.machine.cfg.MaxTurns = 2
	ctx := context.Background()
	env.consent(t, "call-1")

	if _, err := env.machine.ProcessTurn(ctx, "call-1", "an appointment please"); err != nil {
		t.Fatal(err)
	}
	resp, err := env.machine.ProcessTurn(ctx, "call-1", "still going")
	if err != nil {
		t.Fatal(err)
	}
	if !resp.Done || resp.Completion != domain.CompletionTimeout {
		t.Errorf("resp = %+v, want timeout escalation", resp)
	}
}

func TestLifecycleErrors(t *testing.T) {
	env := newMachineEnv(t)
	ctx := context.Background()

	t.Run("duplicate call id rejected", func(t *testing.T) {
		if _, err := env.machine.InitiateConversation(ctx, "call-1", ""); err != nil {
			t.Fatal(err)
		}
		_, err := env.machine.InitiateConversation(ctx, "call-1", "")
		if !domain.IsType(err, domain.ErrorTypeConversation) {
			t.Errorf("err = %v, want a conversation error", err)
		}
	})

	t.Run("unknown call rejected", func(t *testing.T) {
		_, err := env.machine.ProcessTurn(ctx, "no-such-call", "hello")
		if !domain.IsType(err, domain.ErrorTypeConversation) {
			t.Errorf("err = %v, want a conversation error", err)
		}
	})
}

func TestTranscriptIsRedacted(t *testing.T) {
	env := newMachineEnv(t,
		domain.ModelResult{
			Reply: "got it",
			Extraction: map[string]domain.ExtractedValue{
				"patient_name":  {Value: "John Smith", Confidence: 0.9},
				"date_of_birth": {Value: "1985-03-15", Confidence: 0.9},
			},
		},
	)
	ctx := context.Background()
	env.consent(t, "call-1")

	if _, err := env.machine.ProcessTurn(ctx, "call-1", "my name is John Smith, born 1985-03-15"); err != nil {
		t.Fatal(err)
	}

	// Persistence is asynchronous; wait for the records to land.
	deadline := time.Now().Add(2 * time.Second)
	var turns []domain.TurnRecord
	for time.Now().Before(deadline) {
		turns = env.sink.Turns("call-1")
		if len(turns) >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(turns) < 2 {
		t.Fatalf("persisted turns = %d, want at least 2", len(turns))
	}
	for _, rec := range turns {
		for _, text := range []string{rec.RedactedInput, rec.RedactedReply} {
			if strings.Contains(text, "John Smith") || strings.Contains(text, "1985") {
				t.Errorf("personal data leaked into transcript: %q", text)
			}
		}
	}
}

func TestStoreSweepEvictsIdleCalls(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := NewStore(time.Minute, logger)
	past := time.Now().Add(-time.Hour)
	store.now = func() time.Time { return past }
	if _, err := store.Create("stale-call"); err != nil {
		t.Fatal(err)
	}
	store.now = time.Now

	store.sweepOnce()
	if store.Len() != 0 {
		t.Errorf("store len = %d, want the idle call evicted", store.Len())
	}
}
