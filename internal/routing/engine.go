// Package routing picks a provider and model for every turn, balancing
// stickiness against complexity- and confidence-driven promotion, with
// breaker-gated failover and a cache short-circuit in front of it all.
package routing

import (
	"context"
	"log/slog"
	"time"

	"github.com/schedcall/intake-engine/internal/cache"
	"github.com/schedcall/intake-engine/internal/config"
	"github.com/schedcall/intake-engine/internal/domain"
	"github.com/schedcall/intake-engine/internal/health"
)

// Candidate is one provider/model pairing at a tier.
type Candidate struct {
	Provider string
	Model    string
}

// Engine is the per-turn routing decision engine. It owns no call state;
// everything call-specific arrives in TurnInput and leaves in TurnOutcome.
type Engine struct {
	providers map[string]domain.ModelProvider
	tiers     map[domain.Tier][]Candidate
	health    *health.Monitor
	cache     *cache.Cache
	cfg       config.RoutingConfig
	logger    *slog.Logger
}

// NewEngine wires the engine. Candidates are grouped by tier from the
// provider configuration; order within a tier is the preference order.
func NewEngine(providers map[string]domain.ModelProvider, cfgs []config.ProviderConfig, monitor *health.Monitor, respCache *cache.Cache, cfg config.RoutingConfig, logger *slog.Logger) *Engine {
	tiers := make(map[domain.Tier][]Candidate)
	for _, pc := range cfgs {
		t := domain.ParseTier(pc.Tier)
		tiers[t] = append(tiers[t], Candidate{Provider: pc.ID, Model: pc.Model})
	}
	return &Engine{
		providers: providers,
		tiers:     tiers,
		health:    monitor,
		cache:     respCache,
		cfg:       cfg,
		logger:    logger,
	}
}

// TurnInput is the redacted, call-scoped context for one routing pass.
type TurnInput struct {
	CallID             string
	Input              string // redacted caller input
	Fingerprint        string
	ContextHash        string
	Prompt             domain.PromptContext
	Sticky             *domain.StickyRef
	UnfilledRequired   int
	TotalRequired      int
	ClarificationTurns int
	PrevConfidence     float64 // extraction confidence of the previous turn; 1.0 on the first
	Latency            domain.LatencyRequirement
}

// TurnOutcome pairs the decision with the model result that served it.
type TurnOutcome struct {
	Decision domain.RoutingDecision
	Result   *domain.ModelResult
}

// Route executes one turn: score, cache lookup, candidate selection,
// invocation, and outcome recording. A provider failure is retried once
// against a failover candidate while the latency budget allows; with no
// available candidate at any tier it returns a routing-exhaustion error.
func (e *Engine) Route(ctx context.Context, in TurnInput) (*TurnOutcome, error) {
	sig := complexitySignals{
		unfilledRequired:   in.UnfilledRequired,
		totalRequired:      in.TotalRequired,
		clarificationTurns: in.ClarificationTurns,
		input:              in.Input,
	}
	if in.Sticky != nil {
		sig.historicFailureRate = e.health.FailureRate(in.Sticky.Provider)
	}
	complexity := complexityScore(sig)
	confidence := in.PrevConfidence
	if in.PrevConfidence == 0 {
		confidence = 1.0
	}

	// Cache first: a hit short-circuits provider selection entirely but
	// still feeds health metrics as a zero-latency virtual success.
	if hit, ok := e.cache.Lookup(in.Fingerprint, in.ContextHash, in.Input); ok {
		decision := domain.RoutingDecision{
			Reason:     domain.ReasonCacheHit,
			Complexity: complexity,
			Confidence: confidence,
			CacheHit:   true,
		}
		if in.Sticky != nil {
			decision.Provider = in.Sticky.Provider
			decision.Model = in.Sticky.Model
			decision.Tier = in.Sticky.Tier
			e.health.RecordOutcome(in.Sticky.Provider, true, 0)
		}
		e.logger.Debug("cache hit", slog.String("call_id", in.CallID), slog.String("fingerprint", in.Fingerprint))
		return &TurnOutcome{Decision: decision, Result: hit}, nil
	}

	// One availability check per provider per turn; IsAvailable may hand
	// out the single half-open probe, so asking twice would waste it.
	availability := make(map[string]bool)
	available := func(provider string) bool {
		if v, ok := availability[provider]; ok {
			return v
		}
		v := e.health.IsAvailable(provider)
		availability[provider] = v
		return v
	}

	reason := domain.ReasonStickiness
	tier := domain.TierPrimary
	if in.Sticky != nil {
		tier = in.Sticky.Tier
	}
	switch {
	case in.Sticky != nil && !available(in.Sticky.Provider):
		reason = domain.ReasonFallbackBreakerOpen
	case complexity >= e.cfg.PromotionThreshold:
		reason = domain.ReasonPromotionComplexity
		tier = tier.Promote()
	case confidence < e.cfg.DemotionConfidence:
		reason = domain.ReasonPromotionLowConfidence
		tier = tier.Promote()
	}

	var primary *Candidate
	if reason == domain.ReasonStickiness && in.Sticky != nil {
		primary = &Candidate{Provider: in.Sticky.Provider, Model: in.Sticky.Model}
	} else {
		exclude := ""
		if in.Sticky != nil && reason != domain.ReasonStickiness {
			// Promotion and breaker fallback must move off the sticky choice
			// when any alternative exists.
			exclude = in.Sticky.Provider
		}
		primary = e.pickCandidate(tier, available, exclude)
		if primary == nil && exclude != "" {
			primary = e.pickCandidate(tier, available, "")
		}
	}
	if primary == nil {
		e.logger.Warn("routing exhausted", slog.String("call_id", in.CallID), slog.String("tier", tier.String()))
		return nil, domain.ErrRoutingExhausted("no provider available at any tier")
	}

	decision := domain.RoutingDecision{
		Provider:   primary.Provider,
		Model:      primary.Model,
		Tier:       e.tierOf(primary.Provider, tier),
		Reason:     reason,
		Complexity: complexity,
		Confidence: confidence,
	}

	budget := e.cfg.LatencyBudgets.Budget(string(in.Latency))
	turnCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	result, err := e.invoke(turnCtx, primary, in.Prompt)
	if err != nil {
		e.logger.Warn("provider invocation failed",
			slog.String("call_id", in.CallID),
			slog.String("provider", primary.Provider),
			slog.String("error", err.Error()),
		)
		// The failover is selected only after the primary has failed.
		// IsAvailable may hand out a breaker's single half-open probe, and
		// a probe claimed for a candidate that is never invoked would leave
		// that provider stuck half-open forever.
		var failover *Candidate
		if turnCtx.Err() == nil {
			failover = e.pickCandidate(tier, available, primary.Provider)
		}
		if failover == nil {
			return nil, domain.ErrProvider(primary.Provider, err)
		}
		decision.Provider = failover.Provider
		decision.Model = failover.Model
		decision.Tier = e.tierOf(failover.Provider, tier)
		decision.Reason = domain.ReasonFallbackBreakerOpen
		result, err = e.invoke(turnCtx, failover, in.Prompt)
		if err != nil {
			return nil, domain.ErrProvider(failover.Provider, err)
		}
	}

	// A result landing after cancellation was already recorded into the
	// health stats by invoke; it is discarded for dialog purposes.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	e.cache.Store(in.Fingerprint, in.ContextHash, in.Input, *result)
	e.logger.Debug("routed turn",
		slog.String("call_id", in.CallID),
		slog.String("provider", decision.Provider),
		slog.String("model", decision.Model),
		slog.String("reason", string(decision.Reason)),
		slog.Float64("complexity", decision.Complexity),
	)
	return &TurnOutcome{Decision: decision, Result: result}, nil
}

// invoke runs one attempt and records its outcome regardless of success.
func (e *Engine) invoke(ctx context.Context, c *Candidate, prompt domain.PromptContext) (*domain.ModelResult, error) {
	p, ok := e.providers[c.Provider]
	if !ok {
		return nil, domain.ErrProvider(c.Provider, nil)
	}
	start := time.Now()
	result, err := p.Invoke(ctx, c.Model, prompt)
	latency := time.Since(start)
	e.health.RecordOutcome(c.Provider, err == nil, latency)
	if err != nil {
		return nil, err
	}
	result.Latency = latency
	return result, nil
}

// pickCandidate returns the first available candidate, preferring the
// desired tier, then cheaper tiers, then more capable ones. Exhausting
// the full walk means no provider anywhere can take the turn.
func (e *Engine) pickCandidate(desired domain.Tier, available func(string) bool, exclude string) *Candidate {
	for t := desired; t >= domain.TierPrimary; t-- {
		if c := e.tierCandidate(t, available, exclude); c != nil {
			return c
		}
	}
	for t := desired + 1; t <= domain.TierSpecialized; t++ {
		if c := e.tierCandidate(t, available, exclude); c != nil {
			return c
		}
	}
	return nil
}

func (e *Engine) tierCandidate(t domain.Tier, available func(string) bool, exclude string) *Candidate {
	for i := range e.tiers[t] {
		c := e.tiers[t][i]
		if c.Provider == exclude {
			continue
		}
		if available(c.Provider) {
			return &c
		}
	}
	return nil
}

// tierOf finds the configured tier of a provider, falling back to the
// tier the selection started from.
func (e *Engine) tierOf(provider string, fallback domain.Tier) domain.Tier {
	for t, candidates := range e.tiers {
		for _, c := range candidates {
			if c.Provider == provider {
				return t
			}
		}
	}
	return fallback
}
