// Package health tracks per-provider circuit breaker state and rolling
// latency/error statistics. One Monitor is shared by every concurrent
// call; each provider carries its own lock so unrelated calls never
// serialize on each other.
package health

import (
	"sync"
	"time"
)

// State is the breaker state for one provider.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// Config holds the breaker thresholds, injected from configuration.
type Config struct {
	ConsecutiveFailures  int
	FailureRateThreshold float64
	Window               time.Duration
	MinSamples           int
	Cooldown             time.Duration
	MaxCooldown          time.Duration
	BackoffFactor        float64
}

type outcome struct {
	at      time.Time
	success bool
	latency time.Duration
}

type breaker struct {
	mu          sync.Mutex
	state       State
	consecutive int
	lastFailure time.Time
	openedAt    time.Time
	cooldown    time.Duration
	probing     bool
	window      []outcome
}

// Monitor is the shared provider-health service.
type Monitor struct {
	mu       sync.RWMutex
	breakers map[string]*breaker
	cfg      Config
	now      func() time.Time
}

// NewMonitor creates a monitor with the given thresholds.
func NewMonitor(cfg Config) *Monitor {
	if cfg.ConsecutiveFailures <= 0 {
		cfg.ConsecutiveFailures = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.MaxCooldown <= 0 {
		cfg.MaxCooldown = 5 * time.Minute
	}
	if cfg.BackoffFactor < 1 {
		cfg.BackoffFactor = 2
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	return &Monitor{
		breakers: make(map[string]*breaker),
		cfg:      cfg,
		now:      time.Now,
	}
}

func (m *Monitor) breakerFor(provider string) *breaker {
	m.mu.RLock()
	b, ok := m.breakers[provider]
	m.mu.RUnlock()
	if ok {
		return b
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok = m.breakers[provider]; ok {
		return b
	}
	b = &breaker{cooldown: m.cfg.Cooldown}
	m.breakers[provider] = b
	return b
}

// IsAvailable reports whether a request may flow to the provider. When an
// open breaker's cooldown has elapsed, the first caller is granted the
// single half-open probe; concurrent callers keep seeing unavailable
// until the probe's outcome is recorded.
func (m *Monitor) IsAvailable(provider string) bool {
	b := m.breakerFor(provider)
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if m.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = StateHalfOpen
		b.probing = true
		return true
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordOutcome feeds an invocation or probe result into the breaker and
// the rolling window. Every attempt against a provider must land here,
// including results that arrive after their turn was cancelled.
func (m *Monitor) RecordOutcome(provider string, success bool, latency time.Duration) {
	b := m.breakerFor(provider)
	now := m.now()

	b.mu.Lock()
	defer b.mu.Unlock()

	b.window = append(b.window, outcome{at: now, success: success, latency: latency})
	b.trimWindow(now, m.cfg.Window)

	switch b.state {
	case StateHalfOpen:
		b.probing = false
		if success {
			b.state = StateClosed
			b.consecutive = 0
			b.cooldown = m.cfg.Cooldown
			return
		}
		b.lastFailure = now
		b.reopen(now, m.cfg)
	case StateClosed:
		if success {
			b.consecutive = 0
			return
		}
		b.consecutive++
		b.lastFailure = now
		if b.consecutive >= m.cfg.ConsecutiveFailures || b.failureRateExceeded(m.cfg) {
			b.openedAt = now
			b.state = StateOpen
		}
	case StateOpen:
		// Late results from before the breaker opened still count toward
		// the rolling stats; state is unchanged.
		if !success {
			b.lastFailure = now
		}
	}
}

func (b *breaker) reopen(now time.Time, cfg Config) {
	b.state = StateOpen
	b.openedAt = now
	next := time.Duration(float64(b.cooldown) * cfg.BackoffFactor)
	if next > cfg.MaxCooldown {
		next = cfg.MaxCooldown
	}
	b.cooldown = next
}

func (b *breaker) trimWindow(now time.Time, window time.Duration) {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(b.window); i++ {
		if b.window[i].at.After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.window = append(b.window[:0], b.window[i:]...)
	}
}

func (b *breaker) failureRateExceeded(cfg Config) bool {
	if cfg.FailureRateThreshold <= 0 || len(b.window) < cfg.MinSamples {
		return false
	}
	failures := 0
	for _, o := range b.window {
		if !o.success {
			failures++
		}
	}
	return float64(failures)/float64(len(b.window)) >= cfg.FailureRateThreshold
}

// FailureRate returns the provider's error rate over the rolling window,
// used by the routing engine as a complexity signal.
func (m *Monitor) FailureRate(provider string) float64 {
	b := m.breakerFor(provider)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trimWindow(m.now(), m.cfg.Window)
	if len(b.window) == 0 {
		return 0
	}
	failures := 0
	for _, o := range b.window {
		if !o.success {
			failures++
		}
	}
	return float64(failures) / float64(len(b.window))
}

// Snapshot is the externally visible health of one provider.
type Snapshot struct {
	Provider            string        `json:"provider"`
	State               string        `json:"state"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	ErrorRate           float64       `json:"error_rate"`
	MeanLatency         time.Duration `json:"mean_latency"`
	LastFailure         time.Time     `json:"last_failure,omitempty"`
}

// Snapshots returns current health for all tracked providers.
func (m *Monitor) Snapshots() []Snapshot {
	m.mu.RLock()
	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	m.mu.RUnlock()

	out := make([]Snapshot, 0, len(names))
	for _, name := range names {
		b := m.breakerFor(name)
		b.mu.Lock()
		b.trimWindow(m.now(), m.cfg.Window)
		snap := Snapshot{
			Provider:            name,
			State:               b.state.String(),
			ConsecutiveFailures: b.consecutive,
			LastFailure:         b.lastFailure,
		}
		var total time.Duration
		failures := 0
		for _, o := range b.window {
			total += o.latency
			if !o.success {
				failures++
			}
		}
		if n := len(b.window); n > 0 {
			snap.ErrorRate = float64(failures) / float64(n)
			snap.MeanLatency = total / time.Duration(n)
		}
		b.mu.Unlock()
		out = append(out, snap)
	}
	return out
}

// setNow overrides the clock in tests.
func (m *Monitor) setNow(now func() time.Time) { m.now = now }
