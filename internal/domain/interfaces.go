package domain

import (
	"context"
)

// ModelProvider is the abstract capability the engine consumes from each
// configured language-model backend. Adapters translate heterogeneous
// provider APIs into this single interface; the routing engine depends on
// nothing beyond it and the configured provider id.
type ModelProvider interface {
	ID() string

	// Invoke runs one model turn against redacted prompt context. It must
	// return a terminal structured result or an error within ctx's deadline.
	Invoke(ctx context.Context, model string, prompt PromptContext) (*ModelResult, error)

	// Probe is a cheap reachability check for diagnostics. Breaker probes
	// use real invocations; Probe must not consume quota.
	Probe(ctx context.Context) error
}

// TranscriptSink persists redacted turn records. Fire-and-forget from the
// dialog loop: sink failures are logged, never surfaced to the caller.
type TranscriptSink interface {
	Persist(ctx context.Context, callID string, turn TurnRecord) error
	Close() error
}
