// Package provider contains the adapter registry for model backends.
//
// # Adding a New Provider
//
// Implement domain.ModelProvider, then expose a registration function
// that calls RegisterFactory with the adapter's type name. Wire that
// registration from cmd/intaked (or tests) so we avoid init() side
// effects.
package provider

import (
	"fmt"
	"sync"

	"github.com/schedcall/intake-engine/internal/config"
	"github.com/schedcall/intake-engine/internal/domain"
)

// Factory creates adapters of one provider type from configuration.
type Factory struct {
	Type        string
	Description string
	New         func(cfg config.ProviderConfig) (domain.ModelProvider, error)
}

var (
	factoriesMu sync.RWMutex
	factories   = make(map[string]Factory)
)

// RegisterFactory registers a provider factory. Re-registering a type
// replaces the previous factory.
func RegisterFactory(f Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[f.Type] = f
}

// IsRegistered returns true if a provider type is registered.
func IsRegistered(providerType string) bool {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	_, ok := factories[providerType]
	return ok
}

// ClearFactories removes all registered factories (for testing only).
func ClearFactories() {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories = make(map[string]Factory)
}

// Create builds one adapter from its configuration.
func Create(cfg config.ProviderConfig) (domain.ModelProvider, error) {
	factoriesMu.RLock()
	f, ok := factories[cfg.Type]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider type %q", cfg.Type)
	}
	return f.New(cfg)
}

// CreateAll builds every configured adapter, keyed by provider id.
func CreateAll(cfgs []config.ProviderConfig) (map[string]domain.ModelProvider, error) {
	providers := make(map[string]domain.ModelProvider, len(cfgs))
	for _, cfg := range cfgs {
		p, err := Create(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create provider %s: %w", cfg.ID, err)
		}
		providers[cfg.ID] = p
	}
	return providers, nil
}
