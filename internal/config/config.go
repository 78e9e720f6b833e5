// Package config loads the engine configuration from config.yaml plus
// INTAKE_-prefixed environment overrides. The loaded struct is immutable
// and passed explicitly through the turn-processing call chain.
package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Log         LogConfig         `koanf:"log"`
	Dialog      DialogConfig      `koanf:"dialog"`
	Slots       SlotsConfig       `koanf:"slots"`
	Routing     RoutingConfig     `koanf:"routing"`
	Cache       CacheConfig       `koanf:"cache"`
	Breaker     BreakerConfig     `koanf:"breaker"`
	Providers   []ProviderConfig  `koanf:"providers"`
	Persistence PersistenceConfig `koanf:"persistence"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type LogConfig struct {
	Level string `koanf:"level"` // debug, info, warn, error
}

type DialogConfig struct {
	MaxTurns    int           `koanf:"max_turns"`
	MaxDuration time.Duration `koanf:"max_duration"`
	IdleTimeout time.Duration `koanf:"idle_timeout"`
	HistorySize int           `koanf:"history_size"`
}

type SlotsConfig struct {
	// Required names the fields that must be filled before confirmation.
	// Membership is policy, not code, to support differing intake rules.
	Required        []string `koanf:"required"`
	MinConfidence   float64  `koanf:"min_confidence"`
	ReadyConfidence float64  `koanf:"ready_confidence"`
}

type RoutingConfig struct {
	PromotionThreshold float64        `koanf:"promotion_threshold"`
	DemotionConfidence float64        `koanf:"demotion_confidence"`
	LatencyBudgets     LatencyBudgets `koanf:"latency_budgets"`
	DefaultRequirement string         `koanf:"default_requirement"`
}

type LatencyBudgets struct {
	Standard  time.Duration `koanf:"standard"`
	Low       time.Duration `koanf:"low"`
	Critical  time.Duration `koanf:"critical"`
	Emergency time.Duration `koanf:"emergency"`
}

type CacheConfig struct {
	SimilarityThreshold float64       `koanf:"similarity_threshold"`
	TTL                 time.Duration `koanf:"ttl"`
	Capacity            int           `koanf:"capacity"`
	Shards              int           `koanf:"shards"`
}

type BreakerConfig struct {
	ConsecutiveFailures  int           `koanf:"consecutive_failures"`
	FailureRateThreshold float64       `koanf:"failure_rate_threshold"`
	Window               time.Duration `koanf:"window"`
	MinSamples           int           `koanf:"min_samples"`
	Cooldown             time.Duration `koanf:"cooldown"`
	MaxCooldown          time.Duration `koanf:"max_cooldown"`
	BackoffFactor        float64       `koanf:"backoff_factor"`
}

type ProviderConfig struct {
	ID     string `koanf:"id"`
	Type   string `koanf:"type"`
	Tier   string `koanf:"tier"` // primary, enhanced, premium, specialized
	Model  string `koanf:"model"`
	APIKey string `koanf:"api_key"`
}

type PersistenceConfig struct {
	Type   string        `koanf:"type"` // memory, sqlite, redis, none
	SQLite SQLiteConfig  `koanf:"sqlite"`
	Redis  RedisConfig   `koanf:"redis"`
	TTL    time.Duration `koanf:"ttl"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

// Load reads config.yaml (if present) and INTAKE_ env overrides, filling
// defaults for anything unset.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		path = "config.yaml"
	}
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		// Missing file is fine; env vars and defaults cover it.
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	}

	if err := k.Load(env.Provider("INTAKE_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "INTAKE_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(k *koanf.Koanf) {
	defaults := map[string]any{
		"server.port":                    8080,
		"server.request_timeout":         "30s",
		"log.level":                      "info",
		"dialog.max_turns":               30,
		"dialog.max_duration":            "10m",
		"dialog.idle_timeout":            "5m",
		"dialog.history_size":            20,
		"slots.required":                 []string{"patient_name", "date_of_birth", "appointment_type"},
		"slots.min_confidence":           0.5,
		"slots.ready_confidence":         0.8,
		"routing.promotion_threshold":    0.8,
		"routing.demotion_confidence":    0.4,
		"routing.latency_budgets.standard":  "10s",
		"routing.latency_budgets.low":       "5s",
		"routing.latency_budgets.critical":  "2s",
		"routing.latency_budgets.emergency": "1s",
		"routing.default_requirement":    "standard",
		"cache.similarity_threshold":     0.85,
		"cache.ttl":                      "15m",
		"cache.capacity":                 4096,
		"cache.shards":                   16,
		"breaker.consecutive_failures":   5,
		"breaker.failure_rate_threshold": 0.5,
		"breaker.window":                 "1m",
		"breaker.min_samples":            10,
		"breaker.cooldown":               "30s",
		"breaker.max_cooldown":           "5m",
		"breaker.backoff_factor":         2.0,
		"persistence.type":               "memory",
		"persistence.ttl":                "720h",
	}
	for key, val := range defaults {
		if !k.Exists(key) {
			k.Set(key, val)
		}
	}
}

// Budget returns the latency budget for a requirement level.
func (b LatencyBudgets) Budget(req string) time.Duration {
	switch req {
	case "low":
		return b.Low
	case "critical":
		return b.Critical
	case "emergency":
		return b.Emergency
	default:
		return b.Standard
	}
}
