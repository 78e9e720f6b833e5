package persist

import (
	"context"
	"fmt"

	"github.com/schedcall/intake-engine/internal/config"
	"github.com/schedcall/intake-engine/internal/domain"
)

// FromConfig builds the configured sink. Type "none" returns nil, which
// the dialog machine treats as persistence disabled.
func FromConfig(ctx context.Context, cfg config.PersistenceConfig) (domain.TranscriptSink, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemorySink(), nil
	case "sqlite":
		return NewSQLiteSink(cfg.SQLite.Path)
	case "redis":
		return NewRedisSink(ctx, cfg.Redis.URL, cfg.TTL)
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}
}
