package persist

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/schedcall/intake-engine/internal/domain"
)

// RedisSink appends redacted turn records to a per-call Redis list with a
// retention TTL.
type RedisSink struct {
	client *redis.Client
	ttl    time.Duration
}

var _ domain.TranscriptSink = (*RedisSink)(nil)

// NewRedisSink connects to Redis at the given URL and verifies the
// connection before returning.
func NewRedisSink(ctx context.Context, url string, ttl time.Duration) (*RedisSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisSink{client: client, ttl: ttl}, nil
}

func (s *RedisSink) Persist(ctx context.Context, callID string, turn domain.TurnRecord) error {
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}
	key := "transcript:" + callID
	if err := s.client.RPush(ctx, key, data).Err(); err != nil {
		return err
	}
	// Refresh retention on every append.
	return s.client.Expire(ctx, key, s.ttl).Err()
}

func (s *RedisSink) Close() error { return s.client.Close() }
