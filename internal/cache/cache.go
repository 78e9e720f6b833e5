// Package cache is the similarity-keyed response cache. Keys are redacted
// fingerprints only; raw slot values must never reach this package. Shards
// are selected by context hash so similarity scans stay local to one
// conversation context and unrelated calls never contend on one lock.
package cache

import (
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/schedcall/intake-engine/internal/domain"
)

// Config holds cache tuning, injected from configuration.
type Config struct {
	SimilarityThreshold float64
	TTL                 time.Duration
	Capacity            int
	Shards              int
}

type entry struct {
	fingerprint string
	contextHash string
	tokens      map[string]struct{}
	result      domain.ModelResult
}

type shard struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, *entry]
}

// Cache is a sharded, TTL- and LRU-evicting response cache with Jaccard
// similarity lookup over stored fingerprint token sets.
type Cache struct {
	shards    []*shard
	threshold float64
}

// New creates a cache. Capacity is split evenly across shards; TTL and
// LRU eviction are both enforced, whichever bites first.
func New(cfg Config) *Cache {
	if cfg.Shards <= 0 {
		cfg.Shards = 16
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 4096
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = 0.85
	}
	perShard := cfg.Capacity / cfg.Shards
	if perShard < 1 {
		perShard = 1
	}
	c := &Cache{
		shards:    make([]*shard, cfg.Shards),
		threshold: cfg.SimilarityThreshold,
	}
	for i := range c.shards {
		c.shards[i] = &shard{lru: expirable.NewLRU[string, *entry](perShard, nil, cfg.TTL)}
	}
	return c
}

func (c *Cache) shardFor(contextHash string) *shard {
	h := fnv.New32a()
	h.Write([]byte(contextHash))
	return c.shards[h.Sum32()%uint32(len(c.shards))]
}

// Lookup returns a stored response whose fingerprint matches exactly, or
// whose token-set similarity to redactedText meets the threshold within
// the same context. Corrupt or expired entries are simply misses.
func (c *Cache) Lookup(fingerprint, contextHash, redactedText string) (*domain.ModelResult, bool) {
	s := c.shardFor(contextHash)
	s.mu.Lock()
	defer s.mu.Unlock()

	if e, ok := s.lru.Get(fingerprint); ok && e.contextHash == contextHash {
		result := e.result
		return &result, true
	}

	want := tokenize(redactedText)
	if len(want) == 0 {
		return nil, false
	}

	var best *entry
	var bestScore float64
	for _, key := range s.lru.Keys() {
		e, ok := s.lru.Peek(key)
		if !ok || e.contextHash != contextHash {
			continue
		}
		score := jaccard(want, e.tokens)
		if score >= c.threshold && score > bestScore {
			best, bestScore = e, score
		}
	}
	if best == nil {
		return nil, false
	}
	// Get bumps recency for the winning entry.
	if e, ok := s.lru.Get(best.fingerprint); ok {
		result := e.result
		return &result, true
	}
	return nil, false
}

// Store inserts a redacted response under its fingerprint. The result is
// copied so later slot mutation cannot reach cached state.
func (c *Cache) Store(fingerprint, contextHash, redactedText string, result domain.ModelResult) {
	s := c.shardFor(contextHash)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lru.Add(fingerprint, &entry{
		fingerprint: fingerprint,
		contextHash: contextHash,
		tokens:      tokenize(redactedText),
		result:      result,
	})
}

// Len returns the number of live entries across all shards.
func (c *Cache) Len() int {
	n := 0
	for _, s := range c.shards {
		s.mu.Lock()
		n += s.lru.Len()
		s.mu.Unlock()
	}
	return n
}

// tokenize lowercases and splits redacted text into a token set for
// similarity comparison. Redaction tokens participate like any word, so
// paraphrases around the same redacted data still match.
func tokenize(text string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(text))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,!?;:\"'")
		if f != "" {
			set[f] = struct{}{}
		}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
