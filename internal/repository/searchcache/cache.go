// Package searchcache stores vector search results for repeated queries.
package searchcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/kailas-cloud/triage/internal/db"
	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/record"
)

var keyPrefix = domain.KeyPrefix + "search:"

// store is the consumer interface for the Redis-backed cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Redis keeps results as JSON values with an expiry.
type Redis struct {
	store store
}

// NewRedis creates a Redis-backed cache.
func NewRedis(s store) *Redis {
	return &Redis{store: s}
}

// Get returns cached hits for key.
func (c *Redis) Get(ctx context.Context, key string) ([]record.Hit, bool, error) {
	data, err := c.store.Get(ctx, keyPrefix+key)
	if err != nil {
		if errors.Is(err, db.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get cached search: %w", err)
	}
	var hits []record.Hit
	if err := json.Unmarshal(data, &hits); err != nil {
		return nil, false, fmt.Errorf("decode cached search: %w", err)
	}
	return hits, true, nil
}

// Set stores hits under key for ttl.
func (c *Redis) Set(ctx context.Context, key string, hits []record.Hit, ttl time.Duration) error {
	if hits == nil {
		hits = []record.Hit{}
	}
	data, err := json.Marshal(hits)
	if err != nil {
		return fmt.Errorf("encode search: %w", err)
	}
	if err := c.store.SetWithTTL(ctx, keyPrefix+key, data, ttl); err != nil {
		return fmt.Errorf("set cached search: %w", err)
	}
	return nil
}

// Memory is an in-process LRU with a fixed TTL, used with the memory backend.
type Memory struct {
	lru *expirable.LRU[string, []record.Hit]
}

// NewMemory creates an LRU cache of size entries expiring after ttl.
func NewMemory(size int, ttl time.Duration) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{lru: expirable.NewLRU[string, []record.Hit](size, nil, ttl)}
}

// Get returns cached hits for key.
func (c *Memory) Get(_ context.Context, key string) ([]record.Hit, bool, error) {
	hits, ok := c.lru.Get(key)
	return hits, ok, nil
}

// Set stores hits. The per-call ttl is ignored; entries expire after the cache TTL.
func (c *Memory) Set(_ context.Context, key string, hits []record.Hit, _ time.Duration) error {
	c.lru.Add(key, hits)
	return nil
}
