package embcache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/db"
	"github.com/kailas-cloud/triage/internal/domain"
)

func TestEmbed_CacheMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.5, 0.25}, TotalTokens: 3}}
	var (
		storedKey string
		storedTTL time.Duration
		stored    []byte
	)
	ms := &mockKVStore{
		setFn: func(_ context.Context, key string, value []byte, ttl time.Duration) error {
			storedKey, stored, storedTTL = key, value, ttl
			return nil
		},
	}
	ce := New(inner, ms, "small", time.Hour, nil, zap.NewNop())

	res, err := ce.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TotalTokens != 3 || inner.calls != 1 {
		t.Fatalf("expected inner result, got %+v (calls=%d)", res, inner.calls)
	}
	if !strings.HasPrefix(storedKey, "triage:emb:small:") {
		t.Errorf("unexpected cache key %q", storedKey)
	}
	if storedTTL != time.Hour {
		t.Errorf("ttl = %v, want 1h", storedTTL)
	}
	vec, err := db.DecodeVector(stored)
	if err != nil || len(vec) != 2 || vec[0] != 0.5 {
		t.Errorf("stored vector = %v, %v", vec, err)
	}
}

func TestEmbed_CacheHit(t *testing.T) {
	inner := &mockEmbedder{}
	ms := &mockKVStore{
		getFn: func(context.Context, string) ([]byte, error) {
			return []byte(db.EncodeVector([]float32{1, 2, 3})), nil
		},
	}
	ce := New(inner, ms, "small", time.Hour, nil, zap.NewNop())

	res, err := ce.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 0 {
		t.Error("inner embedder must not be called on hit")
	}
	if len(res.Embedding) != 3 || res.TotalTokens != 0 {
		t.Errorf("unexpected hit result %+v", res)
	}
}

func TestEmbed_CorruptEntryIsMiss(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	ms := &mockKVStore{
		getFn: func(context.Context, string) ([]byte, error) { return []byte{1, 2, 3}, nil },
	}
	ce := New(inner, ms, "small", 0, nil, nil)
	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("corrupt entry should fall through to inner, calls=%d", inner.calls)
	}
}

func TestEmbed_InnerError(t *testing.T) {
	inner := &mockEmbedder{err: domain.ErrEmbeddingProviderError}
	ce := New(inner, &mockKVStore{}, "small", time.Hour, nil, zap.NewNop())
	if _, err := ce.Embed(context.Background(), "x"); !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestEmbed_StoreErrorsAreNotFatal(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1}}}
	ms := &mockKVStore{
		getFn: func(context.Context, string) ([]byte, error) { return nil, errors.New("conn refused") },
		setFn: func(context.Context, string, []byte, time.Duration) error { return errors.New("conn refused") },
	}
	ce := New(inner, ms, "small", time.Hour, nil, zap.NewNop())
	if _, err := ce.Embed(context.Background(), "x"); err != nil {
		t.Fatalf("store failures must not fail embedding: %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	inner := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{0.1, 0.2}}}
	ce := New(inner, NewMemoryStore(10, time.Minute), "small", time.Minute, nil, nil)
	for range 3 {
		if _, err := ce.Embed(context.Background(), "same text"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if inner.calls != 1 {
		t.Errorf("inner calls = %d, want 1", inner.calls)
	}
}
