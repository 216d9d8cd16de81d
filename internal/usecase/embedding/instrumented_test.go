package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/domain"
)

type mockEmbedder struct {
	results []domain.EmbeddingResult
	errs    []error
	calls   int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	i := m.calls
	m.calls++
	var (
		res domain.EmbeddingResult
		err error
	)
	if i < len(m.results) {
		res = m.results[i]
	} else if len(m.results) > 0 {
		res = m.results[len(m.results)-1]
	}
	if i < len(m.errs) {
		err = m.errs[i]
	}
	return res, err
}

func ok(vec ...float32) domain.EmbeddingResult {
	return domain.EmbeddingResult{Embedding: vec, TotalTokens: 2}
}

func fast(cfg ResilienceConfig) ResilienceConfig {
	cfg.InitialBackoff = time.Millisecond
	cfg.MaxBackoff = time.Millisecond
	return cfg
}

func noWait() backoff.BackOff { return &backoff.ZeroBackOff{} }

func TestInstrumentedEmbedder_Success(t *testing.T) {
	inner := &mockEmbedder{results: []domain.EmbeddingResult{ok(0.1, 0.2, 0.3)}}
	p := NewInstrumentedEmbedder(inner, "test", "test-model", 3, zap.NewNop())

	result, err := p.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Embedding) != 3 || result.TotalTokens != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestInstrumentedEmbedder_DimensionMismatch(t *testing.T) {
	inner := &mockEmbedder{results: []domain.EmbeddingResult{ok(0.1, 0.2)}}
	p := NewInstrumentedEmbedder(inner, "test", "test-model", 3, nil)

	if _, err := p.Embed(context.Background(), "hello"); !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Fatalf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestInstrumentedEmbedder_Error(t *testing.T) {
	inner := &mockEmbedder{errs: []error{domain.ErrEmbeddingProviderError}}
	p := NewInstrumentedEmbedder(inner, "test", "test-model", 0, zap.NewNop())

	if _, err := p.Embed(context.Background(), "hello"); !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
}

func TestResilientEmbedder_RetriesTransientErrors(t *testing.T) {
	inner := &mockEmbedder{
		results: []domain.EmbeddingResult{{}, {}, ok(1, 0)},
		errs:    []error{domain.ErrEmbeddingProviderError, domain.ErrRateLimited},
	}
	r := NewResilientEmbedder(inner, "test", fast(ResilienceConfig{MaxRetries: 3}), zap.NewNop())
	r.backOff = noWait

	res, err := r.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inner.calls != 3 || len(res.Embedding) != 2 {
		t.Errorf("calls = %d, result = %+v", inner.calls, res)
	}
}

func TestResilientEmbedder_GivesUpAfterMaxRetries(t *testing.T) {
	inner := &mockEmbedder{errs: []error{
		domain.ErrEmbeddingProviderError, domain.ErrEmbeddingProviderError, domain.ErrEmbeddingProviderError,
	}}
	r := NewResilientEmbedder(inner, "test", fast(ResilienceConfig{MaxRetries: 2}), nil)
	r.backOff = noWait

	if _, err := r.Embed(context.Background(), "hello"); !errors.Is(err, domain.ErrEmbeddingProviderError) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if inner.calls != 3 {
		t.Errorf("calls = %d, want 3", inner.calls)
	}
}

func TestResilientEmbedder_PermanentErrorsAreNotRetried(t *testing.T) {
	inner := &mockEmbedder{errs: []error{domain.ErrInvalidInput}}
	r := NewResilientEmbedder(inner, "test", fast(ResilienceConfig{MaxRetries: 3}), nil)
	r.backOff = noWait

	if _, err := r.Embed(context.Background(), "hello"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("calls = %d, want 1", inner.calls)
	}
}

func TestResilientEmbedder_RateLimitWaitFailsOnCancelledContext(t *testing.T) {
	inner := &mockEmbedder{results: []domain.EmbeddingResult{ok(1)}}
	r := NewResilientEmbedder(inner, "test", ResilienceConfig{RPS: 1, Burst: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Embed(ctx, "hello"); err == nil {
		t.Fatal("expected error on cancelled context")
	}
	if inner.calls != 0 {
		t.Errorf("inner must not be called, calls = %d", inner.calls)
	}
}
