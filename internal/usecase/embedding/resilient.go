package embedding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/metrics"
)

// ResilienceConfig tunes ResilientEmbedder.
type ResilienceConfig struct {
	// RPS <= 0 disables rate limiting.
	RPS            float64
	Burst          int
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// DefaultResilienceConfig returns the production defaults.
func DefaultResilienceConfig() ResilienceConfig {
	return ResilienceConfig{
		RPS:            20,
		Burst:          40,
		MaxRetries:     3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
	}
}

// ResilientEmbedder applies a client-side rate limit and retries transient
// provider failures with exponential backoff.
type ResilientEmbedder struct {
	inner    domain.Embedder
	limiter  *rate.Limiter
	cfg      ResilienceConfig
	provider string
	logger   *zap.Logger
	backOff  func() backoff.BackOff
}

// NewResilientEmbedder wraps inner.
func NewResilientEmbedder(
	inner domain.Embedder, provider string, cfg ResilienceConfig, logger *zap.Logger,
) *ResilientEmbedder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	r := &ResilientEmbedder{
		inner:    inner,
		cfg:      cfg,
		provider: provider,
		logger:   logger,
	}
	if cfg.RPS > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst)
	}
	r.backOff = func() backoff.BackOff {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = cfg.InitialBackoff
		b.MaxInterval = cfg.MaxBackoff
		b.MaxElapsedTime = 0
		return b
	}
	return r
}

// Embed waits for a rate-limit token, then calls inner with retries.
// Invalid input and dimension mismatches are not retried.
func (r *ResilientEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	attempt := 0
	op := func() (domain.EmbeddingResult, error) {
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return domain.EmbeddingResult{}, backoff.Permanent(fmt.Errorf("%w: %v", domain.ErrRateLimited, err))
			}
		}
		attempt++
		if attempt > 1 {
			metrics.EmbeddingRetriesTotal.WithLabelValues(r.provider).Inc()
		}
		res, err := r.inner.Embed(ctx, text)
		if err == nil {
			return res, nil
		}
		if !retryable(err) {
			return domain.EmbeddingResult{}, backoff.Permanent(err)
		}
		r.logger.Warn("Embedding attempt failed",
			zap.String("provider", r.provider),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return domain.EmbeddingResult{}, err
	}

	b := backoff.WithContext(backoff.WithMaxRetries(r.backOff(), uint64(r.cfg.MaxRetries)), ctx)
	return backoff.RetryWithData(op, b)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, domain.ErrInvalidInput), errors.Is(err, domain.ErrVectorDimMismatch):
		return false
	}
	return true
}
