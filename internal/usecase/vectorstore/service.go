// Package vectorstore wraps a record backend with similarity thresholds,
// tenant checks and a search result cache.
package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/filter"
	"github.com/kailas-cloud/triage/internal/domain/record"
)

// Defaults.
const (
	DefaultMinSimilarity = 0.3
	DefaultCacheTTL      = 24 * time.Hour
	DefaultTopK          = 20
	maxTopK              = 1000
)

// Service is the organization-scoped vector store.
type Service struct {
	backend       Backend
	cache         Cache
	cacheTTL      time.Duration
	minSimilarity float64
	cacheEvents   *prometheus.CounterVec // label: result (hit/miss/error)
	logger        *zap.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithCache enables the search result cache.
func WithCache(c Cache, ttl time.Duration) Option {
	return func(s *Service) {
		s.cache = c
		if ttl > 0 {
			s.cacheTTL = ttl
		}
	}
}

// WithMinSimilarity overrides the similarity floor for search hits.
func WithMinSimilarity(v float64) Option {
	return func(s *Service) { s.minSimilarity = v }
}

// WithCacheMetrics counts cache lookups by result.
func WithCacheMetrics(c *prometheus.CounterVec) Option {
	return func(s *Service) { s.cacheEvents = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a vector store service over backend.
func New(backend Backend, opts ...Option) *Service {
	s := &Service{
		backend:       backend,
		cacheTTL:      DefaultCacheTTL,
		minSimilarity: DefaultMinSimilarity,
		logger:        zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Upsert stores records, replacing any with the same id. Embeddings are
// normalized to unit length. All records must belong to one organization.
func (s *Service) Upsert(ctx context.Context, recs []record.Record) error {
	if len(recs) == 0 {
		return nil
	}
	org := recs[0].Metadata.OrganizationID
	if err := domain.CheckOrganization(org); err != nil {
		return err
	}
	out := make([]record.Record, len(recs))
	for i := range recs {
		r := recs[i]
		if r.Metadata.OrganizationID != org {
			return fmt.Errorf("%w: upsert batch mixes organizations %q and %q",
				domain.ErrInvalidInput, org, r.Metadata.OrganizationID)
		}
		if err := r.Validate(); err != nil {
			return fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
		}
		r.Embedding = domain.Normalize(append([]float32(nil), r.Embedding...))
		out[i] = r
	}
	if err := s.backend.Upsert(ctx, out); err != nil {
		return fmt.Errorf("upsert records: %w", err)
	}
	return nil
}

// DeleteByEntity removes every record of an entity.
func (s *Service) DeleteByEntity(ctx context.Context, org, entityID string) (int, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return 0, err
	}
	n, err := s.backend.DeleteByEntity(ctx, org, entityID)
	if err != nil {
		return 0, fmt.Errorf("delete entity records: %w", err)
	}
	return n, nil
}

// DeleteStale removes records of an entity whose ids are not in keep.
func (s *Service) DeleteStale(ctx context.Context, org, entityID string, keep []string) (int, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return 0, err
	}
	n, err := s.backend.DeleteStale(ctx, org, entityID, keep)
	if err != nil {
		return 0, fmt.Errorf("delete stale records: %w", err)
	}
	return n, nil
}

// Search returns up to topK records of org most similar to vec, dropping hits
// below the similarity floor. Results may be served from cache.
func (s *Service) Search(
	ctx context.Context, org string, vec []float32, filters filter.Expression, topK int,
) ([]record.Hit, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: query embedding is empty", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	topK = min(topK, maxTopK)
	q := domain.Normalize(append([]float32(nil), vec...))

	key := CacheKey(org, q, filters, topK)
	if hits, ok := s.cached(ctx, key); ok {
		return hits, nil
	}

	raw, err := s.backend.Search(ctx, org, q, filters, topK)
	if err != nil {
		return nil, fmt.Errorf("search records: %w", err)
	}
	hits := make([]record.Hit, 0, len(raw))
	for _, h := range raw {
		if err := s.guard(org, h.Record); err != nil {
			return nil, err
		}
		if h.Similarity < s.minSimilarity {
			continue
		}
		hits = append(hits, h)
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, hits, s.cacheTTL); err != nil {
			s.logger.Warn("Failed to cache search results", zap.String("organization_id", org), zap.Error(err))
		}
	}
	return hits, nil
}

// KeywordSearch returns records of org containing any keyword, optionally restricted to types.
func (s *Service) KeywordSearch(
	ctx context.Context, org string, keywords, types []string, limit int,
) ([]record.Record, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	recs, err := s.backend.KeywordSearch(ctx, org, keywords, types, limit)
	if err != nil {
		if errors.Is(err, domain.ErrKeywordSearchNotSupported) {
			return nil, err
		}
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	for _, r := range recs {
		if err := s.guard(org, r); err != nil {
			return nil, err
		}
	}
	return recs, nil
}

// Stats summarizes the records of org.
func (s *Service) Stats(ctx context.Context, org string) (record.Stats, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return record.Stats{}, err
	}
	st, err := s.backend.Stats(ctx, org)
	if err != nil {
		return record.Stats{}, fmt.Errorf("record stats: %w", err)
	}
	return st, nil
}

// guard rejects records that leaked from another organization.
func (s *Service) guard(org string, r record.Record) error {
	if r.Metadata.OrganizationID == org {
		return nil
	}
	err := &domain.CrossTenantError{Expected: org, Actual: r.Metadata.OrganizationID, RecordID: r.ID}
	s.logger.Error("Cross-tenant record in scoped read",
		zap.String("organization_id", org),
		zap.String("record_org", r.Metadata.OrganizationID),
		zap.String("record_id", r.ID),
	)
	return err
}

func (s *Service) cached(ctx context.Context, key string) ([]record.Hit, bool) {
	if s.cache == nil {
		return nil, false
	}
	hits, ok, err := s.cache.Get(ctx, key)
	switch {
	case err != nil:
		s.count("error")
		s.logger.Warn("Search cache read failed", zap.Error(err))
		return nil, false
	case ok:
		s.count("hit")
		return hits, true
	default:
		s.count("miss")
		return nil, false
	}
}

func (s *Service) count(result string) {
	if s.cacheEvents != nil {
		s.cacheEvents.WithLabelValues(result).Inc()
	}
}

// CacheKey hashes the inputs that determine a search result.
func CacheKey(org string, vec []float32, filters filter.Expression, topK int) string {
	h := sha256.New()
	h.Write([]byte(org))
	h.Write([]byte{0})
	var buf [4]byte
	for _, v := range vec {
		binary.LittleEndian.PutUint32(buf[:], math.Float32bits(v))
		h.Write(buf[:])
	}
	h.Write([]byte{0})
	h.Write([]byte(filters.Fingerprint()))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(topK)))
	return hex.EncodeToString(h.Sum(nil))
}
