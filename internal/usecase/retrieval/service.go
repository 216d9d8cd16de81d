// Package retrieval answers search queries with a hybrid keyword and
// vector ranking, grouped by entity type.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/filter"
	"github.com/kailas-cloud/triage/internal/domain/keyword"
	"github.com/kailas-cloud/triage/internal/domain/record"
)

// Score weights.
const (
	PhraseWeight  = 10
	KeywordWeight = 3
)

// Config tunes ranking.
type Config struct {
	// TypeWeights adds a per-type bonus; unknown types get 0.
	TypeWeights map[string]float64
	// SimilarityWeight scales vector similarity into the score.
	SimilarityWeight float64
	// KeywordLimit bounds the keyword pass.
	KeywordLimit int
	// TopK bounds the vector pass.
	TopK int
	// MaxResults bounds the response.
	MaxResults int
}

// DefaultConfig returns the standard ranking weights.
func DefaultConfig() Config {
	return Config{
		TypeWeights:      map[string]float64{"offer": 3, "email": 2, "document": 1},
		SimilarityWeight: 5,
		KeywordLimit:     100,
		TopK:             20,
		MaxResults:       50,
	}
}

// Result is a ranked record.
type Result struct {
	Record          record.Record `json:"record"`
	Score           float64       `json:"score"`
	Similarity      float64       `json:"similarity"`
	MatchedKeywords int           `json:"matched_keywords"`
	PhraseMatch     bool          `json:"phrase_match"`
}

// Group holds the results of one entity type.
type Group struct {
	Type    string   `json:"type"`
	Results []Result `json:"results"`
}

// Response is a ranked, grouped answer.
type Response struct {
	Query    string       `json:"query"`
	Keywords []string     `json:"keywords"`
	Groups   []Group      `json:"groups"`
	Results  []Result     `json:"results"`
	Stats    record.Stats `json:"stats"`
	// Degraded is set when one of the two passes was unavailable.
	Degraded bool `json:"degraded"`
}

// Service ranks records for a query.
type Service struct {
	store  VectorStore
	embed  domain.Embedder
	cfg    Config
	logger *zap.Logger
}

// Option configures the Service.
type Option func(*Service)

// WithConfig overrides ranking weights.
func WithConfig(c Config) Option {
	return func(s *Service) { s.cfg = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// New creates a retrieval service.
func New(store VectorStore, embed domain.Embedder, opts ...Option) *Service {
	s := &Service{store: store, embed: embed, cfg: DefaultConfig(), logger: zap.NewNop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

type candidate struct {
	rec        record.Record
	similarity float64
}

// Search runs the keyword and vector passes for query within org, optionally
// restricted to types, and returns the merged ranking.
func (s *Service) Search(ctx context.Context, org, query string, types []string) (Response, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return Response{}, err
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return Response{}, fmt.Errorf("%w: query is required", domain.ErrInvalidInput)
	}
	types = normalizeTypes(types)
	resp := Response{Query: query, Keywords: keyword.Extract(query)}

	cands := map[string]*candidate{}
	keywordOK, err := s.keywordPass(ctx, org, resp.Keywords, types, cands)
	if err != nil {
		return Response{}, err
	}
	vectorOK, err := s.vectorPass(ctx, org, query, types, cands)
	if err != nil {
		return Response{}, err
	}
	resp.Degraded = !keywordOK || !vectorOK

	resp.Results = s.rank(query, resp.Keywords, cands)
	resp.Groups = group(resp.Results)
	acc := record.NewAccumulate()
	for _, r := range resp.Results {
		acc.Add(r.Record.Metadata)
	}
	resp.Stats = acc.Finish()
	return resp, nil
}

func (s *Service) keywordPass(
	ctx context.Context, org string, keywords, types []string, cands map[string]*candidate,
) (bool, error) {
	if len(keywords) == 0 {
		return true, nil
	}
	recs, err := s.store.KeywordSearch(ctx, org, keywords, types, s.cfg.KeywordLimit)
	switch {
	case errors.Is(err, domain.ErrKeywordSearchNotSupported):
		s.logger.Debug("Keyword pass unavailable, ranking vector hits only", zap.String("organization_id", org))
		return false, nil
	case err != nil:
		return false, fmt.Errorf("keyword pass: %w", err)
	}
	for _, r := range recs {
		if _, ok := cands[r.ID]; !ok {
			cands[r.ID] = &candidate{rec: r}
		}
	}
	return true, nil
}

func (s *Service) vectorPass(
	ctx context.Context, org, query string, types []string, cands map[string]*candidate,
) (bool, error) {
	emb, err := s.embed.Embed(ctx, query)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		s.logger.Warn("Query embedding failed, ranking keyword hits only",
			zap.String("organization_id", org), zap.Error(err))
		return false, nil
	}
	filters, err := typeFilter(types)
	if err != nil {
		return false, fmt.Errorf("%w: %w", domain.ErrInvalidInput, err)
	}
	hits, err := s.store.Search(ctx, org, emb.Embedding, filters, s.cfg.TopK)
	if err != nil {
		return false, fmt.Errorf("vector pass: %w", err)
	}
	for _, h := range hits {
		if c, ok := cands[h.Record.ID]; ok {
			c.similarity = h.Similarity
			continue
		}
		cands[h.Record.ID] = &candidate{rec: h.Record, similarity: h.Similarity}
	}
	return true, nil
}

func (s *Service) rank(query string, keywords []string, cands map[string]*candidate) []Result {
	out := make([]Result, 0, len(cands))
	for _, c := range cands {
		text := c.rec.Content
		r := Result{
			Record:          c.rec,
			Similarity:      c.similarity,
			PhraseMatch:     keyword.ContainsPhrase(text, query),
			MatchedKeywords: keyword.CountMatches(text, keywords),
		}
		if r.PhraseMatch {
			r.Score += PhraseWeight
		}
		r.Score += KeywordWeight*float64(r.MatchedKeywords) +
			s.cfg.TypeWeights[c.rec.Metadata.Type] +
			float64(c.rec.Metadata.Importance) +
			s.cfg.SimilarityWeight*c.similarity
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Record.Metadata.CreatedAt.Equal(b.Record.Metadata.CreatedAt) {
			return a.Record.Metadata.CreatedAt.After(b.Record.Metadata.CreatedAt)
		}
		return a.Record.ID < b.Record.ID
	})
	if s.cfg.MaxResults > 0 && len(out) > s.cfg.MaxResults {
		out = out[:s.cfg.MaxResults]
	}
	return out
}

// group buckets ranked results by type; groups follow the rank of their best result.
func group(results []Result) []Group {
	idx := map[string]int{}
	var groups []Group
	for _, r := range results {
		t := r.Record.Metadata.Type
		i, ok := idx[t]
		if !ok {
			i = len(groups)
			idx[t] = i
			groups = append(groups, Group{Type: t})
		}
		groups[i].Results = append(groups[i].Results, r)
	}
	return groups
}

func typeFilter(types []string) (filter.Expression, error) {
	if len(types) == 0 {
		return filter.Expression{}, nil
	}
	should := make([]filter.Condition, 0, len(types))
	for _, t := range types {
		c, err := filter.NewMatch("type", t)
		if err != nil {
			return filter.Expression{}, err
		}
		should = append(should, c)
	}
	return filter.NewExpression(nil, should, nil)
}

func normalizeTypes(types []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(types))
	for _, t := range types {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}
