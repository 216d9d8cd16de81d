// Package hashembed is a deterministic, model-free Embedder for local and test
// deployments. Tokens and token bigrams are hashed into a fixed number of
// signed buckets and the result is L2-normalized, so texts sharing vocabulary
// land close together under cosine similarity.
package hashembed

import (
	"context"
	"fmt"
	"hash/fnv"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/keyword"
)

// DefaultDimensions is used when New gets a non-positive dimension.
const DefaultDimensions = 256

const bigramWeight = 0.5

// Embedder hashes text into vectors.
type Embedder struct {
	dim int
}

// New creates an embedder producing vectors of length dim.
func New(dim int) *Embedder {
	if dim <= 0 {
		dim = DefaultDimensions
	}
	return &Embedder{dim: dim}
}

// Dimensions returns the vector length.
func (e *Embedder) Dimensions() int { return e.dim }

// Embed implements domain.Embedder. Token counts are approximated by the number of words.
func (e *Embedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.EmbeddingResult{}, err
	}
	tokens := keyword.Tokenize(text)
	if len(tokens) == 0 {
		return domain.EmbeddingResult{}, fmt.Errorf("%w: nothing to embed", domain.ErrInvalidInput)
	}
	vec := make([]float32, e.dim)
	for i, t := range tokens {
		if keyword.IsStopWord(t) {
			continue
		}
		e.add(vec, t, 1)
		if i > 0 {
			e.add(vec, tokens[i-1]+" "+t, bigramWeight)
		}
	}
	return domain.EmbeddingResult{
		Embedding:    domain.Normalize(vec),
		PromptTokens: len(tokens),
		TotalTokens:  len(tokens),
	}, nil
}

// HealthCheck always succeeds.
func (e *Embedder) HealthCheck(context.Context) error { return nil }

func (e *Embedder) add(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	_, _ = h.Write([]byte(feature))
	sum := h.Sum64()
	idx := int(sum % uint64(e.dim))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}
