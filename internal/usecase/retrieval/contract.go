package retrieval

import (
	"context"

	"github.com/kailas-cloud/triage/internal/domain/filter"
	"github.com/kailas-cloud/triage/internal/domain/record"
)

// VectorStore is the organization-scoped record search used for retrieval.
type VectorStore interface {
	Search(ctx context.Context, org string, vec []float32, filters filter.Expression, topK int) ([]record.Hit, error)
	KeywordSearch(ctx context.Context, org string, keywords, types []string, limit int) ([]record.Record, error)
}
