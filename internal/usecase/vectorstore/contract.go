package vectorstore

import (
	"context"
	"time"

	"github.com/kailas-cloud/triage/internal/domain/filter"
	"github.com/kailas-cloud/triage/internal/domain/record"
)

// Backend stores and searches vector records. Every method is organization-scoped.
type Backend interface {
	Upsert(ctx context.Context, recs []record.Record) error
	DeleteByEntity(ctx context.Context, org, entityID string) (int, error)
	DeleteStale(ctx context.Context, org, entityID string, keep []string) (int, error)
	Search(ctx context.Context, org string, vec []float32, filters filter.Expression, topK int) ([]record.Hit, error)
	KeywordSearch(ctx context.Context, org string, keywords, types []string, limit int) ([]record.Record, error)
	Stats(ctx context.Context, org string) (record.Stats, error)
}

// Cache holds search results by key. A miss returns ok=false and no error.
type Cache interface {
	Get(ctx context.Context, key string) (hits []record.Hit, ok bool, err error)
	Set(ctx context.Context, key string, hits []record.Hit, ttl time.Duration) error
}
