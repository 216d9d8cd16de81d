package indexing

import (
	"context"

	"github.com/kailas-cloud/triage/internal/domain/chunk"
	"github.com/kailas-cloud/triage/internal/domain/classification"
	"github.com/kailas-cloud/triage/internal/domain/entity"
	"github.com/kailas-cloud/triage/internal/domain/job"
	"github.com/kailas-cloud/triage/internal/domain/record"
)

// Classifier decides whether and how an entity is indexed.
type Classifier interface {
	Classify(ctx context.Context, e entity.Entity) (classification.Result, error)
}

// Chunker splits content; hint is a filename used to pick the strategy.
type Chunker interface {
	Auto(content, hint string) []chunk.Chunk
}

// VectorStore receives the records of indexed entities.
type VectorStore interface {
	Upsert(ctx context.Context, recs []record.Record) error
	DeleteByEntity(ctx context.Context, org, entityID string) (int, error)
	DeleteStale(ctx context.Context, org, entityID string, keep []string) (int, error)
}

// JobRepository persists job status.
type JobRepository interface {
	Save(ctx context.Context, j job.Job) error
	Get(ctx context.Context, org, id string) (job.Job, error)
	// List returns jobs of org, newest first; an empty status matches all.
	List(ctx context.Context, org string, status job.Status, limit int) ([]job.Job, error)
}
