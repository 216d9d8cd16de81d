package indexing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/chunk"
	"github.com/kailas-cloud/triage/internal/domain/classification"
	"github.com/kailas-cloud/triage/internal/domain/entity"
	"github.com/kailas-cloud/triage/internal/domain/job"
	"github.com/kailas-cloud/triage/internal/domain/record"
)

// run executes one attempt for j: classify unless an earlier attempt already
// did, then either drop the entity's records or chunk, embed, upsert and
// delete stale chunks.
func (p *Pool) run(ctx context.Context, key string, gen uint64, j *job.Job) error {
	e := j.Entity
	if j.Classification == nil {
		res, err := p.classifier.Classify(ctx, e)
		if err != nil {
			return fmt.Errorf("classify: %w", err)
		}
		j.Classification = &res
	}
	res := *j.Classification

	if res.Discarded() || !res.AddedToRAG {
		var removed int
		err := p.guarded(key, gen, func() error {
			n, derr := p.store.DeleteByEntity(ctx, e.OrganizationID, e.ID)
			removed = n
			return derr
		})
		if err != nil {
			return fmt.Errorf("remove records: %w", err)
		}
		j.Chunks, j.SkippedChunks = 0, 0
		j.Status = job.StatusSkipped
		if removed > 0 {
			p.logger.Debug("Removed records of non-indexed entity",
				zap.String("entity_id", e.ID), zap.Int("records", removed))
		}
		return nil
	}

	chunks := p.chunker.Auto(e.IndexText(), e.Filename)
	recs, skipped, err := p.embedChunks(ctx, &e, chunks, &res)
	if err != nil {
		return err
	}
	if len(chunks) > 0 && len(recs) == 0 {
		return fmt.Errorf("%w: all %d chunks failed to embed", domain.ErrEmbeddingProviderError, len(chunks))
	}

	keep := make([]string, 0, len(recs))
	for _, r := range recs {
		keep = append(keep, r.ID)
	}
	err = p.guarded(key, gen, func() error {
		if err := p.store.Upsert(ctx, recs); err != nil {
			return fmt.Errorf("upsert records: %w", err)
		}
		if _, err := p.store.DeleteStale(ctx, e.OrganizationID, e.ID, keep); err != nil {
			return fmt.Errorf("delete stale records: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	j.Chunks, j.SkippedChunks = len(recs), skipped
	j.Status = job.StatusSucceeded
	return nil
}

// embedChunks embeds chunks concurrently. Chunks that fail are skipped and
// counted; only cancellation aborts the whole entity.
func (p *Pool) embedChunks(
	ctx context.Context, e *entity.Entity, chunks []chunk.Chunk, res *classification.Result,
) ([]record.Record, int, error) {
	out := make([]*record.Record, len(chunks))
	var (
		mu      sync.Mutex
		skipped int
	)
	now := p.now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.EmbedConcurrency)
	for i, c := range chunks {
		g.Go(func() error {
			emb, err := p.embed.Embed(gctx, c.Content)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				p.logger.Warn("Skipping chunk that failed to embed",
					zap.String("entity_id", e.ID),
					zap.Int("chunk", i),
					zap.Error(err),
				)
				mu.Lock()
				skipped++
				mu.Unlock()
				return nil
			}
			out[i] = &record.Record{
				ID:        record.ID(e.ID, i),
				Content:   c.Content,
				Embedding: emb.Embedding,
				Metadata:  metadataFor(e, res, c, now),
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("embed chunks: %w", err)
	}

	recs := make([]record.Record, 0, len(chunks))
	for _, r := range out {
		if r != nil {
			recs = append(recs, *r)
		}
	}
	return recs, skipped, nil
}

func metadataFor(e *entity.Entity, res *classification.Result, c chunk.Chunk, now time.Time) record.Metadata {
	entityType := e.Fields["entity_type"]
	if entityType == "" {
		entityType = e.Type
	}
	return record.Metadata{
		Type:           e.Type,
		EntityID:       e.ID,
		EntityType:     entityType,
		OrganizationID: e.OrganizationID,
		Source:         e.Source,
		Importance:     res.Importance,
		Tags:           res.Tags,
		Class:          res.FinalClass,
		Section:        c.Metadata.Section,
		Part:           c.Metadata.Part,
		CreatedAt:      e.CreatedAt,
		UpdatedAt:      now,
	}
}
