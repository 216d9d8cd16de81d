// Package memory provides in-process implementations of every repository,
// used for tests and single-node deployments without Redis or SQLite.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/filter"
	"github.com/kailas-cloud/triage/internal/domain/keyword"
	"github.com/kailas-cloud/triage/internal/domain/record"
)

// Records is a brute-force cosine vector store partitioned by organization.
type Records struct {
	mu  sync.RWMutex
	dim int
	// org -> record id -> record
	data map[string]map[string]record.Record
}

// NewRecords creates an empty store for vectors of dimension dim.
func NewRecords(dim int) *Records {
	return &Records{dim: dim, data: map[string]map[string]record.Record{}}
}

// Upsert stores records, replacing any with the same id.
func (s *Records) Upsert(_ context.Context, recs []record.Record) error {
	for i := range recs {
		if err := domain.CheckOrganization(recs[i].Metadata.OrganizationID); err != nil {
			return err
		}
		if s.dim > 0 && len(recs[i].Embedding) != s.dim {
			return fmt.Errorf("%w: got %d, want %d", domain.ErrVectorDimMismatch, len(recs[i].Embedding), s.dim)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		org := r.Metadata.OrganizationID
		if s.data[org] == nil {
			s.data[org] = map[string]record.Record{}
		}
		r.Embedding = append([]float32(nil), r.Embedding...)
		r.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
		s.data[org][r.ID] = r
	}
	return nil
}

// DeleteByEntity removes all records of an entity.
func (s *Records) DeleteByEntity(ctx context.Context, org, entityID string) (int, error) {
	return s.DeleteStale(ctx, org, entityID, nil)
}

// DeleteStale removes records of an entity whose ids are not in keep.
func (s *Records) DeleteStale(_ context.Context, org, entityID string, keep []string) (int, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return 0, err
	}
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, r := range s.data[org] {
		if r.Metadata.EntityID != entityID {
			continue
		}
		if _, ok := kept[id]; ok {
			continue
		}
		delete(s.data[org], id)
		n++
	}
	return n, nil
}

// Search returns the topK records of org by cosine similarity.
func (s *Records) Search(
	_ context.Context, org string, vec []float32, filters filter.Expression, topK int,
) ([]record.Hit, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	if s.dim > 0 && len(vec) != s.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", domain.ErrVectorDimMismatch, len(vec), s.dim)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	hits := make([]record.Hit, 0, len(s.data[org]))
	for _, r := range s.data[org] {
		if !filters.IsEmpty() && !filters.Matches(tagsOf(r.Metadata), numericsOf(r.Metadata)) {
			continue
		}
		sim, err := domain.Cosine(vec, r.Embedding)
		if err != nil {
			return nil, err
		}
		hits = append(hits, record.Hit{Record: r, Similarity: max(0, sim)})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].Record.ID < hits[j].Record.ID
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// KeywordSearch returns records of org whose content contains any keyword as a token.
func (s *Records) KeywordSearch(
	_ context.Context, org string, keywords, types []string, limit int,
) ([]record.Record, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	if len(keywords) == 0 {
		return nil, nil
	}
	allowed := make(map[string]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []record.Record
	for _, r := range s.data[org] {
		if len(allowed) > 0 {
			if _, ok := allowed[r.Metadata.Type]; !ok {
				continue
			}
		}
		if keyword.ContainsAny(r.Content, keywords) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Metadata.CreatedAt.Equal(out[j].Metadata.CreatedAt) {
			return out[i].Metadata.CreatedAt.After(out[j].Metadata.CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats aggregates the records of org.
func (s *Records) Stats(_ context.Context, org string) (record.Stats, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return record.Stats{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc := record.NewAccumulate()
	for _, r := range s.data[org] {
		acc.Add(r.Metadata)
	}
	return acc.Finish(), nil
}

// Ping always succeeds.
func (s *Records) Ping(context.Context) error { return nil }

func tagsOf(m record.Metadata) map[string]string {
	return map[string]string{
		"org":         m.OrganizationID,
		"type":        m.Type,
		"entity_id":   m.EntityID,
		"entity_type": m.EntityType,
		"source":      m.Source,
		"class":       m.Class,
	}
}

func numericsOf(m record.Metadata) map[string]float64 {
	return map[string]float64{
		"importance": float64(m.Importance),
		"created_at": float64(m.CreatedAt.UnixMilli()),
		"updated_at": float64(m.UpdatedAt.UnixMilli()),
	}
}
