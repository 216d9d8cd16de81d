// Package record stores vector records as hashes behind a search index.
package record

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/kailas-cloud/triage/internal/db"
	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/filter"
	"github.com/kailas-cloud/triage/internal/domain/keyword"
	"github.com/kailas-cloud/triage/internal/domain/record"
)

var (
	keyPrefix = domain.KeyPrefix + "rec:"
	indexName = domain.KeyPrefix + "rec:idx"
)

// Hash field names.
const (
	fieldOrg        = "org"
	fieldType       = "type"
	fieldEntityID   = "entity_id"
	fieldEntityType = "entity_type"
	fieldSource     = "source"
	fieldTags       = "tags"
	fieldClass      = "class"
	fieldImportance = "importance"
	fieldCreatedAt  = "created_at"
	fieldUpdatedAt  = "updated_at"
	fieldContent    = "content"
	fieldSection    = "section"
	fieldPart       = "part"
	fieldVector     = "vector"
)

// returnFields are fetched for search hits; the vector is never read back.
var returnFields = []string{
	fieldOrg, fieldType, fieldEntityID, fieldEntityType, fieldSource, fieldTags, fieldClass,
	fieldImportance, fieldCreatedAt, fieldUpdatedAt, fieldContent, fieldSection, fieldPart,
}

const (
	scanBatch   = 200
	keywordsMax = 32
)

// store is the consumer interface for vector records (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	DelMulti(ctx context.Context, keys []string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchText(ctx context.Context, q *db.TextQuery) (*db.SearchResult, error)
}

// HNSWConfig tunes the vector index.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo implements usecase/vectorstore.Backend over a search-capable key-value store.
type Repo struct {
	store store
	dim   int
	hnsw  HNSWConfig
}

// New creates a record repository for vectors of dim dimensions.
func New(s store, dim int, hnsw HNSWConfig) *Repo {
	return &Repo{store: s, dim: dim, hnsw: hnsw}
}

// IndexDefinition describes the record index.
func (r *Repo) IndexDefinition() (*db.IndexDefinition, error) {
	return db.NewIndex(indexName).
		Prefix(keyPrefix).
		Tag(fieldOrg).
		Tag(fieldType).
		Tag(fieldEntityID).
		Tag(fieldEntityType).
		Tag(fieldSource).
		Tag(fieldClass).
		TagList(fieldTags, ",").
		Numeric(fieldImportance).
		Numeric(fieldCreatedAt).
		Text(fieldContent).
		VectorHNSW(fieldVector, r.dim, db.DistanceCosine, r.hnsw.M, r.hnsw.EFConstruct).
		Build()
}

// EnsureIndex creates the record index unless it already exists.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	exists, err := r.store.IndexExists(ctx, indexName)
	if err != nil {
		return fmt.Errorf("check index %s: %w", indexName, err)
	}
	if exists {
		return nil
	}
	def, err := r.IndexDefinition()
	if err != nil {
		return fmt.Errorf("build index: %w", err)
	}
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", indexName, err)
	}
	return nil
}

// Upsert writes records in one pipeline. Existing records with the same id are overwritten.
func (r *Repo) Upsert(ctx context.Context, recs []record.Record) error {
	if len(recs) == 0 {
		return nil
	}
	items := make([]db.HashSetItem, 0, len(recs))
	for i := range recs {
		rec := &recs[i]
		if err := domain.CheckOrganization(rec.Metadata.OrganizationID); err != nil {
			return err
		}
		if len(rec.Embedding) != r.dim {
			return fmt.Errorf("record %s: %w: got %d, want %d",
				rec.ID, domain.ErrVectorDimMismatch, len(rec.Embedding), r.dim)
		}
		items = append(items, db.HashSetItem{
			Key:    recordKey(rec.Metadata.OrganizationID, rec.ID),
			Fields: toFields(rec),
		})
	}
	if err := r.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("hset records: %w", err)
	}
	return nil
}

// DeleteByEntity removes every record of an entity.
func (r *Repo) DeleteByEntity(ctx context.Context, org, entityID string) (int, error) {
	keys, err := r.entityKeys(ctx, org, entityID)
	if err != nil {
		return 0, err
	}
	return r.delete(ctx, keys)
}

// DeleteStale removes records of an entity whose ids are not in keep.
func (r *Repo) DeleteStale(ctx context.Context, org, entityID string, keep []string) (int, error) {
	keys, err := r.entityKeys(ctx, org, entityID)
	if err != nil {
		return 0, err
	}
	keepSet := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		keepSet[recordKey(org, id)] = struct{}{}
	}
	stale := keys[:0]
	for _, k := range keys {
		if _, ok := keepSet[k]; !ok {
			stale = append(stale, k)
		}
	}
	return r.delete(ctx, stale)
}

func (r *Repo) delete(ctx context.Context, keys []string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	if err := r.store.DelMulti(ctx, keys); err != nil {
		return 0, fmt.Errorf("delete records: %w", err)
	}
	return len(keys), nil
}

// entityKeys lists record keys of one entity. Keys that only share a prefix
// with the entity id are excluded.
func (r *Repo) entityKeys(ctx context.Context, org, entityID string) ([]string, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	prefix := keyPrefix + org + ":" + entityID + ":"
	keys, err := r.store.Scan(ctx, prefix+"*")
	if err != nil {
		return nil, fmt.Errorf("scan records of %s: %w", entityID, err)
	}
	out := keys[:0]
	for _, k := range keys {
		if _, err := strconv.Atoi(strings.TrimPrefix(k, prefix)); err == nil {
			out = append(out, k)
		}
	}
	return out, nil
}

// Search runs a KNN query restricted to org. Similarity is cosine in [0,1].
func (r *Repo) Search(
	ctx context.Context, org string, vec []float32, filters filter.Expression, topK int,
) ([]record.Hit, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	if len(vec) != r.dim {
		return nil, fmt.Errorf("%w: got %d, want %d", domain.ErrVectorDimMismatch, len(vec), r.dim)
	}
	orgCond, err := filter.NewMatch(fieldOrg, org)
	if err != nil {
		return nil, err
	}
	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName,
		VectorField:  fieldVector,
		Filters:      filters.WithMust(orgCond),
		Vector:       vec,
		K:            topK,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, fmt.Errorf("search knn: %w", err)
	}
	if sr == nil {
		return nil, nil
	}
	hits := make([]record.Hit, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		hits = append(hits, record.Hit{Record: fromFields(e.Key, e.Fields), Similarity: e.Score})
	}
	return hits, nil
}

// KeywordSearch returns records of org whose content has a word starting
// with the stem of any keyword (see keyword.Stem).
// Backends without full-text search return domain.ErrKeywordSearchNotSupported.
func (r *Repo) KeywordSearch(
	ctx context.Context, org string, keywords, types []string, limit int,
) ([]record.Record, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return nil, err
	}
	if len(keywords) == 0 {
		return nil, nil
	}
	if len(keywords) > keywordsMax {
		keywords = keywords[:keywordsMax]
	}
	expr, err := scopeFilter(org, types)
	if err != nil {
		return nil, err
	}
	sr, err := r.store.SearchText(ctx, &db.TextQuery{
		IndexName:    indexName,
		Field:        fieldContent,
		Terms:        keyword.Stems(keywords),
		Prefix:       true,
		Filters:      expr,
		Limit:        limit,
		ReturnFields: returnFields,
	})
	if err != nil {
		if errors.Is(err, db.ErrTextSearchUnsupported) {
			return nil, domain.ErrKeywordSearchNotSupported
		}
		return nil, fmt.Errorf("search text: %w", err)
	}
	if sr == nil {
		return nil, nil
	}
	out := make([]record.Record, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		out = append(out, fromFields(e.Key, e.Fields))
	}
	return out, nil
}

// Stats aggregates the records of org.
func (r *Repo) Stats(ctx context.Context, org string) (record.Stats, error) {
	if err := domain.CheckOrganization(org); err != nil {
		return record.Stats{}, err
	}
	keys, err := r.store.Scan(ctx, keyPrefix+org+":*")
	if err != nil {
		return record.Stats{}, fmt.Errorf("scan records: %w", err)
	}
	acc := record.NewAccumulate()
	for start := 0; start < len(keys); start += scanBatch {
		end := min(start+scanBatch, len(keys))
		rows, err := r.store.HGetAllMulti(ctx, keys[start:end])
		if err != nil {
			return record.Stats{}, fmt.Errorf("read records: %w", err)
		}
		for i, fields := range rows {
			if len(fields) == 0 || fields[fieldOrg] != org {
				continue
			}
			acc.Add(fromFields(keys[start+i], fields).Metadata)
		}
	}
	return acc.Finish(), nil
}

// scopeFilter restricts a query to org and, when given, any of types.
func scopeFilter(org string, types []string) (filter.Expression, error) {
	orgCond, err := filter.NewMatch(fieldOrg, org)
	if err != nil {
		return filter.Expression{}, err
	}
	var should []filter.Condition
	for _, t := range types {
		c, err := filter.NewMatch(fieldType, t)
		if err != nil {
			return filter.Expression{}, err
		}
		should = append(should, c)
	}
	return filter.NewExpression([]filter.Condition{orgCond}, should, nil)
}

func recordKey(org, id string) string {
	return keyPrefix + org + ":" + id
}

func toFields(rec *record.Record) map[string]string {
	m := rec.Metadata
	return map[string]string{
		fieldOrg:        m.OrganizationID,
		fieldType:       m.Type,
		fieldEntityID:   m.EntityID,
		fieldEntityType: m.EntityType,
		fieldSource:     m.Source,
		fieldTags:       strings.Join(m.Tags, ","),
		fieldClass:      m.Class,
		fieldImportance: strconv.Itoa(m.Importance),
		fieldCreatedAt:  strconv.FormatInt(m.CreatedAt.UnixMilli(), 10),
		fieldUpdatedAt:  strconv.FormatInt(m.UpdatedAt.UnixMilli(), 10),
		fieldContent:    rec.Content,
		fieldSection:    m.Section,
		fieldPart:       m.Part,
		fieldVector:     db.EncodeVector(rec.Embedding),
	}
}

func fromFields(key string, f map[string]string) record.Record {
	org := f[fieldOrg]
	importance, _ := strconv.Atoi(f[fieldImportance])
	var tags []string
	if f[fieldTags] != "" {
		tags = strings.Split(f[fieldTags], ",")
	}
	return record.Record{
		ID:      strings.TrimPrefix(key, keyPrefix+org+":"),
		Content: f[fieldContent],
		Metadata: record.Metadata{
			Type:           f[fieldType],
			EntityID:       f[fieldEntityID],
			EntityType:     f[fieldEntityType],
			OrganizationID: org,
			Source:         f[fieldSource],
			Importance:     importance,
			Tags:           tags,
			Class:          f[fieldClass],
			Section:        f[fieldSection],
			Part:           f[fieldPart],
			CreatedAt:      parseMillis(f[fieldCreatedAt]),
			UpdatedAt:      parseMillis(f[fieldUpdatedAt]),
		},
	}
}

func parseMillis(s string) time.Time {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil || ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
