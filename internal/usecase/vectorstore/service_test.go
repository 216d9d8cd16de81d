package vectorstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/filter"
	"github.com/kailas-cloud/triage/internal/domain/record"
)

// --- Mocks ---

type mockBackend struct {
	upserted    []record.Record
	hits        []record.Hit
	keyword     []record.Record
	keywordErr  error
	searchCalls int
	lastTopK    int
}

func (m *mockBackend) Upsert(_ context.Context, recs []record.Record) error {
	m.upserted = append(m.upserted, recs...)
	return nil
}

func (m *mockBackend) DeleteByEntity(context.Context, string, string) (int, error) { return 2, nil }

func (m *mockBackend) DeleteStale(context.Context, string, string, []string) (int, error) {
	return 1, nil
}

func (m *mockBackend) Search(_ context.Context, _ string, _ []float32, _ filter.Expression, topK int) ([]record.Hit, error) {
	m.searchCalls++
	m.lastTopK = topK
	return m.hits, nil
}

func (m *mockBackend) KeywordSearch(context.Context, string, []string, []string, int) ([]record.Record, error) {
	return m.keyword, m.keywordErr
}

func (m *mockBackend) Stats(context.Context, string) (record.Stats, error) {
	return record.Stats{Total: 3}, nil
}

type mapCache struct {
	items  map[string][]record.Hit
	ttl    time.Duration
	getErr error
}

func (c *mapCache) Get(_ context.Context, key string) ([]record.Hit, bool, error) {
	if c.getErr != nil {
		return nil, false, c.getErr
	}
	h, ok := c.items[key]
	return h, ok, nil
}

func (c *mapCache) Set(_ context.Context, key string, hits []record.Hit, ttl time.Duration) error {
	if c.items == nil {
		c.items = map[string][]record.Hit{}
	}
	c.items[key] = hits
	c.ttl = ttl
	return nil
}

func rec(org, entity string, idx int) record.Record {
	return record.Record{
		ID:        record.ID(entity, idx),
		Content:   "chunk",
		Embedding: []float32{3, 4},
		Metadata:  record.Metadata{OrganizationID: org, EntityID: entity, Type: "email"},
	}
}

// --- Tests ---

func TestUpsert_NormalizesCopy(t *testing.T) {
	b := &mockBackend{}
	svc := New(b)
	in := []record.Record{rec("acme", "mail-1", 0)}
	if err := svc.Upsert(context.Background(), in); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := b.upserted[0].Embedding
	if got[0] != 0.6 || got[1] != 0.8 {
		t.Errorf("embedding = %v, want unit vector", got)
	}
	if in[0].Embedding[0] != 3 {
		t.Error("caller's embedding must not be modified")
	}
}

func TestUpsert_Rejects(t *testing.T) {
	svc := New(&mockBackend{})
	mixed := []record.Record{rec("acme", "a", 0), rec("other", "a", 1)}
	if err := svc.Upsert(context.Background(), mixed); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("mixed orgs: expected ErrInvalidInput, got %v", err)
	}
	bad := rec("acme", "a", 0)
	bad.ID = "b:0"
	if err := svc.Upsert(context.Background(), []record.Record{bad}); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("foreign id: expected ErrInvalidInput, got %v", err)
	}
	if err := svc.Upsert(context.Background(), []record.Record{rec("", "a", 0)}); !errors.Is(err, domain.ErrTenantRequired) {
		t.Errorf("no org: expected ErrTenantRequired, got %v", err)
	}
}

func TestSearch_MinSimilarity(t *testing.T) {
	b := &mockBackend{hits: []record.Hit{
		{Record: rec("acme", "a", 0), Similarity: 0.9},
		{Record: rec("acme", "b", 0), Similarity: 0.29},
		{Record: rec("acme", "c", 0), Similarity: 0.3},
	}}
	svc := New(b)
	hits, err := svc.Search(context.Background(), "acme", []float32{1, 0}, filter.Expression{}, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 || hits[0].Record.ID != "a:0" || hits[1].Record.ID != "c:0" {
		t.Errorf("hits = %+v", hits)
	}
	if b.lastTopK != DefaultTopK {
		t.Errorf("topK = %d, want default %d", b.lastTopK, DefaultTopK)
	}
}

func TestSearch_CrossTenantIsFatal(t *testing.T) {
	b := &mockBackend{hits: []record.Hit{{Record: rec("other", "a", 0), Similarity: 0.9}}}
	svc := New(b)
	_, err := svc.Search(context.Background(), "acme", []float32{1, 0}, filter.Expression{}, 5)
	var cte *domain.CrossTenantError
	if !errors.As(err, &cte) || !errors.Is(err, domain.ErrCrossTenantAccess) {
		t.Fatalf("expected CrossTenantError, got %v", err)
	}
	if cte.Actual != "other" || cte.Expected != "acme" {
		t.Errorf("unexpected error detail %+v", cte)
	}
}

func TestSearch_Cache(t *testing.T) {
	b := &mockBackend{hits: []record.Hit{{Record: rec("acme", "a", 0), Similarity: 0.9}}}
	c := &mapCache{}
	svc := New(b, WithCache(c, time.Hour))

	for range 3 {
		if _, err := svc.Search(context.Background(), "acme", []float32{1, 0}, filter.Expression{}, 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if b.searchCalls != 1 {
		t.Errorf("backend calls = %d, want 1", b.searchCalls)
	}
	if c.ttl != time.Hour {
		t.Errorf("ttl = %v", c.ttl)
	}

	// Another organization with the same vector must not share entries.
	b.hits = nil
	if _, err := svc.Search(context.Background(), "beta", []float32{1, 0}, filter.Expression{}, 5); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if b.searchCalls != 2 {
		t.Errorf("backend calls = %d, want 2", b.searchCalls)
	}
}

func TestSearch_CacheErrorFallsThrough(t *testing.T) {
	b := &mockBackend{}
	svc := New(b, WithCache(&mapCache{getErr: errors.New("conn reset")}, 0))
	if _, err := svc.Search(context.Background(), "acme", []float32{1, 0}, filter.Expression{}, 5); err != nil {
		t.Fatalf("cache errors must not fail search: %v", err)
	}
	if b.searchCalls != 1 {
		t.Errorf("backend calls = %d, want 1", b.searchCalls)
	}
}

func TestCacheKey(t *testing.T) {
	must, _ := filter.NewMatch("type", "email")
	withType, _ := filter.NewExpression([]filter.Condition{must}, nil, nil)

	base := CacheKey("acme", []float32{0.6, 0.8}, filter.Expression{}, 5)
	if base != CacheKey("acme", []float32{0.6, 0.8}, filter.Expression{}, 5) {
		t.Error("key must be deterministic")
	}
	for name, other := range map[string]string{
		"org":     CacheKey("beta", []float32{0.6, 0.8}, filter.Expression{}, 5),
		"vector":  CacheKey("acme", []float32{0.8, 0.6}, filter.Expression{}, 5),
		"filters": CacheKey("acme", []float32{0.6, 0.8}, withType, 5),
		"topK":    CacheKey("acme", []float32{0.6, 0.8}, filter.Expression{}, 6),
	} {
		if other == base {
			t.Errorf("%s must change the key", name)
		}
	}
}

func TestKeywordSearch(t *testing.T) {
	b := &mockBackend{keywordErr: domain.ErrKeywordSearchNotSupported}
	svc := New(b)
	if _, err := svc.KeywordSearch(context.Background(), "acme", []string{"x"}, nil, 10); !errors.Is(err, domain.ErrKeywordSearchNotSupported) {
		t.Errorf("expected ErrKeywordSearchNotSupported, got %v", err)
	}

	b.keywordErr = nil
	b.keyword = []record.Record{rec("other", "a", 0)}
	if _, err := svc.KeywordSearch(context.Background(), "acme", []string{"x"}, nil, 10); !errors.Is(err, domain.ErrCrossTenantAccess) {
		t.Errorf("expected cross-tenant error, got %v", err)
	}
}

func TestDeleteAndStats(t *testing.T) {
	svc := New(&mockBackend{})
	if n, err := svc.DeleteByEntity(context.Background(), "acme", "a"); err != nil || n != 2 {
		t.Errorf("DeleteByEntity = %d, %v", n, err)
	}
	if n, err := svc.DeleteStale(context.Background(), "acme", "a", nil); err != nil || n != 1 {
		t.Errorf("DeleteStale = %d, %v", n, err)
	}
	if st, err := svc.Stats(context.Background(), "acme"); err != nil || st.Total != 3 {
		t.Errorf("Stats = %+v, %v", st, err)
	}
	if _, err := svc.Stats(context.Background(), ""); !errors.Is(err, domain.ErrTenantRequired) {
		t.Errorf("expected ErrTenantRequired, got %v", err)
	}
}
