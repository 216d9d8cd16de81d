package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kailas-cloud/triage/internal/domain"
	"github.com/kailas-cloud/triage/internal/domain/filter"
	"github.com/kailas-cloud/triage/internal/domain/keyword"
	"github.com/kailas-cloud/triage/internal/domain/record"
)

type fakeStore struct {
	records    []record.Record
	similarity map[string]float64
	keywordErr error
	lastFilter filter.Expression
}

func (f *fakeStore) Search(_ context.Context, org string, _ []float32, fl filter.Expression, topK int) ([]record.Hit, error) {
	f.lastFilter = fl
	var out []record.Hit
	for _, r := range f.records {
		sim, ok := f.similarity[r.ID]
		if !ok || r.Metadata.OrganizationID != org {
			continue
		}
		if !fl.Matches(map[string]string{"type": r.Metadata.Type}, nil) {
			continue
		}
		out = append(out, record.Hit{Record: r, Similarity: sim})
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

func (f *fakeStore) KeywordSearch(_ context.Context, org string, keywords, types []string, _ int) ([]record.Record, error) {
	if f.keywordErr != nil {
		return nil, f.keywordErr
	}
	var out []record.Record
	for _, r := range f.records {
		if r.Metadata.OrganizationID != org || !keyword.ContainsAny(r.Content, keywords) {
			continue
		}
		if len(types) > 0 && !contains(types, r.Metadata.Type) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

type fakeEmbedder struct{ err error }

func (f fakeEmbedder) Embed(context.Context, string) (domain.EmbeddingResult, error) {
	return domain.EmbeddingResult{Embedding: []float32{1, 0}}, f.err
}

var t0 = time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

func mk(id, typ, content string, importance int, created time.Time) record.Record {
	return record.Record{
		ID:      id + ":0",
		Content: content,
		Metadata: record.Metadata{
			OrganizationID: "acme",
			EntityID:       id,
			Type:           typ,
			Importance:     importance,
			CreatedAt:      created,
		},
	}
}

func TestSearch_PhraseMatchRanksFirst(t *testing.T) {
	store := &fakeStore{
		records: []record.Record{
			mk("doc-1", "document", "Cennik usług transportowych na rok 2026", 5, t0),
			mk("mail-1", "email", "Wycena tub kartonowych dla klienta", 5, t0),
			mk("offer-1", "offer", "Oferta handlowa na opakowania", 5, t0),
		},
		similarity: map[string]float64{"doc-1:0": 0.7, "offer-1:0": 0.6},
	}
	svc := New(store, fakeEmbedder{})

	resp, err := svc.Search(context.Background(), "acme", "wycena", nil)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "mail-1:0", resp.Results[0].Record.ID)
	assert.True(t, resp.Results[0].PhraseMatch)
	assert.Equal(t, 1, resp.Results[0].MatchedKeywords)
	assert.Equal(t, []string{"wycena"}, resp.Keywords)
	assert.False(t, resp.Degraded)
	assert.Equal(t, 3, resp.Stats.Total)
	assert.InDelta(t, 5.0, resp.Stats.AvgImportance, 1e-9)
}

func TestSearch_ScoreFormula(t *testing.T) {
	store := &fakeStore{
		records:    []record.Record{mk("offer-1", "offer", "pilna wycena kartonów", 4, t0)},
		similarity: map[string]float64{"offer-1:0": 0.5},
	}
	svc := New(store, fakeEmbedder{})

	resp, err := svc.Search(context.Background(), "acme", "wycena kartonów", nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	// 10 phrase + 3*2 keywords + 3 offer weight + 4 importance + 5*0.5 similarity
	assert.InDelta(t, 25.5, resp.Results[0].Score, 1e-9)
}

func TestSearch_MatchesInflectedKeywords(t *testing.T) {
	store := &fakeStore{records: []record.Record{
		mk("offer-1", "offer", "Oferta: wycena kartonowych tub", 4, t0),
		mk("doc-1", "document", "Regulamin dostaw", 4, t0),
	}}
	svc := New(store, fakeEmbedder{})

	resp, err := svc.Search(context.Background(), "acme", "kartonowe tuby", nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "offer-1:0", resp.Results[0].Record.ID)
	assert.False(t, resp.Results[0].PhraseMatch)
	assert.Equal(t, 2, resp.Results[0].MatchedKeywords)

	resp, err = svc.Search(context.Background(), "acme", "karton", nil)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Results[0].MatchedKeywords)
}

func TestSearch_TiesAreDeterministic(t *testing.T) {
	store := &fakeStore{records: []record.Record{
		mk("b", "email", "faktura", 1, t0),
		mk("a", "email", "faktura", 1, t0),
		mk("c", "email", "faktura", 1, t0.Add(time.Hour)),
	}}
	svc := New(store, fakeEmbedder{})

	for range 10 {
		resp, err := svc.Search(context.Background(), "acme", "faktura", nil)
		require.NoError(t, err)
		ids := make([]string, 0, len(resp.Results))
		for _, r := range resp.Results {
			ids = append(ids, r.Record.ID)
		}
		assert.Equal(t, []string{"c:0", "a:0", "b:0"}, ids)
	}
}

func TestSearch_GroupsByType(t *testing.T) {
	store := &fakeStore{records: []record.Record{
		mk("d1", "document", "umowa ramowa", 1, t0),
		mk("o1", "offer", "umowa handlowa", 9, t0),
		mk("o2", "offer", "umowa", 0, t0),
	}}
	svc := New(store, fakeEmbedder{})

	resp, err := svc.Search(context.Background(), "acme", "umowa", nil)
	require.NoError(t, err)
	require.Len(t, resp.Groups, 2)
	assert.Equal(t, "offer", resp.Groups[0].Type)
	assert.Len(t, resp.Groups[0].Results, 2)
	assert.Equal(t, "document", resp.Groups[1].Type)
	assert.Equal(t, map[string]int{"offer": 2, "document": 1}, resp.Stats.CountByType)
}

func TestSearch_TypeFilter(t *testing.T) {
	store := &fakeStore{
		records: []record.Record{
			mk("d1", "document", "umowa", 1, t0),
			mk("e1", "email", "umowa", 1, t0),
		},
		similarity: map[string]float64{"d1:0": 0.9, "e1:0": 0.9},
	}
	svc := New(store, fakeEmbedder{})

	resp, err := svc.Search(context.Background(), "acme", "umowa", []string{" EMAIL ", "email"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "e1:0", resp.Results[0].Record.ID)
	assert.Len(t, store.lastFilter.Should(), 1)
}

func TestSearch_Degrades(t *testing.T) {
	store := &fakeStore{
		records:    []record.Record{mk("d1", "document", "umowa", 1, t0)},
		similarity: map[string]float64{"d1:0": 0.9},
		keywordErr: domain.ErrKeywordSearchNotSupported,
	}
	resp, err := New(store, fakeEmbedder{}).Search(context.Background(), "acme", "umowa", nil)
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, resp.Results[0].MatchedKeywords, "vector hits are still scored on keywords")

	store.keywordErr = nil
	resp, err = New(store, fakeEmbedder{err: errors.New("provider down")}).Search(context.Background(), "acme", "umowa", nil)
	require.NoError(t, err)
	assert.True(t, resp.Degraded)
	assert.Len(t, resp.Results, 1)
}

func TestSearch_Validation(t *testing.T) {
	svc := New(&fakeStore{}, fakeEmbedder{})
	_, err := svc.Search(context.Background(), "", "x", nil)
	assert.ErrorIs(t, err, domain.ErrTenantRequired)
	_, err = svc.Search(context.Background(), "acme", "   ", nil)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestSearch_IsolatesOrganizations(t *testing.T) {
	other := mk("x", "email", "wycena", 10, t0)
	other.Metadata.OrganizationID = "beta"
	store := &fakeStore{records: []record.Record{other}, similarity: map[string]float64{"x:0": 1}}

	resp, err := New(store, fakeEmbedder{}).Search(context.Background(), "acme", "wycena", nil)
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
}
