package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/rueidis"
	"github.com/redis/rueidis/mock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/kailas-cloud/triage/internal/db"
	"github.com/kailas-cloud/triage/internal/domain/filter"
)

const recordIndex = "triage:idx:records"

func newMockStore(t *testing.T, textSearch bool) (*Store, *mock.Client) {
	t.Helper()
	c := mock.NewClient(gomock.NewController(t))
	return &Store{client: c, textSearch: textSearch}, c
}

func command(name string) gomock.Matcher {
	return mock.MatchFn(func(cmd []string) bool { return cmd[0] == name })
}

func orgFilter(t *testing.T, org string) filter.Expression {
	t.Helper()
	cond, err := filter.NewMatch("org", org)
	require.NoError(t, err)
	expr, err := filter.NewExpression([]filter.Condition{cond}, nil, nil)
	require.NoError(t, err)
	return expr
}

func TestPing(t *testing.T) {
	s, c := newMockStore(t, true)
	gomock.InOrder(
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.Result(mock.RedisString("PONG"))),
		c.EXPECT().Do(gomock.Any(), mock.Match("PING")).Return(mock.ErrorResult(context.DeadlineExceeded)),
	)

	require.NoError(t, s.Ping(context.Background()))
	assert.ErrorIs(t, s.Ping(context.Background()), context.DeadlineExceeded)
}

func TestHashes_StoreAndLoadChunks(t *testing.T) {
	s, c := newMockStore(t, true)
	ctx := context.Background()

	c.EXPECT().DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).Return([]rueidis.RedisResult{
		mock.Result(mock.RedisInt64(3)),
		mock.Result(mock.RedisInt64(3)),
	})
	err := s.HSetMulti(ctx, []db.HashSetItem{
		{Key: "triage:rec:acme:email-1:0", Fields: map[string]string{"org": "acme", "content": "Prosimy o wycenę"}},
		{Key: "triage:rec:acme:email-1:1", Fields: map[string]string{"org": "acme", "content": "Pozdrawiam"}},
	})
	require.NoError(t, err)

	c.EXPECT().DoMulti(gomock.Any(), gomock.Any(), gomock.Any()).Return([]rueidis.RedisResult{
		mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{"content": mock.RedisString("Prosimy o wycenę")})),
		mock.Result(mock.RedisMap(map[string]rueidis.RedisMessage{})),
	})
	got, err := s.HGetAllMulti(ctx, []string{"triage:rec:acme:email-1:0", "triage:rec:acme:email-1:9"})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Prosimy o wycenę", got[0]["content"])
	assert.Empty(t, got[1])
}

func TestHashes_HSetFailureNamesKey(t *testing.T) {
	s, c := newMockStore(t, true)
	c.EXPECT().DoMulti(gomock.Any(), gomock.Any()).Return([]rueidis.RedisResult{
		mock.ErrorResult(errors.New("OOM")),
	})

	err := s.HSetMulti(context.Background(), []db.HashSetItem{{Key: "triage:rec:acme:e:0", Fields: map[string]string{"org": "acme"}}})
	var dbErr *db.Error
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, db.OpHSet, dbErr.Op)
	assert.Contains(t, err.Error(), "triage:rec:acme:e:0")
}

func TestHashes_EmptyInputSkipsClient(t *testing.T) {
	s := &Store{}
	ctx := context.Background()

	assert.NoError(t, s.HSetMulti(ctx, nil))
	assert.NoError(t, s.DelMulti(ctx, nil))
	got, err := s.HGetAllMulti(ctx, nil)
	assert.NoError(t, err)
	assert.Nil(t, got)
}

func TestDelMulti_OneCommand(t *testing.T) {
	s, c := newMockStore(t, true)
	c.EXPECT().
		Do(gomock.Any(), mock.Match("DEL", "triage:rec:acme:e:0", "triage:rec:acme:e:1")).
		Return(mock.Result(mock.RedisInt64(2)))

	require.NoError(t, s.DelMulti(context.Background(), []string{"triage:rec:acme:e:0", "triage:rec:acme:e:1"}))
}

func TestScan_FollowsCursor(t *testing.T) {
	s, c := newMockStore(t, true)
	gomock.InOrder(
		c.EXPECT().Do(gomock.Any(), command("SCAN")).Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(17),
			mock.RedisArray(mock.RedisString("triage:rec:acme:e:0")),
		))),
		c.EXPECT().Do(gomock.Any(), command("SCAN")).Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(0),
			mock.RedisArray(mock.RedisString("triage:rec:acme:e:1"), mock.RedisString("triage:rec:acme:e:2")),
		))),
	)

	keys, err := s.Scan(context.Background(), "triage:rec:acme:e:*")
	require.NoError(t, err)
	assert.Equal(t, []string{"triage:rec:acme:e:0", "triage:rec:acme:e:1", "triage:rec:acme:e:2"}, keys)
}

func TestKV_GetMissingKey(t *testing.T) {
	s, c := newMockStore(t, true)
	c.EXPECT().Do(gomock.Any(), mock.Match("GET", "triage:job:j1")).Return(mock.Result(mock.RedisNil()))

	_, err := s.Get(context.Background(), "triage:job:j1")
	assert.ErrorIs(t, err, db.ErrKeyNotFound)
}

func TestKV_GetValue(t *testing.T) {
	s, c := newMockStore(t, true)
	c.EXPECT().Do(gomock.Any(), mock.Match("GET", "triage:job:j1")).Return(mock.Result(mock.RedisBlobString(`{"status":"queued"}`)))

	data, err := s.Get(context.Background(), "triage:job:j1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"queued"}`, string(data))
}

func TestKV_SetWithTTL(t *testing.T) {
	tests := []struct {
		name string
		ttl  time.Duration
		want []string
	}{
		{"whole seconds use EX", 24 * time.Hour, []string{"SET", "triage:sc:k", "v", "EX", "86400"}},
		{"sub-second uses PX", 1500 * time.Millisecond, []string{"SET", "triage:sc:k", "v", "PX", "1500"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newMockStore(t, true)
			c.EXPECT().Do(gomock.Any(), mock.Match(tt.want...)).Return(mock.Result(mock.RedisString("OK")))
			require.NoError(t, s.SetWithTTL(context.Background(), "triage:sc:k", []byte("v"), tt.ttl))
		})
	}
}

func TestKV_SetRejectsNonPositiveTTL(t *testing.T) {
	s := &Store{}
	err := s.SetWithTTL(context.Background(), "triage:sc:k", []byte("v"), 0)
	var dbErr *db.Error
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, db.OpSet, dbErr.Op)
}

func recordIndexDef() *db.IndexDefinition {
	return db.NewIndex(recordIndex).
		Prefix("triage:rec:").
		Tag("org").
		Tag("type").
		Numeric("importance").
		Text("content").
		VectorHNSW("vector", 4, db.DistanceCosine, 16, 200).
		MustBuild()
}

func TestCreateIndex(t *testing.T) {
	tests := []struct {
		name    string
		result  rueidis.RedisResult
		wantErr error
	}{
		{"created", mock.Result(mock.RedisString("OK")), nil},
		{"already exists", mock.Result(mock.RedisError("Index already exists")), db.ErrIndexExists},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newMockStore(t, true)
			c.EXPECT().Do(gomock.Any(), command("FT.CREATE")).Return(tt.result)

			err := s.CreateIndex(context.Background(), recordIndexDef())
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestCreateIndex_TransportErrorIsWrapped(t *testing.T) {
	s, c := newMockStore(t, true)
	c.EXPECT().Do(gomock.Any(), command("FT.CREATE")).Return(mock.ErrorResult(context.DeadlineExceeded))

	err := s.CreateIndex(context.Background(), recordIndexDef())
	var dbErr *db.Error
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, db.OpCreateIndex, dbErr.Op)
}

func TestIndexExists(t *testing.T) {
	s, c := newMockStore(t, true)
	gomock.InOrder(
		c.EXPECT().Do(gomock.Any(), mock.Match("FT.INFO", recordIndex)).
			Return(mock.Result(mock.RedisArray(mock.RedisString("index_name"), mock.RedisString(recordIndex)))),
		c.EXPECT().Do(gomock.Any(), mock.Match("FT.INFO", recordIndex)).
			Return(mock.Result(mock.RedisError("Unknown Index name"))),
	)

	exists, err := s.IndexExists(context.Background(), recordIndex)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.IndexExists(context.Background(), recordIndex)
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestBuildCreateArgs_TextSkippedWithoutTextSearch(t *testing.T) {
	def := recordIndexDef()

	withText, err := buildCreateArgs(def, true)
	require.NoError(t, err)
	assert.Equal(t, []string{recordIndex, "ON", "HASH", "PREFIX", "1", "triage:rec:", "SCHEMA"}, withText[:7])
	assert.Contains(t, withText, "TEXT")
	assert.Contains(t, withText, "NOSTEM")

	withoutText, err := buildCreateArgs(def, false)
	require.NoError(t, err)
	assert.NotContains(t, withoutText, "TEXT")
	assert.NotContains(t, withoutText, "content")
	assert.Contains(t, withoutText, "HNSW")
}

func TestBuildCreateArgs_Invalid(t *testing.T) {
	_, err := buildCreateArgs(&db.IndexDefinition{Fields: []db.IndexField{{Name: "org", Type: db.IndexFieldTag}}}, true)
	assert.Error(t, err)
	_, err = buildCreateArgs(&db.IndexDefinition{Name: recordIndex}, true)
	assert.Error(t, err)
}

func TestBuildFieldArgs(t *testing.T) {
	tests := []struct {
		name    string
		field   db.IndexField
		want    []string
		wantErr bool
	}{
		{"tag", db.IndexField{Name: "org", Type: db.IndexFieldTag}, []string{"org", "TAG"}, false},
		{"tag list", db.IndexField{Name: "keywords", Type: db.IndexFieldTag, TagSeparator: ","}, []string{"keywords", "TAG", "SEPARATOR", ","}, false},
		{"numeric", db.IndexField{Name: "importance", Type: db.IndexFieldNumeric}, []string{"importance", "NUMERIC"}, false},
		{"vector", db.IndexField{Name: "vector", Type: db.IndexFieldVector, VectorDim: 8}, []string{
			"vector", "VECTOR", "HNSW", "6", "TYPE", "FLOAT32", "DIM", "8", "DISTANCE_METRIC", "COSINE",
		}, false},
		{"no name", db.IndexField{Type: db.IndexFieldTag}, nil, true},
		{"unknown type", db.IndexField{Name: "x", Type: db.IndexFieldType(99)}, nil, true},
		{"vector without dim", db.IndexField{Name: "vector", Type: db.IndexFieldVector}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildFieldArgs(&tt.field)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSearchKNN_ConvertsDistanceToSimilarity(t *testing.T) {
	s, c := newMockStore(t, true)
	var query string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			query = cmd[2]
			return cmd[0] == "FT.SEARCH"
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(2),
			mock.RedisString("triage:rec:acme:e1:0"),
			mock.RedisArray(
				mock.RedisString(scoreField), mock.RedisString("0.25"),
				mock.RedisString("content"), mock.RedisString("wycena"),
			),
			mock.RedisString("triage:rec:acme:e2:0"),
			mock.RedisArray(mock.RedisString(scoreField), mock.RedisString("1.4")),
		)))

	res, err := s.SearchKNN(context.Background(), &db.KNNQuery{
		IndexName: recordIndex,
		Filters:   orgFilter(t, "acme-1"),
		Vector:    []float32{0.5, 0.5, 0.5, 0.5},
		K:         5,
	})
	require.NoError(t, err)
	assert.Equal(t, `(@org:{acme\-1})=>[KNN 5 @vector $BLOB AS __vector_score]`, query)
	require.Len(t, res.Entries, 2)
	assert.Equal(t, "triage:rec:acme:e1:0", res.Entries[0].Key)
	assert.InDelta(t, 0.75, res.Entries[0].Score, 1e-9)
	assert.NotContains(t, res.Entries[0].Fields, scoreField)
	assert.Equal(t, "wycena", res.Entries[0].Fields["content"])
	assert.Zero(t, res.Entries[1].Score, "similarity is clamped at zero")
}

func TestSearchKNN_NoMatches(t *testing.T) {
	s, c := newMockStore(t, true)
	c.EXPECT().Do(gomock.Any(), command("FT.SEARCH")).Return(mock.Result(mock.RedisArray(mock.RedisInt64(0))))

	res, err := s.SearchKNN(context.Background(), &db.KNNQuery{IndexName: recordIndex, Vector: []float32{1}, K: 3})
	require.NoError(t, err)
	assert.Empty(t, res.Entries)
}

func TestSearchKNN_BackendError(t *testing.T) {
	s, c := newMockStore(t, true)
	c.EXPECT().Do(gomock.Any(), command("FT.SEARCH")).Return(mock.ErrorResult(context.DeadlineExceeded))

	_, err := s.SearchKNN(context.Background(), &db.KNNQuery{IndexName: recordIndex, Vector: []float32{1}, K: 3})
	var dbErr *db.Error
	require.ErrorAs(t, err, &dbErr)
	assert.Equal(t, db.OpSearch, dbErr.Op)
}

func TestSearchKNN_Invalid(t *testing.T) {
	s := &Store{}
	for name, q := range map[string]db.KNNQuery{
		"no index":  {Vector: []float32{1}, K: 1},
		"no vector": {IndexName: recordIndex, K: 1},
		"zero k":    {IndexName: recordIndex, Vector: []float32{1}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.SearchKNN(context.Background(), &q)
			assert.Error(t, err)
		})
	}
}

func TestSearchText_MatchesAnyTerm(t *testing.T) {
	s, c := newMockStore(t, true)
	var query string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			query = cmd[2]
			return cmd[0] == "FT.SEARCH"
		})).
		Return(mock.Result(mock.RedisArray(
			mock.RedisInt64(1),
			mock.RedisString("triage:rec:acme:e1:0"),
			mock.RedisString("2.5"),
			mock.RedisArray(mock.RedisString("content"), mock.RedisString("prosimy o wycena")),
		)))

	res, err := s.SearchText(context.Background(), &db.TextQuery{
		IndexName: recordIndex,
		Field:     "content",
		Terms:     []string{"wycena", " ", "e-mail"},
		Filters:   orgFilter(t, "acme"),
		Limit:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, `@org:{acme} @content:(wycena | e\-mail)`, query)
	require.Len(t, res.Entries, 1)
	assert.InDelta(t, 2.5, res.Entries[0].Score, 1e-9)
	assert.Equal(t, "prosimy o wycena", res.Entries[0].Fields["content"])
}

func TestSearchText_PrefixTerms(t *testing.T) {
	s, c := newMockStore(t, true)
	var query string
	c.EXPECT().
		Do(gomock.Any(), mock.MatchFn(func(cmd []string) bool {
			query = cmd[2]
			return cmd[0] == "FT.SEARCH"
		})).
		Return(mock.Result(mock.RedisArray(mock.RedisInt64(0))))

	res, err := s.SearchText(context.Background(), &db.TextQuery{
		IndexName: recordIndex,
		Field:     "content",
		Terms:     []string{"kartono", "tub"},
		Prefix:    true,
		Limit:     10,
	})
	require.NoError(t, err)
	assert.Equal(t, `@content:(kartono* | tub*)`, query)
	assert.Empty(t, res.Entries)
}

func TestSearchText_UnsupportedBackend(t *testing.T) {
	s := &Store{textSearch: false}
	_, err := s.SearchText(context.Background(), &db.TextQuery{IndexName: recordIndex, Field: "content", Terms: []string{"x"}, Limit: 1})
	assert.ErrorIs(t, err, db.ErrTextSearchUnsupported)
}

func TestSearchText_Invalid(t *testing.T) {
	s := &Store{textSearch: true}
	for name, q := range map[string]db.TextQuery{
		"no index":   {Field: "content", Terms: []string{"x"}, Limit: 1},
		"no field":   {IndexName: recordIndex, Terms: []string{"x"}, Limit: 1},
		"no terms":   {IndexName: recordIndex, Field: "content", Limit: 1},
		"zero limit": {IndexName: recordIndex, Field: "content", Terms: []string{"x"}},
	} {
		t.Run(name, func(t *testing.T) {
			_, err := s.SearchText(context.Background(), &q)
			assert.Error(t, err)
		})
	}
}

func TestBuildFilter(t *testing.T) {
	match := func(k, v string) filter.Condition {
		c, err := filter.NewMatch(k, v)
		require.NoError(t, err)
		return c
	}
	importance := func(gt, lte *float64) filter.Condition {
		r, err := filter.NewRangeFilter(gt, nil, nil, lte)
		require.NoError(t, err)
		c, err := filter.NewRange("importance", r)
		require.NoError(t, err)
		return c
	}
	expr := func(must, should, not []filter.Condition) filter.Expression {
		e, err := filter.NewExpression(must, should, not)
		require.NoError(t, err)
		return e
	}
	five, ten := 5.0, 10.0

	tests := []struct {
		name string
		expr filter.Expression
		want string
	}{
		{"empty", filter.Expression{}, ""},
		{"must tag", expr([]filter.Condition{match("type", "email")}, nil, nil), `@type:{email}`},
		{"range", expr([]filter.Condition{importance(&five, &ten)}, nil, nil), `@importance:[(5 10]`},
		{"open upper bound", expr([]filter.Condition{importance(&five, nil)}, nil, nil), `@importance:[(5 +inf]`},
		{"should", expr(nil, []filter.Condition{match("type", "email"), match("type", "document")}, nil), `(@type:{email} | @type:{document})`},
		{"must not", expr(nil, nil, []filter.Condition{match("class", "spam")}), `-@class:{spam}`},
		{
			"combined",
			expr([]filter.Condition{match("org", "acme")}, nil, []filter.Condition{match("class", "spam")}),
			`@org:{acme} -@class:{spam}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, buildFilter(tt.expr))
		})
	}
}

func TestEscaping(t *testing.T) {
	assert.Equal(t, `biuro\@acme\.pl`, EscapeTag("biuro@acme.pl"))
	assert.Equal(t, `a\.b\-c\ d`, EscapeTag("a.b-c d"))
	assert.Equal(t, `pilne \"oferta\" \{x\}`, escapeQuery(`pilne "oferta" {x}`))
}
