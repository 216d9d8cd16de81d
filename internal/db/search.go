package db

import "github.com/kailas-cloud/triage/internal/domain/filter"

// KNNQuery is the input for vector similarity search.
type KNNQuery struct {
	IndexName    string
	VectorField  string // defaults to "vector"
	Filters      filter.Expression
	Vector       []float32
	K            int
	ReturnFields []string
}

// TextQuery is the input for full-text search. Terms are OR-ed together.
type TextQuery struct {
	IndexName string
	Field     string
	Terms     []string
	// Prefix matches every term as a word prefix (term*).
	Prefix       bool
	Filters      filter.Expression
	Limit        int
	ReturnFields []string
}

// SearchResult is the output of a search operation.
type SearchResult struct {
	Total   int
	Entries []SearchEntry
}

// SearchEntry is a single hit from a search. For KNN queries Score is the
// cosine similarity in [0,1]; for text queries it is the engine score.
type SearchEntry struct {
	Key    string
	Score  float64
	Fields map[string]string
}
