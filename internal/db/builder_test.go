package db

import (
	"strings"
	"testing"
)

func TestIndexBuilder_RecordShape(t *testing.T) {
	idx := NewIndex("triage-records").
		Prefix("triage:rec:").
		Tag("org").
		Tag("type").
		TagList("tags", ",").
		Text("content").
		Numeric("importance").
		VectorHNSW("vector", 1536, DistanceCosine, 16, 200).
		MustBuild()

	if idx.Name != "triage-records" {
		t.Errorf("name = %q, want triage-records", idx.Name)
	}
	if len(idx.Fields) != 6 {
		t.Fatalf("fields count = %d, want 6", len(idx.Fields))
	}
	if idx.Fields[0].Name != "org" || idx.Fields[0].Type != IndexFieldTag {
		t.Errorf("field[0] = %+v, want org TAG", idx.Fields[0])
	}
	if idx.Fields[2].TagSeparator != "," {
		t.Errorf("tags separator = %q, want ,", idx.Fields[2].TagSeparator)
	}
	if !idx.Fields[3].TextNoStem {
		t.Error("text fields should disable stemming")
	}
	if idx.VectorField() != "vector" {
		t.Errorf("VectorField() = %q, want vector", idx.VectorField())
	}
}

func TestIndexBuilder_VectorHNSW(t *testing.T) {
	idx := NewIndex("hnsw-idx").
		Prefix("rec:").
		VectorHNSW("vec", 768, DistanceL2, 32, 400).
		MustBuild()

	f := idx.Fields[0]
	if f.VectorDim != 768 {
		t.Errorf("dim = %d, want 768", f.VectorDim)
	}
	if f.VectorDistance != DistanceL2 {
		t.Errorf("distance = %q, want L2", f.VectorDistance)
	}
	if f.VectorM != 32 || f.VectorEFConstruct != 400 {
		t.Errorf("M/EF = %d/%d, want 32/400", f.VectorM, f.VectorEFConstruct)
	}
}

func TestIndexBuilder_MultiplePrefixes(t *testing.T) {
	idx := NewIndex("multi-idx").
		Prefix("a:", "b:", "c:").
		Tag("x").
		MustBuild()

	if len(idx.Prefixes) != 3 {
		t.Errorf("prefix count = %d, want 3", len(idx.Prefixes))
	}
}

func TestIndexBuilder_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		builder func() (*IndexDefinition, error)
		wantErr string
	}{
		{
			name: "empty name",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("").Tag("x").Build()
			},
			wantErr: "index name is required",
		},
		{
			name: "no fields",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").Build()
			},
			wantErr: "at least one field",
		},
		{
			name: "vector without dim",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").VectorHNSW("v", 0, DistanceCosine, 0, 0).Build()
			},
			wantErr: "positive DIM",
		},
		{
			name: "two vectors",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").
					VectorHNSW("a", 4, DistanceCosine, 0, 0).
					VectorHNSW("b", 4, DistanceCosine, 0, 0).
					Build()
			},
			wantErr: "at most one vector",
		},
		{
			name: "invalid characters",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx with spaces").Tag("x").Build()
			},
			wantErr: "invalid characters",
		},
		{
			name: "duplicate field",
			builder: func() (*IndexDefinition, error) {
				return NewIndex("idx").Tag("x").Numeric("x").Build()
			},
			wantErr: "duplicate field",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.builder()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("got error %q, want containing %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestIndexDefinition_String(t *testing.T) {
	idx := NewIndex("my-idx").
		Prefix("rec:").
		Tag("org").
		VectorHNSW("vector", 8, DistanceCosine, 0, 0).
		MustBuild()

	s := idx.String()
	if !strings.HasPrefix(s, "FT.CREATE my-idx ON HASH") {
		t.Errorf("unexpected prefix: %q", s)
	}
	if !strings.HasSuffix(s, "vector VECTOR HNSW") {
		t.Errorf("missing vector field: %q", s)
	}
}

func TestIndexDefinition_NoVectorField(t *testing.T) {
	idx := NewIndex("plain").Tag("org").MustBuild()
	if idx.VectorField() != "" {
		t.Errorf("VectorField() = %q, want empty", idx.VectorField())
	}
}
