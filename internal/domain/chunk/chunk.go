// Package chunk splits entity content into embedding-sized pieces.
//
// Every chunker is pure and deterministic. Chunks reference byte spans of the
// input so that removing overlap reconstructs the original text up to
// whitespace at chunk boundaries.
package chunk

import (
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Mode selects the chunking strategy.
type Mode string

// Supported chunking modes.
const (
	ModeText     Mode = "text"
	ModeMarkdown Mode = "markdown"
	ModeCode     Mode = "code"
)

// Metadata describes where a chunk came from. Empty fields are omitted on the wire.
type Metadata struct {
	Section  string `json:"section,omitempty"`
	Level    int    `json:"level,omitempty"`
	Part     string `json:"part,omitempty"`
	Type     string `json:"type,omitempty"`
	Language string `json:"language,omitempty"`
	Name     string `json:"name,omitempty"`
	Lines    string `json:"lines,omitempty"`
}

// Chunk is a contiguous piece of the input. Start and End are byte offsets into the input.
type Chunk struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata"`
	Start    int      `json:"start"`
	End      int      `json:"end"`
}

// Defaults used when an option is not set.
const (
	DefaultTargetTokens  = 500
	DefaultOverlapTokens = 50
	DefaultMinCodeUnit   = 50
	DefaultFallbackLines = 50
)

// Chunker holds chunking parameters. The zero value is not usable; use New.
type Chunker struct {
	targetTokens  int
	overlapTokens int
	minCodeUnit   int
	fallbackLines int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithTargetTokens sets the token budget per chunk.
func WithTargetTokens(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.targetTokens = n
		}
	}
}

// WithOverlapTokens sets how many trailing tokens of a chunk are repeated in the next one.
func WithOverlapTokens(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.overlapTokens = n
		}
	}
}

// WithMinCodeUnit sets the minimum size in characters of a standalone code unit.
func WithMinCodeUnit(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.minCodeUnit = n
		}
	}
}

// WithFallbackLines sets the window size for code without recognizable declarations.
func WithFallbackLines(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.fallbackLines = n
		}
	}
}

// New creates a Chunker.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		targetTokens:  DefaultTargetTokens,
		overlapTokens: DefaultOverlapTokens,
		minCodeUnit:   DefaultMinCodeUnit,
		fallbackLines: DefaultFallbackLines,
	}
	for _, o := range opts {
		o(c)
	}
	if c.overlapTokens >= c.targetTokens {
		c.overlapTokens = c.targetTokens / 2
	}
	return c
}

// EstimateTokens approximates the token count of s as ceil(chars/4).
func EstimateTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// DetectMode maps a filename or extension hint to a chunking mode and code language.
func DetectMode(hint string) (Mode, string) {
	ext := strings.ToLower(filepath.Ext(hint))
	if ext == "" && strings.HasPrefix(hint, ".") {
		ext = strings.ToLower(hint)
	}
	switch ext {
	case ".md", ".markdown", ".mdx":
		return ModeMarkdown, ""
	}
	if lang, ok := extLanguages[ext]; ok {
		return ModeCode, lang
	}
	return ModeText, ""
}

// Auto dispatches on the filename hint: markdown, known source code, or plain text.
func (c *Chunker) Auto(content, hint string) []Chunk {
	mode, lang := DetectMode(hint)
	switch mode {
	case ModeMarkdown:
		return c.Markdown(content)
	case ModeCode:
		return c.Code(content, lang)
	default:
		return c.Text(content)
	}
}

type span struct {
	start, end int
}

func (c *Chunker) tokens(text string, s span) int {
	return EstimateTokens(text[s.start:s.end])
}

// trimSpan shrinks s so it neither starts nor ends with whitespace.
func trimSpan(text string, s span) span {
	for s.start < s.end {
		r, size := utf8.DecodeRuneInString(text[s.start:s.end])
		if !isSpace(r) {
			break
		}
		s.start += size
	}
	for s.end > s.start {
		r, size := utf8.DecodeLastRuneInString(text[s.start:s.end])
		if !isSpace(r) {
			break
		}
		s.end -= size
	}
	return s
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f' || r == 0xA0
}

func toChunks(text string, spans []span, meta Metadata, withParts bool) []Chunk {
	out := make([]Chunk, 0, len(spans))
	for i, s := range spans {
		m := meta
		if withParts && len(spans) > 1 {
			m.Part = partLabel(i, len(spans))
		}
		out = append(out, Chunk{Content: text[s.start:s.end], Metadata: m, Start: s.start, End: s.end})
	}
	return out
}
