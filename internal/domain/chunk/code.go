package chunk

import (
	"fmt"
	"regexp"
	"strings"
)

var extLanguages = map[string]string{
	".go":   "go",
	".py":   "python",
	".js":   "javascript",
	".jsx":  "javascript",
	".mjs":  "javascript",
	".cjs":  "javascript",
	".ts":   "typescript",
	".tsx":  "typescript",
	".java": "java",
	".rs":   "rust",
	".php":  "php",
	".rb":   "ruby",
}

// declaration matches a line that starts a top-level unit. The last non-empty
// capture group is the unit name.
type declaration struct {
	kind string
	re   *regexp.Regexp
}

var jsDeclarations = []declaration{
	{"function", regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:async\s+)?function\s*\*?\s*([A-Za-z_$][\w$]*)`)},
	{"class", regexp.MustCompile(`^(?:export\s+)?(?:default\s+)?(?:abstract\s+)?class\s+([A-Za-z_$][\w$]*)`)},
	{"function", regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+([A-Za-z_$][\w$]*)\s*(?::[^=]+)?=\s*(?:async\s+)?(?:function\b|\([^)]*\)\s*(?::[^=]+)?=>|[A-Za-z_$][\w$]*\s*=>)`)},
	{"interface", regexp.MustCompile(`^(?:export\s+)?(?:interface|type)\s+([A-Za-z_$][\w$]*)`)},
}

var languageDeclarations = map[string][]declaration{
	"go": {
		{"function", regexp.MustCompile(`^func\s+(?:\([^)]*\)\s*)?([A-Za-z_]\w*)`)},
		{"type", regexp.MustCompile(`^type\s+([A-Za-z_]\w*)\s+(?:struct|interface)\b`)},
	},
	"python": {
		{"function", regexp.MustCompile(`^(?:async\s+)?def\s+([A-Za-z_]\w*)`)},
		{"class", regexp.MustCompile(`^class\s+([A-Za-z_]\w*)`)},
	},
	"javascript": jsDeclarations,
	"typescript": jsDeclarations,
	"java": {
		{"class", regexp.MustCompile(`^\s*(?:(?:public|protected|private|static|final|abstract|sealed)\s+)*(?:class|interface|enum|record)\s+([A-Za-z_]\w*)`)},
		{"method", regexp.MustCompile(`^\s{0,4}(?:(?:public|protected|private|static|final|abstract|synchronized)\s+)+[\w<>\[\],.? ]+\s+([A-Za-z_]\w*)\s*\(`)},
	},
	"rust": {
		{"function", regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:const\s+)?(?:async\s+)?(?:unsafe\s+)?fn\s+([A-Za-z_]\w*)`)},
		{"type", regexp.MustCompile(`^(?:pub(?:\([^)]*\))?\s+)?(?:struct|enum|trait|union)\s+([A-Za-z_]\w*)`)},
		{"impl", regexp.MustCompile(`^impl(?:<[^>]*>)?\s+(?:[\w:<>]+\s+for\s+)?([A-Za-z_]\w*)`)},
	},
	"php": {
		{"function", regexp.MustCompile(`^\s*(?:(?:public|protected|private|static|abstract|final)\s+)*function\s+&?([A-Za-z_]\w*)`)},
		{"class", regexp.MustCompile(`^\s*(?:(?:abstract|final|readonly)\s+)*(?:class|interface|trait|enum)\s+([A-Za-z_]\w*)`)},
	},
	"ruby": {
		{"method", regexp.MustCompile(`^\s*def\s+(?:self\.)?([A-Za-z_]\w*[?!=]?)`)},
		{"class", regexp.MustCompile(`^\s*(?:class|module)\s+([A-Z]\w*(?:::\w+)*)`)},
	},
}

type line struct {
	start, end int // end excludes the newline
	next       int // offset of the following line
}

func splitLines(content string) []line {
	var lines []line
	for offset := 0; offset < len(content); {
		idx := strings.IndexByte(content[offset:], '\n')
		if idx < 0 {
			lines = append(lines, line{offset, len(content), len(content)})
			break
		}
		lines = append(lines, line{offset, offset + idx, offset + idx + 1})
		offset += idx + 1
	}
	return lines
}

type codeUnit struct {
	kind, name         string
	firstLine, endLine int // 0-based, endLine exclusive
}

// Code splits source at top-level declarations. Units shorter than minCodeUnit
// characters are folded into a neighbour; oversized units are split on line
// boundaries. Source without recognizable declarations falls back to fixed
// windows of fallbackLines lines.
func (c *Chunker) Code(content, language string) []Chunk {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	lines := splitLines(content)
	units := detectUnits(content, lines, languageDeclarations[language])
	if len(units) == 0 {
		return c.fallback(content, lines, language)
	}
	units = c.mergeSmall(content, lines, units)

	var out []Chunk
	for _, u := range units {
		meta := Metadata{
			Type:     u.kind,
			Language: language,
			Name:     u.name,
		}
		out = append(out, c.codeUnitChunks(content, lines, u, meta)...)
	}
	return out
}

func detectUnits(content string, lines []line, decls []declaration) []codeUnit {
	if len(decls) == 0 {
		return nil
	}
	var units []codeUnit
	found := false
	cur := codeUnit{kind: "preamble"}
	for i, ln := range lines {
		text := content[ln.start:ln.end]
		for _, d := range decls {
			m := d.re.FindStringSubmatch(text)
			if m == nil {
				continue
			}
			found = true
			cur.endLine = i
			if i > cur.firstLine {
				units = append(units, cur)
			}
			cur = codeUnit{kind: d.kind, name: lastGroup(m), firstLine: i}
			break
		}
	}
	if !found {
		return nil
	}
	cur.endLine = len(lines)
	return append(units, cur)
}

func lastGroup(m []string) string {
	for i := len(m) - 1; i > 0; i-- {
		if m[i] != "" {
			return m[i]
		}
	}
	return ""
}

func unitSpan(lines []line, firstLine, endLine int) span {
	return span{lines[firstLine].start, lines[endLine-1].end}
}

// mergeSmall folds units below the size floor into the following unit, or into the
// preceding one when last, so no source text is dropped.
func (c *Chunker) mergeSmall(content string, lines []line, units []codeUnit) []codeUnit {
	size := func(u codeUnit) int {
		s := trimSpan(content, unitSpan(lines, u.firstLine, u.endLine))
		return len([]rune(content[s.start:s.end]))
	}

	var out []codeUnit
	var pending *codeUnit
	for _, u := range units {
		if pending != nil {
			u.firstLine = pending.firstLine
			pending = nil
		}
		if size(u) < c.minCodeUnit {
			p := u
			pending = &p
			continue
		}
		out = append(out, u)
	}
	if pending != nil {
		if len(out) == 0 {
			return []codeUnit{*pending}
		}
		out[len(out)-1].endLine = pending.endLine
	}
	return out
}

func (c *Chunker) codeUnitChunks(content string, lines []line, u codeUnit, meta Metadata) []Chunk {
	var windows [][2]int
	if c.tokens(content, unitSpan(lines, u.firstLine, u.endLine)) <= c.targetTokens {
		windows = [][2]int{{u.firstLine, u.endLine}}
	} else {
		windows = c.lineWindows(content, lines, u.firstLine, u.endLine)
	}

	out := make([]Chunk, 0, len(windows))
	for i, w := range windows {
		s := trimSpan(content, unitSpan(lines, w[0], w[1]))
		if s.end <= s.start {
			continue
		}
		m := meta
		m.Lines = fmt.Sprintf("%d-%d", w[0]+1, w[1])
		if len(windows) > 1 {
			m.Part = partLabel(i, len(windows))
		}
		out = append(out, Chunk{Content: content[s.start:s.end], Metadata: m, Start: s.start, End: s.end})
	}
	return out
}

// lineWindows packs whole lines into budget-sized windows; a single oversized line
// forms its own window.
func (c *Chunker) lineWindows(content string, lines []line, first, end int) [][2]int {
	var windows [][2]int
	start := first
	for i := first; i < end; i++ {
		if i > start && c.tokens(content, unitSpan(lines, start, i+1)) > c.targetTokens {
			windows = append(windows, [2]int{start, i})
			start = i
		}
	}
	return append(windows, [2]int{start, end})
}

func (c *Chunker) fallback(content string, lines []line, language string) []Chunk {
	var out []Chunk
	for first := 0; first < len(lines); first += c.fallbackLines {
		end := min(first+c.fallbackLines, len(lines))
		s := trimSpan(content, unitSpan(lines, first, end))
		if s.end <= s.start {
			continue
		}
		out = append(out, Chunk{
			Content: content[s.start:s.end],
			Metadata: Metadata{
				Type:     "block",
				Language: language,
				Lines:    fmt.Sprintf("%d-%d", first+1, end),
			},
			Start: s.start,
			End:   s.end,
		})
	}
	return out
}
