package chunk

import (
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"
)

// abbreviations never end a sentence when followed by a period.
var abbreviations = map[string]struct{}{
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "inc": {}, "ltd": {}, "co": {}, "corp": {},
	"vs": {}, "etc": {}, "e.g": {}, "i.e": {}, "approx": {}, "no": {}, "st": {}, "jr": {}, "sr": {},
	"np": {}, "itp": {}, "itd": {}, "tzn": {}, "tj": {}, "ul": {}, "nr": {}, "godz": {}, "tel": {},
	"ok": {}, "ds": {}, "wg": {}, "pn": {}, "sp": {}, "z.o.o": {}, "o.o": {},
}

// Text splits prose into sentences and packs them greedily into chunks of at most
// targetTokens, repeating up to overlapTokens of trailing sentences in the next chunk.
func (c *Chunker) Text(content string) []Chunk {
	spans := c.textSpans(content, span{0, len(content)})
	return toChunks(content, spans, Metadata{}, false)
}

// textSpans chunks the region r of text.
func (c *Chunker) textSpans(text string, r span) []span {
	units := c.fitUnits(text, splitSentences(text, r))
	return c.pack(text, units, c.overlapTokens)
}

// fitUnits breaks any unit larger than the budget into word-aligned pieces.
func (c *Chunker) fitUnits(text string, units []span) []span {
	out := make([]span, 0, len(units))
	for _, u := range units {
		if c.tokens(text, u) <= c.targetTokens {
			out = append(out, u)
			continue
		}
		out = append(out, c.splitLong(text, u)...)
	}
	return out
}

// splitLong cuts an oversized unit on whitespace; a single oversized word is cut on rune boundaries.
func (c *Chunker) splitLong(text string, u span) []span {
	maxRunes := c.targetTokens * 4
	var out []span
	pieceStart := -1
	lastEnd := -1

	flush := func() {
		if pieceStart >= 0 {
			out = append(out, span{pieceStart, lastEnd})
		}
		pieceStart, lastEnd = -1, -1
	}

	for _, w := range wordSpans(text, u) {
		if c.tokens(text, w) > c.targetTokens {
			flush()
			out = append(out, cutRunes(text, w, maxRunes)...)
			continue
		}
		if pieceStart >= 0 && EstimateTokens(text[pieceStart:w.end]) > c.targetTokens {
			flush()
		}
		if pieceStart < 0 {
			pieceStart = w.start
		}
		lastEnd = w.end
	}
	flush()
	return out
}

func wordSpans(text string, u span) []span {
	var out []span
	start := -1
	for i := u.start; i < u.end; {
		r, size := utf8.DecodeRuneInString(text[i:u.end])
		if isSpace(r) {
			if start >= 0 {
				out = append(out, span{start, i})
				start = -1
			}
		} else if start < 0 {
			start = i
		}
		i += size
	}
	if start >= 0 {
		out = append(out, span{start, u.end})
	}
	return out
}

func cutRunes(text string, w span, maxRunes int) []span {
	var out []span
	start, count := w.start, 0
	for i := w.start; i < w.end; {
		_, size := utf8.DecodeRuneInString(text[i:w.end])
		i += size
		count++
		if count == maxRunes {
			out = append(out, span{start, i})
			start, count = i, 0
		}
	}
	if start < w.end {
		out = append(out, span{start, w.end})
	}
	return out
}

// pack greedily groups units into chunks. Each new chunk starts with the trailing
// units of the previous chunk that fit into overlap tokens.
func (c *Chunker) pack(text string, units []span, overlap int) []span {
	var chunks []span
	var cur []span

	for _, u := range units {
		if len(cur) > 0 && EstimateTokens(text[cur[0].start:u.end]) > c.targetTokens {
			chunks = append(chunks, span{cur[0].start, cur[len(cur)-1].end})
			cur = overlapTail(text, cur, overlap)
			if len(cur) > 0 && EstimateTokens(text[cur[0].start:u.end]) > c.targetTokens {
				cur = cur[:0]
			}
		}
		cur = append(cur, u)
	}
	if len(cur) > 0 {
		chunks = append(chunks, span{cur[0].start, cur[len(cur)-1].end})
	}
	return chunks
}

// overlapTail returns the longest proper suffix of cur within the overlap budget.
func overlapTail(text string, cur []span, overlap int) []span {
	if overlap <= 0 || len(cur) < 2 {
		return nil
	}
	last := cur[len(cur)-1].end
	k := len(cur)
	for k > 1 && EstimateTokens(text[cur[k-1].start:last]) <= overlap {
		k--
	}
	if k == len(cur) {
		return nil
	}
	tail := make([]span, len(cur)-k)
	copy(tail, cur[k:])
	return tail
}

// splitSentences returns trimmed sentence spans inside r. Sentences end at terminal
// punctuation followed by whitespace or at a paragraph break.
func splitSentences(text string, r span) []span {
	var out []span
	emit := func(s span) {
		s = trimSpan(text, s)
		if s.end > s.start {
			out = append(out, s)
		}
	}

	start := r.start
	for i := r.start; i < r.end; {
		ch, size := utf8.DecodeRuneInString(text[i:r.end])
		next := i + size

		if isTerminator(ch) {
			for next < r.end {
				r2, s2 := utf8.DecodeRuneInString(text[next:r.end])
				if !isTerminator(r2) && !isCloser(r2) {
					break
				}
				next += s2
			}
			atBoundary := next == r.end
			if !atBoundary {
				r3, _ := utf8.DecodeRuneInString(text[next:r.end])
				atBoundary = isSpace(r3)
			}
			if atBoundary && (ch != '.' || !endsWithAbbreviation(text[start:i])) {
				emit(span{start, next})
				start = next
			}
			i = next
			continue
		}

		if ch == '\n' {
			j := next
			for j < r.end && (text[j] == ' ' || text[j] == '\t' || text[j] == '\r') {
				j++
			}
			if j < r.end && text[j] == '\n' {
				emit(span{start, i})
				start = j + 1
				i = j + 1
				continue
			}
		}
		i = next
	}
	emit(span{start, r.end})
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?' || r == '…'
}

func isCloser(r rune) bool {
	return r == '"' || r == '\'' || r == ')' || r == ']' || r == '”' || r == '’' || r == '»'
}

// endsWithAbbreviation reports whether the text before a period ends with a known
// abbreviation or a single-letter initial.
func endsWithAbbreviation(before string) bool {
	idx := strings.LastIndexFunc(before, func(r rune) bool {
		return !unicode.IsLetter(r) && r != '.'
	})
	wordStart := 0
	if idx >= 0 {
		_, size := utf8.DecodeRuneInString(before[idx:])
		wordStart = idx + size
	}
	raw := before[wordStart:]
	if raw == "" {
		return false
	}
	first, _ := utf8.DecodeRuneInString(raw)
	if utf8.RuneCountInString(raw) == 1 && unicode.IsUpper(first) {
		return true
	}
	word := strings.ToLower(raw)
	_, ok := abbreviations[word]
	return ok
}

func partLabel(i, total int) string {
	return strconv.Itoa(i+1) + "/" + strconv.Itoa(total)
}
