package chunk

import (
	"regexp"
	"strings"
)

var (
	headerRe = regexp.MustCompile(`^(#{1,6})[ \t]+(.+?)[ \t]*#*[ \t]*$`)
	fenceRe  = regexp.MustCompile("^[ \t]{0,3}(```|~~~)")
)

type mdSection struct {
	title string
	level int
	body  span
}

// Markdown splits on ATX headers outside fenced code blocks. Each section keeps its
// header line; sections over budget are text-chunked and labelled "i/total".
func (c *Chunker) Markdown(content string) []Chunk {
	var out []Chunk
	for _, sec := range splitSections(content) {
		body := trimSpan(content, sec.body)
		if body.end <= body.start {
			continue
		}
		meta := Metadata{Section: sec.title, Level: sec.level}
		if c.tokens(content, body) <= c.targetTokens {
			out = append(out, toChunks(content, []span{body}, meta, true)...)
			continue
		}
		out = append(out, toChunks(content, c.textSpans(content, body), meta, true)...)
	}
	return out
}

func splitSections(content string) []mdSection {
	var sections []mdSection
	cur := mdSection{body: span{0, 0}}
	inFence := false
	fence := ""

	offset := 0
	for offset < len(content) {
		lineEnd := strings.IndexByte(content[offset:], '\n')
		next := len(content)
		if lineEnd >= 0 {
			next = offset + lineEnd + 1
			lineEnd = offset + lineEnd
		} else {
			lineEnd = len(content)
		}
		line := strings.TrimRight(content[offset:lineEnd], "\r")

		if m := fenceRe.FindStringSubmatch(line); m != nil {
			switch {
			case !inFence:
				inFence, fence = true, m[1]
			case m[1] == fence:
				inFence = false
			}
		} else if !inFence {
			if m := headerRe.FindStringSubmatch(line); m != nil {
				cur.body.end = offset
				sections = append(sections, cur)
				cur = mdSection{title: strings.TrimSpace(m[2]), level: len(m[1]), body: span{offset, offset}}
			}
		}
		offset = next
	}
	cur.body.end = len(content)
	sections = append(sections, cur)
	return sections
}
