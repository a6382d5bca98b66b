package chunker

import (
	"regexp"
	"sort"
	"strings"
)

// span is a half-open byte range [start, end) in the normalized text.
type span struct {
	start, end int
}

func (s span) len() int { return s.end - s.start }

var (
	markdownHeading = regexp.MustCompile(`^#{1,6}[ \t]+\S`)
	numberedHeading = regexp.MustCompile(`^\d+(\.\d+)*\.?[ \t]+\p{Lu}.{0,80}$`)
	boldTerm        = regexp.MustCompile(`^\*\*[^*\n]{1,80}(:\*\*|\*\*:)`)
)

// isHeading reports whether a line opens a new structural section.
// Numbered headings only count after a blank line, so numbered list items
// inside a paragraph do not split it.
func isHeading(line string, afterBlank bool) bool {
	l := strings.TrimRight(line, " \t")
	if markdownHeading.MatchString(l) || boldTerm.MatchString(l) {
		return true
	}
	return afterBlank && numberedHeading.MatchString(l) && !strings.HasSuffix(l, ".")
}

func isFence(line string) bool {
	l := strings.TrimLeft(line, " \t")
	return strings.HasPrefix(l, "```") || strings.HasPrefix(l, "~~~")
}

// line is one line of text with its starting offset.
type line struct {
	text  string
	start int
}

// scanLines walks text line by line, skipping fenced code blocks.
// fn receives every line outside a fence along with whether the previous line was blank.
func scanLines(text string, fn func(l line, afterBlank bool)) {
	inFence := false
	afterBlank := true
	offset := 0

	for offset <= len(text) {
		end := strings.IndexByte(text[offset:], '\n')
		if end < 0 {
			end = len(text) - offset
		}
		l := line{text: text[offset : offset+end], start: offset}

		if isFence(l.text) {
			inFence = !inFence
			afterBlank = false
		} else if !inFence {
			fn(l, afterBlank)
			afterBlank = strings.TrimSpace(l.text) == ""
		}

		offset += end + 1
	}
}

// structuralSpans splits text before every heading line.
// ok is false when the text has no structural markers at all.
func structuralSpans(text string) (spans []span, ok bool) {
	var cuts []int
	scanLines(text, func(l line, afterBlank bool) {
		if isHeading(l.text, afterBlank) {
			ok = true
			if l.start > 0 {
				cuts = append(cuts, l.start)
			}
		}
	})
	if !ok {
		return nil, false
	}

	prev := 0
	for _, c := range cuts {
		spans = append(spans, span{prev, c})
		prev = c
	}
	spans = append(spans, span{prev, len(text)})
	return spans, true
}

// paragraphSpans splits s on blank lines. Separators stay attached to the
// preceding span so the result covers s without gaps.
func paragraphSpans(text string, s span) []span {
	var out []span
	pos := s.start
	for pos < s.end {
		i := strings.Index(text[pos:s.end], "\n\n")
		if i < 0 {
			break
		}
		next := pos + i + 2
		out = append(out, span{pos, next})
		pos = next
	}
	if pos < s.end {
		out = append(out, span{pos, s.end})
	}
	return out
}

type heading struct {
	offset int
	title  string
}

type headings []heading

// headingIndex collects heading lines in document order.
func headingIndex(text string) headings {
	var hs headings
	scanLines(text, func(l line, afterBlank bool) {
		if isHeading(l.text, afterBlank) {
			hs = append(hs, heading{offset: l.start, title: headingTitle(l.text)})
		}
	})
	return hs
}

// sectionFor returns the title of the nearest heading at or before start,
// or the first heading inside [start, end) when none precedes it.
func (hs headings) sectionFor(start, end int) string {
	i := sort.Search(len(hs), func(i int) bool { return hs[i].offset > start })
	if i > 0 {
		return hs[i-1].title
	}
	if len(hs) > 0 && hs[0].offset < end {
		return hs[0].title
	}
	return ""
}

func headingTitle(l string) string {
	t := strings.TrimSpace(l)
	t = strings.TrimLeft(t, "#")
	if strings.HasPrefix(t, "**") {
		t = strings.TrimPrefix(t, "**")
		if i := strings.Index(t, "**"); i >= 0 {
			t = t[:i]
		}
		t = strings.TrimSuffix(t, ":")
	}
	return strings.TrimSpace(t)
}
