package chunker

import (
	"strings"
	"unicode/utf8"
)

// sentenceEnds are the boundaries a window prefers to end on, in no particular order:
// the latest one inside the window wins.
var sentenceEnds = []string{". ", "? ", "! ", "\n"}

// windowSpans walks s in windows of at most size bytes. Each window ends on the
// latest sentence end in its second half, else on the latest whitespace, else
// on a hard cut. Consecutive windows share overlap bytes. The cursor advances
// by at least one byte per iteration.
func windowSpans(text string, s span, size, overlap int) []span {
	if size <= 0 {
		return []span{s}
	}

	var out []span
	start := s.start
	for start < s.end {
		end := start + size
		if end >= s.end {
			out = append(out, span{start, s.end})
			break
		}

		cut := boundary(text, start, end)
		out = append(out, span{start, cut})

		next := cut - overlap
		if next <= start {
			next = start + 1
		}
		start = alignForward(text, next, cut)
	}
	return out
}

// boundary picks the cut position for the window [start, end).
func boundary(text string, start, end int) int {
	floor := start + (end-start)/2
	window := text[floor:end]

	best := -1
	for _, sep := range sentenceEnds {
		if i := strings.LastIndex(window, sep); i >= 0 {
			best = max(best, floor+i+len(sep))
		}
	}
	if best > start {
		return best
	}

	if i := strings.LastIndexAny(window, " \t"); i >= 0 && floor+i+1 > start {
		return floor + i + 1
	}

	cut := end
	for cut > start && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut > start {
		return cut
	}
	// window narrower than the rune at start: take the whole rune
	cut = end
	for cut < len(text) && !utf8.RuneStart(text[cut]) {
		cut++
	}
	return cut
}

// alignForward moves pos to the start of the next word when it lands mid-word,
// as long as that stays before limit. The result is always a rune start.
func alignForward(text string, pos, limit int) int {
	if pos > 0 && !isSpace(text[pos-1]) {
		if i := strings.IndexAny(text[pos:limit], " \t\n"); i >= 0 {
			pos += i + 1
		}
	}
	for pos < len(text) && !utf8.RuneStart(text[pos]) {
		pos++
	}
	return pos
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n'
}
