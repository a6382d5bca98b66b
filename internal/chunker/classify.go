package chunker

import (
	"regexp"
	"strings"

	"github.com/kailas-cloud/vecrag/internal/domain"
)

var bulletLine = regexp.MustCompile(`^\s*([-*+•]|\d+[.)])\s+`)

// inferType guesses the kind of content a chunk holds.
func inferType(text string) domain.ChunkType {
	if strings.Contains(text, "```") || strings.Contains(text, "~~~") {
		return domain.ChunkCode
	}

	var lines []string
	for l := range strings.SplitSeq(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) == 0 {
		return domain.ChunkParagraph
	}

	bullets, rows := 0, 0
	for _, l := range lines {
		if bulletLine.MatchString(l) {
			bullets++
		}
		if strings.HasPrefix(strings.TrimSpace(l), "|") {
			rows++
		}
	}

	switch {
	case bullets*2 > len(lines):
		return domain.ChunkList
	case rows >= 2 && rows*2 >= len(lines):
		return domain.ChunkTable
	case isHeading(lines[0], true):
		return domain.ChunkSection
	default:
		return domain.ChunkParagraph
	}
}
