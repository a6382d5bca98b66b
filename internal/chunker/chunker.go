// Package chunker splits document text into bounded, structurally coherent passages.
//
// Splitting runs in three stages: structural markers (headings, numbered
// headings, bold "Term:" lines), then paragraph boundaries for pieces that are
// still too large, then a sentence-aware character window. Text without any
// structural marker goes straight to the window stage.
package chunker

import (
	"fmt"
	"maps"
	"strconv"
	"strings"

	"github.com/kailas-cloud/vecrag/internal/domain"
)

// Defaults used when no option overrides them.
const (
	DefaultMaxSize      = 1000
	DefaultOverlapRatio = 0.1
	DefaultMinSize      = 50
	DefaultHeadingSize  = 100
)

const (
	// oversizeFactor is how far a structural chunk may exceed maxSize before it is re-split.
	oversizeFactor  = 1.5
	maxOverlapRatio = 0.5
)

// Metadata keys written by the chunker.
const (
	MetaSection    = "section"
	MetaChunkIndex = "chunk_index"
)

// Chunker turns raw text into domain chunks. It is stateless and safe for concurrent use.
type Chunker struct {
	maxSize      int
	overlapRatio float64
	minSize      int
	headingSize  int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithMaxSize sets the target chunk size in bytes.
func WithMaxSize(n int) Option {
	return func(c *Chunker) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithOverlapRatio sets the share of maxSize repeated between consecutive windows.
// Values are clamped to [0, 0.5).
func WithOverlapRatio(r float64) Option {
	return func(c *Chunker) {
		switch {
		case r < 0:
			c.overlapRatio = 0
		case r >= maxOverlapRatio:
			c.overlapRatio = maxOverlapRatio - 0.01
		default:
			c.overlapRatio = r
		}
	}
}

// WithMinSize sets the floor below which chunks are discarded as noise.
func WithMinSize(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.minSize = n
		}
	}
}

// WithHeadingSize sets the length under which a structural piece is treated as a heading.
func WithHeadingSize(n int) Option {
	return func(c *Chunker) {
		if n >= 0 {
			c.headingSize = n
		}
	}
}

// New creates a Chunker.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		maxSize:      DefaultMaxSize,
		overlapRatio: DefaultOverlapRatio,
		minSize:      DefaultMinSize,
		headingSize:  DefaultHeadingSize,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// MaxSize returns the target chunk size.
func (c *Chunker) MaxSize() int { return c.maxSize }

// HardLimit returns the upper bound no emitted chunk ever exceeds.
func (c *Chunker) HardLimit() int { return int(float64(c.maxSize) * oversizeFactor) }

// Split returns the chunk texts for text using default floor and heading sizes.
func Split(text string, maxSize int, overlapRatio float64) []string {
	c := New(WithMaxSize(maxSize), WithOverlapRatio(overlapRatio))
	spans := c.spans(normalize(text))
	out := make([]string, 0, len(spans))
	for _, s := range spans {
		out = append(out, s.text)
	}
	return out
}

// Chunk splits a source document into chunks carrying its provenance.
func (c *Chunker) Chunk(src domain.Source) []domain.Chunk {
	text := normalize(src.Text)
	spans := c.spans(text)
	if len(spans) == 0 {
		return nil
	}

	headings := headingIndex(text)
	chunks := make([]domain.Chunk, 0, len(spans))
	repeats := make(map[string]int)
	for i, s := range spans {
		meta := maps.Clone(src.Metadata)
		if meta == nil {
			meta = make(map[string]string, 2)
		}
		meta[MetaChunkIndex] = strconv.Itoa(i)
		if title := headings.sectionFor(s.start, s.end); title != "" {
			meta[MetaSection] = title
		}

		chunk := domain.NewChunk(
			src.File,
			location(src.Location, s.start, s.end),
			s.text,
			inferType(s.text),
			meta,
		)
		// repeated passages get distinct, position-ordered ids
		chunks = append(chunks, chunk.WithOccurrence(repeats[s.text]))
		repeats[s.text]++
	}
	return chunks
}

// piece is a trimmed chunk candidate with its byte offsets in the normalized text.
type piece struct {
	text       string
	start, end int
}

// spans runs the splitting stages and applies the size floor.
func (c *Chunker) spans(text string) []piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	var raw []span
	if structural, ok := structuralSpans(text); ok {
		raw = c.resplit(text, c.accumulate(text, structural))
	} else {
		raw = windowSpans(text, span{0, len(text)}, c.maxSize, c.overlap())
	}

	return c.applyFloor(text, raw)
}

// applyFloor folds spans shorter than minSize into a neighbour: the previous
// piece when the result stays within the hard limit, else the next span.
// Only fragments no neighbour can absorb are dropped.
func (c *Chunker) applyFloor(text string, raw []span) []piece {
	limit := c.HardLimit()
	out := make([]piece, 0, len(raw))
	carry := -1
	for _, s := range raw {
		if carry >= 0 && carry < s.start && s.end-carry <= limit {
			s.start = carry
		}
		carry = -1

		p := trim(text, s)
		if len(p.text) >= c.minSize {
			out = append(out, p)
			continue
		}
		if p.text == "" {
			continue
		}
		if n := len(out); n > 0 && p.end-out[n-1].start <= limit {
			if p.end > out[n-1].end {
				out[n-1] = trim(text, span{out[n-1].start, p.end})
			}
			continue
		}
		carry = p.start
	}
	return out
}

// accumulate merges consecutive spans until adding the next one would exceed maxSize.
// Spans shorter than headingSize never close a buffer on their own: they are
// carried into the next buffer so headings stay attached to their content.
func (c *Chunker) accumulate(text string, spans []span) []span {
	var out []span
	cur := span{start: -1}
	hasBody := false

	for _, s := range spans {
		size := len(strings.TrimSpace(text[s.start:s.end]))
		if size == 0 {
			continue
		}
		if cur.start >= 0 && hasBody && s.end-cur.start > c.maxSize {
			out = append(out, cur)
			cur = span{start: -1}
			hasBody = false
		}
		if cur.start < 0 {
			cur.start = s.start
		}
		cur.end = s.end
		if size >= c.headingSize {
			hasBody = true
		}
	}

	if cur.start >= 0 {
		out = append(out, cur)
	}
	return out
}

// resplit breaks spans above the hard limit on paragraphs, then on windows.
func (c *Chunker) resplit(text string, spans []span) []span {
	limit := c.HardLimit()
	out := make([]span, 0, len(spans))

	for _, s := range spans {
		if s.len() <= limit {
			out = append(out, s)
			continue
		}
		for _, p := range c.accumulate(text, paragraphSpans(text, s)) {
			if p.len() <= limit {
				out = append(out, p)
				continue
			}
			out = append(out, windowSpans(text, p, c.maxSize, c.overlap())...)
		}
	}
	return out
}

func (c *Chunker) overlap() int {
	return int(float64(c.maxSize) * c.overlapRatio)
}

func normalize(text string) string {
	return strings.ReplaceAll(text, "\r\n", "\n")
}

func trim(text string, s span) piece {
	raw := text[s.start:s.end]
	left := strings.TrimLeft(raw, " \t\n")
	start := s.start + len(raw) - len(left)
	t := strings.TrimRight(left, " \t\n")
	return piece{text: t, start: start, end: start + len(t)}
}

func location(base string, start, end int) string {
	loc := fmt.Sprintf("bytes %d-%d", start, end)
	if base != "" {
		return base + " " + loc
	}
	return loc
}
