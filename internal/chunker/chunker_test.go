package chunker

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/kailas-cloud/vecrag/internal/domain"
)

const sentence = "The quick brown fox jumps over the lazy dog. "

func body(n int) string {
	return strings.TrimSpace(strings.Repeat(sentence, n/len(sentence)+1)[:n])
}

func TestChunk_ThreeSections(t *testing.T) {
	var sb strings.Builder
	for _, title := range []string{"Alpha", "Beta", "Gamma"} {
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", title, body(990))
	}

	c := New(WithMaxSize(1000))
	chunks := c.Chunk(domain.Source{File: "guide.md", Text: sb.String()})
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}

	for i, ch := range chunks {
		if len(ch.Text()) > c.HardLimit() {
			t.Errorf("chunk %d: size %d exceeds %d", i, len(ch.Text()), c.HardLimit())
		}
		if !strings.HasPrefix(ch.Text(), "##") {
			t.Errorf("chunk %d does not start at a heading: %q", i, ch.Text()[:20])
		}
		if ch.Type() != domain.ChunkSection {
			t.Errorf("chunk %d: type = %q, want section", i, ch.Type())
		}
		if ch.SourceFile() != "guide.md" {
			t.Errorf("chunk %d: source file = %q", i, ch.SourceFile())
		}
		if !strings.HasPrefix(ch.SourceLocation(), "bytes ") {
			t.Errorf("chunk %d: location = %q", i, ch.SourceLocation())
		}
		meta := ch.Metadata()
		if meta[MetaChunkIndex] != fmt.Sprint(i) {
			t.Errorf("chunk %d: chunk_index = %q", i, meta[MetaChunkIndex])
		}
	}

	wantSections := []string{"Alpha", "Beta", "Gamma"}
	for i, ch := range chunks {
		if got := ch.Metadata()[MetaSection]; got != wantSections[i] {
			t.Errorf("chunk %d: section = %q, want %q", i, got, wantSections[i])
		}
	}
}

func TestChunk_EmptyInput(t *testing.T) {
	c := New()
	for _, text := range []string{"", "   ", "\n\n\t\n"} {
		if got := c.Chunk(domain.Source{File: "a.md", Text: text}); got != nil {
			t.Errorf("Chunk(%q) = %d chunks, want nil", text, len(got))
		}
		if got := Split(text, 1000, 0.1); len(got) != 0 {
			t.Errorf("Split(%q) = %d chunks, want 0", text, len(got))
		}
	}
}

func TestChunk_DropsTinyText(t *testing.T) {
	got := Split("too short", 1000, 0.1)
	if len(got) != 0 {
		t.Errorf("got %d chunks, want 0", len(got))
	}
}

func TestChunk_HeadingMergedIntoContent(t *testing.T) {
	text := "# Handbook\n\n## Intro\n\n" + body(300)
	got := Split(text, 1000, 0.1)
	if len(got) != 1 {
		t.Fatalf("got %d chunks, want 1", len(got))
	}
	if !strings.HasPrefix(got[0], "# Handbook") {
		t.Errorf("headings were not kept with content: %q", got[0][:30])
	}
}

func TestChunk_FencedCommentIsNotHeading(t *testing.T) {
	text := "## Setup\n\n" + body(200) + "\n\n```sh\n# install deps\nmake deps\n```\n\n" + body(200)
	c := New()
	chunks := c.Chunk(domain.Source{File: "setup.md", Text: text})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if chunks[0].Type() != domain.ChunkCode {
		t.Errorf("type = %q, want code", chunks[0].Type())
	}
	if got := chunks[0].Metadata()[MetaSection]; got != "Setup" {
		t.Errorf("section = %q, want Setup", got)
	}
}

func TestChunk_NumberedListDoesNotSplit(t *testing.T) {
	text := body(200) + "\nSteps:\n1. Open the Door\n2. Walk In\n3. Close the Door\n" + body(200)
	got := Split(text, 1000, 0.1)
	if len(got) != 1 {
		t.Errorf("got %d chunks, want 1", len(got))
	}
}

func TestChunk_HardCutWithoutWhitespace(t *testing.T) {
	text := strings.Repeat("x", 2500)
	got := Split(text, 1000, 0.1)
	if len(got) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(got))
	}
	for i, s := range got {
		if len(s) > 1000 {
			t.Errorf("chunk %d: size %d exceeds 1000", i, len(s))
		}
	}
}

func TestChunk_HardCutKeepsRunesIntact(t *testing.T) {
	text := strings.Repeat("€", 1200)
	for i, s := range Split(text, 1000, 0.1) {
		if !utf8.ValidString(s) {
			t.Errorf("chunk %d is not valid UTF-8", i)
		}
	}
}

func TestWindowSpans_NarrowWindowKeepsRunesWhole(t *testing.T) {
	text := strings.Repeat("€", 4)
	spans := windowSpans(text, span{0, len(text)}, 2, 0)

	covered := 0
	for i, s := range spans {
		piece := text[s.start:s.end]
		if piece == "" || !utf8.ValidString(piece) {
			t.Fatalf("span %d = %q is not a whole rune sequence", i, piece)
		}
		covered += s.len()
	}
	if covered != len(text) {
		t.Errorf("spans cover %d bytes, want %d", covered, len(text))
	}
}

func TestChunk_ShortTailMergedIntoPrevious(t *testing.T) {
	text := "## A\n\n" + body(100) + "\n\n## B\n\nShort tail."
	c := New(WithMaxSize(120))

	chunks := c.Chunk(domain.Source{File: "a.md", Text: text})
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if !strings.HasSuffix(chunks[0].Text(), "Short tail.") {
		t.Errorf("tail was dropped: %q", chunks[0].Text())
	}
	if len(chunks[0].Text()) > c.HardLimit() {
		t.Errorf("merged chunk %d exceeds %d", len(chunks[0].Text()), c.HardLimit())
	}
}

func TestChunk_WindowPrefersSentenceEnd(t *testing.T) {
	got := Split(body(3000), 1000, 0.1)
	if len(got) < 3 {
		t.Fatalf("got %d chunks, want at least 3", len(got))
	}
	for i, s := range got[:len(got)-1] {
		if !strings.HasSuffix(s, ".") {
			t.Errorf("chunk %d does not end on a sentence: %q", i, s[len(s)-20:])
		}
	}
}

func TestChunk_OverlapRepeatsText(t *testing.T) {
	got := Split(body(3000), 1000, 0.2)
	if len(got) < 2 {
		t.Fatalf("got %d chunks, want at least 2", len(got))
	}
	tail := got[0][len(got[0])-50:]
	if !strings.Contains(got[1], strings.TrimSpace(tail)) {
		t.Errorf("second window does not repeat the end of the first")
	}
}

func TestChunk_StableIDs(t *testing.T) {
	src := domain.Source{File: "a.md", Text: "## One\n\n" + body(800) + "\n\n## Two\n\n" + body(800)}
	c := New()
	first, second := c.Chunk(src), c.Chunk(src)
	if len(first) != len(second) {
		t.Fatalf("chunk count differs: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID() != second[i].ID() {
			t.Errorf("chunk %d: id changed between runs", i)
		}
	}
}

func TestChunk_RepeatedSectionsGetDistinctIDs(t *testing.T) {
	notes := "## Notes\n\n" + body(900)
	src := domain.Source{File: "a.md", Text: notes + "\n\n## Other\n\n" + body(700) + " Different.\n\n" + notes}
	c := New(WithMaxSize(1000))

	chunks := c.Chunk(src)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].Text() != chunks[2].Text() {
		t.Fatalf("repeated sections chunked differently")
	}
	seen := make(map[string]string)
	for _, ch := range chunks {
		if prev, dup := seen[ch.ID()]; dup {
			t.Fatalf("id %s shared by %q and %q", ch.ID(), prev, ch.SourceLocation())
		}
		seen[ch.ID()] = ch.SourceLocation()
	}
	if chunks[0].ID() != domain.ChunkID("a.md", chunks[0].Text(), 0) {
		t.Error("first occurrence must keep the plain content id")
	}

	again := c.Chunk(src)
	for i := range chunks {
		if again[i].ID() != chunks[i].ID() {
			t.Errorf("chunk %d: id changed between runs", i)
		}
	}
}

func TestChunk_SourceMetadataCopied(t *testing.T) {
	src := domain.Source{
		File:     "a.md",
		Location: "page 3",
		Text:     body(400),
		Metadata: map[string]string{"author": "kim"},
	}
	chunks := New().Chunk(src)
	if len(chunks) != 1 {
		t.Fatalf("got %d chunks, want 1", len(chunks))
	}
	if got := chunks[0].Metadata()["author"]; got != "kim" {
		t.Errorf("author = %q", got)
	}
	if !strings.HasPrefix(chunks[0].SourceLocation(), "page 3 bytes ") {
		t.Errorf("location = %q", chunks[0].SourceLocation())
	}
	if _, ok := src.Metadata[MetaChunkIndex]; ok {
		t.Error("source metadata was mutated")
	}
}

func TestWithOverlapRatio_Clamped(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{-1, 0},
		{0.2, 0.2},
		{0.9, maxOverlapRatio - 0.01},
	}
	for _, tt := range tests {
		c := New(WithOverlapRatio(tt.in))
		if c.overlapRatio != tt.want {
			t.Errorf("WithOverlapRatio(%v) = %v, want %v", tt.in, c.overlapRatio, tt.want)
		}
	}
}

var vocabulary = strings.Fields(
	"retrieval vector chunk embedding index query document section answer context " +
		"model store payload metric score filter batch window overlap heading",
)

// randomDocument builds markdown-ish text with headings, short and long paragraphs.
func randomDocument(r *rand.Rand) string {
	sentenceOf := func() string {
		n := 5 + r.IntN(10)
		words := make([]string, n)
		for i := range words {
			words[i] = vocabulary[r.IntN(len(vocabulary))]
		}
		return strings.Join(words, " ") + ". "
	}
	paragraph := func(lo, hi int) string {
		var sb strings.Builder
		for range lo + r.IntN(hi-lo+1) {
			sb.WriteString(sentenceOf())
		}
		return strings.TrimSpace(sb.String())
	}

	var sb strings.Builder
	for s := range 1 + r.IntN(6) {
		if r.IntN(4) > 0 {
			fmt.Fprintf(&sb, "## Part %d\n\n", s)
		}
		for range 1 + r.IntN(5) {
			if r.IntN(5) == 0 {
				sb.WriteString(paragraph(20, 60))
			} else {
				sb.WriteString(paragraph(2, 8))
			}
			sb.WriteString("\n\n")
		}
	}
	return sb.String()
}

func TestChunk_RandomDocuments(t *testing.T) {
	r := rand.New(rand.NewPCG(42, 7))
	for _, maxSize := range []int{300, 600, 1000} {
		for run := range 40 {
			text := randomDocument(r)
			c := New(WithMaxSize(maxSize))
			pieces := c.spans(normalize(text))

			covered := make([]bool, len(text))
			for i, p := range pieces {
				if len(p.text) > c.HardLimit() {
					t.Fatalf("max=%d run=%d chunk %d: size %d exceeds %d",
						maxSize, run, i, len(p.text), c.HardLimit())
				}
				if len(p.text) < c.minSize {
					t.Fatalf("max=%d run=%d chunk %d: size %d below floor", maxSize, run, i, len(p.text))
				}
				for j := p.start; j < p.end; j++ {
					covered[j] = true
				}
			}

			total, hit := 0, 0
			for i, b := range []byte(text) {
				if b == ' ' || b == '\n' || b == '\t' {
					continue
				}
				total++
				if covered[i] {
					hit++
				}
			}
			if float64(hit) < 0.95*float64(total) {
				t.Errorf("max=%d run=%d: coverage %d/%d below 95%%", maxSize, run, hit, total)
			}
		}
	}
}

func TestInferType(t *testing.T) {
	tests := []struct {
		name string
		text string
		want domain.ChunkType
	}{
		{"code fence", "Run this:\n```go\nfmt.Println(1)\n```", domain.ChunkCode},
		{"tilde fence", "~~~\nls -la\n~~~", domain.ChunkCode},
		{"bullets", "- one\n- two\n- three", domain.ChunkList},
		{"numbered", "1. one\n2) two\nthree", domain.ChunkList},
		{"table", "| a | b |\n|---|---|\n| 1 | 2 |", domain.ChunkTable},
		{"markdown heading", "## Usage\n\nCall it.", domain.ChunkSection},
		{"bold term", "**Timeout:** seconds to wait", domain.ChunkSection},
		{"plain", "Just some prose here.", domain.ChunkParagraph},
		{"single pipe row", "| lonely row\nmore prose\nand more", domain.ChunkParagraph},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := inferType(tt.text); got != tt.want {
				t.Errorf("inferType = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSectionFor(t *testing.T) {
	hs := headings{{offset: 10, title: "A"}, {offset: 100, title: "B"}}
	tests := []struct {
		start, end int
		want       string
	}{
		{0, 5, ""},
		{0, 50, "A"},
		{10, 50, "A"},
		{150, 200, "B"},
	}
	for _, tt := range tests {
		if got := hs.sectionFor(tt.start, tt.end); got != tt.want {
			t.Errorf("sectionFor(%d, %d) = %q, want %q", tt.start, tt.end, got, tt.want)
		}
	}
}
