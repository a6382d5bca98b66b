package vecrag

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"testing"
)

// wordEmbedder hashes words into buckets so texts sharing words score higher.
type wordEmbedder struct {
	dims    int
	queries atomic.Int32
	fail    error
}

func (e *wordEmbedder) Dimensions() int { return e.dims }

func (e *wordEmbedder) Embed(_ context.Context, texts []string, query bool) ([][]float32, error) {
	if e.fail != nil {
		return nil, e.fail
	}
	if query {
		e.queries.Add(1)
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, e.dims)
		for _, w := range strings.Fields(strings.ToLower(text)) {
			w = strings.Trim(w, ".,:;!?#")
			if len(w) < 4 {
				continue
			}
			h := fnv.New32a()
			_, _ = h.Write([]byte(w))
			v[h.Sum32()%uint32(e.dims)]++
		}
		v[0] += 0.01
		out[i] = v
	}
	return out, nil
}

func newTestClient(t *testing.T, e Embedder, opts ...Option) *Client {
	t.Helper()
	opts = append([]Option{WithEmbedder("cohere", "words", e), WithMemoryStore(), WithCollection("kb")}, opts...)
	c, err := New(context.Background(), opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(c.Close)
	return c
}

func TestNew_Requirements(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"no provider", []Option{WithMemoryStore()}},
		{"no store", []Option{WithEmbedder("cohere", "words", &wordEmbedder{dims: 8})}},
		{"unknown kind", []Option{WithEmbedder("nebius", "words", &wordEmbedder{dims: 8}), WithMemoryStore()}},
		{"bad collection", []Option{WithEmbedder("cohere", "words", &wordEmbedder{dims: 8}), WithMemoryStore(), WithCollection("a b")}},
		{"missing config file", []Option{WithConfigFile("/does/not/exist.yaml")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(context.Background(), tt.opts...); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestClient_IngestRetrieve(t *testing.T) {
	emb := &wordEmbedder{dims: 32}
	c := newTestClient(t, emb)
	ctx := context.Background()

	results := c.Ingest(ctx,
		Document{
			SourceFile: "deploy.md",
			Text:       "## Deploying\n\nDeploying the service requires building the container image and rolling it out gradually.",
			Metadata:   map[string]string{"team": "platform"},
		},
		Document{
			SourceFile: "holidays.md",
			Text:       "## Holidays\n\nEmployees receive twenty vacation days each calendar year plus public holidays.",
			Metadata:   map[string]string{"team": "people"},
		},
		Document{Text: "no source file"},
	)
	if len(results) != 3 {
		t.Fatalf("results = %d", len(results))
	}
	for _, r := range results[:2] {
		if r.Status != IngestOK || r.Stored == 0 {
			t.Errorf("%s: %+v", r.SourceFile, r)
		}
	}
	if results[2].Status != IngestError || !errors.Is(results[2].Err, ErrEmptyInput) {
		t.Errorf("missing source: %+v", results[2])
	}

	got, err := c.Retrieve(ctx, "deploying container image", &RetrieveOptions{MaxResults: 1})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 1 || got[0].SourceFile != "deploy.md" || got[0].MatchedVia != "query" {
		t.Fatalf("got = %+v", got)
	}
	if got[0].Metadata["team"] != "platform" || got[0].Collection != "kb" {
		t.Errorf("result = %+v", got[0])
	}

	got, err = c.Retrieve(ctx, "deploying container image", &RetrieveOptions{Match: map[string]string{"team": "people"}})
	if err != nil {
		t.Fatalf("Retrieve with match: %v", err)
	}
	for _, r := range got {
		if r.SourceFile != "holidays.md" {
			t.Errorf("filter leaked %s", r.SourceFile)
		}
	}

	if _, err := c.Retrieve(ctx, "   ", nil); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("blank query err = %v", err)
	}
	if emb.queries.Load() == 0 {
		t.Error("queries were not embedded as queries")
	}
}

func TestClient_ContextMerge(t *testing.T) {
	c := newTestClient(t, &wordEmbedder{dims: 32})
	ctx := context.Background()
	c.Ingest(ctx,
		Document{SourceFile: "a.md", Text: "Rotating credentials monthly keeps leaked secrets short lived and limits exposure."},
		Document{SourceFile: "b.md", Text: "Quarterly planning collects roadmap proposals from every engineering squad."},
	)

	got, err := c.Retrieve(ctx, "rotating credentials", &RetrieveOptions{
		Context:    []string{"quarterly planning roadmap proposals"},
		MaxResults: 4,
	})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	seen := map[string]string{}
	for _, r := range got {
		if prev, dup := seen[r.ChunkID]; dup {
			t.Fatalf("chunk %s returned twice (%s)", r.ChunkID, prev)
		}
		seen[r.ChunkID] = r.MatchedVia
	}
	for i := 1; i < len(got); i++ {
		if got[i].Score > got[i-1].Score {
			t.Errorf("results not sorted by score: %v > %v", got[i].Score, got[i-1].Score)
		}
	}
}

func TestClient_ReingestReplacesAndRemove(t *testing.T) {
	c := newTestClient(t, &wordEmbedder{dims: 32})
	ctx := context.Background()

	first := "Version one of the onboarding checklist covers laptops, accounts and badges."
	second := "Version two of the onboarding checklist adds mentoring sessions and security training."
	c.Ingest(ctx, Document{SourceFile: "onboarding.md", Text: first})
	c.Ingest(ctx, Document{SourceFile: "onboarding.md", Text: second})

	got, err := c.Retrieve(ctx, "onboarding checklist", &RetrieveOptions{MaxResults: 10})
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	for _, r := range got {
		if strings.Contains(r.Text, "Version one") {
			t.Errorf("stale chunk survived re-ingest: %q", r.Text)
		}
	}

	if err := c.Remove(ctx, "onboarding.md"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	got, err = c.Retrieve(ctx, "onboarding checklist", nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("results after remove = %+v", got)
	}
}

func TestClient_FallbackProvider(t *testing.T) {
	broken := &wordEmbedder{dims: 16, fail: fmt.Errorf("model offline: %w", ErrProviderUnavailable)}
	backup := &wordEmbedder{dims: 24}
	c := newTestClient(t, broken, WithEmbedder("jina", "words-backup", backup), WithRetry(1))
	ctx := context.Background()

	res := c.Ingest(ctx, Document{SourceFile: "faq.md", Text: "Support answers tickets within one business day for paying customers."})
	if res[0].Status != IngestOK {
		t.Fatalf("ingest = %+v", res[0])
	}

	got, err := c.Retrieve(ctx, "support tickets", nil)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) == 0 || got[0].Collection != "kb__jina" {
		t.Errorf("got = %+v", got)
	}
}

func TestClient_FallbackRefused(t *testing.T) {
	broken := &wordEmbedder{dims: 16, fail: fmt.Errorf("model offline: %w", ErrProviderUnavailable)}
	c := newTestClient(t, broken, WithEmbedder("jina", "words-backup", &wordEmbedder{dims: 24}), WithoutFallback(), WithRetry(1))

	res := c.Ingest(context.Background(), Document{SourceFile: "faq.md", Text: "Support answers tickets within one business day for paying customers."})
	if res[0].Status != IngestError || !errors.Is(res[0].Err, ErrFallbackRefused) {
		t.Errorf("ingest = %+v", res[0])
	}
}

func TestClient_PermanentErrorDoesNotFallBack(t *testing.T) {
	broken := &wordEmbedder{dims: 16, fail: errors.New("bad model name")}
	c := newTestClient(t, broken, WithEmbedder("jina", "words-backup", &wordEmbedder{dims: 24}))

	res := c.Ingest(context.Background(), Document{SourceFile: "faq.md", Text: "Support answers tickets within one business day for paying customers."})
	if res[0].Status != IngestError || !errors.Is(res[0].Err, ErrEmbeddingProvider) {
		t.Errorf("ingest = %+v", res[0])
	}
	if errors.Is(res[0].Err, ErrFallbackRefused) {
		t.Error("permanent failure reported as refused fallback")
	}
}

func TestClient_Healthy(t *testing.T) {
	c := newTestClient(t, &wordEmbedder{dims: 8})
	ok, checks := c.Healthy(context.Background())
	if !ok {
		t.Errorf("not healthy: %v", checks)
	}
	if len(checks) == 0 {
		t.Error("no component checks reported")
	}
}
