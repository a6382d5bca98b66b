package memory

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore"
)

func vec(file, text string, v ...float32) domain.EmbeddingVector {
	c := domain.NewChunk(file, "bytes 0-10", text, domain.ChunkParagraph, map[string]string{"lang": "en"})
	return domain.NewEmbeddingVector(c, v, domain.Binding{Kind: domain.ProviderOpenAI, Model: "m", Collection: "docs"})
}

func newStore(t *testing.T) *vectorstore.Store {
	t.Helper()
	s := vectorstore.New(New(), vectorstore.WithBatchDelay(0))
	if err := s.CreateCollection(context.Background(), "docs", 2, domain.DistanceCosine, false); err != nil {
		t.Fatalf("create: %v", err)
	}
	return s
}

func TestUpsert_Idempotent(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	vectors := []domain.EmbeddingVector{vec("a.md", "alpha", 1, 0), vec("a.md", "beta", 0, 1)}

	for range 2 {
		report, err := s.Upsert(ctx, "docs", vectors)
		if err != nil {
			t.Fatalf("upsert: %v", err)
		}
		if report.Upserted != 2 {
			t.Errorf("upserted = %d", report.Upserted)
		}
	}

	info, err := s.CollectionInfo(ctx, "docs")
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.PointsCount != 2 {
		t.Errorf("points = %d, want 2 after re-ingesting the same chunks", info.PointsCount)
	}
}

func TestSearch_RanksAndHydrates(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, err := s.Upsert(ctx, "docs", []domain.EmbeddingVector{
		vec("a.md", "alpha", 1, 0),
		vec("a.md", "diagonal", 1, 1),
		vec("b.md", "beta", 0, 1),
	})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	got, err := s.Search(ctx, "docs", vectorstore.SearchQuery{Vector: []float32{1, 0}, Limit: 2})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d results, want 2", len(got))
	}
	if got[0].Text != "alpha" || got[1].Text != "diagonal" {
		t.Errorf("order = %q, %q", got[0].Text, got[1].Text)
	}
	if math.Abs(got[0].Score-1) > 1e-9 {
		t.Errorf("top score = %v, want 1", got[0].Score)
	}
	r := got[0]
	if r.ChunkID != domain.ChunkID("a.md", "alpha", 0) || r.SourceFile != "a.md" || r.Collection != "docs" {
		t.Errorf("result not hydrated: %+v", r)
	}
	if r.Metadata["lang"] != "en" {
		t.Errorf("metadata = %v", r.Metadata)
	}
}

func TestSearch_FilterAndThreshold(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, _ = s.Upsert(ctx, "docs", []domain.EmbeddingVector{
		vec("a.md", "alpha", 1, 0),
		vec("b.md", "beta", 1, 0.1),
		vec("b.md", "gamma", 0, 1),
	})

	f, err := filter.Equals(map[string]string{domain.MetaSourceFile: "b.md"})
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	got, err := s.Search(ctx, "docs", vectorstore.SearchQuery{
		Vector: []float32{1, 0}, Limit: 10, Filter: f, ScoreThreshold: 0.5,
	})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(got) != 1 || got[0].Text != "beta" {
		t.Errorf("got %+v, want only beta", got)
	}
}

func TestDeleteByFilter(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	_, _ = s.Upsert(ctx, "docs", []domain.EmbeddingVector{
		vec("a.md", "alpha", 1, 0),
		vec("b.md", "beta", 0, 1),
	})

	f, _ := filter.Equals(map[string]string{domain.MetaSourceFile: "a.md"})
	if err := s.DeleteByFilter(ctx, "docs", f); err != nil {
		t.Fatalf("delete: %v", err)
	}
	info, _ := s.CollectionInfo(ctx, "docs")
	if info.PointsCount != 1 {
		t.Errorf("points = %d, want 1", info.PointsCount)
	}
}

func TestMissingCollection(t *testing.T) {
	ctx := context.Background()
	b := New()
	if _, err := b.CollectionInfo(ctx, "nope"); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("info: %v", err)
	}
	if err := b.Upsert(ctx, "nope", nil); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("upsert: %v", err)
	}
	if err := b.DeleteCollection(ctx, "nope"); !errors.Is(err, domain.ErrCollectionNotFound) {
		t.Errorf("delete: %v", err)
	}
}

func TestSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		distance domain.DistanceMetric
		a, b     []float32
		want     float64
	}{
		{"cosine identical", domain.DistanceCosine, []float32{1, 2}, []float32{2, 4}, 1},
		{"cosine orthogonal", domain.DistanceCosine, []float32{1, 0}, []float32{0, 1}, 0},
		{"cosine zero vector", domain.DistanceCosine, []float32{0, 0}, []float32{0, 1}, 0},
		{"dot", domain.DistanceDot, []float32{1, 2}, []float32{3, 4}, 11},
		{"euclid same point", domain.DistanceEuclid, []float32{1, 1}, []float32{1, 1}, 1},
		{"euclid 3-4-5", domain.DistanceEuclid, []float32{0, 0}, []float32{3, 4}, 1.0 / 6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Similarity(tt.distance, tt.a, tt.b); math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("Similarity = %v, want %v", got, tt.want)
			}
		})
	}
}
