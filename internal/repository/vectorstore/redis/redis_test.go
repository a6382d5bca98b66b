package redis

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"

	"github.com/kailas-cloud/vecrag/internal/db"
	redisdb "github.com/kailas-cloud/vecrag/internal/db/redis"
	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore"
)

var errDown = &db.Error{Op: db.OpHSet, Err: fmt.Errorf("%w: dial tcp: connection refused", db.ErrUnavailable)}

func TestCreateCollection(t *testing.T) {
	var meta map[string]string
	var def *db.IndexDefinition
	m := &mockStore{
		hsetFn: func(_ context.Context, key string, fields map[string]string) error {
			if key != "vecrag:docs" {
				t.Errorf("meta key = %q", key)
			}
			meta = fields
			return nil
		},
		createIndexFn: func(_ context.Context, d *db.IndexDefinition) error {
			def = d
			return nil
		},
	}

	if err := New(m, "").CreateCollection(context.Background(), "docs", 1024, domain.DistanceDot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta["dimensions"] != "1024" || meta["distance"] != "dot" {
		t.Errorf("meta = %v", meta)
	}
	if def.Name != "vecrag:idx:docs" || !slices.Equal(def.Prefixes, []string{"vecrag:docs:"}) {
		t.Errorf("index = %s prefixes %v", def.Name, def.Prefixes)
	}
	vector := def.Fields[len(def.Fields)-1]
	if vector.Type != db.IndexFieldVector || vector.VectorDim != 1024 || vector.VectorDistance != db.DistanceIP {
		t.Errorf("vector field = %+v", vector)
	}
	if vector.VectorAlgo != db.VectorHNSW {
		t.Errorf("algo = %s", vector.VectorAlgo)
	}
}

func TestCreateCollection_FlatIndex(t *testing.T) {
	var def *db.IndexDefinition
	m := &mockStore{createIndexFn: func(_ context.Context, d *db.IndexDefinition) error {
		def = d
		return nil
	}}

	if err := New(m, "", WithFlatIndex()).CreateCollection(context.Background(), "docs", 64, domain.DistanceCosine); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	vector := def.Fields[len(def.Fields)-1]
	if vector.VectorAlgo != db.VectorFlat || vector.VectorDim != 64 || vector.VectorDistance != db.DistanceCosine {
		t.Errorf("vector field = %+v", vector)
	}
}

func TestCreateCollection_RollsBackMeta(t *testing.T) {
	boom := errors.New("ERR unknown argument")
	m := &mockStore{createIndexFn: func(context.Context, *db.IndexDefinition) error { return boom }}

	err := New(m, "").CreateCollection(context.Background(), "docs", 8, domain.DistanceCosine)
	if !errors.Is(err, boom) {
		t.Fatalf("expected index error, got %v", err)
	}
	if len(m.deleted) != 1 || m.deleted[0][0] != "vecrag:docs" {
		t.Errorf("meta key not removed: %v", m.deleted)
	}
}

func TestCreateCollection_ExistingIndex(t *testing.T) {
	m := &mockStore{createIndexFn: func(context.Context, *db.IndexDefinition) error { return db.ErrIndexExists }}
	if err := New(m, "").CreateCollection(context.Background(), "docs", 8, domain.DistanceCosine); err != nil {
		t.Fatalf("existing index should be accepted, got %v", err)
	}
}

func TestCreateCollection_InvalidName(t *testing.T) {
	for _, name := range []string{"", "a:b", "docs v2", "ünicode"} {
		if err := New(&mockStore{}, "").CreateCollection(context.Background(), name, 8, ""); err == nil {
			t.Errorf("name %q should be rejected", name)
		}
	}
}

func TestDeleteCollection(t *testing.T) {
	t.Run("drops index and meta", func(t *testing.T) {
		var dropped string
		m := &mockStore{
			dropIndexFn: func(_ context.Context, name string) error { dropped = name; return nil },
			hgetallFn:   metaOf("8", "cosine"),
		}
		if err := New(m, "").DeleteCollection(context.Background(), "docs"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if dropped != "vecrag:idx:docs" || len(m.deleted) != 1 {
			t.Errorf("dropped=%q deleted=%v", dropped, m.deleted)
		}
	})

	t.Run("missing", func(t *testing.T) {
		m := &mockStore{dropIndexFn: func(context.Context, string) error { return db.ErrIndexNotFound }}
		err := New(m, "").DeleteCollection(context.Background(), "docs")
		if !errors.Is(err, domain.ErrCollectionNotFound) {
			t.Fatalf("expected ErrCollectionNotFound, got %v", err)
		}
	})
}

func TestCollectionInfo(t *testing.T) {
	m := &mockStore{
		hgetallFn: metaOf("384", "euclid"),
		searchCountFn: func(_ context.Context, index, query string) (int, error) {
			if index != "app:idx:docs" || query != "*" {
				t.Errorf("count %s %s", index, query)
			}
			return 42, nil
		},
	}
	info, err := New(m, "app:").CollectionInfo(context.Background(), "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := domain.CollectionInfo{
		Name: "docs", Dimensions: 384, Distance: domain.DistanceEuclid, PointsCount: 42, Status: "ready",
	}
	if info != want {
		t.Errorf("info = %+v, want %+v", info, want)
	}
}

func TestCollectionInfo_Errors(t *testing.T) {
	tests := []struct {
		name    string
		m       *mockStore
		wantErr error
	}{
		{"missing", &mockStore{}, domain.ErrCollectionNotFound},
		{"unavailable", &mockStore{hgetallFn: func(context.Context, string) (map[string]string, error) {
			return nil, errDown
		}}, domain.ErrStoreUnavailable},
		{"index gone", &mockStore{
			hgetallFn:     metaOf("8", "cosine"),
			searchCountFn: func(context.Context, string, string) (int, error) { return 0, db.ErrIndexNotFound },
		}, domain.ErrCollectionNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.m, "").CollectionInfo(context.Background(), "docs")
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestUpsert(t *testing.T) {
	var items []db.HashSetItem
	m := &mockStore{hsetMultiFn: func(_ context.Context, in []db.HashSetItem) error {
		items = in
		return nil
	}}

	c := domain.NewChunk("a.md", "bytes 0-5", "hello", domain.ChunkParagraph, map[string]string{"section": "Intro"})
	v := domain.NewEmbeddingVector(c, []float32{1, 2}, domain.Binding{Kind: domain.ProviderJina, Model: "jina-v3"})

	if err := New(m, "").Upsert(context.Background(), "docs", []domain.EmbeddingVector{v}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items", len(items))
	}
	got := items[0]
	if got.Key != "vecrag:docs:"+c.ID() {
		t.Errorf("key = %q", got.Key)
	}
	checks := map[string]string{
		"chunk_id":    c.ID(),
		"text":        "hello",
		"source_file": "a.md",
		"section":     "Intro",
		"provider":    "jina",
		"model":       "jina-v3",
		"vector":      redisdb.VectorToBytes([]float32{1, 2}),
	}
	for k, want := range checks {
		if got.Fields[k] != want {
			t.Errorf("field %s = %q, want %q", k, got.Fields[k], want)
		}
	}
}

func TestUpsert_Unavailable(t *testing.T) {
	m := &mockStore{hsetMultiFn: func(context.Context, []db.HashSetItem) error { return errDown }}
	c := domain.NewChunk("a.md", "", "hello", domain.ChunkParagraph, nil)
	v := domain.NewEmbeddingVector(c, []float32{1}, domain.Binding{})

	err := New(m, "").Upsert(context.Background(), "docs", []domain.EmbeddingVector{v})
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestSearch(t *testing.T) {
	var query *db.KNNQuery
	m := &mockStore{searchKNNFn: func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		query = q
		return &db.SearchResult{Total: 1, Entries: []db.SearchEntry{{
			Key:   "vecrag:docs:abc",
			Score: 0.92,
			Fields: map[string]string{
				"chunk_id":    "abc",
				"text":        "hello",
				"source_file": "a.md",
				"chunk_type":  "paragraph",
				"vector":      "\x00\x00\x80?",
				"lang":        "en",
			},
		}}}, nil
	}}

	f, _ := filter.Equals(map[string]string{"source_file": "a.md"})
	got, err := New(m, "").Search(context.Background(), "docs", vectorstore.SearchQuery{
		Vector: []float32{1}, Limit: 5, Filter: f, Distance: domain.DistanceEuclid,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if query.IndexName != "vecrag:idx:docs" || query.K != 5 || query.Distance != db.DistanceL2 {
		t.Errorf("query = %+v", query)
	}
	if len(got) != 1 {
		t.Fatalf("got %d results", len(got))
	}
	r := got[0]
	if r.ChunkID != "abc" || r.Text != "hello" || r.SourceFile != "a.md" || r.Score != 0.92 {
		t.Errorf("result = %+v", r)
	}
	if _, ok := r.Metadata["vector"]; ok {
		t.Error("raw vector leaked into metadata")
	}
	if r.Metadata["lang"] != "en" {
		t.Errorf("metadata = %v", r.Metadata)
	}
}

func TestSearch_Errors(t *testing.T) {
	unindexed, _ := filter.Equals(map[string]string{"author": "kim"})
	tests := []struct {
		name    string
		m       *mockStore
		q       vectorstore.SearchQuery
		wantErr error
	}{
		{
			name: "unindexed filter",
			m:    &mockStore{},
			q:    vectorstore.SearchQuery{Vector: []float32{1}, Limit: 1, Filter: unindexed},
		},
		{
			name: "unavailable",
			m: &mockStore{searchKNNFn: func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
				return nil, errDown
			}},
			q:       vectorstore.SearchQuery{Vector: []float32{1}, Limit: 1},
			wantErr: domain.ErrStoreUnavailable,
		},
		{
			name: "missing index",
			m: &mockStore{searchKNNFn: func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
				return nil, db.ErrIndexNotFound
			}},
			q:       vectorstore.SearchQuery{Vector: []float32{1}, Limit: 1},
			wantErr: domain.ErrCollectionNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.m, "").Search(context.Background(), "docs", tt.q)
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDeleteByFilter_Pages(t *testing.T) {
	pages := [][]db.SearchEntry{
		make([]db.SearchEntry, deletePage),
		{{Key: "vecrag:docs:last"}},
	}
	for i := range pages[0] {
		pages[0][i].Key = fmt.Sprintf("vecrag:docs:%d", i)
	}

	var queries []string
	m := &mockStore{searchListFn: func(_ context.Context, index, query string, offset, limit int) (*db.SearchResult, error) {
		if index != "vecrag:idx:docs" || offset != 0 || limit != deletePage {
			t.Errorf("list %s %d %d", index, offset, limit)
		}
		queries = append(queries, query)
		page := pages[0]
		pages = pages[1:]
		return &db.SearchResult{Total: len(page), Entries: page}, nil
	}}

	f, _ := filter.Equals(map[string]string{"source_file": "a.md"})
	if err := New(m, "").DeleteByFilter(context.Background(), "docs", f); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(queries) != 2 || queries[0] != `@source_file:{a\.md}` {
		t.Errorf("queries = %v", queries)
	}
	if len(m.deleted) != 2 || len(m.deleted[0]) != deletePage || m.deleted[1][0] != "vecrag:docs:last" {
		t.Errorf("deleted batches = %d", len(m.deleted))
	}
}

func TestPingAndClose(t *testing.T) {
	m := &mockStore{pingFn: func(context.Context) error {
		return &db.Error{Op: db.OpPing, Err: fmt.Errorf("%w: closed", db.ErrUnavailable)}
	}}
	b := New(m, "")
	if err := b.Ping(context.Background()); !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Errorf("ping: %v", err)
	}
	if err := b.Close(); err != nil || !m.closed {
		t.Errorf("close: %v closed=%v", err, m.closed)
	}
}

func TestBackendThroughStore_SkipsWhenDown(t *testing.T) {
	m := &mockStore{
		hgetallFn:   metaOf("1", "cosine"),
		hsetMultiFn: func(context.Context, []db.HashSetItem) error { return errDown },
	}
	s := vectorstore.New(New(m, ""), vectorstore.WithBatchDelay(0))

	c := domain.NewChunk("a.md", "", "hello", domain.ChunkParagraph, nil)
	v := domain.NewEmbeddingVector(c, []float32{1}, domain.Binding{})
	report, err := s.Upsert(context.Background(), "docs", []domain.EmbeddingVector{v})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report.Skipped != 1 {
		t.Errorf("report = %+v", report)
	}
}
