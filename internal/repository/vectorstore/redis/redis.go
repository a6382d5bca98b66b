// Package redis stores collections as hashes behind one FT vector index each.
// Works with Redis 8+ and Valkey with the search module.
package redis

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/kailas-cloud/vecrag/internal/db"
	redisdb "github.com/kailas-cloud/vecrag/internal/db/redis"
	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore"
)

var _ vectorstore.Backend = (*Backend)(nil)

// DefaultKeyPrefix namespaces every key the backend writes.
const DefaultKeyPrefix = "vecrag:"

const (
	vectorField    = "vector"
	metaDimensions = "dimensions"
	metaDistance   = "distance"

	hnswM           = 16
	hnswEfConstruct = 200

	deletePage = 1000
)

// Payload fields indexed for filtering. Anything else is stored but not searchable.
var (
	tagFields = []string{
		domain.MetaSourceFile, domain.MetaChunkType, domain.MetaChunkID,
		domain.MetaModel, domain.MetaProvider, domain.MetaSourceRevision, "section",
	}
	numericFields = []string{"chunk_index"}
)

var collectionName = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// store is the subset of db.Store the backend needs.
//
//nolint:interfacebloat // hash, index and search calls share one connection
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, keys ...string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	DropIndex(ctx context.Context, name string) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, index, query string, offset, limit int, fields []string) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
	Ping(ctx context.Context) error
	Close()
}

// Backend implements vectorstore.Backend over a Redis-compatible store.
type Backend struct {
	db     store
	prefix string
	flat   bool
}

// Option configures a Backend.
type Option func(*Backend)

// WithFlatIndex makes new collections use exact brute-force (FLAT) vector
// indexes instead of HNSW. Suited to small corpora where recall matters more
// than query latency.
func WithFlatIndex() Option {
	return func(b *Backend) { b.flat = true }
}

// New creates a backend. An empty prefix falls back to DefaultKeyPrefix.
func New(s store, keyPrefix string, opts ...Option) *Backend {
	if keyPrefix == "" {
		keyPrefix = DefaultKeyPrefix
	}
	b := &Backend{db: s, prefix: keyPrefix}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Name implements vectorstore.Backend.
func (b *Backend) Name() string { return "redis" }

// CreateCollection records the collection size and creates its vector index.
func (b *Backend) CreateCollection(ctx context.Context, name string, dims int, distance domain.DistanceMetric) error {
	if err := validateName(name); err != nil {
		return err
	}
	metric, err := toMetric(distance)
	if err != nil {
		return err
	}

	meta := map[string]string{
		metaDimensions: strconv.Itoa(dims),
		metaDistance:   string(distance),
	}
	if err := b.db.HSet(ctx, b.metaKey(name), meta); err != nil {
		return mapErr(err)
	}

	builder := db.NewIndex(b.indexName(name)).OnHash().Prefix(b.docPrefix(name))
	for _, f := range tagFields {
		builder = builder.Tag(f)
	}
	for _, f := range numericFields {
		builder = builder.Numeric(f)
	}
	if b.flat {
		builder = builder.VectorFlat(vectorField, dims, metric, 0)
	} else {
		builder = builder.VectorHNSW(vectorField, dims, metric, hnswM, hnswEfConstruct)
	}
	def, err := builder.Build()
	if err != nil {
		return errors.Join(fmt.Errorf("build index: %w", err), b.db.Del(ctx, b.metaKey(name)))
	}

	if err := b.db.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return errors.Join(mapErr(err), b.db.Del(ctx, b.metaKey(name)))
	}
	return nil
}

// DeleteCollection drops the index with its documents and the size record.
func (b *Backend) DeleteCollection(ctx context.Context, name string) error {
	dropErr := b.db.DropIndex(ctx, b.indexName(name))
	if dropErr != nil && !errors.Is(dropErr, db.ErrIndexNotFound) {
		return mapErr(dropErr)
	}

	_, metaErr := b.db.HGetAll(ctx, b.metaKey(name))
	switch {
	case metaErr == nil:
		if err := b.db.Del(ctx, b.metaKey(name)); err != nil {
			return mapErr(err)
		}
	case errors.Is(metaErr, db.ErrKeyNotFound):
		if dropErr != nil {
			return domain.ErrCollectionNotFound
		}
	default:
		return mapErr(metaErr)
	}
	return nil
}

// CollectionInfo reads the size record and counts indexed documents.
func (b *Backend) CollectionInfo(ctx context.Context, name string) (domain.CollectionInfo, error) {
	meta, err := b.db.HGetAll(ctx, b.metaKey(name))
	if err != nil {
		return domain.CollectionInfo{}, mapErr(err)
	}
	dims, err := strconv.Atoi(meta[metaDimensions])
	if err != nil {
		return domain.CollectionInfo{}, fmt.Errorf("collection %s: corrupt dimensions %q", name, meta[metaDimensions])
	}

	count, err := b.db.SearchCount(ctx, b.indexName(name), "*")
	if err != nil {
		return domain.CollectionInfo{}, mapErr(err)
	}

	return domain.CollectionInfo{
		Name:        name,
		Dimensions:  dims,
		Distance:    domain.DistanceMetric(meta[metaDistance]),
		PointsCount: count,
		Status:      "ready",
	}, nil
}

// Upsert writes one hash per vector in a single pipeline.
func (b *Backend) Upsert(ctx context.Context, name string, vectors []domain.EmbeddingVector) error {
	items := make([]db.HashSetItem, 0, len(vectors))
	for _, v := range vectors {
		fields := make(map[string]string, len(v.Metadata)+3)
		maps.Copy(fields, v.Metadata)
		fields[domain.MetaChunkID] = v.ChunkID
		fields[domain.MetaText] = v.Text
		fields[vectorField] = redisdb.VectorToBytes(v.Vector)
		items = append(items, db.HashSetItem{Key: b.docKey(name, v.ID), Fields: fields})
	}
	return mapErr(b.db.HSetMulti(ctx, items))
}

// Search runs a KNN query. Filters may only reference indexed fields.
func (b *Backend) Search(ctx context.Context, name string, q vectorstore.SearchQuery) ([]domain.RetrievalResult, error) {
	if err := checkFilter(q.Filter); err != nil {
		return nil, err
	}
	metric, err := toMetric(q.Distance)
	if err != nil {
		return nil, err
	}

	res, err := b.db.SearchKNN(ctx, &db.KNNQuery{
		IndexName: b.indexName(name),
		Filters:   q.Filter,
		Vector:    q.Vector,
		K:         q.Limit,
		Distance:  metric,
	})
	if err != nil {
		return nil, mapErr(err)
	}

	out := make([]domain.RetrievalResult, 0, len(res.Entries))
	for _, e := range res.Entries {
		delete(e.Fields, vectorField)
		r := domain.ResultFromPayload(e.Fields, e.Score)
		if r.ChunkID == "" {
			r.ChunkID = strings.TrimPrefix(e.Key, b.docPrefix(name))
		}
		out = append(out, r)
	}
	return out, nil
}

// DeleteByFilter removes matching documents page by page.
func (b *Backend) DeleteByFilter(ctx context.Context, name string, f filter.Expression) error {
	if err := checkFilter(f); err != nil {
		return err
	}
	query := redisdb.BuildFilter(f)
	for {
		res, err := b.db.SearchList(ctx, b.indexName(name), query, 0, deletePage, nil)
		if err != nil {
			return mapErr(err)
		}
		if len(res.Entries) == 0 {
			return nil
		}
		keys := make([]string, len(res.Entries))
		for i, e := range res.Entries {
			keys[i] = e.Key
		}
		if err := b.db.Del(ctx, keys...); err != nil {
			return mapErr(err)
		}
		if len(res.Entries) < deletePage {
			return nil
		}
	}
}

// Ping implements vectorstore.Backend.
func (b *Backend) Ping(ctx context.Context) error { return mapErr(b.db.Ping(ctx)) }

// Close implements vectorstore.Backend.
func (b *Backend) Close() error {
	b.db.Close()
	return nil
}

func (b *Backend) metaKey(name string) string    { return b.prefix + name }
func (b *Backend) indexName(name string) string  { return b.prefix + "idx:" + name }
func (b *Backend) docPrefix(name string) string  { return b.prefix + name + ":" }
func (b *Backend) docKey(name, id string) string { return b.docPrefix(name) + id }

func validateName(name string) error {
	if !collectionName.MatchString(name) {
		return fmt.Errorf("invalid collection name %q: use letters, digits, '_' or '-'", name)
	}
	return nil
}

func toMetric(d domain.DistanceMetric) (db.DistanceMetric, error) {
	switch d {
	case domain.DistanceCosine, "":
		return db.DistanceCosine, nil
	case domain.DistanceDot:
		return db.DistanceIP, nil
	case domain.DistanceEuclid:
		return db.DistanceL2, nil
	default:
		return "", fmt.Errorf("unsupported distance %q", d)
	}
}

// checkFilter rejects conditions on fields the index does not cover.
// FT.SEARCH would otherwise fail with a syntax error or silently match nothing.
func checkFilter(f filter.Expression) error {
	for _, group := range [][]filter.Condition{f.Must(), f.Should(), f.MustNot()} {
		for _, c := range group {
			switch {
			case c.IsMatch() && !slices.Contains(tagFields, c.Key()):
				return fmt.Errorf("filter on %q: field is not indexed", c.Key())
			case c.IsRange() && !slices.Contains(numericFields, c.Key()):
				return fmt.Errorf("range filter on %q: field is not a numeric index", c.Key())
			}
		}
	}
	return nil
}

// mapErr translates storage errors into domain errors.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, db.ErrUnavailable):
		return fmt.Errorf("%w: %w", domain.ErrStoreUnavailable, err)
	case errors.Is(err, db.ErrIndexNotFound), errors.Is(err, db.ErrKeyNotFound):
		return domain.ErrCollectionNotFound
	default:
		return err
	}
}
