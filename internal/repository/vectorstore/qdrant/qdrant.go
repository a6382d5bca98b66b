// Package qdrant stores vectors in Qdrant over gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kailas-cloud/vecrag/internal/domain"
	"github.com/kailas-cloud/vecrag/internal/domain/filter"
	"github.com/kailas-cloud/vecrag/internal/repository/vectorstore"
)

var _ vectorstore.Backend = (*Backend)(nil)

// DefaultPort is the Qdrant gRPC port.
const DefaultPort = 6334

// pointNamespace derives point UUIDs from chunk ids.
var pointNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/kailas-cloud/vecrag/points"))

// indexedKeys get a keyword payload index at collection creation.
var indexedKeys = []string{domain.MetaSourceFile, domain.MetaChunkType, domain.MetaChunkID, domain.MetaSourceRevision}

// client is the subset of *qdrant.Client used here.
//
//nolint:interfacebloat // mirrors the collection lifecycle
type client interface {
	CreateCollection(ctx context.Context, request *qdrant.CreateCollection) error
	DeleteCollection(ctx context.Context, collectionName string) error
	GetCollectionInfo(ctx context.Context, collectionName string) (*qdrant.CollectionInfo, error)
	CreateFieldIndex(ctx context.Context, request *qdrant.CreateFieldIndexCollection) (*qdrant.UpdateResult, error)
	Upsert(ctx context.Context, request *qdrant.UpsertPoints) (*qdrant.UpdateResult, error)
	Query(ctx context.Context, request *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error)
	Delete(ctx context.Context, request *qdrant.DeletePoints) (*qdrant.UpdateResult, error)
	HealthCheck(ctx context.Context) (*qdrant.HealthCheckReply, error)
	Close() error
}

// Config holds Qdrant connection settings.
type Config struct {
	Host   string
	Port   int
	APIKey string
	UseTLS bool
}

// Backend implements vectorstore.Backend over a Qdrant client.
type Backend struct {
	client client
}

// New connects to Qdrant.
func New(cfg Config) (*Backend, error) {
	if cfg.Host == "" {
		return nil, errors.New("qdrant host is required")
	}
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	c, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &Backend{client: c}, nil
}

// Name implements vectorstore.Backend.
func (b *Backend) Name() string { return "qdrant" }

// PointID maps a chunk id onto the UUID Qdrant stores it under.
func PointID(chunkID string) string {
	return uuid.NewSHA1(pointNamespace, []byte(chunkID)).String()
}

// CreateCollection creates the collection and keyword indexes for the reserved payload keys.
func (b *Backend) CreateCollection(ctx context.Context, name string, dims int, distance domain.DistanceMetric) error {
	err := b.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     uint64(dims), //nolint:gosec // validated positive by the caller
			Distance: toQdrantDistance(distance),
		}),
	})
	if err != nil {
		return mapErr("create collection", err)
	}

	for _, key := range indexedKeys {
		_, err := b.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: name,
			Wait:           qdrant.PtrOf(true),
			FieldName:      key,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return mapErr("create field index "+key, err)
		}
	}
	return nil
}

// DeleteCollection implements vectorstore.Backend.
func (b *Backend) DeleteCollection(ctx context.Context, name string) error {
	if err := b.client.DeleteCollection(ctx, name); err != nil {
		return mapErr("delete collection", err)
	}
	return nil
}

// CollectionInfo implements vectorstore.Backend.
func (b *Backend) CollectionInfo(ctx context.Context, name string) (domain.CollectionInfo, error) {
	info, err := b.client.GetCollectionInfo(ctx, name)
	if err != nil {
		return domain.CollectionInfo{}, mapErr("collection info", err)
	}

	params := info.GetConfig().GetParams().GetVectorsConfig().GetParams()
	if params == nil {
		return domain.CollectionInfo{}, fmt.Errorf("collection %s: named vectors are not supported", name)
	}
	return domain.CollectionInfo{
		Name:        name,
		Dimensions:  int(params.GetSize()), //nolint:gosec // vector sizes fit in int
		Distance:    fromQdrantDistance(params.GetDistance()),
		PointsCount: int(info.GetPointsCount()), //nolint:gosec // point counts fit in int
		Status:      strings.ToLower(info.GetStatus().String()),
	}, nil
}

// Upsert writes points keyed by PointID(chunk id) and waits for them to be applied.
func (b *Backend) Upsert(ctx context.Context, name string, vectors []domain.EmbeddingVector) error {
	points := make([]*qdrant.PointStruct, len(vectors))
	for i, v := range vectors {
		payload := make(map[string]any, len(v.Metadata)+2)
		for k, val := range v.Metadata {
			payload[k] = val
		}
		payload[domain.MetaChunkID] = v.ChunkID
		payload[domain.MetaText] = v.Text

		points[i] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(v.ID)),
			Vectors: qdrant.NewVectors(v.Vector...),
			Payload: qdrant.NewValueMap(payload),
		}
	}

	_, err := b.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         points,
	})
	if err != nil {
		return mapErr("upsert", err)
	}
	return nil
}

// Search implements vectorstore.Backend.
func (b *Backend) Search(ctx context.Context, name string, q vectorstore.SearchQuery) ([]domain.RetrievalResult, error) {
	limit := uint64(q.Limit) //nolint:gosec // validated positive by the caller
	req := &qdrant.QueryPoints{
		CollectionName: name,
		Query:          qdrant.NewQuery(q.Vector...),
		Limit:          &limit,
		Filter:         toQdrantFilter(q.Filter),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	// Euclid scores are distances; the threshold is applied after conversion.
	if q.Distance != domain.DistanceEuclid && q.ScoreThreshold > 0 {
		threshold := float32(q.ScoreThreshold)
		req.ScoreThreshold = &threshold
	}

	points, err := b.client.Query(ctx, req)
	if err != nil {
		return nil, mapErr("query", err)
	}

	out := make([]domain.RetrievalResult, 0, len(points))
	for _, p := range points {
		score := float64(p.GetScore())
		if q.Distance == domain.DistanceEuclid {
			score = 1 / (1 + score)
		}
		out = append(out, domain.ResultFromPayload(payloadStrings(p.GetPayload()), score))
	}
	return out, nil
}

// DeleteByFilter implements vectorstore.Backend.
func (b *Backend) DeleteByFilter(ctx context.Context, name string, f filter.Expression) error {
	_, err := b.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: name,
		Wait:           qdrant.PtrOf(true),
		Points:         qdrant.NewPointsSelectorFilter(toQdrantFilter(f)),
	})
	if err != nil {
		return mapErr("delete points", err)
	}
	return nil
}

// Ping implements vectorstore.Backend.
func (b *Backend) Ping(ctx context.Context) error {
	if _, err := b.client.HealthCheck(ctx); err != nil {
		return mapErr("health check", err)
	}
	return nil
}

// Close implements vectorstore.Backend.
func (b *Backend) Close() error {
	return b.client.Close()
}

// mapErr classifies gRPC failures: Unavailable and DeadlineExceeded mean the
// store cannot be reached, NotFound means the collection does not exist.
func mapErr(op string, err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded:
		return fmt.Errorf("qdrant %s: %w: %w", op, domain.ErrStoreUnavailable, err)
	case codes.NotFound:
		return fmt.Errorf("qdrant %s: %w: %w", op, domain.ErrCollectionNotFound, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("qdrant %s: %w: %w", op, domain.ErrStoreUnavailable, err)
	}
	return fmt.Errorf("qdrant %s: %w", op, err)
}

func toQdrantDistance(d domain.DistanceMetric) qdrant.Distance {
	switch d {
	case domain.DistanceDot:
		return qdrant.Distance_Dot
	case domain.DistanceEuclid:
		return qdrant.Distance_Euclid
	default:
		return qdrant.Distance_Cosine
	}
}

func fromQdrantDistance(d qdrant.Distance) domain.DistanceMetric {
	switch d {
	case qdrant.Distance_Dot:
		return domain.DistanceDot
	case qdrant.Distance_Euclid:
		return domain.DistanceEuclid
	default:
		return domain.DistanceCosine
	}
}

// toQdrantFilter translates a filter expression; the empty expression yields nil.
func toQdrantFilter(e filter.Expression) *qdrant.Filter {
	if e.IsEmpty() {
		return nil
	}
	return &qdrant.Filter{
		Must:    toConditions(e.Must()),
		Should:  toConditions(e.Should()),
		MustNot: toConditions(e.MustNot()),
	}
}

func toConditions(cs []filter.Condition) []*qdrant.Condition {
	if len(cs) == 0 {
		return nil
	}
	out := make([]*qdrant.Condition, 0, len(cs))
	for _, c := range cs {
		if c.IsMatch() {
			out = append(out, qdrant.NewMatch(c.Key(), c.Match()))
			continue
		}
		if r := c.Range(); r != nil {
			out = append(out, qdrant.NewRange(c.Key(), &qdrant.Range{
				Gt:  r.GT(),
				Gte: r.GTE(),
				Lt:  r.LT(),
				Lte: r.LTE(),
			}))
		}
	}
	return out
}

// payloadStrings flattens a Qdrant payload into string metadata.
func payloadStrings(p map[string]*qdrant.Value) map[string]string {
	out := make(map[string]string, len(p))
	for k, v := range p {
		switch kind := v.GetKind().(type) {
		case *qdrant.Value_StringValue:
			out[k] = kind.StringValue
		case *qdrant.Value_IntegerValue:
			out[k] = strconv.FormatInt(kind.IntegerValue, 10)
		case *qdrant.Value_DoubleValue:
			out[k] = strconv.FormatFloat(kind.DoubleValue, 'g', -1, 64)
		case *qdrant.Value_BoolValue:
			out[k] = strconv.FormatBool(kind.BoolValue)
		}
	}
	return out
}
