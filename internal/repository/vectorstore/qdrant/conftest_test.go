package qdrant

import (
	"context"

	"github.com/qdrant/go-client/qdrant"
)

// fakeClient records requests and returns scripted responses.
type fakeClient struct {
	created     []*qdrant.CreateCollection
	fieldIdx    []*qdrant.CreateFieldIndexCollection
	upserts     []*qdrant.UpsertPoints
	queries     []*qdrant.QueryPoints
	deletes     []*qdrant.DeletePoints
	deletedColl []string

	info   *qdrant.CollectionInfo
	points []*qdrant.ScoredPoint
	err    error
}

func (f *fakeClient) CreateCollection(_ context.Context, r *qdrant.CreateCollection) error {
	f.created = append(f.created, r)
	return f.err
}

func (f *fakeClient) DeleteCollection(_ context.Context, name string) error {
	f.deletedColl = append(f.deletedColl, name)
	return f.err
}

func (f *fakeClient) GetCollectionInfo(context.Context, string) (*qdrant.CollectionInfo, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func (f *fakeClient) CreateFieldIndex(
	_ context.Context, r *qdrant.CreateFieldIndexCollection,
) (*qdrant.UpdateResult, error) {
	f.fieldIdx = append(f.fieldIdx, r)
	return &qdrant.UpdateResult{}, f.err
}

func (f *fakeClient) Upsert(_ context.Context, r *qdrant.UpsertPoints) (*qdrant.UpdateResult, error) {
	f.upserts = append(f.upserts, r)
	return &qdrant.UpdateResult{}, f.err
}

func (f *fakeClient) Query(_ context.Context, r *qdrant.QueryPoints) ([]*qdrant.ScoredPoint, error) {
	f.queries = append(f.queries, r)
	if f.err != nil {
		return nil, f.err
	}
	return f.points, nil
}

func (f *fakeClient) Delete(_ context.Context, r *qdrant.DeletePoints) (*qdrant.UpdateResult, error) {
	f.deletes = append(f.deletes, r)
	return &qdrant.UpdateResult{}, f.err
}

func (f *fakeClient) HealthCheck(context.Context) (*qdrant.HealthCheckReply, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &qdrant.HealthCheckReply{Title: "qdrant", Version: "1.17.0"}, nil
}

func (f *fakeClient) Close() error { return nil }

func scored(score float32, payload map[string]any) *qdrant.ScoredPoint {
	return &qdrant.ScoredPoint{Score: score, Payload: qdrant.NewValueMap(payload)}
}
