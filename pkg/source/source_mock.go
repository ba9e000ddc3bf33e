package source

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// MockReader is a hand-written fake of Reader for tests that need
// partition bounds or point lookups without a live Mongo connection,
// mirroring block/spirit's MockChunker in pkg/table. StreamShard is
// not faked: it returns ErrStreamShardUnsupported, so row streaming is
// only exercised against a real collection.
type MockReader struct {
	Bounds             []Bound
	BoundsErr          error
	Docs               map[string]bson.M
	FindByIDErr        error
	SampleIDs          []string
	SampleErr          error
	PartitionFieldSeen string
	BatchSizeSeen      int
}

var _ Reader = (*MockReader)(nil)

// ErrStreamShardUnsupported is returned by MockReader.StreamShard.
var ErrStreamShardUnsupported = fmt.Errorf("MockReader does not support StreamShard")

func NewMockReader() *MockReader {
	return &MockReader{Docs: make(map[string]bson.M)}
}

func (m *MockReader) SetPartitionField(field string) { m.PartitionFieldSeen = field }
func (m *MockReader) SetBatchSize(n int)             { m.BatchSizeSeen = n }

func (m *MockReader) PartitionBounds(_ context.Context, numShards int) ([]Bound, error) {
	if m.BoundsErr != nil {
		return nil, m.BoundsErr
	}
	if m.Bounds != nil {
		return m.Bounds, nil
	}
	bounds := make([]Bound, numShards)
	for i := range bounds {
		bounds[i] = Bound{}
	}
	return bounds, nil
}

func (m *MockReader) StreamShard(_ context.Context, _ Bound) (DocumentCursor, error) {
	return nil, ErrStreamShardUnsupported
}

func (m *MockReader) FindByID(_ context.Context, id string) (bson.M, error) {
	if m.FindByIDErr != nil {
		return nil, m.FindByIDErr
	}
	doc, ok := m.Docs[id]
	if !ok {
		return nil, fmt.Errorf("no document for id %q", id)
	}
	return doc, nil
}

func (m *MockReader) SamplePrimaryKeys(_ context.Context, n int) ([]string, error) {
	if m.SampleErr != nil {
		return nil, m.SampleErr
	}
	if n >= 0 && n < len(m.SampleIDs) {
		return m.SampleIDs[:n], nil
	}
	return m.SampleIDs, nil
}

func (m *MockReader) Close(_ context.Context) error { return nil }
