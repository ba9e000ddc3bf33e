// Package source wraps the MongoDB collection being migrated: it owns
// the partition-bound concept the migration driver delegates to the
// source connector, and streams documents for a shard's bounds to
// workers. Grounded on the pack's Mongo examples (flowcatalyst's
// change-stream watcher, percona-backup-mongodb) for driver/options
// usage, since block/spirit has no document-store source at all.
package source

import (
	"context"
	"fmt"
	"sort"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Bound is a closed-open range over the partition field, serialized as
// the opaque strings persisted as lower_bound/upper_bound. Encoding is
// via ObjectID hex or a string form of the partition field's value.
type Bound struct {
	Lower string // inclusive
	Upper string // exclusive; "" means unbounded (last shard)
}

// DocumentCursor is the slice of *mongo.Cursor that StreamShard's
// callers actually drive: iterate, decode, check, close. *mongo.Cursor
// satisfies this without modification, and a fake implementation needs
// no live server.
type DocumentCursor interface {
	Next(ctx context.Context) bool
	Decode(val interface{}) error
	Err() error
	Close(ctx context.Context) error
}

// Reader streams documents and computes partition bounds for one
// collection. MongoReader is the live implementation; a planner or
// runner depends on this interface rather than *MongoReader so a test
// can substitute MockReader (source_mock.go), mirroring block/spirit's
// Chunker/MockChunker split in pkg/table.
type Reader interface {
	SetPartitionField(field string)
	SetBatchSize(n int)
	PartitionBounds(ctx context.Context, numShards int) ([]Bound, error)
	StreamShard(ctx context.Context, bound Bound) (DocumentCursor, error)
	FindByID(ctx context.Context, id string) (bson.M, error)
	SamplePrimaryKeys(ctx context.Context, n int) ([]string, error)
	Close(ctx context.Context) error
}

// MongoReader is the live Reader backed by a mongo.Client.
type MongoReader struct {
	client         *mongo.Client
	collection     *mongo.Collection
	partitionField string
	batchSize      int32
}

var _ Reader = (*MongoReader)(nil)

// Connect opens a client and resolves the target collection handle.
func Connect(ctx context.Context, uri, database, collection string) (*MongoReader, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}
	return &MongoReader{
		client:     client,
		collection: client.Database(database).Collection(collection),
	}, nil
}

func (r *MongoReader) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}

func (r *MongoReader) SetPartitionField(field string) { r.partitionField = field }
func (r *MongoReader) SetBatchSize(n int)             { r.batchSize = int32(n) }

// PartitionBounds computes numShards closed-open ranges covering the
// collection exactly once. It samples numShards-1 boundary values via
// an aggregation pipeline ($sample + in-memory sort), the cheap
// approximation real partitioners use instead of scanning the whole
// collection.
func (r *MongoReader) PartitionBounds(ctx context.Context, numShards int) ([]Bound, error) {
	if numShards < 1 {
		return nil, fmt.Errorf("numShards must be at least 1")
	}
	if numShards == 1 {
		return []Bound{{Lower: "", Upper: ""}}, nil
	}

	sampleSize := numShards * 20
	pipeline := mongo.Pipeline{
		{{Key: "$sample", Value: bson.D{{Key: "size", Value: sampleSize}}}},
		{{Key: "$project", Value: bson.D{{Key: r.partitionField, Value: 1}}}},
	}
	cur, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("sampling for partition bounds: %w", err)
	}
	defer cur.Close(ctx)

	var keys []string
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, stringifyKey(doc[r.partitionField]))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)

	bounds := make([]Bound, 0, numShards)
	if len(keys) < numShards {
		// Not enough sample diversity (tiny collection): fall back to
		// a single unbounded shard rather than emitting empty ranges.
		return []Bound{{Lower: "", Upper: ""}}, nil
	}
	step := len(keys) / numShards
	prev := ""
	for i := 0; i < numShards-1; i++ {
		idx := (i + 1) * step
		if idx >= len(keys) {
			idx = len(keys) - 1
		}
		upper := keys[idx]
		bounds = append(bounds, Bound{Lower: prev, Upper: upper})
		prev = upper
	}
	bounds = append(bounds, Bound{Lower: prev, Upper: ""})
	return bounds, nil
}

func stringifyKey(v interface{}) string {
	if oid, ok := v.(primitive.ObjectID); ok {
		return oid.Hex()
	}
	return fmt.Sprintf("%v", v)
}

// StreamShard yields every document whose partition field falls in
// [bound.Lower, bound.Upper). The caller drives iteration via the
// returned cursor's Next/Decode, which it must Close.
func (r *MongoReader) StreamShard(ctx context.Context, bound Bound) (DocumentCursor, error) {
	filter := bson.M{}
	rangeFilter := bson.M{}
	if bound.Lower != "" {
		rangeFilter["$gte"] = boundValue(bound.Lower)
	}
	if bound.Upper != "" {
		rangeFilter["$lt"] = boundValue(bound.Upper)
	}
	if len(rangeFilter) > 0 {
		filter[r.partitionField] = rangeFilter
	}

	opts := options.Find()
	if r.batchSize > 0 {
		opts.SetBatchSize(r.batchSize)
	}
	return r.collection.Find(ctx, filter, opts)
}

// FindByID reads a single document by primary key, used by the
// checksum validator's point samples.
func (r *MongoReader) FindByID(ctx context.Context, id string) (bson.M, error) {
	var doc bson.M
	err := r.collection.FindOne(ctx, bson.M{"_id": boundValue(id)}).Decode(&doc)
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// SamplePrimaryKeys draws up to n distinct _id values to drive the
// checksum validator's point samples.
func (r *MongoReader) SamplePrimaryKeys(ctx context.Context, n int) ([]string, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$sample", Value: bson.D{{Key: "size", Value: n}}}},
		{{Key: "$project", Value: bson.D{{Key: "_id", Value: 1}}}},
	}
	cur, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var ids []string
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		ids = append(ids, stringifyKey(doc["_id"]))
	}
	return ids, cur.Err()
}

// boundValue attempts to parse s back into an ObjectID, since that is
// the overwhelmingly common partition-field type; any other field type
// is compared as a plain string.
func boundValue(s string) interface{} {
	if oid, err := primitive.ObjectIDFromHex(s); err == nil {
		return oid
	}
	return s
}
