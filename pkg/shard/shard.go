// Package shard computes the shard descriptors a run dispatches to
// workers. Grounded on block/spirit's pkg/table.Chunker interface
// (Open/Next/Feedback), generalized from a single-table MySQL
// PK-range chunker to a Mongo-collection shard planner: the same "ask
// the data-store owner for bounds, assign a stable id, persist a
// pending record" shape, applied to a coarser, upfront partitioning
// rather than an adaptive per-chunk one.
package shard

import (
	"context"
	"fmt"

	"github.com/blockmigrate/mongox/pkg/checkpoint"
	"github.com/blockmigrate/mongox/pkg/source"
)

// Descriptor is the opaque, serializable bound assigned to one worker.
type Descriptor struct {
	ShardID    int64
	LowerBound string
	UpperBound string
	SizeHint   int64 // optional row estimate; 0 if unknown
}

// Planner computes shard descriptors for a table mapping.
type Planner struct {
	reader source.Reader
	store  checkpoint.Store
}

func New(reader source.Reader, store checkpoint.Store) *Planner {
	return &Planner{reader: reader, store: store}
}

// PlanFresh asks the source connector for partition bounds, assigns
// dense 0-indexed shard ids, and persists a NOT_STARTED record for
// each.
func (p *Planner) PlanFresh(ctx context.Context, runID int64, numShards int) ([]Descriptor, error) {
	bounds, err := p.reader.PartitionBounds(ctx, numShards)
	if err != nil {
		return nil, fmt.Errorf("computing partition bounds: %w", err)
	}

	descriptors := make([]Descriptor, 0, len(bounds))
	for i, b := range bounds {
		d := Descriptor{ShardID: int64(i), LowerBound: b.Lower, UpperBound: b.Upper}
		if err := p.store.InsertShard(ctx, runID, d.ShardID, d.LowerBound, d.UpperBound); err != nil {
			return nil, fmt.Errorf("persisting shard %d: %w", d.ShardID, err)
		}
		descriptors = append(descriptors, d)
	}
	return descriptors, nil
}

// PlanResume does not recompute bounds: it reads the pending records
// that this run's begin-run step already copied forward from prevRunID.
func (p *Planner) PlanResume(ctx context.Context, runID int64) ([]Descriptor, error) {
	pending, err := p.store.ListPending(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("listing pending shards for resume: %w", err)
	}
	descriptors := make([]Descriptor, 0, len(pending))
	for _, rec := range pending {
		descriptors = append(descriptors, Descriptor{
			ShardID:    rec.ShardID,
			LowerBound: rec.LowerBound,
			UpperBound: rec.UpperBound,
		})
	}
	return descriptors, nil
}

func (b Descriptor) ToSourceBound() source.Bound {
	return source.Bound{Lower: b.LowerBound, Upper: b.UpperBound}
}
