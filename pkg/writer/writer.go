// Package writer implements the two ingest paths a migration run can
// use: a streaming bulk-copy writer and a batched insert writer. They
// share no state — two independent implementations of the same Writer
// interface, selected per-run by insertMode, the way block/spirit
// treats its copier and applier as distinct components behind a
// common row-sink shape.
package writer

import (
	"context"

	"github.com/blockmigrate/mongox/pkg/transform"
)

// Result reports what a writer accomplished for one shard.
type Result struct {
	RowsWritten  uint64
	RowsSkipped  uint64 // duplicates absorbed by ON CONFLICT
}

// Writer ingests a stream of transformed rows for a single shard.
type Writer interface {
	// WriteRow buffers or sends one row. Implementations may batch
	// internally; callers must call Close to flush and finalize.
	WriteRow(ctx context.Context, row transform.Row) error
	// Close flushes any buffered rows and commits. It does not close
	// the connection the writer was built on; the caller does. It must
	// be safe to call exactly once.
	Close(ctx context.Context) (Result, error)
	// Abort cancels any in-flight stream and rolls back, for use on
	// the error path instead of Close.
	Abort(ctx context.Context)
}
