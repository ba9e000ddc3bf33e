// Package metrics implements the cross-worker counter aggregation a
// migration run reports. Workers run as goroutines within one process
// here, so the aggregator is a set of atomics behind a small struct,
// additionally mirrored into Prometheus counters the way cuemby-warren
// wires client_golang into its own reconciliation loop.
package metrics

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Aggregator holds the six counters that make up the driver-visible
// summary of a run.
type Aggregator struct {
	rowsRead            atomic.Uint64
	rowsWritten         atomic.Uint64
	rowsSkipped         atomic.Uint64
	partitionsCompleted atomic.Uint64
	partitionsFailed    atomic.Uint64
	startTime           time.Time

	promRowsRead            prometheus.Counter
	promRowsWritten         prometheus.Counter
	promRowsSkipped         prometheus.Counter
	promPartitionsCompleted prometheus.Counter
	promPartitionsFailed    prometheus.Counter
}

// New creates an aggregator and registers its Prometheus counters
// against reg. reg may be nil to skip Prometheus wiring entirely
// (e.g. in unit tests).
func New(reg *prometheus.Registry, tableName string) *Aggregator {
	a := &Aggregator{startTime: time.Now()}
	labels := prometheus.Labels{"table": tableName}
	a.promRowsRead = newCounter(reg, "mongox_rows_read_total", "Rows read from the source collection.", labels)
	a.promRowsWritten = newCounter(reg, "mongox_rows_written_total", "Rows written to the target table.", labels)
	a.promRowsSkipped = newCounter(reg, "mongox_rows_skipped_total", "Rows skipped as duplicates or row-level errors.", labels)
	a.promPartitionsCompleted = newCounter(reg, "mongox_partitions_completed_total", "Shards that reached PASS.", labels)
	a.promPartitionsFailed = newCounter(reg, "mongox_partitions_failed_total", "Shards that reached FAIL.", labels)
	return a
}

func newCounter(reg *prometheus.Registry, name, help string, labels prometheus.Labels) prometheus.Counter {
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: name, Help: help, ConstLabels: labels})
	if reg != nil {
		reg.MustRegister(c)
	}
	return c
}

func (a *Aggregator) AddRowsRead(n uint64) {
	a.rowsRead.Add(n)
	a.promRowsRead.Add(float64(n))
}

func (a *Aggregator) AddRowsWritten(n uint64) {
	a.rowsWritten.Add(n)
	a.promRowsWritten.Add(float64(n))
}

func (a *Aggregator) AddRowsSkipped(n uint64) {
	a.rowsSkipped.Add(n)
	a.promRowsSkipped.Add(float64(n))
}

func (a *Aggregator) IncPartitionsCompleted() {
	a.partitionsCompleted.Add(1)
	a.promPartitionsCompleted.Add(1)
}

func (a *Aggregator) IncPartitionsFailed() {
	a.partitionsFailed.Add(1)
	a.promPartitionsFailed.Add(1)
}

func (a *Aggregator) RowsRead() uint64            { return a.rowsRead.Load() }
func (a *Aggregator) RowsWritten() uint64         { return a.rowsWritten.Load() }
func (a *Aggregator) RowsSkipped() uint64         { return a.rowsSkipped.Load() }
func (a *Aggregator) PartitionsCompleted() uint64 { return a.partitionsCompleted.Load() }
func (a *Aggregator) PartitionsFailed() uint64    { return a.partitionsFailed.Load() }
func (a *Aggregator) Elapsed() time.Duration      { return time.Since(a.startTime) }

// GetSummary formats a human-readable block containing all six
// counters plus derived throughput, matching the texture of
// block/spirit's runner.dumpStatus log lines.
func (a *Aggregator) GetSummary() string {
	elapsed := a.Elapsed()
	throughput := 0.0
	if secs := elapsed.Seconds(); secs > 0 {
		throughput = float64(a.RowsWritten()) / secs
	}
	return fmt.Sprintf(
		"rows-read=%d rows-written=%d rows-skipped=%d partitions-completed=%d partitions-failed=%d elapsed=%s throughput=%.1f rows/s",
		a.RowsRead(), a.RowsWritten(), a.RowsSkipped(),
		a.PartitionsCompleted(), a.PartitionsFailed(),
		elapsed.Round(time.Second), throughput,
	)
}
