// Package migration implements the orchestration sequence for one
// run: truncate, initialize checkpoint store, begin-run, dispatch
// shard workers, end-run, validate. Grounded directly on
// block/spirit's pkg/migration.Runner.Run state machine — truncate
// replaces spirit's attemptMySQLDDL short-circuit, begin-run/dispatch
// replaces spirit's setup/copier.Run, and end-run+validate replaces
// spirit's prepareForCutover/checksum/cutover sequence. Both engines
// share the same top-level shape: try a fast path, set up durable
// state, run the bulk of the work under a status ticker, then
// finalize and check consistency.
package migration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/blockmigrate/mongox/pkg/checkpoint"
	"github.com/blockmigrate/mongox/pkg/config"
	"github.com/blockmigrate/mongox/pkg/csvenc"
	"github.com/blockmigrate/mongox/pkg/dbconn"
	"github.com/blockmigrate/mongox/pkg/metrics"
	"github.com/blockmigrate/mongox/pkg/retry"
	"github.com/blockmigrate/mongox/pkg/shard"
	"github.com/blockmigrate/mongox/pkg/source"
	"github.com/blockmigrate/mongox/pkg/transform"
	"github.com/blockmigrate/mongox/pkg/validate"
	"github.com/blockmigrate/mongox/pkg/writer"
)

// statusInterval is the status-dump cadence used when
// migration.checkpoint.interval is unset; left as a var (not a const)
// so tests can shrink it, matching block/spirit's
// checkpointDumpInterval/statusInterval pattern in
// pkg/migration/runner.go.
var statusInterval = 30 * time.Second

// Runner drives one migration run end to end.
type Runner struct {
	cfg     *config.MigrationConfig
	mapping *config.TableMapping

	factory    *dbconn.Factory
	pool       *pgxpool.Pool
	checkpoint checkpoint.Store
	reader     source.Reader
	aggregator *metrics.Aggregator
	logger     *logrus.Logger

	startTime time.Time
}

// NewRunner validates inputs and wires up sub-components, the way
// spirit's NewRunner validates its Migration struct before any side
// effect occurs.
func NewRunner(cfg *config.MigrationConfig, mapping *config.TableMapping, logger *logrus.Logger) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("migration config is required")
	}
	if mapping == nil {
		return nil, fmt.Errorf("table mapping is required")
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Runner{cfg: cfg, mapping: mapping, logger: logger}, nil
}

// Run executes the full orchestration sequence for one migration run.
func (r *Runner) Run(ctx context.Context) error {
	r.startTime = time.Now()
	r.logger.Infof("starting mongox migration: parallelism=%d insert-mode=%s table=%s.%s run-id=%d prev-run-id=%d correlation-id=%s",
		r.cfg.DefaultParallelism, r.cfg.InsertMode, r.mapping.TargetSchema, r.mapping.TargetTable, r.cfg.RunID, r.cfg.PrevRunID, r.cfg.CorrelationID)

	r.factory = dbconn.NewFactory(r.cfg)
	defer r.factory.Close()

	var err error
	r.pool, err = r.factory.NewPool(ctx, int32(r.cfg.DefaultParallelism+2))
	if err != nil {
		return err
	}
	defer r.pool.Close()

	r.reader, err = source.Connect(ctx, r.cfg.MongoURI, r.mapping.SourceDatabase, r.mapping.SourceCollection)
	if err != nil {
		return err
	}
	defer func() { _ = r.reader.Close(ctx) }()
	r.reader.SetPartitionField(r.cfg.PartitionField)
	r.reader.SetBatchSize(r.cfg.MongoBatchSize)

	r.aggregator = metrics.New(prometheus.NewRegistry(), r.mapping.TargetTable)

	// Step 2: truncate, if requested. Failure is logged and ignored,
	// since the table may not yet exist.
	if r.cfg.TruncateTarget {
		if err := r.truncateTarget(ctx); err != nil {
			r.logger.Warnf("truncate target table failed (continuing): %v", err)
		}
	}

	// Step 3: initialize the checkpoint store. Disabling it trades away
	// durability and resume for a run that leaves no Postgres-side
	// bookkeeping behind: shard coordination still happens, just in
	// memory, so it cannot survive this process exiting.
	if r.cfg.CheckpointEnabled {
		pgStore := checkpoint.New(r.pool, r.cfg.CheckpointKeyspace, r.mapping.TargetTable)
		if err := pgStore.Initialize(ctx); err != nil {
			return fmt.Errorf("initializing checkpoint store: %w", err)
		}
		r.checkpoint = pgStore
	} else {
		r.logger.Warn("migration.checkpoint.enabled=false: shard progress will not survive a restart and prev-run-id resume is unavailable")
		r.checkpoint = checkpoint.NewMemoryStore()
	}

	// Step 4: begin-run.
	if _, err := r.checkpoint.BeginRun(ctx, r.cfg.RunID, r.cfg.PrevRunID); err != nil {
		return fmt.Errorf("beginning run: %w", err)
	}

	// Step 5: plan and dispatch shards.
	planner := shard.New(r.reader, r.checkpoint)
	var descriptors []shard.Descriptor
	if r.cfg.PrevRunID != 0 {
		descriptors, err = planner.PlanResume(ctx, r.cfg.RunID)
	} else {
		descriptors, err = planner.PlanFresh(ctx, r.cfg.RunID, r.cfg.DefaultParallelism)
	}
	if err != nil {
		return fmt.Errorf("planning shards: %w", err)
	}
	r.logger.Infof("planned %d shards for run %d", len(descriptors), r.cfg.RunID)

	statusCtx, cancelStatus := context.WithCancel(ctx)
	go r.dumpStatus(statusCtx)
	defer cancelStatus()

	r.dispatch(ctx, descriptors)

	// Step 6: end-run.
	status, err := r.checkpoint.EndRun(ctx, r.cfg.RunID, r.aggregator.GetSummary())
	if err != nil {
		return fmt.Errorf("ending run: %w", err)
	}
	r.logger.Infof("migration complete: status=%s %s", status, r.aggregator.GetSummary())

	// Step 7: validate.
	if r.cfg.ValidationEnabled {
		r.runValidation(ctx)
	}
	return nil
}

func (r *Runner) truncateTarget(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", r.mapping.QuotedTargetName()))
	return err
}

// dispatch runs each shard on its own goroutine, bounded by
// DefaultParallelism concurrent workers. The driver blocks until all
// workers terminate.
func (r *Runner) dispatch(ctx context.Context, descriptors []shard.Descriptor) {
	runBounded(len(descriptors), r.cfg.DefaultParallelism, func(i int) {
		r.runShard(ctx, descriptors[i])
	})
}

// runBounded executes work(0), work(1), ..., work(n-1) each on its own
// goroutine, never running more than concurrency at once, and blocks
// until every one has returned.
func runBounded(n, concurrency int, work func(i int)) {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			work(i)
		}()
	}
	wg.Wait()
}

// runShard implements the per-worker claim/copy/complete sequence.
// The worker never re-raises: failures become a FAIL checkpoint
// record and run-level success is decided from aggregated outcomes.
func (r *Runner) runShard(ctx context.Context, d shard.Descriptor) {
	logger := r.logger.WithField("shard", d.ShardID)
	claimCopyComplete(ctx, r.checkpoint, r.aggregator, logger, r.cfg.RunID, d, func(ctx context.Context) (uint64, uint64, error) {
		return r.copyShard(ctx, d, logger)
	})
}

// claimCopyComplete implements the per-shard claim/copy/complete
// sequence against a checkpoint.Store: claim the shard, run doCopy,
// and record exactly one terminal status (PASS or FAIL) unless the
// claim itself fails. A claim lost to another worker writes no status,
// since the other claimant owns that shard's outcome; any other claim
// error counts the shard as failed in the aggregator but also writes
// no status.
// Pulled out of runShard so the sequence can be driven by a
// checkpoint.MemoryStore and a canned doCopy in tests, without a live
// Mongo or Postgres connection.
func claimCopyComplete(ctx context.Context, store checkpoint.Store, agg *metrics.Aggregator, logger *logrus.Entry, runID int64, d shard.Descriptor, doCopy func(ctx context.Context) (uint64, uint64, error)) {
	if err := store.ClaimShard(ctx, runID, d.ShardID); err != nil {
		if err == checkpoint.ErrAlreadyClaimed {
			logger.Warn("shard already claimed by another worker, skipping")
			return
		}
		logger.Errorf("could not claim shard: %v", err)
		agg.IncPartitionsFailed()
		return
	}

	rowsWritten, rowsSkipped, err := doCopy(ctx)
	if err != nil {
		agg.IncPartitionsFailed()
		if cErr := store.CompleteShard(ctx, runID, d.ShardID, checkpoint.ShardFail, err.Error()); cErr != nil {
			logger.Errorf("could not record shard failure: %v", cErr)
		}
		logger.Errorf("shard failed: %v", err)
		return
	}

	agg.AddRowsWritten(rowsWritten)
	agg.AddRowsSkipped(rowsSkipped)
	agg.IncPartitionsCompleted()
	if err := store.CompleteShard(ctx, runID, d.ShardID, checkpoint.ShardPass, "ok"); err != nil {
		logger.Errorf("could not record shard success: %v", err)
	}
}

// copyShard reads source rows for the shard's bounds, transforms and
// writes them through the selected writer, all wrapped in the retry
// policy.
func (r *Runner) copyShard(ctx context.Context, d shard.Descriptor, logger *logrus.Entry) (written, skipped uint64, err error) {
	xform, err := transform.New(r.mapping)
	if err != nil {
		return 0, 0, err
	}

	policy := retry.Policy{
		MaxAttempts:  r.cfg.RetryMaxAttempts,
		InitialDelay: r.cfg.RetryInitialDelay,
		Factor:       r.cfg.RetryFactor,
	}

	err = retry.Do(ctx, policy, func(ctx context.Context) error {
		var attemptErr error
		written, skipped, attemptErr = r.attemptShard(ctx, d, xform, logger)
		return attemptErr
	})
	return written, skipped, err
}

func (r *Runner) attemptShard(ctx context.Context, d shard.Descriptor, xform transform.Transformer, logger *logrus.Entry) (uint64, uint64, error) {
	conn, err := r.factory.NewSession(ctx)
	if err != nil {
		return 0, 0, err
	}
	defer func() { _ = conn.Close(ctx) }()

	w, err := r.newWriter(ctx, conn, xform.Columns())
	if err != nil {
		return 0, 0, err
	}

	cur, err := r.reader.StreamShard(ctx, d.ToSourceBound())
	if err != nil {
		w.Abort(ctx)
		return 0, 0, err
	}
	defer cur.Close(ctx)

	var rowsRead uint64
	var rowsSkippedLocal uint64
	warned := false
	for cur.Next(ctx) {
		var doc bson.M
		if err := cur.Decode(&doc); err != nil {
			w.Abort(ctx)
			return 0, 0, fmt.Errorf("decoding source document: %w", err)
		}
		rowsRead++

		row, terr := xform.Transform(doc)
		if terr != nil {
			// Row-level data error: skip the row, warn once per
			// shard, keep going. The shard may still PASS with
			// rows skipped rather than aborting entirely.
			rowsSkippedLocal++
			if !warned {
				logger.Warnf("row-level transform error (will not repeat this warning): %v", terr)
				warned = true
			}
			continue
		}
		if werr := w.WriteRow(ctx, row); werr != nil {
			w.Abort(ctx)
			return 0, 0, werr
		}
	}
	if err := cur.Err(); err != nil {
		w.Abort(ctx)
		return 0, 0, fmt.Errorf("reading source cursor: %w", err)
	}

	result, err := w.Close(ctx)
	if err != nil {
		return 0, 0, err
	}
	r.aggregator.AddRowsRead(rowsRead)
	return result.RowsWritten, result.RowsSkipped + rowsSkippedLocal, nil
}

func (r *Runner) newWriter(ctx context.Context, conn *pgx.Conn, columns []string) (writer.Writer, error) {
	switch r.cfg.InsertMode {
	case config.InsertModeCopy:
		return writer.NewCopyWriter(ctx, conn, writer.CopyConfig{
			Schema:     r.mapping.TargetSchema,
			Table:      r.mapping.TargetTable,
			Columns:    columns,
			CSV:        csvOptionsFromConfig(r.cfg),
			BufferSize: r.cfg.CopyBufferSize,
			FlushEvery: r.cfg.CopyFlushEvery,
		})
	case config.InsertModeInsert:
		return writer.NewInsertWriter(conn, writer.InsertConfig{
			Schema:     r.mapping.TargetSchema,
			Table:      r.mapping.TargetTable,
			Columns:    columns,
			PrimaryKey: r.mapping.PrimaryKey,
			BatchSize:  r.cfg.InsertBatchSize,
		})
	default:
		return nil, fmt.Errorf("unknown insert mode %q", r.cfg.InsertMode)
	}
}

func (r *Runner) runValidation(ctx context.Context) {
	rowCountValidator := validate.NewRowCountValidator(r.aggregator)
	if report := rowCountValidator.Validate(ctx); !report.OK {
		r.logger.Warnf("row-count validation mismatch: %s", report.Detail)
	} else {
		r.logger.Info("row-count validation passed")
	}

	if r.cfg.ValidationSampleSize <= 0 {
		return
	}
	checksumValidator := validate.NewChecksumValidator(r.reader, r.pool, r.mapping, r.cfg.ValidationSampleSize)
	report, err := checksumValidator.Validate(ctx)
	if err != nil {
		r.logger.Errorf("checksum validation error: %v", err)
		return
	}
	if !report.OK {
		r.logger.Warnf("checksum validation mismatch: %s", report.Detail)
	} else {
		r.logger.Info("checksum validation passed")
	}
}

func (r *Runner) dumpStatus(ctx context.Context) {
	interval := r.cfg.CheckpointInterval
	if interval <= 0 {
		interval = statusInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.logger.Infof("migration status: total-time=%s %s",
				time.Since(r.startTime).Round(time.Second), r.aggregator.GetSummary())
		}
	}
}

func csvOptionsFromConfig(cfg *config.MigrationConfig) csvenc.Options {
	return csvenc.Options{
		Delimiter: cfg.CSVDelimiter,
		Null:      cfg.CSVNull,
		Quote:     cfg.CSVQuote,
		Escape:    cfg.CSVEscape,
	}
}
