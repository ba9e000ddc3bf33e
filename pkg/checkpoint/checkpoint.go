// Package checkpoint implements the durable run and shard-execution
// tables a migration uses to resume work. It is the generalization of
// block/spirit's single-watermark checkpoint table
// (pkg/migration/runner.go's createCheckpointTable/dumpCheckpoint) from
// one row per migration to one row per (run, shard): spirit resumes a
// single-threaded chunker from one low-watermark, mongox resumes N
// independent shards each with their own status.
package checkpoint

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RunStatus and ShardStatus are the state machines a run and its
// shards move through.
type RunStatus string

const (
	RunStarted RunStatus = "STARTED"
	RunPass    RunStatus = "PASS"
	RunFail    RunStatus = "FAIL"
)

type RunType string

const (
	RunTypeNew    RunType = "NEW"
	RunTypeResume RunType = "RESUME"
)

type ShardStatus string

const (
	ShardNotStarted ShardStatus = "NOT_STARTED"
	ShardStarted    ShardStatus = "STARTED"
	ShardPass       ShardStatus = "PASS"
	ShardFail       ShardStatus = "FAIL"
)

// Run is one row of the migration_run table.
type Run struct {
	TableName string
	RunID     int64
	PrevRunID int64
	RunType   RunType
	StartTime time.Time
	EndTime   *time.Time
	Status    RunStatus
	RunInfo   string
}

// ShardRecord is one row of the migration_shard table.
type ShardRecord struct {
	TableName  string
	RunID      int64
	ShardID    int64
	LowerBound string
	UpperBound string
	StartTime  time.Time
	Status     ShardStatus
	RunInfo    string
}

// Store is the run/shard bookkeeping a migration uses to coordinate
// workers and resume across runs. PostgresStore is the durable
// implementation; MemoryStore (checkpoint_mock.go) is a hand-written
// fake of the same state machine for tests that have no Postgres
// connection to drive, mirroring block/spirit's Chunker/MockChunker
// split in pkg/table.
type Store interface {
	Initialize(ctx context.Context) error
	BeginRun(ctx context.Context, runID, prevRunID int64) (*Run, error)
	InsertShard(ctx context.Context, runID, shardID int64, lowerBound, upperBound string) error
	ClaimShard(ctx context.Context, runID, shardID int64) error
	CompleteShard(ctx context.Context, runID, shardID int64, status ShardStatus, info string) error
	EndRun(ctx context.Context, runID int64, info string) (RunStatus, error)
	ListPending(ctx context.Context, runID int64) ([]ShardRecord, error)
}

// PostgresStore is the checkpoint store backing one migrated table.
// BeginRun and ClaimShard each run in their own short transaction at
// READ COMMITTED. InsertShard, CompleteShard and ListPending are single
// statements run without an explicit transaction, at the session's
// default isolation; EndRun's tally and its update are two such
// statements, not one transaction.
type PostgresStore struct {
	pool      *pgxpool.Pool
	keyspace  string
	tableName string
}

// New returns a checkpoint store scoped to one migrated table.
func New(pool *pgxpool.Pool, keyspace, tableName string) *PostgresStore {
	return &PostgresStore{pool: pool, keyspace: keyspace, tableName: tableName}
}

var _ Store = (*PostgresStore)(nil)

func (s *PostgresStore) runTable() string   { return fmt.Sprintf("%q.migration_run", s.keyspace) }
func (s *PostgresStore) shardTable() string { return fmt.Sprintf("%q.migration_shard", s.keyspace) }

// Initialize creates both tables and their indexes if absent.
// Idempotent.
func (s *PostgresStore) Initialize(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %q`, s.keyspace),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			table_name TEXT NOT NULL,
			run_id BIGINT NOT NULL,
			run_type TEXT NOT NULL,
			prev_run_id BIGINT NOT NULL DEFAULT 0,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ,
			run_info TEXT,
			status TEXT NOT NULL,
			PRIMARY KEY (table_name, run_id)
		)`, s.runTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_migration_run_status ON %s (table_name, status)`, s.runTable()),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			table_name TEXT NOT NULL,
			run_id BIGINT NOT NULL,
			start_time TIMESTAMPTZ,
			lower_bound TEXT NOT NULL,
			upper_bound TEXT NOT NULL,
			shard_id BIGINT NOT NULL,
			status TEXT NOT NULL,
			run_info TEXT,
			PRIMARY KEY (table_name, run_id, lower_bound, shard_id)
		)`, s.shardTable()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_migration_shard_status ON %s (table_name, run_id, status)`, s.shardTable()),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("initializing checkpoint store: %w", err)
		}
	}
	return nil
}

// BeginRun inserts a run row in STARTED and, when prevRunID != 0,
// copies the union of prev's {NOT_STARTED, STARTED, FAIL} shard
// records into the new run under NOT_STARTED. PASS shards from
// prevRunID are never re-copied.
func (s *PostgresStore) BeginRun(ctx context.Context, runID, prevRunID int64) (*Run, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	runType := RunTypeNew
	if prevRunID != 0 {
		runType = RunTypeResume
	}
	now := time.Now().UTC()
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (table_name, run_id, run_type, prev_run_id, start_time, status) VALUES ($1,$2,$3,$4,$5,$6)`, s.runTable()),
		s.tableName, runID, string(runType), prevRunID, now, string(RunStarted))
	if err != nil {
		return nil, fmt.Errorf("inserting run row: %w", err)
	}

	if prevRunID != 0 {
		rows, err := tx.Query(ctx,
			fmt.Sprintf(`SELECT shard_id, lower_bound, upper_bound FROM %s
			             WHERE table_name=$1 AND run_id=$2 AND status IN ('NOT_STARTED','STARTED','FAIL')`, s.shardTable()),
			s.tableName, prevRunID)
		if err != nil {
			return nil, fmt.Errorf("reading pending shards from prev run: %w", err)
		}
		type pending struct {
			shardID              int64
			lowerBound, upperBound string
		}
		var toCopy []pending
		for rows.Next() {
			var p pending
			if err := rows.Scan(&p.shardID, &p.lowerBound, &p.upperBound); err != nil {
				rows.Close()
				return nil, err
			}
			toCopy = append(toCopy, p)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		for _, p := range toCopy {
			_, err = tx.Exec(ctx,
				fmt.Sprintf(`INSERT INTO %s (table_name, run_id, lower_bound, upper_bound, shard_id, status) VALUES ($1,$2,$3,$4,$5,$6)`, s.shardTable()),
				s.tableName, runID, p.lowerBound, p.upperBound, p.shardID, string(ShardNotStarted))
			if err != nil {
				return nil, fmt.Errorf("migrating pending shard %d: %w", p.shardID, err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &Run{
		TableName: s.tableName,
		RunID:     runID,
		PrevRunID: prevRunID,
		RunType:   runType,
		StartTime: now,
		Status:    RunStarted,
	}, nil
}

// InsertShard persists a fresh NOT_STARTED shard record, used by the
// planner for a new run.
func (s *PostgresStore) InsertShard(ctx context.Context, runID, shardID int64, lowerBound, upperBound string) error {
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (table_name, run_id, lower_bound, upper_bound, shard_id, status) VALUES ($1,$2,$3,$4,$5,$6)`, s.shardTable()),
		s.tableName, runID, lowerBound, upperBound, shardID, string(ShardNotStarted))
	return err
}

// ErrAlreadyClaimed indicates a lost race: another worker claimed the
// shard first. The caller treats this as "already owned" and skips.
var ErrAlreadyClaimed = fmt.Errorf("shard already claimed")

// ClaimShard transitions NOT_STARTED -> STARTED for exactly one
// record. The UPDATE's WHERE clause makes two concurrent claimants
// race on the primary key; at most one affects a row.
func (s *PostgresStore) ClaimShard(ctx context.Context, runID, shardID int64) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status=$1, start_time=$2 WHERE table_name=$3 AND run_id=$4 AND shard_id=$5 AND status=$6`, s.shardTable()),
		string(ShardStarted), time.Now().UTC(), s.tableName, runID, shardID, string(ShardNotStarted))
	if err != nil {
		return fmt.Errorf("claiming shard %d: %w", shardID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyClaimed
	}
	return tx.Commit(ctx)
}

// CompleteShard transitions STARTED -> {PASS, FAIL}. Idempotent for
// the same terminal value.
func (s *PostgresStore) CompleteShard(ctx context.Context, runID, shardID int64, status ShardStatus, info string) error {
	if status != ShardPass && status != ShardFail {
		return fmt.Errorf("invalid terminal shard status %q", status)
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status=$1, run_info=$2 WHERE table_name=$3 AND run_id=$4 AND shard_id=$5 AND status IN ($6, $1)`, s.shardTable()),
		string(status), info, s.tableName, runID, shardID, string(ShardStarted))
	if err != nil {
		return fmt.Errorf("completing shard %d: %w", shardID, err)
	}
	return nil
}

// EndRun sets end_time and a final status computed from whether every
// shard in the run reached PASS.
func (s *PostgresStore) EndRun(ctx context.Context, runID int64, info string) (RunStatus, error) {
	var failCount int
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE table_name=$1 AND run_id=$2 AND status <> 'PASS'`, s.shardTable()),
		s.tableName, runID).Scan(&failCount)
	if err != nil {
		return "", fmt.Errorf("tallying shard outcomes: %w", err)
	}
	status := RunPass
	if failCount > 0 {
		status = RunFail
	}
	_, err = s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET end_time=$1, status=$2, run_info=$3 WHERE table_name=$4 AND run_id=$5`, s.runTable()),
		time.Now().UTC(), string(status), info, s.tableName, runID)
	if err != nil {
		return "", fmt.Errorf("ending run %d: %w", runID, err)
	}
	return status, nil
}

// ListPending returns shards in non-terminal states, for diagnostics.
func (s *PostgresStore) ListPending(ctx context.Context, runID int64) ([]ShardRecord, error) {
	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(`SELECT shard_id, lower_bound, upper_bound, status FROM %s
		             WHERE table_name=$1 AND run_id=$2 AND status IN ('NOT_STARTED','STARTED')
		             ORDER BY shard_id`, s.shardTable()),
		s.tableName, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ShardRecord
	for rows.Next() {
		var rec ShardRecord
		if err := rows.Scan(&rec.ShardID, &rec.LowerBound, &rec.UpperBound, &rec.Status); err != nil {
			return nil, err
		}
		rec.TableName = s.tableName
		rec.RunID = runID
		out = append(out, rec)
	}
	return out, rows.Err()
}
