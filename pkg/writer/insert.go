package writer

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/blockmigrate/mongox/pkg/transform"
)

// InsertConfig configures the batch-insert writer.
type InsertConfig struct {
	Schema     string
	Table      string
	Columns    []string
	PrimaryKey []string
	BatchSize  int
}

// insertWriter accumulates rows into batches and executes a
// parameterized INSERT ... ON CONFLICT DO NOTHING per batch,
// committing per batch. It is chosen when the run must be idempotent
// against pre-existing rows.
type insertWriter struct {
	conn    *pgx.Conn
	cfg     InsertConfig
	pending []transform.Row
	result  Result
}

// NewInsertWriter returns a Writer for the batched-insert path.
func NewInsertWriter(conn *pgx.Conn, cfg InsertConfig) (Writer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 1000
	}
	if len(cfg.PrimaryKey) == 0 {
		return nil, fmt.Errorf("insert mode requires table.primaryKey to be set")
	}
	return &insertWriter{conn: conn, cfg: cfg}, nil
}

func (w *insertWriter) WriteRow(ctx context.Context, row transform.Row) error {
	w.pending = append(w.pending, row)
	if len(w.pending) >= w.cfg.BatchSize {
		return w.flush(ctx)
	}
	return nil
}

func (w *insertWriter) flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	batch := w.pending
	w.pending = nil

	sql, args := buildInsertStatement(w.cfg, batch)
	tx, err := w.conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning insert batch transaction: %w", err)
	}
	tag, err := tx.Exec(ctx, sql, args...)
	if err != nil {
		_ = tx.Rollback(ctx)
		return fmt.Errorf("executing insert batch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing insert batch: %w", err)
	}

	attempted := uint64(len(batch))
	affected := uint64(tag.RowsAffected())
	w.result.RowsWritten += affected
	// rows_attempted - rows_affected counts as duplicates skipped by
	// the ON CONFLICT clause.
	if affected <= attempted {
		w.result.RowsSkipped += attempted - affected
	}
	return nil
}

// buildInsertStatement renders
// INSERT INTO schema.table (cols) VALUES (...),(...) ON CONFLICT (pk) DO NOTHING
func buildInsertStatement(cfg InsertConfig, rows []transform.Row) (string, []interface{}) {
	quotedCols := make([]string, len(cfg.Columns))
	for i, c := range cfg.Columns {
		quotedCols[i] = fmt.Sprintf("%q", c)
	}
	quotedPK := make([]string, len(cfg.PrimaryKey))
	for i, c := range cfg.PrimaryKey {
		quotedPK[i] = fmt.Sprintf("%q", c)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "INSERT INTO %q.%q (%s) VALUES ",
		cfg.Schema, cfg.Table, strings.Join(quotedCols, ", "))

	args := make([]interface{}, 0, len(rows)*len(cfg.Columns))
	argIdx := 1
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteByte('(')
		for j, v := range row.Values {
			if j > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "$%d", argIdx)
			argIdx++
			if v.Null {
				args = append(args, nil)
			} else {
				args = append(args, v.Text)
			}
		}
		sb.WriteByte(')')
	}
	fmt.Fprintf(&sb, " ON CONFLICT (%s) DO NOTHING", strings.Join(quotedPK, ", "))
	return sb.String(), args
}

func (w *insertWriter) Close(ctx context.Context) (Result, error) {
	if err := w.flush(ctx); err != nil {
		return w.result, err
	}
	return w.result, nil
}

func (w *insertWriter) Abort(ctx context.Context) {
	w.pending = nil
}
