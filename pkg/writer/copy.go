package writer

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/blockmigrate/mongox/pkg/csvenc"
	"github.com/blockmigrate/mongox/pkg/transform"
)

// CopyConfig configures the bulk-copy writer.
type CopyConfig struct {
	Schema         string
	Table          string
	Columns        []string
	CSV            csvenc.Options
	BufferSize     int // rows held in outbound buffer before forced flush
	FlushEvery     int // rows between cooperative flushes
}

// copyWriter streams rows into a single COPY FROM STDIN command for
// one shard: begin transaction, open COPY, append CSV lines, periodic
// flush, close+commit on success, cancel+rollback on error.
type copyWriter struct {
	conn   *pgx.Conn
	cfg    CopyConfig
	tx     pgx.Tx
	pw     *io.PipeWriter
	pr     *io.PipeReader
	copyDone chan copyOutcome
	buf      strings.Builder
	bufRows  int
	sinceFlush int
	written  uint64
}

type copyOutcome struct {
	rowsCopied int64
	err        error
}

// NewCopyWriter opens a transaction and the COPY stream for a shard.
func NewCopyWriter(ctx context.Context, conn *pgx.Conn, cfg CopyConfig) (Writer, error) {
	if cfg.CSV.Delimiter == 0 {
		cfg.CSV = csvenc.DefaultOptions()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 5000
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 1000
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning copy transaction: %w", err)
	}

	pr, pw := io.Pipe()
	w := &copyWriter{conn: conn, cfg: cfg, tx: tx, pw: pw, pr: pr, copyDone: make(chan copyOutcome, 1)}

	go w.runCopy(ctx)
	return w, nil
}

func (w *copyWriter) runCopy(ctx context.Context) {
	quotedCols := make([]string, len(w.cfg.Columns))
	for i, c := range w.cfg.Columns {
		quotedCols[i] = fmt.Sprintf("%q", c)
	}
	sql := fmt.Sprintf(
		"COPY %q.%q (%s) FROM STDIN WITH (FORMAT csv, DELIMITER %s, NULL %s, QUOTE %s)",
		w.cfg.Schema, w.cfg.Table, strings.Join(quotedCols, ", "),
		sqlLit(string(w.cfg.CSV.Delimiter)), sqlLit(w.cfg.CSV.Null), sqlLit(string(w.cfg.CSV.Quote)),
	)
	tag, err := w.tx.Conn().PgConn().CopyFrom(ctx, w.pr, sql)
	if err != nil {
		w.copyDone <- copyOutcome{err: fmt.Errorf("copy stream failed: %w", err)}
		return
	}
	w.copyDone <- copyOutcome{rowsCopied: tag.RowsAffected()}
}

func sqlLit(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (w *copyWriter) WriteRow(ctx context.Context, row transform.Row) error {
	w.buf.WriteString(csvenc.EncodeRow(row, w.cfg.CSV))
	w.buf.WriteByte('\n')
	w.bufRows++
	w.sinceFlush++
	w.written++

	if w.bufRows >= w.cfg.BufferSize || w.sinceFlush >= w.cfg.FlushEvery {
		if err := w.flush(); err != nil {
			return err
		}
		w.sinceFlush = 0
	}
	return nil
}

func (w *copyWriter) flush() error {
	if w.bufRows == 0 {
		return nil
	}
	if _, err := w.pw.Write([]byte(w.buf.String())); err != nil {
		return fmt.Errorf("writing to copy stream: %w", err)
	}
	w.buf.Reset()
	w.bufRows = 0
	return nil
}

func (w *copyWriter) Close(ctx context.Context) (Result, error) {
	if err := w.flush(); err != nil {
		w.Abort(ctx)
		return Result{}, err
	}
	if err := w.pw.Close(); err != nil {
		w.Abort(ctx)
		return Result{}, fmt.Errorf("closing copy stream: %w", err)
	}
	outcome := <-w.copyDone
	if outcome.err != nil {
		_ = w.tx.Rollback(ctx)
		return Result{}, outcome.err
	}
	if err := w.tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("committing copy transaction: %w", err)
	}
	return Result{RowsWritten: uint64(outcome.rowsCopied)}, nil
}

// Abort cancels the in-flight COPY stream and rolls back the
// transaction.
func (w *copyWriter) Abort(ctx context.Context) {
	_ = w.pw.CloseWithError(fmt.Errorf("copy aborted"))
	<-w.copyDone
	_ = w.tx.Rollback(ctx)
}
