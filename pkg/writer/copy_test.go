package writer

import (
	"bufio"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockmigrate/mongox/pkg/csvenc"
	"github.com/blockmigrate/mongox/pkg/transform"
)

func TestSQLLitEscapesSingleQuote(t *testing.T) {
	assert.Equal(t, `','`, sqlLit(","))
	assert.Equal(t, `''''`, sqlLit("'"))
}

func TestSQLLitEmptyString(t *testing.T) {
	assert.Equal(t, `''`, sqlLit(""))
}

// newTestCopyWriter builds a copyWriter with no live pgx connection,
// pairing its pipe with a background line-counting reader so WriteRow
// can be exercised without a transaction or a real COPY stream.
func newTestCopyWriter(t *testing.T, cfg CopyConfig) (*copyWriter, <-chan int) {
	t.Helper()
	pr, pw := io.Pipe()
	w := &copyWriter{cfg: cfg, pw: pw, pr: pr}

	lines := make(chan int, 1)
	go func() {
		scanner := bufio.NewScanner(pr)
		n := 0
		for scanner.Scan() {
			n++
		}
		lines <- n
	}()
	return w, lines
}

func TestWriteRowFlushesOnFlushEveryCadence(t *testing.T) {
	w, _ := newTestCopyWriter(t, CopyConfig{CSV: csvenc.DefaultOptions(), BufferSize: 1000, FlushEvery: 2})
	row := transform.Row{Values: []transform.Value{transform.Present("1")}}

	require.NoError(t, w.WriteRow(nil, row))
	assert.Equal(t, 1, w.bufRows, "first row stays buffered, below FlushEvery")

	require.NoError(t, w.WriteRow(nil, row))
	assert.Equal(t, 0, w.bufRows, "second row crosses FlushEvery and must flush")
	assert.Equal(t, 0, w.sinceFlush)
}

func TestWriteRowFlushesOnBufferSizeCadence(t *testing.T) {
	w, _ := newTestCopyWriter(t, CopyConfig{CSV: csvenc.DefaultOptions(), BufferSize: 2, FlushEvery: 1000})
	row := transform.Row{Values: []transform.Value{transform.Present("1")}}

	require.NoError(t, w.WriteRow(nil, row))
	assert.Equal(t, 1, w.bufRows)

	require.NoError(t, w.WriteRow(nil, row))
	assert.Equal(t, 0, w.bufRows, "second row crosses BufferSize and must flush")
}

func TestFlushIsNoOpWhenBufferEmpty(t *testing.T) {
	pr, pw := io.Pipe()
	_ = pr
	w := &copyWriter{pw: pw}
	assert.NoError(t, w.flush())
}
