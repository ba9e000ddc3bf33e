package writer

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockmigrate/mongox/pkg/transform"
)

func TestBuildInsertStatementShape(t *testing.T) {
	cfg := InsertConfig{
		Schema:     "public",
		Table:      "widgets",
		Columns:    []string{"id", "name"},
		PrimaryKey: []string{"id"},
	}
	rows := []transform.Row{
		{Values: []transform.Value{transform.Present("1"), transform.Present("alice")}},
		{Values: []transform.Value{transform.Present("2"), transform.NullValue()}},
	}
	sql, args := buildInsertStatement(cfg, rows)

	assert.Contains(t, sql, `INSERT INTO "public"."widgets" ("id", "name") VALUES`)
	assert.Contains(t, sql, "($1, $2), ($3, $4)")
	assert.Contains(t, sql, `ON CONFLICT ("id") DO NOTHING`)
	assert.Equal(t, []interface{}{"1", "alice", "2", nil}, args)
}

func TestBuildInsertStatementCompositePrimaryKey(t *testing.T) {
	cfg := InsertConfig{
		Schema:     "public",
		Table:      "widgets",
		Columns:    []string{"a", "b"},
		PrimaryKey: []string{"a", "b"},
	}
	rows := []transform.Row{
		{Values: []transform.Value{transform.Present("1"), transform.Present("2")}},
	}
	sql, _ := buildInsertStatement(cfg, rows)
	assert.Contains(t, sql, `ON CONFLICT ("a", "b") DO NOTHING`)
}

func TestNewInsertWriterRequiresPrimaryKey(t *testing.T) {
	_, err := NewInsertWriter(nil, InsertConfig{Schema: "public", Table: "widgets", Columns: []string{"id"}})
	assert.Error(t, err)
}

func TestNewInsertWriterDefaultsBatchSize(t *testing.T) {
	w, err := NewInsertWriter(nil, InsertConfig{Schema: "public", Table: "widgets", Columns: []string{"id"}, PrimaryKey: []string{"id"}})
	assert.NoError(t, err)
	iw := w.(*insertWriter)
	assert.Equal(t, 1000, iw.cfg.BatchSize)
}

func TestInsertWriterAbortClearsPending(t *testing.T) {
	w, err := NewInsertWriter(nil, InsertConfig{Schema: "public", Table: "widgets", Columns: []string{"id"}, PrimaryKey: []string{"id"}, BatchSize: 100})
	assert.NoError(t, err)
	iw := w.(*insertWriter)
	iw.pending = []transform.Row{{}}
	w.Abort(nil)
	assert.Empty(t, iw.pending)
}
