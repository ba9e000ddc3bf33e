package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTableMappingRejectsArityMismatch(t *testing.T) {
	_, err := NewTableMapping(TableMapping{
		SourceCollection: "widgets",
		TargetTable:      "widgets",
		Constants: ConstantColumns{
			Names:  []string{"a", "b"},
			Values: []string{"only-one"},
		},
	})
	assert.Error(t, err)
}

func TestNewTableMappingRequiresSourceCollection(t *testing.T) {
	_, err := NewTableMapping(TableMapping{TargetTable: "widgets"})
	assert.Error(t, err)
}

func TestNewTableMappingDefaultsToColumnsMode(t *testing.T) {
	m, err := NewTableMapping(TableMapping{SourceCollection: "widgets", TargetTable: "widgets"})
	require.NoError(t, err)
	assert.Equal(t, ModeColumns, m.Mode)
}

func TestQuotedTargetName(t *testing.T) {
	m := &TableMapping{TargetSchema: "public", TargetTable: "widgets"}
	assert.Equal(t, `"public"."widgets"`, m.QuotedTargetName())
}

func TestSourceFieldForAppliesRename(t *testing.T) {
	m := &TableMapping{ColumnRename: map[string]string{"src_name": "name"}}
	assert.Equal(t, "src_name", m.SourceFieldFor("name"))
	assert.Equal(t, "untouched", m.SourceFieldFor("untouched"))
}

func TestMappingFromPropertiesColumnsMode(t *testing.T) {
	p := Properties{
		"mongo.database":               "source_db",
		"mongo.collection":             "widgets",
		"table.target.schema":          "public",
		"table.target.table":           "widgets",
		"table.target.columns":         "id,name,price",
		"table.primaryKey":             "id",
		"table.columnMapping.src_name": "name",
		"table.typeMapping.string":     "bigint",
	}
	m, err := MappingFromProperties(p)
	require.NoError(t, err)
	assert.Equal(t, ModeColumns, m.Mode)
	assert.Equal(t, []string{"id", "name", "price"}, m.TargetColumns)
	assert.Equal(t, []string{"id"}, m.PrimaryKey)
	assert.Equal(t, "name", m.ColumnRename["src_name"])
	assert.Equal(t, "bigint", m.TypeCoercion["string"])
}

func TestMappingFromPropertiesConstantColumns(t *testing.T) {
	p := Properties{
		"mongo.collection":               "widgets",
		"table.target.table":             "widgets",
		"table.constantColumns.names":    "created_by,migration_date",
		"table.constantColumns.values":   "CDM,2024-12-16",
	}
	m, err := MappingFromProperties(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"created_by", "migration_date"}, m.Constants.Names)
	assert.Equal(t, []string{"CDM", "2024-12-16"}, m.Constants.Values)
}

func TestMappingFromPropertiesJSONBMode(t *testing.T) {
	p := Properties{
		"mongo.collection":   "widgets",
		"table.target.table": "widgets",
		"mapping.mode":       "jsonb",
		"mapping.idColumn":   "pk",
		"mapping.docColumn":  "payload",
	}
	m, err := MappingFromProperties(p)
	require.NoError(t, err)
	assert.Equal(t, ModeJSONB, m.Mode)
	assert.Equal(t, "pk", m.IDColumn)
	assert.Equal(t, "payload", m.DocColumn)
}

func TestMappingFromPropertiesInlineYAMLColumnMapping(t *testing.T) {
	p := Properties{
		"mongo.collection":    "widgets",
		"table.target.table":  "widgets",
		"table.columnMapping": "src_name: name\nsrc_price: price\n",
	}
	m, err := MappingFromProperties(p)
	require.NoError(t, err)
	assert.Equal(t, "name", m.ColumnRename["src_name"])
	assert.Equal(t, "price", m.ColumnRename["src_price"])
}

func TestParseInlineYAMLMapRejectsScalar(t *testing.T) {
	_, err := parseInlineYAMLMap("not-a-mapping")
	assert.Error(t, err)
}

func TestParseInlineYAMLMapEmptyIsNil(t *testing.T) {
	m, err := parseInlineYAMLMap("")
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestSplitOnTrimsWhitespace(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, splitOn("a, b , c", ","))
}

func TestSplitOnDefaultsToComma(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitOn("a,b", ""))
}
