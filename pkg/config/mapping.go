package config

import (
	"errors"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// MappingMode selects how a source document becomes target columns.
// A pure tagged variant — no inheritance, just a two-valued enum
// dispatched on in pkg/transform.
type MappingMode string

const (
	ModeJSONB   MappingMode = "JSONB"
	ModeColumns MappingMode = "COLUMNS"
)

// InsertMode selects the writer used for a run.
type InsertMode string

const (
	InsertModeCopy   InsertMode = "COPY"
	InsertModeInsert InsertMode = "INSERT"
)

// ConstantColumns holds literal values appended to every migrated row,
// e.g. audit stamps. names[i] maps to values[i].
type ConstantColumns struct {
	Names  []string
	Values []string
}

// TableMapping describes how one Mongo collection maps onto one
// target table.
type TableMapping struct {
	SourceDatabase   string
	SourceCollection string

	TargetSchema string
	TargetTable  string

	Mode          MappingMode
	TargetColumns []string // ordered, COLUMNS mode only
	ColumnRename  map[string]string
	TypeCoercion  map[string]string
	PrimaryKey    []string
	Constants     ConstantColumns

	// JSONB-mode column names.
	IDColumn  string
	DocColumn string
}

// NewTableMapping validates the constant-columns arity invariant:
// constantColumns.names and constantColumns.values must have equal
// cardinality when both are non-empty.
func NewTableMapping(opts TableMapping) (*TableMapping, error) {
	if len(opts.Constants.Names) > 0 && len(opts.Constants.Values) > 0 &&
		len(opts.Constants.Names) != len(opts.Constants.Values) {
		return nil, fmt.Errorf("constant-columns arity mismatch: %d names, %d values",
			len(opts.Constants.Names), len(opts.Constants.Values))
	}
	if opts.SourceCollection == "" {
		return nil, errors.New("mongo.collection is required")
	}
	if opts.TargetTable == "" {
		return nil, errors.New("table.target.table is required")
	}
	if opts.Mode == "" {
		opts.Mode = ModeColumns
	}
	m := opts
	return &m, nil
}

// QuotedTargetName returns the schema-qualified, double-quoted target
// identifier for use in SQL.
func (m *TableMapping) QuotedTargetName() string {
	return fmt.Sprintf("%q.%q", m.TargetSchema, m.TargetTable)
}

// SourceFieldFor applies the rename map in reverse: it returns the
// source field renamed to targetColumn, or targetColumn itself when no
// rename targets it.
func (m *TableMapping) SourceFieldFor(targetColumn string) string {
	for src, tgt := range m.ColumnRename {
		if tgt == targetColumn {
			return src
		}
	}
	return targetColumn
}

// MappingFromProperties builds a TableMapping from a loaded properties
// map.
func MappingFromProperties(p Properties) (*TableMapping, error) {
	mode := MappingMode(strings.ToUpper(p.Get("mapping.mode", string(ModeColumns))))

	constants := ConstantColumns{}
	splitRe := p.Get("table.constantColumns.splitRegex", ",")
	if names := p.Get("table.constantColumns.names", ""); names != "" {
		constants.Names = splitOn(names, splitRe)
	}
	if values := p.Get("table.constantColumns.values", ""); values != "" {
		constants.Values = splitOn(values, splitRe)
	}

	var pk []string
	if v := p.Get("table.primaryKey", ""); v != "" {
		pk = splitOn(v, ",")
	}

	rename := make(map[string]string)
	for src, tgt := range p.WithPrefix("table.columnMapping") {
		rename[src] = tgt
	}
	if inline, err := parseInlineYAMLMap(p.Get("table.columnMapping", "")); err != nil {
		return nil, fmt.Errorf("table.columnMapping: %w", err)
	} else {
		for k, v := range inline {
			rename[k] = v
		}
	}

	coerce := make(map[string]string)
	for srcType, tgtType := range p.WithPrefix("table.typeMapping") {
		coerce[srcType] = tgtType
	}
	if inline, err := parseInlineYAMLMap(p.Get("table.typeMapping", "")); err != nil {
		return nil, fmt.Errorf("table.typeMapping: %w", err)
	} else {
		for k, v := range inline {
			coerce[k] = v
		}
	}

	var targetColumns []string
	if v := p.Get("table.target.columns", ""); v != "" {
		targetColumns = splitOn(v, ",")
	}

	return NewTableMapping(TableMapping{
		SourceDatabase:   p.Get("mongo.database", ""),
		SourceCollection: p.Get("mongo.collection", ""),
		TargetSchema:     p.Get("table.target.schema", "public"),
		TargetTable:      p.Get("table.target.table", ""),
		Mode:             mode,
		TargetColumns:    targetColumns,
		ColumnRename:     rename,
		TypeCoercion:     coerce,
		PrimaryKey:       pk,
		Constants:        constants,
		IDColumn:         p.Get("mapping.idColumn", "id"),
		DocColumn:        p.Get("mapping.docColumn", "doc"),
	})
}

// parseInlineYAMLMap lets table.columnMapping/table.typeMapping be
// supplied as a single inline YAML block (`srcField: targetField` per
// line) instead of one table.columnMapping.<src> property per pair.
// A value that doesn't parse as a YAML mapping is rejected rather than
// silently ignored, since a plain scalar here is almost always a typo
// for the per-key form.
func parseInlineYAMLMap(value string) (map[string]string, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	out := make(map[string]string)
	if err := yaml.Unmarshal([]byte(value), &out); err != nil {
		return nil, fmt.Errorf("parsing inline YAML mapping: %w", err)
	}
	return out, nil
}

func splitOn(v, sepPattern string) []string {
	// splitRegex in the properties file is, in practice, a literal
	// separator such as "," — a single-character split is sufficient
	// for every documented use and avoids pulling in regexp for a
	// one-character match.
	sep := sepPattern
	if sep == "" {
		sep = ","
	}
	parts := strings.Split(v, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}
