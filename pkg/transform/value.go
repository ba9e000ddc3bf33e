// Package transform converts source documents into ordered column
// values ready for a writer. JSONB and COLUMNS are two implementations
// of the Transformer interface — a tagged variant, not a class
// hierarchy.
package transform

import "fmt"

// Value is the tagged union a column's encoded content takes: null, or
// present text. The empty string is present text, distinct from null;
// a field that is absent and a field that is present and typed null
// both become null.
type Value struct {
	Null bool
	Text string
}

// Present constructs a non-null value.
func Present(text string) Value { return Value{Text: text} }

// NullValue is the explicit null sentinel, distinct from "".
func NullValue() Value { return Value{Null: true} }

func (v Value) String() string {
	if v.Null {
		return "<null>"
	}
	return fmt.Sprintf("%q", v.Text)
}

// Row is the ordered vector of encoded column values for one document.
type Row struct {
	Values []Value
}
