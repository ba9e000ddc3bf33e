package csvenc

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/blockmigrate/mongox/pkg/transform"
)

// TestEncodeField checks the encoded form of null, empty-string,
// whitespace, delimiter/quote-containing, and non-ASCII values, each
// of which encodes distinguishably.
func TestEncodeField(t *testing.T) {
	opts := DefaultOptions()
	tests := []struct {
		name     string
		value    transform.Value
		expected string
	}{
		{"null", transform.NullValue(), ""},
		{"empty string", transform.Present(""), `""`},
		{"whitespace only", transform.Present("   "), `"   "`},
		{"contains delimiter", transform.Present("a,b"), `"a,b"`},
		{"contains quote", transform.Present(`a"b`), `"a""b"`},
		{"non-ascii", transform.Present("café"), `"café"`},
		{"plain ascii", transform.Present("hello"), "hello"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, EncodeField(tt.value, opts))
		})
	}
}

func TestEncodeFieldNeverCollapsesToNull(t *testing.T) {
	opts := DefaultOptions()
	assert.NotEqual(t, EncodeField(transform.NullValue(), opts), EncodeField(transform.Present(""), opts))
}

func TestEncodeRow(t *testing.T) {
	opts := DefaultOptions()
	row := transform.Row{Values: []transform.Value{
		transform.NullValue(),
		transform.Present(""),
		transform.Present("a,b"),
	}}
	assert.Equal(t, `,"",` + `"a,b"`, EncodeRow(row, opts))
}

func TestEncodeFieldCustomDelimiter(t *testing.T) {
	opts := Options{Delimiter: '|', Null: "\\N", Quote: '"', Escape: '"'}
	assert.Equal(t, `\N`, EncodeField(transform.NullValue(), opts))
	assert.Equal(t, `"a|b"`, EncodeField(transform.Present("a|b"), opts))
}
