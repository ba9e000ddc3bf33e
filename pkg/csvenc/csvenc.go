// Package csvenc implements the CSV-framing contract the bulk-copy
// writer depends on. The escaping rules are a contract writers and
// tests both depend on, so they live in their own package rather than
// inline in the writer, the way block/spirit keeps sqlescape separate
// from its writer/copier code.
package csvenc

import (
	"strings"
	"unicode"

	"github.com/blockmigrate/mongox/pkg/transform"
)

// Options configures the framing. Zero-value Options uses the
// documented defaults: comma delimiter, empty-string null,
// double-quote quoting with doubled-quote escaping.
type Options struct {
	Delimiter rune
	Null      string
	Quote     rune
	Escape    rune
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{Delimiter: ',', Null: "", Quote: '"', Escape: '"'}
}

func (o Options) normalized() Options {
	if o.Delimiter == 0 {
		o.Delimiter = ','
	}
	if o.Quote == 0 {
		o.Quote = '"'
	}
	if o.Escape == 0 {
		o.Escape = '"'
	}
	return o
}

// EncodeField applies the escaping table to a single value.
func EncodeField(v transform.Value, opts Options) string {
	opts = opts.normalized()
	if v.Null {
		return opts.Null
	}
	s := v.Text
	if s == "" {
		return quoteEmpty(opts)
	}
	if needsQuoting(s, opts) {
		return quote(s, opts)
	}
	return s
}

func quoteEmpty(opts Options) string {
	return string(opts.Quote) + string(opts.Quote)
}

func needsQuoting(s string, opts Options) bool {
	if isWhitespaceOnly(s) {
		return true
	}
	if strings.ContainsRune(s, opts.Delimiter) ||
		strings.ContainsRune(s, opts.Quote) ||
		strings.ContainsAny(s, "\n\r") {
		return true
	}
	for _, r := range s {
		if r > unicode.MaxASCII {
			return true
		}
	}
	return false
}

func isWhitespaceOnly(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func quote(s string, opts Options) string {
	escaped := strings.ReplaceAll(s, string(opts.Quote), string(opts.Escape)+string(opts.Quote))
	return string(opts.Quote) + escaped + string(opts.Quote)
}

// EncodeRow renders a full row (without trailing newline) for the
// COPY stream.
func EncodeRow(row transform.Row, opts Options) string {
	opts = opts.normalized()
	fields := make([]string, len(row.Values))
	for i, v := range row.Values {
		fields[i] = EncodeField(v, opts)
	}
	return strings.Join(fields, string(opts.Delimiter))
}
