package validate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blockmigrate/mongox/pkg/metrics"
	"github.com/blockmigrate/mongox/pkg/source"
	"github.com/blockmigrate/mongox/pkg/transform"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRowCountValidatorReportsOKWhenCountsMatch(t *testing.T) {
	agg := metrics.New(prometheus.NewRegistry(), "rowcount_ok")
	agg.AddRowsRead(10)
	agg.AddRowsWritten(8)
	agg.AddRowsSkipped(2)

	v := NewRowCountValidator(agg)
	report := v.Validate(context.Background())
	assert.True(t, report.OK)
}

func TestRowCountValidatorReportsMismatchWhenCountsDiffer(t *testing.T) {
	agg := metrics.New(prometheus.NewRegistry(), "rowcount_mismatch")
	agg.AddRowsRead(10)
	agg.AddRowsWritten(5)

	v := NewRowCountValidator(agg)
	report := v.Validate(context.Background())
	assert.False(t, report.OK)
}

func TestDiffRowsReportsColumnCountMismatch(t *testing.T) {
	expected := transform.Row{Values: []transform.Value{transform.Present("1")}}
	actual := transform.Row{Values: []transform.Value{transform.Present("1"), transform.Present("2")}}
	assert.Contains(t, diffRows(expected, actual), "column count mismatch")
}

func TestDiffRowsReportsValueMismatch(t *testing.T) {
	expected := transform.Row{Values: []transform.Value{transform.Present("1")}}
	actual := transform.Row{Values: []transform.Value{transform.Present("2")}}
	assert.Contains(t, diffRows(expected, actual), "column 0 mismatch")
}

func TestDiffRowsReportsNullMismatch(t *testing.T) {
	expected := transform.Row{Values: []transform.Value{transform.NullValue()}}
	actual := transform.Row{Values: []transform.Value{transform.Present("2")}}
	assert.NotEmpty(t, diffRows(expected, actual))
}

func TestDiffRowsEmptyWhenRowsMatch(t *testing.T) {
	expected := transform.Row{Values: []transform.Value{transform.Present("1"), transform.NullValue()}}
	actual := transform.Row{Values: []transform.Value{transform.Present("1"), transform.NullValue()}}
	assert.Empty(t, diffRows(expected, actual))
}

func TestJoinColsJoinsWithCommaSpace(t *testing.T) {
	assert.Equal(t, `"a", "b", "c"`, joinCols([]string{`"a"`, `"b"`, `"c"`}))
}

func TestChecksumValidatorPropagatesSampleError(t *testing.T) {
	reader := source.NewMockReader()
	reader.SampleErr = assert.AnError
	v := NewChecksumValidator(reader, nil, nil, 10)

	_, err := v.Validate(context.Background())
	require.Error(t, err)
}
