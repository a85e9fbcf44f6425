package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(minute int) time.Time {
	return time.Date(2024, 1, 1, 0, minute, 0, 0, time.UTC)
}

func TestReconcileUnionAndMissing(t *testing.T) {
	series := map[QueryKey][]SeriesPoint{
		{"U1", "a"}: {{Time: ts(0), Value: 1}, {Time: ts(2), Value: 3}},
		{"U1", "b"}: {{Time: ts(1), Value: 10}, {Time: ts(2), Value: 20}},
	}

	table := Reconcile("U1", []string{"a", "b"}, series)

	assert.Equal(t, "U1", table.UnitID)
	assert.Equal(t, []string{"a", "b"}, table.Columns)
	require.Len(t, table.Rows, 3)

	// Rows ascend by timestamp, union of all quantities.
	assert.Equal(t, ts(0), table.Rows[0].Time)
	assert.Equal(t, ts(1), table.Rows[1].Time)
	assert.Equal(t, ts(2), table.Rows[2].Time)

	// a has no reading at ts(1); b has none at ts(0). Both are explicitly
	// missing, not zero.
	assert.Equal(t, Cell{Value: 1, Valid: true}, table.Rows[0].Cells[0])
	assert.Equal(t, Cell{}, table.Rows[0].Cells[1])
	assert.Equal(t, Cell{}, table.Rows[1].Cells[0])
	assert.Equal(t, Cell{Value: 10, Valid: true}, table.Rows[1].Cells[1])
	assert.Equal(t, Cell{Value: 3, Valid: true}, table.Rows[2].Cells[0])
	assert.Equal(t, Cell{Value: 20, Valid: true}, table.Rows[2].Cells[1])
}

func TestReconcileDuplicateTimestampKeepsLastSeen(t *testing.T) {
	series := map[QueryKey][]SeriesPoint{
		{"U1", "a"}: {
			{Time: ts(0), Value: 1},
			{Time: ts(0), Value: 2},
			{Time: ts(0), Value: 3},
		},
	}

	table := Reconcile("U1", []string{"a"}, series)
	require.Len(t, table.Rows, 1)
	assert.Equal(t, Cell{Value: 3, Valid: true}, table.Rows[0].Cells[0])
}

func TestReconcileAbsentQuantityIsAllMissingColumn(t *testing.T) {
	series := map[QueryKey][]SeriesPoint{
		{"U1", "a"}: {{Time: ts(0), Value: 1}, {Time: ts(1), Value: 2}},
		// "b" absent entirely: its query failed upstream.
	}

	table := Reconcile("U1", []string{"a", "b"}, series)
	require.Len(t, table.Rows, 2)
	assert.Equal(t, []string{"a", "b"}, table.Columns)
	for _, row := range table.Rows {
		assert.False(t, row.Cells[1].Valid)
	}
}

func TestReconcileEmptySeries(t *testing.T) {
	table := Reconcile("U1", []string{"a", "b"}, map[QueryKey][]SeriesPoint{})
	assert.Empty(t, table.Rows)
	assert.Equal(t, []string{"a", "b"}, table.Columns)
}

func TestReconcileIdempotent(t *testing.T) {
	series := map[QueryKey][]SeriesPoint{
		{"U1", "a"}: {{Time: ts(5), Value: 1}, {Time: ts(1), Value: 2}, {Time: ts(3), Value: 3}},
		{"U1", "b"}: {{Time: ts(2), Value: 4}, {Time: ts(3), Value: 5}},
	}

	first := Reconcile("U1", []string{"a", "b"}, series)
	second := Reconcile("U1", []string{"a", "b"}, series)
	assert.Equal(t, first, second)
}

func TestReconcileNormalizesZones(t *testing.T) {
	loc := time.FixedZone("plus2", 2*3600)
	series := map[QueryKey][]SeriesPoint{
		{"U1", "a"}: {{Time: ts(0).In(loc), Value: 1}},
		{"U1", "b"}: {{Time: ts(0), Value: 2}},
	}

	table := Reconcile("U1", []string{"a", "b"}, series)
	require.Len(t, table.Rows, 1)
	assert.True(t, table.Rows[0].Cells[0].Valid)
	assert.True(t, table.Rows[0].Cells[1].Valid)
	assert.Equal(t, time.UTC, table.Rows[0].Time.Location())
}
