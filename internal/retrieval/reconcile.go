package retrieval

import (
	"sort"
	"time"
)

// Cell is one table value; Valid is false for an explicitly missing cell.
type Cell struct {
	Value float64
	Valid bool
}

// Row is one timestamp-keyed table row. Cells align with UnitTable.Columns.
type Row struct {
	Time  time.Time
	Cells []Cell
}

// UnitTable is the reconciled per-unit result: rows sorted ascending by
// timestamp, one column per logical quantity in mapping order. Columns the
// store returned nothing for are present and entirely missing.
type UnitTable struct {
	UnitID  string
	Columns []string
	Rows    []Row
}

// Reconcile merges the per-quantity series for one unit into a single
// table. The row set is the union of all timestamps seen across the unit's
// quantities; cells without a reading at that timestamp are missing. When
// two raw points for the same quantity share a timestamp, the last-seen
// value wins: the store's own result ordering is the authority, never an
// average.
//
// Reconcile is deterministic and idempotent: the same input series always
// produce an identical table.
func Reconcile(unitID string, columns []string, series map[QueryKey][]SeriesPoint) UnitTable {
	// Per-column lookup with last-seen overwrite, plus the timestamp union.
	timestamps := make(map[int64]struct{})
	byColumn := make([]map[int64]float64, len(columns))
	for i, col := range columns {
		points := series[QueryKey{UnitID: unitID, Quantity: col}]
		if len(points) == 0 {
			continue
		}
		values := make(map[int64]float64, len(points))
		for _, p := range points {
			ts := p.Time.UTC().UnixNano()
			values[ts] = p.Value
			timestamps[ts] = struct{}{}
		}
		byColumn[i] = values
	}

	ordered := make([]int64, 0, len(timestamps))
	for ts := range timestamps {
		ordered = append(ordered, ts)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i] < ordered[j] })

	rows := make([]Row, len(ordered))
	for ri, ts := range ordered {
		cells := make([]Cell, len(columns))
		for ci := range columns {
			if byColumn[ci] != nil {
				if v, ok := byColumn[ci][ts]; ok {
					cells[ci] = Cell{Value: v, Valid: true}
				}
			}
		}
		rows[ri] = Row{Time: time.Unix(0, ts).UTC(), Cells: cells}
	}

	return UnitTable{UnitID: unitID, Columns: append([]string(nil), columns...), Rows: rows}
}
