package retrieval

// ColumnStats holds the descriptive statistics for one table column,
// computed over non-missing values only. Min, Max and Mean are nil when the
// column has zero observations; they are never faked as 0 or NaN.
type ColumnStats struct {
	Column  string   `json:"column"`
	Count   int      `json:"count"`
	Missing int      `json:"missing"`
	Min     *float64 `json:"min,omitempty"`
	Max     *float64 `json:"max,omitempty"`
	Mean    *float64 `json:"mean,omitempty"`
}

// ComputeStats returns one ColumnStats per table column, in column order.
func ComputeStats(table UnitTable) []ColumnStats {
	stats := make([]ColumnStats, len(table.Columns))
	for ci, col := range table.Columns {
		var (
			count    int
			sum      float64
			min, max float64
		)
		for _, row := range table.Rows {
			cell := row.Cells[ci]
			if !cell.Valid {
				continue
			}
			if count == 0 {
				min, max = cell.Value, cell.Value
			} else {
				if cell.Value < min {
					min = cell.Value
				}
				if cell.Value > max {
					max = cell.Value
				}
			}
			sum += cell.Value
			count++
		}
		s := ColumnStats{
			Column:  col,
			Count:   count,
			Missing: len(table.Rows) - count,
		}
		if count > 0 {
			mean := sum / float64(count)
			s.Min, s.Max, s.Mean = &min, &max, &mean
		}
		stats[ci] = s
	}
	return stats
}
