package dataset

import (
	"fmt"
	"math"
	"strings"
)

// Description summarizes a frame without exposing raw rows.
type Description struct {
	Rows    int          `json:"rows"`
	Columns []ColumnInfo `json:"columns"`
}

// ColumnInfo describes one column.
type ColumnInfo struct {
	Name  string        `json:"name"`
	Type  ColumnType    `json:"type"`
	Nulls int           `json:"nulls"`
	Stats *NumericStats `json:"stats,omitempty"`
}

// NumericStats holds summary statistics for numeric columns.
type NumericStats struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Mean float64 `json:"mean"`
}

// Describe computes a frame description.
func Describe(f *Frame) *Description {
	d := &Description{
		Rows:    f.NumRows(),
		Columns: make([]ColumnInfo, f.NumCols()),
	}
	for i, name := range f.Columns {
		info := ColumnInfo{Name: name, Type: f.InferType(i)}

		var (
			sum   float64
			count int
			min   = math.Inf(1)
			max   = math.Inf(-1)
		)
		for _, row := range f.Rows {
			v := row[i]
			if v == nil {
				info.Nulls++
				continue
			}
			if n, ok := AsNumber(v); ok && !math.IsNaN(n) {
				sum += n
				count++
				if n < min {
					min = n
				}
				if n > max {
					max = n
				}
			}
		}
		if info.Type == TypeNumber && count > 0 {
			info.Stats = &NumericStats{Min: min, Max: max, Mean: sum / float64(count)}
		}
		d.Columns[i] = info
	}
	return d
}

// String renders the description as a compact block suitable for a
// system prompt.
func (d *Description) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Dataset: %d rows, %d columns\n", d.Rows, len(d.Columns))
	for _, c := range d.Columns {
		fmt.Fprintf(&b, "- %s (%s)", c.Name, c.Type)
		if c.Stats != nil {
			fmt.Fprintf(&b, " min=%g max=%g mean=%g", c.Stats.Min, c.Stats.Max, c.Stats.Mean)
		}
		if c.Nulls > 0 {
			fmt.Fprintf(&b, " nulls=%d", c.Nulls)
		}
		b.WriteByte('\n')
	}
	return b.String()
}
