// Package dataset holds the in-memory tabular working state for an
// analysis session. A Frame is the unit every tool operates on; the
// StateStore owns the original and current Frame for one session.
package dataset

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Common errors for dataset operations.
var (
	// ErrEmptyDataset is returned when a source contains no rows or columns.
	ErrEmptyDataset = errors.New("dataset is empty")
	// ErrNotLoaded is returned when state is accessed before Load.
	ErrNotLoaded = errors.New("dataset state not initialized")
	// ErrColumnNotFound is returned when a referenced column does not exist.
	ErrColumnNotFound = errors.New("column not found")
)

// TooLargeError is returned when a dataset exceeds configured limits.
type TooLargeError struct {
	Rows, Cols       int
	MaxRows, MaxCols int
}

func (e *TooLargeError) Error() string {
	return fmt.Sprintf("dataset too large: %d rows x %d columns (limit %d x %d)",
		e.Rows, e.Cols, e.MaxRows, e.MaxCols)
}

// ColumnType is the inferred type of a column.
type ColumnType string

const (
	TypeString ColumnType = "string"
	TypeNumber ColumnType = "number"
	TypeBool   ColumnType = "bool"
	TypeTime   ColumnType = "time"
)

// Frame is an ordered, rectangular table. Cells hold string, float64,
// bool, time.Time or nil. Frames are treated as values: tool handlers
// receive one Frame and return a new one, they never mutate in place.
type Frame struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// NewFrame creates a frame from column names and rows.
// Rows shorter than the column list are padded with nil.
func NewFrame(columns []string, rows [][]any) *Frame {
	f := &Frame{Columns: append([]string(nil), columns...)}
	f.Rows = make([][]any, len(rows))
	for i, r := range rows {
		row := make([]any, len(columns))
		copy(row, r)
		f.Rows[i] = row
	}
	return f
}

// NumRows returns the number of data rows.
func (f *Frame) NumRows() int { return len(f.Rows) }

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.Columns) }

// ColumnIndex returns the position of a named column.
func (f *Frame) ColumnIndex(name string) (int, bool) {
	for i, c := range f.Columns {
		if c == name {
			return i, true
		}
	}
	return -1, false
}

// Column returns all cells of a named column.
func (f *Frame) Column(name string) ([]any, error) {
	idx, ok := f.ColumnIndex(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
	}
	out := make([]any, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[idx]
	}
	return out, nil
}

// Clone returns a deep copy of the frame. Cell values are immutable
// scalars, so copying the row slices is sufficient.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	return NewFrame(f.Columns, f.Rows)
}

// Equal reports whether two frames have identical columns and cells.
// NaN cells compare equal to each other so replayed log/sqrt results
// can be verified.
func (f *Frame) Equal(other *Frame) bool {
	if f == nil || other == nil {
		return f == other
	}
	if len(f.Columns) != len(other.Columns) || len(f.Rows) != len(other.Rows) {
		return false
	}
	for i := range f.Columns {
		if f.Columns[i] != other.Columns[i] {
			return false
		}
	}
	for i := range f.Rows {
		for j := range f.Rows[i] {
			if !cellEqual(f.Rows[i][j], other.Rows[i][j]) {
				return false
			}
		}
	}
	return true
}

func cellEqual(a, b any) bool {
	af, aok := AsNumber(a)
	bf, bok := AsNumber(b)
	if aok && bok {
		if math.IsNaN(af) && math.IsNaN(bf) {
			return true
		}
		return af == bf
	}
	return a == b
}

// InferType returns the dominant type of a column's cells.
// Nil cells are ignored; mixed columns degrade to string.
func (f *Frame) InferType(idx int) ColumnType {
	var seen ColumnType
	for _, row := range f.Rows {
		v := row[idx]
		if v == nil {
			continue
		}
		var t ColumnType
		switch v.(type) {
		case float64, int, int64:
			t = TypeNumber
		case bool:
			t = TypeBool
		case time.Time:
			t = TypeTime
		default:
			t = TypeString
		}
		if seen == "" {
			seen = t
		} else if seen != t {
			return TypeString
		}
	}
	if seen == "" {
		return TypeString
	}
	return seen
}

// AsNumber coerces a cell to float64 if it holds a numeric value.
func AsNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
