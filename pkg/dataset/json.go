package dataset

import (
	"encoding/json"
	"math"
	"time"
)

type frameJSON struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Cells that plain JSON cannot carry faithfully are wrapped in
// single-key tag objects: non-finite floats (encoding/json rejects
// NaN and ±Inf) and time values (which would otherwise come back as
// strings, indistinguishable from string cells that merely look like
// dates).
type taggedFloat struct {
	F string `json:"$f"`
}

type taggedTime struct {
	T string `json:"$t"`
}

// MarshalJSON encodes the frame so that every cell survives a
// persistence round trip, including NaN and infinite values produced
// by log/sqrt transforms and empty-group aggregations.
func (f *Frame) MarshalJSON() ([]byte, error) {
	rows := make([][]any, len(f.Rows))
	for i, row := range f.Rows {
		out := make([]any, len(row))
		for j, v := range row {
			out[j] = encodeCell(v)
		}
		rows[i] = out
	}
	return json.Marshal(frameJSON{Columns: f.Columns, Rows: rows})
}

// UnmarshalJSON restores typed cells after a persistence round trip.
// Untagged cells are taken as-is, so a string cell that happens to
// look like a date stays a string.
func (f *Frame) UnmarshalJSON(data []byte) error {
	var raw frameJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Columns = raw.Columns
	f.Rows = raw.Rows
	for _, row := range f.Rows {
		for j, v := range row {
			if m, ok := v.(map[string]any); ok {
				if cell, ok := decodeCell(m); ok {
					row[j] = cell
				}
			}
		}
	}
	return nil
}

func encodeCell(v any) any {
	switch c := v.(type) {
	case float64:
		switch {
		case math.IsNaN(c):
			return taggedFloat{F: "nan"}
		case math.IsInf(c, 1):
			return taggedFloat{F: "+inf"}
		case math.IsInf(c, -1):
			return taggedFloat{F: "-inf"}
		}
	case time.Time:
		return taggedTime{T: c.Format(time.RFC3339Nano)}
	}
	return v
}

func decodeCell(m map[string]any) (any, bool) {
	if len(m) != 1 {
		return nil, false
	}
	if s, ok := m["$f"].(string); ok {
		switch s {
		case "nan":
			return math.NaN(), true
		case "+inf":
			return math.Inf(1), true
		case "-inf":
			return math.Inf(-1), true
		}
		return nil, false
	}
	if s, ok := m["$t"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t, true
		}
	}
	return nil, false
}
