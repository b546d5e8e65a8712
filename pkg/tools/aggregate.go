package tools

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/datalens-dev/datalens/pkg/dataset"
)

var aggregationFuncs = []string{"sum", "mean", "count", "min", "max"}

// aggFunc folds the numeric values of one group.
type aggFunc func(values []float64, rows int) float64

func lookupAggFunc(name string) (aggFunc, error) {
	switch name {
	case "sum":
		return func(vs []float64, _ int) float64 {
			var s float64
			for _, v := range vs {
				s += v
			}
			return s
		}, nil
	case "mean":
		return func(vs []float64, _ int) float64 {
			if len(vs) == 0 {
				return math.NaN()
			}
			var s float64
			for _, v := range vs {
				s += v
			}
			return s / float64(len(vs))
		}, nil
	case "count":
		return func(_ []float64, rows int) float64 { return float64(rows) }, nil
	case "min":
		return func(vs []float64, _ int) float64 {
			if len(vs) == 0 {
				return math.NaN()
			}
			m := vs[0]
			for _, v := range vs[1:] {
				if v < m {
					m = v
				}
			}
			return m
		}, nil
	case "max":
		return func(vs []float64, _ int) float64 {
			if len(vs) == 0 {
				return math.NaN()
			}
			m := vs[0]
			for _, v := range vs[1:] {
				if v > m {
					m = v
				}
			}
			return m
		}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAggregation, name)
}

type aggregateTool struct{}

func (t *aggregateTool) Name() string { return "aggregate" }

func (t *aggregateTool) Description() string {
	return "Group rows by one or more columns and aggregate a target column. " +
		"Functions: sum, mean, count, min, max. 'count' needs no target column."
}

func (t *aggregateTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"group_by": map[string]any{
				"type": "array",
				"items": map[string]any{"type": "string"},
			},
			"column":   map[string]any{"type": "string", "description": "Target column to aggregate"},
			"function": map[string]any{"type": "string", "enum": aggregationFuncs},
		},
		"required": []string{"group_by", "function"},
	}
}

func (t *aggregateTool) Apply(f *dataset.Frame, params map[string]any) (*Result, error) {
	fn, err := stringParam(params, "function")
	if err != nil {
		return nil, err
	}
	agg, err := lookupAggFunc(fn)
	if err != nil {
		return nil, err
	}

	groupBy, err := stringListParam(params, "group_by")
	if err != nil {
		return nil, err
	}
	groupIdx := make([]int, len(groupBy))
	for i, name := range groupBy {
		idx, ok := f.ColumnIndex(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", dataset.ErrColumnNotFound, name)
		}
		groupIdx[i] = idx
	}

	target := optionalString(params, "column", "")
	targetIdx := -1
	if target != "" {
		idx, ok := f.ColumnIndex(target)
		if !ok {
			return nil, fmt.Errorf("%w: %q", dataset.ErrColumnNotFound, target)
		}
		targetIdx = idx
	} else if fn != "count" {
		return nil, invalidParams("function %q requires a target column", fn)
	}

	type group struct {
		key    []any
		values []float64
		rows   int
	}
	groups := make(map[string]*group)
	var order []string
	for _, row := range f.Rows {
		key := make([]any, len(groupIdx))
		var kb strings.Builder
		for i, idx := range groupIdx {
			key[i] = row[idx]
			fmt.Fprintf(&kb, "%v\x00", row[idx])
		}
		ks := kb.String()
		g, ok := groups[ks]
		if !ok {
			g = &group{key: key}
			groups[ks] = g
			order = append(order, ks)
		}
		g.rows++
		if targetIdx >= 0 {
			if n, ok := dataset.AsNumber(row[targetIdx]); ok && !math.IsNaN(n) {
				g.values = append(g.values, n)
			}
		}
	}
	sort.Strings(order)

	resultCol := fn
	if target != "" {
		resultCol = fn + "_" + target
	}
	columns := append(append([]string(nil), groupBy...), resultCol)

	rows := make([][]any, 0, len(order))
	for _, ks := range order {
		g := groups[ks]
		row := append(append([]any(nil), g.key...), agg(g.values, g.rows))
		rows = append(rows, row)
	}

	out := dataset.NewFrame(columns, rows)
	return &Result{
		Frame: out,
		Summary: map[string]any{
			"groups":   len(rows),
			"function": fn,
		},
	}, nil
}

type pivotTool struct{}

func (t *pivotTool) Name() string { return "pivot" }

func (t *pivotTool) Description() string {
	return "Pivot the dataset: rows keyed by an index column, one output column per " +
		"distinct value of a pivot column, cells aggregated from a values column."
}

func (t *pivotTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"index":    map[string]any{"type": "string"},
			"columns":  map[string]any{"type": "string"},
			"values":   map[string]any{"type": "string"},
			"function": map[string]any{"type": "string", "enum": aggregationFuncs},
		},
		"required": []string{"index", "columns", "values"},
	}
}

func (t *pivotTool) Apply(f *dataset.Frame, params map[string]any) (*Result, error) {
	indexCol, err := stringParam(params, "index")
	if err != nil {
		return nil, err
	}
	pivotCol, err := stringParam(params, "columns")
	if err != nil {
		return nil, err
	}
	valuesCol, err := stringParam(params, "values")
	if err != nil {
		return nil, err
	}
	fn := optionalString(params, "function", "sum")
	agg, err := lookupAggFunc(fn)
	if err != nil {
		return nil, err
	}

	var idxs [3]int
	for i, name := range []string{indexCol, pivotCol, valuesCol} {
		idx, ok := f.ColumnIndex(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q", dataset.ErrColumnNotFound, name)
		}
		idxs[i] = idx
	}

	type cellGroup struct {
		values []float64
		rows   int
	}
	cells := make(map[string]map[string]*cellGroup)
	var indexOrder, pivotOrder []string
	for _, row := range f.Rows {
		iv := fmt.Sprintf("%v", row[idxs[0]])
		pv := fmt.Sprintf("%v", row[idxs[1]])
		if _, ok := cells[iv]; !ok {
			cells[iv] = make(map[string]*cellGroup)
			indexOrder = append(indexOrder, iv)
		}
		cg, ok := cells[iv][pv]
		if !ok {
			cg = &cellGroup{}
			cells[iv][pv] = cg
			if !contains(pivotOrder, pv) {
				pivotOrder = append(pivotOrder, pv)
			}
		}
		cg.rows++
		if n, ok := dataset.AsNumber(row[idxs[2]]); ok && !math.IsNaN(n) {
			cg.values = append(cg.values, n)
		}
	}
	sort.Strings(indexOrder)
	sort.Strings(pivotOrder)

	columns := append([]string{indexCol}, pivotOrder...)
	rows := make([][]any, 0, len(indexOrder))
	for _, iv := range indexOrder {
		row := make([]any, len(columns))
		row[0] = iv
		for j, pv := range pivotOrder {
			if cg, ok := cells[iv][pv]; ok {
				row[j+1] = agg(cg.values, cg.rows)
			}
		}
		rows = append(rows, row)
	}

	out := dataset.NewFrame(columns, rows)
	return &Result{
		Frame: out,
		Summary: map[string]any{
			"rows":     len(rows),
			"columns":  len(columns),
			"function": fn,
		},
	}, nil
}

func stringListParam(params map[string]any, key string) ([]string, error) {
	v, ok := params[key]
	if !ok {
		return nil, invalidParams("missing required field %q", key)
	}
	switch list := v.(type) {
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, invalidParams("field %q: expected list of strings", key)
			}
			out = append(out, s)
		}
		if len(out) == 0 {
			return nil, invalidParams("field %q: list is empty", key)
		}
		return out, nil
	case []string:
		if len(list) == 0 {
			return nil, invalidParams("field %q: list is empty", key)
		}
		return list, nil
	case string:
		return []string{list}, nil
	}
	return nil, invalidParams("field %q: expected list of strings, got %T", key, v)
}
