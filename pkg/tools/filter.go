package tools

import (
	"fmt"
	"strings"

	"github.com/datalens-dev/datalens/pkg/dataset"
)

var filterOperators = []string{"eq", "ne", "gt", "lt", "gte", "lte", "in", "contains"}

type filterTool struct{}

func (t *filterTool) Name() string { return "filter" }

func (t *filterTool) Description() string {
	return "Keep only the rows where a column matches a predicate. " +
		"Operators: eq, ne, gt, lt, gte, lte, in (value is a list), contains (substring)."
}

func (t *filterTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"column":   map[string]any{"type": "string", "description": "Column to test"},
			"operator": map[string]any{"type": "string", "enum": filterOperators},
			"value":    map[string]any{"description": "Comparison value (list for 'in')"},
		},
		"required": []string{"column", "operator", "value"},
	}
}

func (t *filterTool) Apply(f *dataset.Frame, params map[string]any) (*Result, error) {
	column, err := stringParam(params, "column")
	if err != nil {
		return nil, err
	}
	operator, err := stringParam(params, "operator")
	if err != nil {
		return nil, err
	}
	if !contains(filterOperators, operator) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, operator)
	}
	idx, ok := f.ColumnIndex(column)
	if !ok {
		return nil, fmt.Errorf("%w: %q", dataset.ErrColumnNotFound, column)
	}
	value := params["value"]

	var kept [][]any
	for _, row := range f.Rows {
		match, err := matches(row[idx], operator, value)
		if err != nil {
			return nil, err
		}
		if match {
			kept = append(kept, row)
		}
	}

	out := dataset.NewFrame(f.Columns, kept)
	return &Result{
		Frame: out,
		Summary: map[string]any{
			"affected_rows": len(kept),
			"removed_rows":  f.NumRows() - len(kept),
		},
	}, nil
}

func matches(cell any, operator string, value any) (bool, error) {
	switch operator {
	case "eq":
		return compareEq(cell, value), nil
	case "ne":
		return !compareEq(cell, value), nil
	case "gt", "lt", "gte", "lte":
		cn, cok := dataset.AsNumber(cell)
		vn, vok := dataNumber(value)
		if !cok || !vok {
			// Fall back to lexical comparison for strings.
			cs, csok := cell.(string)
			vs, vsok := value.(string)
			if !csok || !vsok {
				return false, nil
			}
			return compareOrdered(strings.Compare(cs, vs), operator), nil
		}
		switch {
		case cn > vn:
			return compareOrdered(1, operator), nil
		case cn < vn:
			return compareOrdered(-1, operator), nil
		default:
			return compareOrdered(0, operator), nil
		}
	case "in":
		list, ok := value.([]any)
		if !ok {
			return false, invalidParams("'in' operator requires a list value")
		}
		for _, v := range list {
			if compareEq(cell, v) {
				return true, nil
			}
		}
		return false, nil
	case "contains":
		cs, cok := cell.(string)
		vs, vok := value.(string)
		if !cok || !vok {
			return false, nil
		}
		return strings.Contains(cs, vs), nil
	}
	return false, fmt.Errorf("%w: %q", ErrUnknownOperator, operator)
}

func compareEq(cell, value any) bool {
	if cn, ok := dataset.AsNumber(cell); ok {
		if vn, ok := dataNumber(value); ok {
			return cn == vn
		}
	}
	return cell == value
}

func compareOrdered(cmp int, operator string) bool {
	switch operator {
	case "gt":
		return cmp > 0
	case "lt":
		return cmp < 0
	case "gte":
		return cmp >= 0
	case "lte":
		return cmp <= 0
	}
	return false
}

type rangeFilterTool struct{}

func (t *rangeFilterTool) Name() string { return "filter_range" }

func (t *rangeFilterTool) Description() string {
	return "Keep only the rows where a numeric column falls within [min, max], inclusive."
}

func (t *rangeFilterTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"column": map[string]any{"type": "string"},
			"min":    map[string]any{"type": "number"},
			"max":    map[string]any{"type": "number"},
		},
		"required": []string{"column", "min", "max"},
	}
}

func (t *rangeFilterTool) Apply(f *dataset.Frame, params map[string]any) (*Result, error) {
	column, err := stringParam(params, "column")
	if err != nil {
		return nil, err
	}
	min, err := numberParam(params, "min")
	if err != nil {
		return nil, err
	}
	max, err := numberParam(params, "max")
	if err != nil {
		return nil, err
	}
	idx, ok := f.ColumnIndex(column)
	if !ok {
		return nil, fmt.Errorf("%w: %q", dataset.ErrColumnNotFound, column)
	}

	// An inverted range is a valid request for zero rows, not an error.
	var kept [][]any
	if min <= max {
		for _, row := range f.Rows {
			if n, ok := dataset.AsNumber(row[idx]); ok && n >= min && n <= max {
				kept = append(kept, row)
			}
		}
	}

	out := dataset.NewFrame(f.Columns, kept)
	return &Result{
		Frame: out,
		Summary: map[string]any{
			"affected_rows": len(kept),
			"removed_rows":  f.NumRows() - len(kept),
		},
	}, nil
}
