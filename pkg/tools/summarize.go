package tools

import (
	"fmt"
	"math"
	"sort"

	"github.com/datalens-dev/datalens/pkg/dataset"
)

// The tools below never mutate: Result.Frame stays nil and only the
// summary is returned to the LLM.

type describeTool struct{}

func (t *describeTool) Name() string { return "describe" }

func (t *describeTool) Description() string {
	return "Describe the current dataset: row count, columns, inferred types and numeric statistics."
}

func (t *describeTool) Schema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": map[string]any{},
	}
}

func (t *describeTool) Apply(f *dataset.Frame, _ map[string]any) (*Result, error) {
	d := dataset.Describe(f)
	columns := make([]map[string]any, len(d.Columns))
	for i, c := range d.Columns {
		col := map[string]any{
			"name":  c.Name,
			"type":  string(c.Type),
			"nulls": c.Nulls,
		}
		if c.Stats != nil {
			col["min"] = c.Stats.Min
			col["max"] = c.Stats.Max
			col["mean"] = c.Stats.Mean
		}
		columns[i] = col
	}
	return &Result{
		Summary: map[string]any{
			"rows":    d.Rows,
			"columns": columns,
		},
	}, nil
}

type valueCountsTool struct{}

func (t *valueCountsTool) Name() string { return "value_counts" }

func (t *valueCountsTool) Description() string {
	return "Count occurrences of each distinct value in a column, most frequent first."
}

func (t *valueCountsTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"column": map[string]any{"type": "string"},
			"limit":  map[string]any{"type": "integer", "description": "Maximum distinct values to return (default 20)"},
		},
		"required": []string{"column"},
	}
}

func (t *valueCountsTool) Apply(f *dataset.Frame, params map[string]any) (*Result, error) {
	column, err := stringParam(params, "column")
	if err != nil {
		return nil, err
	}
	cells, err := f.Column(column)
	if err != nil {
		return nil, err
	}

	limit := 20
	if n, ok := dataNumber(params["limit"]); ok && n > 0 {
		limit = int(n)
	}

	counts := make(map[string]int)
	var order []string
	for _, v := range cells {
		key := fmt.Sprintf("%v", v)
		if _, seen := counts[key]; !seen {
			order = append(order, key)
		}
		counts[key]++
	}
	sort.SliceStable(order, func(i, j int) bool {
		return counts[order[i]] > counts[order[j]]
	})
	if len(order) > limit {
		order = order[:limit]
	}

	top := make([]map[string]any, len(order))
	for i, key := range order {
		top[i] = map[string]any{"value": key, "count": counts[key]}
	}
	return &Result{
		Summary: map[string]any{
			"column":   column,
			"distinct": len(counts),
			"top":      top,
		},
	}, nil
}

type summarizeTool struct{}

func (t *summarizeTool) Name() string { return "summarize" }

func (t *summarizeTool) Description() string {
	return "Compute count, sum, min, max and mean for one numeric column."
}

func (t *summarizeTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"column": map[string]any{"type": "string"},
		},
		"required": []string{"column"},
	}
}

func (t *summarizeTool) Apply(f *dataset.Frame, params map[string]any) (*Result, error) {
	column, err := stringParam(params, "column")
	if err != nil {
		return nil, err
	}
	cells, err := f.Column(column)
	if err != nil {
		return nil, err
	}

	var (
		sum   float64
		count int
		min   = math.Inf(1)
		max   = math.Inf(-1)
	)
	for _, v := range cells {
		if n, ok := dataset.AsNumber(v); ok && !math.IsNaN(n) {
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

	summary := map[string]any{"column": column, "count": count}
	if count > 0 {
		summary["sum"] = sum
		summary["min"] = min
		summary["max"] = max
		summary["mean"] = sum / float64(count)
	}
	return &Result{Summary: summary}, nil
}
