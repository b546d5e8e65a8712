package tools

import (
	"fmt"
	"math"

	"github.com/datalens-dev/datalens/pkg/dataset"
)

var transformOps = []string{"round", "abs", "log", "sqrt", "replace"}

type transformTool struct{}

func (t *transformTool) Name() string { return "transform" }

func (t *transformTool) Description() string {
	return "Transform a column in place. Operations: round (optional 'digits'), abs, " +
		"log (natural), sqrt, replace (requires a 'mapping' of old value to new value)."
}

func (t *transformTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"column":    map[string]any{"type": "string"},
			"operation": map[string]any{"type": "string", "enum": transformOps},
			"digits":    map[string]any{"type": "integer", "description": "Decimal places for 'round'"},
			"mapping":   map[string]any{"type": "object", "description": "Old value to new value for 'replace'"},
		},
		"required": []string{"column", "operation"},
	}
}

func (t *transformTool) Apply(f *dataset.Frame, params map[string]any) (*Result, error) {
	column, err := stringParam(params, "column")
	if err != nil {
		return nil, err
	}
	operation, err := stringParam(params, "operation")
	if err != nil {
		return nil, err
	}
	idx, ok := f.ColumnIndex(column)
	if !ok {
		return nil, fmt.Errorf("%w: %q", dataset.ErrColumnNotFound, column)
	}

	out := f.Clone()
	changed := 0
	nanProduced := 0

	switch operation {
	case "round":
		digits := 0.0
		if d, ok := dataNumber(params["digits"]); ok {
			digits = d
		}
		scale := math.Pow(10, digits)
		for _, row := range out.Rows {
			if n, ok := dataset.AsNumber(row[idx]); ok {
				row[idx] = math.Round(n*scale) / scale
				changed++
			}
		}
	case "abs":
		for _, row := range out.Rows {
			if n, ok := dataset.AsNumber(row[idx]); ok {
				row[idx] = math.Abs(n)
				changed++
			}
		}
	case "log", "sqrt":
		// Negative inputs produce NaN; that propagates into the data
		// and is reported in the summary rather than raised.
		for _, row := range out.Rows {
			n, ok := dataset.AsNumber(row[idx])
			if !ok {
				continue
			}
			var v float64
			if operation == "log" {
				v = math.Log(n)
			} else {
				v = math.Sqrt(n)
			}
			row[idx] = v
			changed++
			if math.IsNaN(v) {
				nanProduced++
			}
		}
	case "replace":
		mapping, ok := params["mapping"].(map[string]any)
		if !ok {
			return nil, invalidParams("'replace' requires a 'mapping' object")
		}
		for _, row := range out.Rows {
			key := fmt.Sprintf("%v", row[idx])
			if repl, ok := mapping[key]; ok {
				row[idx] = repl
				changed++
			}
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, operation)
	}

	summary := map[string]any{
		"operation":     operation,
		"affected_rows": changed,
	}
	if operation == "log" || operation == "sqrt" {
		summary["nan_values"] = nanProduced
	}
	return &Result{Frame: out, Summary: summary}, nil
}
