package tools

import (
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/datalens-dev/datalens/pkg/dataset"
)

type calcColumnTool struct{}

func (t *calcColumnTool) Name() string { return "calc_column" }

func (t *calcColumnTool) Description() string {
	return "Add a calculated column from an arithmetic expression over existing " +
		"columns, e.g. \"price * quantity\" or \"(sales - cost) / sales\"."
}

func (t *calcColumnTool) Schema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"name":       map[string]any{"type": "string", "description": "New column name"},
			"expression": map[string]any{"type": "string"},
		},
		"required": []string{"name", "expression"},
	}
}

func (t *calcColumnTool) Apply(f *dataset.Frame, params map[string]any) (*Result, error) {
	name, err := stringParam(params, "name")
	if err != nil {
		return nil, err
	}
	expression, err := stringParam(params, "expression")
	if err != nil {
		return nil, err
	}
	if _, exists := f.ColumnIndex(name); exists {
		return nil, invalidParams("column %q already exists", name)
	}

	program, err := compileExpression(expression, f)
	if err != nil {
		return nil, err
	}

	rows := make([][]any, len(f.Rows))
	env := make(map[string]any, len(f.Columns))
	for i, row := range f.Rows {
		for j, col := range f.Columns {
			env[col] = row[j]
		}
		value, err := expr.Run(program, env)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", ErrExpression, i+1, err)
		}
		if n, ok := dataNumber(value); ok {
			value = n
		}
		rows[i] = append(append([]any(nil), row...), value)
	}

	out := dataset.NewFrame(append(append([]string(nil), f.Columns...), name), rows)
	return &Result{
		Frame: out,
		Summary: map[string]any{
			"column":     name,
			"expression": expression,
			"rows":       len(rows),
		},
	}, nil
}

// compileExpression compiles a calculated-column expression against the
// frame's columns. The environment is restricted to column identifiers
// and plain operators; builtin functions are disabled, so the
// expression cannot reach anything outside the row it runs on.
func compileExpression(expression string, f *dataset.Frame) (*vm.Program, error) {
	env := make(map[string]any, len(f.Columns))
	for i, col := range f.Columns {
		var sample any = 0.0
		if len(f.Rows) > 0 && f.Rows[0][i] != nil {
			sample = f.Rows[0][i]
		}
		env[col] = sample
	}

	program, err := expr.Compile(expression,
		expr.Env(env),
		expr.DisableAllBuiltins(),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExpression, err)
	}
	return program, nil
}
