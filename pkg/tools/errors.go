package tools

import (
	"errors"
	"fmt"

	"github.com/datalens-dev/datalens/pkg/dataset"
)

// Errors surfaced by tool handlers. All of these are user-input errors:
// the agent feeds them back to the LLM as tool results instead of
// failing the turn.
var (
	// ErrUnknownTool is returned when a tool name is not registered.
	ErrUnknownTool = errors.New("unknown tool")
	// ErrInvalidParams is returned when parameters fail schema validation.
	ErrInvalidParams = errors.New("invalid tool parameters")
	// ErrUnknownOperator is returned for unsupported filter operators.
	ErrUnknownOperator = errors.New("unknown operator")
	// ErrUnknownAggregation is returned for unsupported aggregation functions.
	ErrUnknownAggregation = errors.New("unknown aggregation function")
	// ErrExpression is returned when a calculated-column expression is
	// invalid or references unknown columns.
	ErrExpression = errors.New("invalid expression")
)

// UserError reports whether an error belongs to the recoverable
// user-input class (including missing columns from the dataset package).
func UserError(err error) bool {
	for _, target := range []error{
		ErrUnknownTool, ErrInvalidParams, ErrUnknownOperator,
		ErrUnknownAggregation, ErrExpression, dataset.ErrColumnNotFound,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func invalidParams(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidParams, fmt.Sprintf(format, args...))
}
