// Package ledger records the ordered sequence of tool steps applied to
// a session's dataset. The ledger is append-only within a branch;
// switching branches replaces the whole view via Fork.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotSerializable is returned when step parameters or results cannot
// be serialized. This indicates a bug in a tool handler, not user input.
var ErrNotSerializable = errors.New("step payload is not serializable")

// Step is one applied tool operation. Steps are immutable once appended.
type Step struct {
	// ID is the unique step identifier.
	ID string `json:"id"`
	// Type is the tool name that produced this step.
	Type string `json:"type"`
	// Ordinal is the position within the current branch, starting at 1.
	Ordinal int `json:"ordinal"`
	// Params are the validated tool parameters.
	Params map[string]any `json:"params"`
	// Summary is the tool's result summary (counts and computed values,
	// never raw rows).
	Summary map[string]any `json:"summary"`
	// CreatedAt is when the step was appended.
	CreatedAt time.Time `json:"createdAt"`
}

// Ledger is the append-only step log for one session branch.
// Ledger is safe for concurrent use.
type Ledger struct {
	mu    sync.RWMutex
	steps []Step
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append records a step at the next ordinal position. It fails only
// when the payload cannot be serialized.
func (l *Ledger) Append(stepType string, params, summary map[string]any) (Step, error) {
	if _, err := json.Marshal(params); err != nil {
		return Step{}, fmt.Errorf("%w: params: %v", ErrNotSerializable, err)
	}
	if _, err := json.Marshal(summary); err != nil {
		return Step{}, fmt.Errorf("%w: summary: %v", ErrNotSerializable, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	step := Step{
		ID:        uuid.New().String(),
		Type:      stepType,
		Ordinal:   len(l.steps) + 1,
		Params:    params,
		Summary:   summary,
		CreatedAt: time.Now().UTC(),
	}
	l.steps = append(l.steps, step)
	return step, nil
}

// Len returns the number of steps on the current branch.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.steps)
}

// Steps returns a restartable sequence over the current branch in
// ordinal order. The sequence iterates a snapshot taken at call time.
func (l *Ledger) Steps() iter.Seq[Step] {
	snapshot := l.Snapshot()
	return func(yield func(Step) bool) {
		for _, s := range snapshot {
			if !yield(s) {
				return
			}
		}
	}
}

// Snapshot returns a copy of the current branch's steps.
func (l *Ledger) Snapshot() []Step {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Step, len(l.steps))
	copy(out, l.steps)
	return out
}

// Fork replaces the current branch view with the given step list,
// discarding any steps appended since. Callers must pair this with the
// matching dataset replacement.
func (l *Ledger) Fork(steps []Step) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.steps = make([]Step, len(steps))
	copy(l.steps, steps)
}
