package analysis

import (
	"context"
	"sync"

	"github.com/datalens-dev/datalens/pkg/dataset"
	"github.com/datalens-dev/datalens/pkg/ledger"
	"github.com/datalens-dev/datalens/pkg/snapshot"
)

// Workspace couples a session's working dataset with its step ledger.
// One lock covers the pair, so a reader never observes a dataset that
// does not match the recorded step list.
type Workspace struct {
	mu    sync.RWMutex
	state *dataset.StateStore
	steps *ledger.Ledger
}

// NewWorkspace creates an empty workspace with the given dataset limits.
func NewWorkspace(limits dataset.Limits) *Workspace {
	return &Workspace{
		state: dataset.NewStateStore(limits),
		steps: ledger.New(),
	}
}

// Load installs a dataset as both original and working frame.
func (w *Workspace) Load(f *dataset.Frame) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state.Load(f)
}

// Current returns the working frame.
func (w *Workspace) Current() (*dataset.Frame, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.Current()
}

// Original returns the frame as loaded.
func (w *Workspace) Original() (*dataset.Frame, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.Original()
}

// Describe summarizes the working frame.
func (w *Workspace) Describe() (*dataset.Description, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state.Describe()
}

// Steps returns the current branch's step list.
func (w *Workspace) Steps() []ledger.Step {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.steps.Snapshot()
}

// View returns the dataset description and the step list as one
// consistent read. Before a dataset is loaded the description is nil
// and the step list empty.
func (w *Workspace) View() (*dataset.Description, []ledger.Step) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	desc, err := w.state.Describe()
	if err != nil {
		return nil, w.steps.Snapshot()
	}
	return desc, w.steps.Snapshot()
}

// Capture returns the working frame and step list as one consistent
// read, for snapshot creation and turn-start bookkeeping.
func (w *Workspace) Capture() (*dataset.Frame, []ledger.Step, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	frame, err := w.state.Current()
	if err != nil {
		return nil, nil, err
	}
	return frame, w.steps.Snapshot(), nil
}

// Commit applies a tool result: the frame replacement and the ledger
// append happen in one critical section, so neither is observable
// without the other. A failed append undoes the replacement.
func (w *Workspace) Commit(frame *dataset.Frame, stepType string, params, summary map[string]any) (ledger.Step, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	prev, err := w.state.Current()
	if err != nil {
		return ledger.Step{}, err
	}
	if err := w.state.ReplaceCurrent(frame); err != nil {
		return ledger.Step{}, err
	}
	step, err := w.steps.Append(stepType, params, summary)
	if err != nil {
		_ = w.state.ReplaceCurrent(prev)
		return ledger.Step{}, err
	}
	return step, nil
}

// Rollback rewinds the pair to a previously captured view.
func (w *Workspace) Rollback(frame *dataset.Frame, steps []ledger.Step) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.state.ReplaceCurrent(frame); err != nil {
		return err
	}
	w.steps.Fork(steps)
	return nil
}

// Reset restores the dataset as loaded and clears the step list.
func (w *Workspace) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.state.ResetToOriginal(); err != nil {
		return err
	}
	w.steps.Fork(nil)
	return nil
}

// restoreFrom swaps the pair to a snapshot's captured frame and steps.
func (w *Workspace) restoreFrom(ctx context.Context, snapshots *snapshot.Store, snapshotID string) (*snapshot.Snapshot, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return snapshots.Restore(ctx, snapshotID, w.state, w.steps)
}
