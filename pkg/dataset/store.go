package dataset

import (
	"fmt"
	"sync"
)

// StateStore owns the working dataset for a single session.
// The original frame is immutable for the life of the store; the
// current frame is only ever swapped wholesale via ReplaceCurrent.
// StateStore is safe for concurrent use.
type StateStore struct {
	mu       sync.RWMutex
	original *Frame
	current  *Frame
	limits   Limits
}

// NewStateStore creates an empty state store with the given limits.
func NewStateStore(limits Limits) *StateStore {
	return &StateStore{limits: limits.withDefaults()}
}

// Load sets both the original and current frame. It fails on empty
// frames and on frames exceeding the configured limits.
func (s *StateStore) Load(f *Frame) error {
	if f == nil || f.NumRows() == 0 || f.NumCols() == 0 {
		return ErrEmptyDataset
	}
	if f.NumRows() > s.limits.MaxRows || f.NumCols() > s.limits.MaxCols {
		return &TooLargeError{
			Rows: f.NumRows(), Cols: f.NumCols(),
			MaxRows: s.limits.MaxRows, MaxCols: s.limits.MaxCols,
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.original = f.Clone()
	s.current = f.Clone()
	return nil
}

// Loaded reports whether a dataset has been loaded.
func (s *StateStore) Loaded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

// Current returns the working frame.
func (s *StateStore) Current() (*Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNotLoaded
	}
	return s.current, nil
}

// Original returns a copy of the frame as loaded.
func (s *StateStore) Original() (*Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.original == nil {
		return nil, ErrNotLoaded
	}
	return s.original.Clone(), nil
}

// ReplaceCurrent swaps the working frame. This is the only way tool
// handlers change state, so each step's before/after is well-defined.
func (s *StateStore) ReplaceCurrent(f *Frame) error {
	if f == nil {
		return fmt.Errorf("replace current: nil frame")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return ErrNotLoaded
	}
	s.current = f
	return nil
}

// ResetToOriginal restores the working frame to a copy of the frame
// as loaded.
func (s *StateStore) ResetToOriginal() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.original == nil {
		return ErrNotLoaded
	}
	s.current = s.original.Clone()
	return nil
}

// Describe summarizes the working frame for the LLM context window.
func (s *StateStore) Describe() (*Description, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.current == nil {
		return nil, ErrNotLoaded
	}
	return Describe(s.current), nil
}
