package snapshot

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/datalens-dev/datalens/pkg/dataset"
	"github.com/datalens-dev/datalens/pkg/ledger"
)

// Store manages the snapshot tree of one session and performs the
// atomic capture/restore handshake with the session's state store and
// ledger.
type Store struct {
	backend   Backend
	sessionID string

	mu sync.Mutex
	// currentID is the branch point new snapshots attach under;
	// empty means the implicit root state.
	currentID string
}

// NewStore creates a snapshot store for one session.
func NewStore(backend Backend, sessionID string) *Store {
	return &Store{backend: backend, sessionID: sessionID}
}

// CurrentID returns the active branch point ("" for root).
func (s *Store) CurrentID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentID
}

// Create captures the given frame and step list as a new snapshot
// under the current branch point.
func (s *Store) Create(ctx context.Context, name string, frame *dataset.Frame, steps []ledger.Step, chatLen int) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordinal, err := s.nextSiblingOrdinal(ctx, s.currentID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		ID:        uuid.New().String(),
		SessionID: s.sessionID,
		Name:      name,
		ParentID:  s.currentID,
		Ordinal:   ordinal,
		Frame:     frame.Clone(),
		Steps:     append([]ledger.Step(nil), steps...),
		ChatLen:   chatLen,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.backend.SaveSnapshot(ctx, snap); err != nil {
		return nil, fmt.Errorf("save snapshot: %w", err)
	}

	s.currentID = snap.ID
	return snap, nil
}

// Restore loads a snapshot and swaps the session's working state to
// its captured frame and steps, as an atomic pair. Subsequent
// snapshots attach under the restored one.
func (s *Store) Restore(ctx context.Context, snapshotID string, state *dataset.StateStore, lg *ledger.Ledger) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, err := s.backend.LoadSnapshot(ctx, s.sessionID, snapshotID)
	if err != nil {
		return nil, err
	}

	if err := state.ReplaceCurrent(snap.Frame.Clone()); err != nil {
		return nil, fmt.Errorf("restore dataset: %w", err)
	}
	lg.Fork(snap.Steps)

	s.currentID = snap.ID
	return snap, nil
}

// List returns the session's snapshots ordered by creation.
func (s *Store) List(ctx context.Context) ([]*Snapshot, error) {
	snaps, err := s.backend.ListSnapshots(ctx, s.sessionID)
	if err != nil {
		return nil, err
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].CreatedAt.Before(snaps[j].CreatedAt)
	})
	return snaps, nil
}

// Tree renders the snapshot tree, children ordered by sibling ordinal.
func (s *Store) Tree(ctx context.Context) ([]*Node, error) {
	snaps, err := s.backend.ListSnapshots(ctx, s.sessionID)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*Node, len(snaps))
	for _, snap := range snaps {
		nodes[snap.ID] = &Node{Snapshot: snap}
	}

	var roots []*Node
	for _, snap := range snaps {
		node := nodes[snap.ID]
		if parent, ok := nodes[snap.ParentID]; ok {
			parent.Children = append(parent.Children, node)
		} else {
			roots = append(roots, node)
		}
	}

	var sortNodes func(list []*Node)
	sortNodes = func(list []*Node) {
		sort.Slice(list, func(i, j int) bool {
			return list[i].Snapshot.Ordinal < list[j].Snapshot.Ordinal
		})
		for _, n := range list {
			sortNodes(n.Children)
		}
	}
	sortNodes(roots)
	return roots, nil
}

func (s *Store) nextSiblingOrdinal(ctx context.Context, parentID string) (int, error) {
	snaps, err := s.backend.ListSnapshots(ctx, s.sessionID)
	if err != nil {
		return 0, fmt.Errorf("list snapshots: %w", err)
	}
	ordinal := 1
	for _, snap := range snaps {
		if snap.ParentID == parentID {
			ordinal++
		}
	}
	return ordinal, nil
}
