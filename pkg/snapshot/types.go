// Package snapshot provides named, persisted captures of a session's
// dataset and step history. Snapshots form a tree via parent pointers;
// restoring one establishes a new branch point.
package snapshot

import (
	"context"
	"errors"
	"time"

	"github.com/datalens-dev/datalens/pkg/dataset"
	"github.com/datalens-dev/datalens/pkg/ledger"
)

// Common errors for snapshot storage.
var (
	// ErrSnapshotNotFound is returned when a snapshot does not exist in
	// the session.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrBackendClosed is returned when operating on a closed backend.
	ErrBackendClosed = errors.New("snapshot backend is closed")
)

// Snapshot is one captured state: the working frame plus the branch's
// step list at capture time, addressable in a tree.
type Snapshot struct {
	// ID is the unique snapshot identifier.
	ID string `json:"id"`
	// SessionID links to the owning session.
	SessionID string `json:"sessionId"`
	// Name is the human-readable label.
	Name string `json:"name"`
	// ParentID is the parent snapshot; empty means root.
	ParentID string `json:"parentId,omitempty"`
	// Ordinal is the position among siblings, starting at 1.
	Ordinal int `json:"ordinal"`
	// Frame is the captured working dataset.
	Frame *dataset.Frame `json:"frame"`
	// Steps is the captured step list. Replaying Steps against the
	// session's original dataset reproduces Frame.
	Steps []ledger.Step `json:"steps"`
	// ChatLen is the chat-history length at capture time; restoring
	// truncates the conversation to this watermark.
	ChatLen int `json:"chatLen"`
	// CreatedAt is when the snapshot was captured.
	CreatedAt time.Time `json:"createdAt"`
}

// Backend abstracts snapshot persistence. Implementations must be safe
// for concurrent use and all-or-nothing per call.
type Backend interface {
	// SaveSnapshot stores a snapshot.
	SaveSnapshot(ctx context.Context, snap *Snapshot) error

	// LoadSnapshot retrieves a snapshot scoped to a session.
	// Returns ErrSnapshotNotFound for IDs outside the session.
	LoadSnapshot(ctx context.Context, sessionID, snapshotID string) (*Snapshot, error)

	// ListSnapshots returns all snapshots of a session.
	ListSnapshots(ctx context.Context, sessionID string) ([]*Snapshot, error)

	// DeleteSession removes all snapshots of a session.
	DeleteSession(ctx context.Context, sessionID string) error

	// Close releases any resources held by the backend.
	Close() error
}

// Node is one entry of the rendered snapshot tree.
type Node struct {
	Snapshot *Snapshot `json:"snapshot"`
	Children []*Node   `json:"children,omitempty"`
}
