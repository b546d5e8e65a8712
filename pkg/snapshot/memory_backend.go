package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// MemoryBackend keeps snapshots in process memory. It is the default
// for single-node use and for the interactive CLI.
type MemoryBackend struct {
	mu     sync.RWMutex
	snaps  map[string][]byte          // snapshot ID -> encoded snapshot
	bySess map[string]map[string]bool // session ID -> snapshot IDs
	closed bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		snaps:  make(map[string][]byte),
		bySess: make(map[string]map[string]bool),
	}
}

// SaveSnapshot stores an encoded copy of the snapshot. Encoding keeps
// the stored state isolated from later mutation, same as a real
// persistence backend.
func (b *MemoryBackend) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	b.snaps[snap.ID] = data
	if b.bySess[snap.SessionID] == nil {
		b.bySess[snap.SessionID] = make(map[string]bool)
	}
	b.bySess[snap.SessionID][snap.ID] = true
	return nil
}

// LoadSnapshot retrieves a snapshot scoped to a session.
func (b *MemoryBackend) LoadSnapshot(ctx context.Context, sessionID, snapshotID string) (*Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}

	if !b.bySess[sessionID][snapshotID] {
		return nil, ErrSnapshotNotFound
	}
	data, ok := b.snaps[snapshotID]
	if !ok {
		return nil, ErrSnapshotNotFound
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}

// ListSnapshots returns all snapshots of a session.
func (b *MemoryBackend) ListSnapshots(ctx context.Context, sessionID string) ([]*Snapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrBackendClosed
	}

	var snaps []*Snapshot
	for id := range b.bySess[sessionID] {
		var snap Snapshot
		if err := json.Unmarshal(b.snaps[id], &snap); err != nil {
			return nil, fmt.Errorf("unmarshal snapshot %s: %w", id, err)
		}
		snaps = append(snaps, &snap)
	}
	return snaps, nil
}

// DeleteSession removes all snapshots of a session.
func (b *MemoryBackend) DeleteSession(ctx context.Context, sessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBackendClosed
	}

	for id := range b.bySess[sessionID] {
		delete(b.snaps, id)
	}
	delete(b.bySess, sessionID)
	return nil
}

// Close marks the backend closed.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}
