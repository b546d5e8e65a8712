package snapshot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/datalens-dev/datalens/pkg/dataset"
	"github.com/datalens-dev/datalens/pkg/ledger"
)

func sampleSnapshot(id, sessionID string) *Snapshot {
	return &Snapshot{
		ID:        id,
		SessionID: sessionID,
		Name:      "checkpoint",
		Ordinal:   1,
		Frame: dataset.NewFrame(
			[]string{"region", "sales", "when"},
			[][]any{
				{"east", 100.0, time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)},
				{"west", 250.5, time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)},
			},
		),
		Steps: []ledger.Step{
			{ID: "step-1", Type: "filter", Ordinal: 1, Params: map[string]any{"column": "sales"}},
		},
		ChatLen:   2,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

// backends under test share one behavior suite.
func runBackendSuite(t *testing.T, backend Backend) {
	ctx := context.Background()

	snap := sampleSnapshot("snap-1", "sess-1")
	if err := backend.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot() error = %v", err)
	}

	loaded, err := backend.LoadSnapshot(ctx, "sess-1", "snap-1")
	if err != nil {
		t.Fatalf("LoadSnapshot() error = %v", err)
	}
	if !loaded.Frame.Equal(snap.Frame) {
		t.Error("frame did not survive the round trip")
	}
	if len(loaded.Steps) != 1 || loaded.Steps[0].Type != "filter" {
		t.Errorf("steps = %+v", loaded.Steps)
	}
	if loaded.ChatLen != 2 {
		t.Errorf("chatLen = %d, want 2", loaded.ChatLen)
	}

	// Wrong session never sees the snapshot.
	if _, err := backend.LoadSnapshot(ctx, "other-sess", "snap-1"); err == nil {
		t.Error("expected error for foreign session")
	}
	if _, err := backend.LoadSnapshot(ctx, "sess-1", "snap-missing"); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("error = %v, want ErrSnapshotNotFound", err)
	}

	// Second snapshot, list, delete.
	if err := backend.SaveSnapshot(ctx, sampleSnapshot("snap-2", "sess-1")); err != nil {
		t.Fatal(err)
	}
	snaps, err := backend.ListSnapshots(ctx, "sess-1")
	if err != nil {
		t.Fatalf("ListSnapshots() error = %v", err)
	}
	if len(snaps) != 2 {
		t.Errorf("len(snaps) = %d, want 2", len(snaps))
	}

	if err := backend.DeleteSession(ctx, "sess-1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	snaps, err = backend.ListSnapshots(ctx, "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 0 {
		t.Errorf("snapshots remain after delete: %d", len(snaps))
	}
}

func TestMemoryBackend(t *testing.T) {
	backend := NewMemoryBackend()
	defer func() { _ = backend.Close() }()
	runBackendSuite(t, backend)
}

func TestFileBackend(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileBackend() error = %v", err)
	}
	defer func() { _ = backend.Close() }()
	runBackendSuite(t, backend)
}

func TestFileBackendRejectsTraversal(t *testing.T) {
	backend, err := NewFileBackend(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = backend.Close() }()

	snap := sampleSnapshot("../evil", "sess-1")
	if err := backend.SaveSnapshot(context.Background(), snap); !errors.Is(err, ErrInvalidPathComponent) {
		t.Errorf("error = %v, want ErrInvalidPathComponent", err)
	}
}

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend := NewRedisBackendFromClient(client, "test:", 0)
	t.Cleanup(func() { _ = backend.Close() })

	runBackendSuite(t, backend)
}

func TestRedisBackendClosed(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	backend := NewRedisBackendFromClient(client, "test:", 0)

	if err := backend.Close(); err != nil {
		t.Fatal(err)
	}
	if err := backend.SaveSnapshot(context.Background(), sampleSnapshot("s", "x")); !errors.Is(err, ErrBackendClosed) {
		t.Errorf("error = %v, want ErrBackendClosed", err)
	}
}
