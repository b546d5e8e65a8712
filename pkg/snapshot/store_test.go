package snapshot

import (
	"context"
	"errors"
	"testing"

	"github.com/datalens-dev/datalens/pkg/dataset"
	"github.com/datalens-dev/datalens/pkg/ledger"
)

func testState(t *testing.T) (*dataset.StateStore, *ledger.Ledger) {
	t.Helper()
	state := dataset.NewStateStore(dataset.Limits{})
	f := dataset.NewFrame([]string{"sales"}, [][]any{{100.0}, {200.0}, {300.0}})
	if err := state.Load(f); err != nil {
		t.Fatal(err)
	}
	return state, ledger.New()
}

func TestCreateRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	state, lg := testState(t)
	store := NewStore(NewMemoryBackend(), "sess-1")

	// One step applied, then captured.
	filtered := dataset.NewFrame([]string{"sales"}, [][]any{{200.0}, {300.0}})
	_ = state.ReplaceCurrent(filtered)
	_, _ = lg.Append("filter", map[string]any{"column": "sales"}, map[string]any{"affected_rows": 2})

	snap, err := store.Create(ctx, "A", filtered, lg.Snapshot(), 2)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if snap.Ordinal != 1 || snap.ParentID != "" {
		t.Errorf("snapshot = %+v", snap)
	}

	// Two more steps past the capture point.
	_ = state.ReplaceCurrent(dataset.NewFrame([]string{"sales"}, [][]any{{300.0}}))
	_, _ = lg.Append("filter", nil, nil)
	_, _ = lg.Append("transform", nil, nil)
	if lg.Len() != 3 {
		t.Fatalf("ledger length = %d, want 3", lg.Len())
	}

	// Restore winds dataset and ledger back together.
	restored, err := store.Restore(ctx, snap.ID, state, lg)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if restored.ID != snap.ID {
		t.Errorf("restored ID = %s, want %s", restored.ID, snap.ID)
	}
	if lg.Len() != 1 {
		t.Errorf("ledger length = %d, want 1", lg.Len())
	}
	cur, _ := state.Current()
	if !cur.Equal(filtered) {
		t.Error("restored frame differs from captured frame")
	}
	if store.CurrentID() != snap.ID {
		t.Errorf("current branch = %q, want %q", store.CurrentID(), snap.ID)
	}
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	state, lg := testState(t)
	store := NewStore(NewMemoryBackend(), "sess-1")

	_, err := store.Restore(context.Background(), "nope", state, lg)
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("error = %v, want ErrSnapshotNotFound", err)
	}
	// State untouched on failed restore.
	if lg.Len() != 0 {
		t.Error("failed restore modified the ledger")
	}
}

func TestSnapshotScopedToSession(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryBackend()
	state, lg := testState(t)

	other := NewStore(backend, "other-session")
	f, _ := state.Current()
	snap, err := other.Create(ctx, "theirs", f, nil, 0)
	if err != nil {
		t.Fatal(err)
	}

	mine := NewStore(backend, "my-session")
	_, err = mine.Restore(ctx, snap.ID, state, lg)
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("cross-session restore error = %v, want ErrSnapshotNotFound", err)
	}
}

func TestTreeBranching(t *testing.T) {
	ctx := context.Background()
	state, lg := testState(t)
	store := NewStore(NewMemoryBackend(), "sess-1")
	f, _ := state.Current()

	root, _ := store.Create(ctx, "root", f, nil, 0)
	childA, _ := store.Create(ctx, "a", f, nil, 0)

	// Branch: restore root, then capture a sibling of childA.
	if _, err := store.Restore(ctx, root.ID, state, lg); err != nil {
		t.Fatal(err)
	}
	childB, _ := store.Create(ctx, "b", f, nil, 0)

	if childA.ParentID != root.ID || childB.ParentID != root.ID {
		t.Fatalf("parents = %q, %q, want %q", childA.ParentID, childB.ParentID, root.ID)
	}
	if childA.Ordinal != 1 || childB.Ordinal != 2 {
		t.Errorf("sibling ordinals = %d, %d", childA.Ordinal, childB.Ordinal)
	}

	tree, err := store.Tree(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(tree) != 1 || tree[0].Snapshot.ID != root.ID {
		t.Fatalf("tree roots = %v", tree)
	}
	children := tree[0].Children
	if len(children) != 2 || children[0].Snapshot.Name != "a" || children[1].Snapshot.Name != "b" {
		t.Errorf("children = %v", children)
	}
}
