package analysis

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/datalens-dev/datalens/pkg/llm"
	"github.com/datalens-dev/datalens/pkg/snapshot"
	"github.com/datalens-dev/datalens/pkg/tools"
)

// blockingProvider parks every completion until released, so tests can
// hold a turn open.
type blockingProvider struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingProvider() *blockingProvider {
	return &blockingProvider{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (p *blockingProvider) Name() string { return "blocking" }

func (p *blockingProvider) Complete(ctx context.Context, req llm.Request) (*llm.Response, error) {
	p.once.Do(func() { close(p.started) })
	select {
	case <-p.release:
		return &llm.Response{Content: "released"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func newTestSession(t *testing.T, provider llm.Provider, config SessionConfig) *Session {
	t.Helper()
	agent := NewAgent(provider, tools.NewRegistry(), AgentConfig{}, zerolog.Nop())
	sess := NewSession(Metadata{ID: "sess-1"}, agent, snapshot.NewMemoryBackend(), config, zerolog.Nop())
	if err := sess.LoadDataset(salesFrame(), "sales.csv"); err != nil {
		t.Fatal(err)
	}
	return sess
}

func TestChatAppendsHistory(t *testing.T) {
	mock := llm.NewMockProvider().Script(finalResponse("Five rows."))
	sess := newTestSession(t, mock, SessionConfig{})

	result, err := sess.Chat(context.Background(), "How many rows?")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if result.Message != "Five rows." {
		t.Errorf("message = %q", result.Message)
	}

	history := sess.History()
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Role != "user" || history[0].Content != "How many rows?" || history[0].Ordinal != 1 {
		t.Errorf("user turn = %+v", history[0])
	}
	if history[1].Role != "assistant" || history[1].Content != "Five rows." || history[1].Ordinal != 2 {
		t.Errorf("assistant turn = %+v", history[1])
	}
}

func TestConcurrentTurnsRejected(t *testing.T) {
	provider := newBlockingProvider()
	sess := newTestSession(t, provider, SessionConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := sess.Chat(context.Background(), "slow question")
		done <- err
	}()
	<-provider.started

	// The session is mid-turn: a second chat and a restore both fail
	// fast instead of queueing.
	if _, err := sess.Chat(context.Background(), "impatient"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("second Chat() error = %v, want ErrSessionBusy", err)
	}
	if _, err := sess.Restore(context.Background(), "any"); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("Restore() during turn error = %v, want ErrSessionBusy", err)
	}

	close(provider.release)
	if err := <-done; err != nil {
		t.Fatalf("first Chat() error = %v", err)
	}
	if len(sess.History()) != 2 {
		t.Errorf("history length = %d, want 2", len(sess.History()))
	}
}

func TestFailedTurnLeavesHistoryUnchanged(t *testing.T) {
	mock := llm.NewMockProvider().ScriptError(errors.New("down"))
	sess := newTestSession(t, mock, SessionConfig{})

	if _, err := sess.Chat(context.Background(), "hello"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("Chat() error = %v, want ErrProviderUnavailable", err)
	}
	if len(sess.History()) != 0 {
		t.Errorf("history length = %d, want 0", len(sess.History()))
	}
	if len(sess.Steps()) != 0 {
		t.Errorf("steps = %d, want 0", len(sess.Steps()))
	}
}

func TestSnapshotRestoreScenario(t *testing.T) {
	ctx := context.Background()
	filterArgs := `{"column":"sales","operator":"gte","value":1000000}`
	mock := llm.NewMockProvider().
		// turn 1: one step
		Script(toolCallResponse("c1", "filter", filterArgs)).
		Script(finalResponse("Filtered to big sales.")).
		// turn 2: two more steps
		Script(toolCallResponse("c2", "transform", `{"column":"sales","operation":"round","digits":0}`)).
		Script(toolCallResponse("c3", "filter", `{"column":"region","operator":"eq","value":"west"}`)).
		Script(finalResponse("Rounded and narrowed to west."))
	sess := newTestSession(t, mock, SessionConfig{})

	if _, err := sess.Chat(ctx, "keep big sales"); err != nil {
		t.Fatal(err)
	}
	snapA, err := sess.Snapshot(ctx, "A")
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	if snapA.ChatLen != 2 {
		t.Errorf("snapshot chat watermark = %d, want 2", snapA.ChatLen)
	}

	if _, err := sess.Chat(ctx, "round and keep west"); err != nil {
		t.Fatal(err)
	}
	if got := len(sess.Steps()); got != 3 {
		t.Fatalf("steps after second turn = %d, want 3", got)
	}
	if got := len(sess.History()); got != 4 {
		t.Fatalf("history after second turn = %d, want 4", got)
	}

	if _, err := sess.Restore(ctx, snapA.ID); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	if got := len(sess.Steps()); got != 1 {
		t.Errorf("steps after restore = %d, want 1", got)
	}
	if got := len(sess.History()); got != 2 {
		t.Errorf("history after restore = %d, want 2", got)
	}
	desc, err := sess.Describe()
	if err != nil {
		t.Fatal(err)
	}
	if desc.Rows != 2 {
		t.Errorf("rows after restore = %d, want 2", desc.Rows)
	}
	if sess.CurrentSnapshotID() != snapA.ID {
		t.Errorf("current snapshot = %q, want %q", sess.CurrentSnapshotID(), snapA.ID)
	}
}

func TestSnapshotSurvivesNaNCells(t *testing.T) {
	ctx := context.Background()
	// sqrt of the negative margins leaves NaN cells in the frame;
	// capturing and restoring must still work.
	mock := llm.NewMockProvider().
		Script(toolCallResponse("c1", "calc_column", `{"name":"margin","expression":"sales - 1000"}`)).
		Script(toolCallResponse("c2", "transform", `{"column":"margin","operation":"sqrt"}`)).
		Script(finalResponse("done"))
	sess := newTestSession(t, mock, SessionConfig{})

	result, err := sess.Chat(ctx, "derive margin and take its square root")
	if err != nil {
		t.Fatal(err)
	}
	if len(result.Steps) != 2 {
		t.Fatalf("steps = %d, want 2", len(result.Steps))
	}

	snap, err := sess.Snapshot(ctx, "with-nan")
	if err != nil {
		t.Fatalf("Snapshot() with NaN cells error = %v", err)
	}

	restored, err := sess.Restore(ctx, snap.ID)
	if err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	cur, err := sess.ws.Current()
	if err != nil {
		t.Fatal(err)
	}
	if !cur.Equal(snap.Frame) {
		t.Error("restored frame differs from the captured one")
	}
	if len(restored.Steps) != 2 {
		t.Errorf("restored steps = %d, want 2", len(restored.Steps))
	}
}

func TestStepReplayReproducesCurrent(t *testing.T) {
	ctx := context.Background()
	mock := llm.NewMockProvider().
		Script(toolCallResponse("c1", "filter", `{"column":"sales","operator":"gte","value":1000000}`)).
		Script(toolCallResponse("c2", "calc_column", `{"name":"sales_m","expression":"sales / 1000000"}`)).
		Script(toolCallResponse("c3", "transform", `{"column":"sales_m","operation":"round","digits":1}`)).
		Script(finalResponse("done"))
	sess := newTestSession(t, mock, SessionConfig{})
	if _, err := sess.Chat(ctx, "filter, derive, round"); err != nil {
		t.Fatal(err)
	}
	if got := len(sess.Steps()); got != 3 {
		t.Fatalf("steps recorded = %d, want 3", got)
	}

	// Replaying the recorded steps against the original dataset must
	// reproduce the working dataset exactly.
	registry := tools.NewRegistry()
	frame, err := sess.ws.Original()
	if err != nil {
		t.Fatal(err)
	}
	for _, step := range sess.Steps() {
		res, err := registry.Dispatch(frame, step.Type, step.Params)
		if err != nil {
			t.Fatalf("replay step %d (%s): %v", step.Ordinal, step.Type, err)
		}
		if res.Frame != nil {
			frame = res.Frame
		}
	}
	current, err := sess.ws.Current()
	if err != nil {
		t.Fatal(err)
	}
	if !frame.Equal(current) {
		t.Errorf("replayed frame differs from working frame")
	}
}

func TestRestoreUnknownSnapshotLeavesSessionIntact(t *testing.T) {
	ctx := context.Background()
	mock := llm.NewMockProvider().Script(finalResponse("hi"))
	sess := newTestSession(t, mock, SessionConfig{})
	if _, err := sess.Chat(ctx, "hello"); err != nil {
		t.Fatal(err)
	}

	if _, err := sess.Restore(ctx, "nope"); !errors.Is(err, snapshot.ErrSnapshotNotFound) {
		t.Fatalf("Restore() error = %v, want ErrSnapshotNotFound", err)
	}
	if len(sess.History()) != 2 {
		t.Errorf("history length = %d, want 2", len(sess.History()))
	}
}

func TestAutoSnapshotPerTurn(t *testing.T) {
	ctx := context.Background()
	filterArgs := `{"column":"sales","operator":"gte","value":1000000}`
	mock := llm.NewMockProvider().
		Script(toolCallResponse("c1", "filter", filterArgs)).
		Script(finalResponse("done")).
		Script(finalResponse("no tools this time"))
	sess := newTestSession(t, mock, SessionConfig{AutoSnapshot: true})

	if _, err := sess.Chat(ctx, "filter"); err != nil {
		t.Fatal(err)
	}
	snaps, err := sess.Snapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Fatalf("snapshots after mutating turn = %d, want 1", len(snaps))
	}

	// A turn without steps does not snapshot.
	if _, err := sess.Chat(ctx, "just chat"); err != nil {
		t.Fatal(err)
	}
	snaps, err = sess.Snapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snaps) != 1 {
		t.Errorf("snapshots after read-only turn = %d, want 1", len(snaps))
	}
}

func TestResetToOriginal(t *testing.T) {
	ctx := context.Background()
	filterArgs := `{"column":"sales","operator":"gte","value":1000000}`
	mock := llm.NewMockProvider().
		Script(toolCallResponse("c1", "filter", filterArgs)).
		Script(finalResponse("filtered"))
	sess := newTestSession(t, mock, SessionConfig{})
	if _, err := sess.Chat(ctx, "filter"); err != nil {
		t.Fatal(err)
	}

	if err := sess.ResetToOriginal(); err != nil {
		t.Fatalf("ResetToOriginal() error = %v", err)
	}
	if len(sess.Steps()) != 0 {
		t.Errorf("steps after reset = %d, want 0", len(sess.Steps()))
	}
	desc, err := sess.Describe()
	if err != nil {
		t.Fatal(err)
	}
	if desc.Rows != 5 {
		t.Errorf("rows after reset = %d, want 5", desc.Rows)
	}
	// Chat history survives a dataset reset.
	if len(sess.History()) != 2 {
		t.Errorf("history after reset = %d, want 2", len(sess.History()))
	}
}

func TestLoadDatasetActivates(t *testing.T) {
	agent := NewAgent(llm.NewMockProvider(), tools.NewRegistry(), AgentConfig{}, zerolog.Nop())
	sess := NewSession(Metadata{ID: "sess-2"}, agent, snapshot.NewMemoryBackend(), SessionConfig{}, zerolog.Nop())

	if sess.Metadata().Status != StatusDraft {
		t.Errorf("status before load = %q, want draft", sess.Metadata().Status)
	}
	if err := sess.LoadDataset(salesFrame(), "sales.csv"); err != nil {
		t.Fatal(err)
	}
	meta := sess.Metadata()
	if meta.Status != StatusActive {
		t.Errorf("status after load = %q, want active", meta.Status)
	}
	if meta.DatasetRef != "sales.csv" {
		t.Errorf("dataset ref = %q", meta.DatasetRef)
	}
}
