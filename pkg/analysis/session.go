package analysis

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/datalens-dev/datalens/internal/observability"
	"github.com/datalens-dev/datalens/pkg/dataset"
	"github.com/datalens-dev/datalens/pkg/ledger"
	"github.com/datalens-dev/datalens/pkg/snapshot"
)

// SessionConfig tunes per-session behavior.
type SessionConfig struct {
	// Limits bound dataset size at load.
	Limits dataset.Limits
	// AutoSnapshot captures a snapshot after every turn that applied
	// at least one step. Off by default.
	AutoSnapshot bool
}

// Session is one analysis conversation: a working dataset, the step
// ledger of how it got there, the chat history, and a snapshot tree
// for branching. At most one turn runs at a time; concurrent turn
// attempts fail fast with ErrSessionBusy.
type Session struct {
	meta      Metadata
	ws        *Workspace
	snapshots *snapshot.Store
	agent     *Agent
	config    SessionConfig
	logger    zerolog.Logger

	// turnMu serializes turns and restores; acquired with TryLock so
	// a second caller is rejected instead of queued.
	turnMu sync.Mutex

	// mu guards meta and chat.
	mu   sync.RWMutex
	chat []ChatTurn
}

// NewSession assembles a session around an agent and snapshot backend.
func NewSession(meta Metadata, agent *Agent, backend snapshot.Backend, config SessionConfig, logger zerolog.Logger) *Session {
	if meta.Status == "" {
		meta.Status = StatusDraft
	}
	return &Session{
		meta:      meta,
		ws:        NewWorkspace(config.Limits),
		snapshots: snapshot.NewStore(backend, meta.ID),
		agent:     agent,
		config:    config,
		logger:    logger.With().Str("session", meta.ID).Logger(),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.meta.ID }

// Metadata returns a copy of the session metadata.
func (s *Session) Metadata() Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.meta
}

// LoadDataset installs the dataset as both original and working frame
// and activates the session. Loading is rejected while a turn runs.
func (s *Session) LoadDataset(f *dataset.Frame, ref string) error {
	if !s.turnMu.TryLock() {
		return ErrSessionBusy
	}
	defer s.turnMu.Unlock()

	if err := s.ws.Load(f); err != nil {
		return err
	}

	s.mu.Lock()
	s.meta.DatasetRef = ref
	s.meta.Status = StatusActive
	s.meta.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.logger.Info().Str("dataset", ref).Int("rows", f.NumRows()).
		Int("cols", f.NumCols()).Msg("dataset loaded")
	return nil
}

// Chat runs one conversation turn. The user and assistant turns are
// appended to the history only when the turn produces a result; a
// failed turn leaves history, dataset and ledger unchanged.
func (s *Session) Chat(ctx context.Context, userMessage string) (*TurnResult, error) {
	if !s.turnMu.TryLock() {
		return nil, ErrSessionBusy
	}
	defer s.turnMu.Unlock()

	history := s.History()
	result, err := s.agent.RunTurn(ctx, s.ws, s.Metadata(), history, userMessage)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.appendTurnLocked("user", userMessage)
	s.appendTurnLocked("assistant", result.Message)
	s.meta.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	if s.config.AutoSnapshot && len(result.Steps) > 0 {
		name := fmt.Sprintf("auto: turn %d", len(history)/2+1)
		if _, err := s.createSnapshot(ctx, name); err != nil {
			// The turn itself succeeded; losing the automatic
			// snapshot is logged, not surfaced.
			s.logger.Warn().Err(err).Msg("auto snapshot failed")
		}
	}
	return result, nil
}

// Snapshot captures the current dataset, step list and chat watermark
// under the given name. Rejected while a turn runs.
func (s *Session) Snapshot(ctx context.Context, name string) (*snapshot.Snapshot, error) {
	if !s.turnMu.TryLock() {
		return nil, ErrSessionBusy
	}
	defer s.turnMu.Unlock()
	return s.createSnapshot(ctx, name)
}

func (s *Session) createSnapshot(ctx context.Context, name string) (*snapshot.Snapshot, error) {
	frame, steps, err := s.ws.Capture()
	if err != nil {
		return nil, err
	}
	snap, err := s.snapshots.Create(ctx, name, frame, steps, len(s.History()))
	if err != nil {
		observability.RecordSnapshotOp("create", "error")
		return nil, err
	}
	observability.RecordSnapshotOp("create", "ok")
	s.logger.Info().Str("snapshot", snap.ID).Str("name", name).Msg("snapshot created")
	return snap, nil
}

// Restore rewinds the session to a snapshot: the working dataset and
// ledger are replaced by the captured ones, and the chat history is
// truncated to the snapshot's watermark. Rejected while a turn runs;
// a failed restore leaves the session unchanged.
func (s *Session) Restore(ctx context.Context, snapshotID string) (*snapshot.Snapshot, error) {
	if !s.turnMu.TryLock() {
		return nil, ErrSessionBusy
	}
	defer s.turnMu.Unlock()

	snap, err := s.ws.restoreFrom(ctx, s.snapshots, snapshotID)
	if err != nil {
		observability.RecordSnapshotOp("restore", "error")
		return nil, err
	}
	observability.RecordSnapshotOp("restore", "ok")

	s.mu.Lock()
	if snap.ChatLen >= 0 && snap.ChatLen < len(s.chat) {
		s.chat = s.chat[:snap.ChatLen]
	}
	s.meta.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	s.logger.Info().Str("snapshot", snap.ID).Msg("session restored")
	return snap, nil
}

// Snapshots lists the session's snapshots in creation order.
func (s *Session) Snapshots(ctx context.Context) ([]*snapshot.Snapshot, error) {
	return s.snapshots.List(ctx)
}

// SnapshotTree renders the branch structure of the session's snapshots.
func (s *Session) SnapshotTree(ctx context.Context) ([]*snapshot.Node, error) {
	return s.snapshots.Tree(ctx)
}

// CurrentSnapshotID returns the snapshot the session last created or
// restored to, or empty if none.
func (s *Session) CurrentSnapshotID() string {
	return s.snapshots.CurrentID()
}

// History returns a copy of the chat history.
func (s *Session) History() []ChatTurn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ChatTurn, len(s.chat))
	copy(out, s.chat)
	return out
}

// Steps returns the current branch's step list.
func (s *Session) Steps() []ledger.Step {
	return s.ws.Steps()
}

// Describe summarizes the working dataset.
func (s *Session) Describe() (*dataset.Description, error) {
	return s.ws.Describe()
}

// View returns the dataset description and step list as one consistent
// read. The description is nil before a dataset is loaded.
func (s *Session) View() (*dataset.Description, []ledger.Step) {
	return s.ws.View()
}

// ResetToOriginal discards all applied steps and restores the dataset
// as loaded. The chat history is kept. Rejected while a turn runs.
func (s *Session) ResetToOriginal() error {
	if !s.turnMu.TryLock() {
		return ErrSessionBusy
	}
	defer s.turnMu.Unlock()

	if err := s.ws.Reset(); err != nil {
		return err
	}

	s.mu.Lock()
	s.meta.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	return nil
}

// SetStatus transitions the session lifecycle state.
func (s *Session) SetStatus(status Status) error {
	if !status.Valid() {
		return fmt.Errorf("invalid session status %q", status)
	}
	s.mu.Lock()
	s.meta.Status = status
	s.meta.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()
	return nil
}

func (s *Session) appendTurnLocked(role, content string) {
	s.chat = append(s.chat, ChatTurn{
		Role:      role,
		Content:   content,
		Ordinal:   len(s.chat) + 1,
		CreatedAt: time.Now().UTC(),
	})
}
