package analysis

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/datalens-dev/datalens/internal/observability"
	"github.com/datalens-dev/datalens/pkg/snapshot"
)

// ManagerConfig tunes session lifecycle handling.
type ManagerConfig struct {
	// Session is applied to every created session.
	Session SessionConfig
	// IdleTimeout archives sessions with no activity for this long.
	// Zero disables the janitor.
	IdleTimeout time.Duration
	// JanitorSchedule is the cron spec for the idle sweep
	// (default "@every 10m").
	JanitorSchedule string
}

// CreateOptions configures session creation.
type CreateOptions struct {
	// ProjectID groups the session under a project.
	ProjectID string
	// CreatorID identifies the creating user.
	CreatorID string
	// SystemPrompt is appended to the base analysis prompt.
	SystemPrompt string
	// InitialMessage seeds the conversation.
	InitialMessage string
}

// Manager owns the live session registry. Sessions live in memory;
// their snapshots persist through the snapshot backend and survive
// restarts.
type Manager struct {
	agent   *Agent
	backend snapshot.Backend
	config  ManagerConfig
	logger  zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	cron *cron.Cron
}

// NewManager creates a manager that builds sessions on the given agent
// and snapshot backend.
func NewManager(agent *Agent, backend snapshot.Backend, config ManagerConfig, logger zerolog.Logger) *Manager {
	return &Manager{
		agent:    agent,
		backend:  backend,
		config:   config,
		logger:   logger.With().Str("component", "manager").Logger(),
		sessions: make(map[string]*Session),
	}
}

// Create creates a new draft session.
func (m *Manager) Create(opts CreateOptions) *Session {
	now := time.Now().UTC()
	meta := Metadata{
		ID:             uuid.New().String(),
		ProjectID:      opts.ProjectID,
		CreatorID:      opts.CreatorID,
		Status:         StatusDraft,
		SystemPrompt:   opts.SystemPrompt,
		InitialMessage: opts.InitialMessage,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	sess := NewSession(meta, m.agent, m.backend, m.config.Session, m.logger)

	m.mu.Lock()
	m.sessions[meta.ID] = sess
	observability.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	m.logger.Info().Str("session", meta.ID).Str("project", opts.ProjectID).
		Msg("session created")
	return sess
}

// Get retrieves a live session by ID.
func (m *Manager) Get(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	return sess, nil
}

// List returns metadata of all live sessions, newest first.
func (m *Manager) List() []Metadata {
	m.mu.RLock()
	out := make([]Metadata, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Metadata())
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Archive marks a session archived. Archived sessions stay readable
// until deleted.
func (m *Manager) Archive(sessionID string) error {
	sess, err := m.Get(sessionID)
	if err != nil {
		return err
	}
	return sess.SetStatus(StatusArchived)
}

// Delete removes a session and all its persisted snapshots.
func (m *Manager) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	_, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}
	delete(m.sessions, sessionID)
	observability.SetActiveSessions(len(m.sessions))
	m.mu.Unlock()

	if err := m.backend.DeleteSession(ctx, sessionID); err != nil {
		observability.RecordSnapshotOp("delete", "error")
		return fmt.Errorf("delete session snapshots: %w", err)
	}
	observability.RecordSnapshotOp("delete", "ok")
	m.logger.Info().Str("session", sessionID).Msg("session deleted")
	return nil
}

// StartJanitor schedules the idle-session sweep. No-op when
// IdleTimeout is zero.
func (m *Manager) StartJanitor() error {
	if m.config.IdleTimeout <= 0 {
		return nil
	}
	schedule := m.config.JanitorSchedule
	if schedule == "" {
		schedule = "@every 10m"
	}

	m.cron = cron.New()
	if _, err := m.cron.AddFunc(schedule, m.sweepIdle); err != nil {
		return fmt.Errorf("schedule janitor: %w", err)
	}
	m.cron.Start()
	m.logger.Info().Str("schedule", schedule).
		Dur("idle_timeout", m.config.IdleTimeout).Msg("janitor started")
	return nil
}

// sweepIdle archives active sessions whose last activity is older than
// the idle timeout. Sessions mid-turn are skipped via the busy check.
func (m *Manager) sweepIdle() {
	cutoff := time.Now().UTC().Add(-m.config.IdleTimeout)

	m.mu.RLock()
	candidates := make([]*Session, 0)
	for _, sess := range m.sessions {
		meta := sess.Metadata()
		if meta.Status == StatusActive && meta.UpdatedAt.Before(cutoff) {
			candidates = append(candidates, sess)
		}
	}
	m.mu.RUnlock()

	for _, sess := range candidates {
		if !sess.turnMu.TryLock() {
			continue
		}
		err := sess.SetStatus(StatusArchived)
		sess.turnMu.Unlock()
		if err == nil {
			m.logger.Info().Str("session", sess.ID()).Msg("idle session archived")
		}
	}
}

// Close stops the janitor and the snapshot backend.
func (m *Manager) Close() error {
	if m.cron != nil {
		m.cron.Stop()
	}
	return m.backend.Close()
}
