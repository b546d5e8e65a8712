// Package analysis hosts the conversational data-analysis core: the
// agent turn loop, the session that owns dataset state, step ledger,
// chat history and snapshots, and the manager for session lifecycle.
package analysis

import (
	"errors"
	"time"
)

// Errors surfaced by sessions and the manager.
var (
	// ErrSessionBusy is returned when a turn is already in progress.
	ErrSessionBusy = errors.New("session busy: a turn is already in progress")

	// ErrSessionNotFound is returned when a session ID is unknown.
	ErrSessionNotFound = errors.New("session not found")

	// ErrProviderUnavailable wraps exhausted LLM transport failures.
	ErrProviderUnavailable = errors.New("analysis temporarily unavailable")
)

// Status is the lifecycle state of a session.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusDraft, StatusActive, StatusCompleted, StatusArchived:
		return true
	}
	return false
}

// Metadata holds session summary information, stored separately from
// the session's working state for quick listing.
type Metadata struct {
	// ID is the unique session identifier.
	ID string `json:"id"`
	// ProjectID groups sessions under a project.
	ProjectID string `json:"projectId,omitempty"`
	// CreatorID identifies the user who created the session.
	CreatorID string `json:"creatorId,omitempty"`
	// Status is the lifecycle state.
	Status Status `json:"status"`
	// DatasetRef names the dataset source (file name or upload ref).
	DatasetRef string `json:"datasetRef,omitempty"`
	// SystemPrompt is appended to the base analysis prompt.
	SystemPrompt string `json:"systemPrompt,omitempty"`
	// InitialMessage seeds the conversation when the session opens.
	InitialMessage string `json:"initialMessage,omitempty"`
	// CreatedAt is when the session was created.
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt is when the session last handled a turn.
	UpdatedAt time.Time `json:"updatedAt"`
}

// ChatTurn is one conversation entry, user or assistant.
type ChatTurn struct {
	// Role is "user" or "assistant".
	Role string `json:"role"`
	// Content is the message text.
	Content string `json:"content"`
	// Ordinal is the position in the conversation, starting at 1.
	Ordinal int `json:"ordinal"`
	// CreatedAt is when the turn was recorded.
	CreatedAt time.Time `json:"createdAt"`
}
