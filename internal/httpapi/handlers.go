package httpapi

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/datalens-dev/datalens/pkg/analysis"
	"github.com/datalens-dev/datalens/pkg/dataset"
	"github.com/datalens-dev/datalens/pkg/ledger"
	"github.com/datalens-dev/datalens/pkg/snapshot"
)

// DatasetLimits bounds uploaded datasets.
type DatasetLimits = dataset.Limits

// Handlers holds the HTTP handlers for the analysis API.
type Handlers struct {
	manager *analysis.Manager
	limits  DatasetLimits
	logger  zerolog.Logger
}

// NewHandlers creates handlers on the given session manager.
func NewHandlers(manager *analysis.Manager, limits DatasetLimits, logger zerolog.Logger) *Handlers {
	return &Handlers{
		manager: manager,
		limits:  limits,
		logger:  logger.With().Str("component", "httpapi").Logger(),
	}
}

type createSessionRequest struct {
	ProjectID      string `json:"project_id"`
	CreatorID      string `json:"creator_id"`
	SystemPrompt   string `json:"system_prompt"`
	InitialMessage string `json:"initial_message"`
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

type chatResponse struct {
	Message      string        `json:"message"`
	Steps        []ledger.Step `json:"steps,omitempty"`
	StoppedEarly bool          `json:"stopped_early,omitempty"`
}

type snapshotRequest struct {
	Name string `json:"name"`
}

type sessionDetail struct {
	Metadata analysis.Metadata    `json:"metadata"`
	Dataset  *dataset.Description `json:"dataset,omitempty"`
	Steps    []ledger.Step        `json:"steps,omitempty"`
	History  []analysis.ChatTurn  `json:"history,omitempty"`
}

// CreateSession handles POST /v1/sessions.
func (h *Handlers) CreateSession(c *gin.Context) {
	// An empty body is a valid "all defaults" request.
	var req createSessionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
			return
		}
	}

	sess := h.manager.Create(analysis.CreateOptions{
		ProjectID:      req.ProjectID,
		CreatorID:      req.CreatorID,
		SystemPrompt:   req.SystemPrompt,
		InitialMessage: req.InitialMessage,
	})
	c.JSON(http.StatusCreated, sess.Metadata())
}

// ListSessions handles GET /v1/sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": h.manager.List()})
}

// GetSession handles GET /v1/sessions/:id.
func (h *Handlers) GetSession(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	desc, steps := sess.View()
	c.JSON(http.StatusOK, sessionDetail{
		Metadata: sess.Metadata(),
		Dataset:  desc,
		Steps:    steps,
		History:  sess.History(),
	})
}

// DeleteSession handles DELETE /v1/sessions/:id.
func (h *Handlers) DeleteSession(c *gin.Context) {
	if err := h.manager.Delete(c.Request.Context(), c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ArchiveSession handles POST /v1/sessions/:id/archive.
func (h *Handlers) ArchiveSession(c *gin.Context) {
	if err := h.manager.Archive(c.Param("id")); err != nil {
		h.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// UploadDataset handles POST /v1/sessions/:id/dataset. The dataset is
// sent either as a multipart "file" part (CSV or XLSX, by extension)
// or as a raw CSV body.
func (h *Handlers) UploadDataset(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	var frame *dataset.Frame
	ref := "upload.csv"
	if file, header, ferr := c.Request.FormFile("file"); ferr == nil {
		defer file.Close()
		ref = filepath.Base(header.Filename)
		switch strings.ToLower(filepath.Ext(ref)) {
		case ".xlsx":
			frame, err = dataset.ParseXLSX(file, h.limits)
		default:
			frame, err = dataset.ParseCSV(file, h.limits)
		}
	} else {
		frame, err = dataset.ParseCSV(c.Request.Body, h.limits)
	}
	if err != nil {
		var tooLarge *dataset.TooLargeError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to parse dataset: " + err.Error()})
		return
	}

	if err := sess.LoadDataset(frame, ref); err != nil {
		h.writeError(c, err)
		return
	}

	desc, err := sess.Describe()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

// Chat handles POST /v1/sessions/:id/chat.
func (h *Handlers) Chat(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
		return
	}

	result, err := sess.Chat(c.Request.Context(), req.Message)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chatResponse{
		Message:      result.Message,
		Steps:        result.Steps,
		StoppedEarly: result.StoppedEarly,
	})
}

// ResetSession handles POST /v1/sessions/:id/reset.
func (h *Handlers) ResetSession(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	if err := sess.ResetToOriginal(); err != nil {
		h.writeError(c, err)
		return
	}
	desc, err := sess.Describe()
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

// CreateSnapshot handles POST /v1/sessions/:id/snapshots.
func (h *Handlers) CreateSnapshot(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	var req snapshotRequest
	if err := c.ShouldBindJSON(&req); err != nil && c.Request.ContentLength > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	snap, err := sess.Snapshot(c.Request.Context(), req.Name)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, snap)
}

// ListSnapshots handles GET /v1/sessions/:id/snapshots. With ?tree=true
// the branch structure is returned instead of the flat list.
func (h *Handlers) ListSnapshots(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	if c.Query("tree") == "true" {
		tree, err := sess.SnapshotTree(c.Request.Context())
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"tree": tree, "current": sess.CurrentSnapshotID()})
		return
	}

	snaps, err := sess.Snapshots(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": snaps, "current": sess.CurrentSnapshotID()})
}

// RestoreSnapshot handles POST /v1/sessions/:id/snapshots/:snapshotID/restore.
func (h *Handlers) RestoreSnapshot(c *gin.Context) {
	sess, err := h.manager.Get(c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}

	snap, err := sess.Restore(c.Request.Context(), c.Param("snapshotID"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, snap)
}

// writeError maps domain errors onto HTTP statuses.
func (h *Handlers) writeError(c *gin.Context, err error) {
	var tooLarge *dataset.TooLargeError

	switch {
	case errors.Is(err, analysis.ErrSessionNotFound),
		errors.Is(err, snapshot.ErrSnapshotNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})

	case errors.Is(err, analysis.ErrSessionBusy):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})

	case errors.Is(err, analysis.ErrProviderUnavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})

	case errors.As(err, &tooLarge):
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": err.Error()})

	case errors.Is(err, dataset.ErrNotLoaded),
		errors.Is(err, dataset.ErrEmptyDataset),
		errors.Is(err, dataset.ErrColumnNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})

	default:
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("internal error")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
