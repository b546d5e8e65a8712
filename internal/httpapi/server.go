// Package httpapi exposes the analysis service over HTTP.
package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/datalens-dev/datalens/internal/observability"
	"github.com/datalens-dev/datalens/pkg/analysis"
)

// Server wraps the gin engine and its route handlers.
type Server struct {
	engine   *gin.Engine
	handlers *Handlers
}

// NewServer builds the HTTP server around a session manager.
func NewServer(manager *analysis.Manager, limits DatasetLimits, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(RequestLogger(logger))
	engine.Use(RequestMetrics())

	handlers := NewHandlers(manager, limits, logger)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(observability.MetricsHandler()))

	v1 := engine.Group("/v1")
	{
		v1.POST("/sessions", handlers.CreateSession)
		v1.GET("/sessions", handlers.ListSessions)
		v1.GET("/sessions/:id", handlers.GetSession)
		v1.DELETE("/sessions/:id", handlers.DeleteSession)
		v1.POST("/sessions/:id/archive", handlers.ArchiveSession)
		v1.POST("/sessions/:id/dataset", handlers.UploadDataset)
		v1.POST("/sessions/:id/chat", handlers.Chat)
		v1.POST("/sessions/:id/reset", handlers.ResetSession)
		v1.POST("/sessions/:id/snapshots", handlers.CreateSnapshot)
		v1.GET("/sessions/:id/snapshots", handlers.ListSnapshots)
		v1.POST("/sessions/:id/snapshots/:snapshotID/restore", handlers.RestoreSnapshot)
	}

	return &Server{engine: engine, handlers: handlers}
}

// Handler returns the engine as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}
