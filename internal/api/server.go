// Package api exposes the rewrite pipeline over HTTP: a client posts a graph
// model and receives the fused graph back.
package api

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/mirfuse/mirfuse/internal/graph"
	"github.com/mirfuse/mirfuse/internal/logger"
	"github.com/mirfuse/mirfuse/internal/pass"
	"github.com/mirfuse/mirfuse/internal/version"
)

type Server struct {
	cfg pass.Config
	log logger.Logger
}

// NewServer creates a server running the given pipeline configuration.
func NewServer(cfg pass.Config, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{cfg: cfg, log: log}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/fuse", s.handleFuse)
	e.GET("/v1/version", s.handleVersion)
}

func (s *Server) handleFuse(c *echo.Context) error {
	requestID := uuid.NewString()
	c.Response().Header().Set("X-Request-ID", requestID)

	var m graph.Model
	if err := json.NewDecoder(c.Request().Body).Decode(&m); err != nil {
		return writeBadRequest(c, "invalid graph model: "+err.Error())
	}
	g, sc, err := graph.Build(&m)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	ctx := logger.WithContext(c.Request().Context(), s.log.With("request_id", requestID))
	if err := pass.Run(ctx, s.cfg, g, sc); err != nil {
		return writeError(c, http.StatusUnprocessableEntity, "fuse_error", err.Error())
	}
	return c.JSON(http.StatusOK, graph.Snapshot(g, sc))
}

func (s *Server) handleVersion(c *echo.Context) error {
	info := version.Resolve()
	return c.JSON(http.StatusOK, map[string]string{
		"version":    info.Version,
		"commit":     info.Commit,
		"build_time": info.BuildTime,
	})
}
