// Package api serves stored evaluation results and a live progress stream
// over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/foundation29org/dxgpt-bench-lab/internal/domain"
	"github.com/foundation29org/dxgpt-bench-lab/internal/middleware"
	"github.com/foundation29org/dxgpt-bench-lab/internal/progress"
	"github.com/foundation29org/dxgpt-bench-lab/internal/repository"
)

// RunStore is the subset of the run repository the API reads.
type RunStore interface {
	ListRuns(ctx context.Context, limit int) ([]repository.RunRecord, error)
	GetRun(ctx context.Context, id string) (*repository.RunRecord, error)
	ListCaseResults(ctx context.Context, runID string) ([]repository.CaseRecord, error)
}

// Server is the report HTTP server.
type Server struct {
	cfg    domain.ServerConfig
	store  RunStore
	hub    *progress.Hub
	router *gin.Engine
	server *http.Server
	log    *logrus.Logger
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The report server is same-origin-agnostic: it serves dashboards, not
	// mutations.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewServer creates the report server. hub may be nil when no run is
// executing in-process; store may be nil when the benchmark binary serves
// live progress without a results database.
func NewServer(cfg domain.ServerConfig, store RunStore, hub *progress.Hub, logLevel string, logger *logrus.Logger) *Server {
	if logLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:    cfg,
		store:  store,
		hub:    hub,
		router: router,
		log:    logger,
	}
	s.setupRoutes()
	return s
}

// Start serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("Report server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/runs", s.handleListRuns)
		v1.GET("/runs/:id", s.handleGetRun)
		v1.GET("/runs/:id/cases", s.handleListCases)
	}

	s.router.GET("/ws/progress", s.handleProgress)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	})
}

func (s *Server) handleListRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "results store not configured"})
		return
	}
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if _, err := fmt.Sscanf(raw, "%d", &limit); err != nil || limit <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
	}

	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		s.log.WithError(err).Error("Failed to list runs")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing runs failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "results store not configured"})
		return
	}
	run, err := s.store.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		s.log.WithError(err).Error("Failed to get run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "getting run failed"})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) handleListCases(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "results store not configured"})
		return
	}
	runID := c.Param("id")
	if _, err := s.store.GetRun(c.Request.Context(), runID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		s.log.WithError(err).Error("Failed to get run")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "getting run failed"})
		return
	}

	cases, err := s.store.ListCaseResults(c.Request.Context(), runID)
	if err != nil {
		s.log.WithError(err).Error("Failed to list case results")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "listing case results failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"run_id": runID, "cases": cases, "count": len(cases)})
}

func (s *Server) handleProgress(c *gin.Context) {
	if s.hub == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no run in progress"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	s.hub.Register(conn)
}
