// Package api provides the gin-based debug/observability HTTP surface:
// health, Error/CommitError stream listing, single-stream inspection,
// per-trigger debug counters, and a WebSocket endpoint for live stream
// lifecycle events.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/stacktach/oahu/pkg/config"
	"github.com/stacktach/oahu/pkg/database"
	"github.com/stacktach/oahu/pkg/debugger"
	"github.com/stacktach/oahu/pkg/events"
	"github.com/stacktach/oahu/pkg/queue"
	"github.com/stacktach/oahu/pkg/store"
	"github.com/stacktach/oahu/pkg/version"
)

// Server is the debug HTTP server.
type Server struct {
	engine      *gin.Engine
	httpServer  *http.Server
	cfg         *config.Config
	store       store.Store
	db          *sql.DB // nil for the in-memory store; health check skips the DB probe
	workerPool  *queue.WorkerPool
	connManager *events.ConnectionManager
	debuggers   map[string]debugger.Debugger
}

// NewServer creates a new debug API server. db and workerPool may be nil
// (memory store / no queue running respectively); connManager may be nil
// if WebSocket streaming is disabled.
func NewServer(
	cfg *config.Config,
	s store.Store,
	db *sql.DB,
	workerPool *queue.WorkerPool,
	connManager *events.ConnectionManager,
	debuggers map[string]debugger.Debugger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery(), securityHeaders())

	srv := &Server{
		engine:      e,
		cfg:         cfg,
		store:       s,
		db:          db,
		workerPool:  workerPool,
		connManager: connManager,
		debuggers:   debuggers,
	}
	srv.setupRoutes()
	return srv
}

func (s *Server) debuggerFor(name string) debugger.Debugger {
	if dbg, ok := s.debuggers[name]; ok {
		return dbg
	}
	return debugger.NoOp()
}

// setupRoutes registers all debug API routes.
func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.healthHandler)

	v1 := s.engine.Group("/api/v1")
	v1.GET("/streams/:id", s.getStreamHandler)
	v1.GET("/triggers/:name/errors", s.listErrorsHandler)
	v1.GET("/triggers/:name/debug", s.triggerDebugHandler)

	s.engine.GET("/ws", s.wsHandler)
}

// Start starts the HTTP server on the given address (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.engine}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// healthHandler handles GET /health. Checks the database (when present)
// and the worker pool (when running); both are optional components so
// neither missing one counts against health.
func (s *Server) healthHandler(c *gin.Context) {
	reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.db != nil {
		dbHealth, err := database.Health(reqCtx, s.db)
		if err != nil {
			status = healthStatusUnhealthy
			checks["database"] = HealthCheck{Status: healthStatusUnhealthy, Message: err.Error()}
		} else {
			checks["database"] = HealthCheck{Status: healthStatusHealthy, Message: dbHealth.Status}
		}
	}

	if s.workerPool != nil {
		poolHealth := s.workerPool.Health()
		if poolHealth != nil && !poolHealth.IsHealthy {
			if status == healthStatusHealthy {
				status = healthStatusDegraded
			}
			msg := poolHealth.StoreError
			if msg == "" {
				msg = healthStatusUnhealthy
			}
			checks["worker_pool"] = HealthCheck{Status: healthStatusDegraded, Message: msg}
		} else {
			checks["worker_pool"] = HealthCheck{Status: healthStatusHealthy}
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, &HealthResponse{
		Status:  status,
		Version: version.Full(),
		Checks:  checks,
	})
}
