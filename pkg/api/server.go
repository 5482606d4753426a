// Package api exposes the HTTP surface: generation submission, listing,
// progress polling and health.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/stillmind/backend/pkg/database"
	"github.com/stillmind/backend/pkg/models"
	"github.com/stillmind/backend/pkg/queue"
	"github.com/stillmind/backend/pkg/services"
)

// submitter accepts new generation requests.
type submitter interface {
	Submit(ctx context.Context, userID string, in services.SubmitInput) (*models.GenerationRequest, error)
}

// generationReader answers the read queries.
type generationReader interface {
	List(ctx context.Context, userID string, page, limit int, status string) (*services.ListResult, error)
	GetProgress(ctx context.Context, userID, requestID string) (*services.Progress, error)
}

// poolHealther reports worker pool health for the health endpoint.
type poolHealther interface {
	Health() *queue.PoolHealth
}

// Server is the HTTP API server.
type Server struct {
	db          *sql.DB
	submission  submitter
	generations generationReader
	pool        poolHealther
	jwtSecret   []byte
	logger      *slog.Logger

	httpServer *http.Server
}

// NewServer creates the API server and mounts all routes.
func NewServer(addr string, db *sql.DB, submission submitter, generations generationReader, pool poolHealther, jwtSecret string, corsOrigins []string, logger *slog.Logger) *Server {
	s := &Server{
		db:          db,
		submission:  submission,
		generations: generations,
		pool:        pool,
		jwtSecret:   []byte(jwtSecret),
		logger:      logger.With("component", "api"),
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(s.requestLogger())
	router.Use(cors.New(corsConfig(corsOrigins)))

	router.GET("/healthz", s.handleHealth)

	authed := router.Group("/api", s.requireAuth())
	authed.POST("/generations", s.handleSubmit)
	authed.GET("/generations", s.handleList)
	authed.GET("/generations/:id/progress", s.handleProgress)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start runs the server until it is shut down. Blocks.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// handleHealth reports database and worker pool health.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.db)
	body := gin.H{"database": dbHealth}
	if s.pool != nil {
		body["workers"] = s.pool.Health()
	}

	if err != nil {
		body["status"] = "unhealthy"
		body["error"] = err.Error()
		c.JSON(http.StatusServiceUnavailable, body)
		return
	}
	body["status"] = "healthy"
	c.JSON(http.StatusOK, body)
}

// requestLogger logs one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization")
	if len(origins) == 1 && origins[0] == "*" {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
