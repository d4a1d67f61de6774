// Package httpapi provides the HTTP API for cifixd: job start, status
// polling, and the SSE status stream.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/cifixd/internal/job"
	"github.com/fyrsmithlabs/cifixd/internal/store"
)

// JobService is the surface the API exposes: start a job, read snapshots,
// subscribe to snapshot changes.
type JobService interface {
	Start(ctx context.Context, repoURL, team, leader string) (*job.Job, error)
	Get(id string) (*job.Job, error)
	Subscribe(id string) (<-chan *job.Job, func(), error)
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for cifixd.
type Server struct {
	echo    *echo.Echo
	svc     JobService
	logger  *zap.Logger
	config  *Config
	metrics *Metrics
}

// NewServer creates a new HTTP server.
func NewServer(svc JobService, logger *zap.Logger, cfg *Config) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("job service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8080,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = NewAppValidator()

	metrics := NewMetrics(logger)

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(metrics.Middleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:    e,
		svc:     svc,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}
	s.registerRoutes()
	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/jobs", s.handleStartJob)
	v1.GET("/jobs/:id", s.handleGetJob)
	v1.GET("/jobs/:id/events", s.handleStreamJob)
}

// StartJobRequest is the request body for POST /api/v1/jobs.
type StartJobRequest struct {
	RepoURL    string `json:"repo_url" validate:"required,url"`
	TeamName   string `json:"team_name" validate:"required"`
	TeamLeader string `json:"team_leader" validate:"required"`
}

// StartJobResponse is the response body for POST /api/v1/jobs.
type StartJobResponse struct {
	JobID  string     `json:"job_id"`
	Status job.Status `json:"status"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleStartJob validates the start request and launches a repair job.
func (s *Server) handleStartJob(c echo.Context) error {
	var req StartJobRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid start request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !isGitHubURL(req.RepoURL) {
		return echo.NewHTTPError(http.StatusBadRequest, "repo_url must be a GitHub URL")
	}

	snapshot, err := s.svc.Start(c.Request().Context(), req.RepoURL, req.TeamName, req.TeamLeader)
	if err != nil {
		s.logger.Error("failed to start job", zap.String("repo", req.RepoURL), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to start job")
	}

	s.metrics.JobStarted(c.Request().Context())
	return c.JSON(http.StatusAccepted, StartJobResponse{
		JobID:  snapshot.ID,
		Status: snapshot.Status,
	})
}

// handleGetJob returns the full current snapshot for a job.
func (s *Server) handleGetJob(c echo.Context) error {
	snapshot, err := s.svc.Get(c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "job not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read job")
	}
	return c.JSON(http.StatusOK, snapshot)
}

// isGitHubURL reports whether the URL points at github.com.
func isGitHubURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := u.Hostname()
	return host == "github.com" || strings.HasSuffix(host, ".github.com")
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
