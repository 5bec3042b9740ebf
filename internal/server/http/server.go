// Package httpserver provides the HTTP REST API for submitting pipeline runs,
// following their progress and managing accounts.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/helixir/bibliometric-pipeline/internal/auth"
	"github.com/helixir/bibliometric-pipeline/internal/config"
	"github.com/helixir/bibliometric-pipeline/internal/database"
	"github.com/helixir/bibliometric-pipeline/internal/domain"
	"github.com/helixir/bibliometric-pipeline/internal/runner"
	"github.com/helixir/bibliometric-pipeline/internal/storage"
)

// RunService is the part of the run manager used by the HTTP API.
type RunService interface {
	Submit(ctx context.Context, userID string, cfg config.PipelineConfig, opts ...runner.SubmitOption) (*domain.PipelineRun, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.PipelineRun, error)
	List(ctx context.Context, filter domain.RunFilter) ([]*domain.PipelineRun, int64, error)
	Subscribe(ctx context.Context, id uuid.UUID) (<-chan runner.ProgressEvent, func(), error)
	Active() int
}

var _ RunService = (*runner.Manager)(nil)

// Accounts is the account and per-user storage service.
type Accounts interface {
	Register(ctx context.Context, email, password, displayName string) (*auth.Session, *domain.User, error)
	Login(ctx context.Context, email, password string) (*auth.Session, *domain.User, error)
	Refresh(ctx context.Context, refreshToken string) (*auth.Session, error)
	ResetPassword(ctx context.Context, email string) error
	Authenticate(ctx context.Context, idToken string) (*domain.User, error)
	LogAPIUsage(ctx context.Context, userID, method, endpoint string) error
	Results(ctx context.Context, userID string, limit int) ([]domain.StoredResult, error)
	SetAPIKey(ctx context.Context, user *domain.User, service, key string) (*domain.APIKey, error)
}

var _ Accounts = (*storage.Service)(nil)

// HealthChecker reports database health. *database.DB satisfies it.
type HealthChecker interface {
	Health(ctx context.Context) database.HealthStatus
}

var _ HealthChecker = (*database.DB)(nil)

// Server is the HTTP REST API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	runs       RunService
	accounts   Accounts
	health     HealthChecker
	logger     zerolog.Logger
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
}

// NewServer creates a new HTTP server. health may be nil when run history is
// kept in memory.
func NewServer(cfg Config, runs RunService, accounts Accounts, health HealthChecker, logger zerolog.Logger) *Server {
	s := &Server{
		runs:     runs,
		accounts: accounts,
		health:   health,
		logger:   logger.With().Str("component", "http-server").Logger(),
	}

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/signup", s.signup)
			r.Post("/login", s.login)
			r.Post("/refresh", s.refresh)
			r.Post("/password-reset", s.passwordReset)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/runs", s.submitRun)
			r.Get("/runs", s.listRuns)
			r.Get("/runs/{runID}", s.getRun)
			r.Get("/runs/{runID}/progress", s.streamProgress)
			r.Get("/results", s.listResults)

			r.With(requireAdmin).Put("/admin/api-keys/{service}", s.setAPIKey)
		})
	})

	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if s.health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "disabled"})
		return
	}
	health := s.health.Health(r.Context())
	if health.Status == "healthy" {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": health.Status})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{
		"status":   "unhealthy",
		"database": health.Status,
		"error":    health.Error,
	})
}

// readinessHandler reports readiness and the number of runs in progress.
func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":      "ready",
		"database":    "disabled",
		"active_runs": s.runs.Active(),
	}
	if s.health != nil {
		health := s.health.Health(r.Context())
		if health.Status != "healthy" {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":   "not_ready",
				"database": health.Status,
				"error":    health.Error,
			})
			return
		}
		resp["database"] = "healthy"
	}
	writeJSON(w, http.StatusOK, resp)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
