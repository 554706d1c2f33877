// Package server exposes the query and control surface over HTTP.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/tkilaker/feedkiln/internal/config"
	"github.com/tkilaker/feedkiln/internal/database"
	"github.com/tkilaker/feedkiln/internal/jobs"
	"github.com/tkilaker/feedkiln/internal/pipeline"
	"github.com/tkilaker/feedkiln/internal/scheduler"
	"github.com/tkilaker/feedkiln/internal/sources"
)

// Jobs is the job runner as seen by the control surface.
type Jobs interface {
	Enqueue(kind jobs.Kind, params jobs.Params) (*jobs.Job, bool, error)
	GetStatus(id string) (*jobs.Job, error)
	List() ([]*jobs.Job, error)
	Cancel(id string, hard bool) (*jobs.Job, error)
	Subscribe(id string) (<-chan jobs.ProgressUpdate, func(), error)
	Stats() jobs.RunnerStats
}

// StatsProvider computes aggregate statistics.
type StatsProvider interface {
	Stats(ctx context.Context) (*pipeline.Stats, error)
}

// Schedule lists upcoming scheduled jobs.
type Schedule interface {
	Upcoming() []scheduler.Upcoming
}

// Deps are the collaborators the handlers read from and dispatch to.
// Schedule may be nil when the scheduler is disabled.
type Deps struct {
	Store    database.Store
	Jobs     Jobs
	Stats    StatsProvider
	Schedule Schedule
	Registry *sources.Registry
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	deps   Deps
	config *config.Config
	now    func() time.Time
}

// New creates a new server instance
func New(deps Deps, cfg *config.Config) *Server {
	s := &Server{
		router: chi.NewRouter(),
		deps:   deps,
		config: cfg,
		now:    time.Now,
	}

	s.setupRoutes()
	return s
}

// accessLog routes chi's request log lines into zerolog.
type accessLog struct{}

func (accessLog) Print(v ...any) {
	log.Info().Str("component", "http").Msg(fmt.Sprint(v...))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{Logger: accessLog{}, NoColor: true}))
	s.router.Use(middleware.Recoverer)

	// Event streams outlive the request timeout
	s.router.Get("/task/{id}/events", s.handleTaskEvents)

	s.router.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(60 * time.Second))

		r.Get("/", s.handleIndex)
		r.Get("/news", s.handleNewsList)
		r.Get("/news/{id}", s.handleNewsDetail)
		r.Get("/sources", s.handleSources)
		r.Get("/categories", s.handleCategories)
		r.Get("/stats", s.handleStats)
		r.Get("/logs", s.handleLogs)
		r.Get("/schedule", s.handleSchedule)
		r.Get("/rss.xml", s.handleRSS)

		r.Post("/fetch/manual", s.handleManualFetch)
		r.Post("/cleanup", s.handleCleanup)
		r.Post("/report", s.handleReport)

		r.Get("/tasks", s.handleTaskList)
		r.Get("/task/{id}", s.handleTaskStatus)
		r.Delete("/task/{id}", s.handleTaskCancel)

		// Health check
		r.Get("/health", s.handleHealth)
	})
}

// Router returns the Chi router
func (s *Server) Router() *chi.Mux {
	return s.router
}

// HTTPServer builds the http.Server listening on addr
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// handleIndex redirects to the article listing
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/news", http.StatusSeeOther)
}

// handleHealth reports storage, runner and last fetch state
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	resp := map[string]any{
		"status":   "ok",
		"database": "ok",
		"runner":   s.deps.Jobs.Stats(),
		"time":     s.now().UTC(),
	}

	if err := s.deps.Store.Ping(ctx); err != nil {
		status = http.StatusServiceUnavailable
		resp["status"] = "degraded"
		resp["database"] = err.Error()
	} else if last, err := s.deps.Store.LastSuccessfulRun(ctx); err == nil {
		resp["last_fetch"] = last
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// internalError logs err and hides it from the caller
func internalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	log.Error().Err(err).Str("request_id", middleware.GetReqID(r.Context())).Msg(msg)
	writeError(w, http.StatusInternalServerError, msg)
}
