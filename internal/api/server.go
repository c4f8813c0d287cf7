// Package api exposes the thin admin/export HTTP surface over the pipeline
// core: health, stats, scheduler control, incident listing, enrichment
// revert, CSV export, and metrics.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/httprate"
	"github.com/rs/zerolog"

	"github.com/eduthreat/cti-pipeline/internal/export"
	"github.com/eduthreat/cti-pipeline/internal/metrics"
	"github.com/eduthreat/cti-pipeline/internal/repository"
	"github.com/eduthreat/cti-pipeline/internal/scheduler"
)

// Config holds server configuration.
type Config struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server is the admin HTTP server.
type Server struct {
	httpServer  *http.Server
	incidents   repository.IncidentRepository
	enrichments repository.EnrichmentRepository
	sched       *scheduler.Scheduler
	registry    *metrics.Registry
	auth        *Auth
	logger      zerolog.Logger
}

// NewServer creates the admin server. sched may be nil when the process runs
// a one-shot job.
func NewServer(
	cfg Config,
	incidents repository.IncidentRepository,
	enrichments repository.EnrichmentRepository,
	sched *scheduler.Scheduler,
	registry *metrics.Registry,
	auth *Auth,
	logger zerolog.Logger,
) *Server {
	if incidents == nil || enrichments == nil {
		panic("repositories cannot be nil")
	}
	if auth == nil {
		panic("auth cannot be nil")
	}

	s := &Server{
		incidents:   incidents,
		enrichments: enrichments,
		sched:       sched,
		registry:    registry,
		auth:        auth,
		logger:      logger,
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(httprate.LimitByIP(120, time.Minute))

	r.Get("/health", s.handleHealth)
	r.Post("/auth/login", s.handleLogin)

	r.Group(func(r chi.Router) {
		r.Use(s.auth.RequireAuth)

		r.Get("/stats", s.handleStats)
		r.Get("/incidents", s.handleListIncidents)
		r.Get("/incidents/{id}", s.handleGetIncident)
		r.Get("/incidents/{id}/enrichment", s.handleGetEnrichment)
		r.Post("/incidents/{id}/revert", s.handleRevert)
		r.Post("/enrichments/revert-all", s.handleRevertAll)
		// Single registration; the upstream design accidentally declared
		// this route twice.
		r.Get("/export/csv/full", s.handleExportCSV)
		r.Get("/scheduler/status", s.handleSchedulerStatus)
		r.Post("/scheduler/trigger/{job}", s.handleSchedulerTrigger)
		r.Get("/metrics", s.handleMetrics)
	})

	return r
}

// Start runs the server until it fails or is shut down.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.httpServer.Addr).Msg("admin server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := s.auth.Login(req.Username, req.Password)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.enrichments.Stats(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to compute stats")
		writeError(w, http.StatusInternalServerError, "failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleListIncidents(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	incidents, err := s.incidents.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to list incidents")
		writeError(w, http.StatusInternalServerError, "failed to list incidents")
		return
	}
	writeJSON(w, http.StatusOK, incidents)
}

func (s *Server) handleGetIncident(w http.ResponseWriter, r *http.Request) {
	incident, err := s.incidents.GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "incident not found")
		return
	}
	writeJSON(w, http.StatusOK, incident)
}

func (s *Server) handleGetEnrichment(w http.ResponseWriter, r *http.Request) {
	data, err := s.enrichments.GetData(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.logger.Error().Err(err).Msg("failed to load enrichment")
		writeError(w, http.StatusInternalServerError, "failed to load enrichment")
		return
	}
	if data == "" {
		writeError(w, http.StatusNotFound, "enrichment not found")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(data))
}

func (s *Server) handleRevert(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.enrichments.Revert(r.Context(), id); err != nil {
		s.logger.Error().Err(err).Str("incident_id", id).Msg("revert failed")
		writeError(w, http.StatusInternalServerError, "revert failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reverted", "incident_id": id})
}

func (s *Server) handleRevertAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.enrichments.RevertAll(r.Context())
	if err != nil {
		s.logger.Error().Err(err).Msg("revert-all failed")
		writeError(w, http.StatusInternalServerError, "revert-all failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"reverted": n})
}

func (s *Server) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="incident_enrichments_flat.csv"`)

	if err := export.WriteFlatCSV(r.Context(), s.enrichments, w); err != nil {
		s.logger.Error().Err(err).Msg("csv export failed")
	}
}

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running in this process")
		return
	}
	writeJSON(w, http.StatusOK, s.sched.GetStatus())
}

func (s *Server) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "scheduler not running in this process")
		return
	}

	job := chi.URLParam(r, "job")
	go func() {
		if err := s.sched.Trigger(context.Background(), job); err != nil {
			s.logger.Error().Err(err).Str("job", job).Msg("triggered job failed")
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered", "job": job})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeError(w, http.StatusServiceUnavailable, "metrics not available")
		return
	}
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	w.Write([]byte(s.registry.FormatPrometheus()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
