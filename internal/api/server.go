// Package api exposes the HTTP interface for the conversion service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/markvault/markvault/internal/batch"
	"github.com/markvault/markvault/internal/config"
	"github.com/markvault/markvault/internal/keys"
	"github.com/markvault/markvault/internal/metrics"
	"github.com/markvault/markvault/internal/registry"
	"github.com/markvault/markvault/internal/scheduler"
)

// Server wires HTTP handlers to the scheduler and job registry.
type Server struct {
	router    chi.Router
	jobs      batch.JobStore
	sched     *scheduler.Scheduler
	predictor *keys.Predictor
	idGen     batch.IDGenerator
	clock     batch.Clock
	cfg       config.Config
	logger    *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobs batch.JobStore,
	sched *scheduler.Scheduler,
	predictor *keys.Predictor,
	idGen batch.IDGenerator,
	clock batch.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobs:      jobs,
		sched:     sched,
		predictor: predictor,
		idGen:     idGen,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}

	timeout := time.Duration(cfg.Server.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		// Must stay above the job timeout so sync requests can finish.
		timeout = cfg.JobTimeout() + 30*time.Second
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(s.apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/convert", s.convert)
		r.Get("/jobs/{job_id}", s.getJob)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// convert accepts a single URL or a batch and runs it synchronously or
// asynchronously depending on the request.
func (s *Server) convert(w http.ResponseWriter, r *http.Request) {
	var req batch.ConvertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	normalized, err := req.Normalize(s.cfg.Jobs.MaxURLs)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := s.buildJob(r, normalized)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.jobs.CreateJob(r.Context(), job); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("create job: %v", err))
		return
	}
	s.logger.Info("job accepted",
		zap.String("job_id", job.ID),
		zap.String("namespace", job.Namespace),
		zap.Int("urls", len(job.Items)),
		zap.Bool("async", job.Options.Async),
	)

	if job.Options.Async {
		s.sched.Start(job)
		s.writeJSON(w, http.StatusAccepted, acceptedResponse(job))
		return
	}

	final, err := s.sched.Run(r.Context(), job)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		s.writeError(w, status, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, convertCompleted{Success: true, CompletionPayload: final.Completion()})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "job not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, jobStatusResponse(job))
}

func (s *Server) buildJob(r *http.Request, req batch.BatchRequest) (batch.Job, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return batch.Job{}, fmt.Errorf("generate job id: %w", err)
	}
	namespace := r.Header.Get("X-Tenant-ID")
	if namespace == "" {
		namespace = s.cfg.Jobs.DefaultNamespace
	}
	if namespace == "" {
		namespace = "default"
	}

	items := make([]batch.WorkItem, len(req.URLs))
	for i, u := range req.URLs {
		items[i] = batch.WorkItem{
			URL:  u,
			Keys: s.predictor.Predict(namespace, u, req.Options.Fetch.Screenshot),
		}
	}
	return batch.Job{
		ID:        jobID,
		Namespace: namespace,
		Items:     items,
		Options:   req.Options,
		CreatedAt: s.clock.Now(),
	}, nil
}

type convertCompleted struct {
	Success bool `json:"success"`
	batch.CompletionPayload
}

type acceptedResult struct {
	URL         string           `json:"url"`
	Status      batch.ItemStatus `json:"status"`
	ArtifactKey string           `json:"artifact_key"`
}

type convertAccepted struct {
	Success   bool             `json:"success"`
	JobID     string           `json:"job_id"`
	Status    string           `json:"status"`
	StatusURL string           `json:"status_url"`
	Results   []acceptedResult `json:"results"`
}

func acceptedResponse(job batch.Job) convertAccepted {
	results := make([]acceptedResult, len(job.Items))
	for i, item := range job.Items {
		results[i] = acceptedResult{
			URL:         item.URL,
			Status:      batch.ItemStatusProcessing,
			ArtifactKey: item.Keys.ArtifactKey,
		}
	}
	return convertAccepted{
		Success:   true,
		JobID:     job.ID,
		Status:    string(batch.JobStatusProcessing),
		StatusURL: "/v1/jobs/" + job.ID,
		Results:   results,
	}
}

type jobStatus struct {
	Success     bool                `json:"success"`
	JobID       string              `json:"job_id"`
	Namespace   string              `json:"namespace"`
	Status      batch.JobStatus     `json:"status"`
	CreatedAt   time.Time           `json:"created_at"`
	CompletedAt *time.Time          `json:"completed_at,omitempty"`
	CollatedKey string              `json:"collated_key,omitempty"`
	Stats       batch.JobStats      `json:"stats"`
	Results     []batch.ResultEntry `json:"results"`
}

func jobStatusResponse(job batch.Job) jobStatus {
	return jobStatus{
		Success:     true,
		JobID:       job.ID,
		Namespace:   job.Namespace,
		Status:      job.Status,
		CreatedAt:   job.CreatedAt,
		CompletedAt: job.CompletedAt,
		CollatedKey: job.CollatedKey,
		Stats:       job.Stats,
		Results:     job.Results(),
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, `{"success":false,"error":"request timed out"}`)
	}
}

func (s *Server) apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key != expected {
				s.writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Success: false, Error: msg})
}
