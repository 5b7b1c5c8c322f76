// Package api exposes the prospecting job HTTP surface.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/NofaBC/prospector-api/internal/config"
	"github.com/NofaBC/prospector-api/internal/engine"
	"github.com/NofaBC/prospector-api/internal/metrics"
	"github.com/NofaBC/prospector-api/internal/prospector"
	"github.com/NofaBC/prospector-api/internal/ratelimit"
)

// JobService is the engine surface the API depends on.
type JobService interface {
	CreateJob(ctx context.Context, params engine.CreateJobParams) (prospector.Job, error)
	Advance(ctx context.Context, jobID string) (prospector.Job, error)
	Cancel(ctx context.Context, jobID string) (prospector.Job, error)
	Status(ctx context.Context, jobID string) (engine.JobStatusView, error)
	ListJobs(ctx context.Context, limit int) ([]prospector.Job, error)
}

// Options configures the HTTP server.
type Options struct {
	Service JobService
	Limiter *ratelimit.Limiter
	Auth    config.AuthConfig
	Search  config.SearchConfig
	Timeout time.Duration
	Logger  *zap.Logger
}

// Server wires the chi router to the job service.
type Server struct {
	service JobService
	limiter *ratelimit.Limiter
	auth    config.AuthConfig
	search  config.SearchConfig
	logger  *zap.Logger
	router  chi.Router
}

// NewServer builds the router and its middleware chain.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	s := &Server{
		service: opts.Service,
		limiter: opts.Limiter,
		auth:    opts.Auth,
		search:  opts.Search,
		logger:  logger,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleHealthz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs", s.handleListJobs)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Post("/jobs/{jobID}/advance", s.handleAdvanceJob)
		r.Post("/jobs/{jobID}/cancel", s.handleCancelJob)
	})

	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// createJobRequest is the POST /v1/jobs payload.
type createJobRequest struct {
	SeedURL      string `json:"seed_url"`
	Keyword      string `json:"keyword"`
	Area         string `json:"area"`
	RadiusMeters int    `json:"radius_meters"`
	MaxResults   int    `json:"max_results"`
	WebhookURL   string `json:"webhook_url"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	seed, err := url.Parse(req.SeedURL)
	if req.SeedURL == "" || err != nil || seed.Host == "" || (seed.Scheme != "http" && seed.Scheme != "https") {
		writeError(w, http.StatusBadRequest, "seed_url must be an absolute http(s) URL")
		return
	}
	if req.Keyword == "" {
		req.Keyword = inferKeyword(seed)
	}
	if req.Keyword == "" {
		writeError(w, http.StatusBadRequest, "keyword is required")
		return
	}
	if req.Area == "" {
		writeError(w, http.StatusBadRequest, "area is required")
		return
	}

	if req.RadiusMeters <= 0 {
		req.RadiusMeters = s.search.DefaultRadiusMeters
	}
	if req.RadiusMeters > s.search.MaxRadiusMeters {
		req.RadiusMeters = s.search.MaxRadiusMeters
	}
	if req.MaxResults <= 0 {
		req.MaxResults = s.search.DefaultMaxResults
	}
	if req.MaxResults > s.search.MaxMaxResults {
		req.MaxResults = s.search.MaxMaxResults
	}

	key := ratelimit.Key(clientIP(r), req.SeedURL)
	if !s.limiter.Allow(key) {
		metrics.ObserveAdmissionReject()
		retryAfter := s.limiter.RetryAfter(key)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, try again later")
		return
	}

	job, err := s.service.CreateJob(r.Context(), engine.CreateJobParams{
		SeedURL:      req.SeedURL,
		Keyword:      req.Keyword,
		Area:         req.Area,
		RadiusMeters: req.RadiusMeters,
		MaxResults:   req.MaxResults,
		WebhookURL:   req.WebhookURL,
	})
	if err != nil {
		s.logger.Error("job creation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not create job")
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleAdvanceJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.service.Advance(r.Context(), jobID)
	switch {
	case errors.Is(err, prospector.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, engine.ErrBatchInFlight):
		writeError(w, http.StatusConflict, "a batch for this job is already running")
	case err != nil:
		s.logger.Error("advance failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not advance job")
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job, err := s.service.Cancel(r.Context(), jobID)
	switch {
	case errors.Is(err, prospector.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		s.logger.Error("cancel failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not cancel job")
	default:
		writeJSON(w, http.StatusOK, job)
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	view, err := s.service.Status(r.Context(), jobID)
	switch {
	case errors.Is(err, prospector.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case err != nil:
		s.logger.Error("status lookup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load job")
	default:
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 100 {
			writeError(w, http.StatusBadRequest, "limit must be in [1, 100]")
			return
		}
		limit = parsed
	}
	jobs, err := s.service.ListJobs(r.Context(), limit)
	if err != nil {
		s.logger.Error("job listing failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireAPIKey guards the v1 routes when auth is enabled.
func (s *Server) requireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.auth.Enabled && r.Header.Get("X-API-Key") != s.auth.APIKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestLogger emits one structured line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// inferKeyword derives a search keyword from the seed URL's host when
// the caller did not supply one: the registrable label with hyphens
// turned into spaces ("blue-cup-coffee.com" -> "blue cup coffee").
func inferKeyword(seed *url.URL) string {
	host := strings.TrimPrefix(strings.ToLower(seed.Hostname()), "www.")
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	return strings.TrimSpace(strings.ReplaceAll(host, "-", " "))
}

// clientIP prefers the first X-Forwarded-For hop, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		hop := fwd
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			hop = fwd[:i]
		}
		if hop = strings.TrimSpace(hop); hop != "" {
			return hop
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
