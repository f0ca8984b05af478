// Package api serves the read-only admin surface: job history, stage
// outputs, the conflict review queue, aggregate stats and Prometheus metrics.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/sells-group/venue-research/internal/model"
	"github.com/sells-group/venue-research/internal/store"
)

const maxPageSize = 500

// Server exposes the job store over HTTP.
type Server struct {
	store    store.Store
	gatherer prometheus.Gatherer
	origins  []string
	now      func() time.Time
}

// New creates a Server. A nil gatherer serves the default registry.
func New(st store.Store, gatherer prometheus.Gatherer, corsOrigins []string) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{store: st, gatherer: gatherer, origins: corsOrigins, now: time.Now}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	r.Route("/jobs", func(r chi.Router) {
		r.Get("/", s.listJobs)
		r.Get("/{id}", s.getJob)
		r.Get("/{id}/cross-references", s.listCrossReferences)
	})
	r.Get("/conflicts", s.listConflicts)
	r.Get("/stats", s.stats)
	return r
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		zap.L().Warn("api: health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, offset, ok := page(w, r)
	if !ok {
		return
	}
	state := model.JobState(q.Get("state"))
	if state != "" && !state.Valid() {
		writeError(w, http.StatusBadRequest, "unknown state "+string(state))
		return
	}

	jobs, err := s.store.ListJobs(r.Context(), store.JobFilter{
		PlaceID: q.Get("place"),
		State:   state,
		Limit:   limit,
		Offset:  offset,
	})
	if err != nil {
		s.internalError(w, "list jobs", err)
		return
	}
	if jobs == nil {
		jobs = []model.ResearchJob{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

// jobDetail is a job with its transitions and whatever stage outputs exist.
type jobDetail struct {
	*model.ResearchJob
	Transitions   []model.JobTransition   `json:"transitions"`
	CitySynthesis *model.CitySynthesis    `json:"city_synthesis,omitempty"`
	Validation    *model.ValidationReport `json:"validation,omitempty"`
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	job, err := s.store.GetJob(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		s.internalError(w, "get job", err)
		return
	}

	detail := jobDetail{ResearchJob: job}
	if detail.Transitions, err = s.store.ListTransitions(ctx, id); err != nil {
		s.internalError(w, "list transitions", err)
		return
	}
	if detail.CitySynthesis, err = s.store.GetCitySynthesis(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.internalError(w, "get city synthesis", err)
		return
	}
	if detail.Validation, err = s.store.GetValidationReport(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.internalError(w, "get validation report", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (s *Server) listCrossReferences(w http.ResponseWriter, r *http.Request) {
	results, err := s.store.ListCrossReferences(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, "list cross references", err)
		return
	}
	if results == nil {
		results = []model.CrossReferenceResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) listConflicts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _, ok := page(w, r)
	if !ok {
		return
	}
	unreviewed := true
	if v := q.Get("unreviewed"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreviewed must be a boolean")
			return
		}
		unreviewed = b
	}

	results, err := s.store.ListConflicts(r.Context(), store.ConflictFilter{
		JobID:      q.Get("job"),
		Unreviewed: unreviewed,
		Limit:      limit,
	})
	if err != nil {
		s.internalError(w, "list conflicts", err)
		return
	}
	if results == nil {
		results = []model.CrossReferenceResult{}
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	st, err := s.store.Stats(r.Context(), s.now())
	if err != nil {
		s.internalError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// page parses limit and offset. It writes a 400 and returns false on bad input.
func page(w http.ResponseWriter, r *http.Request) (limit, offset int, ok bool) {
	q := r.URL.Query()
	var err error
	if v := q.Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return 0, 0, false
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err = strconv.Atoi(v); err != nil || offset < 0 {
			writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
			return 0, 0, false
		}
	}
	return min(limit, maxPageSize), offset, true
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	zap.L().Error("api: "+op, zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Debug("api: encode response", zap.Error(err))
	}
}
