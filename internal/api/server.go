package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/fightgraph-crawler/internal/crawl"
	"github.com/JakeFAU/fightgraph-crawler/internal/ingest"
	"github.com/JakeFAU/fightgraph-crawler/internal/metrics"
	"github.com/JakeFAU/fightgraph-crawler/internal/store"
)

const (
	readyTimeout  = 2 * time.Second
	lookupTimeout = 3 * time.Second
)

// PipelineStatus is the view of the ingest pipeline the server reports.
type PipelineStatus interface {
	Stats() ingest.Stats
	Buffers() map[ingest.Collection]int
	Pending() int
}

// CrawlStatus is the view of the crawl runner the server reports.
type CrawlStatus interface {
	Stats() crawl.Stats
}

// Backend is the store surface the server needs.
type Backend interface {
	store.Finder
	Ping(ctx context.Context) error
}

// Options wires a Server. Crawl may be nil.
type Options struct {
	RunID    string
	Family   string
	Pipeline PipelineStatus
	Crawl    CrawlStatus
	Store    Backend
	Logger   *zap.Logger
}

// Server serves run status.
type Server struct {
	router chi.Router
	opts   Options
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{opts: opts, logger: logger}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/stats", s.stats)
		r.Get("/buffers", s.buffers)
		r.Get("/collections/{collection}", s.lookup)
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

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.opts.Store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := s.opts.Store.Ping(ctx); err != nil {
		s.logger.Warn("readiness check failed", zap.Error(err))
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type statsResponse struct {
	RunID    string        `json:"run_id"`
	Family   string        `json:"family,omitempty"`
	Pipeline *ingest.Stats `json:"pipeline,omitempty"`
	Crawl    *crawl.Stats  `json:"crawl,omitempty"`
}

func (s *Server) stats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{RunID: s.opts.RunID, Family: s.opts.Family}
	if s.opts.Pipeline != nil {
		ps := s.opts.Pipeline.Stats()
		resp.Pipeline = &ps
	}
	if s.opts.Crawl != nil {
		cs := s.opts.Crawl.Stats()
		resp.Crawl = &cs
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type buffersResponse struct {
	Buffers map[ingest.Collection]int `json:"buffers"`
	Pending int                       `json:"pending"`
}

func (s *Server) buffers(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, "pipeline not running")
		return
	}
	s.writeJSON(w, http.StatusOK, buffersResponse{
		Buffers: s.opts.Pipeline.Buffers(),
		Pending: s.opts.Pipeline.Pending(),
	})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) {
	collection := ingest.Collection(chi.URLParam(r, "collection"))
	if !knownCollection(collection) {
		s.writeError(w, http.StatusNotFound, "unknown collection")
		return
	}
	link := r.URL.Query().Get("link")
	if link == "" {
		s.writeError(w, http.StatusBadRequest, "link query parameter is required")
		return
	}
	if s.opts.Store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "store not configured")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), lookupTimeout)
	defer cancel()
	doc, found, err := s.opts.Store.FindOne(ctx, string(collection), ingest.IdentityField(collection), link)
	if err != nil {
		s.logger.Warn("lookup failed",
			zap.String("collection", string(collection)),
			zap.String("url", link),
			zap.Error(err),
		)
		s.writeError(w, http.StatusServiceUnavailable, "store lookup failed")
		return
	}
	if !found {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}
	s.writeJSON(w, http.StatusOK, doc)
}

func knownCollection(c ingest.Collection) bool {
	for _, known := range ingest.Collections() {
		if known == c {
			return true
		}
	}
	return false
}

type requestIDKey struct{}

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
		ww := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		reqID, _ := r.Context().Value(requestIDKey{}).(string)
		s.logger.Debug("request completed",
			zap.String("request_id", reqID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered", zap.Any("error", rec), zap.String("path", r.URL.Path))
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
