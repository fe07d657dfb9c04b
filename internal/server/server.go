// Package server is the HTTP front door: upload and analysis endpoints,
// health and metrics, behind CORS and an optional API-key identity gate.
package server

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/diet-analysis/internal/metrics"
	"github.com/sells-group/diet-analysis/internal/model"
)

// DefaultMaxUploadBytes caps a multipart request body.
const DefaultMaxUploadBytes int64 = 10 << 20

// Pipeline is the set of flows served over HTTP.
type Pipeline interface {
	Run(ctx context.Context, report, label io.ReadSeeker) (*model.Result, error)
	UploadHealthReport(ctx context.Context, uid string, report io.ReadSeeker) (model.HealthRecord, error)
	AnalyzeForUser(ctx context.Context, uid string, label io.ReadSeeker) (*model.Result, error)
	History(ctx context.Context, uid string, limit int) ([]model.AnalysisRecord, error)
}

// Fetcher downloads a document named by URL instead of an uploaded file.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*bytes.Reader, error)
}

// Config configures the HTTP layer.
type Config struct {
	AllowedOrigins []string

	// APIKeys maps bearer keys to user ids. Empty disables the gate and the
	// uid form field identifies the user.
	APIKeys map[string]string

	MaxUploadBytes int64
}

// Server routes HTTP requests to the pipeline.
type Server struct {
	pipeline Pipeline
	fetcher  Fetcher
	metrics  *metrics.Metrics
	cfg      Config
}

// New creates a Server. fetcher may be nil, which disables URL inputs.
func New(p Pipeline, f Fetcher, m *metrics.Metrics, cfg Config) *Server {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	return &Server{pipeline: p, fetcher: f, metrics: m, cfg: cfg}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	mux := chi.NewRouter()
	mux.Use(middleware.Recoverer)
	mux.Use(requestID)
	mux.Use(s.observe)
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.cfg.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	mux.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("/metrics", s.metrics.Handler())

	mux.Group(func(r chi.Router) {
		r.Use(identityGate(s.cfg.APIKeys))
		r.Post("/upload_healthcare_report", s.wrap(s.handleUploadReport))
		r.Post("/analyze", s.wrap(s.handleAnalyze))
		r.Post("/upload", s.wrap(s.handleUpload))
		r.Get("/users/{uid}/analyses", s.wrap(s.handleHistory))
	})

	return mux
}

type ctxKey string

const requestIDKey ctxKey = "request_id"

// requestID tags each request with an id, reusing the caller's if present.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// observe logs and counts every request by its route pattern.
func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := ""
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		s.metrics.ObserveRequest(r.Method, route, status, time.Since(start))

		zap.L().Info("http request",
			zap.String("method", r.Method),
			zap.String("route", route),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", w.Header().Get("X-Request-ID")),
		)
	})
}
