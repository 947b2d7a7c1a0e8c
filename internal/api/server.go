// Package api serves the HTTP surface used by the dealership UI: spreadsheet
// uploads, job progress, verification triggers and customer counts.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/dealer-sync/internal/config"
	"github.com/sells-group/dealer-sync/internal/importer"
	"github.com/sells-group/dealer-sync/internal/model"
	"github.com/sells-group/dealer-sync/internal/monitoring"
	"github.com/sells-group/dealer-sync/internal/verify"
)

// defaultMaxUploadBytes bounds a multipart upload.
const defaultMaxUploadBytes = 32 << 20

// Store is the read side of the store the handlers query directly.
type Store interface {
	GetJob(ctx context.Context, id string) (*model.UploadJob, error)
	ListJobs(ctx context.Context, filter model.JobFilter) ([]model.UploadJob, error)
	CountActive(ctx context.Context, filter model.CustomerFilter) (int, error)
	Ping(ctx context.Context) error
}

// Server holds the handler dependencies. Imports and verification runs
// started by a request outlive it and run on the server's base context.
type Server struct {
	store    Store
	importer *importer.Orchestrator
	verifier *verify.Verifier
	metrics  *monitoring.Metrics
	cfg      config.ServerConfig

	baseCtx        context.Context
	maxUploadBytes int64
	wg             sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithVerifier enables POST /api/verify. Without it the endpoint answers 503.
func WithVerifier(v *verify.Verifier) Option {
	return func(s *Server) { s.verifier = v }
}

// WithMetrics serves m on /metrics.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithBaseContext sets the context background runs inherit.
func WithBaseContext(ctx context.Context) Option {
	return func(s *Server) { s.baseCtx = ctx }
}

// WithMaxUploadBytes overrides the multipart upload limit.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) { s.maxUploadBytes = n }
}

// NewServer creates a Server.
func NewServer(st Store, imp *importer.Orchestrator, cfg config.ServerConfig, opts ...Option) *Server {
	s := &Server{
		store:          st,
		importer:       imp,
		cfg:            cfg,
		baseCtx:        context.Background(),
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	origins := s.cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", s.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/uploads", func(r chi.Router) {
			r.Post("/", s.handleUpload)
			r.Get("/", s.handleListJobs)
			r.Get("/{id}", s.handleGetJob)
		})
		r.Post("/verify", s.handleVerify)
		r.Get("/customers/count", s.handleCount)
	})

	return r
}

// Wait blocks until every background run started by a request has returned.
func (s *Server) Wait() {
	s.wg.Wait()
}

// goBackground runs fn on the base context, tracked by Wait.
func (s *Server) goBackground(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.baseCtx)
	}()
}

// requestLogger logs one line per request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
