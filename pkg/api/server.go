// Package api exposes the snapshot store over HTTP.
package api

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/wilhg/snapstore/pkg/errmodel"
	"github.com/wilhg/snapstore/pkg/store"
	"github.com/wilhg/snapstore/web"
)

// DefaultBodyLimit caps request bodies at 10 MiB.
const DefaultBodyLimit int64 = 10 << 20

// SnapshotPath is the single resource served by the API.
const SnapshotPath = "/api/historical-data"

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger used for request and failure logs.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithBodyLimit sets the maximum accepted request body size in bytes.
func WithBodyLimit(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.bodyLimit = n
		}
	}
}

// WithStatic replaces the embedded landing page assets.
func WithStatic(fsys fs.FS) Option {
	return func(s *Server) {
		if fsys != nil {
			s.static = fsys
		}
	}
}

// Server maps HTTP requests onto a store.Store. It holds no mutable state;
// concurrent requests share only the store's connection pool.
type Server struct {
	store     store.Store
	logger    *slog.Logger
	bodyLimit int64
	static    fs.FS
}

// New creates a Server backed by st.
func New(st store.Store, opts ...Option) *Server {
	s := &Server{
		store:     st,
		logger:    slog.Default(),
		bodyLimit: DefaultBodyLimit,
		static:    web.Static(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Routes returns the instrumented HTTP handler.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		correlationHeaders,
		s.requestLogger,
		middleware.Recoverer,
		SecurityHeaders(DefaultHeaders()),
		cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id", "X-Trace-Id"},
			MaxAge:         300,
		}),
	)
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		errmodel.WriteHTTP(w, r, errmodel.Validation("not_found", "Not found", nil))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		errmodel.WriteHTTP(w, r, errmodel.Validation("method_not_allowed", "Method not allowed", nil))
	})

	r.Get("/healthz", s.handleHealth)

	r.Get(SnapshotPath, s.handleLatest)
	r.Post(SnapshotPath, s.handleAppend)
	r.Delete(SnapshotPath, s.handleClear)

	static := http.FileServerFS(s.static)
	r.Get("/*", static.ServeHTTP)
	r.Head("/*", static.ServeHTTP)

	return otelhttp.NewHandler(r, "snapstore",
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
