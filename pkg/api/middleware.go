package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/trace"
)

// HeaderConfig defines the security headers applied to every response.
type HeaderConfig struct {
	XContentTypeOptions     string
	XFrameOptions           string
	ReferrerPolicy          string
	StrictTransportSecurity string
	DNSPrefetchControl      string
	CrossOriginOpenerPolicy string
}

// DefaultHeaders returns the security headers used by the service.
// No Content-Security-Policy is set so the landing page may load anything.
func DefaultHeaders() HeaderConfig {
	return HeaderConfig{
		XContentTypeOptions:     "nosniff",
		XFrameOptions:           "SAMEORIGIN",
		ReferrerPolicy:          "no-referrer",
		StrictTransportSecurity: "max-age=31536000; includeSubDomains",
		DNSPrefetchControl:      "off",
		CrossOriginOpenerPolicy: "same-origin",
	}
}

// SecurityHeaders returns middleware that sets the configured headers.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	headers := [][2]string{
		{"X-Content-Type-Options", cfg.XContentTypeOptions},
		{"X-Frame-Options", cfg.XFrameOptions},
		{"Referrer-Policy", cfg.ReferrerPolicy},
		{"Strict-Transport-Security", cfg.StrictTransportSecurity},
		{"X-DNS-Prefetch-Control", cfg.DNSPrefetchControl},
		{"Cross-Origin-Opener-Policy", cfg.CrossOriginOpenerPolicy},
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, h := range headers {
				if h[1] != "" {
					w.Header().Set(h[0], h[1])
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// correlationHeaders echoes the request id and the active trace id so callers
// can quote them when reporting a failure.
func correlationHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id := middleware.GetReqID(r.Context()); id != "" {
			w.Header().Set(middleware.RequestIDHeader, id)
		}
		if sc := trace.SpanContextFromContext(r.Context()); sc.HasTraceID() {
			w.Header().Set("X-Trace-Id", sc.TraceID().String())
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			s.logger.LogAttrs(r.Context(), slog.LevelInfo, "http request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", status),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(start)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
