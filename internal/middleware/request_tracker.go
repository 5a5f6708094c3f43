package middleware

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/productcareerlyst/careerlyst/backend/internal/metrics"
)

// RequestTracker records request counts and latency by route pattern and
// writes one access log line per request.
type RequestTracker struct {
	metrics *metrics.Metrics
	logger  *zap.Logger
}

func NewRequestTracker(m *metrics.Metrics, logger *zap.Logger) *RequestTracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RequestTracker{metrics: m, logger: logger.Named("http")}
}

// Middleware returns an HTTP middleware that tracks request metrics
func (rt *RequestTracker) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(rw, r)

			elapsed := time.Since(start)
			route := routePattern(r)
			rt.metrics.ObserveHTTP(r.Method, route, rw.statusCode, elapsed)

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("route", route),
				zap.Int("status", rw.statusCode),
				zap.Int("bytes", rw.size),
				zap.Duration("duration", elapsed),
			}
			if id := r.Header.Get("X-Request-Id"); id != "" {
				fields = append(fields, zap.String("request_id", id))
			}
			if rw.statusCode >= http.StatusInternalServerError {
				rt.logger.Warn("request", fields...)
				return
			}
			rt.logger.Info("request", fields...)
		})
	}
}

// routePattern keeps label cardinality bounded: ids in paths collapse to the
// registered pattern.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode  int
	size        int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}
