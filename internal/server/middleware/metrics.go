package middleware

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/daniel-caso-github/users-insights/internal/metrics"
	"github.com/daniel-caso-github/users-insights/internal/observability"
)

// InsightsRoute is the pattern of the insights endpoint.
const InsightsRoute = "/user-insights/{username}"

// statusRecorder captures what a handler wrote.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int64
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.written += int64(n)
	return n, err
}

// RouteLabel names the route a request matched. Unrouted requests collapse
// into a fixed set of labels.
func RouteLabel(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}

	switch path := r.URL.Path; {
	case path == "/health" || strings.HasPrefix(path, "/health/"):
		return "/health/*"
	case path == "/version", path == "/metrics", path == "/":
		return path
	case strings.HasPrefix(path, "/user-insights/"):
		return InsightsRoute
	default:
		return "/unknown"
	}
}

// subjectOf returns the username of an insights request, if any.
func subjectOf(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.URLParam("username")
	}
	return ""
}

// RequestMetrics records every request and logs its completion.
func RequestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if observability.TelemetrySystem == nil && observability.ServerLogger == nil {
			next.ServeHTTP(w, r)
			return
		}

		started := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		var size int64
		if n, err := strconv.ParseInt(r.Header.Get("Content-Length"), 10, 64); err == nil {
			size = n
		}
		req := metrics.HTTPRequest{
			Method:       r.Method,
			Endpoint:     RouteLabel(r),
			Status:       rec.status,
			Duration:     time.Since(started),
			RequestSize:  size,
			ResponseSize: rec.written,
		}
		metrics.RecordHTTPRequest(req)

		if logger := observability.ServerLogger; logger != nil {
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", r.URL.Path),
				zap.String("endpoint", req.Endpoint),
				zap.Int("status", req.Status),
				zap.Duration("duration", req.Duration),
				zap.Int64("response_size", req.ResponseSize),
				zap.String("requestID", GetRequestID(r.Context())),
			}
			if subject := subjectOf(r); subject != "" {
				fields = append(fields, zap.String("subject", subject))
			}
			logger.Info("HTTP request completed", fields...)
		}
	})
}
