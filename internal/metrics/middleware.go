package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware instruments HTTP handlers with request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK, // Default to 200 if WriteHeader not called
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := routeLabel(r)
		method := r.Method
		status := strconv.Itoa(wrapped.statusCode)

		HTTPRequestDuration.WithLabelValues(method, path).Observe(duration)
		HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
	})
}

// routeLabel prefers the matched gorilla/mux route template, falling back to
// normalizePath when the middleware runs outside a router.
func routeLabel(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return normalizePath(r.URL.Path)
}

// normalizePath normalizes URL paths for metric labels to avoid cardinality explosion.
// Upload IDs and segment names are replaced with placeholders.
func normalizePath(path string) string {
	switch path {
	case "/", "/health", "/metrics",
		"/v1/upload/init", "/v1/upload/chunk", "/v1/upload/full", "/v1/upload/complete":
		return path
	}

	switch {
	case strings.HasPrefix(path, "/v1/upload/") && strings.HasSuffix(path, "/status"):
		return "/v1/upload/{uploadId}/status"

	case strings.HasPrefix(path, "/v1/download/"):
		switch {
		case strings.HasSuffix(path, "/playlist.m3u8"):
			return "/v1/download/{uploadId}/playlist.m3u8"
		case strings.HasSuffix(path, "/export"):
			return "/v1/download/{uploadId}/export"
		case strings.HasSuffix(path, ".ts"):
			return "/v1/download/{uploadId}/{segment}"
		}
		return "/v1/download/*"

	default:
		return "/other"
	}
}
