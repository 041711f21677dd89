package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fjmerc/streamforge/internal/config"
	"github.com/fjmerc/streamforge/internal/metrics"
	"github.com/fjmerc/streamforge/internal/middleware"
	"github.com/fjmerc/streamforge/internal/repository"
	"github.com/fjmerc/streamforge/internal/utils"
)

// Dependencies are the collaborators the router wires into handlers.
type Dependencies struct {
	Config     *config.Config
	Uploads    Uploader
	Playback   Player
	Health     repository.HealthRepository
	Operations *utils.OperationTracker
	StartTime  time.Time
}

// NewRouter builds the HTTP handler for every route.
func NewRouter(d Dependencies) http.Handler {
	r := mux.NewRouter()
	r.Use(metrics.Middleware, middleware.SecurityHeadersMiddleware)

	r.HandleFunc("/health", HealthHandler(d.Health, d.Operations, d.Config, d.StartTime)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()

	v1.HandleFunc("/upload/init", UploadInitHandler(d.Uploads, d.Operations, d.Config)).Methods(http.MethodPost)
	v1.HandleFunc("/upload/chunk", UploadChunkHandler(d.Uploads, d.Operations, d.Config)).Methods(http.MethodPost)
	v1.HandleFunc("/upload/full", UploadFullHandler(d.Uploads, d.Operations, d.Config)).Methods(http.MethodPost)
	v1.HandleFunc("/upload/complete", UploadCompleteHandler(d.Uploads, d.Operations)).Methods(http.MethodPost)
	v1.HandleFunc("/upload/{uploadId}/status", UploadStatusHandler(d.Uploads)).Methods(http.MethodGet)

	v1.HandleFunc("/download/{uploadId}/playlist.m3u8", PlaylistHandler(d.Playback)).Methods(http.MethodGet, http.MethodHead)
	v1.HandleFunc("/download/{uploadId}/export", ExportHandler(d.Playback, d.Operations, d.Config)).Methods(http.MethodGet, http.MethodHead)
	v1.HandleFunc(`/download/{uploadId}/{segment:[^/]+\.ts}`, SegmentHandler(d.Playback, d.Operations, d.Config)).Methods(http.MethodGet, http.MethodHead)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Not found", "NOT_FOUND", http.StatusNotFound)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sendError(w, "Method not allowed", "METHOD_NOT_ALLOWED", http.StatusMethodNotAllowed)
	})

	return middleware.LoggingMiddleware(middleware.RecoveryMiddleware(r))
}
