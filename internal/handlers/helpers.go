// Package handlers adapts the upload and playback services to HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/fjmerc/streamforge/internal/checksum"
	"github.com/fjmerc/streamforge/internal/metrics"
	"github.com/fjmerc/streamforge/internal/middleware"
	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/playback"
	"github.com/fjmerc/streamforge/internal/repository"
	"github.com/fjmerc/streamforge/internal/storage"
	"github.com/fjmerc/streamforge/internal/tracker"
	"github.com/fjmerc/streamforge/internal/transcode"
	"github.com/fjmerc/streamforge/internal/upload"
	"github.com/fjmerc/streamforge/internal/utils"
)

// UserIDHeader carries the opaque id of the viewer a watermark is issued to.
const UserIDHeader = "X-User-ID"

// multipartMemory is how much of a multipart body is held in memory before
// the rest spills to a temporary file.
const multipartMemory = 32 << 20

// multipartOverhead is allowed on top of the payload limit for form fields and boundaries.
const multipartOverhead = 1 << 20

// sendError writes a JSON error response
func sendError(w http.ResponseWriter, message, code string, status int) {
	sendJSON(w, status, models.ErrorResponse{
		Error: message,
		Code:  code,
	})
}

// sendJSON writes v as a JSON response with the given status
func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// sendServiceError maps an upload or playback error to a status code.
func sendServiceError(w http.ResponseWriter, r *http.Request, op, uploadID string, err error) {
	var incomplete *tracker.IncompleteError
	var integrity *checksum.IntegrityError
	var tooLarge *http.MaxBytesError

	switch {
	case errors.As(err, &incomplete):
		sendJSON(w, http.StatusConflict, models.UploadIncompleteResponse{
			Error:      err.Error(),
			Code:       "INCOMPLETE_UPLOAD",
			Missing:    incomplete.Missing,
			Unexpected: incomplete.Unexpected,
		})
	case errors.As(err, &integrity):
		sendError(w, err.Error(), "CHECKSUM_MISMATCH", http.StatusUnprocessableEntity)
	case errors.As(err, &tooLarge):
		sendError(w, fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit), "TOO_LARGE", http.StatusRequestEntityTooLarge)
	case errors.Is(err, upload.ErrInvalidInput), errors.Is(err, playback.ErrInvalidSegment):
		sendError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest)
	case errors.Is(err, upload.ErrInvalidState):
		sendError(w, err.Error(), "INVALID_STATE", http.StatusConflict)
	case errors.Is(err, playback.ErrNotReady):
		sendError(w, "Upload is not ready for playback", "NOT_READY", http.StatusConflict)
	case errors.Is(err, utils.ErrInsufficientSpace):
		sendError(w, "Insufficient storage for this upload", "INSUFFICIENT_STORAGE", http.StatusInsufficientStorage)
	case errors.Is(err, transcode.ErrExternalTool):
		slog.Error("media tool failed",
			"op", op,
			"upload_id", uploadID,
			"request_id", middleware.RequestID(r.Context()),
			"error", err,
		)
		metrics.ErrorsTotal.WithLabelValues("transcode").Inc()
		sendError(w, "Media processing failed", "TRANSCODE_FAILED", http.StatusBadGateway)
	case errors.Is(err, repository.ErrNotFound), storage.IsNotFound(err):
		sendError(w, "Upload or asset not found", "NOT_FOUND", http.StatusNotFound)
	case errors.Is(err, context.Canceled) && r.Context().Err() != nil:
		// The client is gone; nobody reads the response.
		slog.Debug("request cancelled", "op", op, "upload_id", uploadID)
	default:
		slog.Error("request failed",
			"op", op,
			"upload_id", uploadID,
			"request_id", middleware.RequestID(r.Context()),
			"error", err,
		)
		metrics.ErrorsTotal.WithLabelValues(op).Inc()
		sendError(w, "Internal server error", "INTERNAL_ERROR", http.StatusInternalServerError)
	}
}

// viewerID returns the caller's user id from UserIDHeader, or fallback when
// the header is absent.
func viewerID(r *http.Request, fallback int64) (int64, error) {
	raw := r.Header.Get(UserIDHeader)
	if raw == "" {
		return fallback, nil
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s header %q", UserIDHeader, raw)
	}
	return id, nil
}

// track registers an operation for graceful shutdown. It writes a 503 and
// returns false once the server is draining.
func track(w http.ResponseWriter, ops *utils.OperationTracker, kind, uploadID string) (func(), bool) {
	if ops == nil {
		return func() {}, true
	}
	finish, ok := ops.Start(kind, uploadID)
	if !ok {
		w.Header().Set("Retry-After", "30")
		sendError(w, "Server is shutting down", "SHUTTING_DOWN", http.StatusServiceUnavailable)
		return nil, false
	}
	return finish, true
}
