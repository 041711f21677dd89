package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/fjmerc/streamforge/internal/config"
	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/upload"
	"github.com/fjmerc/streamforge/internal/utils"
)

// Uploader is the upload orchestration surface. *upload.Service satisfies it.
type Uploader interface {
	Init(ctx context.Context, req models.UploadInitRequest) (*models.UploadInitResponse, error)
	Chunk(ctx context.Context, req models.UploadChunkRequest, data io.Reader) (*models.UploadChunkResponse, error)
	Full(ctx context.Context, req models.UploadFullRequest, data io.Reader) (*models.UploadResultResponse, error)
	Complete(ctx context.Context, req models.UploadCompleteRequest) (*models.UploadResultResponse, error)
	Status(ctx context.Context, uploadID string) (*models.UploadStatusResponse, error)
}

var _ Uploader = (*upload.Service)(nil)

// UploadInitHandler handles POST /v1/upload/init
func UploadInitHandler(svc Uploader, ops *utils.OperationTracker, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

		var req models.UploadInitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, "Invalid JSON request body", "INVALID_JSON", http.StatusBadRequest)
			return
		}

		if err := utils.CheckSpaceFor(cfg.UploadDir, req.FileSize); err != nil {
			if errors.Is(err, utils.ErrInsufficientSpace) {
				slog.Warn("upload rejected for disk space",
					"filename", req.Filename,
					"file_size", req.FileSize,
					"error", err,
				)
				sendServiceError(w, r, "init", "", err)
				return
			}
			slog.Warn("disk space check failed", "path", cfg.UploadDir, "error", err)
		}

		finish, ok := track(w, ops, "init", "")
		if !ok {
			return
		}
		defer finish()

		resp, err := svc.Init(r.Context(), req)
		if err != nil {
			sendServiceError(w, r, "init", "", err)
			return
		}

		sendJSON(w, http.StatusCreated, resp)
	}
}

// UploadChunkHandler handles POST /v1/upload/chunk
// Form fields: uploadId, index, chunkHash and the chunk bytes in file.
func UploadChunkHandler(svc Uploader, ops *utils.OperationTracker, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxChunkSize+multipartOverhead)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			sendFormError(w, r, "chunk", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		req := models.UploadChunkRequest{
			UploadID:  r.FormValue("uploadId"),
			ChunkHash: r.FormValue("chunkHash"),
		}
		if req.UploadID == "" {
			sendError(w, "uploadId is required", "MISSING_UPLOAD_ID", http.StatusBadRequest)
			return
		}
		index, err := strconv.Atoi(r.FormValue("index"))
		if err != nil {
			sendError(w, "index must be an integer", "INVALID_INDEX", http.StatusBadRequest)
			return
		}
		req.Index = index

		part, _, err := r.FormFile("file")
		if err != nil {
			sendError(w, "No chunk file provided", "NO_FILE", http.StatusBadRequest)
			return
		}
		defer part.Close()

		finish, ok := track(w, ops, "chunk", req.UploadID)
		if !ok {
			return
		}
		defer finish()

		resp, err := svc.Chunk(r.Context(), req, part)
		if err != nil {
			sendServiceError(w, r, "chunk", req.UploadID, err)
			return
		}

		sendJSON(w, http.StatusOK, resp)
	}
}

// UploadFullHandler handles POST /v1/upload/full
// Form fields: uploadId, filename, fileHash and the whole file in file.
func UploadFullHandler(svc Uploader, ops *utils.OperationTracker, cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, cfg.MaxFileSize+multipartOverhead)
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			sendFormError(w, r, "full", err)
			return
		}
		defer r.MultipartForm.RemoveAll()

		req := models.UploadFullRequest{
			UploadID: r.FormValue("uploadId"),
			Filename: r.FormValue("filename"),
			FileHash: r.FormValue("fileHash"),
		}
		if req.UploadID == "" {
			sendError(w, "uploadId is required", "MISSING_UPLOAD_ID", http.StatusBadRequest)
			return
		}

		part, header, err := r.FormFile("file")
		if err != nil {
			sendError(w, "No file provided", "NO_FILE", http.StatusBadRequest)
			return
		}
		defer part.Close()
		if req.Filename == "" {
			req.Filename = header.Filename
		}

		finish, ok := track(w, ops, "full", req.UploadID)
		if !ok {
			return
		}
		defer finish()

		resp, err := svc.Full(r.Context(), req, part)
		if err != nil {
			sendServiceError(w, r, "full", req.UploadID, err)
			return
		}

		sendJSON(w, http.StatusOK, resp)
	}
}

// UploadCompleteHandler handles POST /v1/upload/complete
func UploadCompleteHandler(svc Uploader, ops *utils.OperationTracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, 64<<10)

		var req models.UploadCompleteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendError(w, "Invalid JSON request body", "INVALID_JSON", http.StatusBadRequest)
			return
		}
		if req.UploadID == "" {
			sendError(w, "uploadId is required", "MISSING_UPLOAD_ID", http.StatusBadRequest)
			return
		}

		finish, ok := track(w, ops, "complete", req.UploadID)
		if !ok {
			return
		}
		defer finish()

		resp, err := svc.Complete(r.Context(), req)
		if err != nil {
			sendServiceError(w, r, "complete", req.UploadID, err)
			return
		}

		sendJSON(w, http.StatusOK, resp)
	}
}

// UploadStatusHandler handles GET /v1/upload/{uploadId}/status
func UploadStatusHandler(svc Uploader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		uploadID := mux.Vars(r)["uploadId"]

		resp, err := svc.Status(r.Context(), uploadID)
		if err != nil {
			sendServiceError(w, r, "status", uploadID, err)
			return
		}

		sendJSON(w, http.StatusOK, resp)
	}
}

func sendFormError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		sendServiceError(w, r, op, "", err)
		return
	}
	sendError(w, "Expected a multipart/form-data body", "INVALID_FORM", http.StatusBadRequest)
}
