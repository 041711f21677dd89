package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/fjmerc/streamforge/internal/checksum"
	"github.com/fjmerc/streamforge/internal/metrics"
	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/storage"
	"github.com/fjmerc/streamforge/internal/tracker"
)

// publishTimeout bounds the best-effort mirror after completion.
const publishTimeout = 10 * time.Minute

// Complete validates that chunks 1..N are present, verifies the whole-file
// digest over them in order, packages them as HLS and finalizes the upload.
// Any failure returns the upload to its previous state with its chunks
// intact, so the client can repair it and call Complete again.
func (s *Service) Complete(ctx context.Context, req models.UploadCompleteRequest) (*models.UploadResultResponse, error) {
	file, err := s.getFile(ctx, req.UploadID)
	if err != nil {
		return nil, err
	}

	prev := file.Status
	if prev != models.StatusInitialized && prev != models.StatusIngesting {
		return nil, fmt.Errorf("%w: upload %s is %s", ErrInvalidState, file.ID, prev)
	}
	gate := s.gate(file.ID)
	gate.Lock()
	err = s.transition(ctx, file.ID, []models.UploadStatus{prev}, models.StatusCompleting)
	gate.Unlock()
	if err != nil {
		return nil, err
	}

	paths, err := s.chunkPaths(ctx, file)
	if err != nil {
		s.revert(ctx, file.ID, models.StatusCompleting, prev)
		var inc *tracker.IncompleteError
		if errors.As(err, &inc) {
			slog.Info("completion rejected, chunks missing",
				"upload_id", file.ID,
				"expected", inc.Expected,
				"received", inc.Received,
				"missing", inc.Missing,
			)
		}
		return nil, err
	}

	match, err := checksum.VerifyConcatenated(paths, file.ChunkSetHash)
	if err != nil {
		s.revert(ctx, file.ID, models.StatusCompleting, prev)
		return nil, storage.NewStorageErrorWithMessage("Complete", file.ID, err, "failed to read chunks")
	}
	if !match {
		s.revert(ctx, file.ID, models.StatusCompleting, prev)
		metrics.IntegrityFailuresTotal.WithLabelValues(checksum.ScopeFile).Inc()
		// The digest is only needed for the report.
		actual, _ := checksum.DigestFiles(paths)
		slog.Warn("file checksum mismatch at completion",
			"upload_id", file.ID,
			"expected", file.ChunkSetHash,
			"actual", actual,
		)
		return nil, checksum.NewIntegrityError(checksum.ScopeFile, file.ChunkSetHash, actual)
	}

	playlist, err := s.media.FormatHLS(ctx, paths, s.store.UploadDir(file.ID))
	if err != nil {
		s.revert(ctx, file.ID, models.StatusCompleting, prev)
		metrics.UploadsTotal.WithLabelValues(string(file.Mode), "failure").Inc()
		return nil, err
	}

	ok, err := s.files.Finalize(context.WithoutCancel(ctx), file.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to finalize upload: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: upload %s left completing during packaging", ErrInvalidState, file.ID)
	}

	s.afterFinalize(ctx, file.ID)

	metrics.UploadsTotal.WithLabelValues(string(file.Mode), "success").Inc()
	slog.Info("upload finalized",
		"upload_id", file.ID,
		"mode", file.Mode,
		"chunks", len(paths),
		"playlist", playlist,
	)

	return &models.UploadResultResponse{FileID: file.ID, ChunkPaths: paths}, nil
}

func (s *Service) chunkPaths(ctx context.Context, file *models.FileRecord) ([]string, error) {
	paths, err := s.tracker.ValidateAndGetChunkPaths(ctx, file.ID)
	if errors.Is(err, tracker.ErrUnknownUpload) {
		if err := s.restoreTracker(ctx, file); err != nil {
			return nil, err
		}
		paths, err = s.tracker.ValidateAndGetChunkPaths(ctx, file.ID)
	}
	return paths, err
}

// afterFinalize drops transient state and publishes the rendition. None of
// it can fail the completion.
func (s *Service) afterFinalize(ctx context.Context, uploadID string) {
	ctx = context.WithoutCancel(ctx)

	if err := s.tracker.Cleanup(ctx, uploadID); err != nil {
		slog.Warn("failed to clean up tracker state", "upload_id", uploadID, "error", err)
	}
	if _, err := s.chunks.DeleteByFile(ctx, uploadID); err != nil {
		slog.Warn("failed to delete chunk records", "upload_id", uploadID, "error", err)
	}

	s.publish(ctx, uploadID)
}

func (s *Service) publish(ctx context.Context, uploadID string) {
	if s.publisher == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	n, err := s.publisher.Publish(ctx, uploadID, s.store.UploadDir(uploadID))
	if err != nil {
		metrics.PublishTotal.WithLabelValues("failure").Inc()
		slog.Error("failed to publish rendition",
			"upload_id", uploadID,
			"error", err,
		)
		return
	}

	metrics.PublishTotal.WithLabelValues("success").Inc()
	slog.Info("rendition published", "upload_id", uploadID, "objects", n)
}
