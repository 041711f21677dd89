package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/fjmerc/streamforge/internal/checksum"
	"github.com/fjmerc/streamforge/internal/metrics"
	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/storage"
)

// splitDirName is the staging directory for split output inside an upload directory.
const splitDirName = ".split"

// Chunk verifies one chunk against its declared hash, stores it and records
// it with the tracker. A rejected chunk changes nothing: a previously stored
// chunk at the same index stays in place.
func (s *Service) Chunk(ctx context.Context, req models.UploadChunkRequest, data io.Reader) (*models.UploadChunkResponse, error) {
	if req.Index < 1 {
		return nil, fmt.Errorf("%w: chunk index must be at least 1", ErrInvalidInput)
	}

	file, err := s.getFile(ctx, req.UploadID)
	if err != nil {
		return nil, err
	}
	if file.Mode == models.ModeFull {
		return nil, fmt.Errorf("%w: upload %s was sent as a whole file", ErrInvalidState, file.ID)
	}
	if file.Status != models.StatusInitialized && file.Status != models.StatusIngesting {
		return nil, fmt.Errorf("%w: upload %s is %s", ErrInvalidState, file.ID, file.Status)
	}
	if req.Index > file.ExpectedChunks {
		return nil, fmt.Errorf("%w: chunk index %d exceeds totalChunks %d", ErrInvalidInput, req.Index, file.ExpectedChunks)
	}

	gate := s.gate(file.ID)
	gate.RLock()
	defer gate.RUnlock()

	body, size, err := rewindable(data, s.cfg.MaxChunkSize)
	if err != nil {
		metrics.ChunksTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}

	actual, err := checksum.Digest(body)
	if err != nil {
		return nil, storage.NewStorageError("Chunk", file.ID, err)
	}
	if !checksum.Equal(actual, req.ChunkHash) {
		metrics.ChunksTotal.WithLabelValues("rejected").Inc()
		metrics.IntegrityFailuresTotal.WithLabelValues(checksum.ScopeChunk).Inc()
		slog.Warn("chunk checksum mismatch",
			"upload_id", file.ID,
			"chunk_index", req.Index,
			"expected", req.ChunkHash,
			"actual", actual,
		)
		return nil, checksum.NewIntegrityError(checksum.ScopeChunk, req.ChunkHash, actual)
	}

	// The claim moves the upload to ingesting and refreshes its idle clock.
	if err := s.transition(ctx, file.ID, accepting, models.StatusIngesting); err != nil {
		return nil, err
	}

	if err := rewind(body); err != nil {
		return nil, storage.NewStorageError("Chunk", file.ID, err)
	}
	path, err := s.store.Upload(ctx, file.ID, req.Index, body)
	if err != nil {
		return nil, err
	}

	if err := s.chunks.Upsert(ctx, &models.ChunkRecord{
		FileID: file.ID,
		Index:  req.Index,
		Hash:   actual,
		Size:   size,
		Path:   path,
	}); err != nil {
		return nil, fmt.Errorf("failed to record chunk: %w", err)
	}

	// Another instance may have completed or swept the upload meanwhile.
	if err := s.transition(ctx, file.ID, accepting, models.StatusIngesting); err != nil {
		s.dropLateChunk(ctx, file.ID, req.Index, path)
		return nil, err
	}

	if err := s.registerChunk(ctx, file, req.Index); err != nil {
		if errors.Is(err, ErrInvalidState) {
			s.dropLateChunk(ctx, file.ID, req.Index, path)
			return nil, err
		}
		return nil, fmt.Errorf("failed to register chunk: %w", err)
	}

	if req.Index == 1 && file.ContentType == "" {
		s.sniffChunk(ctx, file.ID, body)
	}

	metrics.ChunksTotal.WithLabelValues("accepted").Inc()
	metrics.ChunkSizeBytes.Observe(float64(size))
	slog.Debug("chunk accepted",
		"upload_id", file.ID,
		"chunk_index", req.Index,
		"size", size,
	)

	return &models.UploadChunkResponse{UploadID: file.ID, Index: req.Index}, nil
}

// dropLateChunk removes a chunk stored after its upload was finalized or
// failed. In any other state the files still belong to the upload.
func (s *Service) dropLateChunk(ctx context.Context, uploadID string, index int, path string) {
	ctx = context.WithoutCancel(ctx)

	file, err := s.files.GetByID(ctx, uploadID)
	if err != nil {
		slog.Warn("failed to reload upload for late chunk", "upload_id", uploadID, "error", err)
		return
	}
	if file.Status != models.StatusFinalized && file.Status != models.StatusFailed {
		return
	}

	if err := s.store.Remove(ctx, path); err != nil && !storage.IsNotFound(err) {
		slog.Warn("failed to remove late chunk", "upload_id", uploadID, "chunk_index", index, "error", err)
	}
	if _, err := s.chunks.DeleteByFile(ctx, uploadID); err != nil {
		slog.Warn("failed to delete chunk records", "upload_id", uploadID, "error", err)
	}
	metrics.ChunksTotal.WithLabelValues("rejected").Inc()
	slog.Info("late chunk discarded",
		"upload_id", uploadID,
		"chunk_index", index,
		"status", file.Status,
	)
}

// Full receives the whole file in one request, verifies it, splits it into
// chunks 1..N and registers them, leaving the upload ready for Complete.
// Failures after verification leave the upload failed; they are not rolled back.
func (s *Service) Full(ctx context.Context, req models.UploadFullRequest, data io.Reader) (*models.UploadResultResponse, error) {
	file, err := s.getFile(ctx, req.UploadID)
	if err != nil {
		return nil, err
	}

	// Claiming the upload keeps chunk calls and a second full call out.
	if err := s.transition(ctx, file.ID,
		[]models.UploadStatus{models.StatusInitialized}, models.StatusIngesting); err != nil {
		return nil, err
	}

	dir := s.store.UploadDir(file.ID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		s.revert(ctx, file.ID, models.StatusIngesting, models.StatusInitialized)
		return nil, storage.NewStorageError("Full", dir, err)
	}

	source, actual, size, err := s.receiveSource(dir, req.Filename, data)
	if source != "" {
		defer removeQuietly(source)
	}
	if err != nil {
		s.revert(ctx, file.ID, models.StatusIngesting, models.StatusInitialized)
		return nil, err
	}

	if err := verifyWhole(actual, file.DeclaredHash, req.FileHash); err != nil {
		metrics.IntegrityFailuresTotal.WithLabelValues(checksum.ScopeFile).Inc()
		slog.Warn("full upload checksum mismatch",
			"upload_id", file.ID,
			"actual", actual,
		)
		s.revert(ctx, file.ID, models.StatusIngesting, models.StatusInitialized)
		return nil, err
	}

	if name := strings.TrimSpace(req.Filename); name != "" {
		file.Name = name
	}
	file.DeclaredHash = actual
	file.DeclaredSize = size
	file.Mode = models.ModeFull
	if mt, err := mimetype.DetectFile(source); err == nil {
		file.ContentType = mt.String()
	}
	if err := s.files.UpdateMetadata(ctx, file); err != nil {
		return nil, s.failFull(ctx, file.ID, fmt.Errorf("failed to update metadata: %w", err))
	}

	slog.Info("full upload verified, splitting",
		"upload_id", file.ID,
		"size", size,
		"content_type", file.ContentType,
	)

	paths, err := s.splitIntoChunks(ctx, file.ID, source)
	if err != nil {
		return nil, s.failFull(ctx, file.ID, err)
	}

	chunkSetHash, err := checksum.DigestFiles(paths)
	if err != nil {
		return nil, s.failFull(ctx, file.ID, err)
	}
	file.ExpectedChunks = len(paths)
	file.ChunkSetHash = chunkSetHash
	if err := s.files.UpdateMetadata(ctx, file); err != nil {
		return nil, s.failFull(ctx, file.ID, fmt.Errorf("failed to update metadata: %w", err))
	}

	if err := s.tracker.RegisterUpload(ctx, file.ID, len(paths)); err != nil {
		return nil, s.failFull(ctx, file.ID, err)
	}
	for i := range paths {
		if err := s.tracker.RegisterChunk(ctx, file.ID, i+1); err != nil {
			return nil, s.failFull(ctx, file.ID, err)
		}
	}

	slog.Info("full upload ingested",
		"upload_id", file.ID,
		"chunks", len(paths),
	)

	return &models.UploadResultResponse{FileID: file.ID, ChunkPaths: paths}, nil
}

// receiveSource streams data to a temporary file in dir while hashing it.
func (s *Service) receiveSource(dir, filename string, data io.Reader) (string, string, int64, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" || len(ext) > 8 {
		ext = ".mp4"
	}

	tmp, err := os.CreateTemp(dir, ".full-*"+ext)
	if err != nil {
		return "", "", 0, storage.NewStorageError("Full", dir, err)
	}
	defer tmp.Close()

	hr := checksum.NewHashingReader(io.LimitReader(data, s.cfg.MaxFileSize+1))
	if _, err := io.Copy(tmp, hr); err != nil {
		return tmp.Name(), "", 0, storage.NewStorageError("Full", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return tmp.Name(), "", 0, storage.NewStorageError("Full", tmp.Name(), err)
	}

	switch n := hr.BytesRead(); {
	case n == 0:
		return tmp.Name(), "", 0, fmt.Errorf("%w: file is empty", ErrInvalidInput)
	case n > s.cfg.MaxFileSize:
		return tmp.Name(), "", 0, fmt.Errorf("%w: file exceeds limit %d", ErrInvalidInput, s.cfg.MaxFileSize)
	}
	return tmp.Name(), hr.Sum(), hr.BytesRead(), nil
}

// verifyWhole checks actual against every declared hash. With none declared
// the check fails closed.
func verifyWhole(actual string, declared ...string) error {
	checked := 0
	for _, want := range declared {
		if strings.TrimSpace(want) == "" {
			continue
		}
		checked++
		if !checksum.Equal(actual, want) {
			return checksum.NewIntegrityError(checksum.ScopeFile, want, actual)
		}
	}
	if checked == 0 {
		return checksum.NewIntegrityError(checksum.ScopeFile, "", actual)
	}
	return nil
}

// splitIntoChunks segments source and moves every piece into the chunk store
// as indices 1..N, returning the stored paths in order.
func (s *Service) splitIntoChunks(ctx context.Context, uploadID, source string) ([]string, error) {
	splitDir := filepath.Join(s.store.UploadDir(uploadID), splitDirName)
	defer func() {
		if err := os.RemoveAll(splitDir); err != nil {
			slog.Warn("failed to remove split staging", "path", splitDir, "error", err)
		}
	}()

	segments, err := s.media.Split(ctx, source, splitDir)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(segments))
	for i, segment := range segments {
		index := i + 1
		path, rec, err := s.storeSegment(ctx, uploadID, index, segment)
		if err != nil {
			return nil, err
		}
		if err := s.chunks.Upsert(ctx, rec); err != nil {
			return nil, fmt.Errorf("failed to record chunk %d: %w", index, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (s *Service) storeSegment(ctx context.Context, uploadID string, index int, segment string) (string, *models.ChunkRecord, error) {
	f, err := os.Open(segment)
	if err != nil {
		return "", nil, storage.NewStorageError("Full", segment, err)
	}
	defer f.Close()

	hr := checksum.NewHashingReader(f)
	path, err := s.store.Upload(ctx, uploadID, index, hr)
	if err != nil {
		return "", nil, err
	}
	removeQuietly(segment)

	metrics.ChunkSizeBytes.Observe(float64(hr.BytesRead()))
	return path, &models.ChunkRecord{
		FileID: uploadID,
		Index:  index,
		Hash:   hr.Sum(),
		Size:   hr.BytesRead(),
		Path:   path,
	}, nil
}

// failFull marks a full upload failed, drops its partial output and wraps
// cause as a storage failure.
func (s *Service) failFull(ctx context.Context, uploadID string, cause error) error {
	s.markFailed(ctx, uploadID, models.StatusIngesting)
	s.discard(context.WithoutCancel(ctx), uploadID)
	metrics.UploadsTotal.WithLabelValues(string(models.ModeFull), "failure").Inc()

	slog.Error("full upload failed",
		"upload_id", uploadID,
		"error", cause,
	)
	return storage.NewStorageErrorWithMessage("Full", uploadID, cause, "failed to process full upload")
}

// discard removes an upload's chunks, chunk records and tracker state.
// Failures are logged.
func (s *Service) discard(ctx context.Context, uploadID string) {
	if err := s.store.RemoveUpload(ctx, uploadID); err != nil {
		slog.Warn("failed to remove upload directory", "upload_id", uploadID, "error", err)
	}
	if _, err := s.chunks.DeleteByFile(ctx, uploadID); err != nil {
		slog.Warn("failed to delete chunk records", "upload_id", uploadID, "error", err)
	}
	if err := s.tracker.Cleanup(ctx, uploadID); err != nil {
		slog.Warn("failed to clean up tracker state", "upload_id", uploadID, "error", err)
	}
}

func (s *Service) sniffChunk(ctx context.Context, uploadID string, body io.ReadSeeker) {
	if err := rewind(body); err != nil {
		return
	}
	mt, err := mimetype.DetectReader(body)
	if err != nil {
		slog.Debug("content sniffing failed", "upload_id", uploadID, "error", err)
		return
	}
	if err := s.files.SetContentType(ctx, uploadID, mt.String()); err != nil {
		slog.Warn("failed to record content type", "upload_id", uploadID, "error", err)
	}
}

// rewindable returns data as a seekable reader of at most limit bytes.
// Multipart files are seekable already; anything else is buffered.
func rewindable(data io.Reader, limit int64) (io.ReadSeeker, int64, error) {
	if rs, ok := data.(io.ReadSeeker); ok {
		size, err := rs.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, storage.NewStorageError("Chunk", "", err)
		}
		if err := checkChunkSize(size, limit); err != nil {
			return nil, 0, err
		}
		if err := rewind(rs); err != nil {
			return nil, 0, storage.NewStorageError("Chunk", "", err)
		}
		return rs, size, nil
	}

	buf, err := io.ReadAll(io.LimitReader(data, limit+1))
	if err != nil {
		return nil, 0, storage.NewStorageError("Chunk", "", err)
	}
	if err := checkChunkSize(int64(len(buf)), limit); err != nil {
		return nil, 0, err
	}
	return bytes.NewReader(buf), int64(len(buf)), nil
}

func checkChunkSize(size, limit int64) error {
	switch {
	case size == 0:
		return fmt.Errorf("%w: chunk is empty", ErrInvalidInput)
	case size > limit:
		return fmt.Errorf("%w: chunk exceeds limit %d", ErrInvalidInput, limit)
	}
	return nil
}

func rewind(rs io.Seeker) error {
	_, err := rs.Seek(0, io.SeekStart)
	return err
}

func removeQuietly(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to remove file", "path", path, "error", err)
	}
}
