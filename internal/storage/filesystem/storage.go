// Package filesystem implements the ChunkStore interface for local filesystem storage.
package filesystem

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/fjmerc/streamforge/internal/storage"
)

const (
	// ChunkExt is the extension every stored chunk carries.
	ChunkExt = "mp4"

	// tempPrefix marks in-progress writes; readers never see these names.
	tempPrefix = ".tmp-"
)

// ChunkStore implements storage.ChunkStore on the local filesystem.
type ChunkStore struct {
	baseDir    string // Base directory for all storage operations
	absBaseDir string // Absolute path of baseDir for path validation
}

// Ensure ChunkStore implements storage.ChunkStore
var _ storage.ChunkStore = (*ChunkStore)(nil)

// NewChunkStore creates a new ChunkStore rooted at baseDir.
func NewChunkStore(baseDir string) (*ChunkStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, storage.NewStorageError("NewChunkStore", baseDir, err)
	}

	absBaseDir, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, storage.NewStorageError("NewChunkStore", baseDir, err)
	}

	return &ChunkStore{
		baseDir:    baseDir,
		absBaseDir: absBaseDir,
	}, nil
}

// BaseDir returns the absolute root directory.
func (cs *ChunkStore) BaseDir() string {
	return cs.absBaseDir
}

// ValidateUploadID rejects upload IDs that could escape the base directory.
func ValidateUploadID(uploadID string) error {
	if uploadID == "" {
		return fmt.Errorf("upload ID cannot be empty")
	}
	if strings.Contains(uploadID, "..") || strings.ContainsAny(uploadID, `/\`) || strings.HasPrefix(uploadID, ".") {
		return fmt.Errorf("invalid upload ID: %s", uploadID)
	}
	return nil
}

// validatePath ensures an absolute path resolves inside the base directory.
func (cs *ChunkStore) validatePath(path string) (string, error) {
	absPath, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}
	if !strings.HasPrefix(absPath, cs.absBaseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path escape attempt: %s", path)
	}
	return absPath, nil
}

// UploadDir returns the directory holding everything for uploadID.
func (cs *ChunkStore) UploadDir(uploadID string) string {
	return filepath.Join(cs.absBaseDir, uploadID)
}

// ChunkPath returns the deterministic path of chunk index for uploadID.
func (cs *ChunkStore) ChunkPath(uploadID string, index int) string {
	return filepath.Join(cs.absBaseDir, uploadID, strconv.Itoa(index)+"."+ChunkExt)
}

// Upload writes a chunk using the temp-file-then-rename pattern, so a crashed
// write never leaves a short file at the chunk path.
func (cs *ChunkStore) Upload(ctx context.Context, uploadID string, index int, data io.Reader) (string, error) {
	if err := ValidateUploadID(uploadID); err != nil {
		return "", storage.NewStorageErrorWithMessage("Upload", uploadID, err, "invalid upload ID")
	}
	if index < 0 {
		return "", storage.NewStorageErrorWithMessage("Upload", uploadID, nil,
			fmt.Sprintf("invalid chunk index %d", index))
	}

	dir := cs.UploadDir(uploadID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", storage.NewStorageError("Upload", dir, err)
	}

	chunkPath := cs.ChunkPath(uploadID, index)
	tempPath := filepath.Join(dir, tempPrefix+uuid.NewString())

	tempFile, err := os.Create(tempPath)
	if err != nil {
		return "", storage.NewStorageError("Upload", tempPath, err)
	}

	var succeeded bool
	defer func() {
		tempFile.Close()
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	written, err := io.Copy(tempFile, &ctxReader{ctx: ctx, r: data})
	if err != nil {
		return "", storage.NewStorageError("Upload", chunkPath, err)
	}

	if err := tempFile.Close(); err != nil {
		return "", storage.NewStorageError("Upload", chunkPath, err)
	}

	if err := os.Rename(tempPath, chunkPath); err != nil {
		return "", storage.NewStorageError("Upload", chunkPath, err)
	}
	succeeded = true

	slog.Debug("chunk saved",
		"upload_id", uploadID,
		"chunk_index", index,
		"size", written,
	)

	return chunkPath, nil
}

// Load opens a stored file for reading.
func (cs *ChunkStore) Load(ctx context.Context, path string) (io.ReadCloser, error) {
	absPath, err := cs.validatePath(path)
	if err != nil {
		return nil, storage.NewStorageErrorWithMessage("Load", path, err, "path validation failed")
	}

	file, err := os.Open(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.NewStorageErrorWithMessage("Load", path, err, "file not found")
		}
		return nil, storage.NewStorageError("Load", path, err)
	}

	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, storage.NewStorageError("Load", path, err)
	}
	if info.IsDir() {
		file.Close()
		return nil, storage.NewStorageErrorWithMessage("Load", path, nil, "path is a directory")
	}

	return file, nil
}

// Remove deletes a single file inside the base directory.
func (cs *ChunkStore) Remove(ctx context.Context, path string) error {
	absPath, err := cs.validatePath(path)
	if err != nil {
		return storage.NewStorageErrorWithMessage("Remove", path, err, "path validation failed")
	}

	if err := os.Remove(absPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return storage.NewStorageError("Remove", path, err)
	}

	slog.Debug("file removed", "path", path)
	return nil
}

// RemoveUpload deletes the directory of an upload and everything under it.
func (cs *ChunkStore) RemoveUpload(ctx context.Context, uploadID string) error {
	if err := ValidateUploadID(uploadID); err != nil {
		return storage.NewStorageErrorWithMessage("RemoveUpload", uploadID, err, "invalid upload ID")
	}

	dir := cs.UploadDir(uploadID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}

	if err := os.RemoveAll(dir); err != nil {
		return storage.NewStorageError("RemoveUpload", uploadID, err)
	}

	slog.Debug("upload directory removed", "upload_id", uploadID)
	return nil
}

// ctxReader stops a copy once the request context is cancelled.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
