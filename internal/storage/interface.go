// Package storage provides abstraction for chunk and artifact storage operations.
// The transcode pipeline needs real local paths, so the chunk store is always
// filesystem backed; object storage is only used to publish finished output.
package storage

import (
	"context"
	"errors"
	"io"
	"io/fs"
)

// ChunkStore persists upload chunks at deterministic paths.
// Layout: <root>/<uploadID>/<index>.<ext>
type ChunkStore interface {
	// Upload writes the bytes of chunk index for uploadID, replacing any previous
	// content at that path. Returns the absolute path written.
	Upload(ctx context.Context, uploadID string, index int, data io.Reader) (string, error)

	// Load opens an absolute path for streaming read.
	// The caller is responsible for closing the returned ReadCloser.
	Load(ctx context.Context, path string) (io.ReadCloser, error)

	// ChunkPath returns the absolute path chunk index of uploadID is stored at.
	ChunkPath(uploadID string, index int) string

	// UploadDir returns the absolute directory holding everything for uploadID.
	UploadDir(uploadID string) string

	// Remove deletes a single file. Missing files are not an error.
	Remove(ctx context.Context, path string) error

	// RemoveUpload deletes the whole upload directory.
	RemoveUpload(ctx context.Context, uploadID string) error
}

// Publisher copies finished HLS output to secondary storage.
type Publisher interface {
	// Publish uploads every file under localDir using uploadID as the key prefix.
	// Returns the number of objects written.
	Publish(ctx context.Context, uploadID, localDir string) (int, error)
}

// StorageError represents errors from storage operations with additional context.
type StorageError struct {
	Op      string // Operation that failed (e.g., "Upload", "Load", "Remove")
	Path    string // Path or upload ID involved
	Err     error  // Underlying error
	Message string // Human-readable message
}

func (e *StorageError) Error() string {
	if e.Message != "" {
		if e.Err != nil {
			return e.Op + " " + e.Path + ": " + e.Message + ": " + e.Err.Error()
		}
		return e.Op + " " + e.Path + ": " + e.Message
	}
	if e.Err == nil {
		return e.Op + " " + e.Path
	}
	if e.Path != "" {
		return e.Op + " " + e.Path + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// NewStorageError creates a new StorageError with the given details.
func NewStorageError(op, path string, err error) *StorageError {
	return &StorageError{
		Op:   op,
		Path: path,
		Err:  err,
	}
}

// NewStorageErrorWithMessage creates a new StorageError with a custom message.
func NewStorageErrorWithMessage(op, path string, err error, message string) *StorageError {
	return &StorageError{
		Op:      op,
		Path:    path,
		Err:     err,
		Message: message,
	}
}

// IsStorageError reports whether err is, or wraps, a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsNotFound reports whether err was caused by a missing file.
func IsNotFound(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
