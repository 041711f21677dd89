package repository

import (
	"context"

	"github.com/fjmerc/streamforge/internal/models"
)

// FileRepository defines the interface for file record operations.
// All methods accept a context for cancellation and timeout support.
type FileRepository interface {
	// Create inserts a new file record. CreatedAt and UpdatedAt are set by the repository.
	// Returns ErrDuplicateKey if a record with the same ID exists.
	Create(ctx context.Context, file *models.FileRecord) error

	// GetByID retrieves a file by its identifier.
	// Returns ErrNotFound if the file doesn't exist.
	GetByID(ctx context.Context, id string) (*models.FileRecord, error)

	// UpdateMetadata overwrites name, declared hash and size, content type,
	// mode, expected chunk count and chunk-set hash. Status and validity are untouched.
	// Returns ErrNotFound if the file doesn't exist.
	UpdateMetadata(ctx context.Context, file *models.FileRecord) error

	// SetContentType records the sniffed content type.
	SetContentType(ctx context.Context, id, contentType string) error

	// TransitionStatus moves the file to status to if its current status is one of from.
	// Returns false without error when the current status is not in from.
	// Returns ErrNotFound if the file doesn't exist.
	TransitionStatus(ctx context.Context, id string, from []models.UploadStatus, to models.UploadStatus) (bool, error)

	// Finalize moves a completing file to finalized and sets valid=true in one step.
	// Returns false if the file was not completing.
	Finalize(ctx context.Context, id string) (bool, error)

	// ListStale returns files matching the filter, oldest first.
	ListStale(ctx context.Context, filter StaleFilter) ([]models.FileRecord, error)

	// CountByStatus returns the number of files per status.
	CountByStatus(ctx context.Context) (map[string]int64, error)
}

// ChunkRepository persists per-chunk records.
type ChunkRepository interface {
	// Upsert inserts or replaces the record for (FileID, Index).
	Upsert(ctx context.Context, chunk *models.ChunkRecord) error

	// ListByFile returns all chunks of a file ordered by index.
	ListByFile(ctx context.Context, fileID string) ([]models.ChunkRecord, error)

	// DeleteByFile removes every chunk record of a file and returns how many were removed.
	DeleteByFile(ctx context.Context, fileID string) (int64, error)
}

// WatermarkRepository persists (user, file) -> code assignments.
type WatermarkRepository interface {
	// Get returns the assignment for (userID, fileID) or ErrNotFound.
	Get(ctx context.Context, userID int64, fileID string) (*models.WatermarkAssignment, error)

	// GetOrCreate inserts the assignment unless one exists for (userID, fileID) and
	// returns the stored assignment. created is true only for the caller whose insert won.
	// Returns ErrDuplicateKey if code is already assigned to a different pair.
	GetOrCreate(ctx context.Context, userID int64, fileID, code string) (assignment *models.WatermarkAssignment, created bool, err error)
}

// HealthRepository checks database connectivity.
type HealthRepository interface {
	Ping(ctx context.Context) error
}
