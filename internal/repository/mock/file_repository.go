// Package mock provides in-memory implementations of repository interfaces for testing.
// These mocks allow tests to run without a real database and provide
// configurable behavior for testing error conditions and edge cases.
//
// IMPORTANT: Error injection fields (e.g., CreateError) and hooks (e.g., OnTransition)
// should be set BEFORE any concurrent operations begin. They are not protected
// by the mutex.
package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
)

// FileRepository is an in-memory implementation of repository.FileRepository.
type FileRepository struct {
	mu    sync.RWMutex
	files map[string]*models.FileRecord

	// Error injection for testing error handling
	// NOTE: Set these BEFORE concurrent access begins
	CreateError           error
	GetByIDError          error
	UpdateMetadataError   error
	TransitionStatusError error
	FinalizeError         error
	ListStaleError        error
	CountByStatusError    error

	// OnTransition runs after a successful status change, outside the lock
	OnTransition func(id string, from, to models.UploadStatus)

	// Now supplies timestamps; defaults to time.Now
	Now func() time.Time
}

// NewFileRepository creates a new mock FileRepository with default behavior.
func NewFileRepository() *FileRepository {
	return &FileRepository{
		files: make(map[string]*models.FileRecord),
		Now:   time.Now,
	}
}

var _ repository.FileRepository = (*FileRepository)(nil)

// Reset clears all files and errors for a fresh test state.
func (r *FileRepository) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.files = make(map[string]*models.FileRecord)
	r.CreateError = nil
	r.GetByIDError = nil
	r.UpdateMetadataError = nil
	r.TransitionStatusError = nil
	r.FinalizeError = nil
	r.ListStaleError = nil
	r.CountByStatusError = nil
	r.OnTransition = nil
}

// AddFile stores a copy of file as-is, bypassing Create's defaults.
func (r *FileRepository) AddFile(file *models.FileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *file
	r.files[file.ID] = &cp
}

// Create inserts a copy of file.
func (r *FileRepository) Create(ctx context.Context, file *models.FileRecord) error {
	if r.CreateError != nil {
		return r.CreateError
	}
	if file == nil || file.ID == "" {
		return repository.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.files[file.ID]; exists {
		return repository.ErrDuplicateKey
	}

	ts := r.Now()
	if file.Status == "" {
		file.Status = models.StatusInitialized
	}
	if file.Mode == "" {
		file.Mode = models.ModeChunked
	}
	file.CreatedAt = ts
	file.UpdatedAt = ts

	cp := *file
	r.files[file.ID] = &cp
	return nil
}

// GetByID returns a copy of the stored file.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	if r.GetByIDError != nil {
		return nil, r.GetByIDError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	f, ok := r.files[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *f
	return &cp, nil
}

// UpdateMetadata overwrites the descriptive fields.
func (r *FileRepository) UpdateMetadata(ctx context.Context, file *models.FileRecord) error {
	if r.UpdateMetadataError != nil {
		return r.UpdateMetadataError
	}
	if file == nil || file.ID == "" {
		return repository.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[file.ID]
	if !ok {
		return repository.ErrNotFound
	}
	f.Name = file.Name
	f.DeclaredHash = file.DeclaredHash
	f.DeclaredSize = file.DeclaredSize
	f.ContentType = file.ContentType
	f.Mode = file.Mode
	f.ExpectedChunks = file.ExpectedChunks
	f.ChunkSetHash = file.ChunkSetHash
	f.UpdatedAt = r.Now()
	return nil
}

// SetContentType records the sniffed content type.
func (r *FileRepository) SetContentType(ctx context.Context, id, contentType string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return repository.ErrNotFound
	}
	f.ContentType = contentType
	f.UpdatedAt = r.Now()
	return nil
}

// TransitionStatus performs a compare-and-swap under the write lock.
func (r *FileRepository) TransitionStatus(ctx context.Context, id string, from []models.UploadStatus, to models.UploadStatus) (bool, error) {
	if r.TransitionStatusError != nil {
		return false, r.TransitionStatusError
	}

	r.mu.Lock()
	f, ok := r.files[id]
	if !ok {
		r.mu.Unlock()
		return false, repository.ErrNotFound
	}
	prev := f.Status
	if !repository.StatusAllowed(from, prev) {
		r.mu.Unlock()
		return false, nil
	}
	f.Status = to
	f.UpdatedAt = r.Now()
	r.mu.Unlock()

	if r.OnTransition != nil {
		r.OnTransition(id, prev, to)
	}
	return true, nil
}

// Finalize marks a completing file finalized and valid.
func (r *FileRepository) Finalize(ctx context.Context, id string) (bool, error) {
	if r.FinalizeError != nil {
		return false, r.FinalizeError
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.files[id]
	if !ok {
		return false, repository.ErrNotFound
	}
	if f.Status != models.StatusCompleting {
		return false, nil
	}
	f.Status = models.StatusFinalized
	f.Valid = true
	f.UpdatedAt = r.Now()
	return true, nil
}

// ListStale returns matching files, oldest first.
func (r *FileRepository) ListStale(ctx context.Context, filter repository.StaleFilter) ([]models.FileRecord, error) {
	if r.ListStaleError != nil {
		return nil, r.ListStaleError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.FileRecord
	for _, f := range r.files {
		if repository.StatusAllowed(filter.Statuses, f.Status) && f.UpdatedAt.Before(filter.UpdatedBefore) {
			out = append(out, *f)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.Before(out[j].UpdatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountByStatus returns the number of files per status.
func (r *FileRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	if r.CountByStatusError != nil {
		return nil, r.CountByStatusError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[string]int64)
	for _, f := range r.files {
		counts[string(f.Status)]++
	}
	return counts, nil
}

// SetUpdatedAt backdates a file; used to exercise sweeping and recovery.
func (r *FileRepository) SetUpdatedAt(id string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if f, ok := r.files[id]; ok {
		f.UpdatedAt = t
	}
}
