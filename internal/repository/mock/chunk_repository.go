package mock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
)

type chunkKey struct {
	fileID string
	index  int
}

// ChunkRepository is an in-memory implementation of repository.ChunkRepository.
type ChunkRepository struct {
	mu     sync.RWMutex
	chunks map[chunkKey]models.ChunkRecord

	UpsertError     error
	ListByFileError error
}

// NewChunkRepository creates an empty mock ChunkRepository.
func NewChunkRepository() *ChunkRepository {
	return &ChunkRepository{chunks: make(map[chunkKey]models.ChunkRecord)}
}

var _ repository.ChunkRepository = (*ChunkRepository)(nil)

// Upsert inserts or replaces the record for (FileID, Index).
func (r *ChunkRepository) Upsert(ctx context.Context, chunk *models.ChunkRecord) error {
	if r.UpsertError != nil {
		return r.UpsertError
	}
	if chunk == nil || chunk.FileID == "" || chunk.Index < 1 {
		return repository.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	chunk.CreatedAt = time.Now()
	r.chunks[chunkKey{chunk.FileID, chunk.Index}] = *chunk
	return nil
}

// ListByFile returns all chunks of a file ordered by index.
func (r *ChunkRepository) ListByFile(ctx context.Context, fileID string) ([]models.ChunkRecord, error) {
	if r.ListByFileError != nil {
		return nil, r.ListByFileError
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []models.ChunkRecord
	for k, c := range r.chunks {
		if k.fileID == fileID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out, nil
}

// DeleteByFile removes every chunk record of a file.
func (r *ChunkRepository) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for k := range r.chunks {
		if k.fileID == fileID {
			delete(r.chunks, k)
			n++
		}
	}
	return n, nil
}
