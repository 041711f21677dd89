package postgres

import (
	"context"
	"fmt"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
)

// ChunkRepository implements repository.ChunkRepository for PostgreSQL.
type ChunkRepository struct {
	pool *Pool
}

// NewChunkRepository creates a new PostgreSQL chunk repository.
func NewChunkRepository(pool *Pool) *ChunkRepository {
	return &ChunkRepository{pool: pool}
}

// Upsert inserts or replaces the record for (FileID, Index).
func (r *ChunkRepository) Upsert(ctx context.Context, chunk *models.ChunkRecord) error {
	if chunk == nil || chunk.FileID == "" || chunk.Index < 1 {
		return repository.ErrInvalidInput
	}

	err := r.pool.QueryRow(ctx, `
		INSERT INTO chunks (file_id, chunk_index, hash, size, path)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (file_id, chunk_index) DO UPDATE SET
			hash = EXCLUDED.hash,
			size = EXCLUDED.size,
			path = EXCLUDED.path,
			created_at = NOW()
		RETURNING created_at`,
		chunk.FileID, chunk.Index, chunk.Hash, chunk.Size, chunk.Path,
	).Scan(&chunk.CreatedAt)
	if isForeignKeyViolation(err) {
		return fmt.Errorf("file %s: %w", chunk.FileID, repository.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}
	return nil
}

// ListByFile returns all chunks of a file ordered by index.
func (r *ChunkRepository) ListByFile(ctx context.Context, fileID string) ([]models.ChunkRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT file_id, chunk_index, hash, size, path, created_at
		FROM chunks WHERE file_id = $1 ORDER BY chunk_index ASC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.ChunkRecord
	for rows.Next() {
		var c models.ChunkRecord
		if err := rows.Scan(&c.FileID, &c.Index, &c.Hash, &c.Size, &c.Path, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteByFile removes every chunk record of a file.
func (r *ChunkRepository) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM chunks WHERE file_id = $1`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return tag.RowsAffected(), nil
}
