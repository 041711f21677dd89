package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
)

// ChunkRepository implements repository.ChunkRepository for SQLite.
type ChunkRepository struct {
	db *sql.DB
}

// NewChunkRepository creates a new SQLite chunk repository.
func NewChunkRepository(db *sql.DB) *ChunkRepository {
	return &ChunkRepository{db: db}
}

// Upsert inserts or replaces the record for (FileID, Index).
func (r *ChunkRepository) Upsert(ctx context.Context, chunk *models.ChunkRecord) error {
	if chunk == nil || chunk.FileID == "" || chunk.Index < 1 {
		return repository.ErrInvalidInput
	}

	ts := now().UTC()
	query := `
		INSERT INTO chunks (file_id, chunk_index, hash, size, path, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (file_id, chunk_index) DO UPDATE SET
			hash = excluded.hash,
			size = excluded.size,
			path = excluded.path,
			created_at = excluded.created_at
	`
	_, err := r.db.ExecContext(ctx, query,
		chunk.FileID, chunk.Index, chunk.Hash, chunk.Size, chunk.Path, formatTime(ts))
	if err != nil {
		return fmt.Errorf("failed to upsert chunk: %w", err)
	}

	chunk.CreatedAt = ts
	return nil
}

// ListByFile returns all chunks of a file ordered by index.
func (r *ChunkRepository) ListByFile(ctx context.Context, fileID string) ([]models.ChunkRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT file_id, chunk_index, hash, size, path, created_at
		FROM chunks WHERE file_id = ? ORDER BY chunk_index ASC`, fileID)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []models.ChunkRecord
	for rows.Next() {
		var c models.ChunkRecord
		var createdAt string
		if err := rows.Scan(&c.FileID, &c.Index, &c.Hash, &c.Size, &c.Path, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// DeleteByFile removes every chunk record of a file.
func (r *ChunkRepository) DeleteByFile(ctx context.Context, fileID string) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chunks WHERE file_id = ?`, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete chunks: %w", err)
	}
	return result.RowsAffected()
}
