package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
)

// FileRepository implements repository.FileRepository for PostgreSQL.
type FileRepository struct {
	pool *Pool
}

// NewFileRepository creates a new PostgreSQL file repository.
func NewFileRepository(pool *Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

const fileColumns = `id, name, declared_hash, declared_size, content_hint, content_type,
	expected_chunks, chunk_set_hash, mode, status, valid, created_at, updated_at`

// Create inserts a new file record into the database.
func (r *FileRepository) Create(ctx context.Context, file *models.FileRecord) error {
	if file == nil || file.ID == "" {
		return repository.ErrInvalidInput
	}
	if file.Status == "" {
		file.Status = models.StatusInitialized
	}
	if file.Mode == "" {
		file.Mode = models.ModeChunked
	}

	query := `
		INSERT INTO files (id, name, declared_hash, declared_size, content_hint, content_type,
			expected_chunks, chunk_set_hash, mode, status, valid)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`
	err := r.pool.QueryRow(ctx, query,
		file.ID,
		file.Name,
		file.DeclaredHash,
		file.DeclaredSize,
		file.ContentHint,
		file.ContentType,
		file.ExpectedChunks,
		file.ChunkSetHash,
		string(file.Mode),
		string(file.Status),
		file.Valid,
	).Scan(&file.CreatedAt, &file.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

// GetByID retrieves a file by its identifier.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	file, err := scanFile(r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM files WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return file, nil
}

// UpdateMetadata overwrites the descriptive fields of a file record.
func (r *FileRepository) UpdateMetadata(ctx context.Context, file *models.FileRecord) error {
	if file == nil || file.ID == "" {
		return repository.ErrInvalidInput
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE files SET
			name = $1, declared_hash = $2, declared_size = $3, content_type = $4,
			mode = $5, expected_chunks = $6, chunk_set_hash = $7, updated_at = NOW()
		WHERE id = $8`,
		file.Name,
		file.DeclaredHash,
		file.DeclaredSize,
		file.ContentType,
		string(file.Mode),
		file.ExpectedChunks,
		file.ChunkSetHash,
		file.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update file: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// SetContentType records the sniffed content type.
func (r *FileRepository) SetContentType(ctx context.Context, id, contentType string) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE files SET content_type = $1, updated_at = NOW() WHERE id = $2`, contentType, id)
	if err != nil {
		return fmt.Errorf("failed to set content type: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// TransitionStatus performs a compare-and-swap on the status column in a single statement.
func (r *FileRepository) TransitionStatus(ctx context.Context, id string, from []models.UploadStatus, to models.UploadStatus) (bool, error) {
	return withRetry(ctx, maxRetries, func() (bool, error) {
		tag, err := r.pool.Exec(ctx,
			`UPDATE files SET status = $1, updated_at = NOW() WHERE id = $2 AND status = ANY($3)`,
			string(to), id, statusStrings(from))
		if err != nil {
			return false, fmt.Errorf("failed to update status: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return true, nil
		}
		return false, r.exists(ctx, id)
	})
}

// Finalize marks a completing file finalized and valid.
func (r *FileRepository) Finalize(ctx context.Context, id string) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE files SET status = $1, valid = TRUE, updated_at = NOW() WHERE id = $2 AND status = $3`,
		string(models.StatusFinalized), id, string(models.StatusCompleting))
	if err != nil {
		return false, fmt.Errorf("failed to finalize file: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	return false, r.exists(ctx, id)
}

// ListStale returns files in one of filter.Statuses not updated since filter.UpdatedBefore.
func (r *FileRepository) ListStale(ctx context.Context, filter repository.StaleFilter) ([]models.FileRecord, error) {
	if len(filter.Statuses) == 0 {
		return nil, nil
	}

	query := `SELECT ` + fileColumns + ` FROM files
		WHERE status = ANY($1) AND updated_at < $2
		ORDER BY updated_at ASC`
	args := []interface{}{statusStrings(filter.Statuses), filter.UpdatedBefore}
	if filter.Limit > 0 {
		query += ` LIMIT $3`
		args = append(args, filter.Limit)
	}

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale files: %w", err)
	}
	defer rows.Close()

	var files []models.FileRecord
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan file: %w", err)
		}
		files = append(files, *file)
	}
	return files, rows.Err()
}

// CountByStatus returns the number of files per status.
func (r *FileRepository) CountByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM files GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to count files: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// exists returns ErrNotFound when no file has the given id.
func (r *FileRepository) exists(ctx context.Context, id string) error {
	var one int
	err := r.pool.QueryRow(ctx, `SELECT 1 FROM files WHERE id = $1`, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to check file: %w", err)
	}
	return nil
}

func scanFile(row pgx.Row) (*models.FileRecord, error) {
	var (
		file                 models.FileRecord
		mode, status         string
		createdAt, updatedAt time.Time
	)
	err := row.Scan(
		&file.ID,
		&file.Name,
		&file.DeclaredHash,
		&file.DeclaredSize,
		&file.ContentHint,
		&file.ContentType,
		&file.ExpectedChunks,
		&file.ChunkSetHash,
		&mode,
		&status,
		&file.Valid,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	file.Mode = models.UploadMode(mode)
	file.Status = models.UploadStatus(status)
	file.CreatedAt = createdAt
	file.UpdatedAt = updatedAt
	return &file, nil
}
