package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fjmerc/streamforge/internal/models"
	"github.com/fjmerc/streamforge/internal/repository"
)

// FileRepository implements repository.FileRepository for SQLite.
type FileRepository struct {
	db *sql.DB
}

// NewFileRepository creates a new SQLite file repository.
func NewFileRepository(db *sql.DB) *FileRepository {
	return &FileRepository{db: db}
}

const fileColumns = `id, name, declared_hash, declared_size, content_hint, content_type,
	expected_chunks, chunk_set_hash, mode, status, valid, created_at, updated_at`

// Create inserts a new file record into the database.
func (r *FileRepository) Create(ctx context.Context, file *models.FileRecord) error {
	if file == nil || file.ID == "" {
		return repository.ErrInvalidInput
	}

	ts := now().UTC()
	if file.Status == "" {
		file.Status = models.StatusInitialized
	}
	if file.Mode == "" {
		file.Mode = models.ModeChunked
	}

	query := `
		INSERT INTO files (` + fileColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
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
		boolToInt(file.Valid),
		formatTime(ts),
		formatTime(ts),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return repository.ErrDuplicateKey
		}
		return fmt.Errorf("failed to insert file: %w", err)
	}

	file.CreatedAt = ts
	file.UpdatedAt = ts
	return nil
}

// GetByID retrieves a file by its identifier.
func (r *FileRepository) GetByID(ctx context.Context, id string) (*models.FileRecord, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+fileColumns+` FROM files WHERE id = ?`, id)

	file, err := scanFile(row)
	if errors.Is(err, sql.ErrNoRows) {
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

	query := `
		UPDATE files SET
			name = ?, declared_hash = ?, declared_size = ?, content_type = ?,
			mode = ?, expected_chunks = ?, chunk_set_hash = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := r.db.ExecContext(ctx, query,
		file.Name,
		file.DeclaredHash,
		file.DeclaredSize,
		file.ContentType,
		string(file.Mode),
		file.ExpectedChunks,
		file.ChunkSetHash,
		formatTime(now()),
		file.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update file: %w", err)
	}
	return requireRow(result)
}

// SetContentType records the sniffed content type.
func (r *FileRepository) SetContentType(ctx context.Context, id, contentType string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE files SET content_type = ?, updated_at = ? WHERE id = ?`,
		contentType, formatTime(now()), id)
	if err != nil {
		return fmt.Errorf("failed to set content type: %w", err)
	}
	return requireRow(result)
}

// TransitionStatus performs a compare-and-swap on the status column.
func (r *FileRepository) TransitionStatus(ctx context.Context, id string, from []models.UploadStatus, to models.UploadStatus) (bool, error) {
	tx, err := beginImmediateTx(ctx, r.db)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM files WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, repository.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to read status: %w", err)
	}

	if !repository.StatusAllowed(from, models.UploadStatus(current)) {
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE files SET status = ?, updated_at = ? WHERE id = ?`,
		string(to), formatTime(now()), id); err != nil {
		return false, fmt.Errorf("failed to update status: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit status transition: %w", err)
	}
	return true, nil
}

// Finalize marks a completing file finalized and valid.
func (r *FileRepository) Finalize(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE files SET status = ?, valid = 1, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.StatusFinalized), formatTime(now()), id, string(models.StatusCompleting))
	if err != nil {
		return false, fmt.Errorf("failed to finalize file: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 1 {
		return true, nil
	}

	// Distinguish "wrong state" from "no such file"
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ListStale returns files in one of filter.Statuses not updated since filter.UpdatedBefore.
func (r *FileRepository) ListStale(ctx context.Context, filter repository.StaleFilter) ([]models.FileRecord, error) {
	if len(filter.Statuses) == 0 {
		return nil, nil
	}

	in, args := statusArgs(filter.Statuses)
	query := `SELECT ` + fileColumns + ` FROM files
		WHERE status IN (` + in + `) AND updated_at < ?
		ORDER BY updated_at ASC`
	args = append(args, formatTime(filter.UpdatedBefore))
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
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
	rows, err := r.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM files GROUP BY status`)
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

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row rowScanner) (*models.FileRecord, error) {
	var (
		file               models.FileRecord
		mode, status       string
		valid              int
		createdAt, updated string
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
		&valid,
		&createdAt,
		&updated,
	)
	if err != nil {
		return nil, err
	}

	file.Mode = models.UploadMode(mode)
	file.Status = models.UploadStatus(status)
	file.Valid = valid != 0
	file.CreatedAt = parseTime(createdAt)
	file.UpdatedAt = parseTime(updated)
	return &file, nil
}

func requireRow(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}
